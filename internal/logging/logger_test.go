package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_JSONEntry(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LevelInfo, FormatJSON)
	logger.SetOutput(&buf)

	logger.WithComponent("poller").WithField("records", 3).WithError(errors.New("boom")).Warn("ingest failed")

	var entry LogEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry.Level)
	assert.Equal(t, "ingest failed", entry.Message)
	assert.Equal(t, "poller", entry.Fields["component"])
	assert.Equal(t, float64(3), entry.Fields["records"])
	assert.Equal(t, "boom", entry.Fields["error"])
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LevelWarn, FormatText)
	logger.SetOutput(&buf)

	logger.Debug("hidden")
	logger.Info("hidden")
	logger.Error("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "ERROR shown")
	assert.Contains(t, out, "caller=")
}

func TestLogger_ChildrenDoNotShareFields(t *testing.T) {
	var buf bytes.Buffer
	parent := NewLogger(LevelInfo, FormatText)
	parent.SetOutput(&buf)

	_ = parent.WithField("a", 1)
	parent.Info("parent")

	assert.NotContains(t, buf.String(), "a=1")
	assert.Same(t, parent, parent.WithError(nil))
}

func TestLogger_ConcurrentWritesProduceWholeLines(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LevelInfo, FormatJSON)
	logger.SetOutput(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			logger.WithField("n", n).Info("tick")
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 50)
	for _, line := range lines {
		var entry LogEntry
		assert.NoError(t, json.Unmarshal([]byte(line), &entry))
	}
}

func TestFromContext(t *testing.T) {
	logger := NewLogger(LevelDebug, FormatText)
	ctx := WithLogger(context.Background(), logger)
	assert.Same(t, logger, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}

func TestParse(t *testing.T) {
	assert.Equal(t, LevelWarn, ParseLogLevel("WARNING"))
	assert.Equal(t, LevelInfo, ParseLogLevel("verbose"))
	assert.Equal(t, FormatText, ParseLogFormat("Text"))
	assert.Equal(t, FormatJSON, ParseLogFormat("yaml"))
}
