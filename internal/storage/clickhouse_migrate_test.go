package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingExecer struct {
	statements []string
}

func (r *recordingExecer) Exec(ctx context.Context, query string, args ...interface{}) error {
	r.statements = append(r.statements, query)
	return nil
}

func TestSplitSQLStatements(t *testing.T) {
	script := `
-- history table
CREATE TABLE a (
    x UInt64
) ENGINE = Memory;

-- trailing statement without semicolon
CREATE TABLE b (y UInt64) ENGINE = Memory
`
	stmts := splitSQLStatements(script)
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE a (\n    x UInt64\n) ENGINE = Memory", stmts[0])
	assert.Equal(t, "CREATE TABLE b (y UInt64) ENGINE = Memory", stmts[1])
}

func TestRunClickHouseMigrations(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "002_b.sql"), []byte("CREATE TABLE b (x UInt8) ENGINE = Memory;"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "001_a.sql"), []byte("CREATE TABLE a (x UInt8) ENGINE = Memory;"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o600))

	execer := &recordingExecer{}
	require.NoError(t, RunClickHouseMigrations(testContext(t), execer, dir))

	require.Len(t, execer.statements, 2)
	assert.Contains(t, execer.statements[0], "CREATE TABLE a")
	assert.Contains(t, execer.statements[1], "CREATE TABLE b")
}

func TestRunClickHouseMigrations_ShippedSchema(t *testing.T) {
	execer := &recordingExecer{}
	require.NoError(t, RunClickHouseMigrations(testContext(t), execer, "../../migrations/clickhouse"))

	require.NotEmpty(t, execer.statements)
	assert.Contains(t, execer.statements[0], "ReplacingMergeTree")
}
