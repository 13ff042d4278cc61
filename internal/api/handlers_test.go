package api

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_PerClient(t *testing.T) {
	rl := NewRateLimiter(1, 2)

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"))
}

func TestRateLimiter_Disabled(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	for i := 0; i < 100; i++ {
		require.True(t, rl.Allow("client"))
	}
}

func TestRateLimiter_SweepsIdleClients(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }

	rl.Allow("a")
	now = now.Add(2 * idleLimiterTTL)
	rl.Allow("b")

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.limiters, "a")
	assert.Contains(t, rl.limiters, "b")
}

func TestRateLimitMiddleware(t *testing.T) {
	cfg := testServerConfig()
	cfg.RequestsPerSecond = 1
	cfg.Burst = 1
	s := NewServer(cfg, &mockActivityService{}, nil)

	first := serve(s, http.MethodGet, "/api/stats", map[string]string{"X-Forwarded-For": "1.2.3.4"})
	assert.Equal(t, http.StatusOK, first.Code)

	second := serve(s, http.MethodGet, "/api/stats", map[string]string{"X-Forwarded-For": "1.2.3.4, 10.0.0.1"})
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "1", second.Header().Get("Retry-After"))

	health := serve(s, http.MethodGet, "/health", map[string]string{"X-Forwarded-For": "1.2.3.4"})
	assert.Equal(t, http.StatusOK, health.Code)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.5:5555"
	assert.Equal(t, "192.168.1.5", clientIP(req))

	req.Header.Set("X-Forwarded-For", " 8.8.8.8 , 1.1.1.1")
	assert.Equal(t, "8.8.8.8", clientIP(req))
}

func TestCORSMiddleware(t *testing.T) {
	cfg := testServerConfig()
	cfg.AllowedOrigins = []string{"https://app.example"}
	s := NewServer(cfg, &mockActivityService{}, nil)

	w := serve(s, http.MethodGet, "/api/stats", map[string]string{"Origin": "https://app.example"})
	assert.Equal(t, "https://app.example", w.Header().Get("Access-Control-Allow-Origin"))

	w = serve(s, http.MethodGet, "/api/stats", map[string]string{"Origin": "https://evil.example"})
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	open := createTestServer(&mockActivityService{}, nil)
	w = serve(open, http.MethodGet, "/api/stats", nil)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCompressionMiddleware(t *testing.T) {
	s := createTestServer(&mockActivityService{}, nil)
	w := serve(s, http.MethodGet, "/api/stats", map[string]string{"Accept-Encoding": "gzip"})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))

	gz, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	body, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"success":true`)
}

func TestRecoveryMiddleware(t *testing.T) {
	h := RecoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
}
