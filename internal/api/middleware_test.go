package api

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func doRequest(h http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestTimingMiddleware(t *testing.T) {
	rec := doRequest(TimingMiddleware(okHandler()), "10.0.0.1:1234")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Process-Time"))
}

func TestRateLimitRejectsAfterBurst(t *testing.T) {
	window := 30 * time.Second
	h := RateLimitMiddleware(4, window)(okHandler()) // burst of 2

	rec := doRequest(h, "10.0.0.1:1234")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doRequest(h, "10.0.0.1:1234")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(h, "10.0.0.1:1234")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, strconv.Itoa(int(window.Seconds())), rec.Header().Get("Retry-After"),
		"Retry-After must reflect the configured window")

	// A different client has its own bucket.
	rec = doRequest(h, "10.0.0.2:1234")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIPLimiterPrunesIdleClients(t *testing.T) {
	l := newIPLimiter(10, time.Minute)
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	l.allow("10.0.0.1", t0)
	l.allow("10.0.0.2", t0)
	require.Len(t, l.clients, 2)

	// Both buckets have fully refilled by t0+TTL; a new client evicts them.
	l.allow("10.0.0.3", t0.Add(4*time.Minute))
	assert.Len(t, l.clients, 1)

	// Active clients survive the prune.
	l.allow("10.0.0.3", t0.Add(5*time.Minute))
	l.allow("10.0.0.4", t0.Add(5*time.Minute))
	assert.Len(t, l.clients, 2)
}

func TestClientIPFallback(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.9:4321"
	assert.Equal(t, "10.0.0.9", clientIP(req))

	req.RemoteAddr = "10.0.0.9"
	assert.Equal(t, "10.0.0.9", clientIP(req))
}
