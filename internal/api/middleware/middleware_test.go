package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var noContent = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func newLimiter(t *testing.T, cfg RateLimiterConfig) *RateLimiter {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRateLimiter(rdb, zerolog.Nop(), cfg)
}

func TestCheckAndIncrement(t *testing.T) {
	rl := newLimiter(t, RateLimiterConfig{Root: "cloudwalk"})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, remaining, _, err := rl.CheckAndIncrement(ctx, "k", 3, time.Hour)
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.Equal(t, 2-i, remaining)
	}
	allowed, remaining, _, err := rl.CheckAndIncrement(ctx, "k", 3, time.Hour)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Zero(t, remaining)
}

func TestRateLimitPerIP(t *testing.T) {
	rl := newLimiter(t, RateLimiterConfig{
		Root:   "cloudwalk",
		Limits: []RateLimit{{"GET /ws", 1, time.Hour}},
	})
	h := rl.Middleware(noContent)

	hit := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		req.RemoteAddr = ip + ":5000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, hit("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, hit("10.0.0.1"))
	assert.Equal(t, http.StatusNoContent, hit("10.0.0.2"))
}

func TestRateLimitWhitelist(t *testing.T) {
	rl := newLimiter(t, RateLimiterConfig{
		Root:      "cloudwalk",
		Whitelist: []string{"192.168.0.0/16", "10.0.0.9", "not-a-cidr/8"},
		Limits:    []RateLimit{{"POST /api/tasks", 1, time.Hour}},
	})

	assert.True(t, rl.isWhitelisted("192.168.3.4"))
	assert.True(t, rl.isWhitelisted("10.0.0.9"))
	assert.False(t, rl.isWhitelisted("10.0.0.10"))

	h := rl.Middleware(noContent)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/tasks", nil)
		req.Header.Set("X-Forwarded-For", "192.168.1.1, 10.0.0.1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	}
}

func TestRateLimitFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	rl := NewRateLimiter(rdb, zerolog.Nop(), RateLimiterConfig{Limits: []RateLimit{{"GET /ws", 1, time.Hour}}})
	mr.Close()

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		rl.Middleware(noContent).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	}
}

func TestRealIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "1.2.3.4:80"
	assert.Equal(t, "1.2.3.4", RealIP(req))

	req.Header.Set("X-Real-IP", "5.6.7.8")
	assert.Equal(t, "5.6.7.8", RealIP(req))

	req.Header.Set("X-Forwarded-For", " 9.9.9.9 , 5.6.7.8")
	assert.Equal(t, "9.9.9.9", RealIP(req))
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(noContent).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tasks", nil))

	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Contains(t, rec.Header().Get("Content-Security-Policy"), "default-src 'none'")
}

func TestMaxBodySize(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/tasks", strings.NewReader(strings.Repeat("x", 20)))
	MaxBodySize(10)(noContent).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestValidateRequest(t *testing.T) {
	cases := []struct {
		name   string
		method string
		target string
		ct     string
		body   string
		want   int
	}{
		{"json post", http.MethodPost, "/api/tasks", "application/json", "{}", http.StatusNoContent},
		{"empty post", http.MethodPost, "/api/tasks", "", "", http.StatusNoContent},
		{"form post", http.MethodPost, "/api/tasks", "text/plain", "x", http.StatusUnsupportedMediaType},
		{"traversal", http.MethodGet, "/api/../etc/passwd", "", "", http.StatusBadRequest},
		{"script query", http.MethodGet, "/api/tasks?q=javascript:alert(1)", "", "", http.StatusBadRequest},
		{"plain get", http.MethodGet, "/api/tasks", "", "", http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.target, strings.NewReader(tc.body))
			if tc.ct != "" {
				req.Header.Set("Content-Type", tc.ct)
			}
			rec := httptest.NewRecorder()
			ValidateRequest(noContent).ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}
