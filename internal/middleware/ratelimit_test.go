package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"presto-notebook/internal/domain"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
}

func TestRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	t.Run("burst then reject", func(t *testing.T) {
		h := RateLimiter(ctx, RateLimitConfig{RequestsPerSecond: 0.001, Burst: 2})(okHandler())
		codes := make([]int, 3)
		for i := range codes {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = "10.0.0.1:1234"
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			codes[i] = rec.Code
			if rec.Code == http.StatusTooManyRequests {
				assert.NotEmpty(t, rec.Header().Get("Retry-After"))
			}
		}
		assert.Equal(t, []int{200, 200, 429}, codes)
	})

	t.Run("separate buckets per ip", func(t *testing.T) {
		h := RateLimiter(ctx, RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1})(okHandler())
		for _, addr := range []string{"10.0.0.1:1", "10.0.0.2:1"} {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = addr
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusOK, rec.Code, addr)
		}
	})

	t.Run("authenticated users keyed by user", func(t *testing.T) {
		h := RateLimiter(ctx, RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1})(okHandler())
		send := func(user string) int {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = "10.0.0.9:1"
			req = req.WithContext(domain.WithAuthInfo(req.Context(), domain.AuthInfo{User: user, Principals: []string{user}}))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			return rec.Code
		}
		assert.Equal(t, http.StatusOK, send("alice"))
		assert.Equal(t, http.StatusOK, send("bob"))
		assert.Equal(t, http.StatusTooManyRequests, send("alice"))
	})
}
