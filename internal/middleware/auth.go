package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"presto-notebook/internal/domain"
)

// Auth requires a valid bearer token and stores the caller's AuthInfo in the
// request context. The principals are the subject followed by its groups.
func Auth(v TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				writeUnauthorized(w)
				return
			}
			claims, err := v.Validate(r.Context(), strings.TrimPrefix(auth, "Bearer "))
			if err != nil {
				logger.Debug("reject token", "request_id", RequestIDFromContext(r.Context()), "error", err)
				writeUnauthorized(w)
				return
			}
			ctx := domain.WithAuthInfo(r.Context(), authInfo(claims))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func authInfo(c *Claims) domain.AuthInfo {
	principals := []string{c.Subject}
	seen := map[string]bool{c.Subject: true}
	for _, g := range c.Groups {
		if !seen[g] {
			seen[g] = true
			principals = append(principals, g)
		}
	}
	return domain.AuthInfo{User: c.Subject, Principals: principals}
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"code":    http.StatusUnauthorized,
		"message": "unauthorized: provide a valid JWT Bearer token",
	})
}
