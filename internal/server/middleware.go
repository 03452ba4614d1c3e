package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vantagesec/vantage/internal/auth"
	"github.com/vantagesec/vantage/internal/observability"
)

// requestIDHeader carries the id back to the client for support tickets.
const requestIDHeader = "X-Request-ID"

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := context.WithValue(r.Context(), observability.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Info(r.Context(), "request",
				"method", r.Method,
				"path", r.URL.Path,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

// authMiddleware resolves the requesting user from a bearer JWT or an API
// key and rejects anything else. Disabled auth passes an anonymous free-tier
// user through, which keeps local development friction-free.
func authMiddleware(service *auth.Service, logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !service.Enabled() {
				ctx := auth.WithUser(r.Context(), anonymousUser())
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			header := r.Header.Get("Authorization")
			if strings.HasPrefix(strings.ToLower(header), "bearer ") {
				token := strings.TrimSpace(header[7:])
				user, err := service.ValidateJWT(token)
				if err == nil {
					next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), user)))
					return
				}
				logger.Warn(r.Context(), "jwt validation failed", "error", err)
			}

			if key := r.Header.Get("X-API-Key"); key != "" {
				user, err := service.ValidateAPIKey(key)
				if err == nil {
					next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), user)))
					return
				}
				logger.Warn(r.Context(), "api key validation failed", "error", err)
			}

			writeError(w, http.StatusUnauthorized, "unauthorized", "valid credentials required")
		})
	}
}
