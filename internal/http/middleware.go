package httpx

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/cors"

	"bookclub-collab/internal/app"
	"bookclub-collab/pkg/auth"
	"bookclub-collab/pkg/ratelimit"
)

type Middleware struct {
	cors   *cors.Cors
	auth   *auth.JWT
	rlimit *ratelimit.Limiter
}

// NewMiddleware builds the shared middleware stack from config
func NewMiddleware(cfg app.Config, j *auth.JWT) *Middleware {
	m := &Middleware{
		cors: cors.New(cors.Options{
			AllowedOrigins:   cfg.CORSAllow,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
		}),
		auth: j,
	}
	if cfg.HTTPRatePerMin > 0 {
		m.rlimit = ratelimit.New(cfg.HTTPRatePerMin, time.Minute)
	}
	return m
}

// Wrap applies CORS + rate limiting to a handler
func (m *Middleware) Wrap(h http.Handler) http.Handler {
	if m.rlimit != nil {
		h = m.rlimit.Middleware(h)
	}
	return m.cors.Handler(h)
}

// Auth enforces JWT auth and adds user ID to the request context
func (m *Middleware) Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b := r.Header.Get("Authorization")
		if !strings.HasPrefix(b, "Bearer ") {
			http.Error(w, "no token", http.StatusUnauthorized)
			return
		}
		claims, err := m.auth.Verify(strings.TrimPrefix(b, "Bearer "))
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), claims.UserID)))
	})
}
