package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"bookclub-collab/internal/app"
	"bookclub-collab/internal/ws"
	"bookclub-collab/pkg/auth"
	"bookclub-collab/pkg/metrics"
)

// Backend is the persistence the HTTP API needs
type Backend interface {
	Accounts
	HistoryStore
	Ping(ctx context.Context) error
}

// NewRouter wires up all HTTP routes, middleware, and handlers
func NewRouter(cfg app.Config, logger *slog.Logger, hub *ws.Hub, db Backend) http.Handler {
	j := auth.New(cfg.JWTSecret)
	mw := NewMiddleware(cfg, j)

	authAPI := &AuthAPI{DB: db, JWT: j, TTL: cfg.TokenTTL, Log: logger}
	history := &HistoryAPI{DB: db, Hub: hub, Limit: cfg.HistoryLimit, Log: logger}

	// Health / readiness / metrics sit outside the rate limiter so probes and
	// scrapers never eat into the API budget
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			logger.Warn("readyz", "err", err)
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", metrics.Handler())

	api := http.NewServeMux()

	// WebSocket endpoint; the token travels inside the join event
	api.HandleFunc("/ws", hub.ServeWS)

	// Auth endpoints
	api.HandleFunc("POST /api/auth/register", authAPI.Register)
	api.HandleFunc("POST /api/auth/login", authAPI.Login)
	api.Handle("GET /api/auth/me", mw.Auth(http.HandlerFunc(authAPI.Me)))

	// History endpoints (JWT-protected)
	api.Handle("GET /api/rooms/{id}/messages", mw.Auth(http.HandlerFunc(history.Room)))
	api.Handle("GET /api/dm/{userId}/messages", mw.Auth(http.HandlerFunc(history.Direct)))

	mux.Handle("/", mw.Wrap(api)) // CORS + rate limit for everything else
	return mux
}
