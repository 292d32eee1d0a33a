package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"log/slog"

	app "bookclub-collab/internal/app"
	httpx "bookclub-collab/internal/http"
	store "bookclub-collab/internal/store"
	ws "bookclub-collab/internal/ws"
	"bookclub-collab/pkg/auth"
)

// backend is what both the hub and the HTTP API read and write
type backend interface {
	ws.Store
	httpx.Backend
}

func main() {
	// Load local .env (dev only)
	_ = godotenv.Load()

	cfg := app.LoadConfig()
	logger := app.NewLogger(cfg.Env)
	logger.Info("config.loaded", cfg.LogAttrs()...)

	// Cancel on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, closeDB, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("store.open", "store", cfg.Store, "err", err)
		log.Fatal(err)
	}
	defer closeDB()

	// Redis bus for cross-instance fanout; single instance when unset
	var bus ws.Bus
	if cfg.RedisAddr != "" {
		rb, err := ws.NewRedisBus(ctx, cfg, logger)
		if err != nil {
			logger.Error("redis connect", "err", err)
			log.Fatal(err)
		}
		defer rb.Close()
		bus = rb
	}

	// WebSocket hub
	hub := ws.NewHub(logger, bus, db, auth.New(cfg.JWTSecret), ws.Options{
		HistoryLimit:   cfg.HistoryLimit,
		EventsPerSec:   cfg.WSEventsPerSec,
		EventBurst:     cfg.WSEventBurst,
		SendBuffer:     cfg.WSSendBuffer,
		OriginPatterns: ws.OriginPatterns(cfg.CORSAllow),
	})
	go hub.Run(ctx)

	// HTTP + WS router
	router := httpx.NewRouter(cfg, logger, hub, db)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server
	go func() {
		logger.Info("server.listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server.crash", "err", err)
			cancel()
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	logger.Info("server.shutdown.start")

	// shutdown
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	_ = srv.Shutdown(shutdownCtx)

	logger.Info("server.shutdown.complete")
	_ = os.Stdout.Sync()
}

// openStore returns the configured store and its close func. The memory
// store is seeded with a demo club every new account joins.
func openStore(ctx context.Context, cfg app.Config, logger *slog.Logger) (backend, func(), error) {
	if cfg.Store == "memory" {
		mem := store.NewMemory()
		club, err := mem.SeedDemo(ctx)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("store.memory", "demo_club", club.ID)
		return mem, func() {}, nil
	}

	// Postgres connection + migrations
	pg, err := store.NewPostgres(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := store.RunMigrations(ctx, pg, logger); err != nil {
		pg.Close()
		return nil, nil, err
	}
	return pg, pg.Close, nil
}
