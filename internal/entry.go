// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/odal/internal/api"
	"github.com/starford/odal/internal/collab"
	"github.com/starford/odal/internal/graphservice"
	"github.com/starford/odal/internal/linkindex"
	"github.com/starford/odal/internal/persist"
	"github.com/starford/odal/internal/plugin"
	"github.com/starford/odal/internal/query"
	"github.com/starford/odal/internal/sse"
	"github.com/starford/odal/internal/store"
	"github.com/starford/odal/internal/vault"
)

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Ensure vault directory exists.
	if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
		return fmt.Errorf("create vault dir: %w", err)
	}

	// Open SQLite persistence.
	db, err := persist.Open(cfg.SQLite.Path)
	if err != nil {
		return fmt.Errorf("init persistence: %w", err)
	}
	defer db.Close()

	// Restore the block store from the database, then rebuild the link index.
	st := store.New()
	if err := db.Load(st); err != nil {
		return fmt.Errorf("load graph: %w", err)
	}
	idx := linkindex.New(st)
	blocks, _ := st.Snapshot()
	for _, b := range blocks {
		if err := idx.Reindex(b.ID); err != nil {
			logger.Warn("reindex block", slog.String("block", b.ID.String()), slog.String("error", err.Error()))
		}
	}
	logger.Info("Graph restored", slog.Int("blocks", len(blocks)))

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	// Coordinator over store, index, persistence and events.
	svc := graphservice.NewService(st, idx, db, broker)

	// Vault reconciliation: import what changed on disk, export what only
	// exists in the database.
	fs, err := vault.NewFS(cfg.Vault.Path)
	if err != nil {
		return fmt.Errorf("init vault: %w", err)
	}
	v := vault.New(fs, svc, logger)
	if err := v.Sync(); err != nil {
		logger.Warn("initial vault sync failed", slog.String("error", err.Error()))
	}

	// Query and analytics engine.
	engine := query.NewEngine(st, idx)

	// Collaboration engine.
	pendingWait := cfg.Collab.PendingWait
	if pendingWait == 0 {
		pendingWait = 2 * time.Second
	}
	ce := collab.NewEngine(svc, pendingWait, logger)
	defer ce.Close()

	// Plugin sandbox; descriptors come from config.
	host := plugin.NewHost(svc, engine)
	for _, d := range cfg.Plugins {
		if err := host.Register(d); err != nil {
			return fmt.Errorf("register plugin %q: %w", d.ID, err)
		}
	}

	// Build API router.
	apiRouter := api.NewRouter(svc, engine, ce, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Start vault watcher with SSE callback.
	g.Go(func() error {
		return vault.Watch(gCtx, v, logger, func(kind, page string) {
			broker.PublishPageEvent("page."+kind, page)
		})
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}
