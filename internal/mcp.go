package internal

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/starford/odal/internal/graphservice"
	"github.com/starford/odal/internal/linkindex"
	"github.com/starford/odal/internal/mcpserver"
	"github.com/starford/odal/internal/persist"
	"github.com/starford/odal/internal/plugin"
	"github.com/starford/odal/internal/query"
	"github.com/starford/odal/internal/store"
)

// RunMCP starts the MCP server on stdin/stdout over the configured database.
// Stdout carries the MCP transport, so logs go to stderr.
func RunMCP(opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	db, err := persist.Open(cfg.SQLite.Path)
	if err != nil {
		return fmt.Errorf("init persistence: %w", err)
	}
	defer db.Close()

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

	svc := graphservice.NewService(st, idx, db, nil)
	engine := query.NewEngine(st, idx)
	host := plugin.NewHost(svc, engine)

	srv, err := mcpserver.New(svc, host, engine)
	if err != nil {
		return err
	}

	logger.Info("MCP server starting on stdio")
	return srv.ServeStdio()
}
