package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"presto-notebook/internal/config"
	"presto-notebook/internal/domain"
	"presto-notebook/internal/engine"
	"presto-notebook/internal/presto"
	"presto-notebook/internal/service/interpreter"
)

const connectTimeout = 10 * time.Second

// newEngineFactory selects the engine by URL scheme. duckdb:// opens the
// embedded engine; anything else is a Presto coordinator that must answer a
// ping before the interpreter accepts it.
func newEngineFactory(ctx context.Context, cfg config.PrestoConfig, logger *slog.Logger) interpreter.EngineFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return func() (domain.QueryEngine, error) {
		connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()

		if cfg.LocalEngine() {
			db, err := engine.OpenDuckDB(connectCtx, cfg.LocalPath())
			if err != nil {
				return nil, err
			}
			logger.Info("using embedded duckdb engine", "path", cfg.LocalPath())
			return engine.NewLocalEngine(db, engine.DefaultBatchSize, logger), nil
		}

		client, err := presto.New(presto.Config{
			URL:      cfg.URL,
			Password: cfg.Password,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		if err := client.Ping(connectCtx); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connect to %s: %w", cfg.URL, err)
		}
		return client, nil
	}
}
