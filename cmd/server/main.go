// Package main is the entry point for the notebook interpreter host. It serves
// the paragraph API over HTTP and executes statements against Presto or an
// embedded DuckDB database.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"presto-notebook/internal/acl"
	"presto-notebook/internal/api"
	"presto-notebook/internal/config"
	internaldb "presto-notebook/internal/db"
	"presto-notebook/internal/db/repository"
	"presto-notebook/internal/domain"
	"presto-notebook/internal/middleware"
	"presto-notebook/internal/service/interpreter"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadDotEnv(".env"); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	writeDB, readDB, err := internaldb.OpenSQLitePair(cfg.RunHistoryDBPath, 0)
	if err != nil {
		return fmt.Errorf("open run history: %w", err)
	}
	defer writeDB.Close() //nolint:errcheck
	defer readDB.Close()  //nolint:errcheck
	if err := internaldb.RunMigrations(writeDB); err != nil {
		return fmt.Errorf("migrate run history: %w", err)
	}
	runs := repository.NewRunRepo(writeDB, readDB)

	var evaluator domain.ACLEvaluator
	if cfg.Presto.ACLEnabled {
		ev, err := acl.Load(cfg.Presto.ACLPolicyFile, logger)
		if err != nil {
			return fmt.Errorf("load acl policy: %w", err)
		}
		evaluator = ev
	}

	interp := interpreter.New(cfg.InterpreterOptions(), newEngineFactory(ctx, cfg.Presto, logger), evaluator, runs, logger)
	if err := interp.Open(); err != nil {
		return fmt.Errorf("open interpreter: %w", err)
	}
	defer func() {
		if err := interp.Close(); err != nil {
			logger.Error("close interpreter", "error", err)
		}
	}()

	validator, err := middleware.NewHS256Validator(cfg.JWTSecret)
	if err != nil {
		return fmt.Errorf("token validator: %w", err)
	}

	router := api.NewRouter(ctx, api.NewHandler(interp, runs, logger), api.RouterConfig{
		Validator:      validator,
		RateLimit:      middleware.RateLimitConfig{RequestsPerSecond: cfg.RateLimitRPS, Burst: cfg.RateLimitBurst},
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP API listening", "addr", cfg.ListenAddr, "tls", cfg.TLSCertFile != "")
		logger.Info("try: curl -H 'Authorization: Bearer <jwt>' http://" + curlHostForListenAddr(cfg.ListenAddr) + "/health")
		var err error
		if cfg.TLSCertFile != "" {
			err = srv.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// curlHostForListenAddr returns a host:port suitable for a local curl hint.
func curlHostForListenAddr(listenAddr string) string {
	addr := strings.TrimSpace(listenAddr)
	if addr == "" {
		return "localhost:8080"
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}
