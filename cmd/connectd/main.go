// Command connectd runs the OAuth authorization server as a standalone HTTP
// service. It expects to sit behind an authenticating gateway that injects
// the end-user identity on first-party routes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/middayhq/connect-oauth/httpapi"
	"github.com/middayhq/connect-oauth/instrumentation"
	"github.com/middayhq/connect-oauth/security"
	"github.com/middayhq/connect-oauth/server"
	"github.com/middayhq/connect-oauth/storage"
	"github.com/middayhq/connect-oauth/storage/memory"
	"github.com/middayhq/connect-oauth/storage/postgres"
	"github.com/middayhq/connect-oauth/storage/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "connectd:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	// Local development convenience; missing .env is not an error.
	_ = godotenv.Load()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	instr, err := instrumentation.New(instrumentation.Config{
		ServiceName: "connectd",
		Enabled:     true,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize instrumentation: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := instr.Shutdown(shutdownCtx); err != nil {
			logger.Warn("instrumentation shutdown failed", "error", err)
		}
	}()

	stores, cleanup, err := buildStores(ctx, cfg, logger, instr)
	if err != nil {
		return err
	}
	defer cleanup()

	auditor := security.NewAuditor(logger, cfg.Audit.Enabled)

	srv, err := server.New(server.Config{
		FlowStore:            stores.flows,
		TokenStore:           stores.tokens,
		ApplicationStore:     stores.apps,
		UserStore:            stores.users,
		AuthorizationCodeTTL: cfg.OAuth.AuthorizationCodeTTL,
		AccessTokenTTL:       cfg.OAuth.AccessTokenTTL,
		RefreshTokenTTL:      cfg.OAuth.RefreshTokenTTL,
		Auditor:              auditor,
		Logger:               logger,
		Instrumentation:      instr,
	})
	if err != nil {
		return err
	}

	limiter := security.NewRateLimiter(cfg.RateLimit.RequestsPerMinute, time.Minute, cfg.RateLimit.Burst, logger)
	defer limiter.Stop()

	handler, err := httpapi.New(httpapi.Config{
		Server: srv,
		Sessions: &gatewaySessions{
			userHeader: cfg.Session.UserHeader,
			teamHeader: cfg.Session.TeamHeader,
		},
		RateLimiter:       limiter,
		TrustProxyHeaders: cfg.HTTP.TrustProxyHeaders,
		TrustedProxyCount: cfg.HTTP.TrustedProxyCount,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	if stores.cleanupFn != nil {
		go runCleanupLoop(ctx, cfg, logger, stores.cleanupFn)
	}

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Listen, "backend", cfg.Storage.Backend)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch cfg.Log.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Log.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

type storeSet struct {
	flows     storage.FlowStore
	tokens    storage.TokenStore
	apps      storage.ApplicationStore
	users     storage.UserStore
	cleanupFn func(ctx context.Context, now time.Time, retention time.Duration) (int64, error)
}

func buildStores(ctx context.Context, cfg *Config, logger *slog.Logger, instr *instrumentation.Instrumentation) (*storeSet, func(), error) {
	switch cfg.Storage.Backend {
	case "postgres":
		store, err := postgres.New(ctx, cfg.Storage.Postgres.DSN)
		if err != nil {
			return nil, nil, err
		}
		store.SetLogger(logger)
		store.SetInstrumentation(instr)
		return &storeSet{
			flows: store, tokens: store, apps: store, users: store,
			cleanupFn: store.CleanupExpired,
		}, store.Close, nil

	case "redis":
		store, err := redis.New(redis.Config{
			Address:   cfg.Storage.Redis.Address,
			Password:  cfg.Storage.Redis.Password,
			DB:        cfg.Storage.Redis.DB,
			KeyPrefix: cfg.Storage.Redis.KeyPrefix,
			Logger:    logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return &storeSet{
			flows: store, tokens: store, apps: store, users: store,
		}, func() { _ = store.Close() }, nil

	default:
		store := memory.New()
		store.SetLogger(logger)
		store.SetInstrumentation(instr)
		return &storeSet{
			flows: store, tokens: store, apps: store, users: store,
		}, store.Stop, nil
	}
}

func runCleanupLoop(ctx context.Context, cfg *Config, logger *slog.Logger, cleanup func(context.Context, time.Time, time.Duration) (int64, error)) {
	ticker := time.NewTicker(cfg.Cleanup.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := cleanup(ctx, time.Now().UTC(), cfg.Cleanup.UsedCodeRetention)
			if err != nil {
				logger.Warn("cleanup failed", "error", err)
				continue
			}
			if removed > 0 {
				logger.Info("cleanup removed expired rows", "count", removed)
			}
		}
	}
}

// gatewaySessions trusts identity headers injected by the authenticating
// gateway in front of connectd.
type gatewaySessions struct {
	userHeader string
	teamHeader string
}

func (g *gatewaySessions) VerifySession(r *http.Request) (*httpapi.Session, error) {
	userID := r.Header.Get(g.userHeader)
	if userID == "" {
		return nil, fmt.Errorf("missing session")
	}
	return &httpapi.Session{
		UserID: userID,
		TeamID: r.Header.Get(g.teamHeader),
	}, nil
}
