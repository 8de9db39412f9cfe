package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/credstore"
	"github.com/MrEthical07/authcore/httpapi"
	otelexport "github.com/MrEthical07/authcore/metrics/export/otel"
	"github.com/MrEthical07/authcore/store/memory"
	"github.com/MrEthical07/authcore/store/postgres"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP authentication service",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd, opts)
		},
	}
}

func runServe(ctx context.Context, cmd *cobra.Command, opts *rootOptions) error {
	cfg, err := authcore.LoadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := newLogger(cmd.ErrOrStderr(), opts, cfg.Security.Profile)
	if err != nil {
		return err
	}

	rdb, closeRedis, err := openRedis(cfg, logger)
	if err != nil {
		return err
	}
	defer closeRedis()

	users, closeUsers, err := openUserStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeUsers()

	builder := authcore.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(users).
		WithLogger(logger)

	creds, err := openCredentialStore(cfg, rdb)
	if err != nil {
		return err
	}
	if creds != nil {
		builder = builder.WithCredentialStore(creds)
	}

	engine, err := builder.Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	if cfg.Metrics.Enabled {
		provider := sdkmetric.NewMeterProvider()
		defer func() { _ = provider.Shutdown(context.Background()) }()
		exporter, err := otelexport.New(provider.Meter("github.com/MrEthical07/authcore"), engine)
		if err != nil {
			return fmt.Errorf("register otel instruments: %w", err)
		}
		defer func() { _ = exporter.Close() }()
	}

	handler := httpapi.NewHandler(engine, logger)
	go handler.Run(ctx)

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           httpapi.NewRouter(handler),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("authcore listening", "addr", cfg.Server.Addr, "profile", cfg.Security.Profile)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// openRedis connects to Server.RedisURL. The dev profile falls back to an in-process
// miniredis when no URL is set.
func openRedis(cfg authcore.Config, logger *slog.Logger) (redis.UniversalClient, func(), error) {
	if cfg.Server.RedisURL == "" {
		if cfg.Security.Profile != authcore.ProfileDev {
			return nil, nil, errors.New("redis url required (server.redis_url or AUTHCORE_REDIS_URL)")
		}
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("start embedded redis: %w", err)
		}
		logger.Warn("using embedded miniredis; sessions are lost on exit", "addr", mr.Addr())
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		return client, func() {
			_ = client.Close()
			mr.Close()
		}, nil
	}

	ropts, err := redis.ParseURL(cfg.Server.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(ropts)
	return client, func() { _ = client.Close() }, nil
}

func openUserStore(ctx context.Context, cfg authcore.Config, logger *slog.Logger) (authcore.UserStore, func(), error) {
	if cfg.Server.DatabaseURL == "" {
		logger.Warn("no database url; users are kept in memory")
		return memory.New(), func() {}, nil
	}
	store, err := postgres.NewStoreFromDSN(ctx, cfg.Server.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

// openCredentialStore returns nil when no key is configured.
func openCredentialStore(cfg authcore.Config, rdb redis.UniversalClient) (credstore.Store, error) {
	if cfg.Server.CredentialKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(cfg.Server.CredentialKey)
	if err != nil {
		return nil, fmt.Errorf("decode credential key: %w", err)
	}
	c, err := credstore.NewXChaChaCipher(key)
	if err != nil {
		return nil, err
	}
	return credstore.NewRedisStore(rdb, cfg.Session.RedisPrefix, c), nil
}
