// Command communicity serves the CommuniCity portal.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/communicity/portal/internal/account"
	"github.com/communicity/portal/internal/auth"
	"github.com/communicity/portal/internal/config"
	"github.com/communicity/portal/internal/hierarchy"
	"github.com/communicity/portal/internal/httpapi"
	"github.com/communicity/portal/internal/logging"
	"github.com/communicity/portal/internal/metrics"
	"github.com/communicity/portal/internal/records"
	"github.com/communicity/portal/internal/session"
	"github.com/communicity/portal/supabase/client"
)

const (
	serviceName     = "communicity"
	shutdownTimeout = 5 * time.Second
	sweepInterval   = time.Minute
	maxIdle         = 30 * time.Minute
)

// recordBackend is the record store together with its balance lookup.
type recordBackend interface {
	records.Store
	records.BalanceStore
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(serviceName, cfg.LogLevel, cfg.LogFormat)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("Server exited")
	}
}

func run(cfg *config.Config, logger *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New(serviceName)

	breaker := client.DefaultBreaker()
	breaker.OnChange = func(from, to client.BreakerState) {
		logger.WithFields(map[string]interface{}{"from": from.String(), "to": to.String()}).Warn("Supabase circuit changed")
	}
	sb, transport, err := client.NewWithTransport(
		client.Config{URL: cfg.SupabaseURL, APIKey: cfg.SupabaseAnonKey},
		client.DefaultBackoff(),
		breaker,
	)
	if err != nil {
		return fmt.Errorf("supabase client: %w", err)
	}

	store, closeStore, err := openRecordStore(ctx, cfg, sb)
	if err != nil {
		return err
	}
	defer closeStore()

	tokens, closeTokens, err := openTokenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeTokens()

	var feed records.ChangeFeed
	if cfg.RealtimeEnabled {
		rt := records.NewRealtimeFeed(client.NewRealtimeClient(cfg.SupabaseURL, cfg.SupabaseAnonKey))
		defer func() { _ = rt.Close() }()
		feed = rt
	}

	provider := auth.NewSupabaseProvider(sb, cfg.SupabaseJWTSecret)
	manager := session.NewManager(provider, tokens, logger, m)

	srv := httpapi.New(httpapi.Options{
		ServiceName:    serviceName,
		Manager:        manager,
		Loader:         hierarchy.NewLoader(store, cfg.FetchTimeout, logger, m),
		Accounts:       account.NewService(store, cfg.FetchTimeout, logger),
		Feed:           feed,
		Logger:         logger,
		Metrics:        m,
		AllowedOrigins: cfg.AllowedOrigins(),
		CookieSecure:   cfg.CookieSecure,
		CookieSecret:   []byte(cfg.CookieSecret),
		AuthRateLimit:  float64(cfg.AuthRateLimit),
		AuthRateBurst:  cfg.AuthRateBurst,
	})
	srv.StartMaintenance(ctx, sweepInterval, maxIdle)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.HTTPAddr).
			WithField("record_store", cfg.RecordStore).
			WithField("supabase", sb.BaseURL()).
			Info("Portal listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Shutdown error")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Live connections did not close in time")
	}
	logger.WithField("supabase_calls", transport.Stats()).Info("Portal stopped")
	return nil
}

func openRecordStore(ctx context.Context, cfg *config.Config, sb *client.Client) (recordBackend, func(), error) {
	switch cfg.RecordStore {
	case config.StorePostgres:
		pg, err := records.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		return pg, func() { _ = pg.Close() }, nil
	case config.StoreMemory:
		seed, err := records.LoadSeed(cfg.SeedFile)
		if err != nil {
			return nil, nil, fmt.Errorf("seed: %w", err)
		}
		return records.NewMemoryStoreFromSeed(seed), func() {}, nil
	default:
		return records.NewSupabaseStore(sb), func() {}, nil
	}
}

func openTokenStore(ctx context.Context, cfg *config.Config) (session.TokenStore, func(), error) {
	if cfg.RedisAddr == "" {
		return session.NewMemoryTokenStore(cfg.SessionTTL), func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	return session.NewRedisTokenStore(rdb, "", cfg.SessionTTL), func() { _ = rdb.Close() }, nil
}
