// Command api starts the IDV orchestration system's HTTP server: the REST
// surface over servers, accounts, bindings, transactions, and bulk
// orchestration control. The reconcile loop and worker tasks run in the
// separate cmd/orchestrator process.
package main

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

	"github.com/redis/go-redis/v9"

	"github.com/hasanmaki/mkit-idv-next/internal/config"
	"github.com/hasanmaki/mkit-idv-next/internal/domain"
	"github.com/hasanmaki/mkit-idv-next/internal/httpserver"
	"github.com/hasanmaki/mkit-idv-next/internal/observability"
	"github.com/hasanmaki/mkit-idv-next/internal/orchestrator"
	"github.com/hasanmaki/mkit-idv-next/internal/provideradapter"
	"github.com/hasanmaki/mkit-idv-next/internal/registry/redisreg"
	"github.com/hasanmaki/mkit-idv-next/internal/repo/postgres"
	"github.com/hasanmaki/mkit-idv-next/internal/service/binding"
	"github.com/hasanmaki/mkit-idv-next/internal/service/transaction"
)

// redisPinger adapts *redis.Client to httpserver.Pinger.
type redisPinger struct{ *redis.Client }

func (r redisPinger) Ping(ctx context.Context) error {
	return r.Client.Ping(ctx).Err()
}

func providerFactory(srv domain.ServerInstance) domain.ProviderAdapter {
	return provideradapter.NewClient(srv.BaseURL, srv.Timeout, srv.Retries, srv.WaitBetweenRetries, srv.MaxRequestsQueued)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	rdb, err := redisreg.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("redis connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			slog.Error("failed to close redis client", slog.Any("error", err))
		}
	}()

	if cfg.DataRetentionDays > 0 {
		cleanupSvc := postgres.NewCleanupService(pool, cfg.DataRetentionDays)
		go cleanupSvc.RunPeriodic(ctx, cfg.CleanupInterval)
		slog.Info("cleanup service started", slog.Int("retention_days", cfg.DataRetentionDays), slog.Duration("interval", cfg.CleanupInterval))
	}

	servers := postgres.NewServerRepo(pool)
	accounts := postgres.NewAccountRepo(pool)
	bindings := postgres.NewBindingRepo(pool)
	transactions := postgres.NewTransactionRepo(pool)
	registry := redisreg.New(rdb, cfg.LockTTL(), cfg.HeartbeatTTL())

	bindingSvc := binding.New(bindings, accounts, servers, providerFactory)
	transactionSvc := transaction.New(transactions, bindings, accounts, servers, providerFactory)
	control := orchestrator.NewControlService(registry, bindings)

	srv := httpserver.NewServer(servers, accounts, bindings, transactions, bindingSvc, transactionSvc, control, providerFactory, pool, redisPinger{rdb}, cfg.Debug)

	handler := httpserver.BuildRouter(httpserver.RouterConfig{
		CORSAllowOrigins: cfg.CORSAllowOrigins,
		RateLimitPerMin:  cfg.RateLimitPerMin,
		RequestTimeout:   cfg.HTTPWriteTimeout,
		Debug:            cfg.Debug,
	}, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
