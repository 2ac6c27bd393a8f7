// Command orchestrator runs the IDV orchestration runtime's background
// half: the reconcile loop and the per-binding worker tasks it spawns (each
// exits on its own once its desired state is STOPPED or removed). The REST
// control surface lives in
// the separate cmd/api process; both share the same Postgres database and
// Redis-backed registry.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hasanmaki/mkit-idv-next/internal/config"
	"github.com/hasanmaki/mkit-idv-next/internal/domain"
	"github.com/hasanmaki/mkit-idv-next/internal/observability"
	"github.com/hasanmaki/mkit-idv-next/internal/orchestrator"
	"github.com/hasanmaki/mkit-idv-next/internal/provideradapter"
	"github.com/hasanmaki/mkit-idv-next/internal/registry/redisreg"
	"github.com/hasanmaki/mkit-idv-next/internal/repo/postgres"
	"github.com/hasanmaki/mkit-idv-next/internal/service/transaction"
)

func providerFactory(srv domain.ServerInstance) domain.ProviderAdapter {
	return provideradapter.NewClient(srv.BaseURL, srv.Timeout, srv.Retries, srv.WaitBetweenRetries, srv.MaxRequestsQueued)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":9090", mux); err != nil {
			slog.Error("orchestrator metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting orchestrator", slog.String("env", cfg.AppEnv))

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

	bindings := postgres.NewBindingRepo(pool)
	accounts := postgres.NewAccountRepo(pool)
	servers := postgres.NewServerRepo(pool)
	transactionsRepo := postgres.NewTransactionRepo(pool)
	registry := redisreg.New(rdb, cfg.LockTTL(), cfg.HeartbeatTTL())

	transactionSvc := transaction.New(transactionsRepo, bindings, accounts, servers, providerFactory)

	processInstanceID := uuid.NewString()
	reconciler := orchestrator.NewReconciler(processInstanceID, registry, transactionSvc,
		time.Duration(cfg.ReconcileIntervalSeconds)*time.Second)

	slog.Info("reconciler configured", slog.String("process_instance_id", processInstanceID),
		slog.Int("reconcile_interval_seconds", cfg.ReconcileIntervalSeconds))

	runCtx, cancel := context.WithCancel(ctx)
	go reconciler.Run(runCtx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigCh
	slog.Info("signal received, shutting down", slog.String("signal", sig.String()))
	cancel()
	slog.Info("orchestrator stopped")
}
