// Package orchestrator implements the orchestration runtime (C8): the
// reconcile loop, per-binding worker tasks, pre-start validation, and the
// bulk control service that drives them from the HTTP layer.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/hasanmaki/mkit-idv-next/internal/domain"
	"github.com/hasanmaki/mkit-idv-next/internal/service/transaction"
)

var workerTracer = otel.Tracer("orchestrator.worker")

// Worker runs one binding's transaction cycle loop for as long as it holds
// the binding's distributed lock, per §4.6.
type Worker struct {
	BindingID    int64
	Owner        string
	Registry     domain.Registry
	Transactions *transaction.Service
}

// Run acquires the binding's lock and loops until the desired state is
// STOPPED/missing, the lock is lost to another owner, or a precheck
// insufficient-balance stop is reached. It releases the lock on every exit
// path.
func (w *Worker) Run(ctx context.Context) {
	ctx, span := workerTracer.Start(ctx, "Worker.Run")
	defer span.End()

	ok, err := w.Registry.AcquireLock(ctx, w.BindingID, w.Owner)
	if err != nil {
		slog.Error("orchestrator worker: acquire_lock failed", slog.Int64("binding_id", w.BindingID), slog.Any("error", err))
		return
	}
	if !ok {
		return
	}
	defer func() {
		if _, err := w.Registry.ReleaseLock(context.WithoutCancel(ctx), w.BindingID, w.Owner); err != nil {
			slog.Error("orchestrator worker: release_lock failed", slog.Int64("binding_id", w.BindingID), slog.Any("error", err))
		}
	}()

	cfg, err := w.Registry.GetConfig(ctx, w.BindingID)
	if err != nil {
		slog.Error("orchestrator worker: get_config failed", slog.Int64("binding_id", w.BindingID), slog.Any("error", err))
		return
	}
	if cfg == nil {
		if _, err := w.Registry.Stop(ctx, w.BindingID, "missing_worker_config"); err != nil {
			slog.Error("orchestrator worker: stop failed", slog.Int64("binding_id", w.BindingID), slog.Any("error", err))
		}
		return
	}

	var cycle int64
	for {
		state, err := w.Registry.GetState(ctx, w.BindingID)
		if err != nil {
			slog.Error("orchestrator worker: get_state failed", slog.Int64("binding_id", w.BindingID), slog.Any("error", err))
			return
		}
		if state == nil || state.State == domain.WorkerStopped {
			return
		}

		refreshed, err := w.Registry.RefreshLock(ctx, w.BindingID, w.Owner)
		if err != nil {
			slog.Error("orchestrator worker: refresh_lock failed", slog.Int64("binding_id", w.BindingID), slog.Any("error", err))
			return
		}
		if !refreshed {
			return
		}
		w.heartbeat(ctx, cycle, fmt.Sprintf("state:%s", state.State))

		if state.State == domain.WorkerPaused {
			if !sleepCtx(ctx, 500*time.Millisecond) {
				return
			}
			continue
		}

		status, errMsg, cycleErr := w.runCycle(ctx, *cfg)
		if cycleErr != nil {
			w.heartbeat(ctx, cycle, fmt.Sprintf("cycle_error:%s", cycleErrCode(cycleErr)))
			if !sleepCtx(ctx, time.Duration(cfg.CooldownOnErrorMS)*time.Millisecond) {
				return
			}
			continue
		}
		if status == domain.TxGagal && errMsg != nil && strings.Contains(*errMsg, "insufficient_balance_before_start") {
			if _, err := w.Registry.Stop(ctx, w.BindingID, *errMsg); err != nil {
				slog.Error("orchestrator worker: stop failed", slog.Int64("binding_id", w.BindingID), slog.Any("error", err))
			}
			return
		}

		cycle++
		state, err = w.Registry.GetState(ctx, w.BindingID)
		if err != nil {
			slog.Error("orchestrator worker: get_state failed", slog.Int64("binding_id", w.BindingID), slog.Any("error", err))
			return
		}
		if state == nil || state.State == domain.WorkerStopped {
			return
		}
		if !sleepCtx(ctx, time.Duration(cfg.IntervalMS)*time.Millisecond) {
			return
		}
	}
}

// runCycle runs start_transaction and, if the result is still PROCESSING,
// check_balance_and_continue_or_stop, per §4.4/§4.6 step 4.
func (w *Worker) runCycle(ctx context.Context, cfg domain.WorkerConfig) (domain.TransactionStatus, *string, error) {
	productID := cfg.Extra["product_id"]
	email := cfg.Extra["email"]
	limitHarga, _ := strconv.ParseInt(cfg.Extra["limit_harga"], 10, 64)

	txn, err := w.Transactions.StartTransaction(ctx, w.BindingID, productID, email, limitHarga)
	if err != nil {
		return "", nil, fmt.Errorf("op=orchestrator.worker.run_cycle.start: %w", err)
	}
	if txn.Status == domain.TxProcessing {
		txn, _, err = w.Transactions.CheckBalanceAndContinueOrStop(ctx, txn.ID)
		if err != nil {
			return "", nil, fmt.Errorf("op=orchestrator.worker.run_cycle.check_balance: %w", err)
		}
	}
	return txn.Status, txn.ErrorMessage, nil
}

func (w *Worker) heartbeat(ctx context.Context, cycle int64, lastAction string) {
	err := w.Registry.Heartbeat(ctx, domain.WorkerHeartbeat{
		BindingID: w.BindingID, Owner: w.Owner, Cycle: cycle, LastAction: lastAction, UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		slog.Warn("orchestrator worker: heartbeat failed", slog.Int64("binding_id", w.BindingID), slog.Any("error", err))
	}
}

// cycleErrCode extracts a stable error_code from an AppError, falling back
// to the error's dynamic type when it isn't one.
func cycleErrCode(err error) string {
	var appErr *domain.AppError
	if errors.As(err, &appErr) && appErr.Code != "" {
		return appErr.Code
	}
	return fmt.Sprintf("%T", err)
}

// sleepCtx sleeps for d or until ctx is cancelled, reporting which
// happened first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
