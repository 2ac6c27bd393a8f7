package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hasanmaki/mkit-idv-next/internal/domain"
	"github.com/hasanmaki/mkit-idv-next/internal/service/transaction"
)

var reconcileTracer = otel.Tracer("orchestrator.reconciler")

// Reconciler is the single per-process reconcile loop of §4.6: every tick
// it lists desired-state records and makes sure a local worker task exists
// for every binding in {RUNNING, PAUSED}. It does not tear tasks down; a
// worker exits on its own once it sees its binding STOPPED or missing.
type Reconciler struct {
	ProcessInstanceID string
	Registry          domain.Registry
	Transactions      *transaction.Service
	Interval          time.Duration

	mu    sync.Mutex // guards tasks, per §5's task_lock
	tasks map[int64]context.CancelFunc
}

// NewReconciler constructs a Reconciler; interval defaults to one second
// per §4.6 when unset.
func NewReconciler(processInstanceID string, registry domain.Registry, transactions *transaction.Service, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = time.Second
	}
	return &Reconciler{
		ProcessInstanceID: processInstanceID,
		Registry:          registry,
		Transactions:      transactions,
		Interval:          interval,
		tasks:             map[int64]context.CancelFunc{},
	}
}

// Run blocks, reconciling immediately and then on every tick, until ctx is
// cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	r.reconcileOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("orchestrator reconciler stopping")
			r.stopAll()
			return
		case <-ticker.C:
			r.reconcileOnce(ctx)
		}
	}
}

func (r *Reconciler) reconcileOnce(ctx context.Context) {
	ctx, span := reconcileTracer.Start(ctx, "Reconciler.reconcileOnce")
	defer span.End()

	states, err := r.Registry.ListStates(ctx)
	if err != nil {
		span.RecordError(err)
		slog.Error("orchestrator reconciler: list_states failed", slog.Any("error", err))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	live := map[int64]bool{}
	for _, state := range states {
		if state.State != domain.WorkerRunning && state.State != domain.WorkerPaused {
			continue
		}
		live[state.BindingID] = true
		if _, exists := r.tasks[state.BindingID]; exists {
			continue
		}
		r.spawnLocked(state.BindingID)
	}

	// Bindings no longer in {RUNNING, PAUSED} are not torn down here: per
	// §4.6, workers check desired state cooperatively between cycles and
	// exit on their own (worker.go's Run, on seeing GetState return
	// nil/STOPPED), which removes them from r.tasks via spawnLocked's
	// goroutine. Cancelling here would abort an in-flight HTTP call.
	span.SetAttributes(attribute.Int("orchestrator.live_bindings", len(live)))
}

// spawnLocked starts a worker task for bindingID. Caller must hold r.mu.
func (r *Reconciler) spawnLocked(bindingID int64) {
	workerCtx, cancel := context.WithCancel(context.Background())
	r.tasks[bindingID] = cancel

	worker := &Worker{
		BindingID:    bindingID,
		Owner:        fmt.Sprintf("%s:%d", r.ProcessInstanceID, bindingID),
		Registry:     r.Registry,
		Transactions: r.Transactions,
	}

	go func() {
		defer func() {
			r.mu.Lock()
			delete(r.tasks, bindingID)
			r.mu.Unlock()
		}()
		worker.Run(workerCtx)
	}()
}

func (r *Reconciler) stopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for bindingID, cancel := range r.tasks {
		cancel()
		delete(r.tasks, bindingID)
	}
}
