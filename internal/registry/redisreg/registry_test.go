package redisreg

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/hasanmaki/mkit-idv-next/internal/domain"
)

func newTestRegistry(t *testing.T) (*Registry, func()) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	reg := New(rdb, 5*time.Second, 10*time.Second)
	cleanup := func() {
		_ = rdb.Close()
		mr.Close()
	}
	return reg, cleanup
}

func TestStart_FirstCall_ReturnsTrueAndPersistsConfig(t *testing.T) {
	reg, cleanup := newTestRegistry(t)
	defer cleanup()
	ctx := context.Background()

	started, err := reg.Start(ctx, 1, "proc1:1", domain.WorkerConfig{
		IntervalMS: 500, MaxRetryStatus: 2, CooldownOnErrorMS: 1500,
		Extra: map[string]string{"product_id": "p1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !started {
		t.Fatalf("expected started=true on first call")
	}

	state, err := reg.GetState(ctx, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state == nil || state.State != domain.WorkerRunning {
		t.Fatalf("expected RUNNING state, got %+v", state)
	}

	cfg, err := reg.GetConfig(ctx, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg == nil || cfg.IntervalMS != 500 || cfg.Extra["product_id"] != "p1" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestStart_AlreadyRunning_ReturnsFalse(t *testing.T) {
	reg, cleanup := newTestRegistry(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := reg.Start(ctx, 2, "proc1:2", domain.WorkerConfig{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	started, err := reg.Start(ctx, 2, "proc2:2", domain.WorkerConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if started {
		t.Fatalf("expected started=false when already running")
	}
}

func TestLock_AcquireRefreshRelease_OwnerScoped(t *testing.T) {
	reg, cleanup := newTestRegistry(t)
	defer cleanup()
	ctx := context.Background()

	ok, err := reg.AcquireLock(ctx, 10, "owner-a")
	if err != nil || !ok {
		t.Fatalf("expected acquire to succeed, ok=%v err=%v", ok, err)
	}

	ok, err = reg.AcquireLock(ctx, 10, "owner-b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected second acquire by different owner to fail")
	}

	refreshed, err := reg.RefreshLock(ctx, 10, "owner-b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if refreshed {
		t.Fatalf("expected refresh by non-owner to fail")
	}

	refreshed, err = reg.RefreshLock(ctx, 10, "owner-a")
	if err != nil || !refreshed {
		t.Fatalf("expected refresh by owner to succeed, refreshed=%v err=%v", refreshed, err)
	}

	released, err := reg.ReleaseLock(ctx, 10, "owner-b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if released {
		t.Fatalf("expected release by non-owner to fail")
	}

	released, err = reg.ReleaseLock(ctx, 10, "owner-a")
	if err != nil || !released {
		t.Fatalf("expected release by owner to succeed, released=%v err=%v", released, err)
	}

	owner, err := reg.GetLockOwner(ctx, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if owner != "" {
		t.Fatalf("expected no owner after release, got %q", owner)
	}
}

func TestHeartbeat_RoundTrips(t *testing.T) {
	reg, cleanup := newTestRegistry(t)
	defer cleanup()
	ctx := context.Background()

	hb := domain.WorkerHeartbeat{BindingID: 5, Owner: "proc1:5", Cycle: 3, LastAction: "check_balance", UpdatedAt: time.Now().UTC()}
	if err := reg.Heartbeat(ctx, hb); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := reg.GetHeartbeat(ctx, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || got.Cycle != 3 || got.LastAction != "check_balance" {
		t.Fatalf("unexpected heartbeat: %+v", got)
	}
}

func TestListStates_SortedByBindingID(t *testing.T) {
	reg, cleanup := newTestRegistry(t)
	defer cleanup()
	ctx := context.Background()

	for _, id := range []int64{3, 1, 2} {
		if _, err := reg.Start(ctx, id, "owner", domain.WorkerConfig{}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	states, err := reg.ListStates(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(states) != 3 {
		t.Fatalf("expected 3 states, got %d", len(states))
	}
	for i := 1; i < len(states); i++ {
		if states[i].BindingID < states[i-1].BindingID {
			t.Fatalf("states not sorted: %+v", states)
		}
	}
}
