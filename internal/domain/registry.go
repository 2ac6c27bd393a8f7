package domain

import "time"

// WorkerDesiredState enumerates the desired state of a per-binding worker
// (§3, §4.6).
type WorkerDesiredState string

// Worker desired-state values.
const (
	WorkerIdle    WorkerDesiredState = "IDLE"
	WorkerRunning WorkerDesiredState = "RUNNING"
	WorkerPaused  WorkerDesiredState = "PAUSED"
	WorkerStopped WorkerDesiredState = "STOPPED"
)

// WorkerStateRecord is the desired-state record held in the shared KV store.
type WorkerStateRecord struct {
	BindingID int64
	State     WorkerDesiredState
	Reason    string
	UpdatedAt time.Time
	Owner     string
}

// WorkerConfig is the per-binding worker tuning held in the shared KV store.
type WorkerConfig struct {
	IntervalMS        int64
	MaxRetryStatus    int
	CooldownOnErrorMS int64
	Extra             map[string]string // product_id, email, limit_harga
}

// WorkerHeartbeat is the liveness record a worker task refreshes every cycle.
type WorkerHeartbeat struct {
	BindingID  int64
	Owner      string
	Cycle      int64
	LastAction string
	UpdatedAt  time.Time
}

// Registry (C7) abstracts desired-state, config, distributed locks, and
// heartbeats stored in a shared KV store, so that many orchestrator
// processes can coordinate at most one active worker per binding.
//
//go:generate mockery --name=Registry --with-expecter --filename=registry_mock.go
type Registry interface {
	Start(ctx Context, bindingID int64, owner string, cfg WorkerConfig) (bool, error)
	Pause(ctx Context, bindingID int64, reason string) (bool, error)
	Resume(ctx Context, bindingID int64) (bool, error)
	Stop(ctx Context, bindingID int64, reason string) (bool, error)
	GetState(ctx Context, bindingID int64) (*WorkerStateRecord, error)
	GetConfig(ctx Context, bindingID int64) (*WorkerConfig, error)

	AcquireLock(ctx Context, bindingID int64, owner string) (bool, error)
	RefreshLock(ctx Context, bindingID int64, owner string) (bool, error)
	ReleaseLock(ctx Context, bindingID int64, owner string) (bool, error)
	GetLockOwner(ctx Context, bindingID int64) (string, error)

	Heartbeat(ctx Context, hb WorkerHeartbeat) error
	GetHeartbeat(ctx Context, bindingID int64) (*WorkerHeartbeat, error)

	ListStates(ctx Context) ([]WorkerStateRecord, error)
}
