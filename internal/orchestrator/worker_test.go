package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hasanmaki/mkit-idv-next/internal/domain"
)

func TestWorker_Run_LockHeldByAnotherOwner_ExitsImmediately(t *testing.T) {
	registry := newFakeRegistry()
	registry.lockOwners[1] = "other:1"
	w := &Worker{BindingID: 1, Owner: "proc1:1", Registry: registry}

	w.Run(context.Background())

	assert.Equal(t, "other:1", registry.lockOwners[1])
	assert.Empty(t, registry.heartbeats)
}

func TestWorker_Run_MissingConfig_StopsAndReleasesLock(t *testing.T) {
	registry := newFakeRegistry()
	registry.states[1] = &domain.WorkerStateRecord{BindingID: 1, State: domain.WorkerRunning}
	w := &Worker{BindingID: 1, Owner: "proc1:1", Registry: registry}

	w.Run(context.Background())

	require.NotNil(t, registry.states[1])
	assert.Equal(t, domain.WorkerStopped, registry.states[1].State)
	assert.Equal(t, "missing_worker_config", registry.states[1].Reason)
	_, stillLocked := registry.lockOwners[1]
	assert.False(t, stillLocked)
}

func TestWorker_Run_StoppedStateOnEntry_ExitsWithoutCycling(t *testing.T) {
	registry := newFakeRegistry()
	registry.states[1] = &domain.WorkerStateRecord{BindingID: 1, State: domain.WorkerStopped}
	registry.configs[1] = &domain.WorkerConfig{IntervalMS: 1000}
	w := &Worker{BindingID: 1, Owner: "proc1:1", Registry: registry}

	w.Run(context.Background())

	assert.Empty(t, registry.heartbeats)
	_, stillLocked := registry.lockOwners[1]
	assert.False(t, stillLocked)
}
