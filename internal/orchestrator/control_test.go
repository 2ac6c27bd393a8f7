package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hasanmaki/mkit-idv-next/internal/domain"
)

type fakeBindingRepo struct{ byID map[int64]domain.Binding }

func (f *fakeBindingRepo) Create(domain.Context, domain.Binding) (int64, error) { return 0, nil }
func (f *fakeBindingRepo) Get(_ domain.Context, id int64) (domain.Binding, error) {
	b, ok := f.byID[id]
	if !ok {
		return domain.Binding{}, domain.NewNotFoundError("binding_not_found", "no such binding", "")
	}
	return b, nil
}
func (f *fakeBindingRepo) List(domain.Context, domain.BindingFilter) ([]domain.Binding, error) { return nil, nil }
func (f *fakeBindingRepo) Update(domain.Context, domain.Binding) error                         { return nil }
func (f *fakeBindingRepo) GetActiveByServer(domain.Context, int64) (domain.Binding, bool, error) {
	return domain.Binding{}, false, nil
}
func (f *fakeBindingRepo) GetActiveByAccount(domain.Context, int64) (domain.Binding, bool, error) {
	return domain.Binding{}, false, nil
}
func (f *fakeBindingRepo) View(domain.Context, int64) (domain.BindingView, error) { return domain.BindingView{}, nil }

type fakeRegistry struct {
	states     map[int64]*domain.WorkerStateRecord
	configs    map[int64]*domain.WorkerConfig
	heartbeats map[int64]*domain.WorkerHeartbeat
	lockOwners map[int64]string
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		states:     map[int64]*domain.WorkerStateRecord{},
		configs:    map[int64]*domain.WorkerConfig{},
		heartbeats: map[int64]*domain.WorkerHeartbeat{},
		lockOwners: map[int64]string{},
	}
}
func (f *fakeRegistry) Start(_ domain.Context, bindingID int64, owner string, _ domain.WorkerConfig) (bool, error) {
	if s, ok := f.states[bindingID]; ok && s.State == domain.WorkerRunning {
		return false, nil
	}
	f.states[bindingID] = &domain.WorkerStateRecord{BindingID: bindingID, State: domain.WorkerRunning, Owner: owner, UpdatedAt: time.Now().UTC()}
	return true, nil
}
func (f *fakeRegistry) Pause(_ domain.Context, bindingID int64, reason string) (bool, error) {
	f.states[bindingID] = &domain.WorkerStateRecord{BindingID: bindingID, State: domain.WorkerPaused, Reason: reason}
	return true, nil
}
func (f *fakeRegistry) Resume(_ domain.Context, bindingID int64) (bool, error) {
	f.states[bindingID] = &domain.WorkerStateRecord{BindingID: bindingID, State: domain.WorkerRunning}
	return true, nil
}
func (f *fakeRegistry) Stop(_ domain.Context, bindingID int64, reason string) (bool, error) {
	f.states[bindingID] = &domain.WorkerStateRecord{BindingID: bindingID, State: domain.WorkerStopped, Reason: reason}
	return true, nil
}
func (f *fakeRegistry) GetState(_ domain.Context, bindingID int64) (*domain.WorkerStateRecord, error) {
	return f.states[bindingID], nil
}
func (f *fakeRegistry) GetConfig(_ domain.Context, bindingID int64) (*domain.WorkerConfig, error) {
	return f.configs[bindingID], nil
}
func (f *fakeRegistry) AcquireLock(_ domain.Context, bindingID int64, owner string) (bool, error) {
	if _, ok := f.lockOwners[bindingID]; ok {
		return false, nil
	}
	f.lockOwners[bindingID] = owner
	return true, nil
}
func (f *fakeRegistry) RefreshLock(_ domain.Context, bindingID int64, owner string) (bool, error) {
	return f.lockOwners[bindingID] == owner, nil
}
func (f *fakeRegistry) ReleaseLock(_ domain.Context, bindingID int64, owner string) (bool, error) {
	if f.lockOwners[bindingID] != owner {
		return false, nil
	}
	delete(f.lockOwners, bindingID)
	return true, nil
}
func (f *fakeRegistry) GetLockOwner(_ domain.Context, bindingID int64) (string, error) {
	return f.lockOwners[bindingID], nil
}
func (f *fakeRegistry) Heartbeat(_ domain.Context, hb domain.WorkerHeartbeat) error {
	f.heartbeats[hb.BindingID] = &hb
	return nil
}
func (f *fakeRegistry) GetHeartbeat(_ domain.Context, bindingID int64) (*domain.WorkerHeartbeat, error) {
	return f.heartbeats[bindingID], nil
}
func (f *fakeRegistry) ListStates(domain.Context) ([]domain.WorkerStateRecord, error) {
	out := make([]domain.WorkerStateRecord, 0, len(f.states))
	for _, s := range f.states {
		out = append(out, *s)
	}
	return out, nil
}

func TestValidateBindingStartable_Ready(t *testing.T) {
	bindings := &fakeBindingRepo{byID: map[int64]domain.Binding{1: {ID: 1, Step: domain.BindingTokenLoginFetched}}}
	check := ValidateBindingStartable(context.Background(), bindings, 1)
	assert.True(t, check.OK)
}

func TestValidateBindingStartable_NotFound(t *testing.T) {
	bindings := &fakeBindingRepo{byID: map[int64]domain.Binding{}}
	check := ValidateBindingStartable(context.Background(), bindings, 1)
	assert.False(t, check.OK)
	assert.Equal(t, "binding_not_found", check.Message)
}

func TestValidateBindingStartable_LoggedOut(t *testing.T) {
	now := time.Now().UTC()
	bindings := &fakeBindingRepo{byID: map[int64]domain.Binding{1: {ID: 1, Step: domain.BindingLoggedOut, UnboundAt: &now}}}
	check := ValidateBindingStartable(context.Background(), bindings, 1)
	assert.False(t, check.OK)
	assert.Equal(t, "binding_logged_out", check.Message)
}

func TestValidateBindingStartable_StepNotReady(t *testing.T) {
	bindings := &fakeBindingRepo{byID: map[int64]domain.Binding{1: {ID: 1, Step: domain.BindingOTPVerified}}}
	check := ValidateBindingStartable(context.Background(), bindings, 1)
	assert.False(t, check.OK)
	assert.Equal(t, "binding_step_not_ready", check.Message)
}

func TestControlService_Apply_StartRespectsValidation(t *testing.T) {
	registry := newFakeRegistry()
	bindings := &fakeBindingRepo{byID: map[int64]domain.Binding{
		1: {ID: 1, Step: domain.BindingTokenLoginFetched},
		2: {ID: 2, Step: domain.BindingBound},
	}}
	svc := NewControlService(registry, bindings)

	results := svc.Apply(context.Background(), ActionStart, []int64{1, 2}, "proc1", "", domain.WorkerConfig{IntervalMS: 1000})
	require.Len(t, results, 2)
	assert.True(t, results[0].OK)
	assert.False(t, results[1].OK)
	assert.Equal(t, "binding_step_not_ready", results[1].Message)
}

func TestControlService_Apply_StartTwice_SecondFails(t *testing.T) {
	registry := newFakeRegistry()
	bindings := &fakeBindingRepo{byID: map[int64]domain.Binding{1: {ID: 1, Step: domain.BindingTokenLoginFetched}}}
	svc := NewControlService(registry, bindings)

	first := svc.Apply(context.Background(), ActionStart, []int64{1}, "proc1", "", domain.WorkerConfig{})
	second := svc.Apply(context.Background(), ActionStart, []int64{1}, "proc2", "", domain.WorkerConfig{})
	assert.True(t, first[0].OK)
	assert.False(t, second[0].OK)
	assert.Equal(t, "already_running", second[0].Message)
}

func TestControlService_Monitor_CountsActiveWorkers(t *testing.T) {
	registry := newFakeRegistry()
	registry.states[1] = &domain.WorkerStateRecord{BindingID: 1, State: domain.WorkerRunning}
	registry.states[2] = &domain.WorkerStateRecord{BindingID: 2, State: domain.WorkerPaused}
	registry.states[3] = &domain.WorkerStateRecord{BindingID: 3, State: domain.WorkerStopped}
	registry.heartbeats[1] = &domain.WorkerHeartbeat{BindingID: 1, Cycle: 5}
	registry.lockOwners[1] = "proc1:1"
	bindings := &fakeBindingRepo{byID: map[int64]domain.Binding{}}
	svc := NewControlService(registry, bindings)

	result, err := svc.Monitor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.ActiveWorkers)
	assert.Len(t, result.Records, 3)
}

func TestControlService_Apply_PauseThenResume(t *testing.T) {
	registry := newFakeRegistry()
	bindings := &fakeBindingRepo{byID: map[int64]domain.Binding{}}
	svc := NewControlService(registry, bindings)

	paused := svc.Apply(context.Background(), ActionPause, []int64{1}, "", "operator_requested", domain.WorkerConfig{})
	assert.True(t, paused[0].OK)
	assert.Equal(t, domain.WorkerPaused, registry.states[1].State)

	resumed := svc.Apply(context.Background(), ActionResume, []int64{1}, "", "", domain.WorkerConfig{})
	assert.True(t, resumed[0].OK)
	assert.Equal(t, domain.WorkerRunning, registry.states[1].State)
}
