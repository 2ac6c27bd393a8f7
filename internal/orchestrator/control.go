package orchestrator

import (
	"errors"
	"fmt"

	"github.com/hasanmaki/mkit-idv-next/internal/domain"
)

// StartableCheck is the per-binding outcome of validate_binding_startable.
type StartableCheck struct {
	BindingID int64
	OK        bool
	Message   string
}

// ValidateBindingStartable implements §4.6's pre-start validation: the
// binding must exist, still be bound, and have finished login.
func ValidateBindingStartable(ctx domain.Context, bindings domain.BindingRepository, bindingID int64) StartableCheck {
	b, err := bindings.Get(ctx, bindingID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return StartableCheck{BindingID: bindingID, Message: "binding_not_found"}
		}
		return StartableCheck{BindingID: bindingID, Message: err.Error()}
	}
	if b.UnboundAt != nil {
		return StartableCheck{BindingID: bindingID, Message: "binding_logged_out"}
	}
	if b.Step != domain.BindingTokenLoginFetched {
		return StartableCheck{BindingID: bindingID, Message: "binding_step_not_ready"}
	}
	return StartableCheck{BindingID: bindingID, OK: true}
}

// ControlAction enumerates the §4.6 bulk control actions.
type ControlAction string

// Control action values.
const (
	ActionStart  ControlAction = "start"
	ActionPause  ControlAction = "pause"
	ActionResume ControlAction = "resume"
	ActionStop   ControlAction = "stop"
)

// ControlItemResult is the per-binding outcome of a bulk control request.
type ControlItemResult struct {
	BindingID int64
	OK        bool
	Message   string
}

// ControlService implements the §4.6 control service: bulk start/pause/
// resume/stop/status/monitor over a set of binding ids, consumed by the
// /orchestration HTTP handlers.
type ControlService struct {
	Registry domain.Registry
	Bindings domain.BindingRepository
}

// NewControlService constructs a ControlService.
func NewControlService(registry domain.Registry, bindings domain.BindingRepository) *ControlService {
	return &ControlService{Registry: registry, Bindings: bindings}
}

// Apply runs action over bindingIDs, returning one outcome per id in order.
// cfg is only consulted for ActionStart; reason is only consulted for
// ActionPause/ActionStop.
func (c *ControlService) Apply(ctx domain.Context, action ControlAction, bindingIDs []int64, owner, reason string, cfg domain.WorkerConfig) []ControlItemResult {
	out := make([]ControlItemResult, 0, len(bindingIDs))
	for _, id := range bindingIDs {
		out = append(out, c.applyOne(ctx, action, id, owner, reason, cfg))
	}
	return out
}

func (c *ControlService) applyOne(ctx domain.Context, action ControlAction, bindingID int64, owner, reason string, cfg domain.WorkerConfig) ControlItemResult {
	switch action {
	case ActionStart:
		check := ValidateBindingStartable(ctx, c.Bindings, bindingID)
		if !check.OK {
			return ControlItemResult{BindingID: bindingID, Message: check.Message}
		}
		started, err := c.Registry.Start(ctx, bindingID, owner, cfg)
		if err != nil {
			return ControlItemResult{BindingID: bindingID, Message: err.Error()}
		}
		if !started {
			return ControlItemResult{BindingID: bindingID, Message: "already_running"}
		}
		return ControlItemResult{BindingID: bindingID, OK: true}
	case ActionPause:
		ok, err := c.Registry.Pause(ctx, bindingID, reason)
		return resultOrErr(bindingID, ok, err)
	case ActionResume:
		ok, err := c.Registry.Resume(ctx, bindingID)
		return resultOrErr(bindingID, ok, err)
	case ActionStop:
		ok, err := c.Registry.Stop(ctx, bindingID, reason)
		return resultOrErr(bindingID, ok, err)
	default:
		return ControlItemResult{BindingID: bindingID, Message: fmt.Sprintf("unknown action %q", action)}
	}
}

func resultOrErr(bindingID int64, ok bool, err error) ControlItemResult {
	if err != nil {
		return ControlItemResult{BindingID: bindingID, Message: err.Error()}
	}
	return ControlItemResult{BindingID: bindingID, OK: ok}
}

// Status returns the current desired-state record for each binding (the
// "status" bulk action); bindings with no record are omitted.
func (c *ControlService) Status(ctx domain.Context, bindingIDs []int64) ([]domain.WorkerStateRecord, error) {
	out := make([]domain.WorkerStateRecord, 0, len(bindingIDs))
	for _, id := range bindingIDs {
		state, err := c.Registry.GetState(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("op=orchestrator.control.status: %w", err)
		}
		if state != nil {
			out = append(out, *state)
		}
	}
	return out, nil
}

// MonitorRecord is one row of the §4.6 monitor view: a desired-state record
// joined with its heartbeat and lock owner.
type MonitorRecord struct {
	State     domain.WorkerStateRecord
	Heartbeat *domain.WorkerHeartbeat
	LockOwner string
}

// MonitorResult is the full monitor snapshot, including the derived
// active_workers count (|{RUNNING,PAUSED}|).
type MonitorResult struct {
	Records       []MonitorRecord
	ActiveWorkers int
}

// Monitor joins every known desired-state record with its heartbeat and
// lock owner for the orchestration dashboard.
func (c *ControlService) Monitor(ctx domain.Context) (MonitorResult, error) {
	states, err := c.Registry.ListStates(ctx)
	if err != nil {
		return MonitorResult{}, fmt.Errorf("op=orchestrator.control.monitor.list_states: %w", err)
	}
	var result MonitorResult
	for _, state := range states {
		hb, err := c.Registry.GetHeartbeat(ctx, state.BindingID)
		if err != nil {
			return MonitorResult{}, fmt.Errorf("op=orchestrator.control.monitor.heartbeat: %w", err)
		}
		owner, err := c.Registry.GetLockOwner(ctx, state.BindingID)
		if err != nil {
			return MonitorResult{}, fmt.Errorf("op=orchestrator.control.monitor.lock_owner: %w", err)
		}
		result.Records = append(result.Records, MonitorRecord{State: state, Heartbeat: hb, LockOwner: owner})
		if state.State == domain.WorkerRunning || state.State == domain.WorkerPaused {
			result.ActiveWorkers++
		}
	}
	return result, nil
}
