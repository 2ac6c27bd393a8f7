package redisreg

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hasanmaki/mkit-idv-next/internal/domain"
)

// refreshScript extends a lock's TTL only if the caller still owns it.
var refreshScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('EXPIRE', KEYS[1], ARGV[2])
else
  return 0
end
`)

// releaseScript deletes a lock only if the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
else
  return 0
end
`)

// Registry is the go-redis backed implementation of domain.Registry.
type Registry struct {
	rdb          redis.Cmdable
	lockTTL      time.Duration
	heartbeatTTL time.Duration
}

// New constructs a Registry bound to rdb, with lock/heartbeat TTLs taken
// from configuration (§6 REDIS_LOCK_TTL_SECONDS/REDIS_HEARTBEAT_TTL_SECONDS).
func New(rdb redis.Cmdable, lockTTL, heartbeatTTL time.Duration) *Registry {
	return &Registry{rdb: rdb, lockTTL: lockTTL, heartbeatTTL: heartbeatTTL}
}

var _ domain.Registry = (*Registry)(nil)

func stateKey(bindingID int64) string     { return fmt.Sprintf("wrk:state:%d", bindingID) }
func configKey(bindingID int64) string    { return fmt.Sprintf("wrk:cfg:%d", bindingID) }
func lockKey(bindingID int64) string      { return fmt.Sprintf("wrk:lock:%d", bindingID) }
func heartbeatKey(bindingID int64) string { return fmt.Sprintf("wrk:hb:%d", bindingID) }

// Start marks a binding's worker desired-state RUNNING and persists its
// config, returning false without effect if it is already running.
func (r *Registry) Start(ctx domain.Context, bindingID int64, owner string, cfg domain.WorkerConfig) (bool, error) {
	key := stateKey(bindingID)
	previous, err := r.rdb.HGet(ctx, key, "state").Result()
	if err != nil && err != redis.Nil {
		return false, fmt.Errorf("op=registry.start.hget: %w", err)
	}
	if previous == string(domain.WorkerRunning) {
		return false, nil
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := r.rdb.HSet(ctx, key, map[string]any{
		"binding_id": bindingID,
		"state":      string(domain.WorkerRunning),
		"reason":     "",
		"updated_at": now,
		"owner":      owner,
	}).Err(); err != nil {
		return false, fmt.Errorf("op=registry.start.hset_state: %w", err)
	}

	extraJSON, err := json.Marshal(cfg.Extra)
	if err != nil {
		return false, fmt.Errorf("op=registry.start.marshal_extra: %w", err)
	}
	if err := r.rdb.HSet(ctx, configKey(bindingID), map[string]any{
		"interval_ms":          cfg.IntervalMS,
		"max_retry_status":     cfg.MaxRetryStatus,
		"cooldown_on_error_ms": cfg.CooldownOnErrorMS,
		"extra_json":           string(extraJSON),
	}).Err(); err != nil {
		return false, fmt.Errorf("op=registry.start.hset_config: %w", err)
	}
	return true, nil
}

// Pause sets a binding's desired-state PAUSED.
func (r *Registry) Pause(ctx domain.Context, bindingID int64, reason string) (bool, error) {
	if reason == "" {
		reason = "manual_pause"
	}
	return true, r.setState(ctx, bindingID, domain.WorkerPaused, reason)
}

// Resume sets a binding's desired-state back to RUNNING.
func (r *Registry) Resume(ctx domain.Context, bindingID int64) (bool, error) {
	return true, r.setState(ctx, bindingID, domain.WorkerRunning, "")
}

// Stop sets a binding's desired-state STOPPED.
func (r *Registry) Stop(ctx domain.Context, bindingID int64, reason string) (bool, error) {
	if reason == "" {
		reason = "manual_stop"
	}
	return true, r.setState(ctx, bindingID, domain.WorkerStopped, reason)
}

func (r *Registry) setState(ctx domain.Context, bindingID int64, state domain.WorkerDesiredState, reason string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	err := r.rdb.HSet(ctx, stateKey(bindingID), map[string]any{
		"binding_id": bindingID,
		"state":      string(state),
		"reason":     reason,
		"updated_at": now,
	}).Err()
	if err != nil {
		return fmt.Errorf("op=registry.set_state: %w", err)
	}
	return nil
}

// GetState loads a binding's worker desired-state record, or nil if unset.
func (r *Registry) GetState(ctx domain.Context, bindingID int64) (*domain.WorkerStateRecord, error) {
	raw, err := r.rdb.HGetAll(ctx, stateKey(bindingID)).Result()
	if err != nil {
		return nil, fmt.Errorf("op=registry.get_state: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return &domain.WorkerStateRecord{
		BindingID: bindingID,
		State:     domain.WorkerDesiredState(valueOr(raw, "state", string(domain.WorkerIdle))),
		Reason:    raw["reason"],
		UpdatedAt: parseTime(raw["updated_at"]),
		Owner:     raw["owner"],
	}, nil
}

// GetConfig loads a binding's worker config, or nil if unset.
func (r *Registry) GetConfig(ctx domain.Context, bindingID int64) (*domain.WorkerConfig, error) {
	raw, err := r.rdb.HGetAll(ctx, configKey(bindingID)).Result()
	if err != nil {
		return nil, fmt.Errorf("op=registry.get_config: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	extra := map[string]string{}
	if j := raw["extra_json"]; j != "" {
		_ = json.Unmarshal([]byte(j), &extra)
	}
	return &domain.WorkerConfig{
		IntervalMS:        parseInt64(raw["interval_ms"], 500),
		MaxRetryStatus:    int(parseInt64(raw["max_retry_status"], 2)),
		CooldownOnErrorMS: parseInt64(raw["cooldown_on_error_ms"], 1500),
		Extra:             extra,
	}, nil
}

// AcquireLock takes the per-binding worker lock with a TTL, succeeding only
// if no other owner currently holds it (SET NX EX).
func (r *Registry) AcquireLock(ctx domain.Context, bindingID int64, owner string) (bool, error) {
	ok, err := r.rdb.SetNX(ctx, lockKey(bindingID), owner, r.lockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("op=registry.acquire_lock: %w", err)
	}
	return ok, nil
}

// RefreshLock extends the lock TTL only if owner still holds it.
func (r *Registry) RefreshLock(ctx domain.Context, bindingID int64, owner string) (bool, error) {
	res, err := refreshScript.Run(ctx, r.rdb, []string{lockKey(bindingID)}, owner, int(r.lockTTL.Seconds())).Result()
	if err != nil {
		return false, fmt.Errorf("op=registry.refresh_lock: %w", err)
	}
	return toBool(res), nil
}

// ReleaseLock deletes the lock only if owner still holds it.
func (r *Registry) ReleaseLock(ctx domain.Context, bindingID int64, owner string) (bool, error) {
	res, err := releaseScript.Run(ctx, r.rdb, []string{lockKey(bindingID)}, owner).Result()
	if err != nil {
		return false, fmt.Errorf("op=registry.release_lock: %w", err)
	}
	return toBool(res), nil
}

// GetLockOwner returns the current lock holder, or "" if unlocked.
func (r *Registry) GetLockOwner(ctx domain.Context, bindingID int64) (string, error) {
	owner, err := r.rdb.Get(ctx, lockKey(bindingID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("op=registry.get_lock_owner: %w", err)
	}
	return owner, nil
}

// Heartbeat persists a worker's liveness payload with a refreshed TTL.
func (r *Registry) Heartbeat(ctx domain.Context, hb domain.WorkerHeartbeat) error {
	key := heartbeatKey(hb.BindingID)
	if err := r.rdb.HSet(ctx, key, map[string]any{
		"binding_id":  hb.BindingID,
		"owner":       hb.Owner,
		"cycle":       hb.Cycle,
		"last_action": hb.LastAction,
		"updated_at":  hb.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}).Err(); err != nil {
		return fmt.Errorf("op=registry.heartbeat.hset: %w", err)
	}
	if err := r.rdb.Expire(ctx, key, r.heartbeatTTL).Err(); err != nil {
		return fmt.Errorf("op=registry.heartbeat.expire: %w", err)
	}
	return nil
}

// GetHeartbeat loads a binding's last heartbeat payload, or nil if unset
// (either never started or expired past the heartbeat TTL).
func (r *Registry) GetHeartbeat(ctx domain.Context, bindingID int64) (*domain.WorkerHeartbeat, error) {
	raw, err := r.rdb.HGetAll(ctx, heartbeatKey(bindingID)).Result()
	if err != nil {
		return nil, fmt.Errorf("op=registry.get_heartbeat: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return &domain.WorkerHeartbeat{
		BindingID:  bindingID,
		Owner:      raw["owner"],
		Cycle:      parseInt64(raw["cycle"], 0),
		LastAction: raw["last_action"],
		UpdatedAt:  parseTime(raw["updated_at"]),
	}, nil
}

// ListStates scans all worker state records, sorted by binding id, for the
// orchestration control service's bulk status endpoint.
func (r *Registry) ListStates(ctx domain.Context) ([]domain.WorkerStateRecord, error) {
	var out []domain.WorkerStateRecord
	iter := r.rdb.Scan(ctx, 0, "wrk:state:*", 200).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := r.rdb.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("op=registry.list_states.hgetall: %w", err)
		}
		if len(raw) == 0 {
			continue
		}
		idStr := strings.TrimPrefix(key, "wrk:state:")
		bindingID, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, domain.WorkerStateRecord{
			BindingID: bindingID,
			State:     domain.WorkerDesiredState(valueOr(raw, "state", string(domain.WorkerIdle))),
			Reason:    raw["reason"],
			UpdatedAt: parseTime(raw["updated_at"]),
			Owner:     raw["owner"],
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("op=registry.list_states.scan: %w", err)
	}
	sortStatesByBindingID(out)
	return out, nil
}

func sortStatesByBindingID(states []domain.WorkerStateRecord) {
	for i := 1; i < len(states); i++ {
		for j := i; j > 0 && states[j].BindingID < states[j-1].BindingID; j-- {
			states[j], states[j-1] = states[j-1], states[j]
		}
	}
}

func valueOr(m map[string]string, key, fallback string) string {
	if v, ok := m[key]; ok && v != "" {
		return v
	}
	return fallback
}

func parseInt64(s string, fallback int64) int64 {
	if s == "" {
		return fallback
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fallback
	}
	return v
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Now().UTC()
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Now().UTC()
	}
	return t
}

func toBool(v any) bool {
	switch x := v.(type) {
	case int64:
		return x != 0
	case bool:
		return x
	default:
		return false
	}
}
