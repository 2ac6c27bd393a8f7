package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hasanmaki/mkit-idv-next/internal/domain"
)

// BindingRepo persists bindings (C2, §3 Binding).
type BindingRepo struct{ Pool PgxPool }

// NewBindingRepo constructs a BindingRepo with the given pool.
func NewBindingRepo(p PgxPool) *BindingRepo { return &BindingRepo{Pool: p} }

const bindingColumns = `id, server_id, account_id, batch_id, step, is_reseller, balance_start, balance_last,
	token_login, token_location, token_location_refreshed_at, device_id, last_error_code, last_error_message,
	bound_at, unbound_at, created_at, updated_at`

// Create inserts a new binding and returns its id.
func (r *BindingRepo) Create(ctx domain.Context, b domain.Binding) (int64, error) {
	tracer := otel.Tracer("repo.bindings")
	ctx, span := tracer.Start(ctx, "bindings.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "bindings"),
	)
	now := time.Now().UTC()
	boundAt := b.BoundAt
	if boundAt.IsZero() {
		boundAt = now
	}
	q := `INSERT INTO bindings (server_id, account_id, batch_id, step, is_reseller, balance_start, balance_last,
		token_login, token_location, token_location_refreshed_at, device_id, last_error_code, last_error_message,
		bound_at, unbound_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17) RETURNING id`
	row := r.Pool.QueryRow(ctx, q, b.ServerID, b.AccountID, b.BatchID, b.Step, b.IsReseller, b.BalanceStart,
		b.BalanceLast, b.TokenLogin, b.TokenLocation, b.TokenLocationRefreshedAt, b.DeviceID,
		b.LastErrorCode, b.LastErrorMessage, boundAt, b.UnboundAt, now, now)
	var id int64
	if err := row.Scan(&id); err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("op=binding.create: %w", domain.NewValidationError("binding_duplicate",
				"server or account is already bound", ""))
		}
		return 0, fmt.Errorf("op=binding.create: %w", err)
	}
	return id, nil
}

// Get loads a binding by id.
func (r *BindingRepo) Get(ctx domain.Context, id int64) (domain.Binding, error) {
	tracer := otel.Tracer("repo.bindings")
	ctx, span := tracer.Start(ctx, "bindings.Get")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "SELECT"))
	q := `SELECT ` + bindingColumns + ` FROM bindings WHERE id=$1`
	row := r.Pool.QueryRow(ctx, q, id)
	b, err := scanBindingRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Binding{}, fmt.Errorf("op=binding.get: %w", domain.ErrNotFound)
	}
	return b, err
}

// List returns bindings matching the filter.
func (r *BindingRepo) List(ctx domain.Context, f domain.BindingFilter) ([]domain.Binding, error) {
	tracer := otel.Tracer("repo.bindings")
	ctx, span := tracer.Start(ctx, "bindings.List")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "SELECT"))

	q := `SELECT ` + bindingColumns + ` FROM bindings`
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.ServerID != nil {
		where = append(where, "server_id="+arg(*f.ServerID))
	}
	if f.AccountID != nil {
		where = append(where, "account_id="+arg(*f.AccountID))
	}
	if f.ActiveOnly {
		where = append(where, "unbound_at IS NULL")
	}
	if len(where) > 0 {
		q += " WHERE "
		for i, w := range where {
			if i > 0 {
				q += " AND "
			}
			q += w
		}
	}
	q += " ORDER BY id"

	rows, err := r.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("op=binding.list: %w", err)
	}
	defer rows.Close()

	var out []domain.Binding
	for rows.Next() {
		b, err := scanBindingRow(rows)
		if err != nil {
			return nil, fmt.Errorf("op=binding.list_scan: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=binding.list_rows: %w", err)
	}
	return out, nil
}

// Update persists all mutable fields of a binding, including step transitions.
func (r *BindingRepo) Update(ctx domain.Context, b domain.Binding) error {
	tracer := otel.Tracer("repo.bindings")
	ctx, span := tracer.Start(ctx, "bindings.Update")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "UPDATE"))
	q := `UPDATE bindings SET step=$2, is_reseller=$3, balance_start=$4, balance_last=$5, token_login=$6,
		token_location=$7, token_location_refreshed_at=$8, device_id=$9, last_error_code=$10,
		last_error_message=$11, unbound_at=$12, updated_at=$13 WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, b.ID, b.Step, b.IsReseller, b.BalanceStart, b.BalanceLast, b.TokenLogin,
		b.TokenLocation, b.TokenLocationRefreshedAt, b.DeviceID, b.LastErrorCode, b.LastErrorMessage,
		b.UnboundAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=binding.update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=binding.update: %w", domain.ErrNotFound)
	}
	return nil
}

// GetActiveByServer finds the current bound binding for a server instance,
// if any — used to enforce the one-binding-per-server exclusivity invariant.
func (r *BindingRepo) GetActiveByServer(ctx domain.Context, serverID int64) (domain.Binding, bool, error) {
	tracer := otel.Tracer("repo.bindings")
	ctx, span := tracer.Start(ctx, "bindings.GetActiveByServer")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "SELECT"))
	q := `SELECT ` + bindingColumns + ` FROM bindings WHERE server_id=$1 AND unbound_at IS NULL LIMIT 1`
	row := r.Pool.QueryRow(ctx, q, serverID)
	b, err := scanBindingRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Binding{}, false, nil
	}
	if err != nil {
		return domain.Binding{}, false, fmt.Errorf("op=binding.get_active_by_server: %w", err)
	}
	return b, true, nil
}

// GetActiveByAccount finds the current bound binding for an account, if any
// — used to enforce the one-binding-per-account exclusivity invariant.
func (r *BindingRepo) GetActiveByAccount(ctx domain.Context, accountID int64) (domain.Binding, bool, error) {
	tracer := otel.Tracer("repo.bindings")
	ctx, span := tracer.Start(ctx, "bindings.GetActiveByAccount")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "SELECT"))
	q := `SELECT ` + bindingColumns + ` FROM bindings WHERE account_id=$1 AND unbound_at IS NULL LIMIT 1`
	row := r.Pool.QueryRow(ctx, q, accountID)
	b, err := scanBindingRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Binding{}, false, nil
	}
	if err != nil {
		return domain.Binding{}, false, fmt.Errorf("op=binding.get_active_by_account: %w", err)
	}
	return b, true, nil
}

// View loads the joined binding/account/server display model for the
// /bindings/{id}/view endpoint (a supplemented feature from the original
// implementation's richer binding detail page).
func (r *BindingRepo) View(ctx domain.Context, id int64) (domain.BindingView, error) {
	tracer := otel.Tracer("repo.bindings")
	ctx, span := tracer.Start(ctx, "bindings.View")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "SELECT"))

	q := `SELECT
		b.id, b.server_id, b.account_id, b.batch_id, b.step, b.is_reseller, b.balance_start, b.balance_last,
		b.token_login, b.token_location, b.token_location_refreshed_at, b.device_id, b.last_error_code,
		b.last_error_message, b.bound_at, b.unbound_at, b.created_at, b.updated_at,
		a.id, a.msisdn, a.batch_id, a.email, a.pin, a.status, a.is_reseller, a.balance_last, a.used_count,
		a.last_used_at, a.last_device_id, a.notes, a.created_at, a.updated_at,
		s.id, s.port, s.base_url, s.timeout_seconds, s.retries, s.wait_between_retries_ms, s.max_requests_queued,
		s.is_active, s.device_id, s.created_at, s.updated_at
		FROM bindings b
		JOIN accounts a ON a.id = b.account_id
		JOIN server_instances s ON s.id = b.server_id
		WHERE b.id = $1`
	row := r.Pool.QueryRow(ctx, q, id)

	var (
		v              domain.BindingView
		timeoutSeconds int
		waitMS         int64
	)
	err := row.Scan(
		&v.Binding.ID, &v.Binding.ServerID, &v.Binding.AccountID, &v.Binding.BatchID, &v.Binding.Step,
		&v.Binding.IsReseller, &v.Binding.BalanceStart, &v.Binding.BalanceLast, &v.Binding.TokenLogin,
		&v.Binding.TokenLocation, &v.Binding.TokenLocationRefreshedAt, &v.Binding.DeviceID,
		&v.Binding.LastErrorCode, &v.Binding.LastErrorMessage, &v.Binding.BoundAt, &v.Binding.UnboundAt,
		&v.Binding.CreatedAt, &v.Binding.UpdatedAt,
		&v.Account.ID, &v.Account.MSISDN, &v.Account.BatchID, &v.Account.Email, &v.Account.PIN,
		&v.Account.Status, &v.Account.IsReseller, &v.Account.BalanceLast, &v.Account.UsedCount,
		&v.Account.LastUsedAt, &v.Account.LastDeviceID, &v.Account.Notes, &v.Account.CreatedAt, &v.Account.UpdatedAt,
		&v.Server.ID, &v.Server.Port, &v.Server.BaseURL, &timeoutSeconds, &v.Server.Retries, &waitMS,
		&v.Server.MaxRequestsQueued, &v.Server.IsActive, &v.Server.DeviceID, &v.Server.CreatedAt, &v.Server.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.BindingView{}, fmt.Errorf("op=binding.view: %w", domain.ErrNotFound)
	}
	if err != nil {
		return domain.BindingView{}, fmt.Errorf("op=binding.view: %w", err)
	}
	v.Server.Timeout = time.Duration(timeoutSeconds) * time.Second
	v.Server.WaitBetweenRetries = time.Duration(waitMS) * time.Millisecond
	return v, nil
}

func scanBindingRow(row rowScanner) (domain.Binding, error) {
	var b domain.Binding
	if err := row.Scan(&b.ID, &b.ServerID, &b.AccountID, &b.BatchID, &b.Step, &b.IsReseller, &b.BalanceStart,
		&b.BalanceLast, &b.TokenLogin, &b.TokenLocation, &b.TokenLocationRefreshedAt, &b.DeviceID,
		&b.LastErrorCode, &b.LastErrorMessage, &b.BoundAt, &b.UnboundAt, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return domain.Binding{}, err
	}
	return b, nil
}
