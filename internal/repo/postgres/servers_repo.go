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

// ServerRepo persists server instances (C2, §3 ServerInstance).
type ServerRepo struct{ Pool PgxPool }

// NewServerRepo constructs a ServerRepo with the given pool.
func NewServerRepo(p PgxPool) *ServerRepo { return &ServerRepo{Pool: p} }

// Create inserts a new server instance and returns its id.
func (r *ServerRepo) Create(ctx domain.Context, s domain.ServerInstance) (int64, error) {
	tracer := otel.Tracer("repo.servers")
	ctx, span := tracer.Start(ctx, "servers.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "server_instances"),
	)
	now := time.Now().UTC()
	q := `INSERT INTO server_instances
		(port, base_url, timeout_seconds, retries, wait_between_retries_ms, max_requests_queued, is_active, device_id, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id`
	row := r.Pool.QueryRow(ctx, q,
		s.Port, s.BaseURL, int(s.Timeout.Seconds()), s.Retries, s.WaitBetweenRetries.Milliseconds(),
		s.MaxRequestsQueued, s.IsActive, s.DeviceID, now, now)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("op=server.create: %w", err)
	}
	return id, nil
}

// Get loads a server instance by id.
func (r *ServerRepo) Get(ctx domain.Context, id int64) (domain.ServerInstance, error) {
	tracer := otel.Tracer("repo.servers")
	ctx, span := tracer.Start(ctx, "servers.Get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "server_instances"),
	)
	q := `SELECT id, port, base_url, timeout_seconds, retries, wait_between_retries_ms, max_requests_queued, is_active, device_id, created_at, updated_at
		FROM server_instances WHERE id=$1`
	row := r.Pool.QueryRow(ctx, q, id)
	return scanServer(row)
}

// List returns server instances matching the filter.
func (r *ServerRepo) List(ctx domain.Context, f domain.ServerFilter) ([]domain.ServerInstance, error) {
	tracer := otel.Tracer("repo.servers")
	ctx, span := tracer.Start(ctx, "servers.List")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "server_instances"),
	)
	q := `SELECT id, port, base_url, timeout_seconds, retries, wait_between_retries_ms, max_requests_queued, is_active, device_id, created_at, updated_at
		FROM server_instances`
	args := []any{}
	if f.IsActive != nil {
		q += ` WHERE is_active=$1`
		args = append(args, *f.IsActive)
	}
	q += ` ORDER BY id`
	rows, err := r.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("op=server.list: %w", err)
	}
	defer rows.Close()

	var out []domain.ServerInstance
	for rows.Next() {
		s, err := scanServerRow(rows)
		if err != nil {
			return nil, fmt.Errorf("op=server.list_scan: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=server.list_rows: %w", err)
	}
	return out, nil
}

// Update persists all mutable fields of a server instance.
func (r *ServerRepo) Update(ctx domain.Context, s domain.ServerInstance) error {
	tracer := otel.Tracer("repo.servers")
	ctx, span := tracer.Start(ctx, "servers.Update")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "server_instances"),
	)
	q := `UPDATE server_instances SET port=$2, base_url=$3, timeout_seconds=$4, retries=$5,
		wait_between_retries_ms=$6, max_requests_queued=$7, is_active=$8, device_id=$9, updated_at=$10
		WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, s.ID, s.Port, s.BaseURL, int(s.Timeout.Seconds()), s.Retries,
		s.WaitBetweenRetries.Milliseconds(), s.MaxRequestsQueued, s.IsActive, s.DeviceID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=server.update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=server.update: %w", domain.ErrNotFound)
	}
	return nil
}

// UpdateStatus flips is_active on one server instance (PATCH /servers/{id}/status).
func (r *ServerRepo) UpdateStatus(ctx domain.Context, id int64, isActive bool) error {
	tracer := otel.Tracer("repo.servers")
	ctx, span := tracer.Start(ctx, "servers.UpdateStatus")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "server_instances"),
	)
	q := `UPDATE server_instances SET is_active=$2, updated_at=$3 WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, id, isActive, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=server.update_status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=server.update_status: %w", domain.ErrNotFound)
	}
	return nil
}

// Delete removes a server instance by id.
func (r *ServerRepo) Delete(ctx domain.Context, id int64) error {
	tracer := otel.Tracer("repo.servers")
	ctx, span := tracer.Start(ctx, "servers.Delete")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "DELETE"),
		attribute.String("db.sql.table", "server_instances"),
	)
	q := `DELETE FROM server_instances WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("op=server.delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=server.delete: %w", domain.ErrNotFound)
	}
	return nil
}

// HasActiveBinding reports whether any bound (unbound_at IS NULL) binding
// currently occupies this server instance.
func (r *ServerRepo) HasActiveBinding(ctx domain.Context, serverID int64) (bool, error) {
	tracer := otel.Tracer("repo.servers")
	ctx, span := tracer.Start(ctx, "servers.HasActiveBinding")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "bindings"),
	)
	q := `SELECT EXISTS(SELECT 1 FROM bindings WHERE server_id=$1 AND unbound_at IS NULL)`
	row := r.Pool.QueryRow(ctx, q, serverID)
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, fmt.Errorf("op=server.has_active_binding: %w", err)
	}
	return exists, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanServer(row rowScanner) (domain.ServerInstance, error) {
	s, err := scanServerRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ServerInstance{}, fmt.Errorf("op=server.get: %w", domain.ErrNotFound)
	}
	return s, err
}

func scanServerRow(row rowScanner) (domain.ServerInstance, error) {
	var (
		s              domain.ServerInstance
		timeoutSeconds int
		waitMS         int64
	)
	if err := row.Scan(&s.ID, &s.Port, &s.BaseURL, &timeoutSeconds, &s.Retries, &waitMS,
		&s.MaxRequestsQueued, &s.IsActive, &s.DeviceID, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return domain.ServerInstance{}, err
	}
	s.Timeout = time.Duration(timeoutSeconds) * time.Second
	s.WaitBetweenRetries = time.Duration(waitMS) * time.Millisecond
	return s, nil
}
