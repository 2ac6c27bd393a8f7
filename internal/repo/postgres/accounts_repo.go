package postgres

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hasanmaki/mkit-idv-next/internal/domain"
)

// AccountRepo persists accounts (C2, §3 Account).
type AccountRepo struct{ Pool PgxPool }

// NewAccountRepo constructs an AccountRepo with the given pool.
func NewAccountRepo(p PgxPool) *AccountRepo { return &AccountRepo{Pool: p} }

const accountColumns = `id, msisdn, batch_id, email, pin, status, is_reseller, balance_last, used_count,
	last_used_at, last_device_id, notes, created_at, updated_at`

// Create inserts a new account and returns its id.
func (r *AccountRepo) Create(ctx domain.Context, a domain.Account) (int64, error) {
	tracer := otel.Tracer("repo.accounts")
	ctx, span := tracer.Start(ctx, "accounts.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "accounts"),
	)
	now := time.Now().UTC()
	q := `INSERT INTO accounts (msisdn, batch_id, email, pin, status, is_reseller, balance_last, used_count,
		last_used_at, last_device_id, notes, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13) RETURNING id`
	row := r.Pool.QueryRow(ctx, q, a.MSISDN, a.BatchID, a.Email, a.PIN, a.Status, a.IsReseller,
		a.BalanceLast, a.UsedCount, a.LastUsedAt, a.LastDeviceID, a.Notes, now, now)
	var id int64
	if err := row.Scan(&id); err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("op=account.create: %w", domain.NewValidationError("account_duplicate",
				"account already exists for this msisdn/batch_id", ""))
		}
		return 0, fmt.Errorf("op=account.create: %w", err)
	}
	return id, nil
}

// Get loads an account by id.
func (r *AccountRepo) Get(ctx domain.Context, id int64) (domain.Account, error) {
	tracer := otel.Tracer("repo.accounts")
	ctx, span := tracer.Start(ctx, "accounts.Get")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "SELECT"))
	q := `SELECT ` + accountColumns + ` FROM accounts WHERE id=$1`
	row := r.Pool.QueryRow(ctx, q, id)
	a, err := scanAccountRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Account{}, fmt.Errorf("op=account.get: %w", domain.ErrNotFound)
	}
	return a, err
}

// GetByMSISDNBatch loads an account by its (msisdn, batch_id) natural key.
func (r *AccountRepo) GetByMSISDNBatch(ctx domain.Context, msisdn, batchID string) (domain.Account, error) {
	tracer := otel.Tracer("repo.accounts")
	ctx, span := tracer.Start(ctx, "accounts.GetByMSISDNBatch")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "SELECT"))
	q := `SELECT ` + accountColumns + ` FROM accounts WHERE msisdn=$1 AND batch_id=$2`
	row := r.Pool.QueryRow(ctx, q, msisdn, batchID)
	a, err := scanAccountRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Account{}, fmt.Errorf("op=account.get_by_msisdn_batch: %w", domain.ErrNotFound)
	}
	return a, err
}

// List returns accounts matching the filter.
func (r *AccountRepo) List(ctx domain.Context, f domain.AccountFilter) ([]domain.Account, error) {
	tracer := otel.Tracer("repo.accounts")
	ctx, span := tracer.Start(ctx, "accounts.List")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "SELECT"))

	q := `SELECT ` + accountColumns + ` FROM accounts`
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.Status != nil {
		where = append(where, "status="+arg(*f.Status))
	}
	if f.IsReseller != nil {
		where = append(where, "is_reseller="+arg(*f.IsReseller))
	}
	if f.BatchID != nil {
		where = append(where, "batch_id="+arg(*f.BatchID))
	}
	if f.Email != nil {
		where = append(where, "email="+arg(*f.Email))
	}
	if f.MSISDN != nil {
		where = append(where, "msisdn="+arg(*f.MSISDN))
	}
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id"

	rows, err := r.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("op=account.list: %w", err)
	}
	defer rows.Close()

	var out []domain.Account
	for rows.Next() {
		a, err := scanAccountRow(rows)
		if err != nil {
			return nil, fmt.Errorf("op=account.list_scan: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=account.list_rows: %w", err)
	}
	return out, nil
}

// Update persists all mutable fields of an account.
func (r *AccountRepo) Update(ctx domain.Context, a domain.Account) error {
	tracer := otel.Tracer("repo.accounts")
	ctx, span := tracer.Start(ctx, "accounts.Update")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "UPDATE"))
	q := `UPDATE accounts SET email=$2, pin=$3, status=$4, is_reseller=$5, balance_last=$6, used_count=$7,
		last_used_at=$8, last_device_id=$9, notes=$10, updated_at=$11 WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, a.ID, a.Email, a.PIN, a.Status, a.IsReseller, a.BalanceLast, a.UsedCount,
		a.LastUsedAt, a.LastDeviceID, a.Notes, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=account.update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=account.update: %w", domain.ErrNotFound)
	}
	return nil
}

// Delete removes an account by id.
func (r *AccountRepo) Delete(ctx domain.Context, id int64) error {
	tracer := otel.Tracer("repo.accounts")
	ctx, span := tracer.Start(ctx, "accounts.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "DELETE"))
	tag, err := r.Pool.Exec(ctx, `DELETE FROM accounts WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("op=account.delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=account.delete: %w", domain.ErrNotFound)
	}
	return nil
}

// DeleteByMSISDNBatch removes an account by its natural key, for the
// msisdn+batch_id deletion path supplementing the id-based one.
func (r *AccountRepo) DeleteByMSISDNBatch(ctx domain.Context, msisdn, batchID string) error {
	tracer := otel.Tracer("repo.accounts")
	ctx, span := tracer.Start(ctx, "accounts.DeleteByMSISDNBatch")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "DELETE"))
	tag, err := r.Pool.Exec(ctx, `DELETE FROM accounts WHERE msisdn=$1 AND batch_id=$2`, msisdn, batchID)
	if err != nil {
		return fmt.Errorf("op=account.delete_by_msisdn_batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=account.delete_by_msisdn_batch: %w", domain.ErrNotFound)
	}
	return nil
}

// IncrementUsage bumps used_count and stamps last_used_at/last_device_id.
// The services do not call it; binding creation bumps used_count through
// Update instead.
func (r *AccountRepo) IncrementUsage(ctx domain.Context, id int64, deviceID *string) error {
	tracer := otel.Tracer("repo.accounts")
	ctx, span := tracer.Start(ctx, "accounts.IncrementUsage")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "UPDATE"))
	now := time.Now().UTC()
	q := `UPDATE accounts SET used_count=used_count+1, last_used_at=$2, last_device_id=$3, updated_at=$2 WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, id, now, deviceID)
	if err != nil {
		return fmt.Errorf("op=account.increment_usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=account.increment_usage: %w", domain.ErrNotFound)
	}
	return nil
}

func scanAccountRow(row rowScanner) (domain.Account, error) {
	var a domain.Account
	if err := row.Scan(&a.ID, &a.MSISDN, &a.BatchID, &a.Email, &a.PIN, &a.Status, &a.IsReseller,
		&a.BalanceLast, &a.UsedCount, &a.LastUsedAt, &a.LastDeviceID, &a.Notes, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return domain.Account{}, err
	}
	return a, nil
}

// isUniqueViolation reports whether err is a Postgres unique_violation
// (SQLSTATE 23505), grounded on pgconn.PgError code checks used elsewhere in
// the pack's repository layers.
func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
