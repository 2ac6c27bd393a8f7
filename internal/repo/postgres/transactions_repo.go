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

// TransactionRepo persists transactions and their 1:1 balance snapshots
// (C2, §3 Transaction/TransactionSnapshot).
type TransactionRepo struct{ Pool PgxPool }

// NewTransactionRepo constructs a TransactionRepo with the given pool.
func NewTransactionRepo(p PgxPool) *TransactionRepo { return &TransactionRepo{Pool: p} }

const transactionColumns = `id, trx_id, t_id, server_id, account_id, binding_id, batch_id, device_id, product_id,
	email, limit_harga, amount, voucher_code, status, is_success, error_message, otp_required, otp_status,
	pause_reason, paused_at, resumed_at, created_at, updated_at`

// Create inserts a transaction and its snapshot in one transaction, enforcing
// the (binding_id, trx_id) uniqueness decided for the trx_id scope.
func (r *TransactionRepo) Create(ctx domain.Context, t domain.Transaction, snap domain.TransactionSnapshot) (int64, error) {
	tracer := otel.Tracer("repo.transactions")
	ctx, span := tracer.Start(ctx, "transactions.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "transactions"),
	)

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return 0, fmt.Errorf("op=transaction.create.begin_tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	now := time.Now().UTC()
	q := `INSERT INTO transactions (trx_id, t_id, server_id, account_id, binding_id, batch_id, device_id,
		product_id, email, limit_harga, amount, voucher_code, status, is_success, error_message, otp_required,
		otp_status, pause_reason, paused_at, resumed_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22) RETURNING id`
	row := tx.QueryRow(ctx, q, t.TrxID, t.TID, t.ServerID, t.AccountID, t.BindingID, t.BatchID, t.DeviceID,
		t.ProductID, t.Email, t.LimitHarga, t.Amount, t.VoucherCode, t.Status, t.IsSuccess, t.ErrorMessage,
		t.OTPRequired, t.OTPStatus, t.PauseReason, t.PausedAt, t.ResumedAt, now, now)
	var id int64
	if err := row.Scan(&id); err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("op=transaction.create: %w", domain.NewValidationError("transaction_duplicate_trx_id",
				"trx_id already used on this binding", ""))
		}
		return 0, fmt.Errorf("op=transaction.create.insert: %w", err)
	}

	snapQ := `INSERT INTO transaction_snapshots (transaction_id, balance_start, balance_end, trx_idv_raw,
		status_idv_raw, created_at, updated_at) VALUES ($1,$2,$3,$4,$5,$6,$7)`
	if _, err := tx.Exec(ctx, snapQ, id, snap.BalanceStart, snap.BalanceEnd, snap.TrxIDVRaw, snap.StatusIDVRaw, now, now); err != nil {
		return 0, fmt.Errorf("op=transaction.create.insert_snapshot: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("op=transaction.create.commit: %w", err)
	}
	committed = true
	return id, nil
}

// Get loads a transaction by id.
func (r *TransactionRepo) Get(ctx domain.Context, id int64) (domain.Transaction, error) {
	tracer := otel.Tracer("repo.transactions")
	ctx, span := tracer.Start(ctx, "transactions.Get")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "SELECT"))
	q := `SELECT ` + transactionColumns + ` FROM transactions WHERE id=$1`
	row := r.Pool.QueryRow(ctx, q, id)
	t, err := scanTransactionRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Transaction{}, fmt.Errorf("op=transaction.get: %w", domain.ErrNotFound)
	}
	return t, err
}

// List returns transactions matching the filter.
func (r *TransactionRepo) List(ctx domain.Context, f domain.TransactionFilter) ([]domain.Transaction, error) {
	tracer := otel.Tracer("repo.transactions")
	ctx, span := tracer.Start(ctx, "transactions.List")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "SELECT"))

	q := `SELECT ` + transactionColumns + ` FROM transactions`
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.BindingID != nil {
		where = append(where, "binding_id="+arg(*f.BindingID))
	}
	if f.AccountID != nil {
		where = append(where, "account_id="+arg(*f.AccountID))
	}
	if f.Status != nil {
		where = append(where, "status="+arg(*f.Status))
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
	q += " ORDER BY id DESC"

	rows, err := r.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("op=transaction.list: %w", err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		t, err := scanTransactionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("op=transaction.list_scan: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=transaction.list_rows: %w", err)
	}
	return out, nil
}

// Update persists all mutable fields of a transaction.
func (r *TransactionRepo) Update(ctx domain.Context, t domain.Transaction) error {
	tracer := otel.Tracer("repo.transactions")
	ctx, span := tracer.Start(ctx, "transactions.Update")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "UPDATE"))
	q := `UPDATE transactions SET t_id=$2, amount=$3, voucher_code=$4, status=$5, is_success=$6,
		error_message=$7, otp_required=$8, otp_status=$9, pause_reason=$10, paused_at=$11, resumed_at=$12,
		updated_at=$13 WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, t.ID, t.TID, t.Amount, t.VoucherCode, t.Status, t.IsSuccess,
		t.ErrorMessage, t.OTPRequired, t.OTPStatus, t.PauseReason, t.PausedAt, t.ResumedAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=transaction.update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=transaction.update: %w", domain.ErrNotFound)
	}
	return nil
}

// UpdateStatus writes a transaction's status alone; it backs the
// PATCH /v1/transactions/{id}/status handler. Service-layer transitions
// persist status through Update.
func (r *TransactionRepo) UpdateStatus(ctx domain.Context, id int64, status domain.TransactionStatus) error {
	tracer := otel.Tracer("repo.transactions")
	ctx, span := tracer.Start(ctx, "transactions.UpdateStatus")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "UPDATE"))
	q := `UPDATE transactions SET status=$2, updated_at=$3 WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, id, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=transaction.update_status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=transaction.update_status: %w", domain.ErrNotFound)
	}
	return nil
}

// Delete removes a transaction by id (its snapshot cascades).
func (r *TransactionRepo) Delete(ctx domain.Context, id int64) error {
	tracer := otel.Tracer("repo.transactions")
	ctx, span := tracer.Start(ctx, "transactions.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "DELETE"))
	tag, err := r.Pool.Exec(ctx, `DELETE FROM transactions WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("op=transaction.delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=transaction.delete: %w", domain.ErrNotFound)
	}
	return nil
}

// GetSnapshot loads a transaction's balance/payload snapshot.
func (r *TransactionRepo) GetSnapshot(ctx domain.Context, transactionID int64) (domain.TransactionSnapshot, error) {
	tracer := otel.Tracer("repo.transactions")
	ctx, span := tracer.Start(ctx, "transactions.GetSnapshot")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "SELECT"))
	q := `SELECT transaction_id, balance_start, balance_end, trx_idv_raw, status_idv_raw, created_at, updated_at
		FROM transaction_snapshots WHERE transaction_id=$1`
	row := r.Pool.QueryRow(ctx, q, transactionID)
	var s domain.TransactionSnapshot
	err := row.Scan(&s.TransactionID, &s.BalanceStart, &s.BalanceEnd, &s.TrxIDVRaw, &s.StatusIDVRaw, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TransactionSnapshot{}, fmt.Errorf("op=transaction.get_snapshot: %w", domain.ErrNotFound)
	}
	if err != nil {
		return domain.TransactionSnapshot{}, fmt.Errorf("op=transaction.get_snapshot: %w", err)
	}
	return s, nil
}

// UpdateSnapshot persists the balance/payload snapshot for a transaction,
// called whenever a status poll or order response revises the raw payloads.
func (r *TransactionRepo) UpdateSnapshot(ctx domain.Context, s domain.TransactionSnapshot) error {
	tracer := otel.Tracer("repo.transactions")
	ctx, span := tracer.Start(ctx, "transactions.UpdateSnapshot")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "UPDATE"))
	q := `UPDATE transaction_snapshots SET balance_start=$2, balance_end=$3, trx_idv_raw=$4, status_idv_raw=$5,
		updated_at=$6 WHERE transaction_id=$1`
	tag, err := r.Pool.Exec(ctx, q, s.TransactionID, s.BalanceStart, s.BalanceEnd, s.TrxIDVRaw, s.StatusIDVRaw, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=transaction.update_snapshot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=transaction.update_snapshot: %w", domain.ErrNotFound)
	}
	return nil
}

func scanTransactionRow(row rowScanner) (domain.Transaction, error) {
	var t domain.Transaction
	if err := row.Scan(&t.ID, &t.TrxID, &t.TID, &t.ServerID, &t.AccountID, &t.BindingID, &t.BatchID, &t.DeviceID,
		&t.ProductID, &t.Email, &t.LimitHarga, &t.Amount, &t.VoucherCode, &t.Status, &t.IsSuccess, &t.ErrorMessage,
		&t.OTPRequired, &t.OTPStatus, &t.PauseReason, &t.PausedAt, &t.ResumedAt, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return domain.Transaction{}, err
	}
	return t, nil
}
