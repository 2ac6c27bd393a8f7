package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CleanupService deletes terminal-state bindings and transactions past the
// configured retention window, a housekeeping job tied to
// DATA_RETENTION_DAYS/CLEANUP_INTERVAL rather than to any read API.
type CleanupService struct {
	Pool          *pgxpool.Pool
	RetentionDays int
}

// NewCleanupService creates a new cleanup service.
func NewCleanupService(pool *pgxpool.Pool, retentionDays int) *CleanupService {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return &CleanupService{Pool: pool, RetentionDays: retentionDays}
}

// CleanupOldData removes logged-out bindings and terminal transactions
// (SUKSES, SUSPECT, GAGAL) older than the retention period.
func (s *CleanupService) CleanupOldData(ctx context.Context) error {
	cutoff := time.Now().AddDate(0, 0, -s.RetentionDays)

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("op=cleanup.begin_tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var deletedTransactions int64
	err = tx.QueryRow(ctx, `
		WITH deleted AS (
			DELETE FROM transactions
			WHERE status IN ('SUKSES','SUSPECT','GAGAL') AND updated_at < $1
			RETURNING 1
		)
		SELECT count(*) FROM deleted
	`, cutoff).Scan(&deletedTransactions)
	if err != nil {
		slog.Debug("no transactions to delete", slog.Any("error", err))
	}

	var deletedBindings int64
	err = tx.QueryRow(ctx, `
		WITH deleted AS (
			DELETE FROM bindings
			WHERE unbound_at IS NOT NULL AND unbound_at < $1
			RETURNING 1
		)
		SELECT count(*) FROM deleted
	`, cutoff).Scan(&deletedBindings)
	if err != nil {
		slog.Debug("no bindings to delete", slog.Any("error", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=cleanup.commit: %w", err)
	}

	slog.Info("data cleanup completed",
		slog.Int64("deleted_transactions", deletedTransactions),
		slog.Int64("deleted_bindings", deletedBindings),
		slog.Time("cutoff", cutoff),
	)
	return nil
}

// RunPeriodic runs CleanupOldData once immediately, then on every tick of
// interval until ctx is cancelled.
func (s *CleanupService) RunPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := s.CleanupOldData(ctx); err != nil {
		slog.Error("initial cleanup failed", slog.Any("error", err))
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("cleanup service stopping")
			return
		case <-ticker.C:
			if err := s.CleanupOldData(ctx); err != nil {
				slog.Error("periodic cleanup failed", slog.Any("error", err))
			}
		}
	}
}
