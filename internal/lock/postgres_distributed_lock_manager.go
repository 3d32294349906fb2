package lock

import (
	"context"
	"database/sql"
	"fmt"
)

type PostgresDistributedLockManager struct {
	db *sql.DB
}

func NewPostgresDistributedLockManager(db *sql.DB) *PostgresDistributedLockManager {
	return &PostgresDistributedLockManager{db: db}
}

func (l *PostgresDistributedLockManager) Acquire(ctx context.Context, lockID int) error {
	_, err := l.db.ExecContext(ctx, "SELECT pg_advisory_lock($1)", lockID)
	if err != nil {
		return fmt.Errorf("failed to acquire lock %d: %w", lockID, err)
	}
	return nil
}

func (l *PostgresDistributedLockManager) TryAcquire(ctx context.Context, lockID int) (bool, error) {
	var ok bool
	err := l.db.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", lockID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("failed to try lock %d: %w", lockID, err)
	}
	return ok, nil
}

func (l *PostgresDistributedLockManager) Release(ctx context.Context, lockID int) error {
	_, err := l.db.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", lockID)
	if err != nil {
		return fmt.Errorf("failed to release lock %d: %w", lockID, err)
	}
	return nil
}
