package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ExecutionLockStore manages the cron registry: one row per minute-truncated
// execution instant. The UNIQUE constraint on execution_time is what gives
// cluster-wide mutual exclusion.
type ExecutionLockStore struct {
	db *sql.DB
}

func NewExecutionLockStore(db *sql.DB) *ExecutionLockStore {
	return &ExecutionLockStore{db: db}
}

// TryAcquire attempts to claim every schedule firing at executionTime.
// It returns (ownerToken, true) on success, ("", false) when another worker
// already holds the instant.
func (l *ExecutionLockStore) TryAcquire(executionTime time.Time, scheduleIDs []int) (string, bool, error) {
	ids, err := json.Marshal(scheduleIDs)
	if err != nil {
		return "", false, fmt.Errorf("failed to encode schedule IDs: %w", err)
	}

	token := uuid.NewString()
	query := `
		INSERT INTO execution_locks (execution_time, owner_token, schedule_ids, acquired_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
	`
	_, err = l.db.Exec(query, executionTime.UTC().Truncate(time.Minute), token, string(ids))
	if err != nil {
		if isUniqueViolation(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to acquire execution lock: %w", err)
	}
	return token, true, nil
}

// Release deletes the lock row. Idempotent: releasing a lock that is already
// gone is not an error.
func (l *ExecutionLockStore) Release(executionTime time.Time) error {
	_, err := l.db.Exec("DELETE FROM execution_locks WHERE execution_time = ?",
		executionTime.UTC().Truncate(time.Minute))
	if err != nil {
		return fmt.Errorf("failed to release execution lock: %w", err)
	}
	return nil
}

// ReapStale removes locks older than the grace period. A crashed worker's
// locks must not block the instant forever.
func (l *ExecutionLockStore) ReapStale(grace time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-grace)
	result, err := l.db.Exec("DELETE FROM execution_locks WHERE acquired_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to reap stale locks: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(rows), nil
}

// List returns all currently held locks, oldest first.
func (l *ExecutionLockStore) List() ([]ExecutionLock, error) {
	rows, err := l.db.Query(`SELECT id, execution_time, owner_token, schedule_ids, acquired_at
		FROM execution_locks ORDER BY acquired_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var locks []ExecutionLock
	for rows.Next() {
		var lock ExecutionLock
		if err := rows.Scan(&lock.ID, &lock.ExecutionTime, &lock.OwnerToken,
			&lock.ScheduleIDs, &lock.AcquiredAt); err != nil {
			return nil, err
		}
		locks = append(locks, lock)
	}
	return locks, rows.Err()
}

// isUniqueViolation detects a sqlite UNIQUE constraint failure without
// depending on driver error types.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
