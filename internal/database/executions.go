package database

import (
	"database/sql"
	"fmt"
	"time"
)

// ExecutionStore handles database operations for schedule executions
type ExecutionStore struct {
	db *sql.DB
}

func NewExecutionStore(db *sql.DB) *ExecutionStore {
	return &ExecutionStore{db: db}
}

const executionColumns = `id, schedule_id, status, started_at, completed_at, max_attempts,
	total_batches_count, completed_batches_count, total_emails_count,
	processed_emails_count, failed_emails_count, processing_duration_ms,
	error_message, error_details, created_at, updated_at`

// Create inserts a new RUNNING execution for a schedule.
func (e *ExecutionStore) Create(scheduleID int) (*ScheduleExecution, error) {
	now := time.Now().UTC()
	query := `
		INSERT INTO schedule_executions (schedule_id, status, started_at, max_attempts)
		VALUES (?, ?, ?, 1)
	`
	result, err := e.db.Exec(query, scheduleID, ExecutionStatusRunning, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get execution ID: %w", err)
	}

	return e.GetByID(int(id))
}

// GetByID retrieves an execution by ID
func (e *ExecutionStore) GetByID(id int) (*ScheduleExecution, error) {
	query := fmt.Sprintf("SELECT %s FROM schedule_executions WHERE id = ?", executionColumns)
	return scanExecution(e.db.QueryRow(query, id))
}

// ListBySchedule returns executions of a schedule, newest first.
func (e *ExecutionStore) ListBySchedule(scheduleID int, limit int) ([]ScheduleExecution, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM schedule_executions
		WHERE schedule_id = ? ORDER BY started_at DESC LIMIT ?`, executionColumns)

	rows, err := e.db.Query(query, scheduleID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var executions []ScheduleExecution
	for rows.Next() {
		exec, err := scanExecutionRow(rows)
		if err != nil {
			return nil, err
		}
		executions = append(executions, *exec)
	}
	return executions, rows.Err()
}

// LastSuccessful returns the most recent COMPLETED execution of a schedule,
// or nil if it has never completed.
func (e *ExecutionStore) LastSuccessful(scheduleID int) (*ScheduleExecution, error) {
	query := fmt.Sprintf(`SELECT %s FROM schedule_executions
		WHERE schedule_id = ? AND status = ?
		ORDER BY completed_at DESC LIMIT 1`, executionColumns)

	exec, err := scanExecution(e.db.QueryRow(query, scheduleID, ExecutionStatusCompleted))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return exec, err
}

// UpdateProgress writes the counter snapshot in one transaction. Counters are
// monotonic: the update refuses to move any counter backwards.
func (e *ExecutionStore) UpdateProgress(id int, counters ExecutionCounters) error {
	tx, err := e.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin progress transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		UPDATE schedule_executions SET
			total_batches_count = MAX(total_batches_count, ?),
			completed_batches_count = MAX(completed_batches_count, ?),
			total_emails_count = MAX(total_emails_count, ?),
			processed_emails_count = MAX(processed_emails_count, ?),
			failed_emails_count = MAX(failed_emails_count, ?)
		WHERE id = ?
	`
	result, err := tx.Exec(query,
		counters.TotalBatchesCount, counters.CompletedBatchesCount,
		counters.TotalEmailsCount, counters.ProcessedEmailsCount,
		counters.FailedEmailsCount, id)
	if err != nil {
		return fmt.Errorf("failed to update execution progress: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return sql.ErrNoRows
	}

	return tx.Commit()
}

// Finish transitions an execution to a terminal state exactly once. A second
// call against an already-terminal row is a no-op returning sql.ErrNoRows.
func (e *ExecutionStore) Finish(id int, status ExecutionStatus, durationMs int64, errMessage, errDetails *string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("finish requires a terminal status, got %q", status)
	}

	query := `
		UPDATE schedule_executions SET
			status = ?,
			completed_at = ?,
			processing_duration_ms = ?,
			error_message = ?,
			error_details = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?
	`
	result, err := e.db.Exec(query, status, time.Now().UTC(), durationMs,
		errMessage, errDetails, id, ExecutionStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to finish execution: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ReapStale marks RUNNING executions older than the threshold as FAILED.
// Returns the number of executions reaped.
func (e *ExecutionStore) ReapStale(olderThan time.Time) (int, error) {
	msg := "execution reaped: exceeded staleness threshold"
	query := `
		UPDATE schedule_executions SET
			status = ?,
			completed_at = CURRENT_TIMESTAMP,
			error_message = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE status = ? AND started_at < ?
	`
	result, err := e.db.Exec(query, ExecutionStatusFailed, msg, ExecutionStatusRunning, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to reap stale executions: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(rows), nil
}

func scanExecution(row *sql.Row) (*ScheduleExecution, error) {
	return scanExecutionRow(row)
}

func scanExecutionRow(row rowScanner) (*ScheduleExecution, error) {
	var exec ScheduleExecution
	err := row.Scan(
		&exec.ID, &exec.ScheduleID, &exec.Status, &exec.StartedAt, &exec.CompletedAt,
		&exec.MaxAttempts, &exec.TotalBatchesCount, &exec.CompletedBatchesCount,
		&exec.TotalEmailsCount, &exec.ProcessedEmailsCount, &exec.FailedEmailsCount,
		&exec.ProcessingDurationMs, &exec.ErrorMessage, &exec.ErrorDetails,
		&exec.CreatedAt, &exec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &exec, nil
}
