package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// ScheduleStore handles database operations for schedules
type ScheduleStore struct {
	db *sql.DB
}

func NewScheduleStore(db *sql.DB) *ScheduleStore {
	return &ScheduleStore{db: db}
}

const scheduleColumns = `id, user_id, email_account_id, name, processing_type,
	date_range_from, date_range_to, cron_expression, timezone, specific_dates,
	batch_size, sender_priorities, email_type_priorities, llm_focus,
	is_enabled, is_default, next_execution_at, last_executed_at,
	total_executions, failed_executions, created_at, updated_at`

// Create inserts a new schedule after validating its invariants.
func (s *ScheduleStore) Create(schedule *Schedule) error {
	if err := schedule.Validate(); err != nil {
		return err
	}

	specificDates, senderPriorities, typePriorities, err := encodeScheduleJSON(schedule)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO schedules (
			user_id, email_account_id, name, processing_type,
			date_range_from, date_range_to, cron_expression, timezone, specific_dates,
			batch_size, sender_priorities, email_type_priorities, llm_focus,
			is_enabled, is_default, next_execution_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.Exec(query,
		schedule.UserID, schedule.EmailAccountID, schedule.Name, schedule.ProcessingType,
		schedule.DateRangeFrom, schedule.DateRangeTo,
		nullableString(schedule.CronExpression), schedule.Timezone, specificDates,
		schedule.BatchSize, senderPriorities, typePriorities, schedule.LLMFocus,
		schedule.IsEnabled, schedule.IsDefault, schedule.NextExecutionAt)
	if err != nil {
		return fmt.Errorf("failed to create schedule: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get schedule ID: %w", err)
	}
	schedule.ID = int(id)
	return nil
}

// Update rewrites every mutable field of an existing schedule.
func (s *ScheduleStore) Update(schedule *Schedule) error {
	if err := schedule.Validate(); err != nil {
		return err
	}

	specificDates, senderPriorities, typePriorities, err := encodeScheduleJSON(schedule)
	if err != nil {
		return err
	}

	query := `
		UPDATE schedules SET
			name = ?, processing_type = ?, date_range_from = ?, date_range_to = ?,
			cron_expression = ?, timezone = ?, specific_dates = ?, batch_size = ?,
			sender_priorities = ?, email_type_priorities = ?, llm_focus = ?,
			is_enabled = ?, is_default = ?, next_execution_at = ?
		WHERE id = ?
	`

	result, err := s.db.Exec(query,
		schedule.Name, schedule.ProcessingType, schedule.DateRangeFrom, schedule.DateRangeTo,
		nullableString(schedule.CronExpression), schedule.Timezone, specificDates, schedule.BatchSize,
		senderPriorities, typePriorities, schedule.LLMFocus,
		schedule.IsEnabled, schedule.IsDefault, schedule.NextExecutionAt,
		schedule.ID)
	if err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
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

// GetByID retrieves a schedule by ID
func (s *ScheduleStore) GetByID(id int) (*Schedule, error) {
	query := fmt.Sprintf("SELECT %s FROM schedules WHERE id = ?", scheduleColumns)
	return scanSchedule(s.db.QueryRow(query, id))
}

// ListByUser returns every schedule owned by a user, newest first.
func (s *ScheduleStore) ListByUser(userID int) ([]Schedule, error) {
	query := fmt.Sprintf("SELECT %s FROM schedules WHERE user_id = ? ORDER BY created_at DESC", scheduleColumns)
	return s.queryAll(query, userID)
}

// ListAll returns every schedule, newest first.
func (s *ScheduleStore) ListAll() ([]Schedule, error) {
	query := fmt.Sprintf("SELECT %s FROM schedules ORDER BY created_at DESC", scheduleColumns)
	return s.queryAll(query)
}

// LoadDue returns enabled schedules whose next_execution_at has passed.
func (s *ScheduleStore) LoadDue(now time.Time) ([]Schedule, error) {
	query := fmt.Sprintf(`SELECT %s FROM schedules
		WHERE is_enabled = TRUE AND next_execution_at IS NOT NULL AND next_execution_at <= ?
		ORDER BY next_execution_at ASC`, scheduleColumns)
	return s.queryAll(query, now.UTC())
}

// SetEnabled toggles a schedule without touching its other fields.
func (s *ScheduleStore) SetEnabled(id int, enabled bool) error {
	result, err := s.db.Exec("UPDATE schedules SET is_enabled = ? WHERE id = ?", enabled, id)
	if err != nil {
		return fmt.Errorf("failed to set enabled: %w", err)
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

// Delete removes a schedule. Past executions cascade away with it.
func (s *ScheduleStore) Delete(id int) error {
	result, err := s.db.Exec("DELETE FROM schedules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
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

// Advance atomically records the outcome of a firing: next/last execution
// times and the success or failure counter, in one transaction.
// Passing nextAt = nil together with disable = true retires the schedule
// (date-range schedules and exhausted specific-date schedules).
func (s *ScheduleStore) Advance(id int, nextAt *time.Time, lastAt time.Time, ok bool, disable bool) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin advance transaction: %w", err)
	}
	defer tx.Rollback()

	failedDelta := 0
	if !ok {
		failedDelta = 1
	}

	query := `
		UPDATE schedules SET
			next_execution_at = ?,
			last_executed_at = ?,
			total_executions = total_executions + 1,
			failed_executions = failed_executions + ?,
			is_enabled = CASE WHEN ? THEN FALSE ELSE is_enabled END
		WHERE id = ?
	`
	result, err := tx.Exec(query, nextAt, lastAt.UTC(), failedDelta, disable, id)
	if err != nil {
		return fmt.Errorf("failed to advance schedule: %w", err)
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

func (s *ScheduleStore) queryAll(query string, args ...interface{}) ([]Schedule, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []Schedule
	for rows.Next() {
		schedule, err := scanScheduleRow(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, *schedule)
	}
	return schedules, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSchedule(row *sql.Row) (*Schedule, error) {
	return scanScheduleRow(row)
}

func scanScheduleRow(row rowScanner) (*Schedule, error) {
	var schedule Schedule
	var cronExpr, specificDates, senderPriorities, typePriorities sql.NullString

	err := row.Scan(
		&schedule.ID, &schedule.UserID, &schedule.EmailAccountID, &schedule.Name,
		&schedule.ProcessingType, &schedule.DateRangeFrom, &schedule.DateRangeTo,
		&cronExpr, &schedule.Timezone, &specificDates,
		&schedule.BatchSize, &senderPriorities, &typePriorities, &schedule.LLMFocus,
		&schedule.IsEnabled, &schedule.IsDefault,
		&schedule.NextExecutionAt, &schedule.LastExecutedAt,
		&schedule.TotalExecutions, &schedule.FailedExecutions,
		&schedule.CreatedAt, &schedule.UpdatedAt)
	if err != nil {
		return nil, err
	}

	schedule.CronExpression = cronExpr.String

	if specificDates.Valid && specificDates.String != "" {
		if err := json.Unmarshal([]byte(specificDates.String), &schedule.SpecificDates); err != nil {
			return nil, fmt.Errorf("failed to decode specific dates: %w", err)
		}
	}
	if senderPriorities.Valid && senderPriorities.String != "" {
		if err := json.Unmarshal([]byte(senderPriorities.String), &schedule.SenderPriorities); err != nil {
			return nil, fmt.Errorf("failed to decode sender priorities: %w", err)
		}
	}
	if typePriorities.Valid && typePriorities.String != "" {
		if err := json.Unmarshal([]byte(typePriorities.String), &schedule.EmailTypePriorities); err != nil {
			return nil, fmt.Errorf("failed to decode email type priorities: %w", err)
		}
	}

	return &schedule, nil
}

func encodeScheduleJSON(schedule *Schedule) (specificDates, senderPriorities, typePriorities string, err error) {
	b, err := json.Marshal(schedule.SpecificDates)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to encode specific dates: %w", err)
	}
	specificDates = string(b)

	b, err = json.Marshal(schedule.SenderPriorities)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to encode sender priorities: %w", err)
	}
	senderPriorities = string(b)

	b, err = json.Marshal(schedule.EmailTypePriorities)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to encode email type priorities: %w", err)
	}
	typePriorities = string(b)
	return specificDates, senderPriorities, typePriorities, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
