package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// ProcessedEmailStore handles database operations for analyzed emails and
// their extracted entities and action items.
type ProcessedEmailStore struct {
	db *sql.DB
}

func NewProcessedEmailStore(db *sql.DB) *ProcessedEmailStore {
	return &ProcessedEmailStore{db: db}
}

const processedEmailColumns = `id, message_id, email_account_id, subject, from_address,
	to_addresses, cc_addresses, received_at, body_text, body_html,
	processing_status, category, priority, sentiment, summary, tags,
	confidence, importance_score, priority_reasoning, error_message,
	schedule_execution_id, processed_at, created_at, updated_at`

// Upsert stores the desired record keyed on message_id, replacing the
// children inside the same transaction. The idempotency contract: a
// COMPLETED row is immutable; FAILED (or PROCESSING/PENDING) rows may be
// overwritten by any later outcome. Returns the stored record.
func (p *ProcessedEmailStore) Upsert(record *ProcessedEmail) (*ProcessedEmail, error) {
	tx, err := p.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin upsert transaction: %w", err)
	}
	defer tx.Rollback()

	// The status check shares the transaction with the child rewrite so a
	// COMPLETED row committed by a concurrent writer cannot slip in between
	// the guarded parent UPDATE and the child DELETEs.
	var existingStatus ProcessingStatus
	err = tx.QueryRow("SELECT processing_status FROM processed_emails WHERE message_id = ?",
		record.MessageID).Scan(&existingStatus)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	if err == nil && existingStatus == ProcessingStatusCompleted {
		// Never downgrade a completed analysis. Release the transaction's
		// connection first so the read below doesn't go out on a second
		// pooled connection.
		tx.Rollback()
		return p.GetByMessageID(record.MessageID)
	}

	if record.ProcessedAt.IsZero() {
		record.ProcessedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO processed_emails (
			message_id, email_account_id, subject, from_address,
			to_addresses, cc_addresses, received_at, body_text, body_html,
			processing_status, category, priority, sentiment, summary, tags,
			confidence, importance_score, priority_reasoning, error_message,
			schedule_execution_id, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET
			email_account_id = excluded.email_account_id,
			subject = excluded.subject,
			from_address = excluded.from_address,
			to_addresses = excluded.to_addresses,
			cc_addresses = excluded.cc_addresses,
			received_at = excluded.received_at,
			body_text = excluded.body_text,
			body_html = excluded.body_html,
			processing_status = excluded.processing_status,
			category = excluded.category,
			priority = excluded.priority,
			sentiment = excluded.sentiment,
			summary = excluded.summary,
			tags = excluded.tags,
			confidence = excluded.confidence,
			importance_score = excluded.importance_score,
			priority_reasoning = excluded.priority_reasoning,
			error_message = excluded.error_message,
			schedule_execution_id = excluded.schedule_execution_id,
			processed_at = excluded.processed_at
		WHERE processed_emails.processing_status != 'COMPLETED'
	`
	_, err = tx.Exec(query,
		record.MessageID, record.EmailAccountID, record.Subject, record.FromAddress,
		jsonOrEmptyArray(record.ToAddresses), jsonOrEmptyArray(record.CcAddresses),
		record.ReceivedAt.UTC(), record.BodyText, record.BodyHTML,
		record.ProcessingStatus, record.Category, record.Priority, record.Sentiment,
		record.Summary, jsonOrEmptyArray(record.Tags),
		record.Confidence, record.ImportanceScore, record.PriorityReasoning,
		record.ErrorMessage, record.ScheduleExecutionID, record.ProcessedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert processed email: %w", err)
	}

	var id int
	if err := tx.QueryRow("SELECT id FROM processed_emails WHERE message_id = ?",
		record.MessageID).Scan(&id); err != nil {
		return nil, fmt.Errorf("failed to resolve processed email ID: %w", err)
	}

	// Children are recreated wholesale with their parent.
	if _, err := tx.Exec("DELETE FROM entity_extractions WHERE processed_email_id = ?", id); err != nil {
		return nil, fmt.Errorf("failed to clear entities: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM action_items WHERE processed_email_id = ?", id); err != nil {
		return nil, fmt.Errorf("failed to clear action items: %w", err)
	}

	for _, entity := range record.Entities {
		_, err := tx.Exec(`INSERT INTO entity_extractions
			(processed_email_id, entity_type, entity_value, confidence, context)
			VALUES (?, ?, ?, ?, ?)`,
			id, entity.EntityType, entity.EntityValue, entity.Confidence, entity.Context)
		if err != nil {
			return nil, fmt.Errorf("failed to insert entity: %w", err)
		}
	}
	for _, action := range record.ActionItems {
		_, err := tx.Exec(`INSERT INTO action_items
			(processed_email_id, action_type, description, priority, due_date, is_completed)
			VALUES (?, ?, ?, ?, ?, ?)`,
			id, action.ActionType, action.Description, action.Priority, action.DueDate, action.IsCompleted)
		if err != nil {
			return nil, fmt.Errorf("failed to insert action item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit upsert: %w", err)
	}

	return p.GetByMessageID(record.MessageID)
}

// GetByMessageID loads a processed email with its children.
func (p *ProcessedEmailStore) GetByMessageID(messageID string) (*ProcessedEmail, error) {
	query := fmt.Sprintf("SELECT %s FROM processed_emails WHERE message_id = ?", processedEmailColumns)
	record, err := scanProcessedEmailRow(p.db.QueryRow(query, messageID))
	if err != nil {
		return nil, err
	}
	if err := p.loadChildren(record); err != nil {
		return nil, err
	}
	return record, nil
}

// GetByID loads a processed email with its children.
func (p *ProcessedEmailStore) GetByID(id int) (*ProcessedEmail, error) {
	query := fmt.Sprintf("SELECT %s FROM processed_emails WHERE id = ?", processedEmailColumns)
	record, err := scanProcessedEmailRow(p.db.QueryRow(query, id))
	if err != nil {
		return nil, err
	}
	if err := p.loadChildren(record); err != nil {
		return nil, err
	}
	return record, nil
}

// FindProcessedMessageIDs returns the subset of the given message IDs that
// already have a COMPLETED record. The orchestrator uses it to skip already
// analyzed messages before batching a fetch.
func (p *ProcessedEmailStore) FindProcessedMessageIDs(messageIDs []string) (map[string]bool, error) {
	found := make(map[string]bool, len(messageIDs))
	if len(messageIDs) == 0 {
		return found, nil
	}

	placeholders := strings.Repeat("?,", len(messageIDs))
	placeholders = placeholders[:len(placeholders)-1]
	query := fmt.Sprintf(`SELECT message_id FROM processed_emails
		WHERE processing_status = 'COMPLETED' AND message_id IN (%s)`, placeholders)

	args := make([]interface{}, len(messageIDs))
	for i, id := range messageIDs {
		args[i] = id
	}

	rows, err := p.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		found[id] = true
	}
	return found, rows.Err()
}

// ListByAccount returns processed emails for one account, newest first.
func (p *ProcessedEmailStore) ListByAccount(accountID int, limit, offset int) ([]ProcessedEmail, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM processed_emails
		WHERE email_account_id = ?
		ORDER BY received_at DESC LIMIT ? OFFSET ?`, processedEmailColumns)

	rows, err := p.db.Query(query, accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []ProcessedEmail
	for rows.Next() {
		record, err := scanProcessedEmailRow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

// ListAll returns processed emails across all accounts, newest first.
func (p *ProcessedEmailStore) ListAll(limit, offset int) ([]ProcessedEmail, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM processed_emails
		ORDER BY received_at DESC LIMIT ? OFFSET ?`, processedEmailColumns)

	rows, err := p.db.Query(query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []ProcessedEmail
	for rows.Next() {
		record, err := scanProcessedEmailRow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

// DeleteOlderThan removes processed emails received before the cutoff.
// Children cascade. Returns the number of rows deleted.
func (p *ProcessedEmailStore) DeleteOlderThan(cutoff time.Time) (int, error) {
	result, err := p.db.Exec("DELETE FROM processed_emails WHERE received_at < ?", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old processed emails: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(rows), nil
}

func (p *ProcessedEmailStore) loadChildren(record *ProcessedEmail) error {
	rows, err := p.db.Query(`SELECT id, processed_email_id, entity_type, entity_value, confidence, context
		FROM entity_extractions WHERE processed_email_id = ? ORDER BY id`, record.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var entity EntityExtraction
		if err := rows.Scan(&entity.ID, &entity.ProcessedEmailID, &entity.EntityType,
			&entity.EntityValue, &entity.Confidence, &entity.Context); err != nil {
			return err
		}
		record.Entities = append(record.Entities, entity)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	actionRows, err := p.db.Query(`SELECT id, processed_email_id, action_type, description, priority, due_date, is_completed
		FROM action_items WHERE processed_email_id = ? ORDER BY id`, record.ID)
	if err != nil {
		return err
	}
	defer actionRows.Close()
	for actionRows.Next() {
		var action ActionItem
		if err := actionRows.Scan(&action.ID, &action.ProcessedEmailID, &action.ActionType,
			&action.Description, &action.Priority, &action.DueDate, &action.IsCompleted); err != nil {
			return err
		}
		record.ActionItems = append(record.ActionItems, action)
	}
	return actionRows.Err()
}

func scanProcessedEmailRow(row rowScanner) (*ProcessedEmail, error) {
	var record ProcessedEmail
	var processedAt sql.NullTime
	err := row.Scan(
		&record.ID, &record.MessageID, &record.EmailAccountID, &record.Subject,
		&record.FromAddress, &record.ToAddresses, &record.CcAddresses,
		&record.ReceivedAt, &record.BodyText, &record.BodyHTML,
		&record.ProcessingStatus, &record.Category, &record.Priority,
		&record.Sentiment, &record.Summary, &record.Tags,
		&record.Confidence, &record.ImportanceScore, &record.PriorityReasoning,
		&record.ErrorMessage, &record.ScheduleExecutionID, &processedAt,
		&record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if processedAt.Valid {
		record.ProcessedAt = processedAt.Time
	}
	return &record, nil
}

func jsonOrEmptyArray(s string) string {
	if s == "" {
		return "[]"
	}
	return s
}
