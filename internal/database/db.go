package database

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the sql.DB connection and provides access to stores
type DB struct {
	*sql.DB
	Accounts        *AccountStore
	Schedules       *ScheduleStore
	Executions      *ExecutionStore
	ProcessedEmails *ProcessedEmailStore
	Locks           *ExecutionLockStore
	Templates       *TemplateStore
}

// Open opens a database connection and initializes stores
func Open(dbPath string) (*DB, error) {
	// Connection settings go in the DSN so the driver applies them to every
	// pooled connection. A PRAGMA issued with db.Exec only reaches the one
	// connection it happens to run on; foreign keys and the busy timeout
	// must hold on all of them. WAL mode is for concurrent access between
	// the dispatcher and the API.
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	dsn := dbPath + sep + "_foreign_keys=on&_busy_timeout=30000&_journal_mode=WAL"

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	database := &DB{
		DB:              db,
		Accounts:        NewAccountStore(db),
		Schedules:       NewScheduleStore(db),
		Executions:      NewExecutionStore(db),
		ProcessedEmails: NewProcessedEmailStore(db),
		Locks:           NewExecutionLockStore(db),
		Templates:       NewTemplateStore(db),
	}

	if err := database.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return database, nil
}

// migrate creates the database schema
func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS email_accounts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		address TEXT NOT NULL,
		imap_host TEXT NOT NULL,
		imap_port INTEGER NOT NULL DEFAULT 993,
		username TEXT NOT NULL,
		auth_method TEXT NOT NULL DEFAULT 'password',
		password TEXT NOT NULL DEFAULT '',
		oauth_token TEXT NOT NULL DEFAULT '',
		use_tls BOOLEAN NOT NULL DEFAULT TRUE,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS schedules (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		email_account_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		processing_type TEXT NOT NULL,
		date_range_from DATETIME,
		date_range_to DATETIME,
		cron_expression TEXT,
		timezone TEXT NOT NULL DEFAULT 'UTC',
		specific_dates TEXT,
		batch_size INTEGER NOT NULL DEFAULT 5,
		sender_priorities TEXT,
		email_type_priorities TEXT,
		llm_focus TEXT NOT NULL DEFAULT 'general',
		is_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		is_default BOOLEAN NOT NULL DEFAULT FALSE,
		next_execution_at DATETIME,
		last_executed_at DATETIME,
		total_executions INTEGER NOT NULL DEFAULT 0,
		failed_executions INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (email_account_id) REFERENCES email_accounts(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS schedule_executions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		schedule_id INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'RUNNING',
		started_at DATETIME NOT NULL,
		completed_at DATETIME,
		max_attempts INTEGER NOT NULL DEFAULT 1,
		total_batches_count INTEGER NOT NULL DEFAULT 0,
		completed_batches_count INTEGER NOT NULL DEFAULT 0,
		total_emails_count INTEGER NOT NULL DEFAULT 0,
		processed_emails_count INTEGER NOT NULL DEFAULT 0,
		failed_emails_count INTEGER NOT NULL DEFAULT 0,
		processing_duration_ms INTEGER,
		error_message TEXT,
		error_details TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (schedule_id) REFERENCES schedules(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS execution_locks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		execution_time DATETIME NOT NULL UNIQUE,
		owner_token TEXT NOT NULL,
		schedule_ids TEXT NOT NULL DEFAULT '[]',
		acquired_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS processed_emails (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id TEXT NOT NULL UNIQUE,
		email_account_id INTEGER NOT NULL,
		subject TEXT NOT NULL DEFAULT '',
		from_address TEXT NOT NULL DEFAULT '',
		to_addresses TEXT NOT NULL DEFAULT '[]',
		cc_addresses TEXT NOT NULL DEFAULT '[]',
		received_at DATETIME NOT NULL,
		body_text TEXT NOT NULL DEFAULT '',
		body_html TEXT NOT NULL DEFAULT '',
		processing_status TEXT NOT NULL DEFAULT 'PENDING',
		category TEXT NOT NULL DEFAULT 'PERSONAL',
		priority TEXT NOT NULL DEFAULT 'MEDIUM',
		sentiment TEXT NOT NULL DEFAULT 'NEUTRAL',
		summary TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '[]',
		confidence REAL NOT NULL DEFAULT 0,
		importance_score INTEGER,
		priority_reasoning TEXT,
		error_message TEXT,
		schedule_execution_id INTEGER,
		processed_at DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (email_account_id) REFERENCES email_accounts(id) ON DELETE CASCADE,
		FOREIGN KEY (schedule_execution_id) REFERENCES schedule_executions(id) ON DELETE SET NULL
	);

	CREATE TABLE IF NOT EXISTS entity_extractions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		processed_email_id INTEGER NOT NULL,
		entity_type TEXT NOT NULL,
		entity_value TEXT NOT NULL,
		confidence REAL NOT NULL DEFAULT 0,
		context TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (processed_email_id) REFERENCES processed_emails(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS action_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		processed_email_id INTEGER NOT NULL,
		action_type TEXT NOT NULL,
		description TEXT NOT NULL,
		priority TEXT NOT NULL DEFAULT 'MEDIUM',
		due_date DATETIME,
		is_completed BOOLEAN NOT NULL DEFAULT FALSE,
		FOREIGN KEY (processed_email_id) REFERENCES processed_emails(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS prompt_templates (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		categories TEXT NOT NULL DEFAULT '[]',
		template TEXT NOT NULL,
		expected_output_schema TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 1,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_schedules_due ON schedules(is_enabled, next_execution_at);
	CREATE INDEX IF NOT EXISTS idx_schedules_account ON schedules(email_account_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_schedules_default
		ON schedules(user_id, email_account_id) WHERE is_default = TRUE;
	CREATE INDEX IF NOT EXISTS idx_executions_schedule ON schedule_executions(schedule_id, started_at);
	CREATE INDEX IF NOT EXISTS idx_executions_status ON schedule_executions(status);
	CREATE INDEX IF NOT EXISTS idx_processed_account ON processed_emails(email_account_id, received_at);
	CREATE INDEX IF NOT EXISTS idx_processed_status ON processed_emails(processing_status);
	CREATE INDEX IF NOT EXISTS idx_entities_email ON entity_extractions(processed_email_id);
	CREATE INDEX IF NOT EXISTS idx_actions_email ON action_items(processed_email_id);

	CREATE TRIGGER IF NOT EXISTS update_schedules_updated_at
		AFTER UPDATE ON schedules
	BEGIN
		UPDATE schedules SET updated_at = CURRENT_TIMESTAMP WHERE id = NEW.id;
	END;

	CREATE TRIGGER IF NOT EXISTS update_processed_emails_updated_at
		AFTER UPDATE ON processed_emails
	BEGIN
		UPDATE processed_emails SET updated_at = CURRENT_TIMESTAMP WHERE id = NEW.id;
	END;
	`

	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
