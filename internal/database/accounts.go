package database

import (
	"database/sql"
	"fmt"
)

// AccountStore handles database operations for email accounts
type AccountStore struct {
	db *sql.DB
}

func NewAccountStore(db *sql.DB) *AccountStore {
	return &AccountStore{db: db}
}

const accountColumns = `id, user_id, name, address, imap_host, imap_port,
	username, auth_method, password, oauth_token, use_tls, is_active,
	created_at, updated_at`

// Create inserts a new email account.
func (a *AccountStore) Create(account *EmailAccount) error {
	if account.IMAPHost == "" {
		return fmt.Errorf("IMAP host is required")
	}
	if account.IMAPPort == 0 {
		account.IMAPPort = 993
	}
	if account.AuthMethod == "" {
		account.AuthMethod = "password"
	}

	query := `
		INSERT INTO email_accounts (user_id, name, address, imap_host, imap_port,
			username, auth_method, password, oauth_token, use_tls, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := a.db.Exec(query, account.UserID, account.Name, account.Address,
		account.IMAPHost, account.IMAPPort, account.Username, account.AuthMethod,
		account.Password, account.OAuthToken, account.UseTLS, account.IsActive)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get account ID: %w", err)
	}
	account.ID = int(id)
	return nil
}

// GetByID retrieves an account by ID
func (a *AccountStore) GetByID(id int) (*EmailAccount, error) {
	query := fmt.Sprintf("SELECT %s FROM email_accounts WHERE id = ?", accountColumns)
	return scanAccountRow(a.db.QueryRow(query, id))
}

// ListByUser returns a user's accounts.
func (a *AccountStore) ListByUser(userID int) ([]EmailAccount, error) {
	query := fmt.Sprintf("SELECT %s FROM email_accounts WHERE user_id = ? ORDER BY created_at", accountColumns)
	rows, err := a.db.Query(query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []EmailAccount
	for rows.Next() {
		account, err := scanAccountRow(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *account)
	}
	return accounts, rows.Err()
}

// ListAll returns every configured account.
func (a *AccountStore) ListAll() ([]EmailAccount, error) {
	query := fmt.Sprintf("SELECT %s FROM email_accounts ORDER BY created_at", accountColumns)
	rows, err := a.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []EmailAccount
	for rows.Next() {
		account, err := scanAccountRow(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *account)
	}
	return accounts, rows.Err()
}

// SetActive toggles an account.
func (a *AccountStore) SetActive(id int, active bool) error {
	result, err := a.db.Exec("UPDATE email_accounts SET is_active = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?", active, id)
	if err != nil {
		return fmt.Errorf("failed to set account active: %w", err)
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

func scanAccountRow(row rowScanner) (*EmailAccount, error) {
	var account EmailAccount
	err := row.Scan(&account.ID, &account.UserID, &account.Name, &account.Address,
		&account.IMAPHost, &account.IMAPPort, &account.Username, &account.AuthMethod,
		&account.Password, &account.OAuthToken, &account.UseTLS, &account.IsActive,
		&account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &account, nil
}
