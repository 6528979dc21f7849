package email

import (
	"context"
	"errors"
	"time"
)

// Error kinds the orchestrator branches on. Connection and auth failures are
// retryable on a later execution; parse failures are per-message.
var (
	ErrConnection = errors.New("imap connection error")
	ErrAuth       = errors.New("imap authentication error")
	ErrParse      = errors.New("message parse error")
)

// CanonicalMessage is the normalized representation of a remote message.
// MessageID (RFC-822 Message-ID) is the globally unique deduplication key.
// Transient: never persisted on its own.
type CanonicalMessage struct {
	UID       uint32    `json:"uid"`
	MessageID string    `json:"message_id"`
	Subject   string    `json:"subject"`
	From      string    `json:"from"`
	To        []string  `json:"to"`
	Cc        []string  `json:"cc"`
	Bcc       []string  `json:"bcc"`
	Date      time.Time `json:"date"`
	BodyText  string    `json:"body_text,omitempty"`
	BodyHTML  string    `json:"body_html,omitempty"`
	Flags     []string  `json:"flags,omitempty"`
}

// FetchOptions narrows a mailbox scan.
type FetchOptions struct {
	Folder string     `json:"folder"`
	Since  *time.Time `json:"since,omitempty"`
	Before *time.Time `json:"before,omitempty"`
	Limit  int        `json:"limit"`
}

// ConnectionTestResult reports the outcome of a connectivity probe.
type ConnectionTestResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Account carries the connection parameters the fetcher needs. Mirrors
// database.EmailAccount without importing the storage layer.
type Account struct {
	ID         int
	Address    string
	IMAPHost   string
	IMAPPort   int
	Username   string
	AuthMethod string // "password" or "oauth2"
	Password   string
	OAuthToken string
	UseTLS     bool
}

// Fetcher produces canonical messages from a remote account. The fetcher is
// strictly read-only: it never flags, moves, or deletes remote messages.
type Fetcher interface {
	// TestConnection dials, authenticates, and reports the outcome.
	TestConnection(ctx context.Context, account Account) ConnectionTestResult

	// FetchEmails lists and fetches messages in the date window. When some
	// messages were fetched before an error occurred, the partial slice is
	// returned with a nil error; the error surfaces only if nothing came back.
	FetchEmails(ctx context.Context, account Account, opts FetchOptions) ([]CanonicalMessage, error)

	// EnsureHealthy verifies the pooled session for the account is fresh,
	// reconnecting if it went stale.
	EnsureHealthy(ctx context.Context, account Account) error

	// Close releases the pooled session for the account.
	Close(accountID int)

	// CloseAll releases every pooled session.
	CloseAll()
}
