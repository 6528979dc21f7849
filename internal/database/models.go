package database

import (
	"fmt"
	"time"
)

// ProcessingType determines how a schedule computes the date range it scans.
type ProcessingType string

const (
	ProcessingTypeDateRange     ProcessingType = "DATE_RANGE"
	ProcessingTypeRecurring     ProcessingType = "RECURRING"
	ProcessingTypeSpecificDates ProcessingType = "SPECIFIC_DATES"
)

// ExecutionStatus is the lifecycle of a single schedule execution.
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "RUNNING"
	ExecutionStatusCompleted ExecutionStatus = "COMPLETED"
	ExecutionStatusFailed    ExecutionStatus = "FAILED"
	ExecutionStatusCancelled ExecutionStatus = "CANCELLED"
)

// IsTerminal reports whether the status can no longer change.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusCancelled
}

// ProcessingStatus is the lifecycle of a processed email record.
type ProcessingStatus string

const (
	ProcessingStatusPending    ProcessingStatus = "PENDING"
	ProcessingStatusProcessing ProcessingStatus = "PROCESSING"
	ProcessingStatusCompleted  ProcessingStatus = "COMPLETED"
	ProcessingStatusFailed     ProcessingStatus = "FAILED"
)

// Category is the closed set of email categories the LLM may assign.
type Category string

const (
	CategoryWork         Category = "WORK"
	CategoryPersonal     Category = "PERSONAL"
	CategoryMarketing    Category = "MARKETING"
	CategoryNewsletter   Category = "NEWSLETTER"
	CategorySupport      Category = "SUPPORT"
	CategoryNotification Category = "NOTIFICATION"
	CategoryInvoice      Category = "INVOICE"
	CategoryReceipt      Category = "RECEIPT"
	CategoryAppointment  Category = "APPOINTMENT"
)

// ValidCategories lists every accepted category value.
func ValidCategories() []Category {
	return []Category{
		CategoryWork, CategoryPersonal, CategoryMarketing, CategoryNewsletter,
		CategorySupport, CategoryNotification, CategoryInvoice, CategoryReceipt,
		CategoryAppointment,
	}
}

// IsValidCategory checks membership in the closed category set.
func IsValidCategory(v string) bool {
	for _, c := range ValidCategories() {
		if string(c) == v {
			return true
		}
	}
	return false
}

// Priority levels, ordered LOW < MEDIUM < HIGH < URGENT.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// IsValidPriority checks membership in the closed priority set.
func IsValidPriority(v string) bool {
	switch Priority(v) {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Sentiment values the LLM may assign.
type Sentiment string

const (
	SentimentPositive Sentiment = "POSITIVE"
	SentimentNeutral  Sentiment = "NEUTRAL"
	SentimentNegative Sentiment = "NEGATIVE"
	SentimentMixed    Sentiment = "MIXED"
)

// IsValidSentiment checks membership in the closed sentiment set.
func IsValidSentiment(v string) bool {
	switch Sentiment(v) {
	case SentimentPositive, SentimentNeutral, SentimentNegative, SentimentMixed:
		return true
	}
	return false
}

// LLMFocus steers prompt template selection.
type LLMFocus string

const (
	FocusGeneral   LLMFocus = "general"
	FocusSentiment LLMFocus = "sentiment"
	FocusUrgency   LLMFocus = "urgency"
)

// EmailAccount holds the IMAP endpoint and credentials for one remote mailbox.
type EmailAccount struct {
	ID         int       `json:"id"`
	UserID     int       `json:"user_id"`
	Name       string    `json:"name"`
	Address    string    `json:"address"`
	IMAPHost   string    `json:"imap_host"`
	IMAPPort   int       `json:"imap_port"`
	Username   string    `json:"username"`
	AuthMethod string    `json:"auth_method"` // "password" or "oauth2"
	Password   string    `json:"-"`
	OAuthToken string    `json:"-"`
	UseTLS     bool      `json:"use_tls"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Schedule defines when and how an email account is scanned and analyzed.
type Schedule struct {
	ID             int            `json:"id"`
	UserID         int            `json:"user_id"`
	EmailAccountID int            `json:"email_account_id"`
	Name           string         `json:"name"`
	ProcessingType ProcessingType `json:"processing_type"`

	DateRangeFrom *time.Time `json:"date_range_from,omitempty"`
	DateRangeTo   *time.Time `json:"date_range_to,omitempty"`

	CronExpression string `json:"cron_expression,omitempty"`
	Timezone       string `json:"timezone"`

	SpecificDates []time.Time `json:"specific_dates,omitempty"`

	BatchSize           int                 `json:"batch_size"`
	SenderPriorities    map[string]Priority `json:"sender_priorities,omitempty"`
	EmailTypePriorities map[string]Priority `json:"email_type_priorities,omitempty"`
	LLMFocus            LLMFocus            `json:"llm_focus"`

	IsEnabled bool `json:"is_enabled"`
	IsDefault bool `json:"is_default"`

	NextExecutionAt *time.Time `json:"next_execution_at,omitempty"`
	LastExecutedAt  *time.Time `json:"last_executed_at,omitempty"`

	TotalExecutions  int `json:"total_executions"`
	FailedExecutions int `json:"failed_executions"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate enforces the per-type invariants before a schedule is persisted.
func (s *Schedule) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("schedule name is required")
	}
	if s.BatchSize < 1 {
		return fmt.Errorf("batch size must be at least 1, got %d", s.BatchSize)
	}
	switch s.ProcessingType {
	case ProcessingTypeDateRange:
		if s.DateRangeFrom == nil || s.DateRangeTo == nil {
			return fmt.Errorf("date range schedule requires both from and to dates")
		}
		if s.DateRangeFrom.After(*s.DateRangeTo) {
			return fmt.Errorf("date range from %v is after to %v", s.DateRangeFrom, s.DateRangeTo)
		}
	case ProcessingTypeRecurring:
		if s.CronExpression == "" {
			return fmt.Errorf("recurring schedule requires a cron expression")
		}
		if s.Timezone == "" {
			return fmt.Errorf("recurring schedule requires a timezone")
		}
	case ProcessingTypeSpecificDates:
		if len(s.SpecificDates) == 0 {
			return fmt.Errorf("specific dates schedule requires at least one date")
		}
	default:
		return fmt.Errorf("unknown processing type %q", s.ProcessingType)
	}
	return nil
}

// NextSpecificDate returns the earliest configured date strictly after now.
func (s *Schedule) NextSpecificDate(now time.Time) *time.Time {
	var next *time.Time
	for i := range s.SpecificDates {
		d := s.SpecificDates[i]
		if !d.After(now) {
			continue
		}
		if next == nil || d.Before(*next) {
			next = &d
		}
	}
	return next
}

// ScheduleExecution is one run of a schedule against its account.
type ScheduleExecution struct {
	ID         int             `json:"id"`
	ScheduleID int             `json:"schedule_id"`
	Status     ExecutionStatus `json:"status"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	MaxAttempts int        `json:"max_attempts"`

	TotalBatchesCount     int `json:"total_batches_count"`
	CompletedBatchesCount int `json:"completed_batches_count"`
	TotalEmailsCount      int `json:"total_emails_count"`
	ProcessedEmailsCount  int `json:"processed_emails_count"`
	FailedEmailsCount     int `json:"failed_emails_count"`

	ProcessingDurationMs *int64  `json:"processing_duration_ms,omitempty"`
	ErrorMessage         *string `json:"error_message,omitempty"`
	ErrorDetails         *string `json:"error_details,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ExecutionCounters is the transactional progress snapshot written after each batch.
type ExecutionCounters struct {
	TotalBatchesCount     int
	CompletedBatchesCount int
	TotalEmailsCount      int
	ProcessedEmailsCount  int
	FailedEmailsCount     int
}

// ExecutionLock is a row whose unique minute-truncated execution_time grants
// cluster-wide ownership of every schedule firing at that instant.
type ExecutionLock struct {
	ID            int       `json:"id"`
	ExecutionTime time.Time `json:"execution_time"`
	OwnerToken    string    `json:"owner_token"`
	ScheduleIDs   string    `json:"schedule_ids"` // JSON encoded
	AcquiredAt    time.Time `json:"acquired_at"`
}

// ProcessedEmail is the durable analysis outcome for one message, keyed by
// its RFC-822 Message-ID.
type ProcessedEmail struct {
	ID             int    `json:"id"`
	MessageID      string `json:"message_id"`
	EmailAccountID int    `json:"email_account_id"`

	Subject     string    `json:"subject"`
	FromAddress string    `json:"from_address"`
	ToAddresses string    `json:"to_addresses"` // JSON encoded
	CcAddresses string    `json:"cc_addresses"` // JSON encoded
	ReceivedAt  time.Time `json:"received_at"`
	BodyText    string    `json:"body_text,omitempty"`
	BodyHTML    string    `json:"body_html,omitempty"`

	ProcessingStatus ProcessingStatus `json:"processing_status"`

	Category  Category  `json:"category"`
	Priority  Priority  `json:"priority"`
	Sentiment Sentiment `json:"sentiment"`
	Summary   string    `json:"summary"`
	Tags      string    `json:"tags"` // JSON encoded

	Confidence        float64 `json:"confidence"`
	ImportanceScore   *int    `json:"importance_score,omitempty"`
	PriorityReasoning *string `json:"priority_reasoning,omitempty"`
	ErrorMessage      *string `json:"error_message,omitempty"`

	ScheduleExecutionID *int `json:"schedule_execution_id,omitempty"`

	Entities    []EntityExtraction `json:"entities,omitempty"`
	ActionItems []ActionItem       `json:"action_items,omitempty"`

	ProcessedAt time.Time `json:"processed_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// EntityType is the closed set of extractable entity kinds.
type EntityType string

const (
	EntityPerson       EntityType = "PERSON"
	EntityOrganization EntityType = "ORGANIZATION"
	EntityDate         EntityType = "DATE"
	EntityAmount       EntityType = "AMOUNT"
	EntityLocation     EntityType = "LOCATION"
	EntityPhone        EntityType = "PHONE"
	EntityURL          EntityType = "URL"
)

// IsValidEntityType checks membership in the closed entity-type set.
func IsValidEntityType(v string) bool {
	switch EntityType(v) {
	case EntityPerson, EntityOrganization, EntityDate, EntityAmount,
		EntityLocation, EntityPhone, EntityURL:
		return true
	}
	return false
}

// EntityExtraction is one entity the LLM pulled out of a message.
type EntityExtraction struct {
	ID               int        `json:"id"`
	ProcessedEmailID int        `json:"processed_email_id"`
	EntityType       EntityType `json:"entity_type"`
	EntityValue      string     `json:"entity_value"`
	Confidence       float64    `json:"confidence"`
	Context          string     `json:"context,omitempty"`
}

// ActionType is the closed set of action item kinds.
type ActionType string

const (
	ActionReply    ActionType = "REPLY"
	ActionSchedule ActionType = "SCHEDULE"
	ActionPay      ActionType = "PAY"
	ActionReview   ActionType = "REVIEW"
	ActionFollowUp ActionType = "FOLLOW_UP"
)

// IsValidActionType checks membership in the closed action-type set.
func IsValidActionType(v string) bool {
	switch ActionType(v) {
	case ActionReply, ActionSchedule, ActionPay, ActionReview, ActionFollowUp:
		return true
	}
	return false
}

// ActionItem is one follow-up task the LLM extracted from a message.
type ActionItem struct {
	ID               int        `json:"id"`
	ProcessedEmailID int        `json:"processed_email_id"`
	ActionType       ActionType `json:"action_type"`
	Description      string     `json:"description"`
	Priority         Priority   `json:"priority"`
	DueDate          *time.Time `json:"due_date,omitempty"`
	IsCompleted      bool       `json:"is_completed"`
}

// PromptTemplate is a stored prompt with its expected output schema.
type PromptTemplate struct {
	ID                   int       `json:"id"`
	Name                 string    `json:"name"`
	Description          string    `json:"description"`
	Categories           string    `json:"categories"` // JSON encoded
	Template             string    `json:"template"`
	ExpectedOutputSchema string    `json:"expected_output_schema"`
	Version              int       `json:"version"`
	IsActive             bool      `json:"is_active"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}
