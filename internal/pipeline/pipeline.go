package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"mail-insights/internal/database"
	"mail-insights/internal/email"
	"mail-insights/internal/llm"
	"mail-insights/internal/priority"
	"mail-insights/internal/templates"
)

// Result is the per-message outcome. Exactly one of Record or Err is set;
// MessageID is always set. Failures never abort the surrounding batch.
type Result struct {
	MessageID string
	Record    *database.ProcessedEmail
	Err       error
	Skipped   bool // true when the idempotency probe found a COMPLETED record
}

// Success reports whether the message ended with a stored COMPLETED record.
func (r Result) Success() bool {
	return r.Err == nil
}

// Pipeline analyzes one canonical message end to end: dedupe, prompt, LLM,
// parse, priority, persist.
type Pipeline struct {
	store     *database.ProcessedEmailStore
	catalog   *templates.Catalog
	parser    *templates.Parser
	llmClient llm.Client
	engine    *priority.Engine
	logger    *slog.Logger

	defaultModel string
	temperature  float64
}

// Config carries the pipeline's LLM call parameters.
type Config struct {
	DefaultModel string
	Temperature  float64
}

// New wires a pipeline from its collaborators.
func New(store *database.ProcessedEmailStore, catalog *templates.Catalog, llmClient llm.Client,
	engine *priority.Engine, cfg Config, logger *slog.Logger) *Pipeline {
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.1
	}
	return &Pipeline{
		store:        store,
		catalog:      catalog,
		parser:       templates.NewParser(logger),
		llmClient:    llmClient,
		engine:       engine,
		logger:       logger.With("component", "analysis_pipeline"),
		defaultModel: cfg.DefaultModel,
		temperature:  cfg.Temperature,
	}
}

// Process runs the full analysis for one message. The schedule supplies the
// focus and priority overrides; executionID ties the stored record to its
// run and may be nil for ad-hoc processing.
func (p *Pipeline) Process(ctx context.Context, accountID int, msg *email.CanonicalMessage,
	schedule *database.Schedule, executionID *int) Result {

	// Idempotency probe: a COMPLETED record makes this call a no-op.
	existing, err := p.store.GetByMessageID(msg.MessageID)
	if err != nil && err != sql.ErrNoRows {
		return Result{MessageID: msg.MessageID, Err: fmt.Errorf("idempotency probe: %w", err)}
	}
	if existing != nil {
		if existing.ProcessingStatus == database.ProcessingStatusCompleted {
			p.logger.Debug("Skipping already processed message", "message_id", msg.MessageID)
			return Result{MessageID: msg.MessageID, Record: existing, Skipped: true}
		}
		p.logger.Info("Reprocessing message",
			"message_id", msg.MessageID, "previous_status", existing.ProcessingStatus)
	}

	hints := p.engine.PreProcess(msg, schedule)

	focus := database.FocusGeneral
	var prefs *templates.UserPrefs
	if schedule != nil {
		if schedule.LLMFocus != "" {
			focus = schedule.LLMFocus
		}
		prefs = &templates.UserPrefs{
			SenderPriorities:    schedule.SenderPriorities,
			EmailTypePriorities: schedule.EmailTypePriorities,
			LLMFocus:            focus,
		}
	}

	tmpl, err := p.catalog.SelectTemplate(msg, focus)
	if err != nil {
		return p.persistFailure(accountID, msg, executionID, fmt.Errorf("template selection: %w", err))
	}

	prompt := templates.RenderPrompt(tmpl, msg, prefs)

	raw, err := p.llmClient.ExecuteChat(ctx, llm.ChatRequest{
		Model:       p.defaultModel,
		UserPrompt:  prompt,
		Temperature: p.temperature,
	})
	if err != nil {
		return p.persistFailure(accountID, msg, executionID, fmt.Errorf("llm call: %w", err))
	}

	parsed := p.parser.ParseAndValidate(raw)
	if parsed.Summary == "" {
		parsed.Summary = "Failed to parse analysis summary"
		parsed.Confidence = 0.3
	}

	score, reasoning := p.engine.PostProcess(parsed.ImportanceScore, parsed.PriorityReasoning, hints)

	record := buildRecord(accountID, msg, executionID, parsed)
	record.ImportanceScore = &score
	if reasoning != "" {
		record.PriorityReasoning = &reasoning
	}

	stored, err := p.store.Upsert(record)
	if err != nil {
		return Result{MessageID: msg.MessageID, Err: fmt.Errorf("upsert: %w", err)}
	}

	return Result{MessageID: msg.MessageID, Record: stored}
}

// persistFailure writes a FAILED record so the message stays browsable and
// reprocessable, then reports the per-message error.
func (p *Pipeline) persistFailure(accountID int, msg *email.CanonicalMessage, executionID *int, cause error) Result {
	p.logger.Warn("Message analysis failed", "message_id", msg.MessageID, "error", cause)

	record := buildRecord(accountID, msg, executionID, templates.ParsedAnalysis{
		Category:   database.CategoryPersonal,
		Priority:   database.PriorityMedium,
		Sentiment:  database.SentimentNeutral,
		Summary:    "Failed to analyze message",
		Confidence: 0,
	})
	record.ProcessingStatus = database.ProcessingStatusFailed
	errMessage := cause.Error()
	record.ErrorMessage = &errMessage

	if _, err := p.store.Upsert(record); err != nil {
		p.logger.Error("Failed to persist failure record", "message_id", msg.MessageID, "error", err)
	}
	return Result{MessageID: msg.MessageID, Err: cause}
}

// buildRecord assembles the desired COMPLETED record from envelope and
// parsed analysis fields.
func buildRecord(accountID int, msg *email.CanonicalMessage, executionID *int, parsed templates.ParsedAnalysis) *database.ProcessedEmail {
	record := &database.ProcessedEmail{
		MessageID:      msg.MessageID,
		EmailAccountID: accountID,
		Subject:        msg.Subject,
		FromAddress:    msg.From,
		ToAddresses:    encodeStrings(msg.To),
		CcAddresses:    encodeStrings(msg.Cc),
		ReceivedAt:     msg.Date,
		BodyText:       msg.BodyText,
		BodyHTML:       msg.BodyHTML,

		ProcessingStatus: database.ProcessingStatusCompleted,
		Category:         parsed.Category,
		Priority:         parsed.Priority,
		Sentiment:        parsed.Sentiment,
		Summary:          parsed.Summary,
		Tags:             encodeStrings(parsed.Tags),
		Confidence:       parsed.Confidence,

		ScheduleExecutionID: executionID,
		ProcessedAt:         time.Now().UTC(),

		Entities:    parsed.Entities,
		ActionItems: parsed.ActionItems,
	}
	return record
}

func encodeStrings(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(data)
}
