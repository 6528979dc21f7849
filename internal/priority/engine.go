package priority

import (
	"fmt"
	"log/slog"
	"strings"

	"mail-insights/internal/database"
	"mail-insights/internal/email"
)

// Hints carry the user-configured priority signals attached to a message
// before the LLM runs. DetectedCategory is advisory only; the LLM's own
// category supersedes it.
type Hints struct {
	SenderPriority       *database.Priority
	TypePriority         *database.Priority
	DetectedCategory     database.Category
	UserConfiguredSender bool
	UserConfiguredType   bool
}

// Score boosts per configured priority level.
var boosts = map[database.Priority]int{
	database.PriorityUrgent: 30,
	database.PriorityHigh:   20,
	database.PriorityMedium: 10,
	database.PriorityLow:    0,
}

const defaultImportanceScore = 50

// Engine applies user-configured priority overrides around the LLM call.
type Engine struct {
	logger *slog.Logger
}

// NewEngine creates a priority engine.
func NewEngine(logger *slog.Logger) *Engine {
	return &Engine{logger: logger.With("component", "priority_engine")}
}

// PreProcess resolves the schedule's sender and email-type overrides for one
// message. Sender lookup tries the exact address first, then its domain.
func (e *Engine) PreProcess(msg *email.CanonicalMessage, schedule *database.Schedule) Hints {
	hints := Hints{DetectedCategory: detectCategory(msg)}
	if schedule == nil {
		return hints
	}

	from := strings.ToLower(msg.From)
	if p, ok := schedule.SenderPriorities[from]; ok {
		hints.SenderPriority = &p
		hints.UserConfiguredSender = true
	} else if at := strings.LastIndexByte(from, '@'); at >= 0 {
		if p, ok := schedule.SenderPriorities[from[at+1:]]; ok {
			hints.SenderPriority = &p
			hints.UserConfiguredSender = true
		}
	}

	if p, ok := schedule.EmailTypePriorities[string(hints.DetectedCategory)]; ok {
		hints.TypePriority = &p
		hints.UserConfiguredType = true
	}

	return hints
}

// PostProcess combines the LLM's importance score with the configured
// boosts. A missing score starts from 50. Each applied boost appends a
// human-readable override note; the result is clamped to [0, 100].
func (e *Engine) PostProcess(llmScore *int, llmReasoning *string, hints Hints) (int, string) {
	score := defaultImportanceScore
	if llmScore != nil {
		score = *llmScore
	}

	var reasoning strings.Builder
	if llmReasoning != nil {
		reasoning.WriteString(*llmReasoning)
	}

	if hints.SenderPriority != nil {
		boost := boosts[*hints.SenderPriority]
		score += boost
		appendOverride(&reasoning, boost, "sender priority")
	}
	if hints.TypePriority != nil {
		boost := boosts[*hints.TypePriority]
		score += boost
		appendOverride(&reasoning, boost, "email type priority")
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}

	return score, reasoning.String()
}

func appendOverride(b *strings.Builder, boost int, reason string) {
	if b.Len() > 0 {
		b.WriteString(" ")
	}
	fmt.Fprintf(b, "[User override: +%d for %s]", boost, reason)
}

// categoryKeywords drives the advisory pre-LLM category matcher.
var categoryKeywords = []struct {
	category database.Category
	words    []string
}{
	{database.CategoryInvoice, []string{"invoice", "payment due", "billing"}},
	{database.CategoryReceipt, []string{"receipt", "order confirmation", "payment received"}},
	{database.CategoryAppointment, []string{"meeting", "appointment", "calendar", "invitation"}},
	{database.CategorySupport, []string{"ticket", "support request", "case #"}},
	{database.CategoryNewsletter, []string{"newsletter", "unsubscribe", "weekly digest"}},
	{database.CategoryMarketing, []string{"sale", "discount", "limited offer", "promo"}},
	{database.CategoryNotification, []string{"notification", "alert", "reminder"}},
}

// detectCategory is a keyword scan over subject and body. Advisory only.
func detectCategory(msg *email.CanonicalMessage) database.Category {
	haystack := strings.ToLower(msg.Subject + " " + msg.BodyText)
	for _, entry := range categoryKeywords {
		for _, word := range entry.words {
			if strings.Contains(haystack, word) {
				return entry.category
			}
		}
	}
	return database.CategoryPersonal
}
