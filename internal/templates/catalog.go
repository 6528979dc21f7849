package templates

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"mail-insights/internal/database"
	"mail-insights/internal/email"
)

// Catalog selects the prompt template for a message. Selection prefers the
// embedding classifier when it is ready and confident; otherwise an additive
// signal scorer ranks the active templates.
type Catalog struct {
	templates     []database.PromptTemplate // insertion order, ties resolve to the earlier entry
	classifier    EmbeddingClassifier
	minConfidence float64
	logger        *slog.Logger
}

// NewCatalog builds a catalog over the active templates in listing order.
func NewCatalog(templates []database.PromptTemplate, classifier EmbeddingClassifier, minConfidence float64, logger *slog.Logger) *Catalog {
	if classifier == nil {
		classifier = NewNoOpClassifier()
	}
	return &Catalog{
		templates:     templates,
		classifier:    classifier,
		minConfidence: minConfidence,
		logger:        logger.With("component", "template_catalog"),
	}
}

// SelectTemplate picks the template for one message under a focus.
func (c *Catalog) SelectTemplate(msg *email.CanonicalMessage, focus database.LLMFocus) (*database.PromptTemplate, error) {
	if len(c.templates) == 0 {
		return nil, fmt.Errorf("no active prompt templates")
	}

	if c.classifier.IsReady() {
		classification, err := c.classifier.ClassifySubject(msg.Subject)
		if err != nil {
			c.logger.Warn("Subject classification failed, falling back to scorer", "error", err)
		} else if classification.Confidence >= c.minConfidence {
			name := c.classifier.CategoryTemplate(classification.Category)
			if tmpl := c.byName(name); tmpl != nil {
				c.logger.Debug("Selected template by embedding",
					"template", name, "category", classification.Category,
					"confidence", classification.Confidence)
				return tmpl, nil
			}
		}
	}

	return c.scoreTemplates(msg, focus), nil
}

// ByName returns the active template with the given name, or nil.
func (c *Catalog) ByName(name string) *database.PromptTemplate {
	return c.byName(name)
}

func (c *Catalog) byName(name string) *database.PromptTemplate {
	if name == "" {
		return nil
	}
	for i := range c.templates {
		if c.templates[i].Name == name {
			return &c.templates[i]
		}
	}
	return nil
}

// templateSignals are the scoring inputs registered per template name.
type templateSignals struct {
	senderDomains   []string       // exact domain or any subdomain of it
	subjectPatterns []*regexp.Regexp
	contentPatterns []*regexp.Regexp
	keywords        map[string]int // keyword -> weight per occurrence
	focus           database.LLMFocus
}

var signalTable = map[string]templateSignals{
	TemplateGeneral: {
		focus: database.FocusGeneral,
	},
	TemplateSentiment: {
		focus:    database.FocusSentiment,
		keywords: map[string]int{"feedback": 2, "review": 1, "complaint": 3, "disappointed": 3, "thank": 1},
	},
	TemplateUrgency: {
		focus:           database.FocusUrgency,
		subjectPatterns: compilePatterns(`(?i)\burgent\b`, `(?i)\basap\b`, `(?i)action required`, `(?i)\bdeadline\b`),
		keywords:        map[string]int{"urgent": 3, "immediately": 3, "asap": 3, "overdue": 2, "expires": 2},
	},
	TemplateInvoice: {
		senderDomains:   []string{"billing.com", "invoices.com", "stripe.com", "paypal.com"},
		subjectPatterns: compilePatterns(`(?i)\binvoice\b`, `(?i)\breceipt\b`, `(?i)payment (due|received|confirmation)`, `(?i)\bbilling\b`),
		contentPatterns: compilePatterns(`[$€£]\s?\d+(?:[.,]\d{2})?`, `(?i)amount due`, `(?i)invoice (number|#)`),
		keywords:        map[string]int{"invoice": 3, "payment": 2, "receipt": 3, "billing": 2, "total": 1, "due": 1},
	},
	TemplateAppointment: {
		senderDomains:   []string{"calendar.google.com", "calendly.com", "outlook.com"},
		subjectPatterns: compilePatterns(`(?i)\b(appointment|meeting|invitation)\b`, `(?i)\bcalendar\b`, `(?i)(confirmed|rescheduled|cancell?ed): `),
		contentPatterns: compilePatterns(`(?i)\b\d{1,2}:\d{2}\s?(am|pm)?\b`, `(?i)\b(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`),
		keywords:        map[string]int{"appointment": 3, "meeting": 2, "schedule": 1, "reschedule": 2, "calendar": 2, "confirm": 1},
	},
	TemplateSupport: {
		senderDomains:   []string{"support.zendesk.com", "freshdesk.com", "helpdesk.com"},
		subjectPatterns: compilePatterns(`(?i)\[?ticket\s?#?\d+\]?`, `(?i)\bsupport request\b`, `(?i)case \d+`),
		keywords:        map[string]int{"ticket": 3, "support": 2, "issue": 1, "resolved": 1, "agent": 1},
	},
}

// Additive scoring weights.
const (
	scoreSenderDomain = 5
	scoreSubjectMatch = 4
	scoreContentMatch = 2
	scoreNameOverlap  = 1
	scoreFocusMatch   = 3

	minOverlapWordLen = 4
)

// scoreTemplates ranks the active templates by additive signal score. The
// schedule's focus gives its focus template a base score, so it wins when no
// category signal fires. Ties resolve to the earliest listed template.
func (c *Catalog) scoreTemplates(msg *email.CanonicalMessage, focus database.LLMFocus) *database.PromptTemplate {
	subject := strings.ToLower(msg.Subject)
	body := strings.ToLower(msg.BodyText)
	if body == "" {
		body = strings.ToLower(msg.BodyHTML)
	}
	domain := senderDomain(msg.From)

	best := &c.templates[0]
	bestScore := -1
	for i := range c.templates {
		tmpl := &c.templates[i]
		score := scoreTemplate(tmpl, signalTable[tmpl.Name], subject, body, domain, focus)
		if score > bestScore {
			best = tmpl
			bestScore = score
		}
	}

	c.logger.Debug("Selected template by scoring", "template", best.Name, "score", bestScore)
	return best
}

func scoreTemplate(tmpl *database.PromptTemplate, signals templateSignals, subject, body, domain string, focus database.LLMFocus) int {
	score := 0

	if signals.focus != "" && signals.focus == focus {
		score += scoreFocusMatch
	}

	for _, d := range signals.senderDomains {
		if domain == d || strings.HasSuffix(domain, "."+d) {
			score += scoreSenderDomain
			break
		}
	}

	for _, re := range signals.subjectPatterns {
		if re.MatchString(subject) {
			score += scoreSubjectMatch
		}
	}

	for _, re := range signals.contentPatterns {
		if re.MatchString(body) {
			score += scoreContentMatch
		}
	}

	for keyword, weight := range signals.keywords {
		score += weight * strings.Count(subject, keyword)
		score += weight * strings.Count(body, keyword)
	}

	// Words of the template name appearing in the subject, minimum length 4.
	for _, word := range strings.FieldsFunc(strings.ToLower(tmpl.Name), func(r rune) bool { return r == '_' || r == '-' || r == ' ' }) {
		if len(word) >= minOverlapWordLen && strings.Contains(subject, word) {
			score += scoreNameOverlap
		}
	}

	return score
}

func senderDomain(from string) string {
	at := strings.LastIndexByte(from, '@')
	if at < 0 {
		return ""
	}
	return strings.ToLower(from[at+1:])
}

func compilePatterns(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}
