package templates

import (
	"mail-insights/internal/database"
)

// Built-in template names. The three focus templates map 1:1 to LLMFocus;
// the category templates are selected by the embedding classifier or the
// signal scorer.
const (
	TemplateGeneral     = "general_analysis"
	TemplateSentiment   = "sentiment_analysis"
	TemplateUrgency     = "urgency_analysis"
	TemplateInvoice     = "invoice_analysis"
	TemplateAppointment = "appointment_analysis"
	TemplateSupport     = "support_analysis"
)

const analysisOutputSchema = `{
  "category": "WORK|PERSONAL|MARKETING|NEWSLETTER|SUPPORT|NOTIFICATION|INVOICE|RECEIPT|APPOINTMENT",
  "priority": "LOW|MEDIUM|HIGH|URGENT",
  "sentiment": "POSITIVE|NEUTRAL|NEGATIVE|MIXED",
  "summary": "string",
  "tags": ["string"],
  "confidence": 0.0,
  "importance_score": 0,
  "entities": [{"entity_type": "PERSON|ORGANIZATION|DATE|AMOUNT|LOCATION|PHONE|URL", "entity_value": "string", "confidence": 0.0, "context": "string"}],
  "action_items": [{"action_type": "REPLY|SCHEDULE|PAY|REVIEW|FOLLOW_UP", "description": "string", "priority": "LOW|MEDIUM|HIGH|URGENT", "due_date": "YYYY-MM-DD"}]
}`

const promptPreamble = `Analyze the email below and respond with ONLY a JSON object matching the schema.

Subject: {{subject}}
From: {{fromAddress}}
Received: {{receivedAt}}

{{#if senderPriorities}}The user has configured sender priorities:
{{senderPriorities}}
{{/if}}{{#if emailTypePriorities}}The user has configured category priorities:
{{emailTypePriorities}}
{{/if}}Body:
{{bodyText}}

`

// BuiltinTemplates returns the seed set in catalog insertion order.
func BuiltinTemplates() []database.PromptTemplate {
	return []database.PromptTemplate{
		{
			Name:        TemplateGeneral,
			Description: "Balanced classification across all fields",
			Categories:  `[]`,
			Template: promptPreamble + `Task: classify the email (category, priority, sentiment), write a one-sentence summary, extract entities and action items, and assign an importance_score from 0 to 100.

Schema:
` + analysisOutputSchema,
			ExpectedOutputSchema: analysisOutputSchema,
			IsActive:             true,
		},
		{
			Name:        TemplateSentiment,
			Description: "Sentiment-weighted analysis",
			Categories:  `[]`,
			Template: promptPreamble + `Task: focus on the emotional tone. Judge sentiment carefully (POSITIVE, NEUTRAL, NEGATIVE, or MIXED when the email contains both), then fill in the remaining fields.

Schema:
` + analysisOutputSchema,
			ExpectedOutputSchema: analysisOutputSchema,
			IsActive:             true,
		},
		{
			Name:        TemplateUrgency,
			Description: "Urgency-weighted analysis",
			Categories:  `[]`,
			Template: promptPreamble + `Task: focus on time pressure. Look for deadlines, expiry notices, and requests for immediate action when judging priority and importance_score, then fill in the remaining fields.

Schema:
` + analysisOutputSchema,
			ExpectedOutputSchema: analysisOutputSchema,
			IsActive:             true,
		},
		{
			Name:        TemplateInvoice,
			Description: "Invoices, receipts, and payment notices",
			Categories:  `["INVOICE","RECEIPT"]`,
			Template: promptPreamble + `Task: this looks like a billing email. Extract every AMOUNT and DATE entity (amounts with currency, due dates), add a PAY action item when payment is outstanding, and classify as INVOICE or RECEIPT.

Schema:
` + analysisOutputSchema,
			ExpectedOutputSchema: analysisOutputSchema,
			IsActive:             true,
		},
		{
			Name:        TemplateAppointment,
			Description: "Meetings, invitations, and calendar changes",
			Categories:  `["APPOINTMENT"]`,
			Template: promptPreamble + `Task: this looks like a scheduling email. Extract DATE and LOCATION entities, add a SCHEDULE action item with the due_date when a confirmation is needed, and classify as APPOINTMENT.

Schema:
` + analysisOutputSchema,
			ExpectedOutputSchema: analysisOutputSchema,
			IsActive:             true,
		},
		{
			Name:        TemplateSupport,
			Description: "Support tickets and case updates",
			Categories:  `["SUPPORT"]`,
			Template: promptPreamble + `Task: this looks like a support thread. Capture the ticket or case reference as context on extracted entities, add a REPLY or FOLLOW_UP action item when a response is expected, and classify as SUPPORT.

Schema:
` + analysisOutputSchema,
			ExpectedOutputSchema: analysisOutputSchema,
			IsActive:             true,
		},
	}
}

// FocusTemplateName maps a schedule focus to its seed template.
func FocusTemplateName(focus database.LLMFocus) string {
	switch focus {
	case database.FocusSentiment:
		return TemplateSentiment
	case database.FocusUrgency:
		return TemplateUrgency
	default:
		return TemplateGeneral
	}
}

// Seed upserts the built-in templates. Existing rows keep their id; a
// changed body bumps the version.
func Seed(store *database.TemplateStore) error {
	for _, tmpl := range BuiltinTemplates() {
		t := tmpl
		if err := store.Upsert(&t); err != nil {
			return err
		}
	}
	return nil
}
