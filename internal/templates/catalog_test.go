package templates

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mail-insights/internal/database"
	"mail-insights/internal/email"
)

func newTestCatalog(classifier EmbeddingClassifier) *Catalog {
	return NewCatalog(BuiltinTemplates(), classifier, 0.7, slog.Default())
}

func msg(subject, from, body string) *email.CanonicalMessage {
	return &email.CanonicalMessage{
		Subject:  subject,
		From:     from,
		BodyText: body,
		Date:     time.Now(),
	}
}

type stubClassifier struct {
	ready        bool
	category     database.Category
	confidence   float64
	templateName string
}

func (s *stubClassifier) IsReady() bool { return s.ready }
func (s *stubClassifier) ClassifySubject(subject string) (Classification, error) {
	return Classification{Category: s.category, Confidence: s.confidence}, nil
}
func (s *stubClassifier) CategoryTemplate(category database.Category) string {
	return s.templateName
}

func TestSelectTemplate_EmbeddingWins(t *testing.T) {
	catalog := newTestCatalog(&stubClassifier{
		ready:        true,
		category:     database.CategoryInvoice,
		confidence:   0.9,
		templateName: TemplateInvoice,
	})

	tmpl, err := catalog.SelectTemplate(msg("hello", "a@b.com", "plain text"), database.FocusGeneral)
	require.NoError(t, err)
	assert.Equal(t, TemplateInvoice, tmpl.Name)
}

func TestSelectTemplate_LowConfidenceFallsThrough(t *testing.T) {
	catalog := newTestCatalog(&stubClassifier{
		ready:        true,
		category:     database.CategoryInvoice,
		confidence:   0.5,
		templateName: TemplateInvoice,
	})

	tmpl, err := catalog.SelectTemplate(msg("hello", "a@b.com", "plain text"), database.FocusGeneral)
	require.NoError(t, err)
	assert.Equal(t, TemplateGeneral, tmpl.Name)
}

func TestSelectTemplate_ScoringPicksInvoice(t *testing.T) {
	catalog := newTestCatalog(nil)

	tmpl, err := catalog.SelectTemplate(
		msg("Invoice #42 payment due", "billing@stripe.com", "Amount due: $120.00 by January 31"),
		database.FocusGeneral)
	require.NoError(t, err)
	assert.Equal(t, TemplateInvoice, tmpl.Name)
}

func TestSelectTemplate_ScoringPicksAppointment(t *testing.T) {
	catalog := newTestCatalog(nil)

	tmpl, err := catalog.SelectTemplate(
		msg("Meeting invitation: project sync", "organizer@calendly.com", "Join us on Tuesday at 2:30 pm to discuss the schedule"),
		database.FocusGeneral)
	require.NoError(t, err)
	assert.Equal(t, TemplateAppointment, tmpl.Name)
}

func TestSelectTemplate_SubdomainSenderMatches(t *testing.T) {
	catalog := newTestCatalog(nil)

	tmpl, err := catalog.SelectTemplate(
		msg("Your receipt", "no-reply@mail.paypal.com", "thanks for your payment"),
		database.FocusGeneral)
	require.NoError(t, err)
	assert.Equal(t, TemplateInvoice, tmpl.Name)
}

func TestSelectTemplate_FocusIsDefault(t *testing.T) {
	catalog := newTestCatalog(nil)

	tmpl, err := catalog.SelectTemplate(
		msg("weekend plans", "friend@example.com", "want to grab lunch?"),
		database.FocusSentiment)
	require.NoError(t, err)
	assert.Equal(t, TemplateSentiment, tmpl.Name)
}

func TestSelectTemplate_TieBreaksByInsertionOrder(t *testing.T) {
	// Two templates with no registered signals score identically; the
	// earlier listed one must win.
	templates := []database.PromptTemplate{
		{Name: "first_blank", Template: "x", IsActive: true},
		{Name: "second_blank", Template: "y", IsActive: true},
	}
	catalog := NewCatalog(templates, nil, 0.7, slog.Default())

	tmpl, err := catalog.SelectTemplate(msg("nothing special", "a@b.com", "zzz"), database.FocusGeneral)
	require.NoError(t, err)
	assert.Equal(t, "first_blank", tmpl.Name)
}

func TestSelectTemplate_EmptyCatalog(t *testing.T) {
	catalog := NewCatalog(nil, nil, 0.7, slog.Default())

	_, err := catalog.SelectTemplate(msg("x", "a@b.com", "y"), database.FocusGeneral)
	assert.Error(t, err)
}

func TestFocusTemplateName(t *testing.T) {
	assert.Equal(t, TemplateGeneral, FocusTemplateName(database.FocusGeneral))
	assert.Equal(t, TemplateSentiment, FocusTemplateName(database.FocusSentiment))
	assert.Equal(t, TemplateUrgency, FocusTemplateName(database.FocusUrgency))
	assert.Equal(t, TemplateGeneral, FocusTemplateName(""))
}
