package templates

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"mail-insights/internal/database"
	"mail-insights/internal/email"
)

// UserPrefs carries the per-schedule knobs a prompt may interpolate.
type UserPrefs struct {
	SenderPriorities    map[string]database.Priority
	EmailTypePriorities map[string]database.Priority
	LLMFocus            database.LLMFocus
}

var (
	conditionalPattern = regexp.MustCompile(`(?s)\{\{#if\s+(\w+)\}\}(.*?)\{\{/if\}\}`)
	leftoverPattern    = regexp.MustCompile(`\{\{\w+\}\}`)
)

// RenderPrompt interpolates the message and user preferences into a stored
// template. {{bodyText}} falls back to the HTML body when no plain part
// exists; {{receivedAt}} renders ISO-8601. Conditional blocks render only
// when the named preference is set, and any placeholder left unresolved is
// stripped from the output.
func RenderPrompt(template *database.PromptTemplate, msg *email.CanonicalMessage, prefs *UserPrefs) string {
	body := msg.BodyText
	if body == "" {
		body = msg.BodyHTML
	}

	values := map[string]string{
		"subject":     msg.Subject,
		"fromAddress": msg.From,
		"bodyText":    body,
		"receivedAt":  msg.Date.UTC().Format(time.RFC3339),
	}
	if prefs != nil {
		if len(prefs.SenderPriorities) > 0 {
			values["senderPriorities"] = formatPriorityMap(prefs.SenderPriorities)
		}
		if len(prefs.EmailTypePriorities) > 0 {
			values["emailTypePriorities"] = formatPriorityMap(prefs.EmailTypePriorities)
		}
		if prefs.LLMFocus != "" {
			values["llmFocus"] = string(prefs.LLMFocus)
		}
	}

	rendered := conditionalPattern.ReplaceAllStringFunc(template.Template, func(block string) string {
		parts := conditionalPattern.FindStringSubmatch(block)
		name, inner := parts[1], parts[2]
		if _, ok := values[name]; !ok {
			return ""
		}
		return inner
	})

	for name, value := range values {
		rendered = strings.ReplaceAll(rendered, "{{"+name+"}}", value)
	}

	return leftoverPattern.ReplaceAllString(rendered, "")
}

// formatPriorityMap renders a priority map as stable "key: VALUE" lines.
func formatPriorityMap(m map[string]database.Priority) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %s\n", k, m[k])
	}
	return strings.TrimSuffix(b.String(), "\n")
}
