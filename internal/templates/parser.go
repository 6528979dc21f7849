package templates

import (
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"mail-insights/internal/database"
)

// ParsedAnalysis is a validated LLM verdict for one message. Every enum
// field is guaranteed to hold a member of its closed set.
type ParsedAnalysis struct {
	Category          database.Category
	Priority          database.Priority
	Sentiment         database.Sentiment
	Summary           string
	Tags              []string
	Confidence        float64
	ImportanceScore   *int
	PriorityReasoning *string
	Entities          []database.EntityExtraction
	ActionItems       []database.ActionItem
}

// Confidence assigned when the response had no parseable JSON and fields
// were recovered from loose "key: value" text instead.
const lenientConfidence = 0.5

var keyValuePattern = regexp.MustCompile(`(\w+)\s*:\s*([^,\n{}"]+)`)

// Parser validates raw LLM output against the closed enum sets.
type Parser struct {
	logger *slog.Logger
}

// NewParser creates a parser.
func NewParser(logger *slog.Logger) *Parser {
	return &Parser{logger: logger.With("component", "response_parser")}
}

// ParseAndValidate extracts the first balanced JSON object from the raw
// response and validates every field. Unknown enum values are dropped with a
// warning and replaced by neutral defaults; confidence and importance_score
// are clamped to their ranges. When no JSON object is present, loose
// "key: value" pairs are recovered at reduced confidence. Idempotent on
// already-canonical JSON.
func (p *Parser) ParseAndValidate(raw string) ParsedAnalysis {
	parsed := ParsedAnalysis{
		Category:   database.CategoryPersonal,
		Priority:   database.PriorityMedium,
		Sentiment:  database.SentimentNeutral,
		Confidence: lenientConfidence,
	}

	object := firstJSONObject(raw)
	if object == "" {
		p.parseLoose(raw, &parsed)
		return parsed
	}

	result := gjson.Parse(object)

	parsed.Category = p.validCategory(result.Get("category").String())
	parsed.Priority = p.validPriority(result.Get("priority").String(), database.PriorityMedium)
	parsed.Sentiment = p.validSentiment(result.Get("sentiment").String())
	parsed.Summary = result.Get("summary").String()

	if v := result.Get("confidence"); v.Exists() {
		parsed.Confidence = clampFloat(v.Float(), 0, 1)
	}
	if v := result.Get("importance_score"); v.Exists() {
		score := clampInt(int(v.Int()), 0, 100)
		parsed.ImportanceScore = &score
	}
	if v := result.Get("priority_reasoning"); v.Exists() {
		reasoning := v.String()
		parsed.PriorityReasoning = &reasoning
	}

	for _, tag := range result.Get("tags").Array() {
		if t := strings.TrimSpace(tag.String()); t != "" {
			parsed.Tags = append(parsed.Tags, t)
		}
	}

	parsed.Entities = p.parseEntities(result.Get("entities"))
	parsed.ActionItems = p.parseActionItems(result.Get("action_items"))

	return parsed
}

// parseLoose recovers "key: value" pairs from a response without JSON.
func (p *Parser) parseLoose(raw string, parsed *ParsedAnalysis) {
	p.logger.Warn("Response contained no JSON object, recovering loose fields")

	for _, match := range keyValuePattern.FindAllStringSubmatch(raw, -1) {
		key := strings.ToLower(strings.TrimSpace(match[1]))
		value := strings.TrimSpace(match[2])
		switch key {
		case "category":
			parsed.Category = p.validCategory(value)
		case "priority":
			parsed.Priority = p.validPriority(value, database.PriorityMedium)
		case "sentiment":
			parsed.Sentiment = p.validSentiment(value)
		case "summary":
			parsed.Summary = value
		}
	}
	parsed.Confidence = lenientConfidence
}

func (p *Parser) validCategory(v string) database.Category {
	upper := strings.ToUpper(strings.TrimSpace(v))
	if database.IsValidCategory(upper) {
		return database.Category(upper)
	}
	if upper != "" {
		p.logger.Warn("Dropping unknown category", "value", v)
	}
	return database.CategoryPersonal
}

func (p *Parser) validPriority(v string, fallback database.Priority) database.Priority {
	upper := strings.ToUpper(strings.TrimSpace(v))
	if database.IsValidPriority(upper) {
		return database.Priority(upper)
	}
	if upper != "" {
		p.logger.Warn("Dropping unknown priority", "value", v)
	}
	return fallback
}

func (p *Parser) validSentiment(v string) database.Sentiment {
	upper := strings.ToUpper(strings.TrimSpace(v))
	if database.IsValidSentiment(upper) {
		return database.Sentiment(upper)
	}
	if upper != "" {
		p.logger.Warn("Dropping unknown sentiment", "value", v)
	}
	return database.SentimentNeutral
}

// parseEntities keeps entities with a known type and a non-empty value.
func (p *Parser) parseEntities(arr gjson.Result) []database.EntityExtraction {
	var entities []database.EntityExtraction
	for _, item := range arr.Array() {
		entityType := strings.ToUpper(strings.TrimSpace(item.Get("entity_type").String()))
		value := strings.TrimSpace(item.Get("entity_value").String())
		if value == "" || !database.IsValidEntityType(entityType) {
			if entityType != "" || value != "" {
				p.logger.Warn("Dropping invalid entity", "type", entityType, "value", value)
			}
			continue
		}
		entities = append(entities, database.EntityExtraction{
			EntityType:  database.EntityType(entityType),
			EntityValue: value,
			Confidence:  clampFloat(item.Get("confidence").Float(), 0, 1),
			Context:     strings.TrimSpace(item.Get("context").String()),
		})
	}
	return entities
}

// parseActionItems keeps actions with a known type and a description.
func (p *Parser) parseActionItems(arr gjson.Result) []database.ActionItem {
	var actions []database.ActionItem
	for _, item := range arr.Array() {
		actionType := strings.ToUpper(strings.TrimSpace(item.Get("action_type").String()))
		description := strings.TrimSpace(item.Get("description").String())
		if description == "" || !database.IsValidActionType(actionType) {
			if actionType != "" || description != "" {
				p.logger.Warn("Dropping invalid action item", "type", actionType, "description", description)
			}
			continue
		}
		action := database.ActionItem{
			ActionType:  database.ActionType(actionType),
			Description: description,
			Priority:    p.validPriority(item.Get("priority").String(), database.PriorityMedium),
		}
		if due := parseDate(item.Get("due_date").String()); due != nil {
			action.DueDate = due
		}
		actions = append(actions, action)
	}
	return actions
}

// firstJSONObject returns the first balanced top-level JSON object in s, or
// the empty string. Braces inside JSON strings do not count.
func firstJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

func parseDate(v string) *time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return &t
		}
	}
	return nil
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
