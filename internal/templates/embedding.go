package templates

import (
	"mail-insights/internal/database"
)

// Classification is an embedding classifier's verdict for one subject line.
type Classification struct {
	Category   database.Category
	Confidence float64
}

// EmbeddingClassifier maps subject lines to categories. The pipeline only
// trusts classifications at or above the configured confidence floor.
type EmbeddingClassifier interface {
	// IsReady reports whether the classifier can serve requests.
	IsReady() bool

	// ClassifySubject returns the most likely category with its confidence.
	ClassifySubject(subject string) (Classification, error)

	// CategoryTemplate returns the template name registered for a category.
	CategoryTemplate(category database.Category) string
}

// NoOpClassifier is used when no embedding backend is configured; selection
// always falls through to the signal scorer.
type NoOpClassifier struct{}

// NewNoOpClassifier creates a classifier that is never ready.
func NewNoOpClassifier() *NoOpClassifier {
	return &NoOpClassifier{}
}

// IsReady returns false.
func (n *NoOpClassifier) IsReady() bool {
	return false
}

// ClassifySubject returns a zero-confidence classification.
func (n *NoOpClassifier) ClassifySubject(subject string) (Classification, error) {
	return Classification{Category: database.CategoryPersonal, Confidence: 0}, nil
}

// CategoryTemplate returns the empty string.
func (n *NoOpClassifier) CategoryTemplate(category database.Category) string {
	return ""
}
