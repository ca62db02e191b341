// Package classify defines the content-classification capability used
// by the moderation pipeline and its LLM-backed implementations. A
// classifier call is slow (hundreds of milliseconds to seconds) and can
// fail at any time; callers bound every call with a timeout and
// substitute the fallback values on error.
package classify

import (
	"context"
	"strings"
)

// Severity grades how serious a violation is. The zero-ish value is
// SeverityNone; anything a backend returns outside the known set
// normalizes to it.
type Severity string

const (
	SeverityNone   Severity = "none"
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

var severityRank = map[Severity]int{
	SeverityNone:   0,
	SeverityLow:    1,
	SeverityMedium: 2,
	SeverityHigh:   3,
}

// Rank returns the ordering position of s, with unknown values ranked
// as none.
func (s Severity) Rank() int {
	return severityRank[s]
}

// AtLeast reports whether s is as severe as other or more.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// ParseSeverity normalizes a raw backend string into the closed
// severity set. Unparseable input maps to SeverityNone so a confused
// model never escalates anyone.
func ParseSeverity(raw string) Severity {
	switch Severity(strings.ToLower(strings.TrimSpace(raw))) {
	case SeverityLow:
		return SeverityLow
	case SeverityMedium:
		return SeverityMedium
	case SeverityHigh:
		return SeverityHigh
	default:
		return SeverityNone
	}
}

// SentimentLabel is the closed emotional-tone set.
type SentimentLabel string

const (
	SentimentPositive SentimentLabel = "positive"
	SentimentNeutral  SentimentLabel = "neutral"
	SentimentNegative SentimentLabel = "negative"
	SentimentHostile  SentimentLabel = "hostile"
)

// ParseSentimentLabel normalizes a raw backend string; unparseable
// input maps to neutral.
func ParseSentimentLabel(raw string) SentimentLabel {
	switch SentimentLabel(strings.ToLower(strings.TrimSpace(raw))) {
	case SentimentPositive:
		return SentimentPositive
	case SentimentNegative:
		return SentimentNegative
	case SentimentHostile:
		return SentimentHostile
	default:
		return SentimentNeutral
	}
}

// Classification is the verdict of a content check against the active
// moderation criteria.
type Classification struct {
	CategoriesViolated []string `json:"categories_violated"`
	Severity           Severity `json:"severity"`
	Reasoning          string   `json:"reasoning"`
}

// Sentiment is the emotional tone of a message with the backend's
// confidence in [0, 1].
type Sentiment struct {
	Label      SentimentLabel `json:"sentiment"`
	Confidence float64        `json:"confidence"`
}

// FallbackClassification is what callers substitute when a backend
// call fails: no categories, no severity, so an outage never blocks
// anyone.
func FallbackClassification() Classification {
	return Classification{CategoriesViolated: []string{}, Severity: SeverityNone}
}

// NeutralSentiment is the sentiment substitute on backend failure.
func NeutralSentiment() Sentiment {
	return Sentiment{Label: SentimentNeutral, Confidence: 0.5}
}

// Classifier is the external classification capability. Both methods
// honor ctx cancellation and deadlines. Implementations are safe for
// concurrent use.
type Classifier interface {
	// Classify checks message against the comma-separated criteria
	// list and returns the violated categories with a severity grade.
	Classify(ctx context.Context, message, username, criteria string) (Classification, error)

	// ScoreSentiment grades the emotional tone of message.
	ScoreSentiment(ctx context.Context, message string) (Sentiment, error)
}

// Provider names a backend selectable through configuration.
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)
