package classify

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Both backends share the same prompts and the same strict-JSON reply
// contract, so swapping providers never changes what the pipeline sees.

const classifySystemPrompt = `You are a chat moderation assistant for a live stream.
You judge single chat messages against the active moderation criteria.
Respond with a JSON object only, no prose, using exactly this shape:
{"categories_violated": ["..."], "severity": "none|low|medium|high", "reasoning": "..."}
An empty categories_violated list with severity "none" means the message is fine.`

const sentimentSystemPrompt = `You grade the emotional tone of a single chat message.
Respond with a JSON object only, no prose, using exactly this shape:
{"sentiment": "positive|neutral|negative|hostile", "confidence": 0.0}`

func classifyUserPrompt(message, username, criteria, instructions string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Active criteria: %s\n", criteria)
	if instructions != "" {
		fmt.Fprintf(&b, "Additional moderator instructions: %s\n", instructions)
	}
	fmt.Fprintf(&b, "User: %s\nMessage: %s", username, message)
	return b.String()
}

func sentimentUserPrompt(message string) string {
	return fmt.Sprintf("Message: %s", message)
}

// classificationReply mirrors the JSON shape the prompts demand.
type classificationReply struct {
	CategoriesViolated []string `json:"categories_violated"`
	Severity           string   `json:"severity"`
	Reasoning          string   `json:"reasoning"`
}

type sentimentReply struct {
	Sentiment  string  `json:"sentiment"`
	Confidence float64 `json:"confidence"`
}

// parseClassification decodes a backend reply into a normalized
// Classification. Category names are trimmed and lower-cased, empties
// dropped, severity folded into the closed set.
func parseClassification(raw string) (Classification, error) {
	var reply classificationReply
	if err := json.Unmarshal([]byte(stripFences(raw)), &reply); err != nil {
		return Classification{}, fmt.Errorf("classify: parse classification: %w", err)
	}

	cats := make([]string, 0, len(reply.CategoriesViolated))
	for _, c := range reply.CategoriesViolated {
		c = strings.ToLower(strings.TrimSpace(c))
		if c != "" {
			cats = append(cats, c)
		}
	}

	return Classification{
		CategoriesViolated: cats,
		Severity:           ParseSeverity(reply.Severity),
		Reasoning:          strings.TrimSpace(reply.Reasoning),
	}, nil
}

// parseSentiment decodes a backend reply into a normalized Sentiment
// with confidence clamped to [0, 1].
func parseSentiment(raw string) (Sentiment, error) {
	var reply sentimentReply
	if err := json.Unmarshal([]byte(stripFences(raw)), &reply); err != nil {
		return Sentiment{}, fmt.Errorf("classify: parse sentiment: %w", err)
	}

	conf := reply.Confidence
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}

	return Sentiment{
		Label:      ParseSentimentLabel(reply.Sentiment),
		Confidence: conf,
	}, nil
}

// stripFences removes a surrounding markdown code fence. Models asked
// for bare JSON still wrap replies in ```json blocks.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.Index(s, "\n"); i >= 0 && !strings.HasPrefix(s, "{") {
		s = s[i+1:] // drop the language tag line
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
