// Package policy turns classification results, structural flags and
// user history into a moderation verdict. Decide is deterministic and
// pure; identical inputs always produce the identical decision, which
// keeps verdicts explainable after the fact.
package policy

import (
	"fmt"
	"strings"

	"github.com/modwatch/chat-triage/internal/classify"
	"github.com/modwatch/chat-triage/internal/detect"
	"github.com/modwatch/chat-triage/internal/store"
)

// Verdict is the triage outcome for one message.
type Verdict string

const (
	VerdictBlock Verdict = "block"
	VerdictAllow Verdict = "allow"
	VerdictWatch Verdict = "watch"
)

// ParseVerdict maps a raw string onto the closed verdict set. The
// second return is false for anything outside it.
func ParseVerdict(raw string) (Verdict, bool) {
	switch Verdict(strings.ToLower(strings.TrimSpace(raw))) {
	case VerdictBlock:
		return VerdictBlock, true
	case VerdictAllow:
		return VerdictAllow, true
	case VerdictWatch:
		return VerdictWatch, true
	default:
		return "", false
	}
}

// Decision is the per-message triage result returned to callers and,
// for block/watch, recorded in the audit log.
type Decision struct {
	Username string  `json:"username"`
	Verdict  Verdict `json:"decision"`
	Reason   string  `json:"reason"`
}

// Input carries everything Decide may weigh for one message.
// PriorWatch is derived from the audit log: a previous watch decision
// on record for this user.
type Input struct {
	Username       string
	Classification classify.Classification
	Sentiment      classify.Sentiment
	Flags          detect.Flags
	History        store.UserHistorySummary
	PriorWatch     bool
}

// Decide applies the triage rules in order:
//
//  1. high severity or two or more violated categories: block
//  2. prior watch on record and any violation now: block
//  3. medium severity, exactly one category, or suspicious patterns: watch
//  4. otherwise: allow
//
// A single low-severity category with a clean history never blocks;
// structural flags alone never escalate a previously watched user.
func Decide(in Input) Decision {
	cats := in.Classification.CategoriesViolated
	sev := in.Classification.Severity
	violation := sev.AtLeast(classify.SeverityLow) || len(cats) > 0

	switch {
	case sev == classify.SeverityHigh || len(cats) >= 2:
		return Decision{
			Username: in.Username,
			Verdict:  VerdictBlock,
			Reason:   blockReason(sev, cats),
		}

	case in.PriorWatch && violation:
		reason := fmt.Sprintf("repeat offender: prior watch, new violation (%s)", violationSummary(sev, cats))
		return Decision{
			Username: in.Username,
			Verdict:  VerdictBlock,
			Reason:   withSecondary(reason, in),
		}

	case sev == classify.SeverityMedium || len(cats) == 1 || in.Flags.Suspicious():
		return Decision{
			Username: in.Username,
			Verdict:  VerdictWatch,
			Reason:   withSecondary(watchReason(sev, cats, in.Flags), in),
		}

	default:
		return Decision{
			Username: in.Username,
			Verdict:  VerdictAllow,
			Reason:   "no violations detected",
		}
	}
}

func blockReason(sev classify.Severity, cats []string) string {
	if sev == classify.SeverityHigh {
		if len(cats) > 0 {
			return fmt.Sprintf("severity high, categories: %s", strings.Join(cats, ", "))
		}
		return "severity high"
	}
	return fmt.Sprintf("multiple categories violated: %s", strings.Join(cats, ", "))
}

func watchReason(sev classify.Severity, cats []string, flags detect.Flags) string {
	switch {
	case sev == classify.SeverityMedium:
		if len(cats) > 0 {
			return fmt.Sprintf("severity medium, categories: %s", strings.Join(cats, ", "))
		}
		return "severity medium"
	case len(cats) == 1:
		return fmt.Sprintf("category violated: %s", cats[0])
	default:
		return fmt.Sprintf("suspicious message patterns (%s)", strings.Join(flagNames(flags), ", "))
	}
}

// violationSummary names what tripped the repeat-offender escalation.
func violationSummary(sev classify.Severity, cats []string) string {
	switch {
	case sev.AtLeast(classify.SeverityLow) && len(cats) > 0:
		return fmt.Sprintf("severity %s, categories: %s", sev, strings.Join(cats, ", "))
	case sev.AtLeast(classify.SeverityLow):
		return fmt.Sprintf("severity %s", sev)
	default:
		return fmt.Sprintf("categories: %s", strings.Join(cats, ", "))
	}
}

// withSecondary appends informational clauses that never change the
// verdict: hostile tone and previously flagged messages.
func withSecondary(reason string, in Input) string {
	if in.Sentiment.Label == classify.SentimentHostile {
		reason += "; hostile sentiment"
	}
	if in.History.FlagCount > 0 {
		reason += fmt.Sprintf("; %d previously flagged message(s)", in.History.FlagCount)
	}
	return reason
}

func flagNames(f detect.Flags) []string {
	var names []string
	if f.HasURLs {
		names = append(names, "urls")
	}
	if f.ExcessiveCaps {
		names = append(names, "excessive caps")
	}
	if f.RepeatedChars {
		names = append(names, "repeated characters")
	}
	if f.ExcessiveEmojis {
		names = append(names, "excessive emojis")
	}
	if f.TooLong {
		names = append(names, "overlong message")
	}
	return names
}
