package policy

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/modwatch/chat-triage/internal/classify"
	"github.com/modwatch/chat-triage/internal/detect"
)

func TestDecide_Verdicts(t *testing.T) {
	tests := []struct {
		name string
		in   Input
		want Verdict
	}{
		{
			name: "clean message allows",
			in:   Input{Username: "u", Classification: classify.FallbackClassification()},
			want: VerdictAllow,
		},
		{
			name: "high severity blocks",
			in: Input{
				Username:       "u",
				Classification: classify.Classification{Severity: classify.SeverityHigh, CategoriesViolated: []string{"hate_speech"}},
			},
			want: VerdictBlock,
		},
		{
			name: "high severity blocks without categories",
			in: Input{
				Username:       "u",
				Classification: classify.Classification{Severity: classify.SeverityHigh},
			},
			want: VerdictBlock,
		},
		{
			name: "two categories block regardless of severity",
			in: Input{
				Username:       "u",
				Classification: classify.Classification{Severity: classify.SeverityLow, CategoriesViolated: []string{"spam", "self_promo"}},
			},
			want: VerdictBlock,
		},
		{
			name: "medium severity watches",
			in: Input{
				Username:       "u",
				Classification: classify.Classification{Severity: classify.SeverityMedium},
			},
			want: VerdictWatch,
		},
		{
			name: "single category watches",
			in: Input{
				Username:       "u",
				Classification: classify.Classification{Severity: classify.SeverityNone, CategoriesViolated: []string{"spam"}},
			},
			want: VerdictWatch,
		},
		{
			name: "suspicious flags watch",
			in: Input{
				Username:       "u",
				Classification: classify.FallbackClassification(),
				Flags:          detect.Flags{HasURLs: true, URLCount: 1},
			},
			want: VerdictWatch,
		},
		{
			name: "too short alone allows",
			in: Input{
				Username:       "u",
				Classification: classify.FallbackClassification(),
				Flags:          detect.Flags{TooShort: true, MessageLength: 2},
			},
			want: VerdictAllow,
		},
		{
			name: "low severity no categories allows",
			in: Input{
				Username:       "u",
				Classification: classify.Classification{Severity: classify.SeverityLow},
			},
			want: VerdictAllow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(tt.in)
			if got.Verdict != tt.want {
				t.Errorf("Decide() = %q (%q), want %q", got.Verdict, got.Reason, tt.want)
			}
			if got.Reason == "" {
				t.Error("Decide() returned an empty reason")
			}
			if got.Username != tt.in.Username {
				t.Errorf("Username = %q, want %q", got.Username, tt.in.Username)
			}
		})
	}
}

// TestDecide_RepeatOffender exercises the escalation rule: any new
// violation from a previously watched user blocks.
func TestDecide_RepeatOffender(t *testing.T) {
	tests := []struct {
		name string
		in   Input
		want Verdict
	}{
		{
			name: "prior watch plus low severity blocks",
			in: Input{
				Username:       "u",
				Classification: classify.Classification{Severity: classify.SeverityLow},
				PriorWatch:     true,
			},
			want: VerdictBlock,
		},
		{
			name: "prior watch plus single category blocks",
			in: Input{
				Username:       "u",
				Classification: classify.Classification{CategoriesViolated: []string{"trolls"}},
				PriorWatch:     true,
			},
			want: VerdictBlock,
		},
		{
			name: "prior watch with clean classification does not escalate on flags",
			in: Input{
				Username:       "u",
				Classification: classify.FallbackClassification(),
				Flags:          detect.Flags{ExcessiveCaps: true},
				PriorWatch:     true,
			},
			want: VerdictWatch,
		},
		{
			name: "prior watch with nothing at all allows",
			in: Input{
				Username:       "u",
				Classification: classify.FallbackClassification(),
				PriorWatch:     true,
			},
			want: VerdictAllow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(tt.in)
			if got.Verdict != tt.want {
				t.Errorf("Decide() = %q (%q), want %q", got.Verdict, got.Reason, tt.want)
			}
		})
	}
}

// TestDecide_TieBreak pins the boundary the rules must never cross: a
// single low-severity category with clean history watches, never
// blocks.
func TestDecide_TieBreak(t *testing.T) {
	got := Decide(Input{
		Username:       "edge",
		Classification: classify.Classification{Severity: classify.SeverityLow, CategoriesViolated: []string{"off_topic"}},
	})
	if got.Verdict != VerdictWatch {
		t.Fatalf("single low-severity category = %q, want watch", got.Verdict)
	}
}

func TestDecide_Reasons(t *testing.T) {
	tests := []struct {
		name     string
		in       Input
		contains string
	}{
		{
			name: "block names severity and categories",
			in: Input{
				Username:       "u",
				Classification: classify.Classification{Severity: classify.SeverityHigh, CategoriesViolated: []string{"spam", "hate_speech"}},
			},
			contains: "severity high, categories: spam, hate_speech",
		},
		{
			name: "multi category block names them",
			in: Input{
				Username:       "u",
				Classification: classify.Classification{CategoriesViolated: []string{"spam", "trolls"}},
			},
			contains: "multiple categories violated: spam, trolls",
		},
		{
			name: "repeat offender names the trigger",
			in: Input{
				Username:       "u",
				Classification: classify.Classification{CategoriesViolated: []string{"spam"}},
				PriorWatch:     true,
			},
			contains: "repeat offender",
		},
		{
			name: "flag watch names the patterns",
			in: Input{
				Username:       "u",
				Classification: classify.FallbackClassification(),
				Flags:          detect.Flags{HasURLs: true, ExcessiveCaps: true},
			},
			contains: "urls, excessive caps",
		},
		{
			name: "allow reason",
			in: Input{
				Username:       "u",
				Classification: classify.FallbackClassification(),
			},
			contains: "no violations detected",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(tt.in)
			if !strings.Contains(got.Reason, tt.contains) {
				t.Errorf("Reason = %q, want substring %q", got.Reason, tt.contains)
			}
		})
	}
}

// TestDecide_SecondaryClauses verifies hostile sentiment and flag
// history enrich the reason without changing the verdict.
func TestDecide_SecondaryClauses(t *testing.T) {
	base := Input{
		Username:       "u",
		Classification: classify.Classification{CategoriesViolated: []string{"trolls"}},
	}

	plain := Decide(base)

	hostile := base
	hostile.Sentiment = classify.Sentiment{Label: classify.SentimentHostile, Confidence: 0.9}
	withTone := Decide(hostile)

	if plain.Verdict != withTone.Verdict {
		t.Errorf("sentiment changed verdict: %q vs %q", plain.Verdict, withTone.Verdict)
	}
	if !strings.Contains(withTone.Reason, "hostile sentiment") {
		t.Errorf("Reason = %q, want hostile sentiment clause", withTone.Reason)
	}

	flagged := base
	flagged.History.FlagCount = 3
	withHistory := Decide(flagged)
	if withHistory.Verdict != plain.Verdict {
		t.Errorf("history clause changed verdict: %q vs %q", withHistory.Verdict, plain.Verdict)
	}
	if !strings.Contains(withHistory.Reason, "3 previously flagged") {
		t.Errorf("Reason = %q, want flagged history clause", withHistory.Reason)
	}
}

// TestDecide_Deterministic verifies identical inputs yield identical
// decisions.
func TestDecide_Deterministic(t *testing.T) {
	in := Input{
		Username: "stable",
		Classification: classify.Classification{
			Severity:           classify.SeverityMedium,
			CategoriesViolated: []string{"spam"},
		},
		Sentiment: classify.Sentiment{Label: classify.SentimentNegative, Confidence: 0.7},
		Flags:     detect.Flags{HasURLs: true, URLCount: 2},
	}

	first := Decide(in)
	for i := 0; i < 5; i++ {
		if diff := cmp.Diff(first, Decide(in)); diff != "" {
			t.Fatalf("Decide not deterministic (-first +now):\n%s", diff)
		}
	}
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		raw  string
		want Verdict
		ok   bool
	}{
		{"block", VerdictBlock, true},
		{"allow", VerdictAllow, true},
		{"watch", VerdictWatch, true},
		{"BLOCK", VerdictBlock, true},
		{" watch ", VerdictWatch, true},
		{"ban", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := ParseVerdict(tt.raw)
			if got != tt.want || ok != tt.ok {
				t.Errorf("ParseVerdict(%q) = (%q, %v), want (%q, %v)", tt.raw, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func BenchmarkDecide(b *testing.B) {
	in := Input{
		Username: "bench",
		Classification: classify.Classification{
			Severity:           classify.SeverityMedium,
			CategoriesViolated: []string{"spam"},
		},
		Flags: detect.Flags{HasURLs: true},
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Decide(in)
	}
}
