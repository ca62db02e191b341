package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/modwatch/chat-triage/internal/cache"
	"github.com/modwatch/chat-triage/internal/classify"
	"github.com/modwatch/chat-triage/internal/events"
	"github.com/modwatch/chat-triage/internal/policy"
	"github.com/modwatch/chat-triage/internal/settings"
	"github.com/modwatch/chat-triage/internal/store"
)

// fakeClassifier returns scripted classifications keyed by message
// text; unscripted messages come back clean.
type fakeClassifier struct {
	mu             sync.Mutex
	classifyCalls  int
	sentimentCalls int

	results    map[string]classify.Classification
	sentiments map[string]classify.Sentiment

	classifyErr  error
	sentimentErr error
}

func (f *fakeClassifier) Classify(_ context.Context, message, _, _ string) (classify.Classification, error) {
	f.mu.Lock()
	f.classifyCalls++
	f.mu.Unlock()
	if f.classifyErr != nil {
		return classify.Classification{}, f.classifyErr
	}
	if c, ok := f.results[message]; ok {
		return c, nil
	}
	return classify.FallbackClassification(), nil
}

func (f *fakeClassifier) ScoreSentiment(_ context.Context, message string) (classify.Sentiment, error) {
	f.mu.Lock()
	f.sentimentCalls++
	f.mu.Unlock()
	if f.sentimentErr != nil {
		return classify.Sentiment{}, f.sentimentErr
	}
	if s, ok := f.sentiments[message]; ok {
		return s, nil
	}
	return classify.NeutralSentiment(), nil
}

func (f *fakeClassifier) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.classifyCalls
}

type recordingPublisher struct {
	mu  sync.Mutex
	got []events.DecisionEvent
}

func (p *recordingPublisher) PublishDecision(ev events.DecisionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, ev)
	return nil
}

func (p *recordingPublisher) all() []events.DecisionEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.DecisionEvent, len(p.got))
	copy(out, p.got)
	return out
}

func newTestEngine(t *testing.T, classifier classify.Classifier, pub Publisher) (*Engine, store.Store, *cache.Memory, *settings.Manager) {
	t.Helper()
	st, err := store.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	mem := cache.NewMemory()
	mgr := settings.NewManager(settings.Defaults())
	e := New(st, mem, classifier, mgr, pub, zap.NewNop(), Options{})
	return e, st, mem, mgr
}

func TestAnalyzeBatch_Empty(t *testing.T) {
	e, _, _, _ := newTestEngine(t, &fakeClassifier{}, nil)

	got := e.AnalyzeBatch(context.Background(), nil)
	if got == nil {
		t.Fatal("expected empty slice, got nil")
	}
	if len(got) != 0 {
		t.Errorf("len = %d, want 0", len(got))
	}
}

func TestAnalyzeBatch_Disabled(t *testing.T) {
	fc := &fakeClassifier{
		results: map[string]classify.Classification{
			"BUY GOLD NOW": {Severity: classify.SeverityHigh, CategoriesViolated: []string{"spam"}},
		},
	}
	e, st, mem, mgr := newTestEngine(t, fc, nil)
	ctx := context.Background()

	paused := settings.Defaults()
	paused.Enabled = false
	mgr.Update(paused)

	got := e.AnalyzeBatch(ctx, []ChatMessage{{Username: "alice", Text: "BUY GOLD NOW"}})
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].Verdict != policy.VerdictAllow || got[0].Reason != "moderation disabled" {
		t.Errorf("decision = %+v, want allow/moderation disabled", got[0])
	}
	if fc.calls() != 0 {
		t.Errorf("classifier called %d times while disabled", fc.calls())
	}

	// Nothing is recorded or cached while paused.
	stats, err := st.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error: %v", err)
	}
	if stats.MessagesAnalyzed != 0 || stats.UsersBlocked != 0 {
		t.Errorf("stats = %+v, want all zero", stats)
	}
	if _, ok, _ := mem.Get(ctx, "alice"); ok {
		t.Error("cache written while disabled")
	}
}

func TestAnalyzeBatch_OrderPreserved(t *testing.T) {
	fc := &fakeClassifier{
		results: map[string]classify.Classification{
			"buy my cheap followers today": {Severity: classify.SeverityHigh, CategoriesViolated: []string{"spam"}},
		},
	}
	e, _, _, _ := newTestEngine(t, fc, nil)

	batch := []ChatMessage{
		{Username: "alice", Text: "good morning everyone, lovely stream"},
		{Username: "spammer", Text: "buy my cheap followers today"},
		{Username: "bob", Text: "that last play was really impressive"},
		{Username: "carol", Text: "anyone know when the next match starts"},
	}
	got := e.AnalyzeBatch(context.Background(), batch)
	if len(got) != len(batch) {
		t.Fatalf("len = %d, want %d", len(got), len(batch))
	}
	for i, d := range got {
		if d.Username != batch[i].Username {
			t.Errorf("decision %d for %q, want %q", i, d.Username, batch[i].Username)
		}
	}
	if got[1].Verdict != policy.VerdictBlock {
		t.Errorf("spammer verdict = %q, want block", got[1].Verdict)
	}
	for _, i := range []int{0, 2, 3} {
		if got[i].Verdict != policy.VerdictAllow {
			t.Errorf("%s verdict = %q, want allow", got[i].Username, got[i].Verdict)
		}
	}
}

func TestAnalyzeBatch_BlockFlow(t *testing.T) {
	fc := &fakeClassifier{
		results: map[string]classify.Classification{
			"buy my cheap followers today": {Severity: classify.SeverityHigh, CategoriesViolated: []string{"spam"}},
		},
	}
	pub := &recordingPublisher{}
	e, st, mem, _ := newTestEngine(t, fc, pub)
	ctx := context.Background()

	got := e.AnalyzeBatch(ctx, []ChatMessage{{Username: "spammer", Text: "buy my cheap followers today"}})
	if got[0].Verdict != policy.VerdictBlock {
		t.Fatalf("verdict = %q (%q), want block", got[0].Verdict, got[0].Reason)
	}
	if !strings.Contains(got[0].Reason, "severity high") {
		t.Errorf("reason = %q, want severity high mention", got[0].Reason)
	}

	// Audit log entry with the violated categories.
	recs, err := st.ListDecisions(ctx, 10)
	if err != nil {
		t.Fatalf("ListDecisions() error: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(recs))
	}
	if recs[0].Decision != "block" || len(recs[0].Categories) != 1 || recs[0].Categories[0] != "spam" {
		t.Errorf("audit entry = %+v", recs[0])
	}

	// The message was recorded and flagged.
	summary, err := st.SummarizeUser(ctx, "spammer")
	if err != nil {
		t.Fatalf("SummarizeUser() error: %v", err)
	}
	if summary.TotalMessages != 1 || summary.FlagCount != 1 {
		t.Errorf("summary = %+v, want 1 message 1 flag", summary)
	}

	// Verdict cached for the user.
	verdict, ok, _ := mem.Get(ctx, "spammer")
	if !ok || verdict != policy.VerdictBlock {
		t.Errorf("cached verdict = (%q, %v), want block hit", verdict, ok)
	}

	// Event published with a batch id.
	evs := pub.all()
	if len(evs) != 1 {
		t.Fatalf("published events = %d, want 1", len(evs))
	}
	if evs[0].Decision != "block" || evs[0].Username != "spammer" || evs[0].BatchID == "" {
		t.Errorf("event = %+v", evs[0])
	}

	stats, _ := st.Stats(ctx)
	if stats.MessagesAnalyzed != 1 || stats.UsersBlocked != 1 || stats.CacheHits != 0 {
		t.Errorf("stats = %+v, want {1 1 0}", stats)
	}
}

func TestAnalyzeBatch_CacheHit(t *testing.T) {
	fc := &fakeClassifier{}
	e, st, mem, _ := newTestEngine(t, fc, nil)
	ctx := context.Background()

	if err := mem.Set(ctx, "spammer", policy.VerdictBlock); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	got := e.AnalyzeBatch(ctx, []ChatMessage{{Username: "spammer", Text: "hello again everyone in chat"}})
	if got[0].Verdict != policy.VerdictBlock || got[0].Reason != "cached decision" {
		t.Fatalf("decision = %+v, want cached block", got[0])
	}
	if fc.calls() != 0 {
		t.Errorf("classifier called %d times on a cache hit", fc.calls())
	}

	// Cached blocks count as hits, never as fresh blocks.
	stats, _ := st.Stats(ctx)
	if stats.MessagesAnalyzed != 1 || stats.UsersBlocked != 0 || stats.CacheHits != 1 {
		t.Errorf("stats = %+v, want {1 0 1}", stats)
	}
	recs, _ := st.ListDecisions(ctx, 10)
	if len(recs) != 0 {
		t.Errorf("audit entries = %d, want 0", len(recs))
	}
}

func TestAnalyzeBatch_ShortMessageFastPath(t *testing.T) {
	fc := &fakeClassifier{}
	e, st, mem, _ := newTestEngine(t, fc, nil)
	ctx := context.Background()

	got := e.AnalyzeBatch(ctx, []ChatMessage{{Username: "alice", Text: "gg"}})
	if got[0].Verdict != policy.VerdictAllow {
		t.Fatalf("verdict = %q, want allow", got[0].Verdict)
	}
	if got[0].Reason != "short message, no suspicious patterns" {
		t.Errorf("reason = %q", got[0].Reason)
	}
	if fc.calls() != 0 {
		t.Errorf("classifier called %d times on fast path", fc.calls())
	}

	// History still records the message, but no verdict is cached.
	summary, _ := st.SummarizeUser(ctx, "alice")
	if summary.TotalMessages != 1 {
		t.Errorf("TotalMessages = %d, want 1", summary.TotalMessages)
	}
	if _, ok, _ := mem.Get(ctx, "alice"); ok {
		t.Error("fast path wrote to the cache")
	}
}

func TestAnalyzeBatch_ClassifierFailureAllows(t *testing.T) {
	fc := &fakeClassifier{classifyErr: errors.New("upstream timeout"), sentimentErr: errors.New("upstream timeout")}
	e, _, _, _ := newTestEngine(t, fc, nil)

	got := e.AnalyzeBatch(context.Background(), []ChatMessage{
		{Username: "alice", Text: "a perfectly ordinary sentence about the game"},
	})
	if got[0].Verdict != policy.VerdictAllow {
		t.Errorf("verdict = %q (%q), want allow on classifier failure", got[0].Verdict, got[0].Reason)
	}
}

func TestAnalyzeBatch_NoClassifier(t *testing.T) {
	e, st, mem, _ := newTestEngine(t, nil, nil)
	ctx := context.Background()

	got := e.AnalyzeBatch(ctx, []ChatMessage{{Username: "alice", Text: "is anyone moderating this channel"}})
	if got[0].Verdict != policy.VerdictAllow || got[0].Reason != "agent not configured" {
		t.Fatalf("decision = %+v, want allow/agent not configured", got[0])
	}

	// The allow is cached so repeats stay cheap.
	verdict, ok, _ := mem.Get(ctx, "alice")
	if !ok || verdict != policy.VerdictAllow {
		t.Errorf("cached verdict = (%q, %v), want allow hit", verdict, ok)
	}

	// Analyzed count moves, history does not.
	stats, _ := st.Stats(ctx)
	if stats.MessagesAnalyzed != 1 {
		t.Errorf("MessagesAnalyzed = %d, want 1", stats.MessagesAnalyzed)
	}
	summary, _ := st.SummarizeUser(ctx, "alice")
	if summary.TotalMessages != 0 {
		t.Errorf("TotalMessages = %d, want 0", summary.TotalMessages)
	}

	// Second batch hits the cached allow.
	got = e.AnalyzeBatch(ctx, []ChatMessage{{Username: "alice", Text: "still here"}})
	if got[0].Reason != "cached decision" {
		t.Errorf("reason = %q, want cached decision", got[0].Reason)
	}
	stats, _ = st.Stats(ctx)
	if stats.CacheHits != 1 {
		t.Errorf("CacheHits = %d, want 1", stats.CacheHits)
	}
}

// TestAnalyzeBatch_RepeatOffender walks a user from watch to block
// across two batches through the real history store.
func TestAnalyzeBatch_RepeatOffender(t *testing.T) {
	fc := &fakeClassifier{
		results: map[string]classify.Classification{
			"join my channel for free stuff":  {Severity: classify.SeverityLow, CategoriesViolated: []string{"self_promo"}},
			"come check out my stream please": {Severity: classify.SeverityLow, CategoriesViolated: []string{"self_promo"}},
		},
	}
	e, st, mem, _ := newTestEngine(t, fc, nil)
	ctx := context.Background()

	first := e.AnalyzeBatch(ctx, []ChatMessage{{Username: "promoter", Text: "join my channel for free stuff"}})
	if first[0].Verdict != policy.VerdictWatch {
		t.Fatalf("first offense verdict = %q (%q), want watch", first[0].Verdict, first[0].Reason)
	}

	// Let the cached watch lapse, as TTL expiry would.
	if err := mem.Invalidate(ctx, "promoter"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	second := e.AnalyzeBatch(ctx, []ChatMessage{{Username: "promoter", Text: "come check out my stream please"}})
	if second[0].Verdict != policy.VerdictBlock {
		t.Fatalf("second offense verdict = %q (%q), want block", second[0].Verdict, second[0].Reason)
	}
	if !strings.Contains(second[0].Reason, "repeat offender") {
		t.Errorf("reason = %q, want repeat offender mention", second[0].Reason)
	}

	recs, _ := st.ListDecisions(ctx, 10)
	if len(recs) != 2 {
		t.Fatalf("audit entries = %d, want 2", len(recs))
	}
	// Most recent first.
	if recs[0].Decision != "block" || recs[1].Decision != "watch" {
		t.Errorf("audit order = [%s, %s], want [block, watch]", recs[0].Decision, recs[1].Decision)
	}
}

// TestAnalyzeBatch_DuplicateUser verifies that two messages from the
// same user in one batch serialize: the first is analyzed fresh and
// the second reuses its cached verdict.
func TestAnalyzeBatch_DuplicateUser(t *testing.T) {
	fc := &fakeClassifier{
		results: map[string]classify.Classification{
			"join my channel for free stuff": {Severity: classify.SeverityLow, CategoriesViolated: []string{"self_promo"}},
			"seriously come join my channel": {Severity: classify.SeverityLow, CategoriesViolated: []string{"self_promo"}},
		},
	}
	e, st, _, _ := newTestEngine(t, fc, nil)
	ctx := context.Background()

	got := e.AnalyzeBatch(ctx, []ChatMessage{
		{Username: "promoter", Text: "join my channel for free stuff"},
		{Username: "promoter", Text: "seriously come join my channel"},
	})

	for i, d := range got {
		if d.Verdict != policy.VerdictWatch {
			t.Errorf("decision %d = %q (%q), want watch", i, d.Verdict, d.Reason)
		}
	}
	if fc.calls() != 1 {
		t.Errorf("classifier calls = %d, want 1", fc.calls())
	}

	cached := 0
	for _, d := range got {
		if d.Reason == "cached decision" {
			cached++
		}
	}
	if cached != 1 {
		t.Errorf("cached decisions = %d, want exactly 1", cached)
	}

	recs, _ := st.ListDecisions(ctx, 10)
	if len(recs) != 1 {
		t.Errorf("audit entries = %d, want 1", len(recs))
	}
	stats, _ := st.Stats(ctx)
	if stats.MessagesAnalyzed != 2 || stats.CacheHits != 1 {
		t.Errorf("stats = %+v, want analyzed 2 hits 1", stats)
	}
}

func TestAnalyzeBatch_HostileSentimentInReason(t *testing.T) {
	fc := &fakeClassifier{
		results: map[string]classify.Classification{
			"you are all idiots honestly": {Severity: classify.SeverityLow, CategoriesViolated: []string{"trolls"}},
		},
		sentiments: map[string]classify.Sentiment{
			"you are all idiots honestly": {Label: classify.SentimentHostile, Confidence: 0.9},
		},
	}
	e, _, _, _ := newTestEngine(t, fc, nil)

	got := e.AnalyzeBatch(context.Background(), []ChatMessage{
		{Username: "heckler", Text: "you are all idiots honestly"},
	})
	if got[0].Verdict != policy.VerdictWatch {
		t.Fatalf("verdict = %q, want watch", got[0].Verdict)
	}
	if !strings.Contains(got[0].Reason, "hostile sentiment") {
		t.Errorf("reason = %q, want hostile sentiment clause", got[0].Reason)
	}
}

func TestSetClassifier(t *testing.T) {
	e, _, _, _ := newTestEngine(t, nil, nil)
	if e.AgentReady() {
		t.Fatal("AgentReady() = true with nil classifier")
	}

	fc := &fakeClassifier{}
	e.SetClassifier(fc)
	if !e.AgentReady() {
		t.Fatal("AgentReady() = false after SetClassifier")
	}

	got := e.AnalyzeBatch(context.Background(), []ChatMessage{
		{Username: "alice", Text: "a normal message that reaches the classifier"},
	})
	if got[0].Reason == "agent not configured" {
		t.Errorf("reason = %q after classifier installed", got[0].Reason)
	}
	if fc.calls() != 1 {
		t.Errorf("classifier calls = %d, want 1", fc.calls())
	}

	e.SetClassifier(nil)
	if e.AgentReady() {
		t.Error("AgentReady() = true after clearing classifier")
	}
}

func TestNew_Defaults(t *testing.T) {
	st, err := store.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()
	mgr := settings.NewManager(settings.Defaults())

	tests := []struct {
		name            string
		opts            Options
		wantTimeout     time.Duration
		wantConcurrency int
	}{
		{"zero values", Options{}, DefaultTimeout, DefaultConcurrency},
		{"negative concurrency", Options{Concurrency: -1}, DefaultTimeout, DefaultConcurrency},
		{"over the cap", Options{Concurrency: 100}, DefaultTimeout, maxConcurrency},
		{"explicit", Options{Timeout: 5 * time.Second, Concurrency: 8}, 5 * time.Second, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(st, cache.NewMemory(), nil, mgr, nil, zap.NewNop(), tt.opts)
			if e.timeout != tt.wantTimeout {
				t.Errorf("timeout = %v, want %v", e.timeout, tt.wantTimeout)
			}
			if e.concurrency != tt.wantConcurrency {
				t.Errorf("concurrency = %d, want %d", e.concurrency, tt.wantConcurrency)
			}
		})
	}
}
