package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

var ignoreTimestamps = cmpopts.IgnoreFields(DecisionRecord{}, "CreatedAt")

func newTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordAndSummarize(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	// Unknown user: zero counts, FirstSeen close to now.
	sum, err := s.SummarizeUser(ctx, "ghost")
	if err != nil {
		t.Fatalf("summarize unknown: %v", err)
	}
	if sum.TotalMessages != 0 || sum.RecentMessages != 0 || sum.FlagCount != 0 {
		t.Errorf("unknown user summary = %+v, want zero counts", sum)
	}
	if time.Since(sum.FirstSeen) > time.Minute {
		t.Errorf("unknown user FirstSeen = %v, want close to now", sum.FirstSeen)
	}

	for _, msg := range []string{"first", "second", "third"} {
		if _, err := s.RecordMessage(ctx, "alice", msg); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if _, err := s.RecordMessage(ctx, "bob", "unrelated"); err != nil {
		t.Fatalf("record: %v", err)
	}

	sum, err = s.SummarizeUser(ctx, "alice")
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if sum.Username != "alice" {
		t.Errorf("Username = %q, want alice", sum.Username)
	}
	if sum.TotalMessages != 3 {
		t.Errorf("TotalMessages = %d, want 3", sum.TotalMessages)
	}
	if sum.RecentMessages != 3 {
		t.Errorf("RecentMessages = %d, want 3", sum.RecentMessages)
	}
	if sum.FlagCount != 0 {
		t.Errorf("FlagCount = %d, want 0", sum.FlagCount)
	}
}

func TestMarkFlagged(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.RecordMessage(ctx, "carol", "spammy thing")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := s.RecordMessage(ctx, "carol", "normal thing"); err != nil {
		t.Fatalf("record: %v", err)
	}

	if err := s.MarkFlagged(ctx, id); err != nil {
		t.Fatalf("mark flagged: %v", err)
	}

	sum, err := s.SummarizeUser(ctx, "carol")
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if sum.FlagCount != 1 {
		t.Errorf("FlagCount = %d, want 1", sum.FlagCount)
	}
	if sum.TotalMessages != 2 {
		t.Errorf("TotalMessages = %d, want 2", sum.TotalMessages)
	}
}

func TestAppendAndListDecisions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first, err := s.AppendDecision(ctx, DecisionRecord{
		Username:   "dave",
		Decision:   "watch",
		Reason:     "category violated: spam",
		Categories: []string{"spam"},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	second, err := s.AppendDecision(ctx, DecisionRecord{
		Username:   "erin",
		Decision:   "block",
		Reason:     "severity high, categories: spam, hate_speech",
		Categories: []string{"spam", "hate_speech"},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if second <= first {
		t.Errorf("ids not increasing: first=%d second=%d", first, second)
	}

	got, err := s.ListDecisions(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []DecisionRecord{
		{ID: second, Username: "erin", Decision: "block", Reason: "severity high, categories: spam, hate_speech", Categories: []string{"spam", "hate_speech"}},
		{ID: first, Username: "dave", Decision: "watch", Reason: "category violated: spam", Categories: []string{"spam"}},
	}
	if diff := cmp.Diff(want, got, ignoreTimestamps); diff != "" {
		t.Errorf("decisions mismatch (-want +got):\n%s", diff)
	}
}

func TestAppendDecision_RejectsAllow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.AppendDecision(ctx, DecisionRecord{Username: "x", Decision: "allow", Reason: "fine"}); err == nil {
		t.Fatal("expected error appending an allow decision")
	}
	if _, err := s.AppendDecision(ctx, DecisionRecord{Username: "x", Decision: "nuke", Reason: "no"}); err == nil {
		t.Fatal("expected error appending an unknown decision")
	}
}

func TestListDecisions_LimitClamp(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i := 0; i < 5; i++ {
		if _, err := s.AppendDecision(ctx, DecisionRecord{Username: "u", Decision: "watch", Reason: "r"}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := s.ListDecisions(ctx, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("len = %d, want 2", len(got))
	}

	// Zero and oversized limits fold to the maximum.
	got, err = s.ListDecisions(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 5 {
		t.Errorf("len = %d, want 5", len(got))
	}
	if _, err := s.ListDecisions(ctx, MaxLogLimit+50); err != nil {
		t.Fatalf("list oversized: %v", err)
	}
}

func TestDeleteDecision(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.AppendDecision(ctx, DecisionRecord{Username: "frank", Decision: "block", Reason: "r"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	ok, err := s.DeleteDecision(ctx, id)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !ok {
		t.Error("delete existing = false, want true")
	}

	ok, err = s.DeleteDecision(ctx, id)
	if err != nil {
		t.Fatalf("delete again: %v", err)
	}
	if ok {
		t.Error("delete missing = true, want false")
	}
}

func TestHasPriorWatch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	got, err := s.HasPriorWatch(ctx, "grace")
	if err != nil {
		t.Fatalf("prior watch: %v", err)
	}
	if got {
		t.Error("unknown user has prior watch")
	}

	if _, err := s.AppendDecision(ctx, DecisionRecord{Username: "grace", Decision: "watch", Reason: "r"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err = s.HasPriorWatch(ctx, "grace")
	if err != nil {
		t.Fatalf("prior watch: %v", err)
	}
	if !got {
		t.Error("expected prior watch after watch entry")
	}

	// A block entry alone does not count as prior watch.
	if _, err := s.AppendDecision(ctx, DecisionRecord{Username: "henry", Decision: "block", Reason: "r"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	got, err = s.HasPriorWatch(ctx, "henry")
	if err != nil {
		t.Fatalf("prior watch: %v", err)
	}
	if got {
		t.Error("block-only user reported prior watch")
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st != (StatsCounters{}) {
		t.Errorf("fresh stats = %+v, want zeros", st)
	}

	if err := s.IncrementStats(ctx, 10, 2, 3); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if err := s.IncrementStats(ctx, 5, 0, 1); err != nil {
		t.Fatalf("increment: %v", err)
	}

	st, err = s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	want := StatsCounters{MessagesAnalyzed: 15, UsersBlocked: 2, CacheHits: 4}
	if st != want {
		t.Errorf("stats = %+v, want %+v", st, want)
	}

	if err := s.IncrementStats(ctx, -1, 0, 0); err == nil {
		t.Error("expected error on negative delta")
	}
}

func TestStats_ConcurrentIncrements(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	const workers = 8
	const perWorker = 10

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if err := s.IncrementStats(ctx, 1, 0, 0); err != nil {
					t.Errorf("increment: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.MessagesAnalyzed != workers*perWorker {
		t.Errorf("MessagesAnalyzed = %d, want %d", st.MessagesAnalyzed, workers*perWorker)
	}
}

func TestPurgeMessages(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.RecordMessage(ctx, "ivy", "recent message"); err != nil {
		t.Fatalf("record: %v", err)
	}
	// Backdate one row beyond the retention window.
	old := time.Now().UTC().Add(-48 * time.Hour).Unix()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO user_messages (username, message, created_at) VALUES (?, ?, ?)`,
		"ivy", "ancient message", old,
	); err != nil {
		t.Fatalf("backdate insert: %v", err)
	}

	n, err := s.PurgeMessages(ctx, DefaultRetention)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Errorf("purged = %d, want 1", n)
	}

	sum, err := s.SummarizeUser(ctx, "ivy")
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if sum.TotalMessages != 1 {
		t.Errorf("TotalMessages after purge = %d, want 1", sum.TotalMessages)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := Open("oracle", "dsn"); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
