// Package store persists moderation state: the per-user message
// history, the block/watch audit log, and the service counters. Two
// drivers satisfy the same interface, PostgreSQL for shared
// deployments and SQLite for single-node setups and tests. The schema
// is managed by embedded migrations, one set per dialect.
//
// Timestamps are stored as unix seconds (UTC). Decision categories are
// stored as a JSON-encoded string array.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	// RecentWindow bounds the "recent messages" count in a user
	// summary.
	RecentWindow = 600 * time.Second

	// DefaultRetention is how long raw message history is kept before
	// the purge loop removes it.
	DefaultRetention = 24 * time.Hour

	// MaxLogLimit caps audit log reads.
	MaxLogLimit = 100
)

// validDecisions mirrors the CHECK constraint on the decisions table.
// Allow verdicts are absent: only flagged outcomes are logged.
var validDecisions = map[string]bool{
	"block": true,
	"watch": true,
}

// UserHistorySummary describes one user's posting pattern at a point
// in time. It is computed after the triggering message is recorded, so
// that message is included in the counts.
type UserHistorySummary struct {
	Username       string    `json:"username"`
	TotalMessages  int64     `json:"total_messages"`
	RecentMessages int64     `json:"recent_messages"`
	FlagCount      int64     `json:"flag_count"`
	FirstSeen      time.Time `json:"first_seen"`
}

// DecisionRecord is one audit log entry.
type DecisionRecord struct {
	ID         int64     `json:"id"`
	Username   string    `json:"username"`
	Decision   string    `json:"decision"`
	Reason     string    `json:"reason"`
	Categories []string  `json:"categories"`
	CreatedAt  time.Time `json:"timestamp"`
}

// StatsCounters are the lifetime service counters. They only ever grow.
type StatsCounters struct {
	MessagesAnalyzed int64 `json:"messages_analyzed"`
	UsersBlocked     int64 `json:"users_blocked"`
	CacheHits        int64 `json:"cache_hits"`
}

// Store is the persistence surface used by the moderation pipeline and
// the HTTP API. Implementations are safe for concurrent use.
type Store interface {
	// RecordMessage appends a message to the user's history and
	// returns the new row id.
	RecordMessage(ctx context.Context, username, message string) (int64, error)

	// SummarizeUser computes the history summary for a user. Unknown
	// users get zero counts with FirstSeen set to now.
	SummarizeUser(ctx context.Context, username string) (UserHistorySummary, error)

	// MarkFlagged marks a previously recorded message as having
	// triggered a block or watch decision.
	MarkFlagged(ctx context.Context, id int64) error

	// PurgeMessages deletes history older than the given age and
	// returns the number of rows removed.
	PurgeMessages(ctx context.Context, olderThan time.Duration) (int64, error)

	// AppendDecision adds a block or watch entry to the audit log and
	// returns its id. Other decisions are rejected.
	AppendDecision(ctx context.Context, rec DecisionRecord) (int64, error)

	// ListDecisions returns audit entries, most recent first. A limit
	// outside (0, MaxLogLimit] is folded to MaxLogLimit.
	ListDecisions(ctx context.Context, limit int) ([]DecisionRecord, error)

	// DeleteDecision removes one audit entry; false when id is
	// unknown.
	DeleteDecision(ctx context.Context, id int64) (bool, error)

	// HasPriorWatch reports whether the audit log holds a watch
	// decision for the user.
	HasPriorWatch(ctx context.Context, username string) (bool, error)

	// IncrementStats adds the deltas to the lifetime counters.
	// Negative deltas are rejected.
	IncrementStats(ctx context.Context, analyzed, blocked, cacheHits int64) error

	// Stats returns the current counters.
	Stats(ctx context.Context) (StatsCounters, error)

	Close() error
}

// Open builds a store for the configured driver, running migrations.
func Open(driver, dsn string) (Store, error) {
	switch driver {
	case "sqlite":
		return NewSQLite(dsn)
	case "postgres":
		return NewPostgres(dsn)
	default:
		return nil, fmt.Errorf("store: unknown driver %q", driver)
	}
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > MaxLogLimit {
		return MaxLogLimit
	}
	return limit
}

func marshalCategories(cats []string) ([]byte, error) {
	if cats == nil {
		cats = []string{}
	}
	data, err := json.Marshal(cats)
	if err != nil {
		return nil, fmt.Errorf("store: marshal categories: %w", err)
	}
	return data, nil
}

// scanDecisions reads audit rows in the shared column order:
// id, username, decision, reason, categories, created_at.
func scanDecisions(rows *sql.Rows) ([]DecisionRecord, error) {
	recs := []DecisionRecord{}
	for rows.Next() {
		var (
			rec  DecisionRecord
			cats []byte
			ts   int64
		)
		if err := rows.Scan(&rec.ID, &rec.Username, &rec.Decision, &rec.Reason, &cats, &ts); err != nil {
			return nil, fmt.Errorf("store: scan decision: %w", err)
		}
		if len(cats) > 0 {
			if err := json.Unmarshal(cats, &rec.Categories); err != nil {
				return nil, fmt.Errorf("store: unmarshal categories: %w", err)
			}
		}
		if rec.Categories == nil {
			rec.Categories = []string{}
		}
		rec.CreatedAt = time.Unix(ts, 0).UTC()
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate decisions: %w", err)
	}
	return recs, nil
}
