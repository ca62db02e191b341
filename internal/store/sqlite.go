package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.
)

// SQLite implements Store backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// NewSQLite opens a SQLite database at dsn and runs pending
// migrations. Pass ":memory:" for an ephemeral database.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}

	if strings.Contains(dsn, ":memory:") {
		// A :memory: database exists per connection; keep the pool at
		// one so every query sees the same schema.
		db.SetMaxOpenConns(1)
	} else {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: set WAL mode: %w", err)
		}
	}

	if err := runMigrations(db, "sqlite"); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) RecordMessage(ctx context.Context, username, message string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO user_messages (username, message, created_at) VALUES (?, ?, ?)`,
		username, message, time.Now().UTC().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("store: insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: last insert id: %w", err)
	}
	return id, nil
}

func (s *SQLite) SummarizeUser(ctx context.Context, username string) (UserHistorySummary, error) {
	now := time.Now().UTC().Unix()
	cutoff := now - int64(RecentWindow.Seconds())

	var (
		total, flagged, recent int64
		firstSeen              int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN flagged = 1 THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN created_at > ? THEN 1 ELSE 0 END), 0),
		        COALESCE(MIN(created_at), ?)
		 FROM user_messages WHERE username = ?`,
		cutoff, now, username,
	).Scan(&total, &flagged, &recent, &firstSeen)
	if err != nil {
		return UserHistorySummary{}, fmt.Errorf("store: summarize user: %w", err)
	}

	return UserHistorySummary{
		Username:       username,
		TotalMessages:  total,
		RecentMessages: recent,
		FlagCount:      flagged,
		FirstSeen:      time.Unix(firstSeen, 0).UTC(),
	}, nil
}

func (s *SQLite) MarkFlagged(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE user_messages SET flagged = 1 WHERE id = ?`, id,
	); err != nil {
		return fmt.Errorf("store: mark flagged: %w", err)
	}
	return nil
}

func (s *SQLite) PurgeMessages(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan).Unix()
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM user_messages WHERE created_at < ?`, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("store: purge messages: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: purge rows affected: %w", err)
	}
	return n, nil
}

func (s *SQLite) AppendDecision(ctx context.Context, rec DecisionRecord) (int64, error) {
	if !validDecisions[rec.Decision] {
		return 0, fmt.Errorf("store: invalid decision %q", rec.Decision)
	}
	cats, err := marshalCategories(rec.Categories)
	if err != nil {
		return 0, err
	}
	ts := rec.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO decisions (username, decision, reason, categories, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.Username, rec.Decision, rec.Reason, string(cats), ts.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("store: insert decision: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: last insert id: %w", err)
	}
	return id, nil
}

func (s *SQLite) ListDecisions(ctx context.Context, limit int) ([]DecisionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, username, decision, reason, categories, created_at
		 FROM decisions ORDER BY created_at DESC, id DESC LIMIT ?`,
		clampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("store: query decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanDecisions(rows)
}

func (s *SQLite) DeleteDecision(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM decisions WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("store: delete decision: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: delete rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *SQLite) HasPriorWatch(ctx context.Context, username string) (bool, error) {
	var found bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM decisions WHERE username = ? AND decision = 'watch')`,
		username,
	).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("store: prior watch: %w", err)
	}
	return found, nil
}

func (s *SQLite) IncrementStats(ctx context.Context, analyzed, blocked, cacheHits int64) error {
	if analyzed < 0 || blocked < 0 || cacheHits < 0 {
		return fmt.Errorf("store: negative stats delta")
	}
	if analyzed == 0 && blocked == 0 && cacheHits == 0 {
		return nil
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE stats SET messages_analyzed = messages_analyzed + ?,
		                  users_blocked = users_blocked + ?,
		                  cache_hits = cache_hits + ?
		 WHERE id = 1`,
		analyzed, blocked, cacheHits,
	); err != nil {
		return fmt.Errorf("store: increment stats: %w", err)
	}
	return nil
}

func (s *SQLite) Stats(ctx context.Context) (StatsCounters, error) {
	var st StatsCounters
	err := s.db.QueryRowContext(ctx,
		`SELECT messages_analyzed, users_blocked, cache_hits FROM stats WHERE id = 1`,
	).Scan(&st.MessagesAnalyzed, &st.UsersBlocked, &st.CacheHits)
	if err != nil {
		return StatsCounters{}, fmt.Errorf("store: read stats: %w", err)
	}
	return st, nil
}
