package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver registration.
)

// Postgres implements Store backed by PostgreSQL.
type Postgres struct {
	db *sql.DB
}

var _ Store = (*Postgres)(nil)

// NewPostgres opens a PostgreSQL connection with the given DSN, checks
// it, and runs pending migrations.
func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}

	if err := runMigrations(db, "postgres"); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Postgres{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Postgres) Close() error {
	return s.db.Close()
}

func (s *Postgres) RecordMessage(ctx context.Context, username, message string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO user_messages (username, message, created_at)
		 VALUES ($1, $2, $3) RETURNING id`,
		username, message, time.Now().UTC().Unix(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: insert message: %w", err)
	}
	return id, nil
}

func (s *Postgres) SummarizeUser(ctx context.Context, username string) (UserHistorySummary, error) {
	now := time.Now().UTC().Unix()
	cutoff := now - int64(RecentWindow.Seconds())

	var (
		total, flagged, recent int64
		firstSeen              int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN flagged THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN created_at > $1 THEN 1 ELSE 0 END), 0),
		        COALESCE(MIN(created_at), $2)
		 FROM user_messages WHERE username = $3`,
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

func (s *Postgres) MarkFlagged(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE user_messages SET flagged = TRUE WHERE id = $1`, id,
	); err != nil {
		return fmt.Errorf("store: mark flagged: %w", err)
	}
	return nil
}

func (s *Postgres) PurgeMessages(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan).Unix()
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM user_messages WHERE created_at < $1`, cutoff,
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

func (s *Postgres) AppendDecision(ctx context.Context, rec DecisionRecord) (int64, error) {
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

	var id int64
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO decisions (username, decision, reason, categories, created_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		rec.Username, rec.Decision, rec.Reason, cats, ts.Unix(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: insert decision: %w", err)
	}
	return id, nil
}

func (s *Postgres) ListDecisions(ctx context.Context, limit int) ([]DecisionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, username, decision, reason, categories, created_at
		 FROM decisions ORDER BY created_at DESC, id DESC LIMIT $1`,
		clampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("store: query decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanDecisions(rows)
}

func (s *Postgres) DeleteDecision(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM decisions WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("store: delete decision: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: delete rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *Postgres) HasPriorWatch(ctx context.Context, username string) (bool, error) {
	var found bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM decisions WHERE username = $1 AND decision = 'watch')`,
		username,
	).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("store: prior watch: %w", err)
	}
	return found, nil
}

func (s *Postgres) IncrementStats(ctx context.Context, analyzed, blocked, cacheHits int64) error {
	if analyzed < 0 || blocked < 0 || cacheHits < 0 {
		return fmt.Errorf("store: negative stats delta")
	}
	if analyzed == 0 && blocked == 0 && cacheHits == 0 {
		return nil
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE stats SET messages_analyzed = messages_analyzed + $1,
		                  users_blocked = users_blocked + $2,
		                  cache_hits = cache_hits + $3
		 WHERE id = 1`,
		analyzed, blocked, cacheHits,
	); err != nil {
		return fmt.Errorf("store: increment stats: %w", err)
	}
	return nil
}

func (s *Postgres) Stats(ctx context.Context) (StatsCounters, error) {
	var st StatsCounters
	err := s.db.QueryRowContext(ctx,
		`SELECT messages_analyzed, users_blocked, cache_hits FROM stats WHERE id = 1`,
	).Scan(&st.MessagesAnalyzed, &st.UsersBlocked, &st.CacheHits)
	if err != nil {
		return StatsCounters{}, fmt.Errorf("store: read stats: %w", err)
	}
	return st, nil
}
