// Package cache provides the per-user decision cache. A decision made
// for a user suppresses re-analysis of that user's messages until the
// entry expires, so verdicts stay stable across a burst of messages.
//
// Two backends implement the same interface: Redis for deployments
// where multiple instances share one cache, and an in-process map for
// single-instance runs.
package cache

import (
	"context"
	"time"

	"github.com/modwatch/chat-triage/internal/policy"
)

// DefaultTTL is how long a cached decision stays live. After expiry
// the next message from the user is analyzed fresh.
const DefaultTTL = 300 * time.Second

// Cache stores one verdict per username with TTL-based expiry.
type Cache interface {
	// Get returns the cached verdict for a username. The second
	// return is false on a miss. Backend errors are returned so
	// callers can decide how to handle them (the recommended policy
	// is fail-open: treat as a miss).
	Get(ctx context.Context, username string) (policy.Verdict, bool, error)

	// Set stores a verdict for a username, resetting its TTL.
	Set(ctx context.Context, username string, verdict policy.Verdict) error

	// Invalidate removes a username's entry immediately.
	Invalidate(ctx context.Context, username string) error

	// Clear removes every cached decision.
	Clear(ctx context.Context) error
}
