package cache

import (
	"context"
	"sync"
	"time"

	"github.com/modwatch/chat-triage/internal/policy"
)

type memoryEntry struct {
	verdict policy.Verdict
	created time.Time
}

// Memory is an in-process decision cache. Expired entries are evicted
// lazily on read.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemory creates an empty in-process cache with the default TTL.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		ttl:     DefaultTTL,
		now:     time.Now,
	}
}

var _ Cache = (*Memory)(nil)

// Get returns the cached verdict for a username, or a miss if the
// entry is absent or has outlived the TTL.
func (m *Memory) Get(ctx context.Context, username string) (policy.Verdict, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[username]
	if !ok {
		return "", false, nil
	}
	if m.now().Sub(e.created) >= m.ttl {
		delete(m.entries, username)
		return "", false, nil
	}
	return e.verdict, true, nil
}

// Set stores a verdict for a username, restarting its TTL window.
func (m *Memory) Set(ctx context.Context, username string, verdict policy.Verdict) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[username] = memoryEntry{verdict: verdict, created: m.now()}
	return nil
}

// Invalidate removes a username's cached decision immediately.
func (m *Memory) Invalidate(ctx context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, username)
	return nil
}

// Clear removes every cached decision.
func (m *Memory) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[string]memoryEntry)
	return nil
}
