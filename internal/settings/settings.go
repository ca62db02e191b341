// Package settings holds the runtime moderation settings and notifies
// registered hooks when a change affects how messages are classified.
package settings

import (
	"sort"
	"strings"
	"sync"
)

// Settings is the operator-tunable moderation configuration. Category
// names map to whether that category is actively enforced.
type Settings struct {
	Enabled        bool            `json:"enabled"`
	Provider       string          `json:"provider"`
	OpenAIAPIKey   string          `json:"openai_api_key"`
	OpenAIModel    string          `json:"openai_model"`
	OpenAIBaseURL  string          `json:"openai_base_url"`
	OllamaEndpoint string          `json:"ollama_endpoint"`
	OllamaModel    string          `json:"ollama_model"`
	Categories     map[string]bool `json:"categories"`
	CustomPrompt   string          `json:"custom_prompt"`
}

// Defaults returns the out-of-the-box settings: moderation on, all
// standard categories enforced, no provider selected.
func Defaults() Settings {
	return Settings{
		Enabled: true,
		Categories: map[string]bool{
			"spam":        true,
			"trolls":      true,
			"off_topic":   true,
			"hate_speech": true,
			"self_promo":  true,
		},
	}
}

// clone returns a copy whose Categories map is independent of the
// original.
func (s Settings) clone() Settings {
	out := s
	out.Categories = make(map[string]bool, len(s.Categories))
	for name, on := range s.Categories {
		out.Categories[name] = on
	}
	return out
}

// ActiveCriteria returns the enabled category names sorted and joined
// with ", ", ready for inclusion in a classifier prompt.
func (s Settings) ActiveCriteria() string {
	names := make([]string, 0, len(s.Categories))
	for name, on := range s.Categories {
		if on {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// aiAffecting reports whether moving from s to next changes anything
// the classifier depends on. The enabled toggle alone does not count:
// pausing moderation keeps the agent as-is.
func (s Settings) aiAffecting(next Settings) bool {
	if s.Provider != next.Provider ||
		s.OpenAIAPIKey != next.OpenAIAPIKey ||
		s.OpenAIModel != next.OpenAIModel ||
		s.OpenAIBaseURL != next.OpenAIBaseURL ||
		s.OllamaEndpoint != next.OllamaEndpoint ||
		s.OllamaModel != next.OllamaModel ||
		s.CustomPrompt != next.CustomPrompt {
		return true
	}
	return !equalCategories(s.Categories, next.Categories)
}

func equalCategories(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for name, on := range a {
		other, ok := b[name]
		if !ok || other != on {
			return false
		}
	}
	return true
}

// Manager guards the current settings for concurrent readers and
// writers. Hooks registered with OnAIChange run after any update that
// touches an AI-affecting field.
type Manager struct {
	mu       sync.RWMutex
	current  Settings
	revision int64
	hooks    []func(Settings)
}

// NewManager creates a manager seeded with the given settings.
func NewManager(initial Settings) *Manager {
	return &Manager{current: initial.clone()}
}

// Snapshot returns a copy of the current settings safe to read and
// mutate without holding the manager's lock.
func (m *Manager) Snapshot() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.clone()
}

// Revision returns the number of updates applied so far.
func (m *Manager) Revision() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.revision
}

// OnAIChange registers a hook invoked with the applied settings after
// any AI-affecting update.
func (m *Manager) OnAIChange(fn func(Settings)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, fn)
}

// Update replaces the current settings and reports whether the change
// affected classification. Hooks run outside the lock, in registration
// order, with a snapshot of the applied settings.
func (m *Manager) Update(next Settings) (Settings, bool) {
	m.mu.Lock()
	aiChanged := m.current.aiAffecting(next)
	m.current = next.clone()
	m.revision++
	applied := m.current.clone()
	hooks := make([]func(Settings), len(m.hooks))
	copy(hooks, m.hooks)
	m.mu.Unlock()

	if aiChanged {
		for _, fn := range hooks {
			fn(applied.clone())
		}
	}
	return applied, aiChanged
}
