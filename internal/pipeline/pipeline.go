// Package pipeline orchestrates message triage. For each incoming
// message it consults the decision cache, runs the pattern detector,
// records history, calls the classifier, applies the decision rules,
// and records the outcome. Batches never fail: every degraded
// dependency downgrades to an allow rather than an error.
package pipeline

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/modwatch/chat-triage/internal/cache"
	"github.com/modwatch/chat-triage/internal/classify"
	"github.com/modwatch/chat-triage/internal/detect"
	"github.com/modwatch/chat-triage/internal/events"
	"github.com/modwatch/chat-triage/internal/metrics"
	"github.com/modwatch/chat-triage/internal/policy"
	"github.com/modwatch/chat-triage/internal/settings"
	"github.com/modwatch/chat-triage/internal/store"
)

const (
	// DefaultConcurrency is the number of messages analyzed in
	// parallel within a batch.
	DefaultConcurrency = 6

	// DefaultTimeout bounds a single classifier call, covering both
	// classification and sentiment.
	DefaultTimeout = 15 * time.Second

	maxConcurrency = 32

	// Messages at or under this many runes (trimmed) skip the
	// classifier entirely when the detector found nothing.
	shortCircuitRunes = 4

	lockStripes = 64
)

// ChatMessage is one message submitted for analysis.
type ChatMessage struct {
	Username string `json:"username"`
	Text     string `json:"text"`
}

// Publisher fans fresh block/watch decisions out to other services.
// A nil Publisher disables fan-out.
type Publisher interface {
	PublishDecision(ev events.DecisionEvent) error
}

// Options tune the engine. Zero values select defaults.
type Options struct {
	Timeout     time.Duration
	Concurrency int
}

// Engine runs the triage pipeline. The classifier can be swapped at
// runtime when moderation settings change.
type Engine struct {
	store     store.Store
	cache     cache.Cache
	settings  *settings.Manager
	publisher Publisher
	logger    *zap.Logger

	mu         sync.RWMutex
	classifier classify.Classifier

	timeout     time.Duration
	concurrency int

	// Per-user stripe locks so concurrent messages from one user
	// serialize and reuse each other's cached decision.
	locks [lockStripes]sync.Mutex
}

// New creates an engine. classifier may be nil when no AI provider is
// configured; publisher may be nil when event fan-out is disabled.
func New(st store.Store, decisions cache.Cache, classifier classify.Classifier, mgr *settings.Manager, pub Publisher, logger *zap.Logger, opts Options) *Engine {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if concurrency > maxConcurrency {
		concurrency = maxConcurrency
	}
	return &Engine{
		store:       st,
		cache:       decisions,
		settings:    mgr,
		publisher:   pub,
		logger:      logger,
		classifier:  classifier,
		timeout:     timeout,
		concurrency: concurrency,
	}
}

// SetClassifier swaps the classifier used for subsequent batches.
// Pass nil to mark the agent unconfigured.
func (e *Engine) SetClassifier(c classify.Classifier) {
	e.mu.Lock()
	e.classifier = c
	e.mu.Unlock()
}

// AgentReady reports whether a classifier is configured.
func (e *Engine) AgentReady() bool {
	return e.currentClassifier() != nil
}

func (e *Engine) currentClassifier() classify.Classifier {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.classifier
}

// AnalyzeBatch triages a batch of messages and returns one decision
// per message, in input order.
func (e *Engine) AnalyzeBatch(ctx context.Context, messages []ChatMessage) []policy.Decision {
	if len(messages) == 0 {
		return []policy.Decision{}
	}

	snap := e.settings.Snapshot()
	if !snap.Enabled {
		out := make([]policy.Decision, len(messages))
		for i, m := range messages {
			out[i] = policy.Decision{Username: m.Username, Verdict: policy.VerdictAllow, Reason: "moderation disabled"}
		}
		return out
	}

	batchID := uuid.NewString()

	metrics.BatchesInflight.Inc()
	defer metrics.BatchesInflight.Dec()
	metrics.BatchSize.Observe(float64(len(messages)))
	metrics.MessagesAnalyzed.Add(float64(len(messages)))

	classifier := e.currentClassifier()
	if classifier == nil {
		return e.analyzeWithoutAgent(ctx, messages)
	}

	criteria := snap.ActiveCriteria()
	results := make([]policy.Decision, len(messages))
	var cacheHits, freshBlocks atomic.Int64

	jobs := make(chan int)
	var wg sync.WaitGroup
	workers := e.concurrency
	if workers > len(messages) {
		workers = len(messages)
	}
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = e.analyzeOne(ctx, batchID, messages[i], classifier, criteria, &cacheHits, &freshBlocks)
			}
		}()
	}
	for i := range messages {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	if err := e.store.IncrementStats(ctx, int64(len(messages)), freshBlocks.Load(), cacheHits.Load()); err != nil {
		e.logger.Warn("stats increment failed", zap.Error(err))
	}

	e.logger.Info("batch analyzed",
		zap.String("batch_id", batchID),
		zap.Int("messages", len(messages)),
		zap.Int64("cache_hits", cacheHits.Load()),
		zap.Int64("blocks", freshBlocks.Load()),
	)
	return results
}

// analyzeWithoutAgent handles batches when no classifier is
// configured: cached verdicts are honored, everything else allows.
// History and audit stay untouched.
func (e *Engine) analyzeWithoutAgent(ctx context.Context, messages []ChatMessage) []policy.Decision {
	out := make([]policy.Decision, len(messages))
	var cacheHits int64
	for i, m := range messages {
		verdict, ok, err := e.cache.Get(ctx, m.Username)
		if err != nil {
			e.logger.Warn("cache read failed", zap.String("username", m.Username), zap.Error(err))
			ok = false
		}
		if ok {
			cacheHits++
			metrics.CacheHits.Inc()
			out[i] = policy.Decision{Username: m.Username, Verdict: verdict, Reason: "cached decision"}
			continue
		}
		out[i] = policy.Decision{Username: m.Username, Verdict: policy.VerdictAllow, Reason: "agent not configured"}
		if err := e.cache.Set(ctx, m.Username, policy.VerdictAllow); err != nil {
			e.logger.Warn("cache write failed", zap.String("username", m.Username), zap.Error(err))
		}
	}
	if err := e.store.IncrementStats(ctx, int64(len(messages)), 0, cacheHits); err != nil {
		e.logger.Warn("stats increment failed", zap.Error(err))
	}
	return out
}

func (e *Engine) analyzeOne(ctx context.Context, batchID string, msg ChatMessage, classifier classify.Classifier, criteria string, cacheHits, freshBlocks *atomic.Int64) policy.Decision {
	lock := e.userLock(msg.Username)
	lock.Lock()
	defer lock.Unlock()

	if verdict, ok, err := e.cache.Get(ctx, msg.Username); err != nil {
		e.logger.Warn("cache read failed", zap.String("username", msg.Username), zap.Error(err))
	} else if ok {
		cacheHits.Add(1)
		metrics.CacheHits.Inc()
		return policy.Decision{Username: msg.Username, Verdict: verdict, Reason: "cached decision"}
	}

	flags := detect.Scan(msg.Text)

	msgID, err := e.store.RecordMessage(ctx, msg.Username, msg.Text)
	if err != nil {
		e.logger.Warn("record message failed", zap.String("username", msg.Username), zap.Error(err))
	}

	// Trivial messages with no detector findings skip the classifier
	// and leave the cache alone.
	if !flags.Suspicious() && utf8.RuneCountInString(strings.TrimSpace(msg.Text)) <= shortCircuitRunes {
		decision := policy.Decision{Username: msg.Username, Verdict: policy.VerdictAllow, Reason: "short message, no suspicious patterns"}
		metrics.DecisionsTotal.WithLabelValues(string(decision.Verdict)).Inc()
		return decision
	}

	summary, err := e.store.SummarizeUser(ctx, msg.Username)
	if err != nil {
		e.logger.Warn("history summary failed", zap.String("username", msg.Username), zap.Error(err))
		summary = store.UserHistorySummary{Username: msg.Username}
	}

	classification, sentiment := e.classifyMessage(ctx, classifier, msg, criteria)

	priorWatch, err := e.store.HasPriorWatch(ctx, msg.Username)
	if err != nil {
		e.logger.Warn("prior watch lookup failed", zap.String("username", msg.Username), zap.Error(err))
		priorWatch = false
	}

	decision := policy.Decide(policy.Input{
		Username:       msg.Username,
		Classification: classification,
		Sentiment:      sentiment,
		Flags:          flags,
		History:        summary,
		PriorWatch:     priorWatch,
	})

	if err := e.cache.Set(ctx, msg.Username, decision.Verdict); err != nil {
		e.logger.Warn("cache write failed", zap.String("username", msg.Username), zap.Error(err))
	}

	if decision.Verdict != policy.VerdictAllow {
		e.recordViolation(ctx, batchID, msgID, decision, classification, freshBlocks)
	}
	metrics.DecisionsTotal.WithLabelValues(string(decision.Verdict)).Inc()
	return decision
}

// classifyMessage runs classification and sentiment scoring
// concurrently under the classifier timeout. Either call failing
// degrades to its neutral fallback.
func (e *Engine) classifyMessage(ctx context.Context, classifier classify.Classifier, msg ChatMessage, criteria string) (classify.Classification, classify.Sentiment) {
	cctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var (
		classification classify.Classification
		sentiment      classify.Sentiment
		wg             sync.WaitGroup
	)
	start := time.Now()
	wg.Add(2)
	go func() {
		defer wg.Done()
		c, err := classifier.Classify(cctx, msg.Text, msg.Username, criteria)
		if err != nil {
			metrics.ClassifierFailures.Inc()
			e.logger.Warn("classify failed, treating message as clean",
				zap.String("username", msg.Username), zap.Error(err))
			c = classify.FallbackClassification()
		}
		classification = c
	}()
	go func() {
		defer wg.Done()
		s, err := classifier.ScoreSentiment(cctx, msg.Text)
		if err != nil {
			metrics.ClassifierFailures.Inc()
			e.logger.Warn("sentiment scoring failed, treating as neutral",
				zap.String("username", msg.Username), zap.Error(err))
			s = classify.NeutralSentiment()
		}
		sentiment = s
	}()
	wg.Wait()
	metrics.ClassifierLatency.Observe(time.Since(start).Seconds())

	return classification, sentiment
}

// recordViolation appends the audit entry, flags the stored message,
// and publishes the decision event for a fresh block or watch.
func (e *Engine) recordViolation(ctx context.Context, batchID string, msgID int64, decision policy.Decision, classification classify.Classification, freshBlocks *atomic.Int64) {
	rec := store.DecisionRecord{
		Username:   decision.Username,
		Decision:   string(decision.Verdict),
		Reason:     decision.Reason,
		Categories: classification.CategoriesViolated,
	}
	if _, err := e.store.AppendDecision(ctx, rec); err != nil {
		e.logger.Warn("audit append failed", zap.String("username", decision.Username), zap.Error(err))
	}
	if msgID > 0 {
		if err := e.store.MarkFlagged(ctx, msgID); err != nil {
			e.logger.Warn("flag message failed", zap.Int64("message_id", msgID), zap.Error(err))
		}
	}
	if decision.Verdict == policy.VerdictBlock {
		freshBlocks.Add(1)
	}
	if e.publisher != nil {
		ev := events.DecisionEvent{
			BatchID:    batchID,
			Username:   decision.Username,
			Decision:   string(decision.Verdict),
			Reason:     decision.Reason,
			Categories: classification.CategoriesViolated,
			TS:         time.Now().Unix(),
		}
		if err := e.publisher.PublishDecision(ev); err != nil {
			e.logger.Warn("decision publish failed", zap.String("username", decision.Username), zap.Error(err))
		}
	}
}

func (e *Engine) userLock(username string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(username))
	return &e.locks[h.Sum32()%lockStripes]
}
