// Command moderator runs the chat moderation triage service: an HTTP
// API that scores batches of chat messages, persists per-user history
// and an audit log, caches verdicts, and optionally fans decisions out
// over NATS.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/modwatch/chat-triage/internal/cache"
	"github.com/modwatch/chat-triage/internal/classify"
	"github.com/modwatch/chat-triage/internal/config"
	"github.com/modwatch/chat-triage/internal/events"
	"github.com/modwatch/chat-triage/internal/httpapi"
	"github.com/modwatch/chat-triage/internal/pipeline"
	"github.com/modwatch/chat-triage/internal/ratelimit"
	"github.com/modwatch/chat-triage/internal/settings"
	"github.com/modwatch/chat-triage/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("moderation triage service starting",
		zap.String("listen_addr", cfg.ListenAddr),
		zap.String("database_driver", cfg.DatabaseDriver),
		zap.String("ai_provider", cfg.AIProvider),
		zap.Bool("moderation_enabled", cfg.ModerationEnabled),
	)

	if cfg.DatabaseDriver == "sqlite" && cfg.DatabasePath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
			logger.Fatal("create data directory", zap.Error(err))
		}
	}

	st, err := store.Open(cfg.DatabaseDriver, cfg.DatabaseDSN())
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer st.Close()

	var (
		decisions cache.Cache
		limiter   *ratelimit.Limiter
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			cancel()
			logger.Fatal("connect to redis", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		cancel()
		defer rdb.Close()
		decisions = cache.NewRedis(rdb)
		limiter = ratelimit.NewLimiter(rdb, logger)
		logger.Info("verdict cache: redis", zap.String("addr", cfg.RedisAddr))
	} else {
		decisions = cache.NewMemory()
		logger.Info("verdict cache: in-process, analyze throttling off")
	}

	var bus *events.Client
	if cfg.NATSURL != "" {
		bus, err = events.Connect(events.DefaultConfig(cfg.NATSURL), logger)
		if err != nil {
			logger.Fatal("connect to nats", zap.String("url", cfg.NATSURL), zap.Error(err))
		}
		defer bus.Close()
	}

	initial := settings.Defaults()
	initial.Enabled = cfg.ModerationEnabled
	initial.Provider = cfg.AIProvider
	initial.OpenAIAPIKey = cfg.OpenAIAPIKey
	initial.OpenAIModel = cfg.OpenAIModel
	initial.OpenAIBaseURL = cfg.OpenAIBaseURL
	initial.OllamaEndpoint = cfg.OllamaEndpoint
	initial.OllamaModel = cfg.OllamaModel
	mgr := settings.NewManager(initial)

	var pub pipeline.Publisher
	if bus != nil {
		pub = bus
	}

	engine := pipeline.New(st, decisions, buildClassifier(mgr.Snapshot(), logger), mgr, pub, logger, pipeline.Options{
		Timeout:     cfg.ClassifyTimeout,
		Concurrency: cfg.ClassifyConcurrency,
	})
	if engine.AgentReady() {
		logger.Info("classifier ready", zap.String("provider", mgr.Snapshot().Provider))
	} else {
		logger.Info("no classifier configured, running rule-only triage")
	}

	// Settings updates that touch the AI configuration rebuild the
	// classifier and drop cached verdicts, since old verdicts were
	// derived under old rules.
	mgr.OnAIChange(func(s settings.Settings) {
		engine.SetClassifier(buildClassifier(s, logger))
		if err := decisions.Clear(context.Background()); err != nil {
			logger.Warn("clear verdict cache", zap.Error(err))
		}
		if bus != nil {
			ev := events.SettingsEvent{Revision: mgr.Revision(), TS: time.Now().Unix()}
			if err := bus.PublishSettingsChanged(ev); err != nil {
				logger.Warn("publish settings event", zap.Error(err))
			}
		}
		logger.Info("classifier rebuilt", zap.Int64("revision", mgr.Revision()))
	})

	if bus != nil {
		// Another instance changed its rules. Drop cached verdicts so
		// they are re-derived, and rebuild from our own snapshot; the
		// event does not carry the settings themselves.
		err := bus.SubscribeSettingsChanged(func(ev events.SettingsEvent) {
			engine.SetClassifier(buildClassifier(mgr.Snapshot(), logger))
			if err := decisions.Clear(context.Background()); err != nil {
				logger.Warn("clear verdict cache", zap.Error(err))
				return
			}
			logger.Info("verdict cache cleared after remote settings change",
				zap.Int64("revision", ev.Revision))
		})
		if err != nil {
			logger.Fatal("subscribe to settings events", zap.Error(err))
		}
	}

	gin.SetMode(gin.ReleaseMode)
	router := httpapi.NewRouter(httpapi.NewHandler(engine, st, decisions, mgr, limiter, logger))

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go purgeLoop(rootCtx, st, cfg.PurgeInterval, cfg.HistoryRetention, logger)

	go func() {
		logger.Info("listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	<-rootCtx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
}

// purgeLoop removes expired message history on a fixed interval until
// the context is cancelled.
func purgeLoop(ctx context.Context, st store.Store, interval, retention time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := st.PurgeMessages(ctx, retention)
			if err != nil {
				logger.Warn("purge message history", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("message history purged", zap.Int64("messages", n))
			}
		}
	}
}

// buildClassifier turns the current settings into a classifier. A nil
// return means no agent; the pipeline falls back to rule-only triage.
func buildClassifier(s settings.Settings, logger *zap.Logger) classify.Classifier {
	c, err := classify.New(classify.Config{
		Provider:     s.Provider,
		OpenAIAPIKey: s.OpenAIAPIKey,
		OpenAIModel:  s.OpenAIModel,
		OpenAIBase:   s.OpenAIBaseURL,
		OllamaHost:   s.OllamaEndpoint,
		OllamaModel:  s.OllamaModel,
		Instructions: s.CustomPrompt,
	}, logger)
	if err != nil {
		logger.Warn("classifier unavailable", zap.Error(err))
		return nil
	}
	return c
}

func buildLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = lvl
	return zcfg.Build()
}
