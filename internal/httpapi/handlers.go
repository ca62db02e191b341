// Package httpapi exposes the triage service over HTTP. Analysis
// endpoints always answer 200 with a decision per message; only a
// malformed request body is rejected.
package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/modwatch/chat-triage/internal/cache"
	"github.com/modwatch/chat-triage/internal/classify"
	"github.com/modwatch/chat-triage/internal/pipeline"
	"github.com/modwatch/chat-triage/internal/policy"
	"github.com/modwatch/chat-triage/internal/ratelimit"
	"github.com/modwatch/chat-triage/internal/settings"
	"github.com/modwatch/chat-triage/internal/store"
)

// redactedKey replaces the stored API key in settings reads. An update
// sending it back verbatim keeps the existing key.
const redactedKey = "********"

// Handler carries the dependencies shared by all routes.
type Handler struct {
	engine   *pipeline.Engine
	store    store.Store
	cache    cache.Cache
	settings *settings.Manager
	limiter  *ratelimit.Limiter
	logger   *zap.Logger
}

// NewHandler creates the route handler set. A nil limiter disables
// analyze throttling.
func NewHandler(engine *pipeline.Engine, st store.Store, decisions cache.Cache, mgr *settings.Manager, limiter *ratelimit.Limiter, logger *zap.Logger) *Handler {
	return &Handler{
		engine:   engine,
		store:    st,
		cache:    decisions,
		settings: mgr,
		limiter:  limiter,
		logger:   logger,
	}
}

type analyzeRequest struct {
	Messages []pipeline.ChatMessage `json:"messages"`
}

type analyzeResponse struct {
	Decisions []policy.Decision `json:"decisions"`
}

// Analyze triages a batch of messages and returns one decision per
// message, in input order.
func (h *Handler) Analyze(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	decisions := h.engine.AnalyzeBatch(c.Request.Context(), req.Messages)
	c.JSON(http.StatusOK, analyzeResponse{Decisions: decisions})
}

type healthResponse struct {
	Status   string `json:"status"`
	Agent    string `json:"agent"`
	Provider string `json:"provider"`
}

// Health reports liveness and whether an AI agent is configured.
func (h *Handler) Health(c *gin.Context) {
	agent := "not_configured"
	if h.engine.AgentReady() {
		agent = "ready"
	}
	c.JSON(http.StatusOK, healthResponse{
		Status:   "ok",
		Agent:    agent,
		Provider: h.settings.Snapshot().Provider,
	})
}

// Stats returns the durable moderation counters.
func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.store.Stats(c.Request.Context())
	if err != nil {
		h.logger.Error("stats read failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats unavailable"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

type blockLogResponse struct {
	Entries []store.DecisionRecord `json:"entries"`
	Count   int                    `json:"count"`
}

// BlockLog returns audit log entries, most recent first.
func (h *Handler) BlockLog(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))

	recs, err := h.store.ListDecisions(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("block log read failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "block log unavailable"})
		return
	}
	c.JSON(http.StatusOK, blockLogResponse{Entries: recs, Count: len(recs)})
}

// DeleteBlockLogEntry removes one audit log entry by id.
func (h *Handler) DeleteBlockLogEntry(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	deleted, err := h.store.DeleteDecision(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("block log delete failed", zap.Int64("id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// Unblock drops a user's cached verdict and pins a fresh allow so
// their next messages pass immediately. The audit log is untouched.
func (h *Handler) Unblock(c *gin.Context) {
	username := c.Param("username")
	ctx := c.Request.Context()

	if err := h.cache.Invalidate(ctx, username); err != nil {
		h.logger.Error("unblock invalidate failed", zap.String("username", username), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unblock failed"})
		return
	}
	if err := h.cache.Set(ctx, username, policy.VerdictAllow); err != nil {
		h.logger.Error("unblock set failed", zap.String("username", username), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unblock failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "username": username})
}

// GetSettings returns the current moderation settings with the API
// key redacted.
func (h *Handler) GetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, redact(h.settings.Snapshot()))
}

type updateSettingsResponse struct {
	Settings  settings.Settings `json:"settings"`
	AIChanged bool              `json:"ai_changed"`
}

// UpdateSettings replaces the moderation settings. A change to any
// AI-affecting field triggers the registered rebuild hooks.
func (h *Handler) UpdateSettings(c *gin.Context) {
	var req settings.Settings
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	switch req.Provider {
	case "", classify.ProviderOpenAI, classify.ProviderOllama:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown provider"})
		return
	}

	// A redacted key read back from GET keeps the stored key.
	if req.OpenAIAPIKey == redactedKey {
		req.OpenAIAPIKey = h.settings.Snapshot().OpenAIAPIKey
	}

	applied, aiChanged := h.settings.Update(req)
	h.logger.Info("settings updated",
		zap.Bool("ai_changed", aiChanged),
		zap.String("provider", applied.Provider),
		zap.Bool("enabled", applied.Enabled),
	)
	c.JSON(http.StatusOK, updateSettingsResponse{Settings: redact(applied), AIChanged: aiChanged})
}

func redact(s settings.Settings) settings.Settings {
	if s.OpenAIAPIKey != "" {
		s.OpenAIAPIKey = redactedKey
	}
	return s
}
