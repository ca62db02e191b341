package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/modwatch/chat-triage/internal/metrics"
	"github.com/modwatch/chat-triage/internal/ratelimit"
)

// NewRouter builds the gin engine with all triage routes mounted.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(h.logger))

	api := r.Group("/api")
	api.POST("/analyze", analyzeThrottle(h), h.Analyze)
	api.GET("/health", h.Health)
	api.GET("/stats", h.Stats)
	api.GET("/block-log", h.BlockLog)
	api.DELETE("/block-log/:id", h.DeleteBlockLogEntry)
	api.POST("/unblock/:username", h.Unblock)
	api.GET("/settings", h.GetSettings)
	api.PUT("/settings", h.UpdateSettings)

	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	return r
}

// analyzeThrottle bounds analyze calls per client IP. It does nothing
// when no limiter is configured, and fails open on Redis errors.
func analyzeThrottle(h *Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.limiter == nil {
			c.Next()
			return
		}
		ok, err := h.limiter.Allow(c.Request.Context(), c.ClientIP(), ratelimit.RuleAnalyze)
		if err == nil && !ok {
			c.Header("Retry-After", strconv.Itoa(int(ratelimit.RuleAnalyze.Window.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limited"})
			return
		}
		c.Next()
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
