package gate

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/trafficward/trafficward/internal/config"
	"github.com/trafficward/trafficward/internal/detection"
	"github.com/trafficward/trafficward/internal/metrics"
	"github.com/trafficward/trafficward/internal/models"
	"github.com/trafficward/trafficward/internal/storage"
)

// Gate is the admission-control middleware. It consults the block store
// before any business logic runs and hands completed requests to the
// detection engine after the response is written.
type Gate struct {
	cfg    config.DetectionConfig
	blocks storage.BlockStore
	engine *detection.Engine
	log    *slog.Logger
}

// New builds a gate against the given block store and engine.
func New(cfg config.DetectionConfig, blocks storage.BlockStore, engine *detection.Engine, log *slog.Logger) *Gate {
	return &Gate{cfg: cfg, blocks: blocks, engine: engine, log: log}
}

// Decide checks whether the client may be served right now. Store
// failures admit the request: the gate must never be the outage.
func (g *Gate) Decide(ctx context.Context, clientID string) models.GateDecision {
	record, err := g.blocks.IsBlocked(ctx, clientID)
	if err != nil {
		g.log.Warn("block store unavailable, failing open", "client_id", clientID, "error", err)
		return models.GateDecision{Admit: true}
	}
	if record == nil || !record.Active(time.Now()) {
		return models.GateDecision{Admit: true}
	}

	return models.GateDecision{
		Admit:        false,
		Reason:       record.Reason,
		RetryAfterMs: time.Until(record.ExpiresAt).Milliseconds(),
		BlockedUntil: &record.ExpiresAt,
	}
}

// Middleware returns the gin handler. Blocked clients get a structured
// 429; admitted requests pass through untouched, and the completed
// sample is submitted for analysis after the response is written. A
// block decided during analysis of request N only affects N+1 onward.
func (g *Gate) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := c.ClientIP()

		decision := g.Decide(c.Request.Context(), clientID)
		if !decision.Admit {
			metrics.ObserveDecision(metrics.DecisionRejected)
			c.Header("Retry-After", strconv.FormatInt((decision.RetryAfterMs+999)/1000, 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":        "too many requests",
				"reason":       decision.Reason,
				"blockedUntil": decision.BlockedUntil,
			})
			return
		}
		metrics.ObserveDecision(metrics.DecisionAdmitted)

		if !g.cfg.EnableTrafficAnalysis || !g.cfg.EnableAnomalyDetection {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		g.engine.Submit(buildSample(c, clientID, start))
	}
}

// buildSample assembles the traffic sample observed for one completed
// request. Missing attributes default to neutral values rather than
// failing the capture.
func buildSample(c *gin.Context, clientID string, start time.Time) models.TrafficSample {
	size := c.Request.ContentLength
	if size < 0 {
		size = 0
	}

	return models.TrafficSample{
		ID:           uuid.New().String(),
		ClientID:     clientID,
		TimestampMs:  start.UnixMilli(),
		UserAgent:    c.Request.UserAgent(),
		Endpoint:     c.Request.URL.Path,
		Method:       c.Request.Method,
		ResponseTime: time.Since(start).Milliseconds(),
		StatusCode:   c.Writer.Status(),
		RequestSize:  size,
	}
}
