package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/trafficward/trafficward/internal/config"
	"github.com/trafficward/trafficward/internal/detection"
	"github.com/trafficward/trafficward/internal/gate"
	"github.com/trafficward/trafficward/internal/metrics"
	"github.com/trafficward/trafficward/internal/storage"
)

type server struct {
	cfg    config.Config
	store  storage.Store
	engine *detection.Engine
	gate   *gate.Gate
	feed   *gate.Feed
	log    *slog.Logger
	router *gin.Engine
}

func newServer(ctx context.Context, cfg config.Config, log *slog.Logger) (*server, error) {
	store := newStore(ctx, cfg, log)

	engine := detection.NewEngine(cfg.Detection, store, log)
	feed := gate.NewFeed(log)
	engine.OnAnomaly = feed.Broadcast

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return nil, err
	}

	s := &server{
		cfg:    cfg,
		store:  store,
		engine: engine,
		gate:   gate.New(cfg.Detection, store, engine, log),
		feed:   feed,
		log:    log,
		router: router,
	}
	s.setupRoutes()
	return s, nil
}

// newStore prefers the shared Redis backend so multiple gate processes
// coordinate blocks; if Redis is unreachable the server still comes up
// on an in-process store rather than refusing traffic.
func newStore(ctx context.Context, cfg config.Config, log *slog.Logger) storage.Store {
	store, err := storage.NewRedisStore(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Detection.Window())
	if err != nil {
		log.Warn("redis unavailable, falling back to in-process store", "addr", cfg.Redis.Addr, "error", err)
		return storage.NewMemoryStore(cfg.Detection.Window())
	}
	log.Info("connected to redis", "addr", cfg.Redis.Addr)
	return store
}

func (s *server) setupRoutes() {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	if err := metrics.Register(registry); err != nil {
		s.log.Error("metrics registration failed", "error", err)
	}
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Ops surface: read-only views over the stores, ungated.
	ops := s.router.Group("/api")
	{
		ops.GET("/anomalies/recent", s.getRecentAnomalies)
		ops.GET("/blocks/active", s.getActiveBlocks)
		ops.GET("/stats/summary", s.getSummaryStats)
	}
	s.router.GET("/ws", s.feed.Handler)

	// Everything behind the gate stands in for the protected business
	// API; the handlers themselves are placeholders.
	protected := s.router.Group("/", s.gate.Middleware())
	{
		protected.GET("/api/products", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"products": []string{}})
		})
		protected.GET("/api/orders", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"orders": []string{}})
		})
		protected.POST("/api/orders", func(c *gin.Context) {
			c.JSON(http.StatusCreated, gin.H{"status": "created"})
		})
	}
}

func (s *server) getRecentAnomalies(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	events, err := s.store.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read anomaly history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"anomalies": events})
}

func (s *server) getActiveBlocks(c *gin.Context) {
	records, err := s.store.ActiveBlocks(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read block records"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"blocks": records})
}

func (s *server) getSummaryStats(c *gin.Context) {
	records, _ := s.store.ActiveBlocks(c.Request.Context())
	events, _ := s.store.Recent(c.Request.Context(), 100)

	status := "NORMAL"
	if len(records) > 0 {
		status = "BLOCKING"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":           status,
		"active_blocks":    len(records),
		"recent_anomalies": len(events),
		"window_ms":        s.cfg.Detection.WindowMs,
	})
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := newServer(ctx, cfg, log)
	if err != nil {
		log.Error("server setup failed", "error", err)
		os.Exit(1)
	}
	s.engine.Start(ctx)

	httpServer := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: s.router,
	}

	go func() {
		log.Info("gate server listening", "addr", cfg.Server.Address)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown incomplete", "error", err)
	}
	s.engine.Wait()
}
