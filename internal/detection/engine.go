package detection

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/trafficward/trafficward/internal/config"
	"github.com/trafficward/trafficward/internal/metrics"
	"github.com/trafficward/trafficward/internal/models"
	"github.com/trafficward/trafficward/internal/storage"
)

// Engine runs the post-response pipeline: record the sample, score the
// updated window, and suspend the client when the verdict warrants it.
// Evaluation happens on background workers so the request path never
// waits on it; under pressure samples are shed, not queued.
type Engine struct {
	cfg       config.DetectionConfig
	samples   storage.SampleStore
	blocks    storage.BlockStore
	anomalies storage.AnomalyLog
	log       *slog.Logger

	// TrustedOrigin, when set, exempts internal callers from the
	// geographic heuristic. A real geo-IP resolver plugs in here.
	TrustedOrigin func(clientID string) bool

	// OnAnomaly, when set, receives every emitted event (live feed).
	OnAnomaly func(models.AnomalyEvent)

	analyzers []Analyzer
	queue     chan models.TrafficSample
	wg        sync.WaitGroup
}

// NewEngine wires the pipeline against the given stores.
func NewEngine(cfg config.DetectionConfig, store storage.Store, log *slog.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		samples:   store,
		blocks:    store,
		anomalies: store,
		log:       log,
		analyzers: []Analyzer{AnalyzeVolume, AnalyzePattern, AnalyzeGeographic, AnalyzeBehavioral},
		queue:     make(chan models.TrafficSample, cfg.AnalysisQueueSize),
	}
}

// Start launches the evaluation workers. They drain until ctx is
// cancelled; in-flight evaluations at shutdown are best-effort.
func (e *Engine) Start(ctx context.Context) {
	for i := 0; i < e.cfg.AnalysisWorkers; i++ {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case sample := <-e.queue:
					e.Process(context.Background(), sample)
				}
			}
		}()
	}
}

// Wait blocks until all workers have exited.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Submit enqueues a sample for asynchronous evaluation. If the queue is
// full the sample is dropped: losing telemetry beats building backlog
// behind a slow store.
func (e *Engine) Submit(sample models.TrafficSample) {
	select {
	case e.queue <- sample:
	default:
		metrics.ObserveDroppedSample()
		e.log.Warn("analysis queue full, dropping sample", "client_id", sample.ClientID)
	}
}

// Process records the sample and evaluates the client's window. All
// store errors are logged and swallowed: this path must never surface a
// failure to the request that produced the sample.
func (e *Engine) Process(ctx context.Context, sample models.TrafficSample) {
	if !e.cfg.EnableTrafficAnalysis || !e.cfg.EnableAnomalyDetection {
		return
	}

	start := time.Now()
	defer func() { metrics.ObserveAnalysis(time.Since(start)) }()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.AnalysisTimeout())
	defer cancel()

	if err := e.samples.Record(ctx, sample); err != nil {
		e.log.Warn("sample store write failed", "client_id", sample.ClientID, "error", err)
	}

	window, err := e.samples.Window(ctx, sample.ClientID)
	if err != nil {
		e.log.Warn("sample store read failed, skipping analysis", "client_id", sample.ClientID, "error", err)
		return
	}

	// Analyzers see the window as it was before this sample.
	prior := window[:0:0]
	for _, s := range window {
		if s.ID != sample.ID {
			prior = append(prior, s)
		}
	}

	signals := make([]models.ThreatSignal, 0, len(e.analyzers))
	for _, analyze := range e.analyzers {
		signal := e.runAnalyzer(analyze, sample, prior)
		if signal.Type == models.SignalGeographic && e.TrustedOrigin != nil && e.TrustedOrigin(sample.ClientID) {
			signal = models.ThreatSignal{
				Type:   models.SignalGeographic,
				Level:  models.LevelLow,
				Reason: "trusted internal origin",
			}
		}
		signals = append(signals, signal)
	}

	verdict := Aggregate(signals)
	if verdict.Level == models.LevelLow {
		return
	}

	blocked := ShouldBlock(verdict)
	if blocked {
		if err := e.blocks.Block(ctx, sample.ClientID, verdict.Reason, verdict.Level, e.cfg.AutoBlockDuration()); err != nil {
			e.log.Error("block store write failed", "client_id", sample.ClientID, "error", err)
			blocked = false
		} else {
			metrics.ObserveBlock(string(verdict.Type))
			e.log.Warn("client blocked",
				"client_id", sample.ClientID,
				"signal", verdict.Type,
				"level", verdict.Level.String(),
				"confidence", verdict.Confidence,
				"duration", e.cfg.AutoBlockDuration(),
			)
		}
	}

	e.emit(ctx, sample, verdict, blocked)
}

// runAnalyzer isolates one analyzer: a panic inside it contributes a
// zero-confidence Low signal instead of aborting the aggregation.
func (e *Engine) runAnalyzer(analyze Analyzer, sample models.TrafficSample, window []models.TrafficSample) (signal models.ThreatSignal) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("analyzer panicked", "client_id", sample.ClientID, "panic", r)
			signal = models.ThreatSignal{Level: models.LevelLow, Confidence: 0, Reason: "analyzer failed"}
		}
	}()
	return analyze(sample, window, e.cfg)
}

func (e *Engine) emit(ctx context.Context, sample models.TrafficSample, verdict models.ThreatSignal, blocked bool) {
	event := models.AnomalyEvent{
		ID:          uuid.New().String(),
		Type:        verdict.Type,
		Level:       verdict.Level,
		ClientID:    sample.ClientID,
		Description: verdict.Reason,
		Confidence:  verdict.Confidence,
		Blocked:     blocked,
		Metadata:    verdict.Metadata,
		Timestamp:   time.Now(),
	}

	metrics.ObserveAnomaly(string(event.Type), event.Level.String())

	if err := e.anomalies.Append(ctx, event); err != nil {
		e.log.Warn("anomaly log append failed", "client_id", sample.ClientID, "error", err)
	}
	if e.OnAnomaly != nil {
		e.OnAnomaly(event)
	}
}
