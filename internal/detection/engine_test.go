package detection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/trafficward/trafficward/internal/config"
	"github.com/trafficward/trafficward/internal/models"
	"github.com/trafficward/trafficward/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// brokenStore fails every operation, standing in for an unreachable
// backend.
type brokenStore struct{}

func (brokenStore) Record(context.Context, models.TrafficSample) error { return errors.New("down") }
func (brokenStore) Window(context.Context, string) ([]models.TrafficSample, error) {
	return nil, errors.New("down")
}
func (brokenStore) IsBlocked(context.Context, string) (*models.BlockRecord, error) {
	return nil, errors.New("down")
}
func (brokenStore) Block(context.Context, string, string, models.ThreatLevel, time.Duration) error {
	return errors.New("down")
}
func (brokenStore) ActiveBlocks(context.Context) ([]models.BlockRecord, error) {
	return nil, errors.New("down")
}
func (brokenStore) Append(context.Context, models.AnomalyEvent) error { return errors.New("down") }
func (brokenStore) Recent(context.Context, int) ([]models.AnomalyEvent, error) {
	return nil, errors.New("down")
}

func floodSample(n int, base time.Time) models.TrafficSample {
	return models.TrafficSample{
		ID:          fmt.Sprintf("f-%d", n),
		ClientID:    "1.2.3.4",
		TimestampMs: base.Add(time.Duration(n) * 50 * time.Millisecond).UnixMilli(),
		Endpoint:    "/products",
		Method:      "GET",
		UserAgent:   "Mozilla/5.0 (X11; Linux x86_64)",
		StatusCode:  200,
	}
}

func TestEngineBlocksVolumeFlood(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default().Detection
	cfg.RequestThreshold = 100

	store := storage.NewMemoryStore(cfg.Window())
	engine := NewEngine(cfg, store, testLogger())

	before := time.Now()
	base := before.Add(-40 * time.Second)
	for i := 0; i < 600; i++ {
		engine.Process(ctx, floodSample(i, base))
	}

	record, err := store.IsBlocked(ctx, "1.2.3.4")
	if err != nil {
		t.Fatalf("isblocked: %v", err)
	}
	if record == nil {
		t.Fatal("expected flood client to be blocked")
	}
	if record.Level != models.LevelCritical {
		t.Fatalf("expected Critical block, got %s", record.Level)
	}

	// The TTL should land at roughly now + autoBlockDuration.
	wantExpiry := before.Add(cfg.AutoBlockDuration())
	if diff := record.ExpiresAt.Sub(wantExpiry); diff < 0 || diff > 5*time.Second {
		t.Fatalf("unexpected block expiry %v (want ~%v)", record.ExpiresAt, wantExpiry)
	}

	events, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(events) == 0 {
		t.Fatal("expected anomaly events for the flood")
	}
	if !events[0].Blocked {
		t.Fatal("expected newest event to record the block")
	}
}

func TestEngineEmitsWithoutBlockingOnMedium(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default().Detection

	store := storage.NewMemoryStore(cfg.Window())
	engine := NewEngine(cfg, store, testLogger())

	// A lone probe of a sensitive endpoint: Medium behavioral signal.
	engine.Process(ctx, models.TrafficSample{
		ID:          "probe-1",
		ClientID:    "5.6.7.8",
		TimestampMs: time.Now().UnixMilli(),
		Endpoint:    "/admin/config",
		Method:      "GET",
		UserAgent:   "Mozilla/5.0 (Windows NT 10.0; Win64; x64)",
	})

	record, err := store.IsBlocked(ctx, "5.6.7.8")
	if err != nil {
		t.Fatalf("isblocked: %v", err)
	}
	if record != nil {
		t.Fatalf("Medium verdict must not block, got %+v", record)
	}

	events, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one audit event, got %d", len(events))
	}
	if events[0].Level != models.LevelMedium || events[0].Blocked {
		t.Fatalf("unexpected event: %+v", events[0])
	}
}

func TestEngineDisabledFlagsSkipAnalysis(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default().Detection
	cfg.EnableTrafficAnalysis = false

	store := storage.NewMemoryStore(cfg.Window())
	engine := NewEngine(cfg, store, testLogger())

	engine.Process(ctx, floodSample(0, time.Now()))

	window, err := store.Window(ctx, "1.2.3.4")
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	if len(window) != 0 {
		t.Fatal("disabled analysis must be a pure pass-through")
	}
}

func TestEngineSurvivesBrokenStore(t *testing.T) {
	cfg := config.Default().Detection
	engine := NewEngine(cfg, brokenStore{}, testLogger())

	// Must neither panic nor return an error to anyone.
	engine.Process(context.Background(), floodSample(0, time.Now()))
}

func TestEngineRecoversAnalyzerPanic(t *testing.T) {
	cfg := config.Default().Detection
	store := storage.NewMemoryStore(cfg.Window())
	engine := NewEngine(cfg, store, testLogger())
	engine.analyzers = []Analyzer{
		func(models.TrafficSample, []models.TrafficSample, config.DetectionConfig) models.ThreatSignal {
			panic("analyzer bug")
		},
		AnalyzeVolume,
	}

	engine.Process(context.Background(), floodSample(0, time.Now()))

	signal := engine.runAnalyzer(engine.analyzers[0], models.TrafficSample{}, nil)
	if signal.Level != models.LevelLow || signal.Confidence != 0 {
		t.Fatalf("panicking analyzer should yield Low/0, got %+v", signal)
	}
}

func TestEngineTrustedOriginSuppressesGeographic(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default().Detection
	store := storage.NewMemoryStore(cfg.Window())

	engine := NewEngine(cfg, store, testLogger())
	engine.TrustedOrigin = func(clientID string) bool { return clientID == "10.0.0.7" }

	engine.Process(ctx, models.TrafficSample{
		ID:          "internal-1",
		ClientID:    "10.0.0.7",
		TimestampMs: time.Now().UnixMilli(),
		Endpoint:    "/api/products",
		Method:      "GET",
		UserAgent:   "Mozilla/5.0 (X11; Linux x86_64)",
	})

	events, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("trusted internal caller should not raise events, got %d", len(events))
	}
}

func TestEngineTrustedOriginKeepsOtherSignals(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default().Detection
	store := storage.NewMemoryStore(cfg.Window())

	engine := NewEngine(cfg, store, testLogger())
	engine.TrustedOrigin = func(clientID string) bool { return clientID == "10.0.0.7" }

	// A trusted internal client probing a sensitive endpoint: the
	// geographic signal is exempt, but the Behavioral Medium verdict
	// still has to reach the audit log.
	engine.Process(ctx, models.TrafficSample{
		ID:          "internal-2",
		ClientID:    "10.0.0.7",
		TimestampMs: time.Now().UnixMilli(),
		Endpoint:    "/admin/config",
		Method:      "GET",
		UserAgent:   "Mozilla/5.0 (Windows NT 10.0; Win64; x64)",
	})

	events, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one audit event, got %d", len(events))
	}
	if events[0].Type != models.SignalBehavioral || events[0].Level != models.LevelMedium {
		t.Fatalf("expected Behavioral Medium event, got %+v", events[0])
	}
	if events[0].Blocked {
		t.Fatalf("Medium verdict must not block, got %+v", events[0])
	}
}
