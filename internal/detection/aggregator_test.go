package detection

import (
	"testing"

	"github.com/trafficward/trafficward/internal/models"
)

func TestAggregatePicksHighestLevel(t *testing.T) {
	signals := []models.ThreatSignal{
		{Type: models.SignalVolume, Level: models.LevelMedium, Confidence: 0.7},
		{Type: models.SignalPattern, Level: models.LevelHigh, Confidence: 0.65},
		{Type: models.SignalGeographic, Level: models.LevelLow},
		{Type: models.SignalBehavioral, Level: models.LevelMedium, Confidence: 0.9},
	}

	verdict := Aggregate(signals)
	if verdict.Type != models.SignalPattern {
		t.Fatalf("expected pattern signal to win, got %s", verdict.Type)
	}
}

func TestAggregateBreaksTiesByConfidenceThenOrder(t *testing.T) {
	signals := []models.ThreatSignal{
		{Type: models.SignalVolume, Level: models.LevelHigh, Confidence: 0.85},
		{Type: models.SignalPattern, Level: models.LevelHigh, Confidence: 0.92},
	}
	if verdict := Aggregate(signals); verdict.Type != models.SignalPattern {
		t.Fatalf("expected higher confidence to win, got %s", verdict.Type)
	}

	signals = []models.ThreatSignal{
		{Type: models.SignalVolume, Level: models.LevelHigh, Confidence: 0.85},
		{Type: models.SignalPattern, Level: models.LevelHigh, Confidence: 0.85},
	}
	if verdict := Aggregate(signals); verdict.Type != models.SignalVolume {
		t.Fatalf("expected evaluation order to break exact ties, got %s", verdict.Type)
	}
}

func TestAggregateEmpty(t *testing.T) {
	verdict := Aggregate(nil)
	if verdict.Level != models.LevelLow {
		t.Fatalf("expected Low verdict for no signals, got %s", verdict.Level)
	}
}

func TestShouldBlock(t *testing.T) {
	cases := []struct {
		level      models.ThreatLevel
		confidence float64
		want       bool
	}{
		{models.LevelCritical, 0.5, true},
		{models.LevelHigh, 0.95, true},
		{models.LevelHigh, 0.9, false},
		{models.LevelHigh, 0.85, false},
		{models.LevelMedium, 1.0, false},
		{models.LevelLow, 1.0, false},
	}

	for _, tc := range cases {
		got := ShouldBlock(models.ThreatSignal{Level: tc.level, Confidence: tc.confidence})
		if got != tc.want {
			t.Fatalf("level=%s confidence=%.2f: expected %v, got %v", tc.level, tc.confidence, tc.want, got)
		}
	}
}
