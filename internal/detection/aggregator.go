package detection

import (
	"github.com/trafficward/trafficward/internal/models"
)

// blockConfidenceFloor is the confidence a High-level signal must exceed
// before it alone justifies a block.
const blockConfidenceFloor = 0.9

// Aggregate merges the analyzer signals into a single verdict: the
// signal with the highest level wins, ties broken by higher confidence
// and then by evaluation order.
func Aggregate(signals []models.ThreatSignal) models.ThreatSignal {
	if len(signals) == 0 {
		return models.ThreatSignal{Level: models.LevelLow, Reason: "no signals evaluated"}
	}

	top := signals[0]
	for _, signal := range signals[1:] {
		if signal.Level > top.Level ||
			(signal.Level == top.Level && signal.Confidence > top.Confidence) {
			top = signal
		}
	}
	return top
}

// ShouldBlock decides whether the aggregate verdict warrants suspending
// the client: Critical always blocks, High only with near-certain
// confidence.
func ShouldBlock(verdict models.ThreatSignal) bool {
	if verdict.Level == models.LevelCritical {
		return true
	}
	return verdict.Level == models.LevelHigh && verdict.Confidence > blockConfidenceFloor
}
