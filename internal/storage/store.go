package storage

import (
	"context"
	"time"

	"github.com/trafficward/trafficward/internal/models"
)

// SampleStore keeps the per-client sliding window of recent traffic.
type SampleStore interface {
	// Record appends a sample to the client's window.
	Record(ctx context.Context, sample models.TrafficSample) error
	// Window returns the client's samples newer than now-window, ascending
	// by timestamp. The slice is materialized fresh per call.
	Window(ctx context.Context, clientID string) ([]models.TrafficSample, error)
}

// BlockStore tracks currently-suspended clients.
type BlockStore interface {
	// IsBlocked returns the active block record for the client, or nil.
	IsBlocked(ctx context.Context, clientID string) (*models.BlockRecord, error)
	// Block suspends the client for duration, replacing any existing record.
	Block(ctx context.Context, clientID, reason string, level models.ThreatLevel, duration time.Duration) error
	// ActiveBlocks lists all clients currently suspended.
	ActiveBlocks(ctx context.Context) ([]models.BlockRecord, error)
}

// AnomalyLog is the audit sink for detection events. Appends are
// fire-and-forget; callers never depend on the result.
type AnomalyLog interface {
	Append(ctx context.Context, event models.AnomalyEvent) error
	Recent(ctx context.Context, limit int) ([]models.AnomalyEvent, error)
}

// Store is the full persistence surface the gate server wires up.
type Store interface {
	SampleStore
	BlockStore
	AnomalyLog
}
