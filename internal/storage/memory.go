package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/trafficward/trafficward/internal/models"
)

// MemoryStore is a process-local Store with the same semantics as
// RedisStore. It serves unit tests and acts as a fallback when Redis is
// unreachable at startup.
type MemoryStore struct {
	window time.Duration

	mu        sync.RWMutex
	samples   map[string][]models.TrafficSample
	blocks    map[string]models.BlockRecord
	anomalies []models.AnomalyEvent
}

// NewMemoryStore returns an empty store with the given sliding window.
func NewMemoryStore(window time.Duration) *MemoryStore {
	return &MemoryStore{
		window:  window,
		samples: make(map[string][]models.TrafficSample),
		blocks:  make(map[string]models.BlockRecord),
	}
}

// Record appends the sample and evicts entries older than the window.
func (m *MemoryStore) Record(_ context.Context, sample models.TrafficSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-m.window).UnixMilli()
	kept := m.samples[sample.ClientID][:0]
	for _, s := range m.samples[sample.ClientID] {
		if s.TimestampMs >= cutoff {
			kept = append(kept, s)
		}
	}
	kept = append(kept, sample)
	m.samples[sample.ClientID] = kept
	return nil
}

// Window returns the client's in-window samples ascending by timestamp.
func (m *MemoryStore) Window(_ context.Context, clientID string) ([]models.TrafficSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := time.Now().Add(-m.window).UnixMilli()
	out := make([]models.TrafficSample, 0, len(m.samples[clientID]))
	for _, s := range m.samples[clientID] {
		if s.TimestampMs >= cutoff {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TimestampMs < out[j].TimestampMs })
	return out, nil
}

// IsBlocked returns the client's block record while it is still active.
// Expired records are dropped lazily.
func (m *MemoryStore) IsBlocked(_ context.Context, clientID string) (*models.BlockRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.blocks[clientID]
	if !ok {
		return nil, nil
	}
	if !record.Active(time.Now()) {
		delete(m.blocks, clientID)
		return nil, nil
	}
	return &record, nil
}

// Block replaces any existing record for the client.
func (m *MemoryStore) Block(_ context.Context, clientID, reason string, level models.ThreatLevel, duration time.Duration) error {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks[clientID] = models.BlockRecord{
		ClientID:  clientID,
		Reason:    reason,
		Level:     level,
		CreatedAt: now,
		ExpiresAt: now.Add(duration),
	}
	return nil
}

// ActiveBlocks lists clients whose suspension has not yet expired.
func (m *MemoryStore) ActiveBlocks(_ context.Context) ([]models.BlockRecord, error) {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	records := make([]models.BlockRecord, 0, len(m.blocks))
	for clientID, record := range m.blocks {
		if !record.Active(now) {
			delete(m.blocks, clientID)
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// Append stores the anomaly event in memory.
func (m *MemoryStore) Append(_ context.Context, event models.AnomalyEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.anomalies = append(m.anomalies, event)
	return nil
}

// Recent returns the newest anomaly events, newest first.
func (m *MemoryStore) Recent(_ context.Context, limit int) ([]models.AnomalyEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit < 0 {
		limit = 0
	}
	n := len(m.anomalies)
	if limit > n {
		limit = n
	}
	out := make([]models.AnomalyEvent, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, m.anomalies[i])
	}
	return out, nil
}
