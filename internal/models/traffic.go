package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// TrafficSample captures one completed request for a client. Samples are
// immutable once recorded and live only as long as the sliding window.
type TrafficSample struct {
	ID           string `json:"id"`
	ClientID     string `json:"client_id"`
	TimestampMs  int64  `json:"timestamp_ms"`
	UserAgent    string `json:"user_agent"`
	Endpoint     string `json:"endpoint"`
	Method       string `json:"method"`
	ResponseTime int64  `json:"response_time_ms"`
	StatusCode   int    `json:"status_code"`
	RequestSize  int64  `json:"request_size_bytes"`
}

// Time returns the sample timestamp as a time.Time.
func (s TrafficSample) Time() time.Time {
	return time.UnixMilli(s.TimestampMs)
}

// ThreatLevel orders signal severity: Low < Medium < High < Critical.
type ThreatLevel int

const (
	LevelLow ThreatLevel = iota
	LevelMedium
	LevelHigh
	LevelCritical
)

func (l ThreatLevel) String() string {
	switch l {
	case LevelCritical:
		return "CRITICAL"
	case LevelHigh:
		return "HIGH"
	case LevelMedium:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

func (l ThreatLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

func (l *ThreatLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "CRITICAL":
		*l = LevelCritical
	case "HIGH":
		*l = LevelHigh
	case "MEDIUM":
		*l = LevelMedium
	case "LOW":
		*l = LevelLow
	default:
		return fmt.Errorf("unknown threat level %q", s)
	}
	return nil
}

// SignalType identifies which analyzer produced a signal.
type SignalType string

const (
	SignalVolume     SignalType = "VOLUME"
	SignalPattern    SignalType = "PATTERN"
	SignalGeographic SignalType = "GEOGRAPHIC"
	SignalBehavioral SignalType = "BEHAVIORAL"
)

// ThreatSignal is one analyzer's verdict about a single dimension of
// suspicious behavior. Produced fresh on every evaluation.
type ThreatSignal struct {
	Type       SignalType     `json:"type"`
	Level      ThreatLevel    `json:"level"`
	Confidence float64        `json:"confidence"` // 0.0 to 1.0
	Reason     string         `json:"reason"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// BlockRecord marks a client as suspended until ExpiresAt. At most one
// active record exists per client; a new block replaces the old one.
type BlockRecord struct {
	ClientID  string      `json:"client_id"`
	Reason    string      `json:"reason"`
	Level     ThreatLevel `json:"level"`
	CreatedAt time.Time   `json:"created_at"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// Active reports whether the record still suspends the client at t.
func (b BlockRecord) Active(t time.Time) bool {
	return t.Before(b.ExpiresAt)
}

// AnomalyEvent is the audit-sink record emitted whenever an evaluation
// scores above Low, whether or not it resulted in a block.
type AnomalyEvent struct {
	ID          string         `json:"id"`
	Type        SignalType     `json:"type"`
	Level       ThreatLevel    `json:"level"`
	ClientID    string         `json:"client_id"`
	Description string         `json:"description"`
	Confidence  float64        `json:"confidence"`
	Blocked     bool           `json:"blocked"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// GateDecision is the admission verdict for one inbound request.
type GateDecision struct {
	Admit        bool       `json:"admit"`
	Reason       string     `json:"reason,omitempty"`
	RetryAfterMs int64      `json:"retry_after_ms,omitempty"`
	BlockedUntil *time.Time `json:"blocked_until,omitempty"`
}
