package detection

import (
	"fmt"
	"math"
	"net"
	"sort"
	"strings"

	"github.com/trafficward/trafficward/internal/config"
	"github.com/trafficward/trafficward/internal/models"
)

// Analyzer scores one dimension of a client's traffic. Analyzers are pure
// functions of the current sample, the client's prior window, and the
// detection config; the window never contains the current sample.
type Analyzer func(sample models.TrafficSample, window []models.TrafficSample, cfg config.DetectionConfig) models.ThreatSignal

const (
	shortIntervalMs     = 100
	rapidAvgIntervalMs  = 50
	oversizedRequest    = 10 * 1024 * 1024
	singleAgentMinCount = 10
)

var suspiciousUserAgents = []string{
	"curl", "wget", "python-requests", "bot", "crawler", "spider", "scraper",
}

var suspiciousEndpoints = []string{
	"/admin", "/wp-admin", "/phpmyadmin", "/.env", "/config", "/backup",
}

// AnalyzeVolume flags clients whose request count inside the window
// exceeds multiples of the configured threshold.
func AnalyzeVolume(sample models.TrafficSample, window []models.TrafficSample, cfg config.DetectionConfig) models.ThreatSignal {
	count := len(window) + 1
	threshold := cfg.RequestThreshold

	signal := models.ThreatSignal{
		Type:   models.SignalVolume,
		Level:  models.LevelLow,
		Reason: fmt.Sprintf("request volume within threshold: %d", count),
		Metadata: map[string]any{
			"count":                count,
			"request_threshold":    threshold,
			"connection_threshold": cfg.ConnectionThreshold,
		},
	}

	switch {
	case count > 5*threshold:
		signal.Level = models.LevelCritical
		signal.Confidence = 0.95
	case count > 3*threshold:
		signal.Level = models.LevelHigh
		signal.Confidence = 0.85
	case count > 2*threshold:
		signal.Level = models.LevelMedium
		signal.Confidence = 0.7
	default:
		return signal
	}

	signal.Reason = fmt.Sprintf("excessive request volume: %d requests in window (threshold %d)", count, threshold)
	return signal
}

// AnalyzePattern scores bot and replay behavior: repeated identical
// requests, machine-like inter-arrival timing, and a single user agent
// across a large window.
func AnalyzePattern(sample models.TrafficSample, window []models.TrafficSample, cfg config.DetectionConfig) models.ThreatSignal {
	signal := models.ThreatSignal{
		Type:   models.SignalPattern,
		Level:  models.LevelLow,
		Reason: "no suspicious traffic pattern",
	}
	if len(window) == 0 {
		return signal
	}

	identical := 0
	agents := make(map[string]struct{}, 4)
	for _, s := range window {
		if s.Endpoint == sample.Endpoint && s.Method == sample.Method && s.UserAgent == sample.UserAgent {
			identical++
		}
		agents[s.UserAgent] = struct{}{}
	}
	agents[sample.UserAgent] = struct{}{}
	identicalRatio := float64(identical) / float64(len(window))

	timestamps := make([]int64, 0, len(window)+1)
	for _, s := range window {
		timestamps = append(timestamps, s.TimestampMs)
	}
	timestamps = append(timestamps, sample.TimestampMs)
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i] < timestamps[j] })

	short := 0
	var totalInterval int64
	intervals := len(timestamps) - 1
	for i := 1; i < len(timestamps); i++ {
		interval := timestamps[i] - timestamps[i-1]
		totalInterval += interval
		if interval < shortIntervalMs {
			short++
		}
	}
	shortIntervalRatio := float64(short) / float64(intervals)
	avgInterval := float64(totalInterval) / float64(intervals)

	total := len(window) + 1
	singleUserAgent := len(agents) == 1 && total > singleAgentMinCount

	score := 0.0
	reasons := make([]string, 0, 4)
	if identicalRatio > 0.8 {
		score += 0.4
		reasons = append(reasons, fmt.Sprintf("%.0f%% identical requests", identicalRatio*100))
	}
	if shortIntervalRatio > 0.7 {
		score += 0.3
		reasons = append(reasons, fmt.Sprintf("%.0f%% sub-%dms intervals", shortIntervalRatio*100, shortIntervalMs))
	}
	if singleUserAgent {
		score += 0.2
		reasons = append(reasons, fmt.Sprintf("single user agent across %d requests", total))
	}
	if avgInterval < rapidAvgIntervalMs {
		score += 0.1
		reasons = append(reasons, fmt.Sprintf("average interval %.0fms", avgInterval))
	}

	signal.Metadata = map[string]any{
		"identical_ratio":      identicalRatio,
		"short_interval_ratio": shortIntervalRatio,
		"avg_interval_ms":      avgInterval,
		"score":                score,
	}

	switch {
	case score > cfg.SuspiciousPatternThreshold:
		signal.Level = models.LevelCritical
	case score > 0.6:
		signal.Level = models.LevelHigh
	case score > 0.4:
		signal.Level = models.LevelMedium
	default:
		return signal
	}

	signal.Confidence = math.Min(score, 0.95)
	signal.Reason = "automated traffic pattern: " + strings.Join(reasons, ", ")
	return signal
}

// AnalyzeGeographic flags requests whose client address sits in a
// private or loopback range without arriving over a trusted internal
// path. Real geo-IP lookup belongs to an external resolver; this is the
// local heuristic only.
func AnalyzeGeographic(sample models.TrafficSample, window []models.TrafficSample, cfg config.DetectionConfig) models.ThreatSignal {
	signal := models.ThreatSignal{
		Type:   models.SignalGeographic,
		Level:  models.LevelLow,
		Reason: "no origin anomaly",
	}

	ip := net.ParseIP(sample.ClientID)
	if ip == nil {
		return signal
	}

	if ip.IsLoopback() || ip.IsPrivate() {
		signal.Level = models.LevelMedium
		signal.Confidence = 0.6
		signal.Reason = fmt.Sprintf("request from internal address range: %s", sample.ClientID)
		signal.Metadata = map[string]any{"client_ip": sample.ClientID}
	}
	return signal
}

// AnalyzeBehavioral checks the current sample for scripted user agents,
// oversized payloads, and probing of sensitive endpoints.
func AnalyzeBehavioral(sample models.TrafficSample, window []models.TrafficSample, cfg config.DetectionConfig) models.ThreatSignal {
	signal := models.ThreatSignal{
		Type:   models.SignalBehavioral,
		Level:  models.LevelLow,
		Reason: "no suspicious request attributes",
	}

	score := 0.0
	reasons := make([]string, 0, 3)

	agent := strings.ToLower(sample.UserAgent)
	for _, marker := range suspiciousUserAgents {
		if strings.Contains(agent, marker) {
			score += 0.3
			reasons = append(reasons, fmt.Sprintf("scripted user agent %q", marker))
			break
		}
	}

	if sample.RequestSize > oversizedRequest {
		score += 0.2
		reasons = append(reasons, fmt.Sprintf("oversized request: %d bytes", sample.RequestSize))
	}

	endpoint := strings.ToLower(sample.Endpoint)
	for _, marker := range suspiciousEndpoints {
		if strings.Contains(endpoint, marker) {
			score += 0.4
			reasons = append(reasons, fmt.Sprintf("sensitive endpoint %q", marker))
			break
		}
	}

	if score < 0.4 {
		return signal
	}

	signal.Metadata = map[string]any{"score": score}
	if score > 0.7 {
		signal.Level = models.LevelHigh
		signal.Confidence = math.Min(score, 0.9)
	} else {
		signal.Level = models.LevelMedium
		signal.Confidence = score
	}
	signal.Reason = "suspicious request attributes: " + strings.Join(reasons, ", ")
	return signal
}
