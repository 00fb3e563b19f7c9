package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// DecisionAdmitted labels requests that passed the gate.
	DecisionAdmitted = "admitted"
	// DecisionRejected labels requests refused with 429.
	DecisionRejected = "rejected"
)

var (
	gateDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trafficward",
			Name:      "gate_decisions_total",
			Help:      "Admission decisions made by the gate, partitioned by outcome.",
		},
		[]string{"decision"},
	)

	blocksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trafficward",
			Name:      "blocks_total",
			Help:      "Client suspensions issued, partitioned by triggering signal.",
		},
		[]string{"signal"},
	)

	anomaliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trafficward",
			Name:      "anomalies_total",
			Help:      "Anomaly events emitted, partitioned by signal and level.",
		},
		[]string{"signal", "level"},
	)

	analysisDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "trafficward",
			Name:      "analysis_dropped_total",
			Help:      "Samples dropped because the analysis queue was full.",
		},
	)

	analysisSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "trafficward",
			Name:      "analysis_seconds",
			Help:      "Post-response evaluation latency in seconds.",
			Buckets:   []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.05, 0.1, 0.5},
		},
	)
)

// Register attaches the gate collectors to the supplied registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		gateDecisionsTotal,
		blocksTotal,
		anomaliesTotal,
		analysisDroppedTotal,
		analysisSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveDecision counts one gate admission decision.
func ObserveDecision(decision string) {
	gateDecisionsTotal.WithLabelValues(decision).Inc()
}

// ObserveBlock counts one issued suspension.
func ObserveBlock(signal string) {
	blocksTotal.WithLabelValues(signal).Inc()
}

// ObserveAnomaly counts one emitted anomaly event.
func ObserveAnomaly(signal, level string) {
	anomaliesTotal.WithLabelValues(signal, level).Inc()
}

// ObserveDroppedSample counts one sample shed under queue pressure.
func ObserveDroppedSample() {
	analysisDroppedTotal.Inc()
}

// ObserveAnalysis records one evaluation's duration.
func ObserveAnalysis(duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	analysisSeconds.Observe(duration.Seconds())
}
