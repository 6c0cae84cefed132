// Package telemetry exposes prometheus collectors for the source connector.
package telemetry

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	RecordsConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kafka_source",
		Name:      "records_consumed_total",
		Help:      "Records emitted downstream, per topic partition.",
	}, []string{"topic", "partition"})

	SnapshotsTaken = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kafka_source",
		Name:      "snapshots_total",
		Help:      "Progress snapshots taken for checkpoints.",
	})

	CheckpointsCommitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kafka_source",
		Name:      "checkpoints_committed_total",
		Help:      "Checkpoint completions whose offsets were committed.",
	})

	CommitFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kafka_source",
		Name:      "commit_failures_total",
		Help:      "Offset store commit attempts that failed.",
	})

	PendingCheckpoints = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "kafka_source",
		Name:      "pending_checkpoints",
		Help:      "Snapshots awaiting a completion notification.",
	})
)

// Handler returns the /metrics handler on its own mux, leaving
// http.DefaultServeMux untouched.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Expose serves the prometheus registry on /metrics.
func Expose(port int, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}

	go func() {
		if err := http.ListenAndServe(fmt.Sprintf(":%d", port), Handler()); err != nil {
			logger.Error("Metrics listener failed", zap.Int("port", port), zap.Error(err))
		}
	}()
}
