// Package metrics exposes Prometheus instrumentation for both control
// loops on /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rabbitreels/autoscaler/pkg/models"
)

var (
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "autoscaler_queue_depth",
		Help: "Pending jobs in the work queue at the last sample.",
	})
	activeWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "autoscaler_active_workers",
		Help: "Workers counted toward fleet size (starting, idle or busy).",
	})
	healthyWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "autoscaler_healthy_workers",
		Help: "Active workers with a fresh heartbeat.",
	})
	targetWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "autoscaler_target_workers",
		Help: "Worker count recommended by the last snapshot.",
	})
	snapshotsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autoscaler_snapshots_total",
		Help: "Snapshots published by the monitor, by freshness.",
	}, []string{"status"})
	scalingActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autoscaler_scaling_actions_total",
		Help: "Executed scaling actions, by direction.",
	}, []string{"action"})
	actionFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autoscaler_action_failures_total",
		Help: "Fleet mutations rejected by the orchestration backend.",
	})
	heartbeatTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autoscaler_heartbeat_timeouts_total",
		Help: "Workers presumed dead after missing heartbeats.",
	})
	forcedTerminationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autoscaler_forced_terminations_total",
		Help: "Draining workers killed after the graceful deadline.",
	})
	cycleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "autoscaler_cycle_duration_seconds",
		Help:    "Control loop cycle duration.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"loop"})
)

func ObserveSnapshot(snap *models.MetricsSnapshot) {
	status := "fresh"
	if snap.Stale {
		status = "stale"
	} else {
		queueDepth.Set(float64(snap.QueueDepth))
		activeWorkers.Set(float64(snap.ActiveWorkers))
		healthyWorkers.Set(float64(snap.HealthyWorkers))
		targetWorkers.Set(float64(snap.TargetWorkers))
	}
	snapshotsTotal.WithLabelValues(status).Inc()
}

func RecordScalingAction(action models.ScalingAction) {
	scalingActionsTotal.WithLabelValues(string(action)).Inc()
}

func RecordActionFailure() {
	actionFailuresTotal.Inc()
}

func RecordHeartbeatTimeout() {
	heartbeatTimeoutsTotal.Inc()
}

func RecordForcedTermination() {
	forcedTerminationsTotal.Inc()
}

func ObserveCycle(loop string, d time.Duration) {
	cycleDuration.WithLabelValues(loop).Observe(d.Seconds())
}

func Handler() http.Handler {
	return promhttp.Handler()
}
