// Package observability exposes Prometheus metrics for the detection
// engine, grounded on itskum47-FluxForge's control_plane/observability
// package: a flat var block of promauto-registered collectors, one file,
// no wrapper abstraction.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueueDepth tracks pending detection jobs by queue state.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "detection_queue_depth",
		Help: "Current number of detection jobs in the queue, by state",
	}, []string{"state"}) // waiting, active

	// GateSaturation tracks concurrency-gate utilization.
	GateSaturation = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "detection_gate_saturation",
		Help: "Ratio of held slots to configured limit (0-1), by scope",
	}, []string{"scope"}) // global, channel

	// GateAcquireWaitSeconds tracks time spent retrying gate acquisition.
	GateAcquireWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "detection_gate_acquire_wait_seconds",
		Help:    "Time spent waiting to acquire the concurrency gate",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	// ProbeLatencySeconds tracks probe round-trip latency per endpoint family
	// and outcome.
	ProbeLatencySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "detection_probe_latency_seconds",
		Help:    "Probe round-trip latency by endpoint family and outcome",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"endpoint", "status"}) // status: success, fail

	// ProbeTotal counts completed probes by endpoint family and outcome.
	ProbeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "detection_probe_total",
		Help: "Total completed probes by endpoint family and outcome",
	}, []string{"endpoint", "status"})

	// WorkerPoolSize tracks the configured worker concurrency.
	WorkerPoolSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "detection_worker_pool_size",
		Help: "Configured number of worker goroutines",
	})

	// PublishFailures counts progress-bus publish failures (best-effort,
	// never fails the job).
	PublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "detection_publish_failures_total",
		Help: "Failed progress-bus publish attempts",
	}, []string{"reason"})

	// SchedulerNextFireSeconds tracks seconds until the scheduler's next
	// scheduled fire.
	SchedulerNextFireSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "detection_scheduler_next_fire_seconds",
		Help: "Seconds until the scheduler's next scheduled detection run",
	})

	// SchedulerFiredTotal counts scheduler-triggered detection runs.
	SchedulerFiredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "detection_scheduler_fired_total",
		Help: "Total scheduler-triggered detection runs, by outcome",
	}, []string{"outcome"}) // ok, error

	// ModelSyncResults counts model-sync outcomes by change kind.
	ModelSyncResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "detection_model_sync_total",
		Help: "Total model-sync reconciliations, by change kind",
	}, []string{"kind"}) // added, removed

	// WSConnectedClients tracks the number of live progress WebSocket
	// connections.
	WSConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "detection_ws_connected_clients",
		Help: "Current number of connected progress WebSocket clients",
	})
)
