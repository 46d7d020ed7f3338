package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gate Metrics
var (
	GateAllowTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lostack",
		Subsystem: "gate",
		Name:      "allow_total",
		Help:      "Total number of allowed access decisions",
	})

	GateDenyTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lostack",
		Subsystem: "gate",
		Name:      "deny_total",
		Help:      "Total number of denied access decisions",
	})

	GateCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lostack",
		Subsystem: "gate",
		Name:      "cache_hits_total",
		Help:      "Permission cache hits",
	})

	GateCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lostack",
		Subsystem: "gate",
		Name:      "cache_misses_total",
		Help:      "Permission cache misses",
	})
)

// Session Metrics
var (
	SessionActiveCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "lostack",
		Subsystem: "session",
		Name:      "active_count",
		Help:      "Number of currently tracked container sessions",
	})

	SessionExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lostack",
		Subsystem: "session",
		Name:      "expired_total",
		Help:      "Total number of sessions expired by the idle sweep",
	})
)

// Task Metrics
var (
	TaskInFlightCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "lostack",
		Subsystem: "task",
		Name:      "in_flight_count",
		Help:      "Number of pending or running start/stop tasks",
	})

	TaskConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lostack",
		Subsystem: "task",
		Name:      "conflicts_total",
		Help:      "Total number of task requests rejected for container overlap",
	})

	TaskDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "lostack",
		Subsystem: "task",
		Name:      "duration_seconds",
		Help:      "Wall-clock duration of start/stop tasks",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})

	StreamActiveSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "lostack",
		Subsystem: "stream",
		Name:      "active_subscribers",
		Help:      "Number of currently open progress streams",
	})
)
