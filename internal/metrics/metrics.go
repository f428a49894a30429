package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dmd_messages_total",
			Help: "Direct message attempts by outcome",
		},
		[]string{"outcome"}, // sent|failed|cancelled
	)

	RunsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dmd_dispatch_runs_active",
			Help: "Dispatch runs currently in their send loop",
		},
	)

	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dmd_dispatch_runs_total",
			Help: "Dispatch runs by final state",
		},
		[]string{"state"}, // completed|cancelled
	)

	ProgressSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dmd_progress_subscribers",
			Help: "Currently subscribed progress observers",
		},
	)

	ProgressDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dmd_progress_events_dropped_total",
			Help: "Progress events dropped because an observer buffer was full",
		},
	)

	PlatformRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dmd_platform_requests_total",
			Help: "Platform gateway calls by operation and result",
		},
		[]string{"op", "result"}, // ok|error|breaker_open
	)

	RecorderFlushed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dmd_recorder_rows_total",
			Help: "Outcome rows flushed by the recorder worker",
		},
		[]string{"sink"}, // mysql|clickhouse
	)
)

var once sync.Once

// MustRegister registers all collectors once; later calls are no-ops.
func MustRegister(r prometheus.Registerer) {
	once.Do(func() {
		r.MustRegister(
			MessagesTotal,
			RunsActive,
			RunsTotal,
			ProgressSubscribers,
			ProgressDropped,
			PlatformRequests,
			RecorderFlushed,
		)
	})
}
