package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus instruments of the risk engine.
type Metrics struct {
	// Pipeline
	EventsPublished  *prometheus.CounterVec
	EventsProcessed  *prometheus.CounterVec
	EventsDropped    *prometheus.CounterVec
	ParseErrors      *prometheus.CounterVec
	StageDuration    *prometheus.HistogramVec
	RingUtilization  *prometheus.GaugeVec
	ThrottleSkips    *prometheus.CounterVec
	BackpressureSkip prometheus.Counter

	// Risk computation
	CascadeCalcDuration prometheus.Histogram
	CascadeRiskLevel    *prometheus.GaugeVec
	MonteCarloDuration  prometheus.Histogram
	MonteCarloPaths     prometheus.Counter
	LiquidationsSeen    *prometheus.CounterVec

	// Journal / persistence
	JournalBatchSize   prometheus.Histogram
	JournalWriteErrors prometheus.Counter
	ReportsPersisted   prometheus.Counter
	ReportPersistDrops prometheus.Counter

	// Broadcast
	ReportsBroadcast *prometheus.CounterVec
	BroadcastErrors  prometheus.Counter

	// Feed
	FeedMessages   *prometheus.CounterVec
	FeedReconnects prometheus.Counter
	PollCycles     *prometheus.CounterVec

	// Query API
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers every instrument.
func NewMetrics() *Metrics {
	stageBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}
	calcBuckets := []float64{
		0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005,
		0.01, 0.025, 0.05, 0.1, 0.25, 0.5,
	}

	return &Metrics{
		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "risk_events_published_total",
			Help: "Events published onto the ingest ring",
		}, []string{"event_type"}),

		EventsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "risk_events_processed_total",
			Help: "Events completed per pipeline stage",
		}, []string{"stage", "event_type"}),

		EventsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "risk_events_dropped_total",
			Help: "Events dropped on stage error or panic",
		}, []string{"stage"}),

		ParseErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "risk_parse_errors_total",
			Help: "Payloads the parse stage could not decode",
		}, []string{"event_type"}),

		StageDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "risk_stage_duration_seconds",
			Help:    "Per-event processing time per stage",
			Buckets: stageBuckets,
		}, []string{"stage"}),

		RingUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "risk_ring_utilization",
			Help: "Fraction of ring slots published but not yet consumed",
		}, []string{"ring"}),

		ThrottleSkips: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "risk_throttle_skips_total",
			Help: "Risk recalculations skipped by the per-symbol throttle",
		}, []string{"symbol"}),

		BackpressureSkip: promauto.NewCounter(prometheus.CounterOpts{
			Name: "risk_backpressure_skips_total",
			Help: "Poller cycles skipped due to ring backpressure",
		}),

		CascadeCalcDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "risk_cascade_calc_duration_seconds",
			Help:    "Full cascade analysis time",
			Buckets: calcBuckets,
		}),

		CascadeRiskLevel: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "risk_cascade_level",
			Help: "Latest cascade risk level (0=low 1=medium 2=high 3=critical)",
		}, []string{"symbol"}),

		MonteCarloDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "risk_montecarlo_duration_seconds",
			Help:    "Monte Carlo simulation time",
			Buckets: calcBuckets,
		}),

		MonteCarloPaths: promauto.NewCounter(prometheus.CounterOpts{
			Name: "risk_montecarlo_paths_total",
			Help: "Simulated paths",
		}),

		LiquidationsSeen: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "risk_liquidations_seen_total",
			Help: "Forced-order prints recorded",
		}, []string{"symbol"}),

		JournalBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "risk_journal_batch_size",
			Help:    "Rows per journal flush",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
		}),

		JournalWriteErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "risk_journal_write_errors_total",
			Help: "Failed journal flushes (logged and swallowed)",
		}),

		ReportsPersisted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "risk_reports_persisted_total",
			Help: "Risk reports written by the async worker",
		}),

		ReportPersistDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "risk_report_persist_drops_total",
			Help: "Risk reports dropped because the persist channel was full",
		}),

		ReportsBroadcast: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "risk_reports_broadcast_total",
			Help: "Reports published to the outbound sink",
		}, []string{"kind"}),

		BroadcastErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "risk_broadcast_errors_total",
			Help: "Failed outbound publishes",
		}),

		FeedMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "risk_feed_messages_total",
			Help: "Messages received per feed stream",
		}, []string{"stream"}),

		FeedReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "risk_feed_reconnects_total",
			Help: "Feed reconnect attempts",
		}),

		PollCycles: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "risk_poll_cycles_total",
			Help: "Completed poller cycles",
		}, []string{"poller"}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "risk_query_requests_total",
			Help: "Query API requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "risk_query_duration_seconds",
			Help:    "Query API latency",
			Buckets: calcBuckets,
		}, []string{"endpoint"}),
	}
}

// RiskLevelValue maps a risk level name to its gauge encoding.
func RiskLevelValue(level string) float64 {
	switch level {
	case "CRITICAL":
		return 3
	case "HIGH":
		return 2
	case "MEDIUM":
		return 1
	default:
		return 0
	}
}
