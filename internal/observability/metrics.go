package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the precog ledger service.
type Metrics struct {
	// --- Engine ---
	OpsApplied  *prometheus.CounterVec
	OpsRejected *prometheus.CounterVec
	OpDuration  *prometheus.HistogramVec
	Sequence    prometheus.Gauge

	// --- Pools ---
	PoolLiquidity         *prometheus.GaugeVec
	PoolTaken             *prometheus.GaugeVec
	PoolPendingWithdrawal *prometheus.GaugeVec
	InvestmentCycleID     *prometheus.GaugeVec
	ProfitCycleID         *prometheus.GaugeVec
	CyclesRolledOver      *prometheus.CounterVec

	// --- Profit ---
	ProfitRecorded    *prometheus.CounterVec
	ProfitClaimed     *prometheus.CounterVec
	SettleBacklog     *prometheus.HistogramVec
	UnclaimableProfit *prometheus.CounterVec

	// --- Channels & Backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	ProjectionDrops     prometheus.Counter
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Persistence ---
	PersistRecordsWritten prometheus.Counter
	PersistBatchSize      prometheus.Histogram
	PersistBatchDur       prometheus.Histogram
	PersistErrors         *prometheus.CounterVec
	PersistRetry          prometheus.Counter
	PersistLastSequence   prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge

	// --- HTTP API ---
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	opBuckets := []float64{
		0.000005, 0.00001, 0.000025, 0.00005, 0.0001,
		0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		OpsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "precog_ops_applied_total",
			Help: "State-changing operations successfully applied",
		}, []string{"op"}),

		OpsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "precog_ops_rejected_total",
			Help: "Operations rejected (validation, window, role)",
		}, []string{"op", "reason"}),

		OpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "precog_op_duration_seconds",
			Help:    "Time to apply a single operation in the engine",
			Buckets: opBuckets,
		}, []string{"op"}),

		Sequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "precog_sequence",
			Help: "Current audit record sequence number",
		}),

		PoolLiquidity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "precog_pool_liquidity",
			Help: "Pool principal held for investors (smallest unit)",
		}, []string{"asset"}),

		PoolTaken: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "precog_pool_taken",
			Help: "Principal currently deployed off-ledger",
		}, []string{"asset"}),

		PoolPendingWithdrawal: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "precog_pool_pending_withdrawal",
			Help: "Principal locked for unclaimed withdrawal intents",
		}, []string{"asset"}),

		InvestmentCycleID: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "precog_investment_cycle_id",
			Help: "Current investment cycle id per pool",
		}, []string{"asset"}),

		ProfitCycleID: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "precog_profit_cycle_id",
			Help: "Current profit cycle id per pool",
		}, []string{"asset"}),

		CyclesRolledOver: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "precog_cycles_rolled_over_total",
			Help: "Trading cycles closed and frozen",
		}, []string{"asset"}),

		ProfitRecorded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "precog_profit_recorded_total",
			Help: "Profit records written by the middleware",
		}, []string{"asset"}),

		ProfitClaimed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "precog_profit_claimed_total",
			Help: "Reward amount claimed by accounts",
		}, []string{"asset"}),

		SettleBacklog: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "precog_settle_backlog_cycles",
			Help:    "Unsettled profit cycles walked per settle call",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
		}, []string{"asset"}),

		UnclaimableProfit: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "precog_unclaimable_profit_total",
			Help: "Profit recorded for zero-unit cycles, routed to treasury",
		}, []string{"asset"}),

		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "precog_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "precog_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "precog_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		ProjectionDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "precog_projection_drops_total",
			Help: "Records dropped due to full projection channel",
		}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "precog_publish_drops_total",
			Help: "Records dropped due to full publish channel",
		}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "precog_persist_backpressure_total",
			Help: "Times the engine blocked on the persist channel",
		}),

		PersistRecordsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "precog_persist_records_written_total",
			Help: "Audit records written to Postgres",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "precog_persist_batch_size",
			Help:    "Records per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "precog_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "precog_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "precog_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "precog_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "precog_snapshot_taken_total",
			Help: "State snapshots created",
		}),

		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "precog_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),

		SnapshotSizeBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "precog_snapshot_size_bytes",
			Help: "Last snapshot size",
		}),

		SnapshotLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "precog_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "precog_http_requests_total",
			Help: "HTTP API requests",
		}, []string{"route", "status"}),

		HTTPDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "precog_http_request_duration_seconds",
			Help:    "HTTP API latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"route"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
