package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the engine daemon.
type Metrics struct {
	// --- Core processing ---
	CoreActionsApplied  *prometheus.CounterVec
	CoreActionsRejected *prometheus.CounterVec
	CoreActionDuration  *prometheus.HistogramVec
	CoreJournals        prometheus.Counter
	CoreSequence        prometheus.Gauge

	// --- Idempotency & ordering ---
	IdempotencyDuplicates *prometheus.CounterVec
	SequenceGaps          *prometheus.CounterVec
	SequenceOutOfOrder    *prometheus.CounterVec

	// --- Channels & backpressure ---
	ProjectionDrops prometheus.Counter
	PublishDrops    prometheus.Counter

	// --- Domain ---
	FundingSettled       *prometheus.CounterVec
	FundingRate          *prometheus.GaugeVec
	Liquidations         *prometheus.CounterVec
	BadDebtPrepaid       *prometheus.GaugeVec
	InsuranceFundBalance prometheus.Gauge

	// --- Persistence ---
	PersistActionsWritten  prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchDur        prometheus.Histogram
	PersistErrors          prometheus.Counter
	PersistRetries         prometheus.Counter
	PersistLastSequence    prometheus.Gauge

	// --- Snapshots ---
	SnapshotTaken    prometheus.Counter
	SnapshotDuration prometheus.Histogram
	SnapshotLastSeq  prometheus.Gauge

	// --- Projections ---
	ProjectionApplied      prometheus.Counter
	ProjectionLastSequence prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	persistBuckets := []float64{
		0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25,
	}

	return &Metrics{
		CoreActionsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_core_actions_applied_total",
			Help: "Actions successfully applied by the core",
		}, []string{"action_type"}),

		CoreActionsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_core_actions_rejected_total",
			Help: "Actions rejected (dedup, gap, validation)",
		}, []string{"action_type", "reason"}),

		CoreActionDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perp_core_action_apply_duration_seconds",
			Help:    "Time to apply a single action in the core",
			Buckets: latencyBuckets,
		}, []string{"action_type"}),

		CoreJournals: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perp_core_journal_entries_total",
			Help: "Ledger journal entries generated",
		}),

		CoreSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "perp_core_sequence",
			Help: "Current global action sequence",
		}),

		IdempotencyDuplicates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_idempotency_duplicates_total",
			Help: "Duplicate actions detected",
		}, []string{"action_type", "tier"}),

		SequenceGaps: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_sequence_gaps_total",
			Help: "Source sequence gaps detected",
		}, []string{"partition"}),

		SequenceOutOfOrder: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_sequence_out_of_order_total",
			Help: "Out-of-order source sequences detected",
		}, []string{"partition"}),

		ProjectionDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perp_projection_drops_total",
			Help: "Core outputs dropped on a full projection channel",
		}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perp_publish_drops_total",
			Help: "Outbound events dropped on a full publish channel",
		}),

		FundingSettled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_funding_settlements_total",
			Help: "Funding settlements executed",
		}, []string{"curve"}),

		FundingRate: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_funding_rate",
			Help: "Latest decimal-scaled funding rate per curve",
		}, []string{"curve"}),

		Liquidations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_liquidations_total",
			Help: "Liquidations executed",
		}, []string{"curve"}),

		BadDebtPrepaid: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_bad_debt_prepaid",
			Help: "Prepaid bad debt outstanding per curve",
		}, []string{"curve"}),

		InsuranceFundBalance: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "perp_insurance_fund_balance",
			Help: "Insurance fund collateral balance",
		}),

		PersistActionsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perp_persist_actions_written_total",
			Help: "Action rows written to the event log",
		}),

		PersistJournalsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perp_persist_journals_written_total",
			Help: "Journal rows written to the event log",
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "perp_persist_batch_duration_seconds",
			Help:    "Time to flush one persistence batch",
			Buckets: persistBuckets,
		}),

		PersistErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perp_persist_errors_total",
			Help: "Persistence flush errors (retried)",
		}),

		PersistRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perp_persist_retries_total",
			Help: "Persistence flush retry attempts",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "perp_persist_last_sequence",
			Help: "Highest sequence flushed to the event log",
		}),

		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perp_snapshots_taken_total",
			Help: "State snapshots persisted",
		}),

		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "perp_snapshot_duration_seconds",
			Help:    "Time to capture and persist a snapshot",
			Buckets: persistBuckets,
		}),

		SnapshotLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "perp_snapshot_last_sequence",
			Help: "Sequence of the latest persisted snapshot",
		}),

		ProjectionApplied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perp_projection_applied_total",
			Help: "Core outputs applied to read projections",
		}),

		ProjectionLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "perp_projection_last_sequence",
			Help: "Projection watermark sequence",
		}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_query_requests_total",
			Help: "Query API requests served",
		}, []string{"method"}),

		QueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_query_errors_total",
			Help: "Query API requests failed",
		}, []string{"method"}),
	}
}
