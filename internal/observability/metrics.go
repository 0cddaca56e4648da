package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics of the margin health service.
type Metrics struct {
	// --- Evaluation ---
	Evaluations         *prometheus.CounterVec
	EvaluationDuration  *prometheus.HistogramVec
	BuildErrors         *prometheus.CounterVec
	ExcludedInstruments *prometheus.CounterVec

	// --- Oracle ingestion ---
	OracleUpdates  *prometheus.CounterVec
	OracleGaps     prometheus.Counter
	OracleBookSize prometheus.Gauge

	// --- Sweep ---
	SweepDuration        prometheus.Histogram
	SweepAccounts        prometheus.Gauge
	LiquidatableAccounts prometheus.Gauge
	BankruptAccounts     prometheus.Gauge

	// --- Alerts ---
	AlertsPublished *prometheus.CounterVec
	AlertDrops      prometheus.Counter

	// --- Persistence ---
	ReportsWritten prometheus.Counter
	PersistErrors  *prometheus.CounterVec
	RecordsLoaded  *prometheus.GaugeVec

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	evalBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.0025, 0.005, 0.01,
	}

	return &Metrics{
		Evaluations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_evaluations_total",
			Help: "Health evaluations by health type and outcome",
		}, []string{"health_type", "outcome"}),

		EvaluationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "margin_evaluation_duration_seconds",
			Help:    "Time to build a health cache and evaluate it",
			Buckets: evalBuckets,
		}, []string{"leniency"}),

		BuildErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_build_errors_total",
			Help: "Health cache build failures by error kind",
		}, []string{"kind"}),

		ExcludedInstruments: f.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_excluded_instruments_total",
			Help: "Instruments excluded by lenient builds",
		}, []string{"instrument"}),

		OracleUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_oracle_updates_total",
			Help: "Oracle price updates by result",
		}, []string{"result"}),

		OracleGaps: f.NewCounter(prometheus.CounterOpts{
			Name: "margin_oracle_sequence_gaps_total",
			Help: "Oracle updates that skipped sequence numbers",
		}),

		OracleBookSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "margin_oracle_book_size",
			Help: "Oracles with a live price",
		}),

		SweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "margin_sweep_duration_seconds",
			Help:    "Time to evaluate every account of the group",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}),

		SweepAccounts: f.NewGauge(prometheus.GaugeOpts{
			Name: "margin_sweep_accounts",
			Help: "Accounts evaluated by the last sweep",
		}),

		LiquidatableAccounts: f.NewGauge(prometheus.GaugeOpts{
			Name: "margin_liquidatable_accounts",
			Help: "Liquidatable accounts found by the last sweep",
		}),

		BankruptAccounts: f.NewGauge(prometheus.GaugeOpts{
			Name: "margin_bankrupt_accounts",
			Help: "Bankrupt accounts found by the last sweep",
		}),

		AlertsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_alerts_published_total",
			Help: "Health alerts published",
		}, []string{"kind"}),

		AlertDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "margin_alert_drops_total",
			Help: "Alerts dropped because the publish queue was full",
		}),

		ReportsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "margin_reports_written_total",
			Help: "Health reports persisted",
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"operation"}),

		RecordsLoaded: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "margin_records_loaded",
			Help: "Records loaded from Postgres by kind",
		}, []string{"kind"}),

		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "margin_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}
