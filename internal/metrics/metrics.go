package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sellflux"

// Metrics 卖出流程指标. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	SellsTotal        *prometheus.CounterVec
	SellDuration      prometheus.Histogram
	SellProfitUSD     prometheus.Histogram
	RapidDumpsTotal   prometheus.Counter
	SyncAttemptsTotal prometheus.Counter
	SyncResultsTotal  *prometheus.CounterVec
	JobsTotal         *prometheus.CounterVec
	ActiveJobs        prometheus.Gauge
	DeliveriesTotal   *prometheus.CounterVec
	ScanCandidates    *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		SellsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sells_total",
			Help:      "Sell instructions handled, by outcome",
		}, []string{"outcome"}),
		SellDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sell_duration_seconds",
			Help:      "End-to-end sell execution duration",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		SellProfitUSD: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sell_profit_usd",
			Help:      "Realized profit per simulated sell in USD",
			Buckets:   []float64{-1000, -100, -10, 0, 10, 100, 1000},
		}),
		RapidDumpsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rapid_dumps_total",
			Help:      "Sells flagged as rapid dumps",
		}),
		SyncAttemptsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_sync_attempts_total",
			Help:      "HTTP attempts made to the backend of record",
		}),
		SyncResultsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_sync_results_total",
			Help:      "Backend sync outcomes",
		}, []string{"result"}),
		JobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Remote simulation job operations, by operation and result",
		}, []string{"op", "result"}),
		ActiveJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_jobs",
			Help:      "Tokens currently in a sell workflow",
		}),
		DeliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_deliveries_total",
			Help:      "Queue deliveries, by outcome",
		}, []string{"outcome"}),
		ScanCandidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_candidates_total",
			Help:      "Tokens evaluated by the scan loop, by outcome",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.SellsTotal,
		m.SellDuration,
		m.SellProfitUSD,
		m.RapidDumpsTotal,
		m.SyncAttemptsTotal,
		m.SyncResultsTotal,
		m.JobsTotal,
		m.ActiveJobs,
		m.DeliveriesTotal,
		m.ScanCandidates,
	)
	return m
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveSell(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.SellsTotal.WithLabelValues(outcome).Inc()
	m.SellDuration.Observe(seconds)
}

func (m *Metrics) ObserveProfit(profitUSD float64, rapidDump bool) {
	if m == nil {
		return
	}
	m.SellProfitUSD.Observe(profitUSD)
	if rapidDump {
		m.RapidDumpsTotal.Inc()
	}
}

func (m *Metrics) ObserveSyncAttempt() {
	if m == nil {
		return
	}
	m.SyncAttemptsTotal.Inc()
}

func (m *Metrics) ObserveSyncResult(result string) {
	if m == nil {
		return
	}
	m.SyncResultsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveJob(op, result string) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(op, result).Inc()
}

func (m *Metrics) SetActiveJobs(n int) {
	if m == nil {
		return
	}
	m.ActiveJobs.Set(float64(n))
}

func (m *Metrics) ObserveDelivery(outcome string) {
	if m == nil {
		return
	}
	m.DeliveriesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveCandidate(outcome string) {
	if m == nil {
		return
	}
	m.ScanCandidates.WithLabelValues(outcome).Inc()
}
