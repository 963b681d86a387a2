// Package metrics exposes engine counters in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alejandrodnm/ictbot/internal/domain"
	"github.com/alejandrodnm/ictbot/internal/domain/strategy"
)

// Recorder holds the engine metrics on its own registry so several recorders
// can coexist in tests.
type Recorder struct {
	registry *prometheus.Registry

	signals     *prometheus.CounterVec
	trades      *prometheus.CounterVec
	transitions *prometheus.CounterVec
	resets      *prometheus.CounterVec
	rejections  *prometheus.CounterVec
	fetchErrors *prometheus.CounterVec
	balance     *prometheus.GaugeVec
	openPos     prometheus.Gauge
	latency     *prometheus.HistogramVec
}

// New creates a Recorder with the Go and process collectors registered.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		signals: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ictbot_signals_total",
				Help: "Signals emitted by the pattern machine",
			},
			[]string{"strategy", "symbol", "direction"},
		),
		trades: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ictbot_trades_total",
				Help: "Trades closed, by outcome",
			},
			[]string{"strategy", "outcome"},
		),
		transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ictbot_stage_transitions_total",
				Help: "Stage transitions entered by the pattern machine",
			},
			[]string{"strategy", "to"},
		),
		resets: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ictbot_stage_resets_total",
				Help: "Pattern machine resets, by reason",
			},
			[]string{"strategy", "reason"},
		),
		rejections: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ictbot_rejected_signals_total",
				Help: "Signals refused by the paper executor",
			},
			[]string{"strategy"},
		),
		fetchErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ictbot_fetch_errors_total",
				Help: "Market data fetch failures",
			},
			[]string{"symbol"},
		),
		balance: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ictbot_balance",
				Help: "Current simulated balance",
			},
			[]string{"mode"},
		),
		openPos: f.NewGauge(prometheus.GaugeOpts{
			Name: "ictbot_open_positions",
			Help: "Open paper positions",
		}),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ictbot_operation_duration_seconds",
				Help:    "Duration of engine operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry for scraping.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// RecordSignal counts an emitted signal.
func (r *Recorder) RecordSignal(sig domain.Signal) {
	r.signals.WithLabelValues(sig.Strategy, sig.Symbol, string(sig.Direction)).Inc()
}

// RecordTrade counts a closed trade.
func (r *Recorder) RecordTrade(strategyName string, outcome domain.Outcome) {
	r.trades.WithLabelValues(strategyName, string(outcome)).Inc()
}

// RecordRejection counts a signal the executor refused.
func (r *Recorder) RecordRejection(strategyName string) {
	r.rejections.WithLabelValues(strategyName).Inc()
}

// RecordFetchError counts a failed market data fetch.
func (r *Recorder) RecordFetchError(symbol string) {
	r.fetchErrors.WithLabelValues(symbol).Inc()
}

// SetBalance records the current balance for a mode (replay, paper).
func (r *Recorder) SetBalance(mode string, balance float64) {
	r.balance.WithLabelValues(mode).Set(balance)
}

// SetOpenPositions records how many paper positions are open.
func (r *Recorder) SetOpenPositions(n int) {
	r.openPos.Set(float64(n))
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Observer returns a transition observer for one strategy. It only touches
// counters, so it is safe to call with the machine lock held.
func (r *Recorder) Observer(strategyName string) strategy.Observer {
	return func(t strategy.Transition) {
		r.transitions.WithLabelValues(strategyName, t.To.String()).Inc()
		if t.IsReset() {
			r.resets.WithLabelValues(strategyName, t.Reason).Inc()
		}
	}
}
