package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "risk_engine"

// Metrics holds the engine collectors on a private registry so several
// engines (or tests) can coexist in one process. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	tradesTotal     *prometheus.CounterVec
	tradeValue      *prometheus.HistogramVec
	exitsTotal      *prometheus.CounterVec
	rejectionsTotal *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec

	cash           prometheus.Gauge
	portfolioValue prometheus.Gauge
	riskyExposure  prometheus.Gauge
	openPositions  prometheus.Gauge
	realizedPnL    prometheus.Gauge
}

// NewMetrics creates and registers the engine collectors
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		tradesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "trades_total",
				Help:      "Total number of committed trades",
			},
			[]string{"ticker", "action"},
		),
		tradeValue: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "trade_value",
				Help:      "Distribution of committed trade values",
				Buckets:   []float64{100, 250, 500, 750, 1000, 1500, 2000, 5000},
			},
			[]string{"action"},
		),
		exitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "exits_total",
				Help:      "Closed positions by exit reason",
			},
			[]string{"reason"},
		),
		rejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "entry_rejections_total",
				Help:      "Entry candidates that were not admitted, by reason",
			},
			[]string{"reason"},
		),
		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors",
			},
			[]string{"type"},
		),
		cash: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cash",
			Help:      "Uninvested cash",
		}),
		portfolioValue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "portfolio_value",
			Help:      "Cash plus open positions at entry value",
		}),
		riskyExposure: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "risky_exposure_pct",
			Help:      "Momentum and pump exposure as percent of portfolio value",
		}),
		openPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_positions",
			Help:      "Number of open positions",
		}),
		realizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realized_pnl",
			Help:      "Sum of realized profit and loss",
		}),
	}

	m.registry.MustRegister(
		m.tradesTotal,
		m.tradeValue,
		m.exitsTotal,
		m.rejectionsTotal,
		m.errorsTotal,
		m.cash,
		m.portfolioValue,
		m.riskyExposure,
		m.openPositions,
		m.realizedPnL,
	)

	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the Prometheus metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordTrade records a committed trade
func (m *Metrics) RecordTrade(ticker, action string, value float64) {
	if m == nil {
		return
	}
	m.tradesTotal.WithLabelValues(ticker, action).Inc()
	m.tradeValue.WithLabelValues(action).Observe(value)
}

// RecordExit records a closed position
func (m *Metrics) RecordExit(reason string) {
	if m == nil {
		return
	}
	m.exitsTotal.WithLabelValues(reason).Inc()
}

// RecordRejection records an entry that was not admitted
func (m *Metrics) RecordRejection(reason string) {
	if m == nil {
		return
	}
	m.rejectionsTotal.WithLabelValues(reason).Inc()
}

// RecordError records an error metric
func (m *Metrics) RecordError(errorType string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(errorType).Inc()
}

// UpdatePortfolio sets the ledger gauges
func (m *Metrics) UpdatePortfolio(cash, portfolioValue, riskyExposurePct, realizedPnL float64, openPositions int) {
	if m == nil {
		return
	}
	m.cash.Set(cash)
	m.portfolioValue.Set(portfolioValue)
	m.riskyExposure.Set(riskyExposurePct)
	m.realizedPnL.Set(realizedPnL)
	m.openPositions.Set(float64(openPositions))
}
