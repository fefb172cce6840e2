// Package metrics exposes the bot's Prometheus instruments.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ticks_total", Help: "Count of market ticks ingested"},
		[]string{"symbol"},
	)
	CandlesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "candles_total", Help: "Closed candles emitted by the aggregator"},
		[]string{"symbol", "timeframe"},
	)
	DroppedTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dropped_ticks_total", Help: "Ticks discarded as invalid or too late"},
		[]string{"symbol"},
	)
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signals_total", Help: "Entry signals emitted by strategy machines"},
		[]string{"symbol", "strategy", "direction"},
	)
	SignalRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signal_rejections_total", Help: "Signals discarded by guard or risk"},
		[]string{"symbol", "reason"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orders_total", Help: "Orders submitted to the broker"},
		[]string{"symbol", "direction", "status"},
	)
	PositionsClosedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "positions_closed_total", Help: "Positions closed by exit reason"},
		[]string{"symbol", "reason", "outcome"},
	)
	OpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "open_positions", Help: "Currently open positions"},
	)
)

func init() {
	prometheus.MustRegister(
		TicksTotal,
		CandlesTotal,
		DroppedTicksTotal,
		SignalsTotal,
		SignalRejectionsTotal,
		OrdersTotal,
		PositionsClosedTotal,
		OpenPositions,
	)
}

// Serve exposes /metrics on addr in a background goroutine.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
