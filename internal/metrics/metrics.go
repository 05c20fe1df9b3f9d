package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"llm-crypto-trader/internal/types"
)

var (
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "trader_decisions_total", Help: "Decisions produced per asset and action"},
		[]string{"asset", "action", "degraded"},
	)
	InferenceAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "trader_inference_attempts_total", Help: "Inference round-trips by outcome"},
		[]string{"outcome"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "trader_orders_total", Help: "Orders produced by the reconciler"},
		[]string{"asset", "side", "origin"},
	)
	RejectedOrders = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "trader_rejected_orders_total", Help: "Orders rejected by the ledger"},
		[]string{"reason"},
	)
	Diagnostics = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "trader_diagnostics_total", Help: "Signals dropped by the reconciler"},
		[]string{"kind"},
	)
	SkippedAssets = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "trader_skipped_assets_total", Help: "Assets skipped for a step"},
		[]string{"reason"},
	)
	FillsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "trader_fills_total", Help: "Fills booked by the ledger"},
		[]string{"asset", "side", "origin"},
	)
	FilledNotional = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "trader_filled_notional_total", Help: "Quote value of booked fills"},
		[]string{"asset", "side"},
	)
	FillRecordErrors = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "trader_fill_record_errors_total", Help: "Booked fills the journal failed to record"},
	)
	ExecutionErrors = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "trader_execution_errors_total", Help: "Live order placement failures"},
	)
	Equity = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "trader_equity", Help: "Marked portfolio equity in quote currency"},
	)
	Cash = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "trader_cash", Help: "Portfolio cash in quote currency"},
	)
	StepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "trader_step_duration_seconds", Help: "Wall time of one scheduler step", Buckets: prometheus.ExponentialBuckets(0.05, 2, 12)},
	)
)

func init() {
	prometheus.MustRegister(DecisionsTotal, InferenceAttempts, OrdersTotal, RejectedOrders,
		Diagnostics, SkippedAssets, FillsTotal, FilledNotional, FillRecordErrors, ExecutionErrors, Equity, Cash, StepDuration)
}

// Handle registers /metrics on mux.
func Handle(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.Handler())
}

func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	Handle(mux)
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

// FillRecorder counts every booked fill. It satisfies portfolio.FillRecorder.
type FillRecorder struct{}

func (FillRecorder) RecordFill(f types.Fill) error {
	FillsTotal.WithLabelValues(f.Asset, string(f.Side), string(f.Origin)).Inc()
	FilledNotional.WithLabelValues(f.Asset, string(f.Side)).Add(f.Value.Abs().InexactFloat64())
	return nil
}
