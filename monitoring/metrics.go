package monitoring

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	reserveAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inventory_reserve_attempts_total",
			Help: "Inventory reserve attempts by result",
		},
		[]string{"result"},
	)

	settlements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_settlements_total",
			Help: "Order settlement outcomes",
		},
		[]string{"result"},
	)

	sweepRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reservation_sweep_runs_total",
			Help: "Completed expiry sweep runs",
		},
	)

	expiredReservations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reservations_expired_total",
			Help: "Reservations released by the expiry sweep",
		},
	)

	refundOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refunds_total",
			Help: "Refund processing outcomes",
		},
		[]string{"status"},
	)

	providerCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_provider_call_seconds",
			Help:    "Duration of payment provider calls",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"operation"},
	)
)

func TrackReserve(result string) {
	reserveAttempts.WithLabelValues(result).Inc()
}

func TrackSettlement(result string) {
	settlements.WithLabelValues(result).Inc()
}

func TrackSweep(expired int) {
	sweepRuns.Inc()
	expiredReservations.Add(float64(expired))
}

func TrackRefund(status string) {
	refundOutcomes.WithLabelValues(status).Inc()
}

func TrackProviderCall(operation string, d time.Duration) {
	providerCallDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// Serve exposes /metrics on its own listener so the scrape endpoint stays off
// the public API port.
func Serve(port string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		if err := http.ListenAndServe(":"+port, mux); err != nil {
			slog.Error("metrics server stopped", "error", err)
		}
	}()
}
