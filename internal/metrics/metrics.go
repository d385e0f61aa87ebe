// Package metrics exposes Prometheus collectors for bookings, settlement
// and rollover, and serves them over HTTP.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"venue-booking-bot/internal/pkg/apperr"
)

var (
	// Operations counts venue operations by name and outcome.
	Operations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "booking",
		Name:      "operations_total",
		Help:      "Venue operations by name and result.",
	}, []string{"op", "result"})

	// Payments counts settled payments by method.
	Payments = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "booking",
		Name:      "payments_total",
		Help:      "Settled payments by method.",
	}, []string{"method"})

	// SettlementSessions is the number of open settlement sessions.
	SettlementSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "booking",
		Name:      "settlement_sessions",
		Help:      "Open settlement sessions.",
	})

	// Rollovers counts day rollovers by result.
	Rollovers = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "booking",
		Name:      "rollovers_total",
		Help:      "Day rollovers by result.",
	}, []string{"result"})

	// RolloverDuration observes how long a rollover run takes.
	RolloverDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "booking",
		Name:      "rollover_duration_seconds",
		Help:      "Duration of day rollover runs.",
		Buckets:   prometheus.DefBuckets,
	})
)

// Result maps an error to a low-cardinality label.
func Result(err error) string {
	if err == nil {
		return "ok"
	}
	switch apperr.Kind(err) {
	case apperr.ErrValidation:
		return "invalid"
	case apperr.ErrPermission:
		return "denied"
	case apperr.ErrNotFound:
		return "not_found"
	case apperr.ErrConflict:
		return "conflict"
	case apperr.ErrUnavailable:
		return "unavailable"
	case apperr.ErrRetryable:
		return "retryable"
	}
	return "error"
}

// Observe counts one operation outcome.
func Observe(op string, err error) {
	Operations.WithLabelValues(op, Result(err)).Inc()
}

// Serve exposes /metrics and /healthz on addr until ctx is done.
// health may be nil.
func Serve(ctx context.Context, addr string, health func(context.Context) error) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if health != nil {
			if err := health(r.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("Metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
