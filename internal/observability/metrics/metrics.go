package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mini_airbnb_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mini_airbnb_http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	bookingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mini_airbnb_booking_duration_seconds",
		Help:    "Duration of reservation create attempts",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"})

	cancellations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mini_airbnb_cancellations_total",
		Help: "Count of reservation cancellations by result",
	}, []string{"result"})

	activeReservations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mini_airbnb_active_reservations",
		Help: "Number of active reservations in the store",
	})

	idempotentReplays = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mini_airbnb_idempotent_replays_total",
		Help: "Bookings answered from a previously stored idempotency key",
	})
)

// ObserveHTTPRequest records an HTTP request metric
func ObserveHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// ObserveBooking records the duration of a booking attempt with a result label
// (created, invalid, conflict, unavailable, not_found, forbidden, error).
func ObserveBooking(result string, duration time.Duration) {
	bookingDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// ObserveCancellation increments the cancellation counter for a result.
func ObserveCancellation(result string) {
	cancellations.WithLabelValues(result).Inc()
}

// IncrementActive increments the active reservation gauge.
func IncrementActive() {
	activeReservations.Inc()
}

// DecrementActive decrements the active reservation gauge.
func DecrementActive() {
	activeReservations.Dec()
}

// SetActive sets the active reservation gauge to a specific count.
func SetActive(count int) {
	if count < 0 {
		count = 0
	}
	activeReservations.Set(float64(count))
}

// ObserveIdempotentReplay counts a replayed booking response
func ObserveIdempotentReplay() {
	idempotentReplays.Inc()
}
