package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "clinic_availability"

var (
	once sync.Once

	cacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Availability cache lookups by result (hit, miss, shared).",
		},
		[]string{"result"},
	)

	fetchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_failures_total",
			Help:      "Availability reads that fell back to an empty result, by reason.",
		},
		[]string{"reason"},
	)

	bookings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_total",
			Help:      "Booking attempts by outcome.",
		},
		[]string{"result"},
	)

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "appointment_transitions_total",
			Help:      "Appointment status changes by target status.",
		},
		[]string{"to"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(cacheRequests, fetchFailures, bookings, transitions)
	})
}

func IncCacheRequest(result string) {
	cacheRequests.WithLabelValues(result).Inc()
}

func IncFetchFailure(reason string) {
	fetchFailures.WithLabelValues(reason).Inc()
}

func IncBooking(result string) {
	bookings.WithLabelValues(result).Inc()
}

func IncTransition(to string) {
	transitions.WithLabelValues(to).Inc()
}
