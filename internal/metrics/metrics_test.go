package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRegister_Idempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		Register()
		Register()
	})
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(bookings.WithLabelValues("conflict"))
	IncBooking("conflict")
	IncBooking("conflict")
	assert.Equal(t, before+2, testutil.ToFloat64(bookings.WithLabelValues("conflict")))

	before = testutil.ToFloat64(cacheRequests.WithLabelValues("hit"))
	IncCacheRequest("hit")
	assert.Equal(t, before+1, testutil.ToFloat64(cacheRequests.WithLabelValues("hit")))

	before = testutil.ToFloat64(fetchFailures.WithLabelValues("timeout"))
	IncFetchFailure("timeout")
	assert.Equal(t, before+1, testutil.ToFloat64(fetchFailures.WithLabelValues("timeout")))

	before = testutil.ToFloat64(transitions.WithLabelValues("cancelado"))
	IncTransition("cancelado")
	assert.Equal(t, before+1, testutil.ToFloat64(transitions.WithLabelValues("cancelado")))
}
