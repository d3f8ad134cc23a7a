package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveOnboardIncrements(t *testing.T) {
	before := testutil.ToFloat64(onboardResults.WithLabelValues("denied", "lock_busy"))
	ObserveOnboard("denied", "lock_busy")
	assert.Equal(t, before+1, testutil.ToFloat64(onboardResults.WithLabelValues("denied", "lock_busy")))
}

func TestObserveSweepAdds(t *testing.T) {
	before := testutil.ToFloat64(sweepRevoked)
	ObserveSweep(3)
	ObserveSweep(0)
	assert.Equal(t, before+3, testutil.ToFloat64(sweepRevoked))
}
