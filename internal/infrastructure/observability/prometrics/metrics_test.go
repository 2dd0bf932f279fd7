package prometrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
)

func TestCounterRegistersOnce(t *testing.T) {
	r := New("test").(*registry)

	c1 := r.Counter("compensations_total", "help", "outcome")
	c2 := r.Counter("compensations_total", "help", "outcome")
	c1.Add(1, observability.L("outcome", "ok"))
	c2.Bind(observability.L("outcome", "ok")).Add(2)

	v, ok := r.counters.Load("compensations_total")
	require.True(t, ok)
	assert.Equal(t, 3.0, testutil.ToFloat64(v.(*prometheus.CounterVec).WithLabelValues("ok")))
}

func TestHistogramIsGathered(t *testing.T) {
	r := New("test")
	r.Histogram("latency_seconds", "help", prometheus.DefBuckets, "use_case").
		Observe(0.2, observability.L("use_case", "VerifyPayment"))

	n, err := testutil.GatherAndCount(r.Gatherer(), "test_latency_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
