package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/observability/prometrics"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
)

func TestRegisterStandardExposesCompensationCounter(t *testing.T) {
	reg := prometrics.New("checkout")
	metrics := RegisterStandard(reg)

	metrics.Counter(observability.MCompensationFailures).Add(1, observability.L("stage", "reserve"))

	n, err := testutil.GatherAndCount(reg.Gatherer(), "checkout_compensation_failures_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUnknownKeysFallBackToNop(t *testing.T) {
	metrics := RegisterStandard(prometrics.New("checkout"))
	assert.NotPanics(t, func() {
		metrics.Counter("missing").Add(1)
		metrics.Histogram("missing").Observe(1)
	})
}

func TestNewFillsNilPorts(t *testing.T) {
	tel := New(nil, nil, nil)
	assert.NotNil(t, tel.Tracer())
	assert.NotNil(t, tel.Logger())
	assert.NotNil(t, tel.Metrics())
}
