package logctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
)

type recordingLogger struct {
	observability.Logger
	fields []observability.Field
}

func (r *recordingLogger) With(fields ...observability.Field) observability.Logger {
	return &recordingLogger{Logger: observability.NopLogger(), fields: append(append([]observability.Field(nil), r.fields...), fields...)}
}

func TestFromOrFallsBack(t *testing.T) {
	fallback := &recordingLogger{Logger: observability.NopLogger()}
	assert.Same(t, fallback, FromOr(context.Background(), fallback))
	assert.NotNil(t, FromOr(context.Background(), nil))
}

func TestEnrichStoresLogger(t *testing.T) {
	base := &recordingLogger{Logger: observability.NopLogger()}
	ctx, logger := Enrich(context.Background(), base, observability.F("order_id", "ORD-1"))

	assert.Same(t, logger, From(ctx))
	got := logger.(*recordingLogger)
	assert.Equal(t, []observability.Field{observability.F("order_id", "ORD-1")}, got.fields)
}
