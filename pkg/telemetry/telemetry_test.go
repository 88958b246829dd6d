package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDisabledProviderNeverSamples(t *testing.T) {
	tp, err := NewTracerProvider(nil, Config{Enabled: false}, zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	_, span := tp.Tracer("test").Start(context.Background(), "noop")
	defer span.End()
	assert.False(t, span.SpanContext().IsSampled())
}

func TestUnknownProtocolRejected(t *testing.T) {
	_, err := newExporter(context.Background(), Config{ExporterProtocol: "carrier-pigeon"})
	assert.Error(t, err)
}
