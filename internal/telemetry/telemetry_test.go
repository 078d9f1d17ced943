package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestSetupWithoutEndpointIsNoop(t *testing.T) {
	before := otel.GetTracerProvider()
	for _, endpoint := range []string{"", "  ", "off"} {
		shutdown, err := Setup(context.Background(), "conestoga", endpoint)
		require.NoError(t, err)
		require.NoError(t, shutdown(context.Background()))
	}
	require.Equal(t, before, otel.GetTracerProvider())
}

func TestSetupWithEndpoint(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	// Non-routable address: the exporter is created lazily and never dials.
	shutdown, err := Setup(context.Background(), "conestoga", "http://192.0.2.1:4318")
	require.NoError(t, err)
	require.NotEqual(t, prev, otel.GetTracerProvider())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = shutdown(ctx)
}
