package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitTracing_Disabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), Config{ServiceName: "smartdigilab"}, nil)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitTracing_Enabled(t *testing.T) {
	// the exporter connects lazily, so no collector is needed
	shutdown, err := InitTracing(context.Background(), Config{
		Endpoint:    "localhost:4318",
		ServiceName: "smartdigilab",
		Insecure:    true,
	}, nil)
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = shutdown(ctx)
}
