package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

func TestNewManager(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{
			name: "enabled config",
			config: Config{
				Enabled:      true,
				Endpoint:     "localhost:4317",
				Insecure:     true,
				SamplingRate: 0.1,
				ServiceName:  "cvsdk",
				CommcellHost: "cs01",
			},
		},
		{
			name:   "disabled config",
			config: Config{Enabled: false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := NewManager(tt.config)
			require.NotNil(t, manager)
			require.Equal(t, tt.config.Enabled, manager.IsEnabled())
			require.Equal(t, tt.config.Endpoint, manager.config.Endpoint)
		})
	}
}

func TestManagerDisabledMode(t *testing.T) {
	manager := NewManager(Config{Enabled: false})
	ctx := context.Background()

	require.NoError(t, manager.Initialize(ctx))
	require.False(t, manager.IsEnabled())
	require.Nil(t, manager.TracerProvider())
	require.NoError(t, manager.Shutdown(ctx))
}

// The OTLP exporter connects lazily, so initialization succeeds without a
// running collector.
func TestManagerInitializeAndShutdown(t *testing.T) {
	manager := NewManager(Config{
		Enabled:        true,
		Endpoint:       "localhost:4317",
		Insecure:       true,
		SamplingRate:   1.0,
		ServiceName:    "cvsdk-test",
		ServiceVersion: "0.0.0-test",
		CommcellHost:   "cs-test",
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, manager.Initialize(ctx))

	if manager.IsEnabled() {
		require.NotNil(t, manager.TracerProvider())
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		require.NoError(t, manager.Shutdown(shutdownCtx))
	}
}

func TestManagerCreateSampler(t *testing.T) {
	tests := []struct {
		rate float64
		root string
	}{
		{rate: 1.0, root: "AlwaysOnSampler"},
		{rate: 0.5, root: "TraceIDRatioBased{0.5}"},
	}
	for _, tt := range tests {
		manager := NewManager(Config{Enabled: true, SamplingRate: tt.rate})
		desc := manager.createSampler().Description()
		require.Contains(t, desc, "ParentBased")
		require.Contains(t, desc, tt.root)
	}
}

func TestManagerShutdownIsIdempotent(t *testing.T) {
	manager := NewManager(Config{Enabled: true, Endpoint: "localhost:4317", Insecure: true, SamplingRate: 1.0})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, manager.Initialize(ctx))
	require.NoError(t, manager.Shutdown(ctx))
	require.NoError(t, manager.Shutdown(ctx))
	require.Nil(t, manager.TracerProvider())
}

func TestManagerCreateResource(t *testing.T) {
	tests := []struct {
		name     string
		host     string
		wantPeer bool
	}{
		{name: "with commcell host", host: "cs01", wantPeer: true},
		{name: "without commcell host", host: "", wantPeer: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := NewManager(Config{ServiceName: "cvsdk", ServiceVersion: "1.0.0", CommcellHost: tt.host})
			res, err := manager.createResource(context.Background())
			require.NoError(t, err)

			set := res.Set()
			v, ok := set.Value(semconv.PeerServiceKey)
			require.Equal(t, tt.wantPeer, ok)
			if tt.wantPeer {
				require.Equal(t, attribute.StringValue(tt.host), v)
				host, _ := set.Value(AttrCommcellHost)
				require.Equal(t, attribute.StringValue(tt.host), host)
			}
		})
	}
}
