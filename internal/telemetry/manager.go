package telemetry

import (
	"context"
	"os"
	"sync"

	"github.com/juju/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials/insecure"
)

// Config holds OpenTelemetry settings.
type Config struct {
	Enabled bool

	// Endpoint is the OTLP gRPC collector address, e.g. "localhost:4317".
	Endpoint string
	Insecure bool

	// SamplingRate is the fraction of root traces kept, 0.0 to 1.0. Scrapes
	// that arrive with a trace context follow the caller's decision.
	SamplingRate float64

	ServiceName    string
	ServiceVersion string

	// CommcellHost is recorded as peer.service and commcell.host.
	CommcellHost string
}

// Manager owns the TracerProvider used by the Commcell transport and the
// inventory collector.
type Manager struct {
	config Config

	mu             sync.Mutex
	enabled        bool
	tracerProvider *sdktrace.TracerProvider
}

// NewManager creates a manager. Nothing is exported until Initialize.
func NewManager(cfg Config) *Manager {
	return &Manager{
		enabled: cfg.Enabled,
		config:  cfg,
	}
}

// Initialize starts the OTLP exporter and registers the global TracerProvider
// and W3C propagator. A broken exporter disables tracing and is only logged.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.config.Enabled {
		logrus.Debug("OpenTelemetry is disabled in configuration")
		return nil
	}
	if m.tracerProvider != nil {
		return nil
	}

	tp, err := m.newTracerProvider(ctx)
	if err != nil {
		logrus.Warnf(ErrTelemetryInitTemplate, err)
		m.enabled = false
		return nil
	}
	m.tracerProvider = tp

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	logrus.WithFields(logrus.Fields{
		"endpoint": m.config.Endpoint,
		"sampling": m.config.SamplingRate,
		"commcell": m.config.CommcellHost,
	}).Info("OpenTelemetry initialized")
	return nil
}

func (m *Manager) newTracerProvider(ctx context.Context) (*sdktrace.TracerProvider, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(m.config.Endpoint)}
	if m.config.Insecure {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
	}
	exp, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, errors.Annotate(err, "creating OTLP exporter")
	}

	res, err := m.createResource(ctx)
	if err != nil {
		_ = exp.Shutdown(ctx)
		return nil, errors.Annotate(err, "describing service resource")
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(m.createSampler()),
	), nil
}

func (m *Manager) createResource(ctx context.Context) (*resource.Resource, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(m.config.ServiceName),
		semconv.ServiceVersionKey.String(m.config.ServiceVersion),
		semconv.HostNameKey.String(hostname),
	}
	if host := m.config.CommcellHost; host != "" {
		attrs = append(attrs,
			semconv.PeerServiceKey.String(host),
			attribute.String(AttrCommcellHost, host),
		)
	}
	return resource.New(ctx, resource.WithAttributes(attrs...))
}

// createSampler keeps SamplingRate of root traces and follows the parent
// decision otherwise.
func (m *Manager) createSampler() sdktrace.Sampler {
	root := sdktrace.TraceIDRatioBased(m.config.SamplingRate)
	if m.config.SamplingRate >= 1.0 {
		root = sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(root)
}

// Shutdown flushes pending spans. Later calls are no-ops.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	tp := m.tracerProvider
	m.tracerProvider = nil
	m.mu.Unlock()

	if tp == nil {
		logrus.Debug("OpenTelemetry shutdown skipped (not enabled or not initialized)")
		return nil
	}

	logrus.Info("Shutting down OpenTelemetry TracerProvider...")
	if err := tp.Shutdown(ctx); err != nil {
		return errors.Annotate(err, "shutting down TracerProvider")
	}
	return nil
}

// IsEnabled reports whether tracing is active. It turns false when
// initialization fails.
func (m *Manager) IsEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// TracerProvider returns the provider for injection, or nil when tracing is
// off, so callers can fall back to noop.
func (m *Manager) TracerProvider() trace.TracerProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tracerProvider == nil {
		return nil
	}
	return m.tracerProvider
}
