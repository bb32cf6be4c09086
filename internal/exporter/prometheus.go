package exporter

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Commvault/cvpysdk-sub002/internal/telemetry"
	"github.com/Commvault/cvpysdk-sub002/transport"
)

const collectionTimeout = 2 * time.Minute // Maximum time allowed for one inventory walk

// CollectorOption configures optional InventoryCollector settings.
type CollectorOption func(*collectorOptions)

type collectorOptions struct {
	tracerProvider trace.TracerProvider
	cacheTTL       time.Duration
	ping           func(ctx context.Context) error
	breakerState   func() string
	constLabels    prometheus.Labels
}

// WithCollectorTracerProvider sets the TracerProvider for scrape spans.
// If not provided, tracing operations use a noop provider.
func WithCollectorTracerProvider(tp trace.TracerProvider) CollectorOption {
	return func(o *collectorOptions) {
		o.tracerProvider = tp
	}
}

// WithCacheTTL sets how long an inventory is reused across scrapes.
func WithCacheTTL(ttl time.Duration) CollectorOption {
	return func(o *collectorOptions) {
		o.cacheTTL = ttl
	}
}

// WithConnectivityCheck sets the probe behind TestConnectivity, usually
// Commcell.Ping.
func WithConnectivityCheck(ping func(ctx context.Context) error) CollectorOption {
	return func(o *collectorOptions) {
		o.ping = ping
	}
}

// WithBreakerState reports the transport circuit breaker state on /health.
func WithBreakerState(state func() string) CollectorOption {
	return func(o *collectorOptions) {
		o.breakerState = state
	}
}

// WithCommcellLabel adds a constant commcell label to every metric.
func WithCommcellLabel(host string) CollectorOption {
	return func(o *collectorOptions) {
		if host != "" {
			o.constLabels = prometheus.Labels{"commcell": host}
		}
	}
}

// InventoryCollector implements prometheus.Collector over a set of Sources.
//
// Each scrape reuses the cached inventory while it is fresh. Otherwise every
// source is counted concurrently; sources that fail are reported through
// commvault_collection_up without hiding the ones that worked.
type InventoryCollector struct {
	sources []Source
	cache   *InventoryCache
	tracing *transport.TracerWrapper
	opts    collectorOptions

	up            *prometheus.Desc
	entities      *prometheus.Desc
	collectionUp  *prometheus.Desc
	countDuration *prometheus.Desc
	lastSuccess   *prometheus.Desc

	scrapeMu       sync.RWMutex
	lastScrapeTime time.Time
	lastScrapeErr  error
}

// NewInventoryCollector returns a collector counting sources.
//
// Metrics:
//   - commvault_up: 1 when at least one collection could be counted
//   - commvault_entities{collection}: entities per collection
//   - commvault_collection_up{collection}: 1 when that collection was counted
//   - commvault_collection_duration_seconds{collection}: time spent counting
//   - commvault_last_collection_timestamp_seconds: time of the last inventory walk
func NewInventoryCollector(sources []Source, opts ...CollectorOption) *InventoryCollector {
	var options collectorOptions
	for _, opt := range opts {
		opt(&options)
	}

	return &InventoryCollector{
		sources: sources,
		cache:   NewInventoryCache(options.cacheTTL),
		tracing: transport.NewTracerWrapper(options.tracerProvider, "cvsdk/collector"),
		opts:    options,
		up: prometheus.NewDesc(
			"commvault_up",
			"Whether the last inventory walk reached the Commcell",
			nil, options.constLabels,
		),
		entities: prometheus.NewDesc(
			"commvault_entities",
			"The number of entities in a collection",
			[]string{"collection"}, options.constLabels,
		),
		collectionUp: prometheus.NewDesc(
			"commvault_collection_up",
			"Whether the collection could be counted",
			[]string{"collection"}, options.constLabels,
		),
		countDuration: prometheus.NewDesc(
			"commvault_collection_duration_seconds",
			"Time spent counting a collection",
			[]string{"collection"}, options.constLabels,
		),
		lastSuccess: prometheus.NewDesc(
			"commvault_last_collection_timestamp_seconds",
			"Unix time of the last inventory walk",
			nil, options.constLabels,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *InventoryCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.up
	ch <- c.entities
	ch <- c.collectionUp
	ch <- c.countDuration
	ch <- c.lastSuccess
}

// Collect implements prometheus.Collector.
func (c *InventoryCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), collectionTimeout)
	defer cancel()

	values, cached := c.cache.Get()
	if !cached {
		values = c.walk(ctx)
		if succeeded(values) > 0 {
			c.cache.Set(values)
		}
	}
	c.expose(ch, values)
	log.Debugf("Exposed %d collections (cached=%t)", len(values), cached)
}

// walk counts every source concurrently under one scrape span.
func (c *InventoryCollector) walk(ctx context.Context) []InventoryValue {
	start := time.Now()
	ctx, span := c.tracing.StartSpan(ctx, "prometheus.scrape", trace.SpanKindServer)
	defer span.End()

	values := make([]InventoryValue, len(c.sources))
	var wg sync.WaitGroup
	for i, src := range c.sources {
		wg.Add(1)
		go func() {
			defer wg.Done()
			values[i] = c.count(ctx, span, src)
		}()
	}
	wg.Wait()

	status := "success"
	var scrapeErr error
	switch ok := succeeded(values); {
	case ok == 0 && len(values) > 0:
		status = "failure"
		scrapeErr = values[0].Err
		span.SetStatus(codes.Error, "No collection could be counted")
	case ok < len(values):
		status = "partial_failure"
		span.SetStatus(codes.Error, "Partial failure during inventory walk")
	default:
		span.SetStatus(codes.Ok, "")
	}
	span.SetAttributes(
		attribute.Float64(telemetry.AttrScrapeDurationMS, float64(time.Since(start).Milliseconds())),
		attribute.String(telemetry.AttrScrapeStatus, status),
	)

	c.scrapeMu.Lock()
	c.lastScrapeTime = time.Now()
	c.lastScrapeErr = scrapeErr
	c.scrapeMu.Unlock()
	return values
}

func (c *InventoryCollector) count(ctx context.Context, span trace.Span, src Source) InventoryValue {
	start := time.Now()
	n, err := src.Count(ctx)
	v := InventoryValue{Collection: src.Name(), Count: float64(n), Err: err, Elapsed: time.Since(start)}
	if err != nil {
		log.WithError(err).WithField("collection", src.Name()).Error("Failed to count collection")
		span.AddEvent("collection_count_error", trace.WithAttributes(
			attribute.String(telemetry.AttrCommcellCollection, src.Name()),
			attribute.String(telemetry.AttrError, err.Error()),
		))
		return v
	}
	span.AddEvent("collection_counted", trace.WithAttributes(
		attribute.String(telemetry.AttrCommcellCollection, src.Name()),
		attribute.Int(telemetry.AttrCommcellEntities, n),
	))
	return v
}

func (c *InventoryCollector) expose(ch chan<- prometheus.Metric, values []InventoryValue) {
	up := 0.0
	if succeeded(values) > 0 {
		up = 1
	}
	ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, up)

	for _, v := range values {
		ok := 1.0
		if v.Failed() {
			ok = 0
		} else {
			ch <- prometheus.MustNewConstMetric(c.entities, prometheus.GaugeValue, v.Count, v.Labels()...)
		}
		ch <- prometheus.MustNewConstMetric(c.collectionUp, prometheus.GaugeValue, ok, v.Labels()...)
		ch <- prometheus.MustNewConstMetric(c.countDuration, prometheus.GaugeValue, v.Elapsed.Seconds(), v.Labels()...)
	}

	if last := c.cache.LastCollectionTime(); !last.IsZero() {
		ch <- prometheus.MustNewConstMetric(c.lastSuccess, prometheus.GaugeValue, float64(last.Unix()))
	}
}

// Reset drops the cached inventory so the next scrape walks the Commcell.
func (c *InventoryCollector) Reset() {
	c.cache.Flush()
}
