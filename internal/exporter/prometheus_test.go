package exporter

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// countingSource returns n and records how often it was asked.
type countingSource struct {
	name  string
	n     int
	err   error
	calls atomic.Int32
}

func (s *countingSource) Name() string { return s.name }

func (s *countingSource) Count(context.Context) (int, error) {
	s.calls.Add(1)
	return s.n, s.err
}

func gather(t *testing.T, c prometheus.Collector) []*dto.MetricFamily {
	t.Helper()
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))
	families, err := reg.Gather()
	require.NoError(t, err)
	return families
}

func findMetricFamily(families []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func gaugeByCollection(f *dto.MetricFamily) map[string]float64 {
	out := map[string]float64{}
	for _, m := range f.GetMetric() {
		for _, l := range m.GetLabel() {
			if l.GetName() == "collection" {
				out[l.GetValue()] = m.GetGauge().GetValue()
			}
		}
	}
	return out
}

func TestInventoryCollectorCounts(t *testing.T) {
	roles := &countingSource{name: "roles", n: 3}
	tags := &countingSource{name: "tags", n: 2}
	c := NewInventoryCollector([]Source{roles, tags}, WithCommcellLabel("cs01.lab"))

	expected := `
# HELP commvault_entities The number of entities in a collection
# TYPE commvault_entities gauge
commvault_entities{collection="roles",commcell="cs01.lab"} 3
commvault_entities{collection="tags",commcell="cs01.lab"} 2
# HELP commvault_up Whether the last inventory walk reached the Commcell
# TYPE commvault_up gauge
commvault_up{commcell="cs01.lab"} 1
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected), "commvault_entities", "commvault_up"))
	assert.True(t, c.IsHealthy())
}

func TestInventoryCollectorPartialFailure(t *testing.T) {
	roles := &countingSource{name: "roles", n: 3}
	pools := &countingSource{name: "storagepools", err: errors.New("HTTP 500")}
	c := NewInventoryCollector([]Source{roles, pools})

	families := gather(t, c)
	entities := gaugeByCollection(findMetricFamily(families, "commvault_entities"))
	assert.Equal(t, map[string]float64{"roles": 3}, entities)
	up := gaugeByCollection(findMetricFamily(families, "commvault_collection_up"))
	assert.Equal(t, map[string]float64{"roles": 1, "storagepools": 0}, up)
	assert.Equal(t, 1.0, findMetricFamily(families, "commvault_up").GetMetric()[0].GetGauge().GetValue())
	assert.NotNil(t, findMetricFamily(families, "commvault_last_collection_timestamp_seconds"))
	assert.True(t, c.IsHealthy())
}

func TestInventoryCollectorTotalFailure(t *testing.T) {
	src := &countingSource{name: "roles", err: errors.New("connection refused")}
	c := NewInventoryCollector([]Source{src})

	families := gather(t, c)
	assert.Equal(t, 0.0, findMetricFamily(families, "commvault_up").GetMetric()[0].GetGauge().GetValue())
	assert.Nil(t, findMetricFamily(families, "commvault_entities"))
	assert.Nil(t, findMetricFamily(families, "commvault_last_collection_timestamp_seconds"))
	assert.False(t, c.IsHealthy())

	// Failed walks are not cached.
	gather(t, c)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestInventoryCollectorCachesBetweenScrapes(t *testing.T) {
	src := &countingSource{name: "roles", n: 1}
	c := NewInventoryCollector([]Source{src}, WithCacheTTL(time.Hour))

	gather(t, c)
	gather(t, c)
	assert.Equal(t, int32(1), src.calls.Load())

	c.Reset()
	gather(t, c)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestInventoryCollectorTracing(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	c := NewInventoryCollector([]Source{
		&countingSource{name: "roles", n: 1},
		&countingSource{name: "tags", err: errors.New("boom")},
	}, WithCollectorTracerProvider(tp))

	gather(t, c)
	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "prometheus.scrape", spans[0].Name())
	assert.Len(t, spans[0].Events(), 2)
	var status string
	for _, a := range spans[0].Attributes() {
		if string(a.Key) == "scrape.status" {
			status = a.Value.AsString()
		}
	}
	assert.Equal(t, "partial_failure", status)
}

func TestFromCollection(t *testing.T) {
	refreshed := 0
	src := FromCollection("roles",
		func(context.Context) error { refreshed++; return nil },
		func(context.Context) (map[string]string, error) { return map[string]string{"a": "1", "b": "2"}, nil },
	)
	n, err := src.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, refreshed)
	assert.Equal(t, "roles", src.Name())

	failing := FromCollection[int]("tags",
		func(context.Context) error { return errors.New("stale") },
		func(context.Context) (map[string]int, error) { t.Fatal("all called after failed refresh"); return nil, nil },
	)
	_, err = failing.Count(context.Background())
	assert.EqualError(t, err, "stale")

	noRefresh := FromCollection("kms", nil,
		func(context.Context) (map[string]bool, error) { return map[string]bool{"k": true}, nil })
	n, err = noRefresh.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
