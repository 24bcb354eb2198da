package common

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPrometheusEncoderMetrics_Success(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewPrometheusEncoderMetrics(registry, "")
	assert.NoError(t, err)
	assert.NotNil(t, m)
}

func TestNewPrometheusEncoderMetrics_DuplicateRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()
	_, err := NewPrometheusEncoderMetrics(registry, "test")
	assert.NoError(t, err)

	_, err = NewPrometheusEncoderMetrics(registry, "test")
	assert.Error(t, err)
}

func TestPrometheus_RecordEncode(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewPrometheusEncoderMetrics(registry, "test")
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordEncode(ctx, &EncodeMetricParams{Locus: "bond", Molecules: 3, Atoms: 20, DurationMs: 4, Success: true})
	m.RecordEncode(ctx, &EncodeMetricParams{Locus: "bond", Molecules: 2, DurationMs: 8, Success: false})
	m.RecordCacheAccess(ctx, true)
	m.RecordCacheAccess(ctx, false)
	m.RecordCacheAccess(ctx, false)
	m.RecordCacheAccess(ctx, false)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.moleculesTotal.WithLabelValues("bond")))
	assert.Equal(t, 20.0, testutil.ToFloat64(m.atomsTotal.WithLabelValues("bond")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.encodeTotal.WithLabelValues("bond", "failure")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.cacheAccessTotal.WithLabelValues("miss")))

	stats := m.GetCurrentStats()
	assert.Equal(t, int64(2), stats.TotalEncodes)
	assert.Equal(t, int64(1), stats.FailedEncodes)
	assert.Equal(t, int64(3), stats.MoleculesEncoded)
	assert.InDelta(t, 6.0, stats.AvgEncodeLatencyMs, 1e-9)
	assert.InDelta(t, 0.25, stats.CacheHitRate, 1e-9)
}

func TestInMemory_RecordEncode(t *testing.T) {
	m := NewInMemoryEncoderMetrics()
	ctx := context.Background()
	m.RecordEncode(ctx, &EncodeMetricParams{Locus: "atom", Molecules: 4, Atoms: 9, DurationMs: 10, Success: true})
	m.RecordEncode(ctx, nil)
	m.RecordCacheAccess(ctx, true)

	encodes := m.GetRecordedEncodes()
	require.Len(t, encodes, 1)
	assert.Equal(t, "atom", encodes[0].Locus)
	assert.Equal(t, int64(1), m.GetCacheHits())
	assert.Equal(t, int64(0), m.GetCacheMisses())

	stats := m.GetCurrentStats()
	assert.Equal(t, int64(9), stats.AtomsEncoded)
	assert.Equal(t, 10.0, stats.P50LatencyMs)
	assert.Equal(t, 1.0, stats.CacheHitRate)
}

func TestLatencyHistogram_Percentiles(t *testing.T) {
	h := newLatencyHistogram()
	assert.Equal(t, 0.0, h.Percentile(50))
	for _, v := range []float64{5, 1, 4, 2, 3} {
		h.Observe(v)
	}
	assert.Equal(t, int64(5), h.Count())
	assert.Equal(t, 15.0, h.Sum())
	assert.Equal(t, 1.0, h.Percentile(0))
	assert.Equal(t, 3.0, h.Percentile(50))
	assert.InDelta(t, 4.6, h.Percentile(90), 1e-9)
	assert.Equal(t, 5.0, h.Percentile(100))
}

func TestNoop_AllMethods_NoPanic(t *testing.T) {
	m := NewNoopEncoderMetrics()
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.RecordEncode(ctx, &EncodeMetricParams{})
		m.RecordBatchProcessing(ctx, &BatchMetricParams{})
		m.RecordCacheAccess(ctx, true)
		m.GetEncodeLatencyHistogram()
		m.GetCurrentStats()
	})
}
