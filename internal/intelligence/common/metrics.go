package common

import (
	"context"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// ---------------------------------------------------------------------------
// Interfaces
// ---------------------------------------------------------------------------

// EncoderMetrics is the metrics API of the encoding layer.  The service
// records through this interface so the backend (Prometheus, in-memory,
// noop) can be swapped without touching encoding code.
type EncoderMetrics interface {
	// RecordEncode records one mini-batch pass through the engine.
	RecordEncode(ctx context.Context, params *EncodeMetricParams)

	// RecordBatchProcessing records one fan-out over mini-batches.
	RecordBatchProcessing(ctx context.Context, params *BatchMetricParams)

	// RecordCacheAccess records an embedding cache hit or miss.
	RecordCacheAccess(ctx context.Context, hit bool)

	// GetEncodeLatencyHistogram returns the latency histogram.
	GetEncodeLatencyHistogram() LatencyHistogram

	// GetCurrentStats returns a point-in-time statistics snapshot.
	GetCurrentStats() *EncoderStats
}

// LatencyHistogram provides percentile-based latency observation.
type LatencyHistogram interface {
	// Observe records a latency sample in milliseconds.
	Observe(durationMs float64)

	// Percentile returns the value at the given percentile (0-100).
	Percentile(p float64) float64

	Count() int64
	Sum() float64
}

// ---------------------------------------------------------------------------
// Parameter structs
// ---------------------------------------------------------------------------

// EncodeMetricParams carries the data for one encode call.
type EncodeMetricParams struct {
	Locus      string  `json:"locus"`
	Molecules  int     `json:"molecules"`
	Atoms      int     `json:"atoms"`
	Edges      int     `json:"edges"`
	DurationMs float64 `json:"duration_ms"`
	Success    bool    `json:"success"`
}

// BatchMetricParams carries the data for a batch processing event.
type BatchMetricParams struct {
	BatchName       string  `json:"batch_name"`
	TotalItems      int     `json:"total_items"`
	SuccessItems    int     `json:"success_items"`
	FailedItems     int     `json:"failed_items"`
	CancelledItems  int     `json:"cancelled_items"`
	TotalDurationMs float64 `json:"total_duration_ms"`
	MaxConcurrency  int     `json:"max_concurrency"`
}

// EncoderStats is a point-in-time snapshot of encoder metrics.
type EncoderStats struct {
	TotalEncodes       int64   `json:"total_encodes"`
	SuccessfulEncodes  int64   `json:"successful_encodes"`
	FailedEncodes      int64   `json:"failed_encodes"`
	MoleculesEncoded   int64   `json:"molecules_encoded"`
	AtomsEncoded       int64   `json:"atoms_encoded"`
	AvgEncodeLatencyMs float64 `json:"avg_encode_latency_ms"`
	P50LatencyMs       float64 `json:"p50_latency_ms"`
	P95LatencyMs       float64 `json:"p95_latency_ms"`
	P99LatencyMs       float64 `json:"p99_latency_ms"`
	CacheHitRate       float64 `json:"cache_hit_rate"`
}

// ---------------------------------------------------------------------------
// Prometheus implementation
// ---------------------------------------------------------------------------

// DefaultMetricsNamespace prefixes every collector name.
const DefaultMetricsNamespace = "chemprop"

var defaultLatencyBuckets = []float64{0.5, 1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000}

type prometheusEncoderMetrics struct {
	encodeLatency    *prometheus.HistogramVec
	encodeTotal      *prometheus.CounterVec
	moleculesTotal   *prometheus.CounterVec
	atomsTotal       *prometheus.CounterVec
	batchDuration    *prometheus.HistogramVec
	batchItemsTotal  *prometheus.CounterVec
	cacheAccessTotal *prometheus.CounterVec

	// in-memory tracking for GetCurrentStats
	latencyHist *latencyHistogram
	totalEnc    atomic.Int64
	successEnc  atomic.Int64
	failedEnc   atomic.Int64
	molecules   atomic.Int64
	atoms       atomic.Int64
	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
}

// NewPrometheusEncoderMetrics creates a Prometheus-backed collector and
// registers it with registerer.  An empty namespace uses
// DefaultMetricsNamespace.
func NewPrometheusEncoderMetrics(registerer prometheus.Registerer, namespace string) (*prometheusEncoderMetrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = DefaultMetricsNamespace
	}

	m := &prometheusEncoderMetrics{
		latencyHist: newLatencyHistogram(),
	}

	m.encodeLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "encoder",
		Name:      "encode_duration_milliseconds",
		Help:      "Histogram of mini-batch encode latency in milliseconds.",
		Buckets:   defaultLatencyBuckets,
	}, []string{"locus"})

	m.encodeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "encoder",
		Name:      "encode_total",
		Help:      "Total number of mini-batch encodes.",
	}, []string{"locus", "status"})

	m.moleculesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "encoder",
		Name:      "molecules_total",
		Help:      "Total number of molecules encoded.",
	}, []string{"locus"})

	m.atomsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "encoder",
		Name:      "atoms_total",
		Help:      "Total number of atoms passed through message passing.",
	}, []string{"locus"})

	m.batchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "encoder",
		Name:      "batch_processing_duration_milliseconds",
		Help:      "Histogram of batch processing duration in milliseconds.",
		Buckets:   defaultLatencyBuckets,
	}, []string{"batch_name"})

	m.batchItemsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "encoder",
		Name:      "batch_items_total",
		Help:      "Total number of items processed in batches.",
	}, []string{"batch_name", "status"})

	m.cacheAccessTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "encoder",
		Name:      "cache_access_total",
		Help:      "Total number of embedding cache accesses.",
	}, []string{"result"})

	collectors := []prometheus.Collector{
		m.encodeLatency,
		m.encodeTotal,
		m.moleculesTotal,
		m.atomsTotal,
		m.batchDuration,
		m.batchItemsTotal,
		m.cacheAccessTotal,
	}
	for _, c := range collectors {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *prometheusEncoderMetrics) RecordEncode(_ context.Context, p *EncodeMetricParams) {
	if p == nil {
		return
	}
	status := "success"
	if !p.Success {
		status = "failure"
	}

	m.encodeLatency.WithLabelValues(p.Locus).Observe(p.DurationMs)
	m.encodeTotal.WithLabelValues(p.Locus, status).Inc()

	m.latencyHist.Observe(p.DurationMs)
	m.totalEnc.Add(1)
	if p.Success {
		m.successEnc.Add(1)
		m.moleculesTotal.WithLabelValues(p.Locus).Add(float64(p.Molecules))
		m.atomsTotal.WithLabelValues(p.Locus).Add(float64(p.Atoms))
		m.molecules.Add(int64(p.Molecules))
		m.atoms.Add(int64(p.Atoms))
	} else {
		m.failedEnc.Add(1)
	}
}

func (m *prometheusEncoderMetrics) RecordBatchProcessing(_ context.Context, p *BatchMetricParams) {
	if p == nil {
		return
	}
	m.batchDuration.WithLabelValues(p.BatchName).Observe(p.TotalDurationMs)
	m.batchItemsTotal.WithLabelValues(p.BatchName, "success").Add(float64(p.SuccessItems))
	m.batchItemsTotal.WithLabelValues(p.BatchName, "failed").Add(float64(p.FailedItems))
	m.batchItemsTotal.WithLabelValues(p.BatchName, "cancelled").Add(float64(p.CancelledItems))
}

func (m *prometheusEncoderMetrics) RecordCacheAccess(_ context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
		m.cacheHits.Add(1)
	} else {
		m.cacheMisses.Add(1)
	}
	m.cacheAccessTotal.WithLabelValues(result).Inc()
}

func (m *prometheusEncoderMetrics) GetEncodeLatencyHistogram() LatencyHistogram {
	return m.latencyHist
}

func (m *prometheusEncoderMetrics) GetCurrentStats() *EncoderStats {
	return buildStats(m.totalEnc.Load(), m.successEnc.Load(), m.failedEnc.Load(),
		m.molecules.Load(), m.atoms.Load(), m.cacheHits.Load(), m.cacheMisses.Load(), m.latencyHist)
}

// ---------------------------------------------------------------------------
// Noop implementation
// ---------------------------------------------------------------------------

type noopEncoderMetrics struct{}

// NewNoopEncoderMetrics returns a no-op metrics implementation.
func NewNoopEncoderMetrics() *noopEncoderMetrics {
	return &noopEncoderMetrics{}
}

func (n *noopEncoderMetrics) RecordEncode(context.Context, *EncodeMetricParams) {}
func (n *noopEncoderMetrics) RecordBatchProcessing(context.Context, *BatchMetricParams) {}
func (n *noopEncoderMetrics) RecordCacheAccess(context.Context, bool) {}

func (n *noopEncoderMetrics) GetEncodeLatencyHistogram() LatencyHistogram {
	return newLatencyHistogram()
}

func (n *noopEncoderMetrics) GetCurrentStats() *EncoderStats {
	return &EncoderStats{}
}

// ---------------------------------------------------------------------------
// In-memory implementation (for testing)
// ---------------------------------------------------------------------------

type inMemoryEncoderMetrics struct {
	mu sync.Mutex

	encodes     []*EncodeMetricParams
	batches     []*BatchMetricParams
	cacheHits   int64
	cacheMisses int64
	latencyHist *latencyHistogram
}

// NewInMemoryEncoderMetrics returns an in-memory metrics implementation
// suitable for unit tests.
func NewInMemoryEncoderMetrics() *inMemoryEncoderMetrics {
	return &inMemoryEncoderMetrics{
		latencyHist: newLatencyHistogram(),
	}
}

func (m *inMemoryEncoderMetrics) RecordEncode(_ context.Context, p *EncodeMetricParams) {
	if p == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.encodes = append(m.encodes, &cp)
	m.latencyHist.Observe(p.DurationMs)
}

func (m *inMemoryEncoderMetrics) RecordBatchProcessing(_ context.Context, p *BatchMetricParams) {
	if p == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.batches = append(m.batches, &cp)
}

func (m *inMemoryEncoderMetrics) RecordCacheAccess(_ context.Context, hit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hit {
		m.cacheHits++
	} else {
		m.cacheMisses++
	}
}

func (m *inMemoryEncoderMetrics) GetEncodeLatencyHistogram() LatencyHistogram {
	return m.latencyHist
}

func (m *inMemoryEncoderMetrics) GetCurrentStats() *EncoderStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	var success, failed, molecules, atoms int64
	for _, enc := range m.encodes {
		if enc.Success {
			success++
			molecules += int64(enc.Molecules)
			atoms += int64(enc.Atoms)
		} else {
			failed++
		}
	}
	return buildStats(int64(len(m.encodes)), success, failed, molecules, atoms, m.cacheHits, m.cacheMisses, m.latencyHist)
}

// GetRecordedEncodes returns a copy of all recorded encode params.
func (m *inMemoryEncoderMetrics) GetRecordedEncodes() []*EncodeMetricParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*EncodeMetricParams, len(m.encodes))
	for i, p := range m.encodes {
		cp := *p
		out[i] = &cp
	}
	return out
}

// GetRecordedBatches returns a copy of all recorded batch params.
func (m *inMemoryEncoderMetrics) GetRecordedBatches() []*BatchMetricParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*BatchMetricParams, len(m.batches))
	for i, p := range m.batches {
		cp := *p
		out[i] = &cp
	}
	return out
}

// GetCacheHits returns the number of cache hits recorded.
func (m *inMemoryEncoderMetrics) GetCacheHits() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cacheHits
}

// GetCacheMisses returns the number of cache misses recorded.
func (m *inMemoryEncoderMetrics) GetCacheMisses() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cacheMisses
}

func buildStats(total, success, failed, molecules, atoms, hits, misses int64, h *latencyHistogram) *EncoderStats {
	var avgLatency float64
	if total > 0 {
		avgLatency = h.Sum() / float64(total)
	}
	var hitRate float64
	if hits+misses > 0 {
		hitRate = float64(hits) / float64(hits+misses)
	}
	return &EncoderStats{
		TotalEncodes:       total,
		SuccessfulEncodes:  success,
		FailedEncodes:      failed,
		MoleculesEncoded:   molecules,
		AtomsEncoded:       atoms,
		AvgEncodeLatencyMs: avgLatency,
		P50LatencyMs:       h.Percentile(50),
		P95LatencyMs:       h.Percentile(95),
		P99LatencyMs:       h.Percentile(99),
		CacheHitRate:       hitRate,
	}
}

// ---------------------------------------------------------------------------
// latencyHistogram: in-memory, thread-safe, percentile-capable
// ---------------------------------------------------------------------------

type latencyHistogram struct {
	mu      sync.Mutex
	samples []float64
	sum     float64
	sorted  bool
}

func newLatencyHistogram() *latencyHistogram {
	return &latencyHistogram{
		samples: make([]float64, 0, 256),
	}
}

func (h *latencyHistogram) Observe(durationMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples = append(h.samples, durationMs)
	h.sum += durationMs
	h.sorted = false
}

// Percentile returns the value at percentile p (0-100) using linear
// interpolation between the two nearest ranks (PERCENTILE.INC).
func (h *latencyHistogram) Percentile(p float64) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := len(h.samples)
	if n == 0 {
		return 0
	}
	if !h.sorted {
		sort.Float64s(h.samples)
		h.sorted = true
	}
	if p <= 0 {
		return h.samples[0]
	}
	if p >= 100 {
		return h.samples[n-1]
	}

	rank := (p / 100) * float64(n-1)
	lower := int(math.Floor(rank))
	upper := lower + 1
	if upper >= n {
		return h.samples[n-1]
	}
	frac := rank - float64(lower)
	return h.samples[lower] + frac*(h.samples[upper]-h.samples[lower])
}

func (h *latencyHistogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return int64(len(h.samples))
}

func (h *latencyHistogram) Sum() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum
}

// compile-time interface checks
var (
	_ EncoderMetrics   = (*prometheusEncoderMetrics)(nil)
	_ EncoderMetrics   = (*noopEncoderMetrics)(nil)
	_ EncoderMetrics   = (*inMemoryEncoderMetrics)(nil)
	_ LatencyHistogram = (*latencyHistogram)(nil)
)
