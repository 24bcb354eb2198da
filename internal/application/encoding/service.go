// Package encoding provides the application-level service that turns
// featurized molecules into embeddings.  It splits the input into
// mini-batches, serves what it can from the embedding cache, encodes the rest
// concurrently with a message-passing engine and returns one vector per
// molecule in input order.
package encoding

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/jababu3/chemprop/internal/infrastructure/monitoring/logging"
	"github.com/jababu3/chemprop/internal/intelligence/common"
	"github.com/jababu3/chemprop/internal/intelligence/mpnn"
	"github.com/jababu3/chemprop/pkg/errors"
	"github.com/jababu3/chemprop/pkg/types/molecule"
)

const (
	defaultBatchSize     = 50
	defaultSlowThreshold = 2 * time.Second
)

// Service defines the interface for encoding operations.
type Service interface {
	Encode(ctx context.Context, input *EncodeInput) (*EncodeResult, error)
	// OutputDim is the embedding width for molecules carrying descriptors.
	OutputDim() int
	// Fingerprint identifies the engine configuration that cached
	// embeddings are scoped to.
	Fingerprint() string
	// Shutdown waits for in-flight requests and releases owned resources.
	Shutdown(ctx context.Context) error
}

// EmbeddingCache is the subset of the Redis embedding cache the service
// needs.
type EmbeddingCache interface {
	GetMany(ctx context.Context, keys []string) (map[string][]float64, error)
	SetMany(ctx context.Context, items map[string][]float64) error
}

// EncodeInput contains the molecules to encode.
type EncodeInput struct {
	Molecules []*molecule.MolGraph

	// Training enables dropout.  Mini-batch i draws its masks from
	// rand.NewSource(Seed + i).  Training requests bypass the cache.
	Training bool
	Seed     int64

	// SkipCache forces every molecule through the engine.
	SkipCache bool
}

// EncodeResult holds one embedding per input molecule, in input order.
type EncodeResult struct {
	BatchID     string      `json:"batch_id"`
	Embeddings  [][]float64 `json:"embeddings"`
	CacheHits   int         `json:"cache_hits"`
	MiniBatches int         `json:"mini_batches"`
	DurationMs  float64     `json:"duration_ms"`
}

// Option configures the service.
type Option func(*serviceImpl)

// WithCache enables embedding lookups and write-back.
func WithCache(c EmbeddingCache) Option {
	return func(s *serviceImpl) { s.cache = c }
}

// WithMetrics injects a metrics collector.
func WithMetrics(m common.EncoderMetrics) Option {
	return func(s *serviceImpl) { s.metrics = m }
}

// WithLogger injects a logger.
func WithLogger(l logging.Logger) Option {
	return func(s *serviceImpl) { s.logger = l }
}

// WithBatchSize sets the maximum number of molecules per mini-batch.
func WithBatchSize(n int) Option {
	return func(s *serviceImpl) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithMaxConcurrency bounds the number of mini-batches encoded at once.
func WithMaxConcurrency(n int) Option {
	return func(s *serviceImpl) { s.maxConcurrency = n }
}

// WithItemTimeout bounds the time spent on a single mini-batch.
func WithItemTimeout(d time.Duration) Option {
	return func(s *serviceImpl) { s.itemTimeout = d }
}

// WithFingerprint overrides the engine fingerprint.  Needed when the engine
// shares projections that are trained between calls.
func WithFingerprint(fp string) Option {
	return func(s *serviceImpl) { s.fingerprint = fp }
}

// withCloser registers a resource released by Shutdown.
func withCloser(fn func() error) Option {
	return func(s *serviceImpl) { s.closers = append(s.closers, fn) }
}

// serviceImpl implements the Service interface.
type serviceImpl struct {
	engine         mpnn.MessagePassing
	cfg            mpnn.Config
	cache          EmbeddingCache
	metrics        common.EncoderMetrics
	logger         logging.Logger
	batchSize      int
	maxConcurrency int
	itemTimeout    time.Duration
	fingerprint    string
	processor      common.BatchProcessor[chunk, [][]float64]
	closers        []func() error
}

// chunk is one mini-batch: its position and the input indices it covers.
type chunk struct {
	seq     int
	indices []int
}

// NewService creates an encoding service around engine.
func NewService(engine mpnn.MessagePassing, opts ...Option) (Service, error) {
	if engine == nil {
		return nil, errors.InvalidParam("engine is required")
	}
	s := &serviceImpl{
		engine:    engine,
		cfg:       engine.Config(),
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = common.NewNoopEncoderMetrics()
	}
	if s.logger == nil {
		s.logger = logging.NewNopLogger()
	}
	if s.fingerprint == "" {
		cfg := s.cfg
		s.fingerprint = Fingerprint(&cfg)
	}

	bopts := []common.BatchOption{
		common.WithBatchName("encode"),
		common.WithMaxConcurrency(s.maxConcurrency),
		common.WithItemTimeout(s.itemTimeout),
		common.WithFailFast(true),
		common.WithBatchMetrics(s.metrics),
		common.WithBatchLogger(s.logger),
	}
	s.processor = common.NewBatchProcessor[chunk, [][]float64](bopts...)
	return s, nil
}

func (s *serviceImpl) OutputDim() int      { return s.engine.OutputDim() }
func (s *serviceImpl) Fingerprint() string { return s.fingerprint }

func (s *serviceImpl) Encode(ctx context.Context, input *EncodeInput) (*EncodeResult, error) {
	if input == nil {
		return nil, errors.InvalidParam("input is required")
	}
	start := time.Now()
	batchID := uuid.NewString()
	log := s.logger.With(logging.String("batch_id", batchID))
	ctx = logging.ContextWithLogger(ctx, log)

	n := len(input.Molecules)
	res := &EncodeResult{BatchID: batchID, Embeddings: make([][]float64, n)}
	if n == 0 {
		return res, nil
	}
	for i, g := range input.Molecules {
		if g == nil {
			return nil, errors.MalformedGraph("molecule is nil").WithDetail(fmt.Sprintf("molecules[%d]", i))
		}
	}

	useCache := s.cache != nil && !input.Training && !input.SkipCache
	if useCache {
		res.CacheHits = s.lookup(ctx, input.Molecules, res.Embeddings)
	}

	var pending []int
	for i, emb := range res.Embeddings {
		if emb == nil {
			pending = append(pending, i)
		}
	}

	if len(pending) > 0 {
		chunks := s.split(pending)
		res.MiniBatches = len(chunks)

		br, err := s.processor.Process(ctx, chunks, func(ctx context.Context, c chunk) ([][]float64, error) {
			return s.encodeChunk(ctx, input, c)
		})
		if err != nil {
			return nil, err
		}
		if br.Err != nil {
			log.Error("encode failed", logging.Err(br.Err), logging.ErrCode(br.Err))
			return nil, errors.Wrap(br.Err, errors.CodeUnknown, "mini-batch encode failed")
		}
		for ci, ir := range br.Results {
			for k, idx := range chunks[ci].indices {
				res.Embeddings[idx] = ir.Result[k]
			}
		}
		if useCache {
			s.store(ctx, input.Molecules, pending, res.Embeddings)
		}
	}

	res.DurationMs = float64(time.Since(start).Microseconds()) / 1000.0
	logging.LogOperationDuration(log, "encode", start, defaultSlowThreshold,
		logging.Int("molecules", n),
		logging.Int("cache_hits", res.CacheHits),
		logging.Int("mini_batches", res.MiniBatches))
	return res, nil
}

func (s *serviceImpl) Shutdown(ctx context.Context) error {
	err := s.processor.Shutdown(ctx)
	for _, closeFn := range s.closers {
		if cerr := closeFn(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// split groups pending indices into mini-batches of at most batchSize.
func (s *serviceImpl) split(pending []int) []chunk {
	chunks := make([]chunk, 0, (len(pending)+s.batchSize-1)/s.batchSize)
	for lo := 0; lo < len(pending); lo += s.batchSize {
		hi := lo + s.batchSize
		if hi > len(pending) {
			hi = len(pending)
		}
		chunks = append(chunks, chunk{seq: len(chunks), indices: pending[lo:hi]})
	}
	return chunks
}

func (s *serviceImpl) encodeChunk(ctx context.Context, input *EncodeInput, c chunk) ([][]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	params := &common.EncodeMetricParams{Locus: string(s.cfg.Locus), Molecules: len(c.indices)}
	defer func() {
		params.DurationMs = float64(time.Since(start).Microseconds()) / 1000.0
		s.metrics.RecordEncode(ctx, params)
	}()

	graphs := make([]*molecule.MolGraph, len(c.indices))
	for k, idx := range c.indices {
		graphs[k] = input.Molecules[idx]
	}
	bmg, err := mpnn.BuildBatch(graphs, mpnn.WithFeatureDims(s.cfg.DV, s.cfg.DE))
	if err != nil {
		return nil, err
	}
	params.Atoms = bmg.NumAtoms()
	params.Edges = bmg.NumEdges()

	mode := mpnn.Eval()
	if input.Training {
		mode = mpnn.Train(rand.New(rand.NewSource(input.Seed + int64(c.seq))))
	}
	out, err := s.engine.Encode(mode, bmg, bmg.Vd)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows := make([][]float64, len(graphs))
	for k := range rows {
		rows[k] = append([]float64(nil), out.RawRowView(k)...)
	}
	params.Success = true
	return rows, nil
}

// cacheable reports whether g's embedding may be cached.  Descriptors are not
// part of the key, so molecules carrying them always go through the engine.
func cacheable(g *molecule.MolGraph) bool {
	return g.Key != "" && len(g.Descriptors) == 0
}

// lookup fills dst with cached embeddings and returns the number of hits.
// Cache failures degrade to misses.
func (s *serviceImpl) lookup(ctx context.Context, graphs []*molecule.MolGraph, dst [][]float64) int {
	log := logging.FromContext(ctx)
	seen := make(map[string]struct{})
	var keys []string
	for _, g := range graphs {
		if !cacheable(g) {
			continue
		}
		if _, ok := seen[g.Key]; !ok {
			seen[g.Key] = struct{}{}
			keys = append(keys, g.Key)
		}
	}
	if len(keys) == 0 {
		return 0
	}

	hits, err := s.cache.GetMany(ctx, keys)
	if err != nil {
		log.Warn("embedding cache lookup failed", logging.Err(err), logging.ErrCode(err))
		hits = nil
	}

	n := 0
	for i, g := range graphs {
		if !cacheable(g) {
			continue
		}
		emb, ok := hits[g.Key]
		s.metrics.RecordCacheAccess(ctx, ok)
		if ok {
			dst[i] = append([]float64(nil), emb...)
			n++
		}
	}
	return n
}

// store writes freshly encoded embeddings back.  Failures are logged only.
func (s *serviceImpl) store(ctx context.Context, graphs []*molecule.MolGraph, encoded []int, embs [][]float64) {
	items := make(map[string][]float64)
	for _, idx := range encoded {
		if g := graphs[idx]; cacheable(g) {
			items[g.Key] = embs[idx]
		}
	}
	if len(items) == 0 {
		return
	}
	if err := s.cache.SetMany(ctx, items); err != nil {
		logging.FromContext(ctx).Warn("embedding cache write failed",
			logging.Int("items", len(items)), logging.Err(err), logging.ErrCode(err))
	}
}
