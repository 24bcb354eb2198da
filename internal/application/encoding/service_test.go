package encoding

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jababu3/chemprop/internal/config"
	"github.com/jababu3/chemprop/internal/intelligence/common"
	"github.com/jababu3/chemprop/internal/intelligence/mpnn"
	"github.com/jababu3/chemprop/internal/testutil"
	"github.com/jababu3/chemprop/pkg/errors"
	"github.com/jababu3/chemprop/pkg/types/molecule"
)

const (
	testDV = 3
	testDE = 2
)

type fakeCache struct {
	mu       sync.Mutex
	data     map[string][]float64
	getCalls int
	setCalls int
	getErr   error
	setErr   error
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: map[string][]float64{}}
}

func (f *fakeCache) GetMany(_ context.Context, keys []string) (map[string][]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	out := map[string][]float64{}
	for _, k := range keys {
		if v, ok := f.data[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (f *fakeCache) SetMany(_ context.Context, items map[string][]float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setCalls++
	if f.setErr != nil {
		return f.setErr
	}
	for k, v := range items {
		f.data[k] = v
	}
	return nil
}

func testEngine(t *testing.T, mutate func(*mpnn.Config)) *mpnn.Engine {
	t.Helper()
	cfg := mpnn.DefaultConfig()
	cfg.DV = testDV
	cfg.DE = testDE
	cfg.DH = 8
	cfg.Seed = 3
	if mutate != nil {
		mutate(cfg)
	}
	e, err := mpnn.New(cfg)
	require.NoError(t, err)
	return e
}

func directEncode(t *testing.T, e *mpnn.Engine, graphs []*molecule.MolGraph) [][]float64 {
	t.Helper()
	bmg, err := mpnn.BuildBatch(graphs, mpnn.WithFeatureDims(testDV, testDE))
	require.NoError(t, err)
	out, err := e.Encode(mpnn.Eval(), bmg, bmg.Vd)
	require.NoError(t, err)
	rows := make([][]float64, len(graphs))
	for i := range rows {
		rows[i] = out.RawRowView(i)
	}
	return rows
}

func assertRowsEqual(t *testing.T, want, got [][]float64) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		require.Len(t, got[i], len(want[i]), "row %d", i)
		for j := range want[i] {
			assert.InDelta(t, want[i][j], got[i][j], 1e-9, "row %d col %d", i, j)
		}
	}
}

func TestNewService_NilEngine(t *testing.T) {
	svc, err := NewService(nil)
	assert.Error(t, err)
	assert.Nil(t, svc)
}

func TestEncode_MiniBatchesMatchDirectEncode(t *testing.T) {
	for _, locus := range []mpnn.Locus{mpnn.LocusBond, mpnn.LocusAtom} {
		t.Run(string(locus), func(t *testing.T) {
			e := testEngine(t, func(c *mpnn.Config) { c.Locus = locus })
			lib := testutil.Library(23, testDV, testDE)

			svc, err := NewService(e, WithBatchSize(5), WithMaxConcurrency(3))
			require.NoError(t, err)

			res, err := svc.Encode(context.Background(), &EncodeInput{Molecules: lib})
			require.NoError(t, err)
			assert.Equal(t, 5, res.MiniBatches)
			assert.NotEmpty(t, res.BatchID)
			assertRowsEqual(t, directEncode(t, e, lib), res.Embeddings)
		})
	}
}

func TestEncode_EmptyInput(t *testing.T) {
	svc, err := NewService(testEngine(t, nil))
	require.NoError(t, err)

	res, err := svc.Encode(context.Background(), &EncodeInput{})
	require.NoError(t, err)
	assert.Empty(t, res.Embeddings)

	_, err = svc.Encode(context.Background(), nil)
	assert.Error(t, err)
}

func TestEncode_NilMolecule(t *testing.T) {
	svc, err := NewService(testEngine(t, nil))
	require.NoError(t, err)

	_, err = svc.Encode(context.Background(), &EncodeInput{
		Molecules: []*molecule.MolGraph{testutil.Chain("a", 2, testDV, testDE, 0), nil},
	})
	assert.True(t, errors.IsCode(err, errors.ErrCodeMalformedGraph))
}

func TestEncode_ErrorCodePropagates(t *testing.T) {
	svc, err := NewService(testEngine(t, nil), WithBatchSize(1))
	require.NoError(t, err)

	wide := testutil.Chain("wide", 2, testDV+1, testDE, 0)
	_, err = svc.Encode(context.Background(), &EncodeInput{
		Molecules: []*molecule.MolGraph{testutil.Chain("ok", 2, testDV, testDE, 0), wide},
	})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidShape))
}

func TestEncode_CacheHitsAndWriteBack(t *testing.T) {
	e := testEngine(t, nil)
	lib := testutil.Library(6, testDV, testDE)
	cache := newFakeCache()
	cached := []float64{9, 9, 9}
	cache.data[lib[2].Key] = cached
	metrics := common.NewInMemoryEncoderMetrics()

	svc, err := NewService(e, WithCache(cache), WithMetrics(metrics), WithBatchSize(2))
	require.NoError(t, err)

	res, err := svc.Encode(context.Background(), &EncodeInput{Molecules: lib})
	require.NoError(t, err)
	assert.Equal(t, 1, res.CacheHits)
	assert.Equal(t, cached, res.Embeddings[2])
	assert.Equal(t, 3, res.MiniBatches)
	assert.Equal(t, int64(1), metrics.GetCacheHits())
	assert.Equal(t, int64(5), metrics.GetCacheMisses())

	want := directEncode(t, e, lib)
	for i := range lib {
		if i == 2 {
			continue
		}
		assertRowsEqual(t, want[i:i+1], res.Embeddings[i:i+1])
		assert.Contains(t, cache.data, lib[i].Key)
	}

	// everything is cached now
	res, err = svc.Encode(context.Background(), &EncodeInput{Molecules: lib})
	require.NoError(t, err)
	assert.Equal(t, 6, res.CacheHits)
	assert.Equal(t, 0, res.MiniBatches)
}

func TestEncode_SkipCacheAndTrainingBypassCache(t *testing.T) {
	cache := newFakeCache()
	svc, err := NewService(testEngine(t, func(c *mpnn.Config) { c.Dropout = 0.3 }), WithCache(cache))
	require.NoError(t, err)

	lib := testutil.Library(4, testDV, testDE)
	_, err = svc.Encode(context.Background(), &EncodeInput{Molecules: lib, SkipCache: true})
	require.NoError(t, err)
	_, err = svc.Encode(context.Background(), &EncodeInput{Molecules: lib, Training: true, Seed: 5})
	require.NoError(t, err)

	assert.Equal(t, 0, cache.getCalls)
	assert.Equal(t, 0, cache.setCalls)
}

func TestEncode_DescriptorMoleculesNotCached(t *testing.T) {
	e := testEngine(t, func(c *mpnn.Config) { c.DVD = 2 })
	cache := newFakeCache()
	svc, err := NewService(e, WithCache(cache))
	require.NoError(t, err)

	graphs := []*molecule.MolGraph{
		testutil.WithDescriptors(testutil.Chain("a", 3, testDV, testDE, 0), 2, 0),
		testutil.WithDescriptors(testutil.Chain("b", 2, testDV, testDE, 1), 2, 1),
	}
	res, err := svc.Encode(context.Background(), &EncodeInput{Molecules: graphs})
	require.NoError(t, err)
	assert.Len(t, res.Embeddings[0], e.OutputDim())
	assert.Equal(t, 0, cache.getCalls)
	assert.Empty(t, cache.data)
}

func TestEncode_CacheFailuresDegrade(t *testing.T) {
	cache := newFakeCache()
	cache.getErr = stderrors.New("redis down")
	cache.setErr = stderrors.New("redis down")
	logger := testutil.NewMockLogger()

	svc, err := NewService(testEngine(t, nil), WithCache(cache), WithLogger(logger))
	require.NoError(t, err)

	res, err := svc.Encode(context.Background(), &EncodeInput{Molecules: testutil.Library(3, testDV, testDE)})
	require.NoError(t, err)
	assert.Equal(t, 0, res.CacheHits)
	for _, emb := range res.Embeddings {
		assert.NotNil(t, emb)
	}

	assert.True(t, logger.HasMessage("warn", "embedding cache lookup failed"))
	msg, ok := logger.Find("warn", "embedding cache write failed")
	require.True(t, ok)
	id, ok := msg.Field("batch_id")
	require.True(t, ok)
	assert.Equal(t, res.BatchID, id)
}

func TestEncode_DuplicateKeysStoredOnce(t *testing.T) {
	cache := newFakeCache()
	svc, err := NewService(testEngine(t, nil), WithCache(cache))
	require.NoError(t, err)

	g := testutil.Chain("dup", 3, testDV, testDE, 0)
	res, err := svc.Encode(context.Background(), &EncodeInput{Molecules: []*molecule.MolGraph{g, g}})
	require.NoError(t, err)
	assertRowsEqual(t, res.Embeddings[:1], res.Embeddings[1:])
	assert.Len(t, cache.data, 1)
}

func TestEncode_TrainingSeeded(t *testing.T) {
	svc, err := NewService(testEngine(t, func(c *mpnn.Config) { c.Dropout = 0.5 }), WithBatchSize(2))
	require.NoError(t, err)
	lib := testutil.Library(5, testDV, testDE)
	ctx := context.Background()

	a, err := svc.Encode(ctx, &EncodeInput{Molecules: lib, Training: true, Seed: 1})
	require.NoError(t, err)
	b, err := svc.Encode(ctx, &EncodeInput{Molecules: lib, Training: true, Seed: 1})
	require.NoError(t, err)
	ev, err := svc.Encode(ctx, &EncodeInput{Molecules: lib})
	require.NoError(t, err)

	assert.Equal(t, a.Embeddings, b.Embeddings)
	assert.NotEqual(t, a.Embeddings, ev.Embeddings)
}

func TestEncode_RecordsEncodeMetrics(t *testing.T) {
	metrics := common.NewInMemoryEncoderMetrics()
	svc, err := NewService(testEngine(t, nil), WithMetrics(metrics), WithBatchSize(4))
	require.NoError(t, err)

	_, err = svc.Encode(context.Background(), &EncodeInput{Molecules: testutil.Library(10, testDV, testDE)})
	require.NoError(t, err)

	encodes := metrics.GetRecordedEncodes()
	require.Len(t, encodes, 3)
	total := 0
	for _, p := range encodes {
		assert.Equal(t, "bond", p.Locus)
		assert.True(t, p.Success)
		total += p.Molecules
	}
	assert.Equal(t, 10, total)
	require.Len(t, metrics.GetRecordedBatches(), 1)
}

func TestShutdown_RejectsEncode(t *testing.T) {
	svc, err := NewService(testEngine(t, nil))
	require.NoError(t, err)
	require.NoError(t, svc.Shutdown(context.Background()))

	_, err = svc.Encode(context.Background(), &EncodeInput{Molecules: testutil.Library(1, testDV, testDE)})
	assert.ErrorIs(t, err, common.ErrShutdown)
}

func TestFingerprint(t *testing.T) {
	a := mpnn.DefaultConfig()
	b := mpnn.DefaultConfig()
	assert.Equal(t, Fingerprint(a), Fingerprint(b))

	b.Seed = 1
	assert.NotEqual(t, Fingerprint(a), Fingerprint(b))

	svc, err := NewService(testEngine(t, nil), WithFingerprint("custom"))
	require.NoError(t, err)
	assert.Equal(t, "custom", svc.Fingerprint())
}

func TestNewServiceFromConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.MPNN.AtomDim = testDV
	cfg.MPNN.BondDim = testDE
	cfg.MPNN.HiddenDim = 6
	cfg.Metrics.Enabled = true
	cfg.Log.OutputPaths = []string{"stderr"}
	config.ApplyDefaults(cfg)
	require.NoError(t, cfg.Validate())

	reg := prometheus.NewRegistry()
	svc, err := NewServiceFromConfig(cfg, reg)
	require.NoError(t, err)
	assert.Equal(t, 6+testDV, svc.OutputDim())
	assert.Equal(t, Fingerprint(cfg.MPNN.EngineConfig()), svc.Fingerprint())

	res, err := svc.Encode(context.Background(), &EncodeInput{Molecules: testutil.Library(3, testDV, testDE)})
	require.NoError(t, err)
	assert.Len(t, res.Embeddings[0], 6+testDV)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
	require.NoError(t, svc.Shutdown(context.Background()))
}

func TestNewServiceFromConfig_InvalidEngine(t *testing.T) {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.MPNN.Depth = -1

	_, err := NewServiceFromConfig(cfg, prometheus.NewRegistry())
	assert.True(t, errors.IsCode(err, errors.ErrCodePrecondition))
}
