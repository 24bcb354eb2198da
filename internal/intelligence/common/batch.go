package common

import (
	"context"
	stdliberrors "errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jababu3/chemprop/internal/infrastructure/monitoring/logging"
	"github.com/jababu3/chemprop/pkg/errors"
)

// ErrShutdown is returned by Process after Shutdown has been called.
var ErrShutdown = stdliberrors.New("batch processor is shutting down")

// ---------------------------------------------------------------------------
// ItemStatus enumeration
// ---------------------------------------------------------------------------

// ItemStatus represents the outcome status of a single batch item.
type ItemStatus int

const (
	ItemStatusSuccess   ItemStatus = iota // processing completed successfully
	ItemStatusFailed                      // processing failed with an error
	ItemStatusTimeout                     // processing exceeded its timeout
	ItemStatusCancelled                   // processing was cancelled (context or fail-fast)
)

// String returns the human-readable representation of an ItemStatus.
func (s ItemStatus) String() string {
	switch s {
	case ItemStatusSuccess:
		return "SUCCESS"
	case ItemStatusFailed:
		return "FAILED"
	case ItemStatusTimeout:
		return "TIMEOUT"
	case ItemStatusCancelled:
		return "CANCELLED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// ---------------------------------------------------------------------------
// Generic types
// ---------------------------------------------------------------------------

// ProcessFunc processes a single item.
type ProcessFunc[T, R any] func(ctx context.Context, item T) (R, error)

// ItemResult holds the outcome of processing a single item within a batch.
type ItemResult[R any] struct {
	Index      int        `json:"index"`
	Result     R          `json:"result"`
	Error      error      `json:"error,omitempty"`
	DurationMs float64    `json:"duration_ms"`
	Status     ItemStatus `json:"status"`
}

// BatchResult aggregates the outcomes of a batch.  Results are in input
// order.
type BatchResult[R any] struct {
	Results           []*ItemResult[R] `json:"results"`
	TotalCount        int              `json:"total_count"`
	SuccessCount      int              `json:"success_count"`
	FailureCount      int              `json:"failure_count"`
	CancelledCount    int              `json:"cancelled_count"`
	TotalDurationMs   float64          `json:"total_duration_ms"`
	AvgItemDurationMs float64          `json:"avg_item_duration_ms"`

	// Err is the root-cause failure: the error that stopped a fail-fast batch,
	// or else the first failed item's error in input order.
	Err error `json:"-"`
}

// ---------------------------------------------------------------------------
// BatchProcessor interface
// ---------------------------------------------------------------------------

// BatchProcessor fans a slice of items out over a bounded worker pool.
type BatchProcessor[T, R any] interface {
	// Process executes fn for every item, respecting the concurrency limit
	// and timeouts.  Item failures are reported in the result, not as the
	// returned error.
	Process(ctx context.Context, items []T, fn ProcessFunc[T, R]) (*BatchResult[R], error)

	// Shutdown waits for in-flight batches.  No new batches are accepted
	// afterwards.
	Shutdown(ctx context.Context) error
}

// ---------------------------------------------------------------------------
// BatchOption functional options
// ---------------------------------------------------------------------------

type batchConfig struct {
	name           string
	maxConcurrency int
	itemTimeout    time.Duration
	batchTimeout   time.Duration
	failFast       bool
	metrics        EncoderMetrics
	logger         logging.Logger
}

func defaultBatchConfig() *batchConfig {
	return &batchConfig{
		name:           "batch-processor",
		maxConcurrency: runtime.NumCPU(),
		itemTimeout:    30 * time.Second,
		batchTimeout:   5 * time.Minute,
	}
}

// BatchOption configures a batchProcessor.
type BatchOption func(*batchConfig)

// WithBatchName sets the label under which batch metrics are recorded.
func WithBatchName(name string) BatchOption {
	return func(c *batchConfig) {
		if name != "" {
			c.name = name
		}
	}
}

// WithMaxConcurrency sets the maximum number of items processed concurrently.
func WithMaxConcurrency(n int) BatchOption {
	return func(c *batchConfig) {
		if n > 0 {
			c.maxConcurrency = n
		}
	}
}

// WithItemTimeout sets the per-item processing timeout.
func WithItemTimeout(d time.Duration) BatchOption {
	return func(c *batchConfig) {
		if d > 0 {
			c.itemTimeout = d
		}
	}
}

// WithBatchTimeout sets the overall batch processing timeout.
func WithBatchTimeout(d time.Duration) BatchOption {
	return func(c *batchConfig) {
		if d > 0 {
			c.batchTimeout = d
		}
	}
}

// WithFailFast cancels the remaining items as soon as one fails.
func WithFailFast(on bool) BatchOption {
	return func(c *batchConfig) {
		c.failFast = on
	}
}

// WithBatchMetrics injects a metrics collector.
func WithBatchMetrics(m EncoderMetrics) BatchOption {
	return func(c *batchConfig) {
		c.metrics = m
	}
}

// WithBatchLogger injects a logger.
func WithBatchLogger(l logging.Logger) BatchOption {
	return func(c *batchConfig) {
		c.logger = l
	}
}

// ---------------------------------------------------------------------------
// batchProcessor implementation
// ---------------------------------------------------------------------------

type batchProcessor[T, R any] struct {
	cfg     *batchConfig
	metrics EncoderMetrics
	logger  logging.Logger

	shutdownOnce sync.Once
	isShutdown   atomic.Bool
	activeWg     sync.WaitGroup
}

// NewBatchProcessor creates a new BatchProcessor with the supplied options.
func NewBatchProcessor[T, R any](opts ...BatchOption) BatchProcessor[T, R] {
	cfg := defaultBatchConfig()
	for _, o := range opts {
		o(cfg)
	}
	if cfg.metrics == nil {
		cfg.metrics = NewNoopEncoderMetrics()
	}
	if cfg.logger == nil {
		cfg.logger = logging.NewNopLogger()
	}
	return &batchProcessor[T, R]{
		cfg:     cfg,
		metrics: cfg.metrics,
		logger:  cfg.logger,
	}
}

func (bp *batchProcessor[T, R]) Process(ctx context.Context, items []T, fn ProcessFunc[T, R]) (*BatchResult[R], error) {
	if fn == nil {
		return nil, errors.InvalidParam("process function must not be nil")
	}
	if bp.isShutdown.Load() {
		return nil, ErrShutdown
	}
	n := len(items)
	if n == 0 {
		return &BatchResult[R]{Results: []*ItemResult[R]{}}, nil
	}

	bp.activeWg.Add(1)
	defer bp.activeWg.Done()

	batchStart := time.Now()
	batchCtx, batchCancel := context.WithTimeout(ctx, bp.cfg.batchTimeout)
	defer batchCancel()

	g, gctx := errgroup.WithContext(batchCtx)
	g.SetLimit(bp.cfg.maxConcurrency)

	// each goroutine owns exactly one slot
	results := make([]*ItemResult[R], n)
	for i := range items {
		idx, item := i, items[i]
		if err := gctx.Err(); err != nil {
			results[idx] = cancelledResult[R](idx, err)
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[idx] = cancelledResult[R](idx, err)
				return nil
			}
			ir := bp.processOneItem(gctx, idx, item, fn)
			results[idx] = ir
			if bp.cfg.failFast && ir.Error != nil {
				return ir.Error
			}
			return nil
		})
	}
	rootErr := g.Wait()

	br := buildBatchResult(results, time.Since(batchStart))
	if rootErr != nil {
		br.Err = rootErr
	}

	bp.metrics.RecordBatchProcessing(ctx, &BatchMetricParams{
		BatchName:       bp.cfg.name,
		TotalItems:      br.TotalCount,
		SuccessItems:    br.SuccessCount,
		FailedItems:     br.FailureCount - br.CancelledCount,
		CancelledItems:  br.CancelledCount,
		TotalDurationMs: br.TotalDurationMs,
		MaxConcurrency:  bp.cfg.maxConcurrency,
	})
	bp.logger.Debug("batch processed",
		logging.String("batch", bp.cfg.name),
		logging.Int("total", br.TotalCount),
		logging.Int("failed", br.FailureCount),
		logging.Float64("duration_ms", br.TotalDurationMs))

	return br, nil
}

func (bp *batchProcessor[T, R]) Shutdown(ctx context.Context) error {
	bp.shutdownOnce.Do(func() {
		bp.isShutdown.Store(true)
	})

	done := make(chan struct{})
	go func() {
		bp.activeWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (bp *batchProcessor[T, R]) processOneItem(batchCtx context.Context, idx int, item T, fn ProcessFunc[T, R]) *ItemResult[R] {
	itemStart := time.Now()
	itemCtx, itemCancel := context.WithTimeout(batchCtx, bp.cfg.itemTimeout)
	defer itemCancel()

	result, err := fn(itemCtx, item)
	if err == nil {
		return &ItemResult[R]{
			Index:      idx,
			Result:     result,
			Status:     ItemStatusSuccess,
			DurationMs: msSince(itemStart),
		}
	}
	return &ItemResult[R]{
		Index:      idx,
		Error:      err,
		Status:     classifyError(batchCtx, err),
		DurationMs: msSince(itemStart),
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func cancelledResult[R any](idx int, err error) *ItemResult[R] {
	return &ItemResult[R]{
		Index:  idx,
		Error:  err,
		Status: classifyCtxError(err),
	}
}

func buildBatchResult[R any](results []*ItemResult[R], totalDuration time.Duration) *BatchResult[R] {
	br := &BatchResult[R]{
		Results:         results,
		TotalCount:      len(results),
		TotalDurationMs: float64(totalDuration.Microseconds()) / 1000.0,
	}
	var sumItemMs float64
	for _, r := range results {
		switch r.Status {
		case ItemStatusSuccess:
			br.SuccessCount++
		case ItemStatusCancelled:
			br.CancelledCount++
			br.FailureCount++
		default:
			br.FailureCount++
			if br.Err == nil {
				br.Err = r.Error
			}
		}
		sumItemMs += r.DurationMs
	}
	if br.Err == nil && br.CancelledCount > 0 {
		for _, r := range results {
			if r.Status == ItemStatusCancelled {
				br.Err = r.Error
				break
			}
		}
	}
	if br.TotalCount > 0 {
		br.AvgItemDurationMs = sumItemMs / float64(br.TotalCount)
	}
	return br
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000.0
}

func classifyCtxError(err error) ItemStatus {
	if err == nil {
		return ItemStatusSuccess
	}
	if stdliberrors.Is(err, context.DeadlineExceeded) {
		return ItemStatusTimeout
	}
	return ItemStatusCancelled
}

func classifyError(batchCtx context.Context, err error) ItemStatus {
	if err == nil {
		return ItemStatusSuccess
	}
	if stdliberrors.Is(err, context.DeadlineExceeded) {
		return ItemStatusTimeout
	}
	if stdliberrors.Is(err, context.Canceled) {
		return ItemStatusCancelled
	}
	switch batchCtx.Err() {
	case context.DeadlineExceeded:
		return ItemStatusTimeout
	case context.Canceled:
		return ItemStatusCancelled
	}
	return ItemStatusFailed
}
