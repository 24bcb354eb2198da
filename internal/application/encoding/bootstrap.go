package encoding

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jababu3/chemprop/internal/config"
	"github.com/jababu3/chemprop/internal/infrastructure/database/redis"
	"github.com/jababu3/chemprop/internal/infrastructure/monitoring/logging"
	"github.com/jababu3/chemprop/internal/intelligence/common"
	"github.com/jababu3/chemprop/internal/intelligence/mpnn"
)

// NewServiceFromConfig wires a Service from a loaded configuration: a zap
// logger, Prometheus metrics registered on reg when enabled, a freshly
// initialized engine and, when enabled, the Redis embedding cache.  The
// Redis client is closed by Shutdown.
func NewServiceFromConfig(cfg *config.Config, reg prometheus.Registerer) (Service, error) {
	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	logger = logger.Named("encoding")

	var metrics common.EncoderMetrics = common.NewNoopEncoderMetrics()
	if cfg.Metrics.Enabled {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		pm, err := common.NewPrometheusEncoderMetrics(reg, cfg.Metrics.Namespace)
		if err != nil {
			return nil, err
		}
		metrics = pm
	}

	engineCfg := cfg.MPNN.EngineConfig()
	engine, err := mpnn.New(engineCfg)
	if err != nil {
		return nil, err
	}
	fp := Fingerprint(engineCfg)

	opts := []Option{
		WithLogger(logger),
		WithMetrics(metrics),
		WithBatchSize(cfg.Encoding.BatchSize),
		WithMaxConcurrency(cfg.Encoding.MaxConcurrency),
		WithItemTimeout(cfg.Encoding.ItemTimeout),
		WithFingerprint(fp),
	}

	if cfg.Encoding.CacheEnabled {
		client, err := redis.NewClient(&cfg.Redis, logger.Named("redis"))
		if err != nil {
			return nil, err
		}
		cache := redis.NewEmbeddingCache(client, fp, logger.Named("cache"), redis.WithTTL(cfg.Encoding.CacheTTL))
		opts = append(opts, WithCache(cache), withCloser(client.Close))
	}

	logger.Info("encoding service configured",
		logging.String("locus", string(engineCfg.Locus)),
		logging.Int("d_h", engineCfg.DH),
		logging.Int("depth", engineCfg.Depth),
		logging.Int("output_dim", engineCfg.OutputDim()),
		logging.Bool("cache", cfg.Encoding.CacheEnabled),
		logging.String("fingerprint", fp))

	return NewService(engine, opts...)
}
