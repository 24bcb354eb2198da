package config

import (
	"runtime"
	"time"

	"github.com/spf13/viper"

	"github.com/jababu3/chemprop/internal/intelligence/mpnn"
)

// ─────────────────────────────────────────────────────────────────────────────
// Default value constants
// ─────────────────────────────────────────────────────────────────────────────

const (
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultBatchSize   = 50
	DefaultItemTimeout = 30 * time.Second
	DefaultCacheTTL    = 24 * time.Hour

	DefaultRedisAddr      = "localhost:6379"
	DefaultRedisKeyPrefix = "chemprop:emb:"

	DefaultMetricsNamespace = "chemprop"
)

// ApplyDefaults fills every zero-value field in cfg with its default.  Fields
// that have already been set are left unchanged so that explicit
// configuration always wins.  Booleans default to false and are not touched.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	// ── Log ───────────────────────────────────────────────────────────────────
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}

	// ── MPNN ──────────────────────────────────────────────────────────────────
	if cfg.MPNN.Locus == "" {
		cfg.MPNN.Locus = string(mpnn.LocusBond)
	}
	if cfg.MPNN.AtomDim == 0 {
		cfg.MPNN.AtomDim = mpnn.DefaultAtomDim
	}
	if cfg.MPNN.BondDim == 0 {
		cfg.MPNN.BondDim = mpnn.DefaultBondDim
	}
	if cfg.MPNN.HiddenDim == 0 {
		cfg.MPNN.HiddenDim = mpnn.DefaultHiddenDim
	}
	if cfg.MPNN.Depth == 0 {
		cfg.MPNN.Depth = mpnn.DefaultDepth
	}
	if cfg.MPNN.Activation == "" {
		cfg.MPNN.Activation = string(mpnn.ActivationReLU)
	}
	if cfg.MPNN.Aggregation == "" {
		cfg.MPNN.Aggregation = string(mpnn.AggregationMean)
	}
	if cfg.MPNN.NormConstant == 0 {
		cfg.MPNN.NormConstant = mpnn.DefaultNormConstant
	}

	// ── Encoding ──────────────────────────────────────────────────────────────
	if cfg.Encoding.BatchSize == 0 {
		cfg.Encoding.BatchSize = DefaultBatchSize
	}
	if cfg.Encoding.MaxConcurrency == 0 {
		cfg.Encoding.MaxConcurrency = runtime.NumCPU()
	}
	if cfg.Encoding.ItemTimeout == 0 {
		cfg.Encoding.ItemTimeout = DefaultItemTimeout
	}
	if cfg.Encoding.CacheTTL == 0 {
		cfg.Encoding.CacheTTL = DefaultCacheTTL
	}

	// ── Redis ─────────────────────────────────────────────────────────────────
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = DefaultRedisAddr
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}
	// DB is an int; 0 is a valid explicit value and also the default.

	// ── Metrics ───────────────────────────────────────────────────────────────
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
}

// registerDefaults makes every key known to v.  Viper only consults the
// environment for keys it knows about, so without this LoadFromEnv would
// ignore CHEMPROP_* variables that have no counterpart in a file.
func registerDefaults(v *viper.Viper) {
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.format", DefaultLogFormat)

	v.SetDefault("mpnn.locus", string(mpnn.LocusBond))
	v.SetDefault("mpnn.d_v", mpnn.DefaultAtomDim)
	v.SetDefault("mpnn.d_e", mpnn.DefaultBondDim)
	v.SetDefault("mpnn.d_h", mpnn.DefaultHiddenDim)
	v.SetDefault("mpnn.d_vd", 0)
	v.SetDefault("mpnn.depth", mpnn.DefaultDepth)
	v.SetDefault("mpnn.bias", false)
	v.SetDefault("mpnn.undirected", false)
	v.SetDefault("mpnn.dropout", 0.0)
	v.SetDefault("mpnn.activation", string(mpnn.ActivationReLU))
	v.SetDefault("mpnn.aggregation", string(mpnn.AggregationMean))
	v.SetDefault("mpnn.norm_constant", mpnn.DefaultNormConstant)
	v.SetDefault("mpnn.seed", 0)

	v.SetDefault("encoding.batch_size", DefaultBatchSize)
	v.SetDefault("encoding.max_concurrency", runtime.NumCPU())
	v.SetDefault("encoding.item_timeout", DefaultItemTimeout)
	v.SetDefault("encoding.cache_enabled", false)
	v.SetDefault("encoding.cache_ttl", DefaultCacheTTL)

	v.SetDefault("redis.mode", "standalone")
	v.SetDefault("redis.addr", DefaultRedisAddr)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", DefaultRedisKeyPrefix)
	v.SetDefault("redis.dial_timeout", 0)
	v.SetDefault("redis.read_timeout", 0)
	v.SetDefault("redis.write_timeout", 0)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.namespace", DefaultMetricsNamespace)
}
