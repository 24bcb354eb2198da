// Package config defines the configuration structures for the chemprop
// encoder service.  No I/O lives in this file, only plain data types,
// conversion helpers and validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/jababu3/chemprop/internal/infrastructure/database/redis"
	"github.com/jababu3/chemprop/internal/infrastructure/monitoring/logging"
	"github.com/jababu3/chemprop/internal/intelligence/mpnn"
)

// ─────────────────────────────────────────────────────────────────────────────
// Sub-configuration structs
// ─────────────────────────────────────────────────────────────────────────────

// MPNNConfig mirrors mpnn.Config with flat, file-friendly field types.
type MPNNConfig struct {
	Locus         string  `mapstructure:"locus"` // "bond" | "atom"
	AtomDim       int     `mapstructure:"d_v"`
	BondDim       int     `mapstructure:"d_e"`
	HiddenDim     int     `mapstructure:"d_h"`
	DescriptorDim int     `mapstructure:"d_vd"`
	Depth         int     `mapstructure:"depth"`
	Bias          bool    `mapstructure:"bias"`
	Undirected    bool    `mapstructure:"undirected"`
	Dropout       float64 `mapstructure:"dropout"`
	Activation    string  `mapstructure:"activation"`
	Aggregation   string  `mapstructure:"aggregation"` // "mean" | "sum" | "norm"
	NormConstant  float64 `mapstructure:"norm_constant"`
	Seed          int64   `mapstructure:"seed"`
}

// EngineConfig converts the section into the engine's construction config.
func (m *MPNNConfig) EngineConfig() *mpnn.Config {
	return &mpnn.Config{
		Locus:        mpnn.Locus(strings.ToLower(m.Locus)),
		DV:           m.AtomDim,
		DE:           m.BondDim,
		DH:           m.HiddenDim,
		Bias:         m.Bias,
		Depth:        m.Depth,
		Undirected:   m.Undirected,
		Dropout:      m.Dropout,
		Activation:   mpnn.ActivationType(strings.ToLower(m.Activation)),
		DVD:          m.DescriptorDim,
		Aggregation:  mpnn.AggregationType(strings.ToLower(m.Aggregation)),
		NormConstant: m.NormConstant,
		Seed:         m.Seed,
	}
}

// EncodingConfig holds the tunables of the batch encoding service.
type EncodingConfig struct {
	BatchSize      int           `mapstructure:"batch_size"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	ItemTimeout    time.Duration `mapstructure:"item_timeout"`
	CacheEnabled   bool          `mapstructure:"cache_enabled"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
}

// MetricsConfig controls Prometheus collector registration.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Root Config
// ─────────────────────────────────────────────────────────────────────────────

// Config is the root configuration structure.  Every component reads its
// settings from the relevant sub-struct.
type Config struct {
	Log      logging.LogConfig `mapstructure:"log"`
	MPNN     MPNNConfig        `mapstructure:"mpnn"`
	Encoding EncodingConfig    `mapstructure:"encoding"`
	Redis    redis.RedisConfig `mapstructure:"redis"`
	Metrics  MetricsConfig     `mapstructure:"metrics"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Validation
// ─────────────────────────────────────────────────────────────────────────────

// Validate performs semantic validation of the fully-populated Config.
// It returns the first error encountered.
func (c *Config) Validate() error {
	// Log
	switch strings.ToLower(c.Log.Level) {
	case logging.LevelDebug, logging.LevelInfo, logging.LevelWarn, logging.LevelError:
	default:
		return fmt.Errorf("config: log.level %q is invalid; expected debug|info|warn|error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: log.format %q is invalid; expected json|console", c.Log.Format)
	}

	// MPNN
	if err := c.MPNN.EngineConfig().Validate(); err != nil {
		return fmt.Errorf("config: mpnn: %w", err)
	}

	// Encoding
	if c.Encoding.BatchSize < 1 {
		return fmt.Errorf("config: encoding.batch_size must be ≥ 1, got %d", c.Encoding.BatchSize)
	}
	if c.Encoding.MaxConcurrency < 1 {
		return fmt.Errorf("config: encoding.max_concurrency must be ≥ 1, got %d", c.Encoding.MaxConcurrency)
	}
	if c.Encoding.CacheTTL < 0 {
		return fmt.Errorf("config: encoding.cache_ttl must not be negative, got %s", c.Encoding.CacheTTL)
	}

	// Redis is only dialled when the embedding cache is on.
	if c.Encoding.CacheEnabled {
		if err := validateRedis(&c.Redis); err != nil {
			return err
		}
	}

	// Metrics
	if c.Metrics.Enabled && c.Metrics.Namespace == "" {
		return fmt.Errorf("config: metrics.namespace is required when metrics are enabled")
	}

	return nil
}

func validateRedis(r *redis.RedisConfig) error {
	if r.DB < 0 {
		return fmt.Errorf("config: redis.db must be ≥ 0, got %d", r.DB)
	}
	switch r.Mode {
	case "", redis.ModeStandalone:
		if r.Addr == "" {
			return fmt.Errorf("config: redis.addr is required")
		}
	case redis.ModeSentinel:
		if r.MasterName == "" || len(r.SentinelAddrs) == 0 {
			return fmt.Errorf("config: redis.master_name and redis.sentinel_addrs are required in sentinel mode")
		}
	case redis.ModeCluster:
		if len(r.ClusterAddrs) == 0 {
			return fmt.Errorf("config: redis.cluster_addrs is required in cluster mode")
		}
	default:
		return fmt.Errorf("config: redis.mode %q is invalid; expected standalone|sentinel|cluster", r.Mode)
	}
	return nil
}
