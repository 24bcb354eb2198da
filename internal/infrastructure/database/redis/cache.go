package redis

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jababu3/chemprop/internal/infrastructure/monitoring/logging"
	"github.com/jababu3/chemprop/pkg/errors"
)

const (
	defaultKeyPrefix = "chemprop:emb:"
	defaultTTL       = 24 * time.Hour
	scanBatch        = 100
)

var (
	ErrCacheMiss           = errors.New(errors.ErrCodeCacheMiss, "embedding cache miss")
	ErrSerializationFailed = errors.New(errors.ErrCodeCacheError, "embedding serialization failed")
)

// EmbeddingCache stores per-molecule embeddings as JSON arrays under
// "<prefix><fingerprint>:<key>".  The fingerprint identifies the engine that
// produced them, so two engines never read each other's vectors.
type EmbeddingCache struct {
	client      *Client
	logger      logging.Logger
	prefix      string
	fingerprint string
	ttl         time.Duration
}

// CacheOption configures an EmbeddingCache.
type CacheOption func(*EmbeddingCache)

// WithPrefix overrides the key prefix taken from the client config.
func WithPrefix(prefix string) CacheOption {
	return func(c *EmbeddingCache) { c.prefix = prefix }
}

// WithTTL sets the expiry of stored embeddings.  Zero keeps them forever.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *EmbeddingCache) {
		if ttl >= 0 {
			c.ttl = ttl
		}
	}
}

// NewEmbeddingCache returns a cache scoped to fingerprint.
func NewEmbeddingCache(client *Client, fingerprint string, log logging.Logger, opts ...CacheOption) *EmbeddingCache {
	if log == nil {
		log = logging.NewNopLogger()
	}
	c := &EmbeddingCache{
		client:      client,
		logger:      log,
		prefix:      defaultKeyPrefix,
		fingerprint: fingerprint,
		ttl:         defaultTTL,
	}
	if cfg := client.Config(); cfg != nil && cfg.KeyPrefix != "" {
		c.prefix = cfg.KeyPrefix
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fingerprint returns the engine fingerprint the cache is scoped to.
func (c *EmbeddingCache) Fingerprint() string {
	return c.fingerprint
}

func (c *EmbeddingCache) fullKey(key string) string {
	return c.prefix + c.fingerprint + ":" + key
}

// Get returns the embedding stored under key or ErrCacheMiss.
func (c *EmbeddingCache) Get(ctx context.Context, key string) ([]float64, error) {
	data, err := c.client.Get(ctx, c.fullKey(key)).Bytes()
	if err == redis.Nil {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeCacheError, "failed to get embedding")
	}
	var emb []float64
	if err := json.Unmarshal(data, &emb); err != nil {
		c.logger.Warn("discarding undecodable embedding", logging.String("key", key), logging.Err(err))
		return nil, ErrCacheMiss
	}
	return emb, nil
}

// GetMany fetches keys with a single MGET.  The result holds hits only;
// missing and undecodable entries are absent.
func (c *EmbeddingCache) GetMany(ctx context.Context, keys []string) (map[string][]float64, error) {
	hits := make(map[string][]float64, len(keys))
	if len(keys) == 0 {
		return hits, nil
	}
	fullKeys := make([]string, len(keys))
	for i, k := range keys {
		fullKeys[i] = c.fullKey(k)
	}

	vals, err := c.client.MGet(ctx, fullKeys...).Result()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeCacheError, "failed to mget embeddings")
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var emb []float64
		if err := json.Unmarshal([]byte(s), &emb); err != nil {
			c.logger.Warn("discarding undecodable embedding", logging.String("key", keys[i]), logging.Err(err))
			continue
		}
		hits[keys[i]] = emb
	}
	return hits, nil
}

// Set stores one embedding with the configured TTL.
func (c *EmbeddingCache) Set(ctx context.Context, key string, emb []float64) error {
	data, err := json.Marshal(emb)
	if err != nil {
		return ErrSerializationFailed.WithCause(err)
	}
	if err := c.client.Set(ctx, c.fullKey(key), string(data), c.ttl).Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "failed to set embedding")
	}
	return nil
}

// SetMany stores items in one pipeline, in key order.
func (c *EmbeddingCache) SetMany(ctx context.Context, items map[string][]float64) error {
	if len(items) == 0 {
		return nil
	}
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pipe := c.client.Pipeline()
	for _, k := range keys {
		data, err := json.Marshal(items[k])
		if err != nil {
			return ErrSerializationFailed.WithCause(err)
		}
		pipe.Set(ctx, c.fullKey(k), string(data), c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "failed to store embeddings")
	}
	return nil
}

// Invalidate removes every embedding stored under this fingerprint and
// returns the number of keys deleted.
func (c *EmbeddingCache) Invalidate(ctx context.Context) (int64, error) {
	var deleted int64
	var cursor uint64
	match := c.prefix + c.fingerprint + ":*"
	for {
		keys, next, err := c.client.Scan(ctx, cursor, match, scanBatch).Result()
		if err != nil {
			return deleted, errors.Wrap(err, errors.ErrCodeCacheError, "failed to scan embeddings")
		}
		if len(keys) > 0 {
			n, err := c.client.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, errors.Wrap(err, errors.ErrCodeCacheError, "failed to delete embeddings")
			}
			deleted += n
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	c.logger.Info("embedding cache invalidated",
		logging.String("fingerprint", c.fingerprint),
		logging.Int64("deleted", deleted))
	return deleted, nil
}
