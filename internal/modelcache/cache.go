// Package modelcache shares loaded graphs, vocabularies and n-gram models
// between recognizers in one process. Every cached artifact is read-only.
package modelcache

import (
	"fmt"
	"log/slog"

	"github.com/dgraph-io/ristretto"

	"github.com/ieee0824/stt-decoder-go/fsm"
	"github.com/ieee0824/stt-decoder-go/language"
	"github.com/ieee0824/stt-decoder-go/tokenizer"
)

const (
	defaultNumCounters = 1e5     // counters for admission policy
	defaultMaxCost     = 4 << 30 // 4GB of estimated artifact size
	defaultBufferItems = 64      // buffer items for async writes
)

// Config configures the cache. Zero fields take defaults.
type Config struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
}

func applyDefaults(config *Config) *Config {
	cfg := &Config{
		NumCounters: defaultNumCounters,
		MaxCost:     defaultMaxCost,
		BufferItems: defaultBufferItems,
	}
	if config == nil {
		return cfg
	}
	if config.NumCounters > 0 {
		cfg.NumCounters = config.NumCounters
	}
	if config.MaxCost > 0 {
		cfg.MaxCost = config.MaxCost
	}
	if config.BufferItems > 0 {
		cfg.BufferItems = config.BufferItems
	}
	return cfg
}

// Cache loads artifacts by path and keeps them, costed by estimated size.
// It is safe for concurrent use; concurrent misses on one path may load it
// more than once.
type Cache struct {
	cache  *ristretto.Cache
	logger *slog.Logger
}

// New creates a cache. A nil logger falls back to slog.Default.
func New(config *Config, logger *slog.Logger) (*Cache, error) {
	cfg := applyDefaults(config)
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
	})
	if err != nil {
		return nil, fmt.Errorf("create model cache: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{cache: cache, logger: logger}, nil
}

func get[T any](c *Cache, kind, path string, load func(string) (T, error), cost func(T) int64) (T, error) {
	key := kind + ":" + path
	if v, found := c.cache.Get(key); found {
		if t, ok := v.(T); ok {
			return t, nil
		}
	}

	t, err := load(path)
	if err != nil {
		var zero T
		return zero, err
	}
	if !c.cache.Set(key, t, cost(t)) {
		c.logger.Debug("model cache rejected artifact", "kind", kind, "path", path)
	}
	c.cache.Wait()
	c.logger.Debug("loaded artifact", "kind", kind, "path", path)
	return t, nil
}

// Graph returns the graph stored at path, binary or text.
func (c *Cache) Graph(path string) (*fsm.Graph, error) {
	return get(c, "graph", path, fsm.ReadFile, func(g *fsm.Graph) int64 {
		return g.NumArcs*20 + (g.NumStates+1)*4
	})
}

// Tokenizer returns the vocabulary stored at path.
func (c *Cache) Tokenizer(path string) (*tokenizer.Tokenizer, error) {
	return get(c, "vocab", path, tokenizer.LoadFile, func(t *tokenizer.Tokenizer) int64 {
		return int64(t.Size()) * 32
	})
}

// NGram returns the ARPA model stored at path.
func (c *Cache) NGram(path string) (*language.NGramModel, error) {
	return get(c, "ngram", path, language.LoadARPAFile, func(m *language.NGramModel) int64 {
		var n int64
		for order := 1; order <= m.Order; order++ {
			n += int64(m.NumNGrams(order))
		}
		return n*48 + int64(len(m.Vocab()))*32
	})
}

// Close stops the cache's background goroutines.
func (c *Cache) Close() {
	c.cache.Close()
}
