package language

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ieee0824/stt-decoder-go/tokenizer"
)

// DefaultCacheSize is the number of (state, word) scores a ScaleCache keeps.
const DefaultCacheSize = 1 << 16

type cacheKey struct {
	state State
	word  tokenizer.TokenID
}

type cacheEntry struct {
	score float32
	next  State
}

// ScaleCache multiplies the scores of a wrapped model by a constant and
// memoizes the unscaled results. Failed lookups are not cached. The cache
// itself is synchronized; concurrent use is safe only if the wrapped model
// is.
type ScaleCache struct {
	lm    Model
	scale float32
	cache *lru.Cache[cacheKey, cacheEntry]
}

// NewScaleCache wraps lm. size <= 0 selects DefaultCacheSize.
func NewScaleCache(lm Model, scale float32, size int) (*ScaleCache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[cacheKey, cacheEntry](size)
	if err != nil {
		return nil, fmt.Errorf("create lm cache: %w", err)
	}
	return &ScaleCache{lm: lm, scale: scale, cache: c}, nil
}

func (c *ScaleCache) NullState() State { return c.lm.NullState() }

func (c *ScaleCache) GetScore(s State, w tokenizer.TokenID) (float32, State, bool) {
	k := cacheKey{state: s, word: w}
	if e, ok := c.cache.Get(k); ok {
		return e.score * c.scale, e.next, true
	}
	score, next, ok := c.lm.GetScore(s, w)
	if !ok {
		return 0, 0, false
	}
	c.cache.Add(k, cacheEntry{score: score, next: next})
	return score * c.scale, next, true
}

// Scale returns the multiplier applied to every score.
func (c *ScaleCache) Scale() float32 { return c.scale }

// Len returns the number of cached entries.
func (c *ScaleCache) Len() int { return c.cache.Len() }
