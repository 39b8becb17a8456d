package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedProvider memoizes vectors by text hash. Failures are not cached.
type CachedProvider struct {
	inner    Provider
	cache    *lru.Cache[string, []float32]
	observer CacheObserver
}

// CacheObserver counts lookups.
type CacheObserver interface {
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
}

const cacheType = "embedding"

// SetObserver reports every lookup to o.
func (c *CachedProvider) SetObserver(o CacheObserver) {
	c.observer = o
}

func (c *CachedProvider) lookup(text string) ([]float32, bool) {
	v, ok := c.cache.Get(key(text))
	if c.observer != nil {
		if ok {
			c.observer.RecordCacheHit(cacheType)
		} else {
			c.observer.RecordCacheMiss(cacheType)
		}
	}
	return v, ok
}

// NewCachedProvider wraps inner with an LRU of the given size.
func NewCachedProvider(inner Provider, size int) (*CachedProvider, error) {
	if size <= 0 {
		size = DefaultConfig().CacheSize
	}
	c, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &CachedProvider{inner: inner, cache: c}, nil
}

func (c *CachedProvider) Name() string    { return c.inner.Name() }
func (c *CachedProvider) Dimensions() int { return c.inner.Dimensions() }

func (c *CachedProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, t := range texts {
		if v, ok := c.lookup(t); ok {
			out[i] = v
			continue
		}
		missing = append(missing, t)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := c.inner.Embed(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, v := range vecs {
		out[missingIdx[j]] = v
		c.cache.Add(key(missing[j]), v)
	}
	return out, nil
}

func (c *CachedProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.lookup(text); ok {
		return v, nil
	}
	v, err := c.inner.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key(text), v)
	return v, nil
}

// Len reports the number of cached vectors.
func (c *CachedProvider) Len() int { return c.cache.Len() }

func key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
