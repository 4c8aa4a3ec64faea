package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"wikichat/internal/domain"
)

// CachedEmbedder remembers vectors by text so re-indexing an overlapping
// corpus and repeated questions skip the embedding server.
//
// Entries live in two generations. Lookups promote cold hits to hot; when
// hot fills, it becomes cold and the old cold generation is dropped. That
// bounds memory at capacity entries and evicts roughly least-recently-used.
type CachedEmbedder struct {
	inner domain.EmbeddingProvider
	half  int

	mu   sync.Mutex
	hot  map[uint64][]float32
	cold map[uint64][]float32
}

// NewCachedEmbedder wraps inner with a cache of about capacity vectors.
// A capacity below 2 returns inner unchanged.
func NewCachedEmbedder(inner domain.EmbeddingProvider, capacity int) domain.EmbeddingProvider {
	if capacity < 2 {
		return inner
	}
	half := capacity / 2
	return &CachedEmbedder{
		inner: inner,
		half:  half,
		hot:   make(map[uint64][]float32, half),
		cold:  map[uint64][]float32{},
	}
}

// Embed implements domain.EmbeddingProvider. Misses go to the inner
// provider in one call, in input order.
func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	keys := make([]uint64, len(texts))
	var missing []int

	c.mu.Lock()
	for i, t := range texts {
		keys[i] = textKey(t)
		if v, ok := c.lookup(keys[i]); ok {
			out[i] = v
		} else {
			missing = append(missing, i)
		}
	}
	c.mu.Unlock()

	if len(missing) == 0 {
		return out, nil
	}

	batch := make([]string, len(missing))
	for j, i := range missing {
		batch[j] = texts[i]
	}
	vecs, err := c.inner.Embed(ctx, batch)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(batch) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", domain.ErrEmbeddingFailed, len(vecs), len(batch))
	}

	c.mu.Lock()
	for j, i := range missing {
		out[i] = vecs[j]
		c.store(keys[i], vecs[j])
	}
	c.mu.Unlock()
	return out, nil
}

// lookup finds key, promoting a cold hit. Caller holds c.mu.
func (c *CachedEmbedder) lookup(key uint64) ([]float32, bool) {
	if v, ok := c.hot[key]; ok {
		return v, true
	}
	v, ok := c.cold[key]
	if ok {
		delete(c.cold, key)
		c.store(key, v)
	}
	return v, ok
}

// store puts key in the hot generation, rotating when it is full.
// Caller holds c.mu.
func (c *CachedEmbedder) store(key uint64, v []float32) {
	if _, ok := c.hot[key]; !ok && len(c.hot) >= c.half {
		c.cold = c.hot
		c.hot = make(map[uint64][]float32, c.half)
	}
	c.hot[key] = v
}

// Dimensions implements domain.EmbeddingProvider.
func (c *CachedEmbedder) Dimensions() int { return c.inner.Dimensions() }

// Name implements domain.EmbeddingProvider.
func (c *CachedEmbedder) Name() string { return c.inner.Name() }

// Len returns the number of cached vectors.
func (c *CachedEmbedder) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.hot) + len(c.cold)
}

func textKey(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

var _ domain.EmbeddingProvider = (*CachedEmbedder)(nil)
