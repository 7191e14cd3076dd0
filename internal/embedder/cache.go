package embedder

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is used when no positive size is configured
const DefaultCacheSize = 10000

// Cache provides in-memory LRU caching of embeddings by content hash.
// It is safe for concurrent use and is shared by every instance in a Pool.
// A nil *Cache is valid and never hits.
type Cache struct {
	cache *lru.Cache[string, *Embedding]
}

// NewCache creates a new embedding cache with LRU eviction
func NewCache(maxLen int) *Cache {
	if maxLen <= 0 {
		maxLen = DefaultCacheSize
	}
	cache, err := lru.New[string, *Embedding](maxLen)
	if err != nil {
		cache, _ = lru.New[string, *Embedding](DefaultCacheSize)
	}
	return &Cache{cache: cache}
}

// Key scopes a text hash to the provider and model that produced it
func (c *Cache) Key(provider, model, text string) string {
	return provider + ":" + model + ":" + ComputeHash(text)
}

// Get retrieves a deep copy of an embedding from cache
func (c *Cache) Get(key string) (*Embedding, bool) {
	if c == nil {
		return nil, false
	}
	emb, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}

	vectorCopy := make([]float32, len(emb.Vector))
	copy(vectorCopy, emb.Vector)

	return &Embedding{
		Vector:    vectorCopy,
		Dimension: emb.Dimension,
		Provider:  emb.Provider,
		Model:     emb.Model,
		Hash:      emb.Hash,
	}, true
}

// Set stores a copy of an embedding
func (c *Cache) Set(key string, emb *Embedding) {
	if c == nil || emb == nil {
		return
	}
	stored := *emb
	stored.Vector = make([]float32, len(emb.Vector))
	copy(stored.Vector, emb.Vector)
	c.cache.Add(key, &stored)
}

// Size returns the current cache size
func (c *Cache) Size() int {
	if c == nil {
		return 0
	}
	return c.cache.Len()
}

// Clear empties the cache
func (c *Cache) Clear() {
	if c != nil {
		c.cache.Purge()
	}
}
