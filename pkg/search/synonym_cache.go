package search

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/pawprint/pkg/observability"
)

// CachedSynonymStore memoizes Lookup and Reverse results of another store.
// Upsert writes through and purges both caches.
type CachedSynonymStore struct {
	next    SynonymStore
	forward *lru.LRU[string, *SynonymEntry]
	reverse *lru.LRU[string, []SynonymEntry]
	metrics *observability.Metrics
}

// NewCachedSynonymStore wraps next with size-bounded, TTL-expiring caches
func NewCachedSynonymStore(next SynonymStore, size int, ttl time.Duration, metrics *observability.Metrics) *CachedSynonymStore {
	if size <= 0 {
		size = 1024
	}
	return &CachedSynonymStore{
		next:    next,
		forward: lru.NewLRU[string, *SynonymEntry](size, nil, ttl),
		reverse: lru.NewLRU[string, []SynonymEntry](size, nil, ttl),
		metrics: metrics,
	}
}

// Lookup caches misses as nil entries too
func (c *CachedSynonymStore) Lookup(ctx context.Context, term string) (*SynonymEntry, error) {
	if entry, ok := c.forward.Get(term); ok {
		c.metrics.SynonymCacheLookup(true)
		return entry, nil
	}
	c.metrics.SynonymCacheLookup(false)

	entry, err := c.next.Lookup(ctx, term)
	if err != nil {
		return nil, err
	}
	c.forward.Add(term, entry)
	return entry, nil
}

func (c *CachedSynonymStore) Reverse(ctx context.Context, term string) ([]SynonymEntry, error) {
	if entries, ok := c.reverse.Get(term); ok {
		c.metrics.SynonymCacheLookup(true)
		return entries, nil
	}
	c.metrics.SynonymCacheLookup(false)

	entries, err := c.next.Reverse(ctx, term)
	if err != nil {
		return nil, err
	}
	c.reverse.Add(term, entries)
	return entries, nil
}

func (c *CachedSynonymStore) Upsert(ctx context.Context, term string, synonyms []string) (*SynonymEntry, error) {
	entry, err := c.next.Upsert(ctx, term, synonyms)
	if err != nil {
		return nil, err
	}
	// a single upsert can change reverse lookups for every synonym
	c.forward.Purge()
	c.reverse.Purge()
	return entry, nil
}

func (c *CachedSynonymStore) List(ctx context.Context, limit, offset int) ([]SynonymEntry, error) {
	return c.next.List(ctx, limit, offset)
}
