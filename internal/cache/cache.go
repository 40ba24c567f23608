package cache

import (
	"context"
	"slices"
	"sync"
	"time"

	"meal-planner/internal/recipe"
)

// Entry is a cached value: a recipe, a list of search results, or a marker
// recording that the key is confirmed absent.
type Entry struct {
	Recipe    *recipe.Recipe   `json:"recipe,omitempty"`
	Summaries []recipe.Summary `json:"summaries,omitempty"`
	Negative  bool             `json:"negative,omitempty"`
}

// Cache is a short-lived lookaside cache. Expired entries behave as misses.
type Cache interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, entry Entry, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// RecipeKey is the cache key of a single recipe.
func RecipeKey(id string) string { return "recipe:" + id }

// SearchKey is the cache key of a search fingerprint.
func SearchKey(fingerprint string) string { return "search:" + fingerprint }

type memoryItem struct {
	entry     Entry
	expiresAt time.Time
}

// MemoryCache is an in-process Cache. Expiry is checked on read; there is
// no background sweeper.
type MemoryCache struct {
	mu    sync.RWMutex
	items map[string]memoryItem
	now   func() time.Time
}

// NewMemoryCache creates an empty in-memory cache. A nil clock means time.Now.
func NewMemoryCache(now func() time.Time) *MemoryCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryCache{items: make(map[string]memoryItem), now: now}
}

func (c *MemoryCache) Get(_ context.Context, key string) (Entry, bool, error) {
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return Entry{}, false, nil
	}

	if !c.now().Before(item.expiresAt) {
		c.mu.Lock()
		// Another writer may have refreshed the key in between.
		if cur, ok := c.items[key]; ok && cur.expiresAt.Equal(item.expiresAt) {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return Entry{}, false, nil
	}
	return copyEntry(item.entry), true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, entry Entry, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	c.items[key] = memoryItem{entry: copyEntry(entry), expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
	return nil
}

// Len reports the number of stored entries, including expired ones not yet
// read.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func copyEntry(e Entry) Entry {
	out := Entry{Negative: e.Negative}
	if e.Recipe != nil {
		r := e.Recipe.Clone()
		out.Recipe = &r
	}
	if e.Summaries != nil {
		out.Summaries = make([]recipe.Summary, len(e.Summaries))
		for i, s := range e.Summaries {
			s.Tags = slices.Clone(s.Tags)
			out.Summaries[i] = s
		}
	}
	return out
}
