package cache

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ResourceType names one cacheable response category. Entries are keyed by
// (workflow instance, resource type).
type ResourceType string

const (
	ResourceMetadata        ResourceType = "metadata"
	ResourceKeywords        ResourceType = "keywords"
	ResourceSearchResults   ResourceType = "searchResults"
	ResourceValidation      ResourceType = "validation"
	ResourceRecommendations ResourceType = "recommendations"
	ResourceProcessMeta     ResourceType = "processMeta"
	ResourceShortlists      ResourceType = "shortlists"
)

// AllResources lists every known resource type
func AllResources() []ResourceType {
	return []ResourceType{
		ResourceMetadata,
		ResourceKeywords,
		ResourceSearchResults,
		ResourceValidation,
		ResourceRecommendations,
		ResourceProcessMeta,
		ResourceShortlists,
	}
}

// TTL holds the two freshness windows for one resource type. After StaleAfter
// a value is still returned but flagged stale; after EvictAfter it is gone.
type TTL struct {
	StaleAfter time.Duration
	EvictAfter time.Duration
}

// Table maps every resource type to its TTL windows
type Table map[ResourceType]TTL

// Validate checks every resource type has windows and EvictAfter > StaleAfter
func (t Table) Validate() error {
	for _, resource := range AllResources() {
		ttl, ok := t[resource]
		if !ok {
			return fmt.Errorf("cache ttl table: missing resource type %q", resource)
		}
		if ttl.StaleAfter <= 0 {
			return fmt.Errorf("cache ttl table: %s stale_after must be positive", resource)
		}
		if ttl.EvictAfter <= ttl.StaleAfter {
			return fmt.Errorf("cache ttl table: %s evict_after (%s) must exceed stale_after (%s)",
				resource, ttl.EvictAfter, ttl.StaleAfter)
		}
	}
	return nil
}

// Entry is what a cache read returns: the stored payload, when it was
// fetched, and whether it has passed its staleness window. A stale entry is
// still usable; it is just a candidate for re-fetching.
type Entry struct {
	Payload   any
	FetchedAt time.Time
	Stale     bool
}

type record struct {
	payload   any
	fetchedAt time.Time
}

// Cache holds the last-known-good response per (workflow instance, resource
// type) with per-resource TTL windows. Reads past the eviction window behave
// as misses. There is no background refresh; stale values are returned as-is.
type Cache struct {
	ttl    Table
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]record

	now func() time.Time // test hook
}

// New creates a cache with the given TTL table; the table is validated up
// front so a misconfigured window fails at startup, not at read time
func New(ttl Table, logger *slog.Logger) (*Cache, error) {
	if err := ttl.Validate(); err != nil {
		return nil, err
	}
	return &Cache{
		ttl:     ttl,
		logger:  logger,
		entries: make(map[string]record),
		now:     time.Now,
	}, nil
}

func key(instance string, resource ResourceType) string {
	return instance + ":" + string(resource)
}

// Read returns the cached entry for (instance, resource), or ok=false on a
// miss. Entries past their eviction window are removed and reported as
// misses; entries past their staleness window come back with Stale set.
func (c *Cache) Read(instance string, resource ResourceType) (*Entry, bool) {
	ttl := c.ttl[resource]

	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.entries[key(instance, resource)]
	if !ok {
		return nil, false
	}

	age := c.now().Sub(rec.fetchedAt)
	if age >= ttl.EvictAfter {
		delete(c.entries, key(instance, resource))
		c.logger.Debug("Cache entry evicted",
			slog.String("instance", instance),
			slog.String("resource", string(resource)),
			slog.Duration("age", age),
		)
		return nil, false
	}

	return &Entry{
		Payload:   rec.payload,
		FetchedAt: rec.fetchedAt,
		Stale:     age > ttl.StaleAfter,
	}, true
}

// Write stores payload for (instance, resource), restarting its TTL windows
func (c *Cache) Write(instance string, resource ResourceType, payload any) {
	c.mu.Lock()
	c.entries[key(instance, resource)] = record{payload: payload, fetchedAt: c.now()}
	c.mu.Unlock()
}

// Invalidate drops the given resource types for one instance. Resources not
// named are untouched.
func (c *Cache) Invalidate(instance string, resources ...ResourceType) {
	c.mu.Lock()
	for _, resource := range resources {
		delete(c.entries, key(instance, resource))
	}
	c.mu.Unlock()

	if len(resources) > 0 {
		c.logger.Debug("Cache invalidated",
			slog.String("instance", instance),
			slog.Any("resources", resources),
		)
	}
}

// InvalidateAll drops every cached resource for one instance
func (c *Cache) InvalidateAll(instance string) {
	c.Invalidate(instance, AllResources()...)
}

// Len reports how many live entries the cache currently holds
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
