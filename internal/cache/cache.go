// Package cache provides a namespace-partitioned, TTL-bounded in-memory
// store that shields the mail provider from redundant reads. Entries live
// only in process memory and are never persisted.
package cache

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Namespace identifies an independently configured cache partition.
type Namespace string

const (
	// NamespaceMessageLists caches message-list query results. Must be
	// invalidated after any mutating mail-provider action.
	NamespaceMessageLists Namespace = "message_lists"

	// NamespaceAnalytics caches aggregate analytics results.
	NamespaceAnalytics Namespace = "analytics"

	// NamespaceCounts caches mailbox counts. Volatile, short TTL.
	NamespaceCounts Namespace = "counts"

	// NamespaceLabels caches label lists. Near-static, long TTL.
	NamespaceLabels Namespace = "labels"
)

// NamespaceConfig holds per-namespace tuning.
type NamespaceConfig struct {
	TTL        time.Duration
	MaxEntries int
}

// Config maps each namespace to its tuning.
type Config map[Namespace]NamespaceConfig

// DefaultConfig returns the default per-namespace TTLs and capacities.
func DefaultConfig() Config {
	return Config{
		NamespaceMessageLists: {TTL: 5 * time.Minute, MaxEntries: 200},
		NamespaceAnalytics:    {TTL: 15 * time.Minute, MaxEntries: 100},
		NamespaceCounts:       {TTL: 2 * time.Minute, MaxEntries: 100},
		NamespaceLabels:       {TTL: time.Hour, MaxEntries: 50},
	}
}

type entry struct {
	value     any
	writtenAt time.Time
	ttl       time.Duration
}

func (e entry) expired(now time.Time) bool {
	return now.Sub(e.writtenAt) >= e.ttl
}

// Stats reports cache effectiveness counters.
type Stats struct {
	Hits    int64
	Misses  int64
	Entries map[Namespace]int
}

// Cache is the namespaced TTL store. One instance is wired per process and
// shared by all read paths.
type Cache struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	spaces map[Namespace]map[string]entry
	hits   int64
	misses int64
}

// New creates a cache. Namespaces missing from cfg fall back to defaults.
func New(cfg Config, logger *slog.Logger) *Cache {
	defaults := DefaultConfig()
	if cfg == nil {
		cfg = defaults
	} else {
		for ns, nc := range defaults {
			if _, ok := cfg[ns]; !ok {
				cfg[ns] = nc
			}
		}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Cache{
		cfg:    cfg,
		logger: logger.With("component", "cache"),
		now:    time.Now,
		spaces: make(map[Namespace]map[string]entry),
	}
}

// Get returns the cached value for key, or ok=false on a miss. A stale
// (TTL-expired) entry found under the key is removed and counted as a miss.
// Reads do not refresh recency.
func (c *Cache) Get(ns Namespace, key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	space, ok := c.spaces[ns]
	if !ok {
		c.misses++
		return nil, false
	}

	e, ok := space[key]
	if !ok {
		c.misses++
		return nil, false
	}

	if e.expired(c.now()) {
		delete(space, key)
		c.misses++
		return nil, false
	}

	c.hits++
	return e.value, true
}

// Set stores value under key with the namespace's TTL. When the namespace is
// at capacity the oldest 10% of entries by write time are evicted first.
func (c *Cache) Set(ns Namespace, key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	nc := c.cfg[ns]
	if nc.TTL <= 0 {
		nc = DefaultConfig()[ns]
	}

	space, ok := c.spaces[ns]
	if !ok {
		space = make(map[string]entry)
		c.spaces[ns] = space
	}

	if _, exists := space[key]; !exists && nc.MaxEntries > 0 && len(space) >= nc.MaxEntries {
		c.evictOldest(ns, space)
	}

	space[key] = entry{value: value, writtenAt: c.now(), ttl: nc.TTL}
}

// evictOldest removes the oldest 10% of entries (at least one) by write
// timestamp. Caller holds the lock.
func (c *Cache) evictOldest(ns Namespace, space map[string]entry) {
	type aged struct {
		key       string
		writtenAt time.Time
	}

	all := make([]aged, 0, len(space))
	for k, e := range space {
		all = append(all, aged{key: k, writtenAt: e.writtenAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].writtenAt.Before(all[j].writtenAt) })

	n := len(all) / 10
	if n < 1 {
		n = 1
	}
	for _, a := range all[:n] {
		delete(space, a.key)
	}

	c.logger.Debug("evicted oldest cache entries", "namespace", string(ns), "count", n)
}

// Invalidate clears a single namespace.
func (c *Cache) Invalidate(ns Namespace) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.spaces, ns)
	c.logger.Debug("invalidated cache namespace", "namespace", string(ns))
}

// InvalidateAll clears every namespace.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.spaces = make(map[Namespace]map[string]entry)
	c.logger.Debug("invalidated all cache namespaces")
}

// Sweep removes TTL-expired entries across all namespaces, independent of
// access patterns, and returns the number removed. Bounds memory growth from
// keys written once and never read again.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for _, space := range c.spaces {
		for k, e := range space {
			if e.expired(now) {
				delete(space, k)
				removed++
			}
		}
	}

	if removed > 0 {
		c.logger.Debug("swept expired cache entries", "removed", removed)
	}
	return removed
}

// Stats returns hit/miss counters and per-namespace entry counts.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := make(map[Namespace]int, len(c.spaces))
	for ns, space := range c.spaces {
		entries[ns] = len(space)
	}
	return Stats{Hits: c.hits, Misses: c.misses, Entries: entries}
}
