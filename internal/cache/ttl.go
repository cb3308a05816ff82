// Package cache holds the category-scoped TTL cache that shields upstream
// sources from repeated lookups.
//
// Keys are spread over independently locked shards so reads and writes for
// unrelated keys never contend on one lock. Expired entries are treated as
// misses and removed lazily on access; Sweep reclaims the rest.
package cache

import (
	"hash/fnv"
	"sync"
	"time"

	"cs2-tracker/internal/constants"
	"cs2-tracker/internal/domain"

	"go.uber.org/atomic"
)

type entry struct {
	value     any
	createdAt time.Time
	ttl       time.Duration
}

func (e entry) expiresAt() time.Time {
	return e.createdAt.Add(e.ttl)
}

func (e entry) isExpired(now time.Time) bool {
	return !now.Before(e.expiresAt())
}

// lastKnown is the most recent value written for a key. It is only handed out
// through GetStale, never through Get.
type lastKnown struct {
	value    any
	storedAt time.Time
}

type shard struct {
	mu   sync.RWMutex
	live map[domain.CacheKey]entry
	last map[domain.CacheKey]lastKnown
}

type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Stale     int64 `json:"stale"`
	Evictions int64 `json:"evictions"`
	Entries   int   `json:"entries"`
}

type TTLCache struct {
	shards         []*shard
	maxPerShard    int
	staleRetention time.Duration
	now            func() time.Time

	hits      atomic.Int64
	misses    atomic.Int64
	stale     atomic.Int64
	evictions atomic.Int64
}

type Option func(*TTLCache)

func WithClock(now func() time.Time) Option {
	return func(c *TTLCache) { c.now = now }
}

// WithMaxEntries caps the number of live entries across all shards.
func WithMaxEntries(n int) Option {
	return func(c *TTLCache) {
		if n > 0 {
			c.maxPerShard = max(n/len(c.shards), 1)
		}
	}
}

func WithStaleRetention(d time.Duration) Option {
	return func(c *TTLCache) { c.staleRetention = d }
}

func New(opts ...Option) *TTLCache {
	c := &TTLCache{
		shards:         make([]*shard, constants.CacheShards),
		staleRetention: constants.StaleRetention,
		now:            time.Now,
	}
	for i := range c.shards {
		c.shards[i] = &shard{
			live: make(map[domain.CacheKey]entry),
			last: make(map[domain.CacheKey]lastKnown),
		}
	}
	c.maxPerShard = max(constants.CacheMaxEntries/len(c.shards), 1)

	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *TTLCache) shardFor(key domain.CacheKey) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key.Category))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(key.ID))
	return c.shards[h.Sum32()%uint32(len(c.shards))]
}

// Get returns the value stored under key. An expired entry is a miss and is
// removed before returning.
func (c *TTLCache) Get(key domain.CacheKey) (any, bool) {
	s := c.shardFor(key)
	now := c.now()

	s.mu.RLock()
	e, ok := s.live[key]
	s.mu.RUnlock()

	if !ok {
		c.misses.Inc()
		return nil, false
	}

	if e.isExpired(now) {
		s.mu.Lock()
		if cur, ok := s.live[key]; ok && cur.createdAt.Equal(e.createdAt) {
			delete(s.live, key)
		}
		s.mu.Unlock()

		c.misses.Inc()
		return nil, false
	}

	c.hits.Inc()
	return e.value, true
}

// GetStale returns the last value written for key even if its TTL has
// elapsed, as long as it is younger than the stale retention window.
func (c *TTLCache) GetStale(key domain.CacheKey) (any, time.Time, bool) {
	s := c.shardFor(key)

	s.mu.RLock()
	lk, ok := s.last[key]
	s.mu.RUnlock()

	if !ok || c.now().Sub(lk.storedAt) > c.staleRetention {
		return nil, time.Time{}, false
	}

	c.stale.Inc()
	return lk.value, lk.storedAt, true
}

// Put replaces the entry for key. The ttl is chosen by the caller per
// category; a non-positive ttl only records the value for stale serving.
func (c *TTLCache) Put(key domain.CacheKey, value any, ttl time.Duration) {
	s := c.shardFor(key)
	now := c.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.last[key]; !ok && len(s.last) >= c.maxPerShard {
		c.evictOldestLastLocked(s)
	}
	s.last[key] = lastKnown{value: value, storedAt: now}

	if ttl <= 0 {
		delete(s.live, key)
		return
	}

	if _, ok := s.live[key]; !ok && len(s.live) >= c.maxPerShard {
		c.evictLocked(s, now)
	}
	s.live[key] = entry{value: value, createdAt: now, ttl: ttl}
}

func (c *TTLCache) Invalidate(key domain.CacheKey) {
	s := c.shardFor(key)

	s.mu.Lock()
	delete(s.live, key)
	delete(s.last, key)
	s.mu.Unlock()
}

// Expire drops the live entry for key but keeps its last value for stale
// serving.
func (c *TTLCache) Expire(key domain.CacheKey) {
	s := c.shardFor(key)

	s.mu.Lock()
	delete(s.live, key)
	s.mu.Unlock()
}

// Sweep drops every expired entry and every stale value past retention and
// returns how many live entries were removed.
func (c *TTLCache) Sweep() int {
	now := c.now()
	removed := 0

	for _, s := range c.shards {
		s.mu.Lock()
		for k, e := range s.live {
			if e.isExpired(now) {
				delete(s.live, k)
				removed++
			}
		}
		for k, lk := range s.last {
			if now.Sub(lk.storedAt) > c.staleRetention {
				delete(s.last, k)
			}
		}
		s.mu.Unlock()
	}

	return removed
}

func (c *TTLCache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.RLock()
		n += len(s.live)
		s.mu.RUnlock()
	}
	return n
}

func (c *TTLCache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Stale:     c.stale.Load(),
		Evictions: c.evictions.Load(),
		Entries:   c.Len(),
	}
}

// evictLocked frees one slot: expired entries go first, then the entry
// closest to expiry.
func (c *TTLCache) evictLocked(s *shard, now time.Time) {
	freed := false
	for k, e := range s.live {
		if e.isExpired(now) {
			delete(s.live, k)
			freed = true
		}
	}
	if freed {
		return
	}

	var (
		victim   domain.CacheKey
		earliest time.Time
		found    bool
	)
	for k, e := range s.live {
		if !found || e.expiresAt().Before(earliest) {
			victim, earliest, found = k, e.expiresAt(), true
		}
	}
	if found {
		delete(s.live, victim)
		c.evictions.Inc()
	}
}

func (c *TTLCache) evictOldestLastLocked(s *shard) {
	var (
		victim domain.CacheKey
		oldest time.Time
		found  bool
	)
	for k, lk := range s.last {
		if !found || lk.storedAt.Before(oldest) {
			victim, oldest, found = k, lk.storedAt, true
		}
	}
	if found {
		delete(s.last, victim)
	}
}
