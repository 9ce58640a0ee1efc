package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"github.com/switchboard-dev/switchboard/internal/core/domain"
	"github.com/switchboard-dev/switchboard/internal/core/ports"
	"github.com/switchboard-dev/switchboard/internal/logger"
)

// Config bounds the cache. MaxTTL is authoritative: nothing, including the
// adaptive multiplier, may store an entry past it.
type Config struct {
	MaxEntries       int
	MaxBytes         int64
	DefaultTTL       time.Duration
	MaxTTL           time.Duration
	HitRateThreshold float64 // per-minute hits below this make an entry "cold"
	AdaptiveTTL      bool
}

// ResponseCache is a fingerprint-keyed LRU+TTL store of prior successful
// responses. One mutex guards the map and recency list; counters are atomics
// so Stats() never contends with the hot path more than it must.
type ResponseCache struct {
	logger *logger.StyledLogger
	cfg    Config

	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List // front = most recently used
	size    int64

	ttlFactor atomic.Value // float64, adaptive TTL multiplier

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	expired   atomic.Int64
}

type cacheEntry struct {
	response   *domain.CanonicalResponse
	key        string
	insertedAt time.Time
	ttl        time.Duration
	hits       int64
	sizeBytes  int64
}

func (e *cacheEntry) expiredAt(now time.Time) bool {
	return now.After(e.insertedAt.Add(e.ttl))
}

func New(cfg Config, log *logger.StyledLogger) *ResponseCache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1024
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 5 * time.Minute
	}
	if cfg.MaxTTL > 0 && cfg.DefaultTTL > cfg.MaxTTL {
		cfg.DefaultTTL = cfg.MaxTTL
	}
	c := &ResponseCache{
		logger:  log,
		cfg:     cfg,
		entries: make(map[string]*list.Element),
		lru:     list.New(),
	}
	c.ttlFactor.Store(1.0)
	return c
}

// Get returns the cached response for key if present and unexpired, updating
// hit counters and recency. Expired entries are removed on the spot.
func (c *ResponseCache) Get(key string) (*domain.CanonicalResponse, bool) {
	now := time.Now()

	c.mu.Lock()
	elem, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		c.misses.Add(1)
		return nil, false
	}

	entry := elem.Value.(*cacheEntry)
	if entry.expiredAt(now) {
		c.removeLocked(elem, entry)
		c.mu.Unlock()
		c.expired.Add(1)
		c.misses.Add(1)
		return nil, false
	}

	entry.hits++
	c.lru.MoveToFront(elem)
	resp := entry.response
	c.mu.Unlock()

	c.hits.Add(1)
	return resp, true
}

// Put inserts the response under key. LRU entries are evicted until both the
// entry cap and the byte cap hold; a response that alone exceeds the byte cap
// is not stored at all.
func (c *ResponseCache) Put(key string, response *domain.CanonicalResponse, ttl time.Duration) {
	if response == nil {
		return
	}
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}
	if c.cfg.AdaptiveTTL {
		if factor, ok := c.ttlFactor.Load().(float64); ok && factor > 0 {
			ttl = time.Duration(float64(ttl) * factor)
		}
	}
	// The cap always wins, adaptive or not
	if c.cfg.MaxTTL > 0 && ttl > c.cfg.MaxTTL {
		ttl = c.cfg.MaxTTL
	}

	sizeBytes := response.SizeBytes()
	if c.cfg.MaxBytes > 0 && sizeBytes > c.cfg.MaxBytes {
		c.logger.Debug("Response larger than cache byte cap, not storing",
			"key_prefix", domain.FingerprintPrefix(key), "size_bytes", sizeBytes)
		return
	}

	entry := &cacheEntry{
		response:   response,
		key:        key,
		insertedAt: time.Now(),
		ttl:        ttl,
		sizeBytes:  sizeBytes,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.removeLocked(elem, elem.Value.(*cacheEntry))
	}

	for len(c.entries) >= c.cfg.MaxEntries {
		if !c.evictOldestLocked() {
			break
		}
	}
	for c.cfg.MaxBytes > 0 && c.size+sizeBytes > c.cfg.MaxBytes {
		if !c.evictOldestLocked() {
			break
		}
	}

	c.entries[key] = c.lru.PushFront(entry)
	c.size += sizeBytes
}

// Invalidate removes a single key.
func (c *ResponseCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[key]; ok {
		c.removeLocked(elem, elem.Value.(*cacheEntry))
	}
}

// Clear empties the cache. Counters are left running.
func (c *ResponseCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.lru.Init()
	c.size = 0
}

// Scan removes expired entries eagerly, plus entries whose per-minute hit rate
// over their lifetime fell below the cold threshold. Runs under a supervised
// worker at the configured interval.
func (c *ResponseCache) Scan() (removed int) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	var next *list.Element
	for elem := c.lru.Back(); elem != nil; elem = next {
		next = elem.Prev()
		entry := elem.Value.(*cacheEntry)

		if entry.expiredAt(now) {
			c.removeLocked(elem, entry)
			c.expired.Add(1)
			removed++
			continue
		}

		if c.cfg.HitRateThreshold > 0 {
			lifetime := now.Sub(entry.insertedAt)
			if lifetime >= time.Minute {
				hitsPerMinute := float64(entry.hits) / lifetime.Minutes()
				if hitsPerMinute < c.cfg.HitRateThreshold {
					c.removeLocked(elem, entry)
					c.evictions.Add(1)
					removed++
				}
			}
		}
	}
	return removed
}

// SetTTLFactor adjusts the adaptive TTL multiplier at runtime. Values are
// clamped to something sane; the MaxTTL cap still applies on every Put.
func (c *ResponseCache) SetTTLFactor(factor float64) {
	if factor <= 0 {
		factor = 1.0
	}
	if factor > 10 {
		factor = 10
	}
	c.ttlFactor.Store(factor)
}

// Stats returns the aggregate counter view.
func (c *ResponseCache) Stats() ports.CacheStats {
	c.mu.Lock()
	entries := len(c.entries)
	size := c.size
	c.mu.Unlock()

	return ports.CacheStats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Entries:   entries,
		SizeBytes: size,
		Evictions: c.evictions.Load(),
		Expired:   c.expired.Load(),
	}
}

// removeLocked unlinks an entry; the caller holds c.mu.
func (c *ResponseCache) removeLocked(elem *list.Element, entry *cacheEntry) {
	c.lru.Remove(elem)
	delete(c.entries, entry.key)
	c.size -= entry.sizeBytes
}

// evictOldestLocked drops the least recently used entry; the caller holds c.mu.
func (c *ResponseCache) evictOldestLocked() bool {
	back := c.lru.Back()
	if back == nil {
		return false
	}
	c.removeLocked(back, back.Value.(*cacheEntry))
	c.evictions.Add(1)
	return true
}
