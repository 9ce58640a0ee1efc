package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/switchboard-dev/switchboard/internal/core/domain"
	"github.com/switchboard-dev/switchboard/internal/logger"
)

func successResponse(content string) *domain.CanonicalResponse {
	return &domain.CanonicalResponse{
		Status:       domain.StatusSuccess,
		Content:      content,
		ProviderUsed: "test-provider",
	}
}

func TestResponseCache_PutGet(t *testing.T) {
	c := New(Config{MaxEntries: 10, DefaultTTL: time.Minute}, logger.NewDiscard())

	c.Put("key-1", successResponse("hello"), 0)

	got, ok := c.Get("key-1")
	if !ok {
		t.Fatal("Expected cache hit")
	}
	if got.Content != "hello" {
		t.Errorf("Expected cached content, got %v", got.Content)
	}

	if _, ok := c.Get("key-2"); ok {
		t.Error("Expected miss for unknown key")
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Entries != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestResponseCache_TTLExpiry(t *testing.T) {
	c := New(Config{MaxEntries: 10, DefaultTTL: time.Minute}, logger.NewDiscard())

	c.Put("ephemeral", successResponse("gone soon"), 10*time.Millisecond)
	if _, ok := c.Get("ephemeral"); !ok {
		t.Fatal("Entry should be present before its TTL")
	}

	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get("ephemeral"); ok {
		t.Error("Expired entry should miss")
	}
	if c.Stats().Expired != 1 {
		t.Errorf("Expected 1 expired, got %d", c.Stats().Expired)
	}
}

func TestResponseCache_MaxTTLCapWins(t *testing.T) {
	// The cap applies to explicit TTLs and to anything the adaptive multiplier
	// produces.
	c := New(Config{MaxEntries: 10, DefaultTTL: time.Minute, MaxTTL: 10 * time.Millisecond, AdaptiveTTL: true}, logger.NewDiscard())
	c.SetTTLFactor(10)

	c.Put("capped", successResponse("short lived"), time.Hour)
	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get("capped"); ok {
		t.Error("MaxTTL must cap the requested TTL")
	}
}

func TestResponseCache_LRUEviction(t *testing.T) {
	c := New(Config{MaxEntries: 2, DefaultTTL: time.Minute}, logger.NewDiscard())

	c.Put("a", successResponse("a"), 0)
	c.Put("b", successResponse("b"), 0)

	// Touch "a" so "b" becomes the eviction candidate.
	if _, ok := c.Get("a"); !ok {
		t.Fatal("Expected hit for a")
	}

	c.Put("c", successResponse("c"), 0)

	if _, ok := c.Get("a"); !ok {
		t.Error("Recently used entry should survive")
	}
	if _, ok := c.Get("b"); ok {
		t.Error("Least recently used entry should have been evicted")
	}
	if c.Stats().Evictions != 1 {
		t.Errorf("Expected 1 eviction, got %d", c.Stats().Evictions)
	}
}

func TestResponseCache_ByteCap(t *testing.T) {
	c := New(Config{MaxEntries: 100, MaxBytes: 50, DefaultTTL: time.Minute}, logger.NewDiscard())

	// Each response accounts for ~43 bytes; two cannot coexist under the cap.
	c.Put("first", successResponse("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"), 0)
	c.Put("second", successResponse("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"), 0)

	if _, ok := c.Get("first"); ok {
		t.Error("First entry should have been evicted to honour the byte cap")
	}
	if _, ok := c.Get("second"); !ok {
		t.Error("Second entry should be present")
	}
}

func TestResponseCache_OversizedResponseNotStored(t *testing.T) {
	c := New(Config{MaxEntries: 10, MaxBytes: 10, DefaultTTL: time.Minute}, logger.NewDiscard())

	c.Put("huge", successResponse("this content alone exceeds the whole byte cap"), 0)
	if _, ok := c.Get("huge"); ok {
		t.Error("A response larger than the byte cap must not be stored")
	}
	if c.Stats().Entries != 0 {
		t.Errorf("Expected empty cache, got %d entries", c.Stats().Entries)
	}
}

func TestResponseCache_InvalidateAndClear(t *testing.T) {
	c := New(Config{MaxEntries: 10, DefaultTTL: time.Minute}, logger.NewDiscard())

	for i := 0; i < 3; i++ {
		c.Put(fmt.Sprintf("key-%d", i), successResponse("x"), 0)
	}

	c.Invalidate("key-1")
	if _, ok := c.Get("key-1"); ok {
		t.Error("Invalidated key should miss")
	}

	c.Clear()
	if c.Stats().Entries != 0 {
		t.Errorf("Clear should empty the cache, got %d entries", c.Stats().Entries)
	}
	if c.Stats().SizeBytes != 0 {
		t.Errorf("Clear should zero the byte accounting, got %d", c.Stats().SizeBytes)
	}
}

func TestResponseCache_ScanRemovesExpired(t *testing.T) {
	c := New(Config{MaxEntries: 10, DefaultTTL: time.Minute}, logger.NewDiscard())

	c.Put("stale", successResponse("x"), 5*time.Millisecond)
	c.Put("fresh", successResponse("y"), time.Minute)
	time.Sleep(10 * time.Millisecond)

	removed := c.Scan()
	if removed != 1 {
		t.Errorf("Scan removed %d, want 1", removed)
	}
	if _, ok := c.Get("fresh"); !ok {
		t.Error("Fresh entry should survive the scan")
	}
}

func TestResponseCache_ReplaceExistingKey(t *testing.T) {
	c := New(Config{MaxEntries: 10, DefaultTTL: time.Minute}, logger.NewDiscard())

	c.Put("key", successResponse("old"), 0)
	c.Put("key", successResponse("new"), 0)

	got, ok := c.Get("key")
	if !ok || got.Content != "new" {
		t.Errorf("Expected replacement content, got %v (hit=%v)", got, ok)
	}
	if c.Stats().Entries != 1 {
		t.Errorf("Replacement should not grow the cache, got %d entries", c.Stats().Entries)
	}
}
