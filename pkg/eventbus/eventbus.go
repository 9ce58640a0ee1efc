package eventbus

// Lock-free pub/sub used to decouple outcome producers (router, gateway) from
// consumers (metrics aggregator, future audit sinks). Slow subscribers drop
// events rather than blocking the hot path.

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// Bus provides pub/sub with per-subscriber buffering and drop accounting.
type Bus[T any] struct {
	subscribers   *xsync.Map[string, *subscriber[T]]
	stopCleanup   chan struct{}
	cleanupTicker *time.Ticker
	bufferSize    int
	subscriberSeq atomic.Uint64
	isShutdown    atomic.Bool
}

type subscriber[T any] struct {
	id         string
	ch         chan T
	lastActive atomic.Int64
	dropped    atomic.Uint64
	isActive   atomic.Bool
}

// Config allows customisation of buffer sizes and cleanup behaviour
type Config struct {
	BufferSize      int
	CleanupPeriod   time.Duration
	InactiveTimeout time.Duration
}

var DefaultConfig = Config{
	BufferSize:      256,
	CleanupPeriod:   5 * time.Minute,
	InactiveTimeout: 10 * time.Minute,
}

// New creates a bus with default configuration.
func New[T any]() *Bus[T] {
	return NewWithConfig[T](DefaultConfig)
}

// NewWithConfig creates a bus with custom configuration.
func NewWithConfig[T any](cfg Config) *Bus[T] {
	b := &Bus[T]{
		subscribers: xsync.NewMap[string, *subscriber[T]](),
		bufferSize:  cfg.BufferSize,
		stopCleanup: make(chan struct{}),
	}

	if cfg.CleanupPeriod > 0 {
		b.cleanupTicker = time.NewTicker(cfg.CleanupPeriod)
		go b.cleanupLoop(cfg.InactiveTimeout)
	}

	return b
}

// Subscribe returns a channel that receives events and a cleanup function.
// The subscription is also torn down when ctx is cancelled.
func (b *Bus[T]) Subscribe(ctx context.Context) (<-chan T, func()) {
	if b.isShutdown.Load() {
		ch := make(chan T)
		close(ch)
		return ch, func() {}
	}

	id := "sub_" + strconv.FormatUint(b.subscriberSeq.Add(1), 10)
	ch := make(chan T, b.bufferSize)

	sub := &subscriber[T]{id: id, ch: ch}
	sub.lastActive.Store(time.Now().UnixNano())
	sub.isActive.Store(true)

	b.subscribers.Store(id, sub)

	go func() {
		<-ctx.Done()
		b.unsubscribe(id)
	}()

	return ch, func() { b.unsubscribe(id) }
}

// Publish sends an event to all active subscribers and returns the delivery
// count. Full subscriber buffers drop the event.
func (b *Bus[T]) Publish(event T) int {
	if b.isShutdown.Load() {
		return 0
	}

	delivered := 0
	now := time.Now().UnixNano()

	b.subscribers.Range(func(id string, sub *subscriber[T]) bool {
		if !sub.isActive.Load() {
			return true
		}

		select {
		case sub.ch <- event:
			sub.lastActive.Store(now)
			delivered++
		default:
			sub.dropped.Add(1)
		}
		return true
	})

	return delivered
}

// Shutdown stops the bus and closes all subscriber channels.
func (b *Bus[T]) Shutdown() {
	if !b.isShutdown.CompareAndSwap(false, true) {
		return
	}

	if b.cleanupTicker != nil {
		b.cleanupTicker.Stop()
		close(b.stopCleanup)
	}

	b.subscribers.Range(func(id string, sub *subscriber[T]) bool {
		if sub.isActive.CompareAndSwap(true, false) {
			close(sub.ch)
		}
		return true
	})

	b.subscribers.Clear()
}

// Stats returns aggregate bus statistics.
func (b *Bus[T]) Stats() Stats {
	stats := Stats{IsShutdown: b.isShutdown.Load()}
	if stats.IsShutdown {
		return stats
	}

	b.subscribers.Range(func(id string, sub *subscriber[T]) bool {
		stats.TotalSubscribers++
		if sub.isActive.Load() {
			stats.ActiveSubscribers++
		}
		stats.TotalDropped += sub.dropped.Load()
		return true
	})

	return stats
}

// Stats provides aggregate bus metrics.
type Stats struct {
	TotalSubscribers  int
	ActiveSubscribers int
	TotalDropped      uint64
	IsShutdown        bool
}

func (b *Bus[T]) unsubscribe(id string) {
	if sub, exists := b.subscribers.LoadAndDelete(id); exists {
		if sub.isActive.CompareAndSwap(true, false) {
			close(sub.ch)
		}
	}
}

func (b *Bus[T]) cleanupLoop(inactiveTimeout time.Duration) {
	for {
		select {
		case <-b.stopCleanup:
			return
		case <-b.cleanupTicker.C:
			b.cleanupInactive(inactiveTimeout)
		}
	}
}

func (b *Bus[T]) cleanupInactive(timeout time.Duration) {
	cutoff := time.Now().Add(-timeout).UnixNano()
	var toRemove []string

	b.subscribers.Range(func(id string, sub *subscriber[T]) bool {
		if !sub.isActive.Load() || sub.lastActive.Load() < cutoff {
			toRemove = append(toRemove, id)
		}
		return true
	})

	for _, id := range toRemove {
		b.unsubscribe(id)
	}
}
