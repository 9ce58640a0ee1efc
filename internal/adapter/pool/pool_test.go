package pool

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/switchboard-dev/switchboard/internal/core/domain"
	"github.com/switchboard-dev/switchboard/internal/logger"
)

func newTestPool(maxConnections int) *ConnectionPool {
	return New(Config{
		MaxConnections:      maxConnections,
		MaxAge:              time.Minute,
		IdleTimeout:         time.Minute,
		MaxRequestsPerEntry: 100,
	}, logger.NewDiscard())
}

func TestConnectionPool_AcquireCreatesEntry(t *testing.T) {
	p := newTestPool(4)

	entry, err := p.Acquire("upstream:8080", time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if entry.Host != "upstream:8080" {
		t.Errorf("Entry bound to %s, want upstream:8080", entry.Host)
	}
	if entry.Client == nil {
		t.Fatal("Entry must carry a ready HTTP client")
	}

	stats := p.Stats()
	if stats.Total != 1 || stats.InFlight != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestConnectionPool_ReleaseReuses(t *testing.T) {
	p := newTestPool(4)

	first, err := p.Acquire("upstream:8080", time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	p.Release(first, true)

	second, err := p.Acquire("upstream:8080", time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if second != first {
		t.Error("Healthy released entry should be reused for the same host")
	}
	if p.Stats().Total != 1 {
		t.Errorf("Expected a single pooled entry, got %d", p.Stats().Total)
	}
}

func TestConnectionPool_FailedReleaseRetires(t *testing.T) {
	p := newTestPool(4)

	entry, _ := p.Acquire("upstream:8080", time.Now().Add(time.Second))
	p.Release(entry, false)

	if p.Stats().Total != 0 {
		t.Errorf("Failed entry should be retired, got total %d", p.Stats().Total)
	}

	replacement, err := p.Acquire("upstream:8080", time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("Acquire after retire failed: %v", err)
	}
	if replacement == entry {
		t.Error("Retired entry must not be handed out again")
	}
}

func TestConnectionPool_ExhaustionTimesOut(t *testing.T) {
	p := newTestPool(1)

	held, err := p.Acquire("upstream:8080", time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	_, err = p.Acquire("upstream:8080", time.Now().Add(20*time.Millisecond))
	if !errors.Is(err, domain.ErrPoolExhausted) {
		t.Errorf("Expected ErrPoolExhausted, got %v", err)
	}

	p.Release(held, true)
}

func TestConnectionPool_BlockedAcquirerWakesOnRelease(t *testing.T) {
	p := newTestPool(1)

	held, _ := p.Acquire("upstream:8080", time.Now().Add(time.Second))

	var wg sync.WaitGroup
	wg.Add(1)
	var acquireErr error
	go func() {
		defer wg.Done()
		_, acquireErr = p.Acquire("upstream:8080", time.Now().Add(2*time.Second))
	}()

	time.Sleep(20 * time.Millisecond)
	p.Release(held, true)
	wg.Wait()

	if acquireErr != nil {
		t.Errorf("Blocked acquirer should have been woken by the release: %v", acquireErr)
	}
}

func TestConnectionPool_CapSharedAcrossHosts(t *testing.T) {
	p := newTestPool(1)

	entry, _ := p.Acquire("host-a:80", time.Now().Add(time.Second))
	p.Release(entry, true)

	// The sole slot is idle on host-a; acquiring for host-b retires it.
	other, err := p.Acquire("host-b:80", time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("Acquire for second host failed: %v", err)
	}
	if other.Host != "host-b:80" {
		t.Errorf("Entry bound to %s, want host-b:80", other.Host)
	}
	if p.Stats().Total != 1 {
		t.Errorf("Cap is global, expected total 1, got %d", p.Stats().Total)
	}
}

func TestConnectionPool_RequestCountCapRetires(t *testing.T) {
	p := New(Config{
		MaxConnections:      4,
		MaxAge:              time.Minute,
		IdleTimeout:         time.Minute,
		MaxRequestsPerEntry: 2,
	}, logger.NewDiscard())

	entry, _ := p.Acquire("upstream:8080", time.Now().Add(time.Second))
	p.Release(entry, true)
	again, _ := p.Acquire("upstream:8080", time.Now().Add(time.Second))
	p.Release(again, true) // second use reaches the per-entry cap

	if p.Stats().Idle != 0 {
		t.Errorf("Entry at its request cap should be retired, idle=%d", p.Stats().Idle)
	}
}

func TestConnectionPool_ReapIdle(t *testing.T) {
	p := New(Config{
		MaxConnections:      4,
		MaxAge:              time.Minute,
		IdleTimeout:         10 * time.Millisecond,
		MaxRequestsPerEntry: 100,
	}, logger.NewDiscard())

	entry, _ := p.Acquire("upstream:8080", time.Now().Add(time.Second))
	p.Release(entry, true)
	time.Sleep(20 * time.Millisecond)

	if retired := p.ReapIdle(); retired != 1 {
		t.Errorf("ReapIdle retired %d, want 1", retired)
	}
	if p.Stats().Total != 0 {
		t.Errorf("Expected empty pool after reap, got %d", p.Stats().Total)
	}
}

func TestConnectionPool_ShutdownRefusesAcquire(t *testing.T) {
	p := newTestPool(4)

	entry, _ := p.Acquire("upstream:8080", time.Now().Add(time.Second))
	p.Shutdown()

	if _, err := p.Acquire("upstream:8080", time.Now().Add(time.Second)); !errors.Is(err, domain.ErrPoolClosed) {
		t.Errorf("Expected ErrPoolClosed, got %v", err)
	}

	// Checked-out entries are retired as they come back.
	p.Release(entry, true)
	if p.Stats().Total != 0 {
		t.Errorf("Release after shutdown should retire, got total %d", p.Stats().Total)
	}
}
