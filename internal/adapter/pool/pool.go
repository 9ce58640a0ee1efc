package pool

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/switchboard-dev/switchboard/internal/core/domain"
	"github.com/switchboard-dev/switchboard/internal/logger"
)

// Config bounds the pool. MaxConnections caps entries across all hosts.
type Config struct {
	MaxConnections      int
	MaxAge              time.Duration
	IdleTimeout         time.Duration
	MaxRequestsPerEntry int64
	ConnectTimeout      time.Duration
}

// Entry is one pooled upstream HTTP client, bound to a host and checked out
// by at most one caller at a time.
type Entry struct {
	Client       *http.Client
	Host         string
	CreatedAt    time.Time
	LastUsedAt   time.Time
	RequestCount int64
	Failures     int
	Healthy      bool
}

// ConnectionPool shares HTTP clients among callers keyed by upstream host.
// A single mutex guards the idle lists; blocked acquirers park on a buffered
// signal channel that releases poke.
type ConnectionPool struct {
	logger *logger.StyledLogger
	cfg    Config

	mu       sync.Mutex
	idle     map[string][]*Entry
	total    int // idle + checked out
	inFlight int
	closed   bool

	released chan struct{} // capacity 1, poked on every release/retire
}

func New(cfg Config, log *logger.StyledLogger) *ConnectionPool {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 64
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 10 * time.Minute
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 90 * time.Second
	}
	if cfg.MaxRequestsPerEntry <= 0 {
		cfg.MaxRequestsPerEntry = 1000
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	return &ConnectionPool{
		logger:   log,
		cfg:      cfg,
		idle:     make(map[string][]*Entry),
		released: make(chan struct{}, 1),
	}
}

// Acquire returns a ready entry bound to host. Free entries are reused, new
// ones are created below the cap, and otherwise the caller blocks until an
// entry is released or the deadline elapses. Fairness among blocked callers
// is not guaranteed.
func (p *ConnectionPool) Acquire(host string, deadline time.Time) (*Entry, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, domain.ErrPoolClosed
		}

		if entry := p.takeIdleLocked(host); entry != nil {
			p.inFlight++
			p.mu.Unlock()
			return entry, nil
		}

		if p.total < p.cfg.MaxConnections {
			p.total++
			p.inFlight++
			p.mu.Unlock()
			return p.newEntry(host), nil
		}

		// At cap with nothing idle for this host: retire an idle entry bound
		// elsewhere to make room, or wait for a release.
		if p.retireAnyIdleLocked() {
			p.total++
			p.inFlight++
			p.mu.Unlock()
			return p.newEntry(host), nil
		}
		p.mu.Unlock()

		wait := time.Until(deadline)
		if wait <= 0 {
			return nil, domain.ErrPoolExhausted
		}
		timer := time.NewTimer(wait)
		select {
		case <-p.released:
			timer.Stop()
			// loop and retry
		case <-timer.C:
			return nil, domain.ErrPoolExhausted
		}
	}
}

// Release returns the entry to the pool. Unhealthy entries and entries past
// any cap (age, request count) are retired instead of pooled.
func (p *ConnectionPool) Release(entry *Entry, ok bool) {
	if entry == nil {
		return
	}

	now := time.Now()
	entry.LastUsedAt = now
	entry.RequestCount++
	if !ok {
		entry.Failures++
		entry.Healthy = false
	}

	retire := !ok ||
		!entry.Healthy ||
		entry.RequestCount >= p.cfg.MaxRequestsPerEntry ||
		now.Sub(entry.CreatedAt) >= p.cfg.MaxAge

	p.mu.Lock()
	p.inFlight--
	if p.closed || retire {
		p.total--
		p.mu.Unlock()
		p.closeEntry(entry)
		p.poke()
		return
	}
	p.idle[entry.Host] = append(p.idle[entry.Host], entry)
	p.mu.Unlock()
	p.poke()
}

// ReapIdle retires entries idle past the timeout or older than max age. Runs
// under a supervised worker.
func (p *ConnectionPool) ReapIdle() (retired int) {
	now := time.Now()
	var toClose []*Entry

	p.mu.Lock()
	for host, entries := range p.idle {
		kept := entries[:0]
		for _, e := range entries {
			if now.Sub(e.LastUsedAt) >= p.cfg.IdleTimeout || now.Sub(e.CreatedAt) >= p.cfg.MaxAge {
				toClose = append(toClose, e)
				p.total--
			} else {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(p.idle, host)
		} else {
			p.idle[host] = kept
		}
	}
	p.mu.Unlock()

	for _, e := range toClose {
		p.closeEntry(e)
	}
	if len(toClose) > 0 {
		p.poke()
		p.logger.Debug("Reaped idle pool entries", "retired", len(toClose))
	}
	return len(toClose)
}

// Shutdown refuses new acquisitions and retires all idle entries. Checked-out
// entries are retired as they are released.
func (p *ConnectionPool) Shutdown() {
	p.mu.Lock()
	p.closed = true
	var toClose []*Entry
	for _, entries := range p.idle {
		toClose = append(toClose, entries...)
	}
	p.total -= len(toClose)
	p.idle = make(map[string][]*Entry)
	p.mu.Unlock()

	for _, e := range toClose {
		p.closeEntry(e)
	}
	p.poke()
}

// Stats is the pool's observable state.
type Stats struct {
	Total    int `json:"total"`
	Idle     int `json:"idle"`
	InFlight int `json:"in_flight"`
	Cap      int `json:"cap"`
}

func (p *ConnectionPool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	idle := 0
	for _, entries := range p.idle {
		idle += len(entries)
	}
	return Stats{Total: p.total, Idle: idle, InFlight: p.inFlight, Cap: p.cfg.MaxConnections}
}

// takeIdleLocked pops a healthy idle entry for host, retiring stale ones it
// walks past. Caller holds p.mu.
func (p *ConnectionPool) takeIdleLocked(host string) *Entry {
	now := time.Now()
	entries := p.idle[host]
	for len(entries) > 0 {
		entry := entries[len(entries)-1]
		entries = entries[:len(entries)-1]
		p.idle[host] = entries

		if now.Sub(entry.LastUsedAt) >= p.cfg.IdleTimeout || now.Sub(entry.CreatedAt) >= p.cfg.MaxAge {
			p.total--
			go p.closeEntry(entry)
			continue
		}
		return entry
	}
	return nil
}

// retireAnyIdleLocked drops one idle entry from any host to free capacity.
// Caller holds p.mu.
func (p *ConnectionPool) retireAnyIdleLocked() bool {
	for host, entries := range p.idle {
		if len(entries) == 0 {
			continue
		}
		entry := entries[len(entries)-1]
		p.idle[host] = entries[:len(entries)-1]
		p.total--
		go p.closeEntry(entry)
		return true
	}
	return false
}

func (p *ConnectionPool) newEntry(host string) *Entry {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   p.cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          2,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       p.cfg.IdleTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	now := time.Now()
	return &Entry{
		Client:     &http.Client{Transport: transport},
		Host:       host,
		CreatedAt:  now,
		LastUsedAt: now,
		Healthy:    true,
	}
}

func (p *ConnectionPool) closeEntry(entry *Entry) {
	if t, ok := entry.Client.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
}

// poke wakes one blocked acquirer, if any.
func (p *ConnectionPool) poke() {
	select {
	case p.released <- struct{}{}:
	default:
	}
}
