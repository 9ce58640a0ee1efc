package breaker

import (
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/switchboard-dev/switchboard/internal/core/domain"
	"github.com/switchboard-dev/switchboard/internal/logger"
)

// Config tunes the per-upstream state machines.
type Config struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	SuccessThreshold int
}

// CircuitBreaker holds one state machine per upstream name. Record calls are
// made only when the router actually reached the upstream; local rejections
// never count.
type CircuitBreaker struct {
	upstreams *xsync.Map[string, *circuitState]
	logger    *logger.StyledLogger
	cfg       Config
}

type circuitState struct {
	mu                   sync.Mutex
	state                domain.BreakerState
	consecutiveFailures  int
	consecutiveSuccesses int
	openedAt             time.Time

	// half-open admits one probe at a time; the slot is claimed by CanExecute
	// and released when the probe's outcome is recorded
	probeInFlight  bool
	probeClaimedAt time.Time
}

func New(cfg Config, log *logger.StyledLogger) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	return &CircuitBreaker{
		upstreams: xsync.NewMap[string, *circuitState](),
		logger:    log,
		cfg:       cfg,
	}
}

func (cb *CircuitBreaker) get(name string) *circuitState {
	if cs, ok := cb.upstreams.Load(name); ok {
		return cs
	}
	cs, _ := cb.upstreams.LoadOrStore(name, &circuitState{state: domain.BreakerClosed})
	return cs
}

// CanExecute reports whether a call may proceed. The open→half_open transition
// happens lazily here once the recovery timeout has elapsed since the failure
// that opened the circuit; in half_open only one probe is admitted at a time,
// the caller granted true holding the probe slot until its outcome is recorded.
func (cb *CircuitBreaker) CanExecute(name string) bool {
	cs := cb.get(name)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	switch cs.state {
	case domain.BreakerClosed:
		return true
	case domain.BreakerHalfOpen:
		return cs.claimProbe(cb.cfg.RecoveryTimeout)
	case domain.BreakerOpen:
		if time.Since(cs.openedAt) >= cb.cfg.RecoveryTimeout {
			cs.state = domain.BreakerHalfOpen
			cs.consecutiveSuccesses = 0
			cs.claimProbe(cb.cfg.RecoveryTimeout)
			cb.logger.InfoBreakerState("Circuit breaker probing", name, domain.BreakerHalfOpen)
			return true
		}
		return false
	default:
		return true
	}
}

// claimProbe takes the single half-open probe slot. A slot held longer than
// the recovery timeout is treated as abandoned (the probe was cancelled before
// anything was recorded) and may be reclaimed. Caller holds cs.mu.
func (cs *circuitState) claimProbe(staleAfter time.Duration) bool {
	if cs.probeInFlight && time.Since(cs.probeClaimedAt) < staleAfter {
		return false
	}
	cs.probeInFlight = true
	cs.probeClaimedAt = time.Now()
	return true
}

// Recoverable reports whether an upstream could be dispatched to on a probe
// basis: its circuit is half_open, or open with the recovery timeout elapsed.
// Unlike CanExecute this neither transitions state nor claims the probe slot,
// so candidate selection can consult it freely.
func (cb *CircuitBreaker) Recoverable(name string) bool {
	cs := cb.get(name)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	switch cs.state {
	case domain.BreakerOpen:
		return time.Since(cs.openedAt) >= cb.cfg.RecoveryTimeout
	default:
		return true
	}
}

// RecordSuccess drives closed/half_open transitions after a successful
// upstream call.
func (cb *CircuitBreaker) RecordSuccess(name string) {
	cs := cb.get(name)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.consecutiveFailures = 0

	if cs.state == domain.BreakerHalfOpen {
		cs.probeInFlight = false
		cs.consecutiveSuccesses++
		if cs.consecutiveSuccesses >= cb.cfg.SuccessThreshold {
			cs.state = domain.BreakerClosed
			cs.consecutiveSuccesses = 0
			cb.logger.InfoBreakerState("Circuit breaker recovered", name, domain.BreakerClosed)
		}
	}
}

// RecordFailure counts a failure that reached the upstream. The circuit opens
// after the failure threshold in closed, and reopens immediately on any
// failure while half-open.
func (cb *CircuitBreaker) RecordFailure(name string) {
	cs := cb.get(name)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	switch cs.state {
	case domain.BreakerHalfOpen:
		cs.state = domain.BreakerOpen
		cs.openedAt = time.Now()
		cs.consecutiveSuccesses = 0
		cs.probeInFlight = false
		cb.logger.InfoBreakerState("Circuit breaker re-opened", name, domain.BreakerOpen)
	case domain.BreakerClosed:
		cs.consecutiveFailures++
		if cs.consecutiveFailures >= cb.cfg.FailureThreshold {
			cs.state = domain.BreakerOpen
			cs.openedAt = time.Now()
			cb.logger.InfoBreakerState("Circuit breaker tripped", name, domain.BreakerOpen,
				"consecutive_failures", cs.consecutiveFailures)
		}
	case domain.BreakerOpen:
		// already open, refresh nothing: the recovery clock runs from the
		// failure that opened it
	}
}

// State returns the current state without side effects.
func (cb *CircuitBreaker) State(name string) domain.BreakerState {
	cs, ok := cb.upstreams.Load(name)
	if !ok {
		return domain.BreakerClosed
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.state
}

// Remove drops the state machine for a deregistered upstream.
func (cb *CircuitBreaker) Remove(name string) {
	cb.upstreams.Delete(name)
}
