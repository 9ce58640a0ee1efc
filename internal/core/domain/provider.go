package domain

import (
	"sync"
	"time"
)

// ProviderDescriptor is the immutable registration record for an upstream
// provider. Descriptors are built at startup (or via the provider admin API)
// and never mutated afterwards; mutable runtime state lives in ProviderState.
type ProviderDescriptor struct {
	Name       string        `json:"name"`
	Kind       string        `json:"kind"` // adapter variant: openai, anthropic, ollama
	Endpoint   string        `json:"endpoint"`
	Credential string        `json:"-"`
	GroupID    string        `json:"group_id,omitempty"`
	Models     []string      `json:"models"`
	Priority   int           `json:"priority"` // lower is preferred
	Timeout    time.Duration `json:"timeout"`
	MaxRetries int           `json:"max_retries"`
	MaxRPS     float64       `json:"max_rps"`
}

// SupportsModel is a cheap membership test over the descriptor's model list.
func (d *ProviderDescriptor) SupportsModel(model string) bool {
	for _, m := range d.Models {
		if m == model {
			return true
		}
	}
	return false
}

// BreakerState is the circuit breaker's discrete state.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// ProviderState is the router-owned mutable view of a provider. All writes go
// through the methods below under the internal mutex; readers that can
// tolerate a single-step-stale view may call Snapshot without coordination
// beyond the same mutex.
type ProviderState struct {
	mu                  sync.Mutex
	healthy             bool
	consecutiveFailures int
	rateLimitRemaining  int
	rateLimitResetAt    time.Time
	lastUsedAt          time.Time
}

// NewProviderState returns a state that is healthy with unknown rate headroom.
func NewProviderState() *ProviderState {
	return &ProviderState{healthy: true, rateLimitRemaining: -1}
}

// ProviderStateSnapshot is a point-in-time copy safe to hand to metrics readers.
type ProviderStateSnapshot struct {
	Healthy             bool      `json:"healthy"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	RateLimitRemaining  int       `json:"rate_limit_remaining"`
	RateLimitResetAt    time.Time `json:"rate_limit_reset_at"`
	LastUsedAt          time.Time `json:"last_used_at"`
}

func (s *ProviderState) Snapshot() ProviderStateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ProviderStateSnapshot{
		Healthy:             s.healthy,
		ConsecutiveFailures: s.consecutiveFailures,
		RateLimitRemaining:  s.rateLimitRemaining,
		RateLimitResetAt:    s.rateLimitResetAt,
		LastUsedAt:          s.lastUsedAt,
	}
}

// RecordSuccess resets the failure streak and marks the provider healthy.
func (s *ProviderState) RecordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveFailures = 0
	s.healthy = true
	s.lastUsedAt = time.Now()
}

// RecordFailure bumps the failure streak; the provider is flagged unhealthy
// once the streak reaches threshold.
func (s *ProviderState) RecordFailure(threshold int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveFailures++
	s.lastUsedAt = time.Now()
	if threshold > 0 && s.consecutiveFailures >= threshold {
		s.healthy = false
	}
}

// MarkHealthy is used by probe recovery to readmit a provider.
func (s *ProviderState) MarkHealthy(healthy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthy = healthy
	if healthy {
		s.consecutiveFailures = 0
	}
}

// UpdateRateLimit records the headroom reported by the upstream's rate headers.
func (s *ProviderState) UpdateRateLimit(remaining int, resetAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rateLimitRemaining = remaining
	if !resetAt.IsZero() {
		s.rateLimitResetAt = resetAt
	}
}

// HasRateHeadroom reports whether the provider can accept another request.
// Unknown headroom (never observed) counts as available; exhausted headroom
// recovers once the reset instant has elapsed.
func (s *ProviderState) HasRateHeadroom(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rateLimitRemaining != 0 {
		return true
	}
	return !s.rateLimitResetAt.IsZero() && now.After(s.rateLimitResetAt)
}

// IsHealthy reports the current health flag.
func (s *ProviderState) IsHealthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthy
}
