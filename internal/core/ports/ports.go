package ports

import (
	"context"
	"net/http"
	"time"

	"github.com/switchboard-dev/switchboard/internal/core/domain"
)

// WireRequest is the adapter-encoded form of a canonical request, ready to be
// issued against the vendor endpoint.
type WireRequest struct {
	Headers http.Header
	Path    string
	Body    []byte
}

// RateStatus is the adapter's last observed rate-limit headroom, self-reported
// from vendor response headers.
type RateStatus struct {
	ResetAt   time.Time
	Remaining int
}

// ProviderAdapter is the per-vendor capability set: translate to and from the
// vendor wire format, probe health, and account rate limits. Adding a provider
// means adding an implementation; nothing else changes.
type ProviderAdapter interface {
	Name() string
	Descriptor() *domain.ProviderDescriptor

	// Encode shapes the vendor payload and auth headers for req.
	Encode(req *domain.CanonicalRequest) (*WireRequest, error)

	// Decode turns a vendor reply into the canonical shape. Classification of
	// non-2xx statuses follows the gateway-wide error-kind mapping.
	Decode(statusCode int, headers http.Header, body []byte) *domain.CanonicalResponse

	// Probe is a lightweight health check suitable for periodic scheduling.
	Probe(ctx context.Context, client *http.Client) bool

	// RateStatus returns the last observed rate-limit headroom.
	RateStatus() RateStatus

	// Supports is a cheap membership test against the descriptor's model list.
	Supports(model string) bool
}

// AttemptOutcome is published after every dispatch attempt that reached (or
// was rejected on the way to) an upstream.
type AttemptOutcome struct {
	Timestamp  time.Time
	Provider   string
	Endpoint   string
	RequestID  string
	ErrorKind  domain.ErrorKind
	Tokens     domain.TokenUsage
	LatencyMs  int64
	StatusCode int
	CostUSD    float64
	Success    bool
	CacheHit   bool
}

// RequestOutcome is published once per client request, after the reply is sent.
type RequestOutcome struct {
	Timestamp  time.Time
	Endpoint   string
	RequestID  string
	StatusCode int
	DurationMs int64
}

// Observer receives outcome records from the router and gateway. The metrics
// aggregator is the canonical implementation; producers never see it directly
// so audit or alerting sinks can be added without touching them.
type Observer interface {
	RecordAttempt(outcome AttemptOutcome)
	RecordRequest(outcome RequestOutcome)
}

// NoopObserver discards everything; used in tests and before wiring completes.
type NoopObserver struct{}

func (NoopObserver) RecordAttempt(AttemptOutcome) {}
func (NoopObserver) RecordRequest(RequestOutcome) {}

// ResponseCache is the content-addressed store of prior successful replies.
type ResponseCache interface {
	Get(key string) (*domain.CanonicalResponse, bool)
	Put(key string, response *domain.CanonicalResponse, ttl time.Duration)
	Invalidate(key string)
	Clear()
	Stats() CacheStats
}

// CacheStats is the aggregate counter view of the cache.
type CacheStats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Entries   int   `json:"entries"`
	SizeBytes int64 `json:"size_bytes"`
	Evictions int64 `json:"evictions"`
	Expired   int64 `json:"expired"`
}

// CircuitBreaker gates outbound calls per upstream. CanExecute may claim the
// single half-open probe slot; Recoverable is the side-effect-free check
// candidate selection uses.
type CircuitBreaker interface {
	CanExecute(name string) bool
	Recoverable(name string) bool
	RecordSuccess(name string)
	RecordFailure(name string)
	State(name string) domain.BreakerState
}
