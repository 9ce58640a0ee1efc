package router

import (
	"context"
	"errors"
	"net/url"
	"sort"
	"time"

	"github.com/switchboard-dev/switchboard/internal/adapter/pool"
	"github.com/switchboard-dev/switchboard/internal/adapter/provider"
	"github.com/switchboard-dev/switchboard/internal/core/domain"
	"github.com/switchboard-dev/switchboard/internal/core/ports"
	"github.com/switchboard-dev/switchboard/internal/logger"
	"github.com/switchboard-dev/switchboard/internal/util"
)

// Config carries the retry and health policy the router applies per request.
type Config struct {
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	JitterFraction   float64
	FailureThreshold int // consecutive upstream failures before a provider is flagged unhealthy
	CacheEnabled     bool
}

// LatencyReader supplies the observed p95 latency used as a selection
// tie-breaker. The metrics aggregator implements it; tests use the noop.
type LatencyReader interface {
	P95LatencyMs(provider string) float64
}

// NoopLatencyReader reports zero for every provider.
type NoopLatencyReader struct{}

func (NoopLatencyReader) P95LatencyMs(string) float64 { return 0 }

// Router owns the dispatch policy: candidate selection, the per-attempt
// pipeline (cache, breaker, pool, upstream call, decode), retry with
// exponential backoff, and outcome recording.
type Router struct {
	registry *provider.Registry
	breaker  ports.CircuitBreaker
	cache    ports.ResponseCache
	pool     *pool.ConnectionPool
	observer ports.Observer
	latency  LatencyReader
	logger   *logger.StyledLogger
	cfg      Config
}

func New(cfg Config, registry *provider.Registry, breaker ports.CircuitBreaker,
	cache ports.ResponseCache, connPool *pool.ConnectionPool,
	observer ports.Observer, latency LatencyReader, log *logger.StyledLogger) *Router {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if observer == nil {
		observer = ports.NoopObserver{}
	}
	if latency == nil {
		latency = NoopLatencyReader{}
	}
	return &Router{
		cfg:      cfg,
		registry: registry,
		breaker:  breaker,
		cache:    cache,
		pool:     connPool,
		observer: observer,
		latency:  latency,
		logger:   log,
	}
}

// Execute drives a request to a terminal outcome: a cached reply, a successful
// upstream reply, or a classified failure. Failures come back as responses
// with an error status, never as bare errors, so the gateway has one shape to
// translate.
func (r *Router) Execute(ctx context.Context, req *domain.CanonicalRequest) *domain.CanonicalResponse {
	if r.cfg.CacheEnabled && r.cache != nil && !req.Params.Stream {
		if cached, ok := r.cache.Get(req.Fingerprint); ok {
			r.observer.RecordAttempt(ports.AttemptOutcome{
				Timestamp: time.Now(),
				Provider:  cached.ProviderUsed,
				RequestID: req.RequestID,
				Success:   true,
				CacheHit:  true,
				Tokens:    cached.Tokens,
			})
			return cached
		}
	}

	tried := make(map[string]struct{})
	var last *domain.CanonicalResponse

	for attempt := 0; ; attempt++ {
		req.Attempt = attempt

		if req.RemainingBudget() <= 0 {
			return r.deadlineExceeded(req, last)
		}

		reg, selKind := r.selectCandidate(req, tried, attempt)
		if reg == nil {
			if last != nil {
				return last
			}
			return localError(selKind, "no provider available for model "+req.Model)
		}
		name := reg.Adapter.Name()
		tried[name] = struct{}{}

		if !r.breaker.CanExecute(name) {
			r.logger.WarnWithProvider("Breaker rejected dispatch", name,
				"request_id", req.RequestID, "attempt", attempt)
			last = localError(domain.ErrKindServer, "circuit breaker open for "+name)
			last.ProviderUsed = name
			continue
		}

		if reg.Limiter != nil && !reg.Limiter.Allow() {
			last = localError(domain.ErrKindRateLimit, "local rate limit reached for "+name)
			last.ProviderUsed = name
			continue
		}

		resp := r.dispatch(ctx, req, reg)
		if resp.IsSuccess() {
			if r.cfg.CacheEnabled && r.cache != nil && !req.Params.Stream {
				r.cache.Put(req.Fingerprint, resp, 0)
			}
			if attempt > 0 {
				r.logger.InfoWithProvider("Request recovered after retry", name,
					"request_id", req.RequestID, "attempts", attempt+1)
			}
			return resp
		}
		last = resp

		if !resp.ErrorKind.Retriable() {
			return resp
		}
		if attempt+1 >= r.maxAttempts(reg) {
			return resp
		}

		delay := util.CalculateExponentialBackoff(attempt+1, r.cfg.BaseDelay, r.cfg.MaxDelay, r.cfg.JitterFraction)
		if delay >= req.RemainingBudget() {
			return resp
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return r.deadlineExceeded(req, resp)
		case <-timer.C:
		}
	}
}

// selectCandidate applies the candidate filters and ordering. On an empty set
// for the first attempt the health and breaker filters are relaxed once so a
// half-open provider can be probed. The returned kind classifies an empty
// result: rate_limit when rate headroom alone excluded everyone, server
// otherwise.
func (r *Router) selectCandidate(req *domain.CanonicalRequest, tried map[string]struct{}, attempt int) (*provider.Registration, domain.ErrorKind) {
	candidates, onlyRateFiltered := r.filterCandidates(req, tried, false)
	if len(candidates) == 0 && attempt == 0 {
		candidates, onlyRateFiltered = r.filterCandidates(req, tried, true)
	}
	if len(candidates) == 0 {
		if onlyRateFiltered {
			return nil, domain.ErrKindRateLimit
		}
		return nil, domain.ErrKindServer
	}

	sort.Slice(candidates, func(i, j int) bool {
		di, dj := candidates[i].Adapter.Descriptor(), candidates[j].Adapter.Descriptor()
		if di.Priority != dj.Priority {
			return di.Priority < dj.Priority
		}
		ri := candidates[i].State.Snapshot().RateLimitRemaining
		rj := candidates[j].State.Snapshot().RateLimitRemaining
		if ri != rj {
			return ri > rj
		}
		pi := r.latency.P95LatencyMs(di.Name)
		pj := r.latency.P95LatencyMs(dj.Name)
		if pi != pj {
			return pi < pj
		}
		return di.Name < dj.Name
	})
	return candidates[0], domain.ErrKindNone
}

func (r *Router) filterCandidates(req *domain.CanonicalRequest, tried map[string]struct{}, relaxed bool) (candidates []*provider.Registration, onlyRateFiltered bool) {
	now := time.Now()
	rateFiltered := 0
	otherFiltered := 0

	for _, reg := range r.registry.List() {
		name := reg.Adapter.Name()
		if _, seen := tried[name]; seen {
			otherFiltered++
			continue
		}
		if !reg.Adapter.Supports(req.Model) {
			continue
		}
		if !relaxed {
			if !reg.State.IsHealthy() {
				otherFiltered++
				continue
			}
			if r.breaker.State(name) == domain.BreakerOpen {
				otherFiltered++
				continue
			}
		} else if r.breaker.State(name) == domain.BreakerOpen {
			// even relaxed, a hard-open breaker stays out; half_open is eligible
			if !r.breakerRecoverable(name) {
				otherFiltered++
				continue
			}
		}
		if !reg.State.HasRateHeadroom(now) {
			rateFiltered++
			continue
		}
		candidates = append(candidates, reg)
	}
	return candidates, rateFiltered > 0 && otherFiltered == 0
}

// breakerRecoverable reports whether a nominally open breaker would flip to
// half_open on its next CanExecute, i.e. the recovery timeout has elapsed.
// Deliberately not CanExecute: that would claim the probe slot during
// selection and starve the dispatch that follows.
func (r *Router) breakerRecoverable(name string) bool {
	return r.breaker.Recoverable(name)
}

// maxAttempts bounds retries by the selected adapter's budget. The remaining
// deadline is checked separately before every backoff sleep.
func (r *Router) maxAttempts(reg *provider.Registration) int {
	max := reg.Adapter.Descriptor().MaxRetries
	if max <= 0 {
		max = 1
	}
	return max
}

func (r *Router) deadlineExceeded(req *domain.CanonicalRequest, last *domain.CanonicalResponse) *domain.CanonicalResponse {
	kind := domain.ErrKindCancelled
	detail := "request deadline exceeded"
	if last != nil && last.ErrorKind == domain.ErrKindTimeout {
		kind = domain.ErrKindTimeout
		detail = "request deadline exceeded during upstream call"
	}
	resp := localError(kind, detail)
	if last != nil {
		resp.ProviderUsed = last.ProviderUsed
	}
	return resp
}

func localError(kind domain.ErrorKind, detail string) *domain.CanonicalResponse {
	return &domain.CanonicalResponse{
		Status:      domain.StatusLocalError,
		ErrorKind:   kind,
		ErrorDetail: detail,
	}
}

// endpointHost extracts the pool key for a descriptor endpoint.
func endpointHost(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return endpoint
	}
	return u.Host
}

// poolErrorResponse classifies pool acquisition failures as local errors.
func poolErrorResponse(err error) *domain.CanonicalResponse {
	switch {
	case errors.Is(err, domain.ErrPoolExhausted):
		return localError(domain.ErrKindTimeout, "connection pool exhausted")
	case errors.Is(err, domain.ErrPoolClosed):
		return localError(domain.ErrKindCancelled, "gateway shutting down")
	default:
		return localError(domain.ErrKindInternal, err.Error())
	}
}
