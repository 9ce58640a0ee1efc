package router

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/switchboard-dev/switchboard/internal/adapter/pool"
	"github.com/switchboard-dev/switchboard/internal/adapter/provider"
	"github.com/switchboard-dev/switchboard/internal/core/domain"
	"github.com/switchboard-dev/switchboard/internal/core/ports"
)

// Stream is a live upstream reply being consumed incrementally. The caller
// must drain it with Next and finish with Close; the pooled connection stays
// checked out until then.
type Stream struct {
	Provider  string
	Model     string
	decoder   provider.StreamDecoder
	body      io.ReadCloser
	cancel    context.CancelFunc
	entry     *pool.Entry
	router    *Router
	requestID string
	started   time.Time
	usage     domain.TokenUsage
	closed    bool
}

// Next yields the next canonical stream event, io.EOF when exhausted.
func (s *Stream) Next() (*provider.StreamEvent, error) {
	event, err := s.decoder.Next()
	if err != nil {
		return nil, err
	}
	if event.Done {
		s.usage = event.Usage
	}
	return event, nil
}

// Close releases the connection and records the attempt outcome. ok reports
// whether the stream was drained cleanly; a client disconnect or upstream
// abort passes false and the connection is retired.
func (s *Stream) Close(ok bool) {
	if s.closed {
		return
	}
	s.closed = true
	s.cancel()
	s.body.Close()
	s.router.pool.Release(s.entry, ok)

	kind := domain.ErrKindNone
	if !ok {
		kind = domain.ErrKindCancelled
	}
	s.router.observer.RecordAttempt(ports.AttemptOutcome{
		Timestamp: time.Now(),
		Provider:  s.Provider,
		RequestID: s.requestID,
		ErrorKind: kind,
		Tokens:    s.usage,
		LatencyMs: time.Since(s.started).Milliseconds(),
		Success:   ok,
	})
}

// ExecuteStream selects a provider and opens a streaming dispatch. Selection,
// breaker, and retry semantics match Execute, except retries only happen
// before the upstream commits a 2xx; once frames flow the stream is terminal.
// The cache plays no part here: streamed replies are never cached.
func (r *Router) ExecuteStream(ctx context.Context, req *domain.CanonicalRequest) (*Stream, *domain.CanonicalResponse) {
	tried := make(map[string]struct{})
	var last *domain.CanonicalResponse

	for attempt := 0; ; attempt++ {
		req.Attempt = attempt

		if req.RemainingBudget() <= 0 {
			return nil, r.deadlineExceeded(req, last)
		}

		reg, selKind := r.selectCandidate(req, tried, attempt)
		if reg == nil {
			if last != nil {
				return nil, last
			}
			return nil, localError(selKind, "no provider available for model "+req.Model)
		}
		name := reg.Adapter.Name()
		tried[name] = struct{}{}

		if !r.breaker.CanExecute(name) {
			last = localError(domain.ErrKindServer, "circuit breaker open for "+name)
			last.ProviderUsed = name
			continue
		}
		if reg.Limiter != nil && !reg.Limiter.Allow() {
			last = localError(domain.ErrKindRateLimit, "local rate limit reached for "+name)
			last.ProviderUsed = name
			continue
		}

		stream, resp := r.dispatchStream(ctx, req, reg)
		if stream != nil {
			return stream, nil
		}
		last = resp

		if !resp.ErrorKind.Retriable() || attempt+1 >= r.maxAttempts(reg) {
			return nil, resp
		}
	}
}

// dispatchStream opens the upstream call and hands back a live stream on 2xx.
// Non-2xx replies are fully read and decoded so the failure carries the
// upstream's error detail.
func (r *Router) dispatchStream(ctx context.Context, req *domain.CanonicalRequest, reg *provider.Registration) (*Stream, *domain.CanonicalResponse) {
	desc := reg.Adapter.Descriptor()
	deadline := attemptDeadline(req, desc.Timeout)

	entry, err := r.pool.Acquire(endpointHost(desc.Endpoint), deadline)
	if err != nil {
		resp := poolErrorResponse(err)
		r.recordLocal(req, desc.Name, resp)
		return nil, resp
	}

	wire, err := reg.Adapter.Encode(req)
	if err != nil {
		r.pool.Release(entry, true)
		resp := localError(domain.ErrKindInternal, err.Error())
		r.recordLocal(req, desc.Name, resp)
		return nil, resp
	}

	attemptCtx, cancel := context.WithDeadline(ctx, deadline)

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost,
		strings.TrimSuffix(desc.Endpoint, "/")+wire.Path, bytes.NewReader(wire.Body))
	if err != nil {
		cancel()
		r.pool.Release(entry, true)
		resp := localError(domain.ErrKindInternal, err.Error())
		r.recordLocal(req, desc.Name, resp)
		return nil, resp
	}
	httpReq.Header = wire.Headers
	httpReq.Header.Set("Accept", "text/event-stream")

	start := time.Now()
	httpResp, err := entry.Client.Do(httpReq)
	if err != nil {
		kind := provider.ClassifyTransportError(attemptCtx, err)
		cancel()
		r.pool.Release(entry, false)
		resp := &domain.CanonicalResponse{
			Status:       domain.StatusUpstreamError,
			ProviderUsed: desc.Name,
			ErrorKind:    kind,
			ErrorDetail:  err.Error(),
			LatencyMs:    time.Since(start).Milliseconds(),
		}
		r.recordUpstream(req, reg, resp)
		return nil, resp
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxUpstreamBodyBytes))
		httpResp.Body.Close()
		cancel()
		r.pool.Release(entry, httpResp.StatusCode < 500)
		resp := reg.Adapter.Decode(httpResp.StatusCode, httpResp.Header, body)
		resp.LatencyMs = time.Since(start).Milliseconds()
		r.recordUpstream(req, reg, resp)
		return nil, resp
	}

	// Connect succeeded: the breaker and state see a success now, the full
	// drain is accounted when the stream closes.
	reg.State.RecordSuccess()
	r.breaker.RecordSuccess(desc.Name)

	return &Stream{
		Provider:  desc.Name,
		Model:     req.Model,
		decoder:   provider.NewStreamDecoder(desc.Kind, httpResp.Body),
		body:      httpResp.Body,
		cancel:    cancel,
		entry:     entry,
		router:    r,
		requestID: req.RequestID,
		started:   start,
	}, nil
}
