package router

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/switchboard-dev/switchboard/internal/adapter/provider"
	"github.com/switchboard-dev/switchboard/internal/core/domain"
	"github.com/switchboard-dev/switchboard/internal/core/ports"
	litepool "github.com/switchboard-dev/switchboard/pkg/pool"
)

// maxUpstreamBodyBytes bounds how much of an upstream reply is read. Anything
// larger is malformed for this protocol.
const maxUpstreamBodyBytes = 32 << 20

// bodyBuffers recycles read buffers for upstream replies. Decode copies what
// it keeps, so the buffer can go straight back after the attempt.
var bodyBuffers = newBufferPool()

func newBufferPool() *litepool.Pool[*bytes.Buffer] {
	p, err := litepool.NewLitePool(func() *bytes.Buffer { return new(bytes.Buffer) })
	if err != nil {
		panic(err)
	}
	return p
}

// dispatch runs one attempt against the selected provider: pool acquire,
// encode, upstream call with the attempt deadline, decode, and outcome
// recording. Local rejections (pool exhaustion) never count against the
// provider; anything that reached the upstream does.
func (r *Router) dispatch(ctx context.Context, req *domain.CanonicalRequest, reg *provider.Registration) *domain.CanonicalResponse {
	desc := reg.Adapter.Descriptor()
	deadline := attemptDeadline(req, desc.Timeout)

	entry, err := r.pool.Acquire(endpointHost(desc.Endpoint), deadline)
	if err != nil {
		resp := poolErrorResponse(err)
		r.recordLocal(req, desc.Name, resp)
		return resp
	}

	wire, err := reg.Adapter.Encode(req)
	if err != nil {
		r.pool.Release(entry, true)
		resp := localError(domain.ErrKindInternal, err.Error())
		r.recordLocal(req, desc.Name, resp)
		return resp
	}

	attemptCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost,
		strings.TrimSuffix(desc.Endpoint, "/")+wire.Path, bytes.NewReader(wire.Body))
	if err != nil {
		r.pool.Release(entry, true)
		resp := localError(domain.ErrKindInternal, err.Error())
		r.recordLocal(req, desc.Name, resp)
		return resp
	}
	httpReq.Header = wire.Headers

	start := time.Now()
	httpResp, err := entry.Client.Do(httpReq)
	latency := time.Since(start)

	if err != nil {
		kind := provider.ClassifyTransportError(attemptCtx, err)
		r.pool.Release(entry, false)
		resp := &domain.CanonicalResponse{
			Status:       domain.StatusUpstreamError,
			ProviderUsed: desc.Name,
			ErrorKind:    kind,
			ErrorDetail:  err.Error(),
			LatencyMs:    latency.Milliseconds(),
		}
		r.recordUpstream(req, reg, resp)
		return resp
	}

	buf := bodyBuffers.Get()
	defer bodyBuffers.Put(buf)
	_, readErr := buf.ReadFrom(io.LimitReader(httpResp.Body, maxUpstreamBodyBytes))
	httpResp.Body.Close()
	r.pool.Release(entry, httpResp.StatusCode < 500 && readErr == nil)

	var resp *domain.CanonicalResponse
	if readErr != nil {
		resp = &domain.CanonicalResponse{
			Status:       domain.StatusUpstreamError,
			ProviderUsed: desc.Name,
			ErrorKind:    provider.ClassifyTransportError(attemptCtx, readErr),
			ErrorDetail:  readErr.Error(),
			StatusCode:   httpResp.StatusCode,
		}
	} else {
		resp = reg.Adapter.Decode(httpResp.StatusCode, httpResp.Header, buf.Bytes())
	}
	resp.LatencyMs = latency.Milliseconds()

	r.recordUpstream(req, reg, resp)
	return resp
}

// attemptDeadline is min(request deadline, now + adapter timeout).
func attemptDeadline(req *domain.CanonicalRequest, timeout time.Duration) time.Time {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	deadline := time.Now().Add(timeout)
	if !req.Deadline.IsZero() && req.Deadline.Before(deadline) {
		deadline = req.Deadline
	}
	return deadline
}

// recordUpstream applies the attempt outcome to provider state, breaker, and
// the observer. Every call that reached the upstream counts, rate limits
// included; only purely local rejections are exempt.
func (r *Router) recordUpstream(req *domain.CanonicalRequest, reg *provider.Registration, resp *domain.CanonicalResponse) {
	name := reg.Adapter.Name()

	if rs := reg.Adapter.RateStatus(); rs.Remaining >= 0 || !rs.ResetAt.IsZero() {
		reg.State.UpdateRateLimit(rs.Remaining, rs.ResetAt)
	}

	if resp.IsSuccess() {
		reg.State.RecordSuccess()
		r.breaker.RecordSuccess(name)
	} else if resp.ErrorKind != domain.ErrKindCancelled {
		reg.State.RecordFailure(r.cfg.FailureThreshold)
		r.breaker.RecordFailure(name)
		r.logger.WarnWithProvider("Upstream attempt failed", name,
			"request_id", req.RequestID,
			"fingerprint", domain.FingerprintPrefix(req.Fingerprint),
			"attempt", req.Attempt,
			"error_kind", resp.ErrorKind.String(),
			"detail", resp.ErrorDetail,
			"latency_ms", resp.LatencyMs)
	}

	r.observer.RecordAttempt(ports.AttemptOutcome{
		Timestamp:  time.Now(),
		Provider:   name,
		Endpoint:   reg.Adapter.Descriptor().Endpoint,
		RequestID:  req.RequestID,
		ErrorKind:  resp.ErrorKind,
		Tokens:     resp.Tokens,
		LatencyMs:  resp.LatencyMs,
		StatusCode: resp.StatusCode,
		Success:    resp.IsSuccess(),
	})
}

// recordLocal publishes a local rejection for visibility without touching
// provider state or the breaker.
func (r *Router) recordLocal(req *domain.CanonicalRequest, providerName string, resp *domain.CanonicalResponse) {
	r.observer.RecordAttempt(ports.AttemptOutcome{
		Timestamp: time.Now(),
		Provider:  providerName,
		RequestID: req.RequestID,
		ErrorKind: resp.ErrorKind,
		Success:   false,
	})
}
