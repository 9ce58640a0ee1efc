package provider

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/switchboard-dev/switchboard/internal/core/domain"
	"github.com/switchboard-dev/switchboard/internal/core/ports"
)

const probeTimeout = 3 * time.Second

// baseAdapter carries the state every vendor variant shares: the immutable
// descriptor and the self-reported rate-limit headroom.
type baseAdapter struct {
	descriptor *domain.ProviderDescriptor

	rateMu sync.Mutex
	rate   ports.RateStatus
}

func newBaseAdapter(descriptor *domain.ProviderDescriptor) baseAdapter {
	return baseAdapter{
		descriptor: descriptor,
		rate:       ports.RateStatus{Remaining: -1},
	}
}

func (b *baseAdapter) Name() string {
	return b.descriptor.Name
}

func (b *baseAdapter) Descriptor() *domain.ProviderDescriptor {
	return b.descriptor
}

func (b *baseAdapter) Supports(model string) bool {
	return b.descriptor.SupportsModel(model)
}

func (b *baseAdapter) RateStatus() ports.RateStatus {
	b.rateMu.Lock()
	defer b.rateMu.Unlock()
	return b.rate
}

// observeRateHeaders records any rate-limit headroom the upstream reported.
func (b *baseAdapter) observeRateHeaders(headers http.Header) {
	remaining, resetAt := parseRateHeaders(headers)
	if remaining < 0 && resetAt.IsZero() {
		return
	}
	b.rateMu.Lock()
	if remaining >= 0 {
		b.rate.Remaining = remaining
	}
	if !resetAt.IsZero() {
		b.rate.ResetAt = resetAt
	}
	b.rateMu.Unlock()
}

// errorResponse builds the canonical failure shape for an upstream reply.
func (b *baseAdapter) errorResponse(kind domain.ErrorKind, statusCode int, detail string) *domain.CanonicalResponse {
	return &domain.CanonicalResponse{
		Status:       domain.StatusUpstreamError,
		ProviderUsed: b.descriptor.Name,
		StatusCode:   statusCode,
		ErrorKind:    kind,
		ErrorDetail:  detail,
	}
}

// decodeFailure handles the non-2xx path shared by all variants: classify the
// status, pull a detail string out of whatever error envelope came back, and
// note any rate headers.
func (b *baseAdapter) decodeFailure(statusCode int, headers http.Header, body []byte) *domain.CanonicalResponse {
	b.observeRateHeaders(headers)
	kind := ClassifyStatus(statusCode)

	detail := gjson.GetBytes(body, "error.message").String()
	if detail == "" {
		detail = gjson.GetBytes(body, "message").String()
	}
	if detail == "" {
		detail = http.StatusText(statusCode)
	}

	return b.errorResponse(kind, statusCode, detail)
}

// probeGet issues a lightweight authenticated GET and reports liveness.
func (b *baseAdapter) probeGet(ctx context.Context, client *http.Client, path string, headers http.Header) bool {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	url := strings.TrimSuffix(b.descriptor.Endpoint, "/") + path
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}
