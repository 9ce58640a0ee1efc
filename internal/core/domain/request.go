package domain

import (
	"time"
)

// Message is a single turn in the conversation, already normalised from the
// client wire format. Content is kept opaque (string or structured blocks) so
// adapters can re-shape it for their vendor without loss.
type Message struct {
	Content interface{} `json:"content"`
	Role    string      `json:"role"`
}

// GenerationParams carries the generation parameters the gateway recognises.
// Unknown client fields travel separately in CanonicalRequest.Extra.
type GenerationParams struct {
	Temperature   *float64 `json:"temperature,omitempty"`
	TopP          *float64 `json:"top_p,omitempty"`
	MaxTokens     int      `json:"max_tokens,omitempty"`
	StopSequences []string `json:"stop_sequences,omitempty"`
	Stream        bool     `json:"stream,omitempty"`
}

// CanonicalRequest is the vendor-neutral request shape the router dispatches.
// It is built once by the gateway and treated as read-only afterwards, except
// for Attempt which the router advances between tries.
type CanonicalRequest struct {
	Extra       map[string]interface{} `json:"-"`
	Model       string                 `json:"model"`
	System      string                 `json:"system,omitempty"`
	Fingerprint string                 `json:"-"`
	RequestID   string                 `json:"-"`
	Messages    []Message              `json:"messages"`
	Params      GenerationParams       `json:"params"`
	Deadline    time.Time              `json:"-"`
	Attempt     int                    `json:"-"`
}

// RemainingBudget returns how much of the request deadline is left.
// Zero or negative means the request must be abandoned.
func (r *CanonicalRequest) RemainingBudget() time.Duration {
	if r.Deadline.IsZero() {
		return time.Hour // effectively unbounded, callers still apply their own timeouts
	}
	return time.Until(r.Deadline)
}

// ResponseStatus classifies how an attempt (or the whole request) ended.
type ResponseStatus string

const (
	StatusSuccess       ResponseStatus = "success"
	StatusUpstreamError ResponseStatus = "upstream_error"
	StatusLocalError    ResponseStatus = "local_error"
)

// TokenUsage mirrors the token accounting upstreams report. All zero when the
// upstream did not report usage.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
	Total  int `json:"total"`
}

// CanonicalResponse is what comes back from a dispatch attempt. Content is the
// decoded payload ready for the gateway to re-encode into the client shape.
type CanonicalResponse struct {
	Content      interface{}    `json:"content,omitempty"`
	Status       ResponseStatus `json:"status"`
	ModelUsed    string         `json:"model_used,omitempty"`
	ProviderUsed string         `json:"provider_used,omitempty"`
	StopReason   string         `json:"stop_reason,omitempty"`
	ErrorKind    ErrorKind      `json:"error_kind,omitempty"`
	ErrorDetail  string         `json:"error_detail,omitempty"`
	Tokens       TokenUsage     `json:"tokens"`
	LatencyMs    int64          `json:"latency_ms"`
	StatusCode   int            `json:"status_code,omitempty"`
}

// IsSuccess reports whether the attempt reached an upstream and got a usable reply.
func (r *CanonicalResponse) IsSuccess() bool {
	return r.Status == StatusSuccess
}

// SizeBytes approximates the in-memory footprint of the response for cache
// accounting. Only the content payload is measured; envelope fields are noise
// at the byte caps we run with.
func (r *CanonicalResponse) SizeBytes() int64 {
	return approximateSize(r.Content) + int64(len(r.ErrorDetail)+len(r.ModelUsed)+len(r.ProviderUsed))
}

func approximateSize(v interface{}) int64 {
	switch t := v.(type) {
	case nil:
		return 0
	case string:
		return int64(len(t))
	case []byte:
		return int64(len(t))
	case []interface{}:
		var total int64
		for _, e := range t {
			total += approximateSize(e)
		}
		return total
	case map[string]interface{}:
		var total int64
		for k, e := range t {
			total += int64(len(k)) + approximateSize(e)
		}
		return total
	default:
		return 16 // numbers, bools, small scalars
	}
}
