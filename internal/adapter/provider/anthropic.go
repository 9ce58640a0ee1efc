package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/switchboard-dev/switchboard/internal/core/domain"
	"github.com/switchboard-dev/switchboard/internal/core/ports"
)

const (
	anthropicMessagesPath = "/v1/messages"
	anthropicAPIVersion   = "2023-06-01"
)

// AnthropicAdapter speaks the native messages wire format. Because the gateway
// terminates the same protocol on the front, this variant is close to a
// passthrough: the canonical request maps field for field.
type AnthropicAdapter struct {
	baseAdapter
}

func NewAnthropicAdapter(descriptor *domain.ProviderDescriptor) *AnthropicAdapter {
	return &AnthropicAdapter{baseAdapter: newBaseAdapter(descriptor)}
}

func (a *AnthropicAdapter) Encode(req *domain.CanonicalRequest) (*ports.WireRequest, error) {
	messages := make([]map[string]interface{}, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, map[string]interface{}{"role": m.Role, "content": m.Content})
	}

	maxTokens := req.Params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	payload := map[string]interface{}{
		"model":      req.Model,
		"messages":   messages,
		"max_tokens": maxTokens,
	}
	if req.System != "" {
		payload["system"] = req.System
	}
	if req.Params.Temperature != nil {
		payload["temperature"] = *req.Params.Temperature
	}
	if req.Params.TopP != nil {
		payload["top_p"] = *req.Params.TopP
	}
	if len(req.Params.StopSequences) > 0 {
		payload["stop_sequences"] = req.Params.StopSequences
	}
	if req.Params.Stream {
		payload["stream"] = true
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("anthropic encode: %w", err)
	}

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("anthropic-version", anthropicAPIVersion)
	if a.descriptor.Credential != "" {
		headers.Set("x-api-key", a.descriptor.Credential)
	}

	return &ports.WireRequest{Body: body, Headers: headers, Path: anthropicMessagesPath}, nil
}

func (a *AnthropicAdapter) Decode(statusCode int, headers http.Header, body []byte) *domain.CanonicalResponse {
	if kind := ClassifyStatus(statusCode); kind != domain.ErrKindNone {
		return a.decodeFailure(statusCode, headers, body)
	}
	a.observeRateHeaders(headers)

	if !gjson.ValidBytes(body) {
		return a.errorResponse(domain.ErrKindBadResponse, statusCode, "response body is not valid JSON")
	}

	blocks := gjson.GetBytes(body, "content")
	if !blocks.Exists() {
		return a.errorResponse(domain.ErrKindBadResponse, statusCode, "response missing content blocks")
	}

	var sb strings.Builder
	blocks.ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "text" {
			sb.WriteString(block.Get("text").String())
		}
		return true
	})

	input := int(gjson.GetBytes(body, "usage.input_tokens").Int())
	output := int(gjson.GetBytes(body, "usage.output_tokens").Int())

	return &domain.CanonicalResponse{
		Status:       domain.StatusSuccess,
		Content:      sb.String(),
		ProviderUsed: a.descriptor.Name,
		ModelUsed:    gjson.GetBytes(body, "model").String(),
		StopReason:   gjson.GetBytes(body, "stop_reason").String(),
		StatusCode:   statusCode,
		Tokens: domain.TokenUsage{
			Input:  input,
			Output: output,
			Total:  input + output,
		},
	}
}

func (a *AnthropicAdapter) Probe(ctx context.Context, client *http.Client) bool {
	headers := http.Header{}
	headers.Set("anthropic-version", anthropicAPIVersion)
	if a.descriptor.Credential != "" {
		headers.Set("x-api-key", a.descriptor.Credential)
	}
	return a.probeGet(ctx, client, "/v1/models", headers)
}
