package provider

import (
	"context"
	"fmt"
	"net/http"

	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/gjson"

	"github.com/switchboard-dev/switchboard/internal/core/domain"
	"github.com/switchboard-dev/switchboard/internal/core/ports"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const openaiChatPath = "/v1/chat/completions"

// OpenAIAdapter speaks the OpenAI-compatible chat completions wire format.
// Most self-hosted inference servers (vLLM, LM Studio, llama.cpp) expose this
// surface too, so it doubles as the generic variant.
type OpenAIAdapter struct {
	baseAdapter
}

func NewOpenAIAdapter(descriptor *domain.ProviderDescriptor) *OpenAIAdapter {
	return &OpenAIAdapter{baseAdapter: newBaseAdapter(descriptor)}
}

func (a *OpenAIAdapter) Encode(req *domain.CanonicalRequest) (*ports.WireRequest, error) {
	messages := make([]map[string]interface{}, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, map[string]interface{}{"role": "system", "content": req.System})
	}
	for _, m := range req.Messages {
		messages = append(messages, map[string]interface{}{"role": m.Role, "content": m.Content})
	}

	payload := map[string]interface{}{
		"model":    req.Model,
		"messages": messages,
	}
	if req.Params.MaxTokens > 0 {
		payload["max_tokens"] = req.Params.MaxTokens
	}
	if req.Params.Temperature != nil {
		payload["temperature"] = *req.Params.Temperature
	}
	if req.Params.TopP != nil {
		payload["top_p"] = *req.Params.TopP
	}
	if len(req.Params.StopSequences) > 0 {
		payload["stop"] = req.Params.StopSequences
	}
	if req.Params.Stream {
		payload["stream"] = true
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("openai encode: %w", err)
	}

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	if a.descriptor.Credential != "" {
		headers.Set("Authorization", "Bearer "+a.descriptor.Credential)
	}

	return &ports.WireRequest{Body: body, Headers: headers, Path: openaiChatPath}, nil
}

func (a *OpenAIAdapter) Decode(statusCode int, headers http.Header, body []byte) *domain.CanonicalResponse {
	if kind := ClassifyStatus(statusCode); kind != domain.ErrKindNone {
		return a.decodeFailure(statusCode, headers, body)
	}
	a.observeRateHeaders(headers)

	if !gjson.ValidBytes(body) {
		return a.errorResponse(domain.ErrKindBadResponse, statusCode, "response body is not valid JSON")
	}

	content := gjson.GetBytes(body, "choices.0.message.content")
	if !content.Exists() {
		return a.errorResponse(domain.ErrKindBadResponse, statusCode, "response missing choices[0].message.content")
	}

	return &domain.CanonicalResponse{
		Status:       domain.StatusSuccess,
		Content:      content.String(),
		ProviderUsed: a.descriptor.Name,
		ModelUsed:    gjson.GetBytes(body, "model").String(),
		StopReason:   mapOpenAIFinishReason(gjson.GetBytes(body, "choices.0.finish_reason").String()),
		StatusCode:   statusCode,
		Tokens: domain.TokenUsage{
			Input:  int(gjson.GetBytes(body, "usage.prompt_tokens").Int()),
			Output: int(gjson.GetBytes(body, "usage.completion_tokens").Int()),
			Total:  int(gjson.GetBytes(body, "usage.total_tokens").Int()),
		},
	}
}

func (a *OpenAIAdapter) Probe(ctx context.Context, client *http.Client) bool {
	headers := http.Header{}
	if a.descriptor.Credential != "" {
		headers.Set("Authorization", "Bearer "+a.descriptor.Credential)
	}
	return a.probeGet(ctx, client, "/v1/models", headers)
}

func mapOpenAIFinishReason(reason string) string {
	switch reason {
	case "stop":
		return "end_turn"
	case "length":
		return "max_tokens"
	case "content_filter":
		return "stop_sequence"
	default:
		return reason
	}
}
