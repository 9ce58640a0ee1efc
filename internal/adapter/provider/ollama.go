package provider

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/switchboard-dev/switchboard/internal/core/domain"
	"github.com/switchboard-dev/switchboard/internal/core/ports"
)

const ollamaChatPath = "/api/chat"

// OllamaAdapter speaks the native Ollama chat format. Sampling parameters ride
// in the options object rather than at the top level, and token usage comes
// back as eval counts.
type OllamaAdapter struct {
	baseAdapter
}

func NewOllamaAdapter(descriptor *domain.ProviderDescriptor) *OllamaAdapter {
	return &OllamaAdapter{baseAdapter: newBaseAdapter(descriptor)}
}

func (a *OllamaAdapter) Encode(req *domain.CanonicalRequest) (*ports.WireRequest, error) {
	messages := make([]map[string]interface{}, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, map[string]interface{}{"role": "system", "content": req.System})
	}
	for _, m := range req.Messages {
		messages = append(messages, map[string]interface{}{"role": m.Role, "content": m.Content})
	}

	options := map[string]interface{}{}
	if req.Params.MaxTokens > 0 {
		options["num_predict"] = req.Params.MaxTokens
	}
	if req.Params.Temperature != nil {
		options["temperature"] = *req.Params.Temperature
	}
	if req.Params.TopP != nil {
		options["top_p"] = *req.Params.TopP
	}
	if len(req.Params.StopSequences) > 0 {
		options["stop"] = req.Params.StopSequences
	}

	payload := map[string]interface{}{
		"model":    req.Model,
		"messages": messages,
		"stream":   req.Params.Stream,
	}
	if len(options) > 0 {
		payload["options"] = options
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ollama encode: %w", err)
	}

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	if a.descriptor.Credential != "" {
		headers.Set("Authorization", "Bearer "+a.descriptor.Credential)
	}

	return &ports.WireRequest{Body: body, Headers: headers, Path: ollamaChatPath}, nil
}

func (a *OllamaAdapter) Decode(statusCode int, headers http.Header, body []byte) *domain.CanonicalResponse {
	if kind := ClassifyStatus(statusCode); kind != domain.ErrKindNone {
		return a.decodeFailure(statusCode, headers, body)
	}
	a.observeRateHeaders(headers)

	if !gjson.ValidBytes(body) {
		return a.errorResponse(domain.ErrKindBadResponse, statusCode, "response body is not valid JSON")
	}

	content := gjson.GetBytes(body, "message.content")
	if !content.Exists() {
		return a.errorResponse(domain.ErrKindBadResponse, statusCode, "response missing message.content")
	}

	input := int(gjson.GetBytes(body, "prompt_eval_count").Int())
	output := int(gjson.GetBytes(body, "eval_count").Int())

	return &domain.CanonicalResponse{
		Status:       domain.StatusSuccess,
		Content:      content.String(),
		ProviderUsed: a.descriptor.Name,
		ModelUsed:    gjson.GetBytes(body, "model").String(),
		StopReason:   mapOllamaDoneReason(gjson.GetBytes(body, "done_reason").String()),
		StatusCode:   statusCode,
		Tokens: domain.TokenUsage{
			Input:  input,
			Output: output,
			Total:  input + output,
		},
	}
}

func (a *OllamaAdapter) Probe(ctx context.Context, client *http.Client) bool {
	return a.probeGet(ctx, client, "/api/tags", nil)
}

func mapOllamaDoneReason(reason string) string {
	switch reason {
	case "stop":
		return "end_turn"
	case "length":
		return "max_tokens"
	default:
		return reason
	}
}
