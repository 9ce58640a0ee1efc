package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/switchboard-dev/switchboard/internal/core/domain"
)

// knownMessageFields are lifted into the canonical shape; everything else in
// the client payload travels opaquely in Extra.
var knownMessageFields = map[string]struct{}{
	"model": {}, "messages": {}, "system": {}, "max_tokens": {},
	"temperature": {}, "top_p": {}, "stop_sequences": {}, "stream": {},
}

// handleMessages terminates the Anthropic-compatible messages API: parse and
// normalise the payload, dispatch through the router, re-encode the reply.
func (a *Application) handleMessages(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeAnthropicError(w, http.StatusRequestEntityTooLarge, "invalid_request_error",
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeAnthropicError(w, http.StatusBadRequest, "invalid_request_error", "unreadable request body")
		return
	}

	req, parseErr := a.normaliseRequest(body)
	if parseErr != "" {
		writeAnthropicError(w, http.StatusBadRequest, "invalid_request_error", parseErr)
		return
	}
	req.RequestID = RequestIDFromContext(r.Context())

	ctx, cancel := a.requestContext(r.Context())
	defer cancel()
	deadline, _ := ctx.Deadline()
	req.Deadline = deadline

	if req.Params.Stream {
		a.streamMessages(ctx, w, req)
		return
	}

	resp := a.router.Execute(ctx, req)
	if !resp.IsSuccess() {
		writeKindError(w, resp)
		return
	}

	w.Header().Set("X-Switchboard-Provider", resp.ProviderUsed)
	writeJSON(w, http.StatusOK, encodeMessage(req, resp))
}

// requestContext derives the request deadline: min(client deadline, configured
// default timeout).
func (a *Application) requestContext(parent context.Context) (context.Context, context.CancelFunc) {
	timeout := a.config.Request.DefaultTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return context.WithTimeout(parent, timeout)
}

// normaliseRequest maps the vendor payload into the canonical shape. The
// returned string is a client-facing validation message when parsing fails.
func (a *Application) normaliseRequest(body []byte) (*domain.CanonicalRequest, string) {
	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, "request body is not valid JSON"
	}

	model, _ := raw["model"].(string)
	if model == "" {
		return nil, "model is required"
	}

	rawMessages, ok := raw["messages"].([]interface{})
	if !ok || len(rawMessages) == 0 {
		return nil, "messages must be a non-empty array"
	}

	req := &domain.CanonicalRequest{Model: model}
	req.System, _ = raw["system"].(string)

	for i, rm := range rawMessages {
		m, ok := rm.(map[string]interface{})
		if !ok {
			return nil, fmt.Sprintf("messages[%d] must be an object", i)
		}
		role, _ := m["role"].(string)
		switch role {
		case "user", "assistant":
			req.Messages = append(req.Messages, domain.Message{Role: role, Content: m["content"]})
		case "system":
			// some clients send system as a leading message; fold it in
			if text, ok := m["content"].(string); ok && req.System == "" {
				req.System = text
			}
		default:
			return nil, fmt.Sprintf("messages[%d] has unsupported role %q", i, role)
		}
	}
	if len(req.Messages) == 0 {
		return nil, "messages must contain at least one user or assistant turn"
	}

	if v, ok := raw["max_tokens"].(float64); ok {
		req.Params.MaxTokens = int(v)
	}
	if v, ok := raw["temperature"].(float64); ok {
		t := v
		req.Params.Temperature = &t
	}
	if v, ok := raw["top_p"].(float64); ok {
		t := v
		req.Params.TopP = &t
	}
	if seqs, ok := raw["stop_sequences"].([]interface{}); ok {
		for _, s := range seqs {
			if str, ok := s.(string); ok {
				req.Params.StopSequences = append(req.Params.StopSequences, str)
			}
		}
	}
	req.Params.Stream, _ = raw["stream"].(bool)

	for key, value := range raw {
		if _, known := knownMessageFields[key]; known {
			continue
		}
		if req.Extra == nil {
			req.Extra = make(map[string]interface{})
		}
		req.Extra[key] = value
	}

	req.Fingerprint = domain.Fingerprint(req.Model, req.System, req.Messages, req.Params)
	return req, ""
}

// messageReply is the non-streaming client response shape.
type messageReply struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Content      []contentBlock `json:"content"`
	Model        string         `json:"model"`
	StopReason   string         `json:"stop_reason,omitempty"`
	ProviderUsed string         `json:"provider_used,omitempty"`
	Usage        usageReply     `json:"usage"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type usageReply struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func encodeMessage(req *domain.CanonicalRequest, resp *domain.CanonicalResponse) messageReply {
	model := resp.ModelUsed
	if model == "" {
		model = req.Model
	}
	return messageReply{
		ID:           "msg_" + req.RequestID,
		Type:         "message",
		Role:         "assistant",
		Content:      []contentBlock{{Type: "text", Text: contentText(resp.Content)}},
		Model:        model,
		StopReason:   resp.StopReason,
		ProviderUsed: resp.ProviderUsed,
		Usage:        usageReply{InputTokens: resp.Tokens.Input, OutputTokens: resp.Tokens.Output},
	}
}

func contentText(content interface{}) string {
	switch c := content.(type) {
	case string:
		return c
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", c)
	}
}
