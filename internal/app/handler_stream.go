package app

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/switchboard-dev/switchboard/internal/core/domain"
)

// streamMessages serves a streaming completion as Server-Sent Events. Frames
// follow the Anthropic event set regardless of which vendor is upstream. A
// failed client write means the client is gone or too slow; the upstream
// stream is cancelled and the outcome recorded as such.
func (a *Application) streamMessages(ctx context.Context, w http.ResponseWriter, req *domain.CanonicalRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeAnthropicError(w, http.StatusInternalServerError, "api_error", "streaming unsupported by server")
		return
	}

	stream, errResp := a.router.ExecuteStream(ctx, req)
	if errResp != nil {
		writeKindError(w, errResp)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Switchboard-Provider", stream.Provider)
	w.WriteHeader(http.StatusOK)

	send := func(event string, payload interface{}) bool {
		data, err := json.Marshal(payload)
		if err != nil {
			return false
		}
		if _, err := w.Write([]byte("event: " + event + "\ndata: " + string(data) + "\n\n")); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	start := map[string]interface{}{
		"type": "message_start",
		"message": map[string]interface{}{
			"id":    "msg_" + req.RequestID,
			"type":  "message",
			"role":  "assistant",
			"model": req.Model,
		},
	}
	if !send("message_start", start) {
		stream.Close(false)
		return
	}
	// Anthropic clients expect an early ping before deltas arrive.
	if !send("ping", map[string]interface{}{"type": "ping"}) {
		stream.Close(false)
		return
	}

	var stopReason string
	for {
		select {
		case <-ctx.Done():
			stream.Close(false)
			return
		default:
		}

		event, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				stream.Close(true)
				send("message_stop", map[string]interface{}{"type": "message_stop"})
			} else {
				stream.Close(false)
				a.logger.Warn("Upstream stream aborted",
					"request_id", req.RequestID, "provider", stream.Provider, "error", err)
			}
			return
		}

		switch {
		case event.TextDelta != "":
			delta := map[string]interface{}{
				"type":  "content_block_delta",
				"index": 0,
				"delta": map[string]interface{}{"type": "text_delta", "text": event.TextDelta},
			}
			if !send("content_block_delta", delta) {
				stream.Close(false)
				return
			}
		case event.StopReason != "":
			stopReason = event.StopReason
		case event.Done:
			messageDelta := map[string]interface{}{
				"type":  "message_delta",
				"delta": map[string]interface{}{"stop_reason": stopReason},
				"usage": map[string]interface{}{"output_tokens": event.Usage.Output},
			}
			ok := send("message_delta", messageDelta) &&
				send("message_stop", map[string]interface{}{"type": "message_stop"})
			stream.Close(ok)
			return
		}
	}
}
