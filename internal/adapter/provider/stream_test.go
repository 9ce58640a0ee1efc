package provider

import (
	"errors"
	"io"
	"strings"
	"testing"
)

// drain pulls events until Done or EOF, returning the concatenated text and
// the terminal event (nil when the stream ended without one).
func drain(t *testing.T, d StreamDecoder) (string, *StreamEvent) {
	t.Helper()
	var text strings.Builder
	for {
		event, err := d.Next()
		if errors.Is(err, io.EOF) {
			return text.String(), nil
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if event.Done {
			return text.String(), event
		}
		text.WriteString(event.TextDelta)
	}
}

func TestAnthropicStreamDecoder(t *testing.T) {
	wire := strings.Join([]string{
		`event: message_start`,
		`data: {"type":"message_start","message":{"usage":{"input_tokens":11}}}`,
		``,
		`event: content_block_delta`,
		`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"Can"}}`,
		``,
		`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"berra"}}`,
		``,
		`data: {"type":"ping"}`,
		``,
		`data: {"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":4}}`,
		``,
		`data: {"type":"message_stop"}`,
		``,
	}, "\n")

	d := NewStreamDecoder("anthropic", strings.NewReader(wire))

	var text strings.Builder
	var stopReason string
	var done *StreamEvent
	for {
		event, err := d.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		text.WriteString(event.TextDelta)
		if event.StopReason != "" {
			stopReason = event.StopReason
		}
		if event.Done {
			done = event
			break
		}
	}

	if text.String() != "Canberra" {
		t.Errorf("Concatenated text = %q, want Canberra", text.String())
	}
	if stopReason != "end_turn" {
		t.Errorf("Stop reason = %q, want end_turn", stopReason)
	}
	if done == nil {
		t.Fatal("Expected a terminal Done event")
	}
	if done.Usage.Input != 11 || done.Usage.Output != 4 || done.Usage.Total != 15 {
		t.Errorf("Unexpected usage %+v", done.Usage)
	}
}

func TestOpenAIStreamDecoder(t *testing.T) {
	wire := strings.Join([]string{
		`data: {"choices":[{"delta":{"role":"assistant"}}]}`,
		``,
		`data: {"choices":[{"delta":{"content":"Can"}}]}`,
		``,
		`data: {"choices":[{"delta":{"content":"berra"}}]}`,
		``,
		`data: {"choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":9,"completion_tokens":2,"total_tokens":11}}`,
		``,
		`data: [DONE]`,
		``,
	}, "\n")

	d := NewStreamDecoder("openai", strings.NewReader(wire))
	text, done := drain(t, d)

	if text != "Canberra" {
		t.Errorf("Concatenated text = %q, want Canberra", text)
	}
	if done == nil {
		t.Fatal("Expected a terminal Done event at [DONE]")
	}
	if done.StopReason != "end_turn" {
		t.Errorf("finish_reason stop should map to end_turn, got %q", done.StopReason)
	}
	if done.Usage.Total != 11 {
		t.Errorf("Unexpected usage %+v", done.Usage)
	}
}

func TestOllamaStreamDecoder(t *testing.T) {
	wire := strings.Join([]string{
		`{"message":{"role":"assistant","content":"Can"},"done":false}`,
		`{"message":{"role":"assistant","content":"berra"},"done":false}`,
		`{"message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","prompt_eval_count":7,"eval_count":3}`,
	}, "\n")

	d := NewStreamDecoder("ollama", strings.NewReader(wire))
	text, done := drain(t, d)

	if text != "Canberra" {
		t.Errorf("Concatenated text = %q, want Canberra", text)
	}
	if done == nil {
		t.Fatal("Expected a terminal Done event")
	}
	if done.StopReason != "end_turn" {
		t.Errorf("done_reason stop should map to end_turn, got %q", done.StopReason)
	}
	if done.Usage.Input != 7 || done.Usage.Output != 3 || done.Usage.Total != 10 {
		t.Errorf("Unexpected usage %+v", done.Usage)
	}
}

func TestStreamDecoder_EOFWithoutDone(t *testing.T) {
	d := NewStreamDecoder("openai", strings.NewReader(`data: {"choices":[{"delta":{"content":"partial"}}]}`))

	event, err := d.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if event.TextDelta != "partial" {
		t.Errorf("Unexpected delta %q", event.TextDelta)
	}

	if _, err := d.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("Truncated stream should end with io.EOF, got %v", err)
	}
}

func TestStreamDecoder_UnknownKindFallsBackToOpenAI(t *testing.T) {
	d := NewStreamDecoder("something-else", strings.NewReader("data: [DONE]\n"))
	if _, ok := d.(*openaiStreamDecoder); !ok {
		t.Errorf("Unknown kinds should get the OpenAI-compatible decoder, got %T", d)
	}
}
