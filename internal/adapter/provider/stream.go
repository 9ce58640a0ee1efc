package provider

import (
	"bufio"
	"io"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/switchboard-dev/switchboard/internal/core/domain"
)

// StreamEvent is one canonical increment of a streamed reply. TextDelta
// carries new content; StopReason and Usage arrive near the end of the stream;
// Done marks the final event.
type StreamEvent struct {
	TextDelta  string
	StopReason string
	Usage      domain.TokenUsage
	Done       bool
}

// StreamDecoder turns a vendor's streaming wire format into canonical events.
// Next returns io.EOF once the stream is exhausted.
type StreamDecoder interface {
	Next() (*StreamEvent, error)
}

// NewStreamDecoder selects the decoder for a provider kind. The scanner buffer
// is sized for the largest single frame a well-behaved upstream emits.
func NewStreamDecoder(kind string, r io.Reader) StreamDecoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	switch kind {
	case "anthropic":
		return &anthropicStreamDecoder{scanner: scanner}
	case "ollama":
		return &ollamaStreamDecoder{scanner: scanner}
	default:
		return &openaiStreamDecoder{scanner: scanner}
	}
}

// anthropicStreamDecoder parses the native SSE event stream. Event types we
// do not recognise (ping, content_block_start/stop) are skipped.
type anthropicStreamDecoder struct {
	scanner *bufio.Scanner
	usage   domain.TokenUsage
}

func (d *anthropicStreamDecoder) Next() (*StreamEvent, error) {
	for d.scanner.Scan() {
		line := strings.TrimSpace(d.scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}

		switch gjson.Get(data, "type").String() {
		case "message_start":
			d.usage.Input = int(gjson.Get(data, "message.usage.input_tokens").Int())
		case "content_block_delta":
			if text := gjson.Get(data, "delta.text").String(); text != "" {
				return &StreamEvent{TextDelta: text}, nil
			}
		case "message_delta":
			d.usage.Output = int(gjson.Get(data, "usage.output_tokens").Int())
			if reason := gjson.Get(data, "delta.stop_reason").String(); reason != "" {
				return &StreamEvent{StopReason: reason}, nil
			}
		case "message_stop":
			d.usage.Total = d.usage.Input + d.usage.Output
			return &StreamEvent{Done: true, Usage: d.usage}, nil
		}
	}
	if err := d.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// openaiStreamDecoder parses `data:` chunk lines terminated by [DONE].
type openaiStreamDecoder struct {
	scanner *bufio.Scanner
	usage   domain.TokenUsage
	reason  string
}

func (d *openaiStreamDecoder) Next() (*StreamEvent, error) {
	for d.scanner.Scan() {
		line := strings.TrimSpace(d.scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return &StreamEvent{Done: true, Usage: d.usage, StopReason: mapOpenAIFinishReason(d.reason)}, nil
		}

		if usage := gjson.Get(data, "usage"); usage.Exists() {
			d.usage = domain.TokenUsage{
				Input:  int(usage.Get("prompt_tokens").Int()),
				Output: int(usage.Get("completion_tokens").Int()),
				Total:  int(usage.Get("total_tokens").Int()),
			}
		}
		if reason := gjson.Get(data, "choices.0.finish_reason").String(); reason != "" {
			d.reason = reason
		}
		if text := gjson.Get(data, "choices.0.delta.content").String(); text != "" {
			return &StreamEvent{TextDelta: text}, nil
		}
	}
	if err := d.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// ollamaStreamDecoder parses newline-delimited JSON chunks.
type ollamaStreamDecoder struct {
	scanner *bufio.Scanner
}

func (d *ollamaStreamDecoder) Next() (*StreamEvent, error) {
	for d.scanner.Scan() {
		line := strings.TrimSpace(d.scanner.Text())
		if line == "" {
			continue
		}

		if gjson.Get(line, "done").Bool() {
			input := int(gjson.Get(line, "prompt_eval_count").Int())
			output := int(gjson.Get(line, "eval_count").Int())
			return &StreamEvent{
				Done:       true,
				StopReason: mapOllamaDoneReason(gjson.Get(line, "done_reason").String()),
				Usage:      domain.TokenUsage{Input: input, Output: output, Total: input + output},
			}, nil
		}
		if text := gjson.Get(line, "message.content").String(); text != "" {
			return &StreamEvent{TextDelta: text}, nil
		}
	}
	if err := d.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}
