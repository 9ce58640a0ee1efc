package router

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/switchboard-dev/switchboard/internal/core/domain"
)

const openaiSSEBody = `data: {"choices":[{"delta":{"content":"Can"}}]}

data: {"choices":[{"delta":{"content":"berra"}}]}

data: {"choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}

data: [DONE]
`

func sseUpstream(t *testing.T, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(openaiSSEBody))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestRouter_ExecuteStream_HappyPath(t *testing.T) {
	f := newFixture(t, true)
	upstream := sseUpstream(t, nil)
	f.register(t, "primary", upstream.URL, 0, 2)

	req := canonicalRequest()
	req.Params.Stream = true

	stream, failure := f.router.ExecuteStream(context.Background(), req)
	if failure != nil {
		t.Fatalf("ExecuteStream failed: %+v", failure)
	}
	if stream.Provider != "primary" {
		t.Errorf("Stream attributed to %s, want primary", stream.Provider)
	}

	var text strings.Builder
	var done bool
	for {
		event, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		text.WriteString(event.TextDelta)
		if event.Done {
			done = true
			if event.Usage.Total != 7 {
				t.Errorf("Unexpected usage %+v", event.Usage)
			}
			break
		}
	}
	stream.Close(true)

	if text.String() != "Canberra" {
		t.Errorf("Streamed text = %q, want Canberra", text.String())
	}
	if !done {
		t.Error("Expected a terminal Done event")
	}
	if f.cache.Stats().Entries != 0 {
		t.Error("Streamed replies must never be cached")
	}
	if f.breaker.State("primary") != domain.BreakerClosed {
		t.Error("Committed stream should count as breaker success")
	}
}

func TestRouter_ExecuteStream_RetriesBeforeCommit(t *testing.T) {
	f := newFixture(t, false)
	var badHits atomic.Int64
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		badHits.Add(1)
		http.Error(w, `{"error": {"message": "overloaded"}}`, http.StatusServiceUnavailable)
	}))
	t.Cleanup(bad.Close)
	good := sseUpstream(t, nil)

	f.register(t, "a-failing", bad.URL, 0, 3)
	f.register(t, "b-backup", good.URL, 1, 3)

	req := canonicalRequest()
	req.Params.Stream = true

	stream, failure := f.router.ExecuteStream(context.Background(), req)
	if failure != nil {
		t.Fatalf("Expected failover to the backup, got %+v", failure)
	}
	defer stream.Close(true)

	if stream.Provider != "b-backup" {
		t.Errorf("Stream attributed to %s, want b-backup", stream.Provider)
	}
	if badHits.Load() != 1 {
		t.Errorf("Failing provider should be tried once, saw %d", badHits.Load())
	}
}

func TestRouter_ExecuteStream_NonRetriableFailure(t *testing.T) {
	f := newFixture(t, false)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"message": "bad key"}}`, http.StatusUnauthorized)
	}))
	t.Cleanup(upstream.Close)
	f.register(t, "primary", upstream.URL, 0, 3)

	req := canonicalRequest()
	req.Params.Stream = true

	stream, failure := f.router.ExecuteStream(context.Background(), req)
	if stream != nil {
		stream.Close(false)
		t.Fatal("Expected no stream for an auth failure")
	}
	if failure.ErrorKind != domain.ErrKindAuth {
		t.Errorf("Expected auth kind, got %s", failure.ErrorKind)
	}
}

func TestStream_CloseIsIdempotent(t *testing.T) {
	f := newFixture(t, false)
	upstream := sseUpstream(t, nil)
	f.register(t, "primary", upstream.URL, 0, 2)

	req := canonicalRequest()
	req.Params.Stream = true

	stream, failure := f.router.ExecuteStream(context.Background(), req)
	if failure != nil {
		t.Fatalf("ExecuteStream failed: %+v", failure)
	}

	stream.Close(false)
	stream.Close(false) // second close must be a no-op

	if got := f.pool.Stats().InFlight; got != 0 {
		t.Errorf("Connection should be released exactly once, in-flight=%d", got)
	}
}
