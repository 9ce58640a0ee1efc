package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorKind_Retriable(t *testing.T) {
	tests := []struct {
		kind      ErrorKind
		retriable bool
	}{
		{ErrKindTimeout, true},
		{ErrKindConnection, true},
		{ErrKindServer, true},
		{ErrKindRateLimit, true},
		{ErrKindAuth, false},
		{ErrKindBadResponse, false},
		{ErrKindCancelled, false},
		{ErrKindConfig, false},
		{ErrKindInternal, false},
		{ErrKindNone, false},
	}

	for _, tt := range tests {
		if got := tt.kind.Retriable(); got != tt.retriable {
			t.Errorf("%s.Retriable() = %v, want %v", tt.kind, got, tt.retriable)
		}
	}
}

func TestKindOf_DispatchError(t *testing.T) {
	err := NewDispatchError(ErrKindRateLimit, "openai-primary", errors.New("429 from upstream"))
	if got := KindOf(err); got != ErrKindRateLimit {
		t.Errorf("KindOf = %s, want %s", got, ErrKindRateLimit)
	}

	wrapped := fmt.Errorf("dispatch failed: %w", err)
	if got := KindOf(wrapped); got != ErrKindRateLimit {
		t.Errorf("KindOf through wrapping = %s, want %s", got, ErrKindRateLimit)
	}
}

func TestKindOf_Unclassified(t *testing.T) {
	if got := KindOf(errors.New("something else")); got != ErrKindInternal {
		t.Errorf("KindOf(plain error) = %s, want %s", got, ErrKindInternal)
	}
	if got := KindOf(nil); got != ErrKindNone {
		t.Errorf("KindOf(nil) = %s, want %s", got, ErrKindNone)
	}
}

func TestDispatchError_Message(t *testing.T) {
	err := NewDispatchError(ErrKindTimeout, "anthropic-eu", errors.New("context deadline exceeded"))
	msg := err.Error()
	if msg != "anthropic-eu: timeout: context deadline exceeded" {
		t.Errorf("Unexpected message: %s", msg)
	}

	local := NewDispatchError(ErrKindConfig, "", errors.New("bad kind"))
	if local.Error() != "config: bad kind" {
		t.Errorf("Unexpected local message: %s", local.Error())
	}
}
