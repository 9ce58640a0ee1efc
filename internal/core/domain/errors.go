package domain

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed set of failure classifications carried across retry
// boundaries and translated to HTTP statuses at the gateway.
type ErrorKind string

const (
	ErrKindNone        ErrorKind = ""
	ErrKindTimeout     ErrorKind = "timeout"
	ErrKindConnection  ErrorKind = "connection"
	ErrKindAuth        ErrorKind = "auth"
	ErrKindRateLimit   ErrorKind = "rate_limit"
	ErrKindServer      ErrorKind = "server"
	ErrKindBadResponse ErrorKind = "bad_response"
	ErrKindCancelled   ErrorKind = "cancelled"
	ErrKindConfig      ErrorKind = "config"
	ErrKindInternal    ErrorKind = "internal"
)

// Retriable reports whether another attempt could plausibly change the outcome.
// Auth and bad_response are persistent, cancelled is terminal.
func (k ErrorKind) Retriable() bool {
	switch k {
	case ErrKindTimeout, ErrKindConnection, ErrKindServer, ErrKindRateLimit:
		return true
	default:
		return false
	}
}

func (k ErrorKind) String() string {
	return string(k)
}

// DispatchError wraps an upstream or local failure with its classification so
// errors.As can recover the kind anywhere along the dispatch path.
type DispatchError struct {
	Err      error
	Provider string
	Kind     ErrorKind
}

func (e *DispatchError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// NewDispatchError classifies err as kind, attributed to provider (may be empty
// for local rejections).
func NewDispatchError(kind ErrorKind, provider string, err error) *DispatchError {
	return &DispatchError{Kind: kind, Provider: provider, Err: err}
}

// KindOf extracts the ErrorKind from err, defaulting to internal for
// unclassified errors.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ErrKindNone
	}
	var de *DispatchError
	if errors.As(err, &de) {
		return de.Kind
	}
	return ErrKindInternal
}

var (
	// ErrNoCandidates is returned when no provider can serve the request's model.
	ErrNoCandidates = errors.New("no provider available for model")
	// ErrPoolExhausted is returned when a pool acquire times out at cap.
	ErrPoolExhausted = errors.New("connection pool exhausted")
	// ErrPoolClosed is returned for acquisitions after shutdown began.
	ErrPoolClosed = errors.New("connection pool closed")
	// ErrBreakerOpen is returned when the circuit breaker rejects a call locally.
	ErrBreakerOpen = errors.New("circuit breaker open")
	// ErrProviderNotFound is returned by registry lookups for unknown providers.
	ErrProviderNotFound = errors.New("provider not found")
	// ErrProviderExists is returned when registering a duplicate provider name.
	ErrProviderExists = errors.New("provider already registered")
)
