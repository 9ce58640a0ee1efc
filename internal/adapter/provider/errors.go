package provider

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/switchboard-dev/switchboard/internal/core/domain"
)

// ClassifyTransportError maps a transport-layer error from the HTTP client to
// an error kind. Deadline and cancellation are distinguished before the
// generic connection bucket.
func ClassifyTransportError(ctx context.Context, err error) domain.ErrorKind {
	if err == nil {
		return domain.ErrKindNone
	}

	if errors.Is(err, context.Canceled) || (ctx != nil && ctx.Err() == context.Canceled) {
		return domain.ErrKindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrKindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.ErrKindTimeout
	}

	if isConnectionError(err) {
		return domain.ErrKindConnection
	}

	return domain.ErrKindConnection
}

// isConnectionError recognises connection failures worth retrying elsewhere.
func isConnectionError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var syscallErr syscall.Errno
	if errors.As(err, &syscallErr) {
		switch syscallErr {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ECONNABORTED, syscall.EPIPE:
			return true
		default:
		}
	}

	errStr := strings.ToLower(err.Error())
	patterns := []string{
		"connection refused",
		"connection reset",
		"no such host",
		"network is unreachable",
		"no route to host",
		"i/o timeout",
		"dial tcp",
	}
	for _, pattern := range patterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// ClassifyStatus maps an upstream HTTP status to an error kind per the
// gateway-wide table. 2xx with an undecodable body is bad_response, handled
// by callers after decode fails.
func ClassifyStatus(statusCode int) domain.ErrorKind {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return domain.ErrKindNone
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		return domain.ErrKindAuth
	case statusCode == http.StatusTooManyRequests:
		return domain.ErrKindRateLimit
	case statusCode >= 500:
		return domain.ErrKindServer
	default:
		// remaining 4xx: treated as server-side unless a vendor documents otherwise
		return domain.ErrKindServer
	}
}

// parseRateHeaders extracts remaining/reset hints from common vendor rate
// headers. Returns remaining=-1 when the upstream reported nothing.
func parseRateHeaders(headers http.Header) (remaining int, resetAt time.Time) {
	remaining = -1

	for _, name := range []string{
		"x-ratelimit-remaining-requests",
		"x-ratelimit-remaining",
		"anthropic-ratelimit-requests-remaining",
	} {
		if v := headers.Get(name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				remaining = n
				break
			}
		}
	}

	if v := headers.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			resetAt = time.Now().Add(time.Duration(secs) * time.Second)
		} else if t, err := http.ParseTime(v); err == nil {
			resetAt = t
		}
	}
	for _, name := range []string{
		"x-ratelimit-reset-requests",
		"anthropic-ratelimit-requests-reset",
	} {
		if !resetAt.IsZero() {
			break
		}
		if v := headers.Get(name); v != "" {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				resetAt = t
			}
		}
	}

	return remaining, resetAt
}
