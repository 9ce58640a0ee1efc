package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/switchboard-dev/switchboard/internal/core/ports"
	"github.com/switchboard-dev/switchboard/internal/util"
)

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush passes streaming flushes through to the underlying writer.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

type contextKey string

const requestIDKey contextKey = "request_id"

// RequestIDFromContext returns the correlation id attached at admission.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// correlationMiddleware assigns each request a correlation id, honouring one
// supplied by the client.
func (a *Application) correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = util.GenerateRequestID()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// authMiddleware enforces the optional static bearer token.
func (a *Application) authMiddleware(next http.Handler) http.Handler {
	token := a.config.Auth.BearerToken
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		supplied := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if supplied != token {
			writeAnthropicError(w, http.StatusUnauthorized, "authentication_error", "invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// admissionMiddleware enforces the global concurrency cap. Excess requests are
// rejected synchronously with a retriable status rather than queued.
func (a *Application) admissionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case a.slots <- struct{}{}:
			defer func() { <-a.slots }()
			next.ServeHTTP(w, r)
		default:
			w.Header().Set("Retry-After", "1")
			writeAnthropicError(w, http.StatusTooManyRequests, "rate_limit_error",
				"gateway at concurrency capacity")
		}
	})
}

// bodyCapMiddleware bounds the request payload size.
func (a *Application) bodyCapMiddleware(next http.Handler) http.Handler {
	maxBytes := a.config.Request.MaxBodyBytes
	if maxBytes <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		next.ServeHTTP(w, r)
	})
}

// observeMiddleware records one RequestOutcome per completed request and
// optionally logs it when request logging is enabled.
func (a *Application) observeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(recorder, r)

		duration := time.Since(start)
		a.observer.RecordRequest(ports.RequestOutcome{
			Timestamp:  start,
			Endpoint:   r.URL.Path,
			RequestID:  RequestIDFromContext(r.Context()),
			StatusCode: recorder.status,
			DurationMs: duration.Milliseconds(),
		})

		if a.config.Listen.RequestLogging {
			a.logger.Debug("Request handled",
				"request_id", RequestIDFromContext(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", recorder.status,
				"duration_ms", duration.Milliseconds(),
				"client", util.GetClientIP(r, false))
		}
	})
}
