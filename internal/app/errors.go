package app

import (
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"github.com/switchboard-dev/switchboard/internal/core/domain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// statusClientClosedRequest is nginx's convention for a client that went away
// before the reply; there is no stdlib constant.
const statusClientClosedRequest = 499

// anthropicError is the vendor-shaped error envelope clients expect.
type anthropicError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// kindToStatus maps a terminal error kind to the HTTP status the client sees.
func kindToStatus(kind domain.ErrorKind) int {
	switch kind {
	case domain.ErrKindTimeout:
		return http.StatusGatewayTimeout
	case domain.ErrKindRateLimit:
		return http.StatusTooManyRequests
	case domain.ErrKindAuth:
		return http.StatusUnauthorized
	case domain.ErrKindBadResponse, domain.ErrKindServer, domain.ErrKindConnection:
		return http.StatusBadGateway
	case domain.ErrKindCancelled:
		return statusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

// kindToErrorType maps an error kind to the vendor error-type string.
func kindToErrorType(kind domain.ErrorKind) string {
	switch kind {
	case domain.ErrKindAuth:
		return "authentication_error"
	case domain.ErrKindRateLimit:
		return "rate_limit_error"
	case domain.ErrKindServer, domain.ErrKindConnection, domain.ErrKindBadResponse:
		return "api_error"
	case domain.ErrKindTimeout:
		return "timeout_error"
	default:
		return "api_error"
	}
}

func writeAnthropicError(w http.ResponseWriter, status int, errType, message string) {
	envelope := anthropicError{Type: "error"}
	envelope.Error.Type = errType
	envelope.Error.Message = message

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope)
}

// writeKindError translates a terminal router failure into the client reply.
func writeKindError(w http.ResponseWriter, resp *domain.CanonicalResponse) {
	status := kindToStatus(resp.ErrorKind)
	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "1")
	}
	detail := resp.ErrorDetail
	if detail == "" {
		detail = http.StatusText(status)
	}
	writeAnthropicError(w, status, kindToErrorType(resp.ErrorKind), detail)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
