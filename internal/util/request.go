package util

import (
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"strings"
)

// GenerateRequestID produces a human-readable correlation id. Telephone
// switchboard flavoured, because grepping "ringing_trunk_a41f" through a log
// file beats staring at UUIDs.
func GenerateRequestID() string {
	actions := []string{
		"ringing", "holding", "patching", "dialing", "routing",
		"bridging", "paging", "queueing", "relaying", "switching",
		"trunking", "toning", "buzzing", "pulsing", "parking",
	}
	lines := []string{
		"trunk", "relay", "jack", "plug", "lamp",
		"crossbar", "rotary", "operator", "exchange", "circuit",
		"copper", "duplex", "party", "tandem", "toll",
	}

	line := lines[rand.Intn(len(lines))]
	action := actions[rand.Intn(len(actions))]
	suffix := fmt.Sprintf("%04x", rand.Intn(65536))

	return fmt.Sprintf("%s_%s_%s", action, line, suffix)
}

// GetClientIP extracts the caller's IP for logging. Proxy headers are only
// honoured when trustProxyHeaders is set.
func GetClientIP(r *http.Request, trustProxyHeaders bool) string {
	if trustProxyHeaders {
		if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
			return strings.TrimSpace(strings.Split(ip, ",")[0])
		}
		if ip := r.Header.Get("X-Real-IP"); ip != "" {
			return strings.TrimSpace(ip)
		}
	}
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}
