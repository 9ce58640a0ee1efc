package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Fingerprint derives the deterministic cache key for a request: SHA-256 over
// the model, a canonicalised view of the messages, and the parameters that
// affect generation semantics (max_tokens, temperature, stop_sequences).
// The streaming flag and transport concerns are deliberately excluded.
func Fingerprint(model, system string, messages []Message, params GenerationParams) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(system))
	h.Write([]byte{0})

	for _, m := range messages {
		h.Write([]byte(m.Role))
		h.Write([]byte{':'})
		h.Write([]byte(canonicalContent(m.Content)))
		h.Write([]byte{0})
	}

	h.Write([]byte(strconv.Itoa(params.MaxTokens)))
	h.Write([]byte{0})
	if params.Temperature != nil {
		h.Write([]byte(strconv.FormatFloat(*params.Temperature, 'f', -1, 64)))
	}
	h.Write([]byte{0})
	for _, s := range params.StopSequences {
		h.Write([]byte(s))
		h.Write([]byte{1})
	}

	return hex.EncodeToString(h.Sum(nil))
}

// canonicalContent flattens message content into a stable byte form. Maps are
// walked in sorted key order so semantically identical payloads always hash
// the same regardless of decode order.
func canonicalContent(content interface{}) string {
	switch c := content.(type) {
	case nil:
		return ""
	case string:
		return c
	case []interface{}:
		var b strings.Builder
		for _, e := range c {
			b.WriteString(canonicalContent(e))
			b.WriteByte('\x1f')
		}
		return b.String()
	case map[string]interface{}:
		keys := make([]string, 0, len(c))
		for k := range c {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		for _, k := range keys {
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(canonicalContent(c[k]))
			b.WriteByte('\x1f')
		}
		return b.String()
	default:
		return fmt.Sprintf("%v", c)
	}
}

// FingerprintPrefix shortens a fingerprint for log lines. Full hashes are
// noisy and the first eight bytes are plenty for correlation.
func FingerprintPrefix(fp string) string {
	if len(fp) > 16 {
		return fp[:16]
	}
	return fp
}
