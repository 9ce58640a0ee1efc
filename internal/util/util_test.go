package util

import (
	"net/http/httptest"
	"regexp"
	"testing"
	"time"
)

func TestCalculateExponentialBackoff_Growth(t *testing.T) {
	base := 100 * time.Millisecond
	max := 10 * time.Second

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{-3, 0},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := CalculateExponentialBackoff(tt.attempt, base, max, 0); got != tt.want {
			t.Errorf("attempt %d: got %s, want %s", tt.attempt, got, tt.want)
		}
	}
}

func TestCalculateExponentialBackoff_CappedAtMax(t *testing.T) {
	base := time.Second
	max := 5 * time.Second

	if got := CalculateExponentialBackoff(10, base, max, 0); got != max {
		t.Errorf("Deep attempts should clamp to max, got %s", got)
	}
	// Jitter cannot push past the cap either.
	for i := 0; i < 50; i++ {
		got := CalculateExponentialBackoff(10, base, max, 0.5)
		if got > max {
			t.Fatalf("Jittered backoff %s exceeded max %s", got, max)
		}
		if got < 0 {
			t.Fatalf("Backoff went negative: %s", got)
		}
	}
}

func TestCalculateExponentialBackoff_JitterSpreads(t *testing.T) {
	base := 100 * time.Millisecond
	max := 10 * time.Second

	seen := make(map[time.Duration]struct{})
	for i := 0; i < 20; i++ {
		seen[CalculateExponentialBackoff(3, base, max, 0.2)] = struct{}{}
	}
	if len(seen) < 2 {
		t.Error("Jitter should produce varying delays")
	}
}

func TestGenerateRequestID_Format(t *testing.T) {
	pattern := regexp.MustCompile(`^[a-z]+_[a-z]+_[0-9a-f]{4}$`)

	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id := GenerateRequestID()
		if !pattern.MatchString(id) {
			t.Fatalf("ID %q does not match action_line_hex", id)
		}
		seen[id] = struct{}{}
	}
	// Not a uniqueness guarantee, but 100 draws collapsing to a handful would
	// mean the generator is broken.
	if len(seen) < 50 {
		t.Errorf("Only %d distinct IDs in 100 draws", len(seen))
	}
}

func TestGetClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "203.0.113.9:4431"
	r.Header.Set("X-Forwarded-For", "198.51.100.1, 10.0.0.1")
	r.Header.Set("X-Real-IP", "198.51.100.2")

	if got := GetClientIP(r, false); got != "203.0.113.9" {
		t.Errorf("Untrusted proxy headers must be ignored, got %q", got)
	}
	if got := GetClientIP(r, true); got != "198.51.100.1" {
		t.Errorf("First X-Forwarded-For hop should win, got %q", got)
	}

	r.Header.Del("X-Forwarded-For")
	if got := GetClientIP(r, true); got != "198.51.100.2" {
		t.Errorf("X-Real-IP is the fallback, got %q", got)
	}

	r.Header.Del("X-Real-IP")
	r.RemoteAddr = "bare-address"
	if got := GetClientIP(r, true); got != "bare-address" {
		t.Errorf("Unparseable RemoteAddr passes through, got %q", got)
	}
}
