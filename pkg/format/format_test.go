package format

import (
	"testing"
	"time"
)

func TestBytes(t *testing.T) {
	tests := []struct {
		in   uint64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.00 KB"},
		{1536, "1.50 KB"},
		{1048576, "1.00 MB"},
		{5 * 1024 * 1024 * 1024, "5.00 GB"},
	}
	for _, tt := range tests {
		if got := Bytes(tt.in); got != tt.want {
			t.Errorf("Bytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{500 * time.Millisecond, "500ms"},
		{45 * time.Second, "45s"},
		{90 * time.Second, "1m30s"},
		{time.Hour + 5*time.Minute + 3*time.Second, "1h5m3s"},
	}
	for _, tt := range tests {
		if got := Duration(tt.in); got != tt.want {
			t.Errorf("Duration(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPercentage(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0%"},
		{100, "100%"},
		{12.34, "12.3%"},
		{66.666, "66.7%"},
	}
	for _, tt := range tests {
		if got := Percentage(tt.in); got != tt.want {
			t.Errorf("Percentage(%f) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLatency(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0ms"},
		{42, "42ms"},
		{999, "999ms"},
		{1000, "1.0s"},
		{2500, "2.5s"},
	}
	for _, tt := range tests {
		if got := Latency(tt.in); got != tt.want {
			t.Errorf("Latency(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTimeAgo(t *testing.T) {
	if got := TimeAgo(time.Time{}); got != "never" {
		t.Errorf("Zero time = %q, want never", got)
	}
	if got := TimeAgo(time.Now().Add(-5 * time.Second)); got != "5s ago" {
		t.Errorf("Five seconds = %q", got)
	}
	if got := TimeAgo(time.Now().Add(-3 * time.Minute)); got != "3m ago" {
		t.Errorf("Three minutes = %q", got)
	}
	if got := TimeAgo(time.Now().Add(-48 * time.Hour)); got != "2d ago" {
		t.Errorf("Two days = %q", got)
	}
}

func TestProvidersUp(t *testing.T) {
	if got := ProvidersUp(2, 3); got != "2/3" {
		t.Errorf("ProvidersUp = %q, want 2/3", got)
	}
}
