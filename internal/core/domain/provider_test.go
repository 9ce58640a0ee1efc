package domain

import (
	"testing"
	"time"
)

func TestProviderState_FailureStreakFlagsUnhealthy(t *testing.T) {
	state := NewProviderState()
	if !state.IsHealthy() {
		t.Fatal("New state should start healthy")
	}

	state.RecordFailure(3)
	state.RecordFailure(3)
	if !state.IsHealthy() {
		t.Error("Two failures below the threshold should not flag unhealthy")
	}

	state.RecordFailure(3)
	if state.IsHealthy() {
		t.Error("Reaching the threshold should flag unhealthy")
	}

	state.RecordSuccess()
	if !state.IsHealthy() {
		t.Error("A success should reset the streak and readmit the provider")
	}
	if snap := state.Snapshot(); snap.ConsecutiveFailures != 0 {
		t.Errorf("Expected streak reset, got %d", snap.ConsecutiveFailures)
	}
}

func TestProviderState_MarkHealthy(t *testing.T) {
	state := NewProviderState()
	for i := 0; i < 5; i++ {
		state.RecordFailure(3)
	}
	if state.IsHealthy() {
		t.Fatal("Expected unhealthy after repeated failures")
	}

	state.MarkHealthy(true)
	if !state.IsHealthy() {
		t.Error("MarkHealthy(true) should readmit the provider")
	}
	if snap := state.Snapshot(); snap.ConsecutiveFailures != 0 {
		t.Errorf("MarkHealthy should reset the streak, got %d", snap.ConsecutiveFailures)
	}
}

func TestProviderState_RateHeadroom(t *testing.T) {
	now := time.Now()
	state := NewProviderState()

	// Unknown headroom counts as available.
	if !state.HasRateHeadroom(now) {
		t.Error("Unknown rate headroom should count as available")
	}

	state.UpdateRateLimit(0, now.Add(time.Minute))
	if state.HasRateHeadroom(now) {
		t.Error("Exhausted headroom before reset should be unavailable")
	}

	if !state.HasRateHeadroom(now.Add(2 * time.Minute)) {
		t.Error("Headroom should recover once the reset instant has elapsed")
	}

	state.UpdateRateLimit(42, time.Time{})
	if !state.HasRateHeadroom(now) {
		t.Error("Positive remaining should be available")
	}
}

func TestProviderDescriptor_SupportsModel(t *testing.T) {
	desc := &ProviderDescriptor{
		Name:   "local-ollama",
		Models: []string{"llama3.2", "qwen2.5-coder"},
	}
	if !desc.SupportsModel("llama3.2") {
		t.Error("Expected listed model to be supported")
	}
	if desc.SupportsModel("gpt-4o") {
		t.Error("Unlisted model should not be supported")
	}
}

func TestCanonicalRequest_RemainingBudget(t *testing.T) {
	req := &CanonicalRequest{}
	if req.RemainingBudget() <= 0 {
		t.Error("Zero deadline should report a positive budget")
	}

	req.Deadline = time.Now().Add(-time.Second)
	if req.RemainingBudget() > 0 {
		t.Error("Past deadline should report a non-positive budget")
	}
}

func TestCanonicalResponse_SizeBytes(t *testing.T) {
	resp := &CanonicalResponse{
		Content:      "four",
		ProviderUsed: "p",
		ModelUsed:    "m",
	}
	if got := resp.SizeBytes(); got != 6 {
		t.Errorf("SizeBytes = %d, want 6", got)
	}

	structured := &CanonicalResponse{
		Content: []interface{}{"ab", map[string]interface{}{"k": "cd"}},
	}
	if got := structured.SizeBytes(); got != 5 {
		t.Errorf("SizeBytes structured = %d, want 5", got)
	}
}
