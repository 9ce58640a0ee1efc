package breaker

import (
	"testing"
	"time"

	"github.com/switchboard-dev/switchboard/internal/core/domain"
	"github.com/switchboard-dev/switchboard/internal/logger"
)

func newTestBreaker(failureThreshold, successThreshold int, recovery time.Duration) *CircuitBreaker {
	return New(Config{
		FailureThreshold: failureThreshold,
		SuccessThreshold: successThreshold,
		RecoveryTimeout:  recovery,
	}, logger.NewDiscard())
}

func TestCircuitBreaker_TripsAtThreshold(t *testing.T) {
	cb := newTestBreaker(3, 1, time.Minute)

	for i := 0; i < 2; i++ {
		cb.RecordFailure("upstream")
	}
	if cb.State("upstream") != domain.BreakerClosed {
		t.Fatal("Breaker tripped before the threshold")
	}
	if !cb.CanExecute("upstream") {
		t.Fatal("Closed breaker must allow execution")
	}

	cb.RecordFailure("upstream")
	if cb.State("upstream") != domain.BreakerOpen {
		t.Fatalf("Expected open after %d failures, got %s", 3, cb.State("upstream"))
	}
	if cb.CanExecute("upstream") {
		t.Error("Open breaker must reject execution before recovery timeout")
	}
}

func TestCircuitBreaker_SuccessResetsStreak(t *testing.T) {
	cb := newTestBreaker(3, 1, time.Minute)

	cb.RecordFailure("upstream")
	cb.RecordFailure("upstream")
	cb.RecordSuccess("upstream")
	cb.RecordFailure("upstream")
	cb.RecordFailure("upstream")

	if cb.State("upstream") != domain.BreakerClosed {
		t.Error("Interleaved success should have reset the failure streak")
	}
}

func TestCircuitBreaker_HalfOpenAfterRecoveryTimeout(t *testing.T) {
	cb := newTestBreaker(1, 1, 10*time.Millisecond)

	cb.RecordFailure("upstream")
	if cb.State("upstream") != domain.BreakerOpen {
		t.Fatal("Expected open after threshold failure")
	}

	time.Sleep(20 * time.Millisecond)
	if !cb.CanExecute("upstream") {
		t.Fatal("Breaker should permit a probe after the recovery timeout")
	}
	if cb.State("upstream") != domain.BreakerHalfOpen {
		t.Errorf("Expected half_open, got %s", cb.State("upstream"))
	}
}

func TestCircuitBreaker_HalfOpenClosesAfterSuccesses(t *testing.T) {
	cb := newTestBreaker(1, 2, 10*time.Millisecond)

	cb.RecordFailure("upstream")
	time.Sleep(20 * time.Millisecond)
	if !cb.CanExecute("upstream") {
		t.Fatal("Expected probe permission")
	}

	cb.RecordSuccess("upstream")
	if cb.State("upstream") != domain.BreakerHalfOpen {
		t.Error("One success below the success threshold should stay half_open")
	}

	cb.RecordSuccess("upstream")
	if cb.State("upstream") != domain.BreakerClosed {
		t.Errorf("Expected closed after success threshold, got %s", cb.State("upstream"))
	}
}

func TestCircuitBreaker_HalfOpenAdmitsOneProbe(t *testing.T) {
	cb := newTestBreaker(1, 2, 10*time.Millisecond)

	cb.RecordFailure("upstream")
	time.Sleep(20 * time.Millisecond)

	if !cb.CanExecute("upstream") {
		t.Fatal("Expected the first probe to pass")
	}
	if cb.CanExecute("upstream") {
		t.Error("A second caller must not probe while the first is in flight")
	}

	cb.RecordSuccess("upstream")
	if !cb.CanExecute("upstream") {
		t.Error("Recording the outcome should free the probe slot")
	}

	// A probe abandoned without an outcome is reclaimable after the recovery
	// timeout, so a cancelled probe cannot wedge the circuit.
	time.Sleep(20 * time.Millisecond)
	if !cb.CanExecute("upstream") {
		t.Error("Stale probe claim should be reclaimable")
	}
}

func TestCircuitBreaker_RecoverableHasNoSideEffects(t *testing.T) {
	cb := newTestBreaker(1, 1, 10*time.Millisecond)

	cb.RecordFailure("upstream")
	if cb.Recoverable("upstream") {
		t.Error("Open circuit inside the recovery window is not recoverable")
	}

	time.Sleep(20 * time.Millisecond)
	if !cb.Recoverable("upstream") {
		t.Fatal("Elapsed recovery timeout should read as recoverable")
	}
	if cb.State("upstream") != domain.BreakerOpen {
		t.Error("Recoverable must not transition the state")
	}
	// The probe slot is untouched, so the actual dispatch still gets it.
	if !cb.CanExecute("upstream") {
		t.Error("Dispatch after a Recoverable check should still claim the probe")
	}
}

func TestCircuitBreaker_HalfOpenReopensOnFailure(t *testing.T) {
	cb := newTestBreaker(1, 2, 10*time.Millisecond)

	cb.RecordFailure("upstream")
	time.Sleep(20 * time.Millisecond)
	cb.CanExecute("upstream") // transition to half_open

	cb.RecordFailure("upstream")
	if cb.State("upstream") != domain.BreakerOpen {
		t.Errorf("Any failure while half_open should reopen, got %s", cb.State("upstream"))
	}
	if cb.CanExecute("upstream") {
		t.Error("Re-opened breaker must reject until the recovery timeout elapses again")
	}
}

func TestCircuitBreaker_IsolatesUpstreams(t *testing.T) {
	cb := newTestBreaker(1, 1, time.Minute)

	cb.RecordFailure("failing")
	if cb.State("failing") != domain.BreakerOpen {
		t.Fatal("Expected failing upstream to trip")
	}
	if cb.State("healthy") != domain.BreakerClosed {
		t.Error("Other upstreams must not be affected")
	}
	if !cb.CanExecute("healthy") {
		t.Error("Healthy upstream should still execute")
	}
}

func TestCircuitBreaker_Remove(t *testing.T) {
	cb := newTestBreaker(1, 1, time.Minute)

	cb.RecordFailure("gone")
	cb.Remove("gone")
	if cb.State("gone") != domain.BreakerClosed {
		t.Error("Removed upstream should report a fresh closed state")
	}
}
