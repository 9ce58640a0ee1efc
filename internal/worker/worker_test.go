package worker

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestWorker_Lifecycle(t *testing.T) {
	w := New("test-worker", "does test things")
	if w.Status() != StatusStopped {
		t.Fatalf("New worker should be stopped, got %s", w.Status())
	}

	started := make(chan struct{})
	err := w.Start(func(stopCh <-chan struct{}) {
		close(started)
		<-stopCh
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	<-started

	if w.Status() != StatusRunning {
		t.Errorf("Expected running, got %s", w.Status())
	}

	w.RequestStop()
	if err := w.Join(time.Second); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if w.Status() != StatusStopped {
		t.Errorf("Expected stopped after join, got %s", w.Status())
	}
}

func TestWorker_DoubleStartFails(t *testing.T) {
	w := New("test-worker", "")
	_ = w.Start(func(stopCh <-chan struct{}) { <-stopCh })
	defer func() {
		w.RequestStop()
		_ = w.Join(time.Second)
	}()

	if err := w.Start(func(<-chan struct{}) {}); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("Expected ErrAlreadyRunning, got %v", err)
	}
}

func TestWorker_PanicCaptured(t *testing.T) {
	w := New("panicky", "")
	_ = w.Start(func(<-chan struct{}) {
		panic("boom")
	})
	if err := w.Join(time.Second); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	if w.Status() != StatusError {
		t.Errorf("Expected error status after panic, got %s", w.Status())
	}
	if last := w.LastError(); last == nil || !strings.Contains(last.Error(), "boom") {
		t.Errorf("Expected captured panic message, got %v", last)
	}
}

func TestWorker_JoinTimeout(t *testing.T) {
	w := New("stubborn", "")
	release := make(chan struct{})
	_ = w.Start(func(<-chan struct{}) {
		<-release
	})

	w.RequestStop()
	if err := w.Join(20 * time.Millisecond); !errors.Is(err, ErrJoinTimeout) {
		t.Errorf("Expected ErrJoinTimeout, got %v", err)
	}
	if w.Status() != StatusTimeout {
		t.Errorf("Expected timeout status, got %s", w.Status())
	}
	close(release)
}

func TestWorker_TouchAdvancesActivity(t *testing.T) {
	w := New("ticker", "")
	_ = w.Start(func(stopCh <-chan struct{}) { <-stopCh })
	defer func() {
		w.RequestStop()
		_ = w.Join(time.Second)
	}()

	w.Touch()
	w.Touch()

	info := w.Info()
	if info.OperationsCompleted != 2 {
		t.Errorf("Expected 2 completed operations, got %d", info.OperationsCompleted)
	}
	if info.ActivityAge > time.Second {
		t.Errorf("Activity age should be fresh, got %s", info.ActivityAge)
	}
}

func TestWorker_InfoSnapshot(t *testing.T) {
	w := New("snap", "snapshot target")
	info := w.Info()
	if info.Name != "snap" || info.Description != "snapshot target" {
		t.Errorf("Unexpected identity: %+v", info)
	}
	if info.Status != StatusStopped {
		t.Errorf("Expected stopped, got %s", info.Status)
	}
}
