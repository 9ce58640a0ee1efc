package worker

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Status is the worker lifecycle state.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
	StatusTimeout  Status = "timeout"
)

var (
	ErrAlreadyRunning = errors.New("worker already running")
	ErrJoinTimeout    = errors.New("worker join timed out")
)

// Body is the long-running task. It must watch stopCh between units of work
// and return promptly once it is closed. Touching via the handle advances the
// activity clock the supervisor uses for staleness detection.
type Body func(stopCh <-chan struct{})

// Worker is a named long-running task with cooperative stop and observable
// health counters. It is a one-shot primitive: once the body exits (cleanly or
// by panic) the worker is terminal and is never restarted here.
type Worker struct {
	name        string
	description string

	mu            sync.Mutex
	status        Status
	startedAt     time.Time
	lastError     error
	stopRequested bool

	stopCh chan struct{}
	doneCh chan struct{}

	lastActivityAt atomic.Int64 // unix nanos
	opsCompleted   atomic.Int64
}

// New creates a worker in the stopped state.
func New(name, description string) *Worker {
	w := &Worker{
		name:        name,
		description: description,
		status:      StatusStopped,
	}
	return w
}

func (w *Worker) Name() string        { return w.name }
func (w *Worker) Description() string { return w.description }

// Start begins execution of body on its own goroutine. Fails if the worker is
// not in the stopped state.
func (w *Worker) Start(body Body) error {
	w.mu.Lock()
	if w.status != StatusStopped {
		w.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrAlreadyRunning, w.name, w.status)
	}
	w.status = StatusStarting
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.startedAt = time.Now()
	w.stopRequested = false
	w.lastError = nil
	w.mu.Unlock()

	w.lastActivityAt.Store(time.Now().UnixNano())

	go w.run(body)
	return nil
}

func (w *Worker) run(body Body) {
	defer close(w.doneCh)

	w.mu.Lock()
	w.status = StatusRunning
	stopCh := w.stopCh
	w.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			w.mu.Lock()
			w.status = StatusError
			w.lastError = fmt.Errorf("panic: %v\n%s", r, buf[:n])
			w.mu.Unlock()
		}
	}()

	body(stopCh)

	w.mu.Lock()
	if w.status == StatusRunning || w.status == StatusStopping {
		w.status = StatusStopped
	}
	w.mu.Unlock()
}

// RequestStop sets the stop signal without blocking. Safe to call repeatedly.
func (w *Worker) RequestStop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopRequested || w.stopCh == nil {
		return
	}
	w.stopRequested = true
	if w.status == StatusRunning || w.status == StatusStarting {
		w.status = StatusStopping
	}
	close(w.stopCh)
}

// Join waits up to timeout for the body to exit. On timeout the worker is
// marked timed out but the goroutine is left to finish on its own; the caller
// decides whether that constitutes a leak.
func (w *Worker) Join(timeout time.Duration) error {
	w.mu.Lock()
	doneCh := w.doneCh
	w.mu.Unlock()

	if doneCh == nil {
		return nil // never started
	}

	select {
	case <-doneCh:
		return nil
	case <-time.After(timeout):
		w.mu.Lock()
		w.status = StatusTimeout
		w.mu.Unlock()
		return fmt.Errorf("%w: %s after %s", ErrJoinTimeout, w.name, timeout)
	}
}

// Touch advances the activity clock and bumps the completed-operations
// counter. Bodies call this at the end of each unit of work.
func (w *Worker) Touch() {
	w.lastActivityAt.Store(time.Now().UnixNano())
	w.opsCompleted.Add(1)
}

// Info is a point-in-time snapshot of the worker's observable state.
type Info struct {
	Name                string        `json:"name"`
	Description         string        `json:"description"`
	Status              Status        `json:"status"`
	Uptime              time.Duration `json:"uptime"`
	ActivityAge         time.Duration `json:"activity_age"`
	OperationsCompleted int64         `json:"operations_completed"`
	LastError           string        `json:"last_error,omitempty"`
	StopRequested       bool          `json:"stop_requested"`
	ApproxMemoryBytes   uint64        `json:"approx_memory_bytes"`
}

// Info returns the worker's snapshot. ApproxMemoryBytes is process heap
// divided among live workers; per-goroutine accounting isn't available.
func (w *Worker) Info() Info {
	w.mu.Lock()
	status := w.status
	startedAt := w.startedAt
	lastError := w.lastError
	stopRequested := w.stopRequested
	w.mu.Unlock()

	info := Info{
		Name:                w.name,
		Description:         w.description,
		Status:              status,
		OperationsCompleted: w.opsCompleted.Load(),
		StopRequested:       stopRequested,
		ApproxMemoryBytes:   approxWorkerMemory(),
	}
	if !startedAt.IsZero() {
		info.Uptime = time.Since(startedAt)
	}
	if last := w.lastActivityAt.Load(); last > 0 {
		info.ActivityAge = time.Since(time.Unix(0, last))
	}
	if lastError != nil {
		info.LastError = lastError.Error()
	}
	return info
}

// Status returns the current lifecycle state.
func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// LastError returns the captured body error, if any.
func (w *Worker) LastError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastError
}

func approxWorkerMemory() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	n := runtime.NumGoroutine()
	if n == 0 {
		return 0
	}
	return m.HeapInuse / uint64(n)
}
