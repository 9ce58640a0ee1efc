package worker

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/switchboard-dev/switchboard/internal/logger"
)

const healthMonitorName = "worker-health-monitor"

// Supervisor owns the set of supervised workers and guarantees orderly
// shutdown. Worker names are unique; a second Spawn under the same name fails.
type Supervisor struct {
	logger *logger.StyledLogger

	mu      sync.Mutex
	workers map[string]*Worker

	staleThreshold time.Duration
	shutdownFlag   atomic.Bool
}

// NewSupervisor creates an empty supervisor. staleThreshold bounds how long a
// running worker may go without touching its activity clock before Health
// flags it.
func NewSupervisor(staleThreshold time.Duration, log *logger.StyledLogger) *Supervisor {
	if staleThreshold <= 0 {
		staleThreshold = 5 * time.Minute
	}
	return &Supervisor{
		logger:         log,
		workers:        make(map[string]*Worker),
		staleThreshold: staleThreshold,
	}
}

// Spawn registers and starts a named worker running body.
func (s *Supervisor) Spawn(name, description string, body Body) (*Worker, error) {
	if s.shutdownFlag.Load() {
		return nil, fmt.Errorf("supervisor shutting down, refusing to spawn %s", name)
	}

	s.mu.Lock()
	if _, exists := s.workers[name]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("worker %s already registered", name)
	}
	w := New(name, description)
	s.workers[name] = w
	s.mu.Unlock()

	if err := w.Start(body); err != nil {
		s.mu.Lock()
		delete(s.workers, name)
		s.mu.Unlock()
		return nil, err
	}

	s.logger.Debug("Worker spawned", "name", name, "description", description)
	return w, nil
}

// Get returns the worker registered under name.
func (s *Supervisor) Get(name string) (*Worker, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[name]
	return w, ok
}

// Snapshot returns Info for every registered worker.
func (s *Supervisor) Snapshot() []Info {
	s.mu.Lock()
	workers := make([]*Worker, 0, len(s.workers))
	for _, w := range s.workers {
		workers = append(workers, w)
	}
	s.mu.Unlock()

	infos := make([]Info, 0, len(workers))
	for _, w := range workers {
		infos = append(infos, w.Info())
	}
	return infos
}

// Health returns the workers that look unwell: running but stale, errored, or
// timed out.
func (s *Supervisor) Health() []Info {
	var unhealthy []Info
	for _, info := range s.Snapshot() {
		switch {
		case info.Status == StatusError || info.Status == StatusTimeout:
			unhealthy = append(unhealthy, info)
		case info.Status == StatusRunning && info.ActivityAge > s.staleThreshold:
			unhealthy = append(unhealthy, info)
		}
	}
	return unhealthy
}

// StartHealthMonitor spawns a worker that runs Health() periodically and
// warns about anything it finds.
func (s *Supervisor) StartHealthMonitor(interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	_, err := s.Spawn(healthMonitorName, "periodic worker health surveillance", func(stopCh <-chan struct{}) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		w, _ := s.Get(healthMonitorName)
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				for _, info := range s.Health() {
					if info.Name == healthMonitorName {
						continue
					}
					s.logger.Warn("Worker unhealthy",
						"name", info.Name,
						"status", info.Status,
						"activity_age", info.ActivityAge,
						"last_error", info.LastError)
				}
				if w != nil {
					w.Touch()
				}
			}
		}
	})
	return err
}

// Shutdown requests stop on all workers concurrently, waits up to perWorker
// for each, and returns the count that failed to stop cleanly. Workers that
// miss the deadline are force-retired: their handle is released and the
// goroutine is considered leaked.
func (s *Supervisor) Shutdown(perWorker time.Duration) int {
	s.shutdownFlag.Store(true)

	s.mu.Lock()
	workers := make([]*Worker, 0, len(s.workers))
	for _, w := range s.workers {
		workers = append(workers, w)
	}
	s.mu.Unlock()

	var failed atomic.Int64
	var g errgroup.Group
	for _, w := range workers {
		g.Go(func() error {
			w.RequestStop()
			if err := w.Join(perWorker); err != nil {
				failed.Add(1)
				s.logger.Warn("Worker failed to stop cleanly, leaking its task",
					"name", w.Name(), "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	s.mu.Lock()
	s.workers = make(map[string]*Worker)
	s.mu.Unlock()

	stopped := len(workers) - int(failed.Load())
	s.logger.InfoWithCount("Workers stopped", stopped, "leaked", failed.Load())
	return int(failed.Load())
}
