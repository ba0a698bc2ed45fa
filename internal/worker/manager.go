// Package worker implements the engine's single background worker: at
// most one task runs at a time, on its own goroutine, reporting back
// through a result channel the coordinator drains on its own goroutine.
// This mirrors the worker-goroutine-plus-result-channel handoff the
// teacher's task queue used for a single export job, generalized here to
// "one render or save step at a time" per the engine's serial execution
// model.
package worker

import (
	"context"
	"sync"

	"editengine/internal/qfilter"
	"editengine/internal/qimage"
)

// Func is the work a task performs once handed to the worker goroutine.
// It must not touch any engine state directly; it only sees its inputs
// and returns a result image.
type Func func(ctx context.Context) (qimage.Image, error)

// Result is posted back to the coordinator once a task completes.
type Result struct {
	JobID string
	Image qimage.Image
	Err   error
}

// Manager runs at most one Func at a time, each on a goroutine of its own.
type Manager struct {
	results chan Result

	mu            sync.Mutex
	running       bool
	inFlightJobID string
	inFlightFilter qfilter.Filter
	cancel        context.CancelFunc
}

// NewManager creates a Manager. Results must be drained by the caller
// (typically the coordinator's own dispatch loop): once the channel
// buffer fills, a finished task's goroutine blocks on posting its result.
func NewManager() *Manager {
	return &Manager{results: make(chan Result, 8)}
}

// Results returns the channel completed tasks are posted to.
func (m *Manager) Results() <-chan Result { return m.results }

// IsRunning reports whether a task is currently executing.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Run starts fn on a new goroutine tagged jobID, using filter for
// AllowDelete bookkeeping. It returns false without starting anything if
// a task is already running: the caller (the coordinator's
// suggestNewTask loop) is expected to check IsRunning first, but Run
// re-checks atomically to avoid a race between the two calls.
func (m *Manager) Run(ctx context.Context, jobID string, filter qfilter.Filter, fn Func) bool {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return false
	}
	taskCtx, cancel := context.WithCancel(ctx)
	m.running = true
	m.inFlightJobID = jobID
	m.inFlightFilter = filter
	m.cancel = cancel
	m.mu.Unlock()

	go func() {
		img, err := fn(taskCtx)
		m.mu.Lock()
		m.running = false
		m.inFlightJobID = ""
		m.inFlightFilter = nil
		m.cancel = nil
		m.mu.Unlock()
		m.results <- Result{JobID: jobID, Image: img, Err: err}
	}()
	return true
}

// Cancel requests cancellation of whatever task is currently running, if
// any. The task's own Func must observe ctx.Done() to actually stop; a
// task that ignores its context still runs to completion, but its result
// is one the coordinator is free to discard (see spec's "cancellation
// and timeouts" rule: superseded results are simply not applied).
func (m *Manager) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
	}
}

// AllowDelete reports whether filter may be safely disposed: it must not
// be in use by the task currently in flight.
func (m *Manager) AllowDelete(filter qfilter.Filter) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return true
	}
	return m.inFlightFilter != filter
}
