// Package orchestrator is the thin task/workflow layer over langrun.Runtime:
// it submits checkpoint.Config-addressed tasks onto a worker pool, tracks
// their lifecycle (pending -> running -> completed/failed), and lets a
// caller poll or await the outcome. It is grounded on the original system's
// TaskExecutionEngine (load task, mark running, execute, mark
// completed/failed) generalized from one LLM call to one graph Invoke, and
// reuses the teacher's ants.PoolWithFunc worker-pool pattern from
// graph/pregel.Scheduler rather than introducing a second concurrency idiom.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/flowstate-dev/graphkit/checkpoint"
	"github.com/flowstate-dev/graphkit/langrun"
	"github.com/flowstate-dev/graphkit/orchestrator/pattern"
)

// Status is a Task's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Task is one unit of work submitted to a Scheduler: a graph invocation (or
// resume) addressed by a checkpoint.Config, optionally tagged with the
// pattern it was routed to.
type Task struct {
	ID      string
	Config  checkpoint.Config
	Pattern pattern.Type

	mu     sync.Mutex
	status Status
	values map[string]any
	err    error
	done   chan struct{}
}

// Status returns the task's current lifecycle state.
func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Result blocks until the task finishes (or ctx is done) and returns its
// final channel values and error.
func (t *Task) Result(ctx context.Context) (map[string]any, error) {
	select {
	case <-t.done:
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.values, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *Task) setStatus(s Status) {
	t.mu.Lock()
	t.status = s
	t.mu.Unlock()
}

func (t *Task) finish(values map[string]any, err error) {
	t.mu.Lock()
	t.values = values
	t.err = err
	if err != nil {
		t.status = StatusFailed
	} else {
		t.status = StatusCompleted
	}
	t.mu.Unlock()
	close(t.done)
}

// work is the unit dispatched through the ants pool: a task plus the call
// it should make against the runtime (fresh invoke vs. resume).
type work struct {
	task     *Task
	initial  map[string]any
	resuming bool
	resumeV  any
}

// Scheduler submits Tasks against a langrun.Runtime on a bounded worker
// pool, mirroring the original TaskExecutionEngine's lifecycle management
// without its database-backed task repository — task state lives in memory,
// addressed by the same checkpoint.Config the Runtime itself uses as the
// durable source of truth.
type Scheduler struct {
	runtime *langrun.Runtime
	pool    *ants.PoolWithFunc

	mu    sync.Mutex
	tasks map[string]*Task
}

// New builds a Scheduler over runtime with up to maxConcurrent tasks running
// at once. maxConcurrent <= 0 means unbounded (one goroutine per Submit).
func New(runtime *langrun.Runtime, maxConcurrent int) (*Scheduler, error) {
	s := &Scheduler{runtime: runtime, tasks: make(map[string]*Task)}
	if maxConcurrent <= 0 {
		return s, nil
	}
	pool, err := ants.NewPoolWithFunc(maxConcurrent, func(arg any) {
		s.runWork(arg.(work))
	})
	if err != nil {
		return nil, fmt.Errorf("orchestrator: create worker pool: %w", err)
	}
	s.pool = pool
	return s, nil
}

// Release tears down the scheduler's worker pool. Safe to call on a
// Scheduler built with maxConcurrent <= 0 (a no-op in that case).
func (s *Scheduler) Release() {
	if s.pool != nil {
		s.pool.Release()
	}
}

// Submit enqueues a fresh graph invocation for cfg and returns the Task
// tracking it. id must be unique among tasks still tracked by this
// Scheduler.
func (s *Scheduler) Submit(id string, initial map[string]any, cfg checkpoint.Config, p pattern.Type) (*Task, error) {
	return s.submit(id, work{initial: initial}, cfg, p)
}

// SubmitResume enqueues a Resume of a previously interrupted thread.
func (s *Scheduler) SubmitResume(id string, resumeValue any, cfg checkpoint.Config) (*Task, error) {
	return s.submit(id, work{resuming: true, resumeV: resumeValue}, cfg, "")
}

func (s *Scheduler) submit(id string, w work, cfg checkpoint.Config, p pattern.Type) (*Task, error) {
	s.mu.Lock()
	if _, exists := s.tasks[id]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("orchestrator: task %q already submitted", id)
	}
	task := &Task{ID: id, Config: cfg, Pattern: p, status: StatusPending, done: make(chan struct{})}
	s.tasks[id] = task
	s.mu.Unlock()

	w.task = task
	if s.pool == nil {
		go s.runWork(w)
		return task, nil
	}
	if err := s.pool.Invoke(w); err != nil {
		task.finish(nil, fmt.Errorf("orchestrator: dispatch task %q: %w", id, err))
		return task, nil
	}
	return task, nil
}

func (s *Scheduler) runWork(w work) {
	w.task.setStatus(StatusRunning)

	ctx, cancel := context.WithTimeout(context.Background(), defaultExecutionTimeout)
	defer cancel()

	var values map[string]any
	var err error
	if w.resuming {
		values, err = s.runtime.Resume(ctx, w.task.Config, w.resumeV)
	} else {
		values, err = s.runtime.Invoke(ctx, w.initial, w.task.Config)
	}
	w.task.finish(values, err)
}

// defaultExecutionTimeout bounds a single task's run, matching the original
// TaskExecutionEngine's max_execution_time default of five minutes.
const defaultExecutionTimeout = 5 * time.Minute

// Get returns the task tracked under id, if any.
func (s *Scheduler) Get(id string) (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	return t, ok
}
