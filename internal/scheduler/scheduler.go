// Package scheduler runs the server's periodic maintenance jobs.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/personachat/personachat/internal/logging"
)

// TaskHandler is the function executed for a task
type TaskHandler func(ctx context.Context) error

// Task is a job run at a fixed interval
type Task struct {
	ID         string        `json:"id"`
	Interval   time.Duration `json:"interval"`
	Timeout    time.Duration `json:"timeout"`
	Handler    TaskHandler   `json:"-"`
	LastRun    *time.Time    `json:"last_run,omitempty"`
	RunCount   int64         `json:"run_count"`
	ErrorCount int64         `json:"error_count"`
	LastError  string        `json:"last_error,omitempty"`
}

// Every creates a task that runs handler once per interval.
func Every(id string, interval time.Duration, handler TaskHandler) *Task {
	return &Task{ID: id, Interval: interval, Handler: handler}
}

// Scheduler runs registered tasks until its context ends. Runs of one task
// never overlap.
type Scheduler struct {
	mu      sync.RWMutex
	tasks   map[string]*Task
	started bool
	wg      sync.WaitGroup
}

// New creates an empty scheduler
func New() *Scheduler {
	return &Scheduler{tasks: make(map[string]*Task)}
}

// Register adds a task. Tasks must be registered before Run.
func (s *Scheduler) Register(task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("scheduler already running")
	}
	if task.ID == "" {
		return fmt.Errorf("task ID is required")
	}
	if task.Handler == nil {
		return fmt.Errorf("task handler is required")
	}
	if task.Interval <= 0 {
		return fmt.Errorf("task %s: interval must be positive", task.ID)
	}
	if _, ok := s.tasks[task.ID]; ok {
		return fmt.Errorf("task %s already registered", task.ID)
	}
	if task.Timeout == 0 {
		task.Timeout = task.Interval
	}

	s.tasks[task.ID] = task
	return nil
}

// Run starts every task and blocks until ctx is cancelled and all runs have
// returned.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	s.started = true
	for _, task := range s.tasks {
		s.wg.Add(1)
		go s.loop(ctx, task)
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, task *Task) {
	defer s.wg.Done()

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.execute(ctx, task)
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, task *Task) {
	execCtx, cancel := context.WithTimeout(ctx, task.Timeout)
	defer cancel()

	now := time.Now()
	err := task.Handler(execCtx)

	s.mu.Lock()
	task.LastRun = &now
	task.RunCount++
	if err != nil {
		task.ErrorCount++
		task.LastError = err.Error()
	} else {
		task.LastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		logging.WithField("task", task.ID).Warn("run failed: %v", err)
	}
}

// RunNow executes a task synchronously.
func (s *Scheduler) RunNow(ctx context.Context, taskID string) error {
	s.mu.RLock()
	task, ok := s.tasks[taskID]
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("task not found: %s", taskID)
	}
	s.execute(ctx, task)
	return nil
}

// Stats are a copy of one task's counters
type Stats struct {
	ID         string     `json:"id"`
	LastRun    *time.Time `json:"last_run,omitempty"`
	RunCount   int64      `json:"run_count"`
	ErrorCount int64      `json:"error_count"`
	LastError  string     `json:"last_error,omitempty"`
}

// Stats returns counters for every task, sorted by ID.
func (s *Scheduler) Stats() []Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Stats, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, Stats{
			ID:         t.ID,
			LastRun:    t.LastRun,
			RunCount:   t.RunCount,
			ErrorCount: t.ErrorCount,
			LastError:  t.LastError,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
