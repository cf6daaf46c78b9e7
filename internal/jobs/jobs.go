// Package jobs tracks background tasks with a pollable status, so
// long-running work like plan generation is started explicitly and
// observable instead of fired and forgotten.
package jobs

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// State is a job's lifecycle state.
type State string

const (
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Job is a snapshot of one background task.
type Job struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	State State  `json:"state"`
	Error string `json:"error,omitempty"`
}

// Runner starts background tasks and keeps their terminal status for
// the life of the process.
type Runner struct {
	mu   sync.Mutex
	jobs map[string]*Job
	wg   sync.WaitGroup
}

func NewRunner() *Runner {
	return &Runner{jobs: make(map[string]*Job)}
}

// Start launches fn on its own goroutine and returns the job ID the
// caller can poll.
func (r *Runner) Start(name string, fn func(ctx context.Context) error) string {
	id := uuid.NewString()
	r.mu.Lock()
	r.jobs[id] = &Job{ID: id, Name: name, State: StateRunning}
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		err := fn(context.Background())

		r.mu.Lock()
		defer r.mu.Unlock()
		job := r.jobs[id]
		if err != nil {
			slog.Error("job failed", "job", name, "id", id, "error", err)
			job.State = StateFailed
			job.Error = err.Error()
			return
		}
		job.State = StateSucceeded
	}()
	return id
}

// Status returns a snapshot of the job, or ok=false if the ID is
// unknown.
func (r *Runner) Status(id string) (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// Wait blocks until all started jobs have finished. Used by tests and
// shutdown.
func (r *Runner) Wait() {
	r.wg.Wait()
}
