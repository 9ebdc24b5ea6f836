package pipeline

import (
	"context"
	"sync"
	"time"
)

// DefaultRetention is how long a finished job stays in memory. After that
// its status comes from the result store.
const DefaultRetention = 15 * time.Minute

// Snapshot is a point-in-time view of a tracked job.
type Snapshot struct {
	Job    Job     `json:"job"`
	Stage  Stage   `json:"stage"`
	Result *Result `json:"result,omitempty"`
}

type entry struct {
	job    Job
	stage  Stage
	result *Result
	done   chan struct{}
}

// Registry tracks jobs submitted in this process and notifies waiters when
// they finish.
type Registry struct {
	mu        sync.RWMutex
	jobs      map[string]*entry
	retention time.Duration
}

// NewRegistry creates an empty registry that keeps finished jobs for
// DefaultRetention.
func NewRegistry() *Registry {
	return NewRegistryWithRetention(DefaultRetention)
}

// NewRegistryWithRetention creates an empty registry that forgets finished
// jobs after retention. Zero or less keeps them until Remove.
func NewRegistryWithRetention(retention time.Duration) *Registry {
	return &Registry{jobs: make(map[string]*entry), retention: retention}
}

// Add starts tracking job in the created stage.
func (r *Registry) Add(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = &entry{job: job, stage: StageCreated, done: make(chan struct{})}
}

// Remove stops tracking a job that never started.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
}

// SetStage records a non-terminal transition. Finished jobs are not
// changed.
func (r *Registry) SetStage(id string, stage Stage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.jobs[id]; ok && e.result == nil {
		e.stage = stage
	}
}

// Complete stores the terminal result and wakes waiters. Only the first call
// for a job has any effect.
func (r *Registry) Complete(id string, res *Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[id]
	if !ok || e.result != nil {
		return
	}
	e.result = res
	e.stage = StageFailed
	if res.Success {
		e.stage = StageDone
	}
	close(e.done)

	if r.retention > 0 {
		time.AfterFunc(r.retention, func() { r.evict(id, e) })
	}
}

func (r *Registry) evict(id string, e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.jobs[id] == e {
		delete(r.jobs, id)
	}
}

// Len reports how many jobs are tracked.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// Get returns the job's snapshot.
func (r *Registry) Get(id string) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.jobs[id]
	if !ok {
		return Snapshot{}, false
	}
	return Snapshot{Job: e.job, Stage: e.stage, Result: e.result}, true
}

// Wait blocks until the job completes or ctx ends.
func (r *Registry) Wait(ctx context.Context, id string) (*Result, error) {
	r.mu.RLock()
	e, ok := r.jobs[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrResultNotFound
	}

	select {
	case <-e.done:
		r.mu.RLock()
		defer r.mu.RUnlock()
		return e.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
