package progress

import (
	"sync"

	"trading-analysis-service/internal/models"
)

// Registry is the process-local cache of in-flight jobs. The background
// runner for a job is its only writer; any request goroutine may read. Jobs
// are inserted when execution starts and removed after the terminal state is
// persisted, so a registry hit always means "live copy, fresher than the
// durable row".
//
// Values are stored, not pointers: a writer publishes a whole new job value
// and readers get a copy, so the only shared memory is the immutable
// copy-on-write step list. Go does not guarantee visibility for plain
// assignments across goroutines, so access goes through a lock.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]models.AnalysisJob
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]models.AnalysisJob)}
}

// Publish inserts or replaces the live copy of a job.
func (r *Registry) Publish(job models.AnalysisJob) {
	r.mu.Lock()
	r.jobs[job.ID] = job
	r.mu.Unlock()
}

// Get returns the live copy of a job, if it is currently executing.
func (r *Registry) Get(id string) (models.AnalysisJob, bool) {
	r.mu.RLock()
	job, ok := r.jobs[id]
	r.mu.RUnlock()
	return job, ok
}

// Remove deregisters a job after its terminal state is durable.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.jobs, id)
	r.mu.Unlock()
}

// Len reports how many jobs are currently executing.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}
