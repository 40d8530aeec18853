package app

import (
	"sync"
	"time"

	"github.com/yourusername/yt-relay/internal/domain"
)

// JobRegistry is the single source of truth for job state.
// Jobs are copied in and out; nobody outside holds a pointer into the map.
// There is no delete: jobs stay queryable until the process exits.
type JobRegistry struct {
	mu   sync.RWMutex
	jobs map[string]*domain.Job
}

// NewJobRegistry creates an empty registry
func NewJobRegistry() *JobRegistry {
	return &JobRegistry{jobs: make(map[string]*domain.Job)}
}

// Get returns a snapshot of the job for key
func (r *JobRegistry) Get(key string) (domain.Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[key]
	if !ok {
		return domain.Job{}, false
	}
	return job.Clone(), true
}

// Upsert creates the job if absent, merges the patch and returns the result
func (r *JobRegistry) Upsert(key string, patch domain.JobPatch) domain.Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	job := r.getOrCreate(key)
	job.Apply(patch)
	return job.Clone()
}

// Update runs fn against the current job state under the write lock and
// merges the patch it returns. fn sees the zero job (with Key set) when the
// key is new. When fn returns false nothing is changed.
func (r *JobRegistry) Update(key string, fn func(current domain.Job) (domain.JobPatch, bool)) (domain.Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.jobs[key]
	var snapshot domain.Job
	if exists {
		snapshot = current.Clone()
	} else {
		snapshot = domain.Job{Key: key}
	}

	patch, ok := fn(snapshot)
	if !ok {
		return snapshot, false
	}

	job := r.getOrCreate(key)
	job.Apply(patch)
	return job.Clone(), true
}

// Reserve marks key as queued unless a job for it is already active.
// The check and the write happen in one critical section, so of several
// concurrent callers for the same key exactly one gets ok == true.
// On rejection the existing job is returned unchanged.
func (r *JobRegistry) Reserve(key string, now time.Time) (domain.Job, bool) {
	return r.Update(key, func(current domain.Job) (domain.JobPatch, bool) {
		if current.Status.IsActive() {
			return domain.JobPatch{}, false
		}
		return domain.JobPatch{
			ClearOutcome:    true,
			ClearTransfer:   true,
			Status:          domain.Status(domain.StatusQueued),
			Percent:         domain.Float64(0),
			DownloadedBytes: domain.Int64(0),
			QueuedAt:        domain.Time(now),
		}, true
	})
}

// SnapshotAll returns a copy of every job keyed by job key
func (r *JobRegistry) SnapshotAll() map[string]domain.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make(map[string]domain.Job, len(r.jobs))
	for key, job := range r.jobs {
		snapshot[key] = job.Clone()
	}
	return snapshot
}

// Stats counts jobs by status
func (r *JobRegistry) Stats() *domain.JobStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := &domain.JobStats{Total: int64(len(r.jobs))}
	for _, job := range r.jobs {
		switch job.Status {
		case domain.StatusQueued:
			stats.Queued++
		case domain.StatusStarting:
			stats.Starting++
		case domain.StatusDownloading:
			stats.Downloading++
		case domain.StatusExtracting:
			stats.Extracting++
		case domain.StatusFinished:
			stats.Finished++
		case domain.StatusError:
			stats.Failed++
		}
	}
	return stats
}

// getOrCreate must be called with the write lock held
func (r *JobRegistry) getOrCreate(key string) *domain.Job {
	job, ok := r.jobs[key]
	if !ok {
		job = &domain.Job{Key: key}
		r.jobs[key] = job
	}
	return job
}
