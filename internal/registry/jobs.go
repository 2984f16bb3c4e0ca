// Package registry holds the controller's in-memory state: jobs and the
// pending queue, connected agents and their outbound sinks, pairing
// tokens, and the public base URL. All state lives for the controller
// process lifetime; nothing is persisted.
package registry

import (
	"fmt"
	"os"
	"sync"

	"github.com/encodefleet/encodefleet/internal/models"
)

// JobRegistry stores jobs and the FIFO pending queue.
type JobRegistry struct {
	mu      sync.RWMutex
	jobs    map[string]*models.Job
	pending []string
}

// NewJobRegistry creates an empty job registry.
func NewJobRegistry() *JobRegistry {
	return &JobRegistry{
		jobs: make(map[string]*models.Job),
	}
}

// Admit validates a batch of plans and, if every plan is acceptable,
// mints one pending job per plan and enqueues it. A single bad plan
// rejects the whole batch and nothing is admitted.
func (r *JobRegistry) Admit(plans []models.JobPlan) ([]string, error) {
	for i := range plans {
		if err := validatePlan(&plans[i]); err != nil {
			return nil, fmt.Errorf("plan %d: %w", i, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(plans))
	now := models.NowMillis()
	for i := range plans {
		job := &models.Job{
			ID:          models.NewJobID(),
			Status:      models.JobStatusPending,
			InputToken:  models.NewToken(),
			OutputToken: models.NewToken(),
			CreatedAt:   now,
			UpdatedAt:   now,
			Plan:        plans[i],
		}
		r.jobs[job.ID] = job
		r.pending = append(r.pending, job.ID)
		ids = append(ids, job.ID)
	}
	return ids, nil
}

func validatePlan(plan *models.JobPlan) error {
	if plan.SourcePath == "" {
		return fmt.Errorf("%w: missing sourcePath", models.ErrInvalidPlan)
	}
	if plan.OutputPath == "" {
		return fmt.Errorf("%w: missing outputPath", models.ErrInvalidPlan)
	}
	if plan.Codec == "" {
		return fmt.Errorf("%w: missing codec", models.ErrInvalidPlan)
	}
	if !plan.MediaType.Valid() {
		return fmt.Errorf("%w: unknown mediaType %q", models.ErrInvalidPlan, plan.MediaType)
	}
	if _, err := os.Stat(plan.SourcePath); err != nil {
		return fmt.Errorf("%w: sourcePath %s: %v", models.ErrInvalidPlan, plan.SourcePath, err)
	}
	return nil
}

// Get returns a copy of the job, if known.
func (r *JobRegistry) Get(id string) (models.Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return models.Job{}, false
	}
	return *job, true
}

// UpdateStatus moves a job along its lifecycle and refreshes updatedAt.
// Same-state updates on non-terminal jobs are idempotent no-ops that still
// refresh the timestamp.
func (r *JobRegistry) UpdateStatus(id string, status models.JobStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return models.ErrJobNotFound
	}
	if !job.Status.CanTransition(status) {
		return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, job.Status, status)
	}
	job.Status = status
	job.Touch()
	return nil
}

// MarkAssigned records a lease: status assigned, agent bound, timestamp
// refreshed. The assigned agent is never cleared afterwards.
func (r *JobRegistry) MarkAssigned(id, agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return models.ErrJobNotFound
	}
	if !job.Status.CanTransition(models.JobStatusAssigned) {
		return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, job.Status, models.JobStatusAssigned)
	}
	job.Status = models.JobStatusAssigned
	job.AssignedAgent = agentID
	job.Touch()
	return nil
}

// Take pops the head of the pending queue.
func (r *JobRegistry) Take() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) == 0 {
		return "", false
	}
	id := r.pending[0]
	r.pending = r.pending[1:]
	return id, true
}

// Requeue pushes a job id to the tail of the pending queue.
func (r *JobRegistry) Requeue(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, id)
}

// PendingLen returns the current queue depth.
func (r *JobRegistry) PendingLen() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pending)
}

// Snapshot returns copies of all known jobs.
func (r *JobRegistry) Snapshot() []models.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	jobs := make([]models.Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		jobs = append(jobs, *job)
	}
	return jobs
}
