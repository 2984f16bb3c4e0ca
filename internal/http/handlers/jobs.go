package handlers

import (
	"context"
	"net/http"
	"sort"

	"github.com/danielgtaylor/huma/v2"

	"github.com/encodefleet/encodefleet/internal/models"
	"github.com/encodefleet/encodefleet/internal/registry"
)

// Sweeper triggers a dispatch pass after admissions.
type Sweeper interface {
	Sweep()
}

// JobsHandler admits and lists transcode jobs.
type JobsHandler struct {
	jobs    *registry.JobRegistry
	sweeper Sweeper
}

// NewJobsHandler creates a jobs handler.
func NewJobsHandler(jobs *registry.JobRegistry, sweeper Sweeper) *JobsHandler {
	return &JobsHandler{jobs: jobs, sweeper: sweeper}
}

// StartInput is the batch admission request.
type StartInput struct {
	Body struct {
		Plans []models.JobPlan `json:"plans" doc:"Transcode plans to admit as one batch"`
	}
}

// StartOutput lists the minted job ids in plan order.
type StartOutput struct {
	Body struct {
		JobIDs []string `json:"jobIds"`
	}
}

// JobsOutput lists all known jobs.
type JobsOutput struct {
	Body struct {
		Jobs []models.Job `json:"jobs"`
	}
}

// Register registers the job routes with the API.
func (h *JobsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "startJobs",
		Method:      http.MethodPost,
		Path:        "/api/start",
		Summary:     "Admit a batch of transcode jobs",
		Description: "Validates every plan before admitting any. A single invalid plan rejects the whole batch.",
		Tags:        []string{"Jobs"},
	}, h.Start)

	huma.Register(api, huma.Operation{
		OperationID: "listJobs",
		Method:      http.MethodGet,
		Path:        "/api/jobs",
		Summary:     "List jobs",
		Tags:        []string{"Jobs"},
	}, h.List)
}

// Start admits a batch of plans and kicks the dispatcher.
func (h *JobsHandler) Start(ctx context.Context, input *StartInput) (*StartOutput, error) {
	if len(input.Body.Plans) == 0 {
		return nil, huma.Error400BadRequest("at least one plan is required")
	}
	ids, err := h.jobs.Admit(input.Body.Plans)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity("invalid plan", err)
	}
	h.sweeper.Sweep()

	out := &StartOutput{}
	out.Body.JobIDs = ids
	return out, nil
}

// List returns every known job, newest first.
func (h *JobsHandler) List(ctx context.Context, _ *struct{}) (*JobsOutput, error) {
	jobs := h.jobs.Snapshot()
	// Job ids are lexically sortable by mint time, which keeps ordering
	// stable when timestamps collide.
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID > jobs[j].ID })
	out := &JobsOutput{}
	out.Body.Jobs = jobs
	if out.Body.Jobs == nil {
		out.Body.Jobs = []models.Job{}
	}
	return out, nil
}
