// Package dispatch matches pending jobs to connected agents.
package dispatch

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/encodefleet/encodefleet/internal/ffmpeg"
	"github.com/encodefleet/encodefleet/internal/metrics"
	"github.com/encodefleet/encodefleet/internal/models"
	"github.com/encodefleet/encodefleet/internal/registry"
)

// Dispatcher drains the pending queue into lease messages. It is
// event-driven: callers invoke Sweep after anything that could change
// placement (a new agent, a completed job, a fresh batch of admissions).
type Dispatcher struct {
	jobs     *registry.JobRegistry
	agents   *registry.AgentRegistry
	settings *registry.Settings
	metrics  *metrics.Metrics
	logger   *slog.Logger

	// Serializes sweeps so two triggers cannot interleave queue pops.
	sweepMu sync.Mutex
}

// New creates a dispatcher over the controller's shared state.
func New(jobs *registry.JobRegistry, agents *registry.AgentRegistry, settings *registry.Settings, m *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		jobs:     jobs,
		agents:   agents,
		settings: settings,
		metrics:  m,
		logger:   logger,
	}
}

// Sweep repeatedly takes the queue head and tries to place it. It stops
// when the queue is empty or the head fits no connected agent; an
// unplaceable head goes back to the tail so later sweeps retry it. A
// delivery failure (session vanished between pick and send) also requeues
// but the sweep continues, since other agents may still take work.
func (d *Dispatcher) Sweep() {
	d.sweepMu.Lock()
	defer d.sweepMu.Unlock()

	for {
		jobID, ok := d.jobs.Take()
		if !ok {
			return
		}
		job, ok := d.jobs.Get(jobID)
		if !ok {
			d.logger.Warn("pending queue referenced unknown job", "job_id", jobID)
			continue
		}
		if job.Status != models.JobStatusPending {
			// Stale queue entry; the job already moved on.
			continue
		}

		agentID, err := d.place(&job)
		switch {
		case err == nil:
			d.metrics.LeasesTotal.Inc()
			d.logger.Info("job leased", "job_id", job.ID, "agent_id", agentID, "media_type", job.Plan.MediaType, "codec", job.Plan.Codec)
		case errors.Is(err, registry.ErrNoEligibleAgent):
			d.jobs.Requeue(job.ID)
			d.metrics.RequeuesTotal.Inc()
			return
		default:
			d.jobs.Requeue(job.ID)
			d.metrics.RequeuesTotal.Inc()
			d.logger.Warn("lease delivery failed, job requeued", "job_id", job.ID, "error", err)
		}
	}
}

func (d *Dispatcher) place(job *models.Job) (string, error) {
	required := ffmpeg.RequiredEncoders(job.Plan.MediaType, job.Plan.Codec)
	base := d.settings.PublicBaseURL()

	agentID, err := d.agents.Lease(required, func(agent *models.Agent) ([]byte, error) {
		payload := models.LeasePayload{
			JobID:      job.ID,
			InputURL:   streamURL(base, "input", job.ID, job.InputToken),
			OutputURL:  streamURL(base, "output", job.ID, job.OutputToken),
			FFmpegArgs: ffmpeg.BuildArgs(&job.Plan, ffmpeg.SelectEncoder(&job.Plan, agent.Encoders)),
			OutputExt:  ffmpeg.OutputExt(job.Plan.MediaType, job.Plan.Codec),
			Threads:    0,
		}
		return models.Encode(models.MsgLease, payload)
	})
	if err != nil {
		return "", err
	}

	if err := d.jobs.MarkAssigned(job.ID, agentID); err != nil {
		// The lease is already on the wire; the record is best effort here.
		d.logger.Error("failed to mark job assigned", "job_id", job.ID, "agent_id", agentID, "error", err)
	}
	return agentID, nil
}

func streamURL(base, direction, jobID, token string) string {
	return fmt.Sprintf("%s/stream/%s/%s?token=%s", base, direction, url.PathEscape(jobID), url.QueryEscape(token))
}
