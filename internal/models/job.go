package models

import "time"

// MediaType classifies a source file for planning purposes.
type MediaType string

const (
	// MediaTypeAudio is an audio-only source.
	MediaTypeAudio MediaType = "audio"
	// MediaTypeVideo is a video source.
	MediaTypeVideo MediaType = "video"
	// MediaTypeImage is a still-image source.
	MediaTypeImage MediaType = "image"
)

// Valid reports whether the media type is one of the known values.
func (m MediaType) Valid() bool {
	switch m {
	case MediaTypeAudio, MediaTypeVideo, MediaTypeImage:
		return true
	}
	return false
}

// JobStatus represents the lifecycle state of a transcode job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting in the queue.
	JobStatusPending JobStatus = "pending"
	// JobStatusAssigned indicates a lease has been sent to an agent.
	JobStatusAssigned JobStatus = "assigned"
	// JobStatusRunning indicates the agent has reported progress.
	JobStatusRunning JobStatus = "running"
	// JobStatusUploaded indicates the output was uploaded successfully.
	JobStatusUploaded JobStatus = "uploaded"
	// JobStatusFailed indicates the transcode or upload failed.
	JobStatusFailed JobStatus = "failed"
)

// statusRank orders statuses along the monotonic lifecycle.
// Terminal states share the highest rank.
var statusRank = map[JobStatus]int{
	JobStatusPending:  0,
	JobStatusAssigned: 1,
	JobStatusRunning:  2,
	JobStatusUploaded: 3,
	JobStatusFailed:   3,
}

// IsTerminal reports whether the status is final.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusUploaded || s == JobStatusFailed
}

// CanTransition reports whether moving from s to next preserves the
// monotonic order pending → assigned → running → (uploaded | failed).
// Skipping intermediate states forward is allowed (a job may fail or
// complete without ever reporting progress); moving backward or out of a
// terminal state is not.
func (s JobStatus) CanTransition(next JobStatus) bool {
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	if s.IsTerminal() {
		return false
	}
	return to > from || (to == from && s == next)
}

// JobPlan is the immutable conversion request a job was admitted with.
type JobPlan struct {
	SourcePath   string         `json:"sourcePath"`
	RelativePath string         `json:"relativePath"`
	MediaType    MediaType      `json:"mediaType"`
	SizeBytes    int64          `json:"sizeBytes"`
	OutputPath   string         `json:"outputPath"`
	Codec        string         `json:"codec"`
	Options      map[string]any `json:"options,omitempty"`
}

// AudioCopy reports whether the plan keeps the source audio track as-is.
// Defaults to true; only an explicit audioCopy=false option disables it.
func (p *JobPlan) AudioCopy() bool {
	v, ok := p.Options["audioCopy"]
	if !ok {
		return true
	}
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val != "false"
	}
	return true
}

// AudioBitrate returns the requested audio bitrate, or the fallback when
// the option is absent or not a string.
func (p *JobPlan) AudioBitrate(fallback string) string {
	if v, ok := p.Options["audioBitrate"].(string); ok && v != "" {
		return v
	}
	return fallback
}

// Job is a single admitted conversion request and its lifecycle state.
type Job struct {
	ID            string    `json:"id"`
	Status        JobStatus `json:"status"`
	AssignedAgent string    `json:"assignedAgent,omitempty"`
	InputToken    string    `json:"inputToken"`
	OutputToken   string    `json:"outputToken"`
	CreatedAt     int64     `json:"createdAt"`
	UpdatedAt     int64     `json:"updatedAt"`
	Plan          JobPlan   `json:"plan"`
}

// NowMillis returns the current time as a millisecond epoch timestamp.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// Touch refreshes the job's updatedAt timestamp.
func (j *Job) Touch() {
	j.UpdatedAt = NowMillis()
}
