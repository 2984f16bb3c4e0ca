package models

import (
	"encoding/json"
	"fmt"
)

// Control-channel message types. All messages are JSON objects with a
// required type field and an object payload.
const (
	// MsgHello is sent once by the controller when a connection is accepted.
	MsgHello = "hello"
	// MsgRegister is the worker's registration request.
	MsgRegister = "register"
	// MsgRegistered acknowledges a successful registration.
	MsgRegistered = "registered"
	// MsgError reports a protocol error; the connection closes after it.
	MsgError = "error"
	// MsgHeartbeat is the worker's periodic liveness report.
	MsgHeartbeat = "heartbeat"
	// MsgProgress carries transcoder progress key/value pairs for a job.
	MsgProgress = "progress"
	// MsgComplete reports the terminal outcome of a leased job.
	MsgComplete = "complete"
	// MsgLease assigns a job to a worker.
	MsgLease = "lease"
)

// Envelope is the outer frame of every control-channel message.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	// Error is set only on type "error" frames.
	Error string `json:"error,omitempty"`
}

// Encode marshals a typed message into its wire form.
func Encode(msgType string, payload any) ([]byte, error) {
	env := Envelope{Type: msgType}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshaling %s payload: %w", msgType, err)
		}
		env.Payload = raw
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s envelope: %w", msgType, err)
	}
	return data, nil
}

// EncodeError marshals an error frame.
func EncodeError(message string) ([]byte, error) {
	data, err := json.Marshal(Envelope{Type: MsgError, Error: message})
	if err != nil {
		return nil, fmt.Errorf("marshaling error envelope: %w", err)
	}
	return data, nil
}

// RegisterPayload is sent by a worker to register with the controller.
type RegisterPayload struct {
	ID          string   `json:"id,omitempty"`
	Name        string   `json:"name"`
	Concurrency int      `json:"concurrency"`
	Encoders    []string `json:"encoders"`
	Token       string   `json:"token"`
}

// RegisteredPayload acknowledges registration with the (possibly minted) id.
type RegisteredPayload struct {
	ID string `json:"id"`
}

// HeartbeatPayload is the worker's periodic liveness and telemetry report.
type HeartbeatPayload struct {
	ID         string   `json:"id"`
	ActiveJobs *int     `json:"activeJobs,omitempty"`
	CPU        *float64 `json:"cpu,omitempty"`
	MemUsed    *uint64  `json:"memUsed,omitempty"`
	MemTotal   *uint64  `json:"memTotal,omitempty"`
}

// ProgressPayload carries transcoder progress for a leased job. The
// controller uses only the job id; the data map is informational.
type ProgressPayload struct {
	JobID string            `json:"jobId"`
	Data  map[string]string `json:"data,omitempty"`
}

// CompletePayload reports the terminal outcome of a leased job.
type CompletePayload struct {
	JobID   string `json:"jobId"`
	AgentID string `json:"agentId"`
	Success bool   `json:"success"`
}

// LeasePayload assigns a job to a worker with everything needed to run it.
type LeasePayload struct {
	JobID      string   `json:"jobId"`
	InputURL   string   `json:"inputUrl"`
	OutputURL  string   `json:"outputUrl"`
	FFmpegArgs []string `json:"ffmpegArgs"`
	OutputExt  string   `json:"outputExt"`
	Threads    int      `json:"threads"`
}
