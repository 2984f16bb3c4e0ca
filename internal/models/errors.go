package models

import "errors"

// Sentinel errors shared across registries and handlers.
var (
	// ErrJobNotFound indicates the referenced job id is unknown.
	ErrJobNotFound = errors.New("job not found")

	// ErrAgentNotFound indicates the referenced agent id is unknown.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrInvalidTransition indicates a job status update would move
	// backward or out of a terminal state.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidPlan indicates a submitted plan failed admission validation.
	ErrInvalidPlan = errors.New("invalid job plan")

	// ErrInvalidToken indicates a pairing token failed validation.
	ErrInvalidToken = errors.New("invalid pairing token")

	// ErrInvalidBaseURL indicates a public base URL with an unsupported scheme.
	ErrInvalidBaseURL = errors.New("invalid public base url")
)
