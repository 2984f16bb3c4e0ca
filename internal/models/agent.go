package models

// Agent describes a connected worker and its declared capabilities.
type Agent struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Concurrency int      `json:"concurrency"`
	Encoders    []string `json:"encoders"`

	// ActiveJobs is the number of leases outstanding.
	ActiveJobs int `json:"activeJobs"`

	// LastHeartbeat is a millisecond epoch timestamp.
	LastHeartbeat int64 `json:"lastHeartbeat"`

	// Optional telemetry reported with heartbeats.
	CPU      float64 `json:"cpu,omitempty"`
	MemUsed  uint64  `json:"memUsed,omitempty"`
	MemTotal uint64  `json:"memTotal,omitempty"`
}

// HasEncoder reports whether the agent advertises the given encoder.
func (a *Agent) HasEncoder(name string) bool {
	for _, e := range a.Encoders {
		if e == name {
			return true
		}
	}
	return false
}

// HasCapacity reports whether the agent can accept another lease.
func (a *Agent) HasCapacity() bool {
	return a.ActiveJobs < a.Concurrency
}

// StaleSince reports whether the agent's last heartbeat is older than the
// cutoff relative to now (both millisecond epochs).
func (a *Agent) StaleSince(nowMillis, cutoffMillis int64) bool {
	return nowMillis-a.LastHeartbeat > cutoffMillis
}
