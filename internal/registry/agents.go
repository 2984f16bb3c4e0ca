package registry

import (
	"errors"
	"sort"
	"sync"

	"github.com/encodefleet/encodefleet/internal/models"
)

// Sink is the send capability a session binds into the registry. Enqueue
// must not block; it returns false when the session is gone or backed up,
// which callers treat the same as a vanished sink.
type Sink interface {
	Enqueue(data []byte) bool
}

// AgentRegistry stores connected agents and the outbound sink bound to
// each live session. An agent is eligible for leases only while its sink
// is present and it has spare capacity.
type AgentRegistry struct {
	mu     sync.RWMutex
	agents map[string]*models.Agent
	sinks  map[string]Sink
}

// NewAgentRegistry creates an empty agent registry.
func NewAgentRegistry() *AgentRegistry {
	return &AgentRegistry{
		agents: make(map[string]*models.Agent),
		sinks:  make(map[string]Sink),
	}
}

// Register upserts an agent record and binds the session's outbound sink.
// An empty id gets one minted. Returns the effective agent id.
func (r *AgentRegistry) Register(agent models.Agent, sink Sink) string {
	if agent.ID == "" {
		agent.ID = models.NewAgentID()
	}
	if agent.Concurrency < 1 {
		agent.Concurrency = 1
	}
	agent.LastHeartbeat = models.NowMillis()

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.agents[agent.ID]; ok {
		// Reconnecting agent keeps its outstanding lease count.
		agent.ActiveJobs = prev.ActiveJobs
	}
	r.agents[agent.ID] = &agent
	r.sinks[agent.ID] = sink
	return agent.ID
}

// Deregister unbinds the outbound sink, but only if it is still the one
// bound for the agent. A reconnect rebinds the id before the old session
// finishes tearing down; its late Deregister must not evict the new sink.
// The info record remains until the staleness sweep retires it.
func (r *AgentRegistry) Deregister(id string, sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sinks[id] == sink {
		delete(r.sinks, id)
	}
}

// Remove drops the agent record entirely. Used by the staleness sweep.
func (r *AgentRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, id)
	delete(r.sinks, id)
}

// Heartbeat refreshes liveness and opportunistically updates telemetry.
func (r *AgentRegistry) Heartbeat(hb models.HeartbeatPayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	agent, ok := r.agents[hb.ID]
	if !ok {
		return models.ErrAgentNotFound
	}
	agent.LastHeartbeat = models.NowMillis()
	if hb.CPU != nil {
		agent.CPU = *hb.CPU
	}
	if hb.MemUsed != nil {
		agent.MemUsed = *hb.MemUsed
	}
	if hb.MemTotal != nil {
		agent.MemTotal = *hb.MemTotal
	}
	return nil
}

// DecLoad decrements an agent's outstanding lease count, saturating at 0.
func (r *AgentRegistry) DecLoad(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if agent, ok := r.agents[id]; ok && agent.ActiveJobs > 0 {
		agent.ActiveJobs--
	}
}

// LookupSink returns the live sink for an agent, if any.
func (r *AgentRegistry) LookupSink(id string) (Sink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sink, ok := r.sinks[id]
	return sink, ok
}

// Snapshot returns copies of all known agents, ordered by id.
func (r *AgentRegistry) Snapshot() []models.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agents := make([]models.Agent, 0, len(r.agents))
	for _, agent := range r.agents {
		agents = append(agents, *agent)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })
	return agents
}

// ConnectedCount returns the number of agents with a live sink.
func (r *AgentRegistry) ConnectedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sinks)
}

// Stale returns the ids of agents with no live sink whose last heartbeat
// is older than the cutoff. Agents with a live connection are never
// reported stale regardless of heartbeat age.
func (r *AgentRegistry) Stale(cutoffMillis int64) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := models.NowMillis()
	var ids []string
	for id, agent := range r.agents {
		if _, live := r.sinks[id]; live {
			continue
		}
		if agent.StaleSince(now, cutoffMillis) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Lease selection errors.
var (
	// ErrNoEligibleAgent means no connected agent had both spare capacity
	// and an encoder from the required set.
	ErrNoEligibleAgent = errors.New("no eligible agent")
	// ErrDeliveryFailed means an agent was chosen but the payload could
	// not be handed to its session.
	ErrDeliveryFailed = errors.New("lease delivery failed")
)

// Lease atomically picks the least-loaded eligible agent whose encoders
// intersect required, delivers the payload built for it, and increments
// its load. Ties on load break lexically by id. The build callback runs
// under the registry lock and must not block.
//
// On failure the agent's load is untouched and the returned error is
// ErrNoEligibleAgent, ErrDeliveryFailed, or the build error.
func (r *AgentRegistry) Lease(required []string, build func(agent *models.Agent) ([]byte, error)) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var chosen *models.Agent
	for id, agent := range r.agents {
		if _, live := r.sinks[id]; !live {
			continue
		}
		if !agent.HasCapacity() {
			continue
		}
		if !intersects(agent.Encoders, required) {
			continue
		}
		if chosen == nil ||
			agent.ActiveJobs < chosen.ActiveJobs ||
			(agent.ActiveJobs == chosen.ActiveJobs && agent.ID < chosen.ID) {
			chosen = agent
		}
	}
	if chosen == nil {
		return "", ErrNoEligibleAgent
	}

	payload, err := build(chosen)
	if err != nil {
		return "", err
	}
	sink := r.sinks[chosen.ID]
	if !sink.Enqueue(payload) {
		// A sink that refuses a frame is a dead session. Unbind it so the
		// agent stops being chosen until it reconnects.
		delete(r.sinks, chosen.ID)
		return chosen.ID, ErrDeliveryFailed
	}
	chosen.ActiveJobs++
	return chosen.ID, nil
}

func intersects(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, h := range have {
		set[h] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; ok {
			return true
		}
	}
	return false
}
