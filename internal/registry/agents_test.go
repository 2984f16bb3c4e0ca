package registry

import (
	"testing"

	"github.com/encodefleet/encodefleet/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	sent   [][]byte
	closed bool
}

func (s *fakeSink) Enqueue(data []byte) bool {
	if s.closed {
		return false
	}
	s.sent = append(s.sent, data)
	return true
}

func registerAgent(r *AgentRegistry, id string, concurrency int, encoders []string) *fakeSink {
	sink := &fakeSink{}
	r.Register(models.Agent{
		ID:          id,
		Name:        id,
		Concurrency: concurrency,
		Encoders:    encoders,
	}, sink)
	return sink
}

func echoID(a *models.Agent) ([]byte, error) { return []byte(a.ID), nil }

func TestRegisterMintsID(t *testing.T) {
	r := NewAgentRegistry()
	id := r.Register(models.Agent{Name: "worker", Concurrency: 2}, &fakeSink{})
	assert.NotEmpty(t, id)
	assert.Equal(t, 1, r.ConnectedCount())

	agents := r.Snapshot()
	require.Len(t, agents, 1)
	assert.Equal(t, id, agents[0].ID)
	assert.Positive(t, agents[0].LastHeartbeat)
}

func TestReregisterKeepsLoad(t *testing.T) {
	r := NewAgentRegistry()
	sink := registerAgent(r, "a", 4, []string{"libx264"})
	_, err := r.Lease([]string{"libx264"}, echoID)
	require.NoError(t, err)

	r.Deregister("a", sink)
	registerAgent(r, "a", 4, []string{"libx264"})

	agents := r.Snapshot()
	require.Len(t, agents, 1)
	assert.Equal(t, 1, agents[0].ActiveJobs)
}

func TestHeartbeatUpdatesTelemetry(t *testing.T) {
	r := NewAgentRegistry()
	registerAgent(r, "a", 1, nil)

	cpu := 42.5
	used := uint64(1024)
	require.NoError(t, r.Heartbeat(models.HeartbeatPayload{ID: "a", CPU: &cpu, MemUsed: &used}))

	agents := r.Snapshot()
	assert.Equal(t, 42.5, agents[0].CPU)
	assert.Equal(t, uint64(1024), agents[0].MemUsed)

	assert.ErrorIs(t, r.Heartbeat(models.HeartbeatPayload{ID: "ghost"}), models.ErrAgentNotFound)
}

func TestLeasePicksLeastLoaded(t *testing.T) {
	r := NewAgentRegistry()
	registerAgent(r, "a", 4, []string{"libx264"})
	sinkB := registerAgent(r, "b", 4, []string{"libx264"})

	// Load up "a" once so "b" is the lighter node.
	_, err := r.Lease([]string{"libx264"}, echoID)
	require.NoError(t, err)

	id, err := r.Lease([]string{"libx264"}, echoID)
	require.NoError(t, err)
	assert.Equal(t, "b", id)
	assert.Equal(t, [][]byte{[]byte("b")}, sinkB.sent)
}

func TestLeaseTieBreaksLexically(t *testing.T) {
	r := NewAgentRegistry()
	registerAgent(r, "zeta", 2, []string{"aac"})
	sinkA := registerAgent(r, "alpha", 2, []string{"aac"})

	id, err := r.Lease([]string{"aac"}, echoID)
	require.NoError(t, err)
	assert.Equal(t, "alpha", id)
	assert.Len(t, sinkA.sent, 1)
}

func TestLeaseRespectsCapacityAndEncoders(t *testing.T) {
	r := NewAgentRegistry()
	registerAgent(r, "a", 1, []string{"libx264"})

	_, err := r.Lease([]string{"libx264"}, echoID)
	require.NoError(t, err)

	// At capacity now.
	_, err = r.Lease([]string{"libx264"}, echoID)
	assert.ErrorIs(t, err, ErrNoEligibleAgent)

	registerAgent(r, "b", 1, []string{"libx265"})
	_, err = r.Lease([]string{"libx264"}, echoID)
	assert.ErrorIs(t, err, ErrNoEligibleAgent)

	// Any intersection qualifies.
	id, err := r.Lease([]string{"h264_nvenc", "libx265"}, echoID)
	require.NoError(t, err)
	assert.Equal(t, "b", id)
}

func TestLeaseSkipsDisconnected(t *testing.T) {
	r := NewAgentRegistry()
	sink := registerAgent(r, "a", 4, []string{"aac"})
	r.Deregister("a", sink)

	_, err := r.Lease([]string{"aac"}, echoID)
	assert.ErrorIs(t, err, ErrNoEligibleAgent)
	// Record survives deregistration until removed.
	assert.Len(t, r.Snapshot(), 1)
}

func TestDeregisterIgnoresSupersededSink(t *testing.T) {
	r := NewAgentRegistry()
	old := registerAgent(r, "a", 4, []string{"aac"})
	fresh := registerAgent(r, "a", 4, []string{"aac"})

	// The old session tears down after the reconnect has rebound the id.
	r.Deregister("a", old)
	assert.Equal(t, 1, r.ConnectedCount())

	id, err := r.Lease([]string{"aac"}, echoID)
	require.NoError(t, err)
	assert.Equal(t, "a", id)
	assert.Len(t, fresh.sent, 1)
	assert.Empty(t, old.sent)

	r.Deregister("a", fresh)
	assert.Equal(t, 0, r.ConnectedCount())
}

func TestLeaseFailedDeliveryLeavesLoadUntouched(t *testing.T) {
	r := NewAgentRegistry()
	sink := registerAgent(r, "a", 4, []string{"aac"})
	sink.closed = true

	_, err := r.Lease([]string{"aac"}, echoID)
	assert.ErrorIs(t, err, ErrDeliveryFailed)
	assert.Equal(t, 0, r.Snapshot()[0].ActiveJobs)
	// The dead session is unbound so the agent is not chosen again.
	assert.Equal(t, 0, r.ConnectedCount())
	_, err = r.Lease([]string{"aac"}, echoID)
	assert.ErrorIs(t, err, ErrNoEligibleAgent)
}

func TestDecLoadSaturates(t *testing.T) {
	r := NewAgentRegistry()
	registerAgent(r, "a", 4, []string{"aac"})
	r.DecLoad("a")
	assert.Equal(t, 0, r.Snapshot()[0].ActiveJobs)

	_, err := r.Lease([]string{"aac"}, echoID)
	require.NoError(t, err)
	r.DecLoad("a")
	r.DecLoad("a")
	assert.Equal(t, 0, r.Snapshot()[0].ActiveJobs)
}

func TestStaleDetection(t *testing.T) {
	r := NewAgentRegistry()
	registerAgent(r, "live", 1, nil)
	sink := registerAgent(r, "gone", 1, nil)
	r.Deregister("gone", sink)

	// Fresh heartbeat, nothing stale yet.
	assert.Empty(t, r.Stale(30_000))

	// Force the disconnected record into the past.
	r.mu.Lock()
	r.agents["gone"].LastHeartbeat = models.NowMillis() - 60_000
	r.agents["live"].LastHeartbeat = models.NowMillis() - 60_000
	r.mu.Unlock()

	// Connected agents are never stale.
	assert.Equal(t, []string{"gone"}, r.Stale(30_000))

	r.Remove("gone")
	assert.Len(t, r.Snapshot(), 1)
}
