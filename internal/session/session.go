// Package session runs the websocket control channel between the
// controller and its agents: registration, heartbeats, progress and
// completion reports inbound, lease assignments outbound.
package session

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/encodefleet/encodefleet/internal/metrics"
	"github.com/encodefleet/encodefleet/internal/models"
	"github.com/encodefleet/encodefleet/internal/registry"
)

const (
	// registerWait bounds how long a fresh connection may sit silent
	// before sending its register message.
	registerWait = 30 * time.Second

	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 512 * 1024
	sendBuffer     = 256
)

// Sweeper triggers a dispatch pass. Satisfied by dispatch.Dispatcher.
type Sweeper interface {
	Sweep()
}

// Hub upgrades agent connections and runs their sessions against the
// shared controller state.
type Hub struct {
	jobs     *registry.JobRegistry
	agents   *registry.AgentRegistry
	settings *registry.Settings
	sweeper  Sweeper
	metrics  *metrics.Metrics
	logger   *slog.Logger

	upgrader websocket.Upgrader
}

// NewHub creates a hub over the controller's shared state.
func NewHub(jobs *registry.JobRegistry, agents *registry.AgentRegistry, settings *registry.Settings, sweeper Sweeper, m *metrics.Metrics, logger *slog.Logger) *Hub {
	return &Hub{
		jobs:     jobs,
		agents:   agents,
		settings: settings,
		sweeper:  sweeper,
		metrics:  m,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Agents are headless clients, not browsers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// session is one agent connection. It implements registry.Sink; the
// single writePump goroutine owns all writes to the connection.
type session struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newSession(conn *websocket.Conn) *session {
	return &session{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

// Enqueue hands a frame to the writer without blocking. A full buffer or
// closed session reports false.
func (s *session) Enqueue(data []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- data:
		return true
	case <-s.done:
		return false
	default:
		return false
	}
}

func (s *session) close() {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
	}()
	for {
		select {
		case msg := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

// ServeHTTP upgrades the request and runs the session until the agent
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	s := newSession(conn)
	go s.writePump()
	defer s.close()

	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	if hello, err := models.Encode(models.MsgHello, nil); err == nil {
		s.Enqueue(hello)
	}

	agentID, ok := h.awaitRegister(s)
	if !ok {
		// The error frame, if any, is already queued; give the writer a
		// moment to flush before the deferred close.
		time.Sleep(100 * time.Millisecond)
		return
	}

	h.logger.Info("agent registered", "agent_id", agentID, "remote", r.RemoteAddr)
	h.sweeper.Sweep()

	h.readLoop(s, agentID)

	h.agents.Deregister(agentID, s)
	h.logger.Info("agent disconnected", "agent_id", agentID)
}

// awaitRegister reads the first frame and registers the agent. An invalid
// or missing token gets an unauthorized error frame and no registration.
func (h *Hub) awaitRegister(s *session) (string, bool) {
	s.conn.SetReadDeadline(time.Now().Add(registerWait))
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return "", false
	}

	var env models.Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type != models.MsgRegister {
		h.reject(s)
		return "", false
	}
	var reg models.RegisterPayload
	if err := json.Unmarshal(env.Payload, &reg); err != nil {
		h.reject(s)
		return "", false
	}
	if len(reg.Token) != registry.PairingTokenLength || !h.settings.HasToken(reg.Token) {
		h.reject(s)
		return "", false
	}

	id := h.agents.Register(models.Agent{
		ID:          reg.ID,
		Name:        reg.Name,
		Concurrency: reg.Concurrency,
		Encoders:    reg.Encoders,
	}, s)

	ack, err := models.Encode(models.MsgRegistered, models.RegisteredPayload{ID: id})
	if err != nil {
		h.agents.Deregister(id, s)
		return "", false
	}
	s.Enqueue(ack)
	return id, true
}

func (h *Hub) reject(s *session) {
	if frame, err := models.EncodeError("unauthorized"); err == nil {
		s.Enqueue(frame)
	}
}

func (h *Hub) readLoop(s *session, agentID string) {
	for {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("agent connection error", "agent_id", agentID, "error", err)
			}
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.logger.Debug("discarding malformed frame", "agent_id", agentID, "error", err)
			continue
		}

		switch env.Type {
		case models.MsgHeartbeat:
			h.handleHeartbeat(agentID, env.Payload)
		case models.MsgProgress:
			h.handleProgress(agentID, env.Payload)
		case models.MsgComplete:
			h.handleComplete(agentID, env.Payload)
		default:
			h.logger.Debug("ignoring unknown message type", "agent_id", agentID, "type", env.Type)
		}
	}
}

func (h *Hub) handleHeartbeat(agentID string, payload json.RawMessage) {
	var hb models.HeartbeatPayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &hb); err != nil {
			h.logger.Debug("discarding malformed heartbeat", "agent_id", agentID, "error", err)
			return
		}
	}
	// The session, not the payload, is authoritative for identity.
	hb.ID = agentID
	if err := h.agents.Heartbeat(hb); err != nil {
		h.logger.Warn("heartbeat for unknown agent", "agent_id", agentID, "error", err)
	}
}

func (h *Hub) handleProgress(agentID string, payload json.RawMessage) {
	var p models.ProgressPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		h.logger.Debug("discarding malformed progress", "agent_id", agentID, "error", err)
		return
	}
	err := h.jobs.UpdateStatus(p.JobID, models.JobStatusRunning)
	switch {
	case err == nil:
	case errors.Is(err, models.ErrInvalidTransition):
		// Progress for a job that already finished; harmless.
		h.logger.Debug("late progress ignored", "job_id", p.JobID, "agent_id", agentID)
	default:
		h.logger.Warn("progress for unknown job", "job_id", p.JobID, "agent_id", agentID)
	}
}

func (h *Hub) handleComplete(agentID string, payload json.RawMessage) {
	var c models.CompletePayload
	if err := json.Unmarshal(payload, &c); err != nil {
		h.logger.Debug("discarding malformed completion", "agent_id", agentID, "error", err)
		return
	}

	status := models.JobStatusUploaded
	result := "success"
	if !c.Success {
		status = models.JobStatusFailed
		result = "failure"
	}
	if err := h.jobs.UpdateStatus(c.JobID, status); err != nil {
		h.logger.Warn("completion rejected", "job_id", c.JobID, "agent_id", agentID, "error", err)
		return
	}

	h.agents.DecLoad(agentID)
	h.metrics.JobsCompleted.WithLabelValues(result).Inc()
	h.logger.Info("job completed", "job_id", c.JobID, "agent_id", agentID, "result", result)
	h.sweeper.Sweep()
}
