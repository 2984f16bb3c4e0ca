// Package agent implements the worker side: it connects to the
// controller, registers its transcoding capabilities, heartbeats, and
// runs leased jobs through the local transcoder.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/encodefleet/encodefleet/internal/config"
	"github.com/encodefleet/encodefleet/internal/ffmpeg"
	"github.com/encodefleet/encodefleet/internal/models"
)

const (
	initialBackoff = time.Second
	maxBackoff     = time.Minute
	dialTimeout    = 10 * time.Second
)

// ErrUnauthorized means the controller rejected the pairing token. It is
// permanent; reconnecting with the same token cannot succeed.
var ErrUnauthorized = errors.New("controller rejected pairing token")

// Client is a worker agent. One Client maintains one control connection
// at a time and reconnects with capped exponential backoff.
type Client struct {
	cfg        config.AgentConfig
	ffmpegPath string
	encoders   []string
	logger     *slog.Logger

	id         string
	name       string
	activeJobs atomic.Int64
}

// New creates an agent client. Name defaults to the hostname and
// concurrency to the CPU count; the agent id is stable across reconnects
// within one process.
func New(cfg config.AgentConfig, logger *slog.Logger) *Client {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "agent"
	}
	name := cfg.Name
	if name == "" {
		name = hostname
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = runtime.NumCPU()
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 10 * time.Second
	}
	return &Client{
		cfg:    cfg,
		logger: logger,
		id:     fmt.Sprintf("%s-%d", hostname, os.Getpid()),
		name:   name,
	}
}

// Run probes the transcoder, then connects and serves sessions until the
// context is canceled or registration is rejected.
func (c *Client) Run(ctx context.Context, ffmpegPath string) error {
	bin, err := ffmpeg.ResolveBinary(ffmpegPath)
	if err != nil {
		return fmt.Errorf("locating transcoder: %w", err)
	}
	c.ffmpegPath = bin

	encoders, err := ffmpeg.DetectEncoders(ctx, bin)
	if err != nil {
		return fmt.Errorf("probing encoders: %w", err)
	}
	c.encoders = encoders
	c.logger.Info("transcoder probed", "binary", bin, "encoders", len(encoders))

	backoff := initialBackoff
	for {
		registered, err := c.runSession(ctx)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, ErrUnauthorized):
			return err
		case err != nil:
			c.logger.Warn("session ended", "error", err)
		}
		if registered {
			backoff = initialBackoff
		}

		c.logger.Info("reconnecting", "backoff", backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < maxBackoff {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}

// sender serializes writes to one connection. The websocket permits only
// a single concurrent writer.
type sender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *sender) send(msgType string, payload any) error {
	data, err := models.Encode(msgType, payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// controlURL derives the websocket endpoint from the controller base URL.
func controlURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing controller URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported controller URL scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/agent"
	return u.String(), nil
}

// runSession dials, registers, and serves one connection to completion.
// The returned bool reports whether registration succeeded, which resets
// the reconnect backoff.
func (c *Client) runSession(ctx context.Context) (bool, error) {
	wsURL, err := controlURL(c.cfg.ControllerURL)
	if err != nil {
		return false, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, wsURL, nil)
	if err != nil {
		return false, fmt.Errorf("dialing %s: %w", wsURL, err)
	}
	defer conn.Close()

	sessionCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		<-sessionCtx.Done()
		conn.Close()
	}()

	snd := &sender{conn: conn}
	if err := snd.send(models.MsgRegister, models.RegisterPayload{
		ID:          c.id,
		Name:        c.name,
		Concurrency: c.cfg.Concurrency,
		Encoders:    c.encoders,
		Token:       c.cfg.Token,
	}); err != nil {
		return false, fmt.Errorf("sending register: %w", err)
	}

	registered := false
	var wg sync.WaitGroup
	// Cancel in-flight work before waiting for it; the connection this
	// session would report on is already gone.
	defer func() {
		stop()
		wg.Wait()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return registered, nil
			}
			return registered, fmt.Errorf("reading control channel: %w", err)
		}

		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Debug("discarding malformed frame", "error", err)
			continue
		}

		switch env.Type {
		case models.MsgHello:
			// Informational only.
		case models.MsgRegistered:
			var ack models.RegisteredPayload
			if err := json.Unmarshal(env.Payload, &ack); err != nil {
				return false, fmt.Errorf("decoding registration ack: %w", err)
			}
			c.id = ack.ID
			registered = true
			c.logger.Info("registered with controller", "agent_id", c.id)
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.heartbeatLoop(sessionCtx, snd)
			}()
		case models.MsgError:
			if env.Error == "unauthorized" {
				return registered, ErrUnauthorized
			}
			return registered, fmt.Errorf("controller error: %s", env.Error)
		case models.MsgLease:
			var lease models.LeasePayload
			if err := json.Unmarshal(env.Payload, &lease); err != nil {
				c.logger.Warn("discarding malformed lease", "error", err)
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.runLease(sessionCtx, lease, snd)
			}()
		default:
			c.logger.Debug("ignoring unknown message type", "type", env.Type)
		}
	}
}

func (c *Client) heartbeatLoop(ctx context.Context, snd *sender) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := snd.send(models.MsgHeartbeat, c.heartbeat(ctx)); err != nil {
				c.logger.Debug("heartbeat send failed", "error", err)
				return
			}
		}
	}
}

// heartbeat gathers telemetry best effort; a probe failure just omits
// that field.
func (c *Client) heartbeat(ctx context.Context) models.HeartbeatPayload {
	active := int(c.activeJobs.Load())
	hb := models.HeartbeatPayload{ID: c.id, ActiveJobs: &active}

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		hb.CPU = &percents[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		hb.MemUsed = &vm.Used
		hb.MemTotal = &vm.Total
	}
	return hb
}
