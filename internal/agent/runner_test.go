package agent

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/encodefleet/encodefleet/internal/config"
	"github.com/encodefleet/encodefleet/internal/models"
)

func testClient(cfg config.AgentConfig) *Client {
	return New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestLeaseArgs(t *testing.T) {
	lease := models.LeasePayload{
		InputURL:   "http://c:4000/stream/input/j1?token=a",
		FFmpegArgs: []string{"-hide_banner", "-c:v", "libx264"},
		Threads:    0,
	}
	args := leaseArgs(lease, "/tmp/out.mp4")
	assert.Equal(t, []string{
		"-i", "http://c:4000/stream/input/j1?token=a",
		"-hide_banner", "-c:v", "libx264",
		"/tmp/out.mp4",
	}, args)
}

func TestLeaseArgsWithThreads(t *testing.T) {
	lease := models.LeasePayload{InputURL: "http://x", FFmpegArgs: []string{"-c:a", "flac"}, Threads: 4}
	args := leaseArgs(lease, "out.flac")
	assert.Equal(t, []string{"-i", "http://x", "-c:a", "flac", "-threads", "4", "out.flac"}, args)
}

func TestProgressParser(t *testing.T) {
	p := newProgressParser()

	assert.Nil(t, p.Feed("frame=10"))
	assert.Nil(t, p.Feed("fps=25.0"))
	assert.Nil(t, p.Feed("out_time_ms=400000"))
	assert.Nil(t, p.Feed(""))
	assert.Nil(t, p.Feed("not a pair"))

	block := p.Feed("progress=continue")
	require.NotNil(t, block)
	assert.Equal(t, map[string]string{
		"frame":       "10",
		"fps":         "25.0",
		"out_time_ms": "400000",
		"progress":    "continue",
	}, block)

	// The parser starts a fresh block after each flush.
	assert.Nil(t, p.Feed("frame=20"))
	block = p.Feed("progress=end")
	require.NotNil(t, block)
	assert.Equal(t, map[string]string{"frame": "20", "progress": "end"}, block)
}

func TestProgressParserTrimsWhitespace(t *testing.T) {
	p := newProgressParser()
	block := p.Feed("  progress = continue  ")
	require.NotNil(t, block)
	assert.Equal(t, "continue", block["progress"])
}

func TestControlURL(t *testing.T) {
	tests := []struct {
		base    string
		want    string
		wantErr bool
	}{
		{"http://controller:4000", "ws://controller:4000/agent", false},
		{"https://fleet.example.com", "wss://fleet.example.com/agent", false},
		{"http://controller:4000/", "ws://controller:4000/agent", false},
		{"ws://controller:4000", "ws://controller:4000/agent", false},
		{"ftp://controller", "", true},
	}
	for _, tt := range tests {
		got, err := controlURL(tt.base)
		if tt.wantErr {
			assert.Error(t, err, tt.base)
			continue
		}
		require.NoError(t, err, tt.base)
		assert.Equal(t, tt.want, got)
	}
}

func TestUpload(t *testing.T) {
	var gotLength int64
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLength = r.ContentLength
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "out.mp4")
	require.NoError(t, os.WriteFile(path, []byte("encoded bytes"), 0o644))

	c := testClient(config.AgentConfig{Concurrency: 1})
	ok := c.upload(context.Background(), models.LeasePayload{JobID: "j1", OutputURL: server.URL}, path)
	assert.True(t, ok)
	assert.Equal(t, int64(13), gotLength)
	assert.Equal(t, "encoded bytes", string(gotBody))
}

func TestUploadRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "out.mp4")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	c := testClient(config.AgentConfig{Concurrency: 1})
	ok := c.upload(context.Background(), models.LeasePayload{JobID: "j1", OutputURL: server.URL}, path)
	assert.False(t, ok)
}

func TestUploadMissingFile(t *testing.T) {
	c := testClient(config.AgentConfig{Concurrency: 1})
	ok := c.upload(context.Background(), models.LeasePayload{JobID: "j1", OutputURL: "http://127.0.0.1:1"}, "/does/not/exist")
	assert.False(t, ok)
}

func TestNewDefaults(t *testing.T) {
	c := testClient(config.AgentConfig{})
	assert.NotEmpty(t, c.name)
	assert.Positive(t, c.cfg.Concurrency)
	assert.Contains(t, c.id, "-")

	named := testClient(config.AgentConfig{Name: "rack-7", Concurrency: 3})
	assert.Equal(t, "rack-7", named.name)
	assert.Equal(t, 3, named.cfg.Concurrency)
}

func TestHeartbeatPayload(t *testing.T) {
	c := testClient(config.AgentConfig{Concurrency: 2})
	c.activeJobs.Add(1)
	hb := c.heartbeat(context.Background())
	require.NotNil(t, hb.ActiveJobs)
	assert.Equal(t, 1, *hb.ActiveJobs)
	assert.Equal(t, c.id, hb.ID)
}
