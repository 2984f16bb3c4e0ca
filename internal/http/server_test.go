package http

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/encodefleet/encodefleet/internal/config"
	"github.com/encodefleet/encodefleet/internal/dispatch"
	"github.com/encodefleet/encodefleet/internal/http/handlers"
	"github.com/encodefleet/encodefleet/internal/metrics"
	"github.com/encodefleet/encodefleet/internal/registry"
	"github.com/encodefleet/encodefleet/internal/session"
)

type apiFixture struct {
	jobs     *registry.JobRegistry
	agents   *registry.AgentRegistry
	settings *registry.Settings
	server   *httptest.Server
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	jobs := registry.NewJobRegistry()
	agents := registry.NewAgentRegistry()
	settings := registry.NewSettings(nil, "http://controller:4000")
	m := metrics.New(
		func() float64 { return float64(agents.ConnectedCount()) },
		func() float64 { return float64(jobs.PendingLen()) },
	)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dispatcher := dispatch.New(jobs, agents, settings, m, logger)
	hub := session.NewHub(jobs, agents, settings, dispatcher, m, logger)

	srv := NewServer(config.ServerConfig{Host: "127.0.0.1", Port: 4000}, logger, "test")
	handlers.NewNodesHandler(agents).Register(srv.API())
	handlers.NewSettingsHandler(settings).Register(srv.API())
	handlers.NewPairHandler(settings).Register(srv.API())
	handlers.NewScanHandler().Register(srv.API())
	handlers.NewJobsHandler(jobs, dispatcher).Register(srv.API())
	srv.Mount(hub, NewStreamHandler(jobs, logger), m)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &apiFixture{jobs: jobs, agents: agents, settings: settings, server: ts}
}

func (f *apiFixture) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(f.server.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *apiFixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(f.server.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestHealthEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	resp := f.get(t, "/api/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "ok", string(body))
}

func TestIndexBanner(t *testing.T) {
	f := newAPIFixture(t)
	resp := f.get(t, "/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "encodefleet controller")
}

func TestNodesEmpty(t *testing.T) {
	f := newAPIFixture(t)
	resp := f.get(t, "/api/nodes")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Nodes []json.RawMessage `json:"nodes"`
	}
	decodeBody(t, resp, &body)
	assert.Empty(t, body.Nodes)
}

func TestSettingsRoundTrip(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.get(t, "/api/settings")
	var body struct {
		PublicBaseURL string `json:"publicBaseUrl"`
	}
	decodeBody(t, resp, &body)
	assert.Equal(t, "http://controller:4000", body.PublicBaseURL)

	resp = f.postJSON(t, "/api/settings", map[string]string{"publicBaseUrl": "https://fleet.internal:8443/"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://fleet.internal:8443", f.settings.PublicBaseURL())

	resp = f.postJSON(t, "/api/settings", map[string]string{"publicBaseUrl": "ftp://nope"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "https://fleet.internal:8443", f.settings.PublicBaseURL())
}

func TestPairEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	// Server-minted token.
	resp := f.postJSON(t, "/api/pair", map[string]string{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Token string `json:"token"`
	}
	decodeBody(t, resp, &body)
	assert.Len(t, body.Token, registry.PairingTokenLength)
	assert.True(t, f.settings.HasToken(body.Token))

	// Caller-supplied token of the right length.
	token := strings.Repeat("k", registry.PairingTokenLength)
	resp = f.postJSON(t, "/api/pair", map[string]string{"token": token})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, f.settings.HasToken(token))

	// Wrong length is rejected.
	resp = f.postJSON(t, "/api/pair", map[string]string{"token": "short"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.False(t, f.settings.HasToken("short"))
}

func TestScanEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.mp3"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("x"), 0o644))

	resp := f.postJSON(t, "/api/scan", map[string]any{"root": root})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Count   int `json:"count"`
		Entries []struct {
			RelativePath string `json:"relativePath"`
			MediaType    string `json:"mediaType"`
		} `json:"entries"`
	}
	decodeBody(t, resp, &body)
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "a.mp3", body.Entries[0].RelativePath)
	assert.Equal(t, "audio", body.Entries[0].MediaType)

	resp = f.postJSON(t, "/api/scan", map[string]any{"root": filepath.Join(root, "missing")})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStartAndListJobs(t *testing.T) {
	f := newAPIFixture(t)

	src := filepath.Join(t.TempDir(), "in.mp3")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))

	resp := f.postJSON(t, "/api/start", map[string]any{
		"plans": []map[string]any{{
			"sourcePath": src,
			"mediaType":  "audio",
			"outputPath": src + ".flac",
			"codec":      "flac",
		}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var started struct {
		JobIDs []string `json:"jobIds"`
	}
	decodeBody(t, resp, &started)
	require.Len(t, started.JobIDs, 1)

	resp = f.get(t, "/api/jobs")
	var listed struct {
		Jobs []struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"jobs"`
	}
	decodeBody(t, resp, &listed)
	require.Len(t, listed.Jobs, 1)
	assert.Equal(t, started.JobIDs[0], listed.Jobs[0].ID)
	assert.Equal(t, "pending", listed.Jobs[0].Status)
}

func TestStartRejectsInvalidPlan(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.postJSON(t, "/api/start", map[string]any{
		"plans": []map[string]any{{
			"sourcePath": "/does/not/exist.mp3",
			"mediaType":  "audio",
			"outputPath": "/tmp/out.flac",
			"codec":      "flac",
		}},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, 0, f.jobs.PendingLen())
}

func TestMetricsEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	resp := f.get(t, "/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "encodefleet_jobs_pending")
	assert.Contains(t, string(body), "encodefleet_agents_connected")
}
