package http

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/renameio/v2"

	"github.com/encodefleet/encodefleet/internal/models"
	"github.com/encodefleet/encodefleet/internal/registry"
)

// StreamHandler serves the data plane: workers pull job inputs with
// byte-range GETs and push finished outputs with streaming PUTs. Every
// request is authenticated by the per-job capability token minted at
// admission.
type StreamHandler struct {
	jobs   *registry.JobRegistry
	logger *slog.Logger
}

// NewStreamHandler creates a stream handler.
func NewStreamHandler(jobs *registry.JobRegistry, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{jobs: jobs, logger: logger}
}

func (h *StreamHandler) authorize(w http.ResponseWriter, r *http.Request, tokenOf func(*models.Job) string) (models.Job, bool) {
	jobID := chi.URLParam(r, "jobID")
	job, ok := h.jobs.Get(jobID)
	if !ok {
		http.Error(w, "job not found", http.StatusNotFound)
		return models.Job{}, false
	}
	if r.URL.Query().Get("token") != tokenOf(&job) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return models.Job{}, false
	}
	return job, true
}

// ServeInput streams the job's source file, honoring single byte ranges
// with inclusive bounds.
func (h *StreamHandler) ServeInput(w http.ResponseWriter, r *http.Request) {
	job, ok := h.authorize(w, r, func(j *models.Job) string { return j.InputToken })
	if !ok {
		return
	}

	f, err := os.Open(job.Plan.SourcePath)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "source not found", http.StatusNotFound)
		} else {
			http.Error(w, "opening source", http.StatusInternalServerError)
		}
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		http.Error(w, "reading source", http.StatusInternalServerError)
		return
	}
	size := info.Size()

	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", "application/octet-stream")

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		io.Copy(w, f)
		return
	}

	start, end, ok := parseRange(rangeHeader, size)
	if !ok {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "unsatisfiable range", http.StatusRequestedRangeNotSatisfiable)
		return
	}

	length := end - start + 1
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(http.StatusPartialContent)

	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return
	}
	io.CopyN(w, f, length)
}

// parseRange parses a single "bytes=start-end" header with inclusive
// bounds. A missing end runs to size-1, a missing start defaults to 0.
func parseRange(header string, size int64) (start, end int64, ok bool) {
	rest, found := strings.CutPrefix(header, "bytes=")
	if !found {
		return 0, 0, false
	}
	startStr, endStr, found := strings.Cut(rest, "-")
	if !found {
		return 0, 0, false
	}

	start = 0
	if startStr != "" {
		v, err := strconv.ParseInt(strings.TrimSpace(startStr), 10, 64)
		if err != nil || v < 0 {
			return 0, 0, false
		}
		start = v
	}

	end = size - 1
	if endStr != "" {
		v, err := strconv.ParseInt(strings.TrimSpace(endStr), 10, 64)
		if err != nil || v < start {
			return 0, 0, false
		}
		end = v
	}
	if end > size-1 {
		end = size - 1
	}
	if start >= size {
		return 0, 0, false
	}
	return start, end, true
}

// ReceiveOutput writes the uploaded body next to the final path and
// renames it into place only after a clean close, so a partial upload
// never shadows the real output.
func (h *StreamHandler) ReceiveOutput(w http.ResponseWriter, r *http.Request) {
	job, ok := h.authorize(w, r, func(j *models.Job) string { return j.OutputToken })
	if !ok {
		return
	}

	target := job.Plan.OutputPath
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		h.logger.Error("creating output directory", "job_id", job.ID, "error", err)
		http.Error(w, "creating output directory", http.StatusInternalServerError)
		return
	}

	pending, err := renameio.NewPendingFile(target, renameio.WithPermissions(0o644))
	if err != nil {
		h.logger.Error("creating output file", "job_id", job.ID, "error", err)
		http.Error(w, "creating output", http.StatusInternalServerError)
		return
	}
	defer pending.Cleanup()

	written, err := io.Copy(pending, r.Body)
	if err != nil {
		h.logger.Error("writing output", "job_id", job.ID, "error", err)
		http.Error(w, "writing output", http.StatusInternalServerError)
		return
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		h.logger.Error("finalizing output", "job_id", job.ID, "error", err)
		http.Error(w, "finalizing output", http.StatusInternalServerError)
		return
	}

	h.logger.Info("output stored", "job_id", job.ID, "path", target, "bytes", written)
	w.WriteHeader(http.StatusOK)
}
