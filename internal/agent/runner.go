package agent

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/encodefleet/encodefleet/internal/models"
)

// leaseArgs assembles the transcoder argv: input first, the leased
// arguments verbatim, then the scratch output path.
func leaseArgs(lease models.LeasePayload, outPath string) []string {
	args := make([]string, 0, len(lease.FFmpegArgs)+5)
	args = append(args, "-i", lease.InputURL)
	args = append(args, lease.FFmpegArgs...)
	if lease.Threads > 0 {
		args = append(args, "-threads", strconv.Itoa(lease.Threads))
	}
	return append(args, outPath)
}

// progressParser accumulates the transcoder's key=value progress stream.
// Each block ends with a "progress" key, at which point the block is
// flushed as one report.
type progressParser struct {
	data map[string]string
}

func newProgressParser() *progressParser {
	return &progressParser{data: make(map[string]string)}
}

// Feed consumes one stdout line. It returns the completed block when the
// line closes one, nil otherwise. Lines without "=" are ignored.
func (p *progressParser) Feed(line string) map[string]string {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	key, value, ok := strings.Cut(line, "=")
	if !ok {
		return nil
	}
	key = strings.TrimSpace(key)
	p.data[key] = strings.TrimSpace(value)
	if key != "progress" {
		return nil
	}
	flush := p.data
	p.data = make(map[string]string, len(flush))
	return flush
}

// runLease executes one leased job end to end and reports exactly one
// complete message, successful or not.
func (c *Client) runLease(ctx context.Context, lease models.LeasePayload, snd *sender) {
	c.activeJobs.Add(1)
	defer c.activeJobs.Add(-1)

	start := time.Now()
	success := c.transcodeAndUpload(ctx, lease, snd)
	c.logger.Info("lease finished",
		"job_id", lease.JobID,
		"success", success,
		"duration", time.Since(start),
	)

	if err := snd.send(models.MsgComplete, models.CompletePayload{
		JobID:   lease.JobID,
		AgentID: c.id,
		Success: success,
	}); err != nil {
		c.logger.Warn("sending completion failed", "job_id", lease.JobID, "error", err)
	}
}

func (c *Client) transcodeAndUpload(ctx context.Context, lease models.LeasePayload, snd *sender) bool {
	tmp, err := os.CreateTemp(c.cfg.TempDir, "encodefleet-*"+lease.OutputExt)
	if err != nil {
		c.logger.Error("creating scratch file", "job_id", lease.JobID, "error", err)
		return false
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	runCtx := ctx
	if c.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.cfg.JobTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, c.ffmpegPath, leaseArgs(lease, tmpPath)...)
	// stderr is intentionally dropped; progress arrives on stdout.
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		c.logger.Error("wiring transcoder stdout", "job_id", lease.JobID, "error", err)
		return false
	}
	if err := cmd.Start(); err != nil {
		c.logger.Error("starting transcoder", "job_id", lease.JobID, "error", err)
		return false
	}

	parser := newProgressParser()
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		if block := parser.Feed(scanner.Text()); block != nil {
			if err := snd.send(models.MsgProgress, models.ProgressPayload{JobID: lease.JobID, Data: block}); err != nil {
				c.logger.Debug("progress send failed", "job_id", lease.JobID, "error", err)
			}
		}
	}

	if err := cmd.Wait(); err != nil {
		c.logger.Warn("transcoder exited with error", "job_id", lease.JobID, "error", err)
		return false
	}
	return c.upload(ctx, lease, tmpPath)
}

func (c *Client) upload(ctx context.Context, lease models.LeasePayload, path string) bool {
	f, err := os.Open(path)
	if err != nil {
		c.logger.Error("opening scratch file for upload", "job_id", lease.JobID, "error", err)
		return false
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		c.logger.Error("sizing scratch file", "job_id", lease.JobID, "error", err)
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, lease.OutputURL, f)
	if err != nil {
		c.logger.Error("building upload request", "job_id", lease.JobID, "error", err)
		return false
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", "application/octet-stream")

	client := &http.Client{Timeout: c.cfg.UploadTimeout}
	resp, err := client.Do(req)
	if err != nil {
		c.logger.Warn("upload failed", "job_id", lease.JobID, "error", err)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("upload rejected", "job_id", lease.JobID, "status", resp.StatusCode)
		return false
	}
	return true
}
