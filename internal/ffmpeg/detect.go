package ffmpeg

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
)

// encoderNameRe matches the encoder name column of `ffmpeg -encoders`
// output. Names are restricted to the characters ffmpeg actually uses.
var encoderNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// DetectEncoders runs the transcoder with -encoders and returns the names
// it advertises. Header and separator lines are skipped by the name
// filter; parsing is deliberately loose because the flag layout varies
// between builds.
func DetectEncoders(ctx context.Context, ffmpegPath string) ([]string, error) {
	cmd := exec.CommandContext(ctx, ffmpegPath, "-hide_banner", "-encoders")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("running %s -encoders: %w", ffmpegPath, err)
	}
	return ParseEncoderList(string(output)), nil
}

// ParseEncoderList extracts encoder names from -encoders output. Column 2
// of each listing line holds the name; anything that does not look like an
// encoder name is dropped.
func ParseEncoderList(output string) []string {
	var encoders []string
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		name := fields[1]
		if encoderNameRe.MatchString(name) {
			encoders = append(encoders, name)
		}
	}
	return encoders
}

// ResolveBinary returns the transcoder binary to use. A configured path
// wins; otherwise the PATH is searched for ffmpeg.
func ResolveBinary(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		return "", fmt.Errorf("locating ffmpeg binary: %w", err)
	}
	slog.Debug("resolved ffmpeg binary", slog.String("path", path))
	return path, nil
}
