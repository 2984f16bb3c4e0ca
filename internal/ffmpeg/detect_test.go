package ffmpeg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const sampleEncodersOutput = `Encoders:
 V..... = Video
 A..... = Audio
 S..... = Subtitle
 .F.... = Frame-level multithreading
 ..S... = Slice-level multithreading
 ...X.. = Codec is experimental
 ....B. = Supports draw_horiz_band
 .....D = Supports direct rendering method 1
 ------
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC (codec h264)
 V....D libx265              libx265 H.265 / HEVC (codec hevc)
 V....D h264_nvenc           NVIDIA NVENC H.264 encoder (codec h264)
 V....D libvpx-vp9           libvpx VP9 (codec vp9)
 A....D aac                  AAC (Advanced Audio Coding)
 A....D libmp3lame           libmp3lame MP3 (MPEG audio layer 3) (codec mp3)
 A....D flac                 FLAC (Free Lossless Audio Codec)
 S..... srt                  SubRip subtitle
`

func TestParseEncoderList(t *testing.T) {
	encoders := ParseEncoderList(sampleEncodersOutput)

	assert.Contains(t, encoders, "libx264")
	assert.Contains(t, encoders, "libx265")
	assert.Contains(t, encoders, "h264_nvenc")
	assert.Contains(t, encoders, "libvpx-vp9")
	assert.Contains(t, encoders, "aac")
	assert.Contains(t, encoders, "libmp3lame")
	assert.Contains(t, encoders, "flac")
	assert.Contains(t, encoders, "srt")

	// Legend lines use "=" in column 2 and must not leak through
	assert.NotContains(t, encoders, "=")
	for _, e := range encoders {
		assert.Regexp(t, `^[A-Za-z0-9_-]+$`, e)
	}
}

func TestParseEncoderListEmpty(t *testing.T) {
	assert.Empty(t, ParseEncoderList(""))
	assert.Empty(t, ParseEncoderList("Encoders:\n ------\n"))
}

func TestResolveBinaryConfigured(t *testing.T) {
	path, err := ResolveBinary("/opt/ffmpeg/bin/ffmpeg")
	assert.NoError(t, err)
	assert.Equal(t, "/opt/ffmpeg/bin/ffmpeg", path)
}
