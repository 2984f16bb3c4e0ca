// Package ffmpeg plans transcoder invocations and probes local encoder
// capabilities. The transcoder itself is treated as a black box driven by
// argv and emitting key=value progress on stdout.
package ffmpeg

import (
	"strconv"

	"github.com/encodefleet/encodefleet/internal/models"
)

// argPrefix is prepended to every invocation: quiet banner, no stdin,
// overwrite outputs, machine-readable progress on stdout, errors only.
var argPrefix = []string{
	"-hide_banner",
	"-nostdin",
	"-y",
	"-progress", "pipe:1",
	"-loglevel", "error",
}

// BuildArgs produces the transcoder argv for a plan. selectedEncoder, when
// non-empty, forces that video encoder with family-generic quality knobs;
// it is ignored for audio and image plans.
func BuildArgs(plan *models.JobPlan, selectedEncoder string) []string {
	args := make([]string, 0, 16)
	args = append(args, argPrefix...)

	switch plan.MediaType {
	case models.MediaTypeAudio:
		args = append(args, audioArgs(plan.Codec)...)
	case models.MediaTypeVideo:
		args = append(args, videoArgs(plan, selectedEncoder)...)
	case models.MediaTypeImage:
		args = append(args, imageArgs(plan.Codec)...)
	}

	return args
}

func audioArgs(codec string) []string {
	args := []string{"-vn"}
	switch codec {
	case "flac":
		args = append(args, "-c:a", "flac")
	case "alac":
		args = append(args, "-c:a", "alac")
	case "mp3":
		args = append(args, "-c:a", "libmp3lame", "-b:a", "192k")
	case "opus":
		args = append(args, "-c:a", "libopus", "-b:a", "160k")
	case "ogg", "vorbis":
		args = append(args, "-c:a", "libvorbis", "-q:a", "5")
	default: // aac and anything unknown
		args = append(args, "-c:a", "aac", "-b:a", "192k")
	}
	return args
}

// videoQuality returns the (crf, preset) pair for a requested codec.
func videoQuality(codec string) (int, string) {
	switch codec {
	case "h265", "hevc":
		return 28, "medium"
	case "av1":
		return 32, "6"
	default:
		return 23, "medium"
	}
}

func videoArgs(plan *models.JobPlan, selectedEncoder string) []string {
	args := []string{"-pix_fmt", "yuv420p"}
	crf, preset := videoQuality(plan.Codec)
	crfStr := strconv.Itoa(crf)

	if selectedEncoder != "" {
		args = append(args, "-c:v", selectedEncoder)
		// Family-generic knobs; encoder-specific tuning is the agent's
		// problem once it picked a hardware variant.
		switch plan.Codec {
		case "vp9":
			args = append(args, "-b:v", "0", "-crf", crfStr, "-row-mt", "1")
		case "av1":
			args = append(args, "-crf", crfStr)
		default:
			args = append(args, "-preset", preset, "-crf", crfStr)
		}
	} else {
		switch plan.Codec {
		case "h265", "hevc":
			args = append(args, "-c:v", "libx265", "-preset", preset, "-crf", crfStr)
		case "av1":
			args = append(args, "-c:v", "libsvtav1", "-preset", "6", "-crf", crfStr)
		case "vp9":
			args = append(args, "-c:v", "libvpx-vp9", "-b:v", "0", "-crf", crfStr, "-row-mt", "1")
		default: // h264 and anything unknown
			args = append(args, "-c:v", "libx264", "-preset", preset, "-crf", crfStr)
		}
	}

	if plan.AudioCopy() {
		args = append(args, "-c:a", "copy")
	} else {
		args = append(args, "-c:a", "aac", "-b:a", plan.AudioBitrate("160k"))
	}
	return args
}

func imageArgs(codec string) []string {
	var args []string
	switch codec {
	case "avif":
		args = append(args, "-c:v", "libaom-av1", "-still-picture", "1", "-b:v", "0", "-crf", "28")
	case "heic", "heif":
		args = append(args, "-c:v", "libx265")
	case "webp":
		args = append(args, "-c:v", "libwebp", "-q:v", "80")
	case "jpeg", "jpg":
		args = append(args, "-c:v", "mjpeg", "-q:v", "2")
	default: // png and anything unknown
		args = append(args, "-c:v", "png")
	}
	return append(args, "-frames:v", "1")
}

// OutputExt returns the output file extension for a media type and codec.
// It agrees with the container choices BuildArgs implies.
func OutputExt(mediaType models.MediaType, codec string) string {
	switch mediaType {
	case models.MediaTypeAudio:
		switch codec {
		case "flac":
			return ".flac"
		case "alac", "aac":
			return ".m4a"
		case "mp3":
			return ".mp3"
		case "opus":
			return ".opus"
		case "ogg", "vorbis":
			return ".ogg"
		default:
			return ".m4a"
		}
	case models.MediaTypeVideo:
		switch codec {
		case "av1":
			return ".mkv"
		case "vp9":
			return ".webm"
		default: // h264, h265, hevc
			return ".mp4"
		}
	case models.MediaTypeImage:
		switch codec {
		case "avif":
			return ".avif"
		case "heic":
			return ".heic"
		case "heif":
			return ".heif"
		case "webp":
			return ".webp"
		case "jpeg", "jpg":
			return ".jpg"
		default:
			return ".png"
		}
	}
	return ""
}

// RequiredEncoders returns the ordered preference list of transcoder
// encoder names that satisfy a (mediaType, codec) pair. Hardware variants
// come first so capable agents pick them up.
func RequiredEncoders(mediaType models.MediaType, codec string) []string {
	switch mediaType {
	case models.MediaTypeAudio:
		switch codec {
		case "flac":
			return []string{"flac"}
		case "alac":
			return []string{"alac"}
		case "mp3":
			return []string{"libmp3lame", "mp3"}
		case "opus":
			return []string{"libopus", "opus"}
		case "ogg", "vorbis":
			return []string{"libvorbis", "vorbis"}
		default:
			return []string{"aac"}
		}
	case models.MediaTypeVideo:
		switch codec {
		case "h265", "hevc":
			return []string{"hevc_nvenc", "hevc_qsv", "hevc_videotoolbox", "libx265", "hevc", "h265"}
		case "av1":
			return []string{"av1_nvenc", "av1_qsv", "libsvtav1", "libaom-av1", "av1"}
		case "vp9":
			return []string{"vp9_qsv", "libvpx-vp9", "vp9"}
		default: // h264 and anything unknown
			return []string{"h264_nvenc", "h264_qsv", "h264_videotoolbox", "libx264", "h264"}
		}
	case models.MediaTypeImage:
		switch codec {
		case "avif":
			return []string{"libaom-av1"}
		case "heic", "heif":
			return []string{"libx265"}
		case "webp":
			return []string{"libwebp"}
		case "jpeg", "jpg":
			return []string{"mjpeg"}
		default:
			return []string{"png"}
		}
	}
	return nil
}

// SelectEncoder picks the most preferred required encoder the agent
// advertises. Only video plans get an explicit encoder; audio and image
// plans return empty so BuildArgs uses its defaults.
func SelectEncoder(plan *models.JobPlan, agentEncoders []string) string {
	if plan.MediaType != models.MediaTypeVideo {
		return ""
	}
	have := make(map[string]struct{}, len(agentEncoders))
	for _, e := range agentEncoders {
		have[e] = struct{}{}
	}
	for _, cand := range RequiredEncoders(plan.MediaType, plan.Codec) {
		if _, ok := have[cand]; ok {
			return cand
		}
	}
	return ""
}
