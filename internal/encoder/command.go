package encoder

import (
	"fmt"
	"strings"
)

// OutputSpec is the enumerated output configuration of a processing request.
type OutputSpec struct {
	// Container selects the output format: mp4, mkv, webm, or ogg.
	Container string `json:"container"`
	// Codec selects the video codec: h264, hevc, av1, copy, or none (audio only).
	Codec string `json:"codec"`
	// Bitrate is a target video bitrate such as "2M". Ignored when Quality is set.
	Bitrate string `json:"bitrate,omitempty"`
	// Quality is a CRF value; zero means unset.
	Quality int `json:"quality,omitempty"`
	// FilterArgs are passed through verbatim after the derived arguments.
	FilterArgs []string `json:"filterArgs,omitempty"`
}

// Extension returns the output file extension for the container, including
// the leading dot.
func (s OutputSpec) Extension() string {
	switch strings.ToLower(strings.TrimSpace(s.Container)) {
	case "", "mp4":
		return ".mp4"
	case "mkv":
		return ".mkv"
	case "webm":
		return ".webm"
	case "ogg":
		return ".ogg"
	default:
		return "." + strings.ToLower(strings.TrimSpace(s.Container))
	}
}

// Validate rejects output configurations the command builder cannot express.
func (s OutputSpec) Validate() error {
	switch strings.ToLower(strings.TrimSpace(s.Container)) {
	case "", "mp4", "mkv", "webm", "ogg":
	default:
		return fmt.Errorf("unsupported container %q", s.Container)
	}
	switch strings.ToLower(strings.TrimSpace(s.Codec)) {
	case "", "h264", "hevc", "av1", "copy", "none":
	default:
		return fmt.Errorf("unsupported codec %q", s.Codec)
	}
	if s.Quality < 0 || s.Quality > 63 {
		return fmt.Errorf("quality %d out of range", s.Quality)
	}
	return nil
}

// BuildArgs constructs the full ffmpeg argument list for one invocation.
// The progress stream is directed to stdout as line-oriented key=value
// records; stderr stays free for diagnostics.
func BuildArgs(inputPath, outputPath string, spec OutputSpec) []string {
	args := []string{"-nostdin", "-y", "-i", inputPath}
	args = append(args, codecArgs(spec)...)
	args = append(args, spec.FilterArgs...)
	if strings.EqualFold(strings.TrimSpace(spec.Container), "mp4") || strings.TrimSpace(spec.Container) == "" {
		args = append(args, "-movflags", "+faststart")
	}
	args = append(args, "-progress", "pipe:1", "-nostats")
	args = append(args, outputPath)
	return args
}

func codecArgs(spec OutputSpec) []string {
	quality := spec.Quality
	bitrate := strings.TrimSpace(spec.Bitrate)

	switch strings.ToLower(strings.TrimSpace(spec.Codec)) {
	case "h264", "":
		args := []string{"-c:v", "libx264", "-preset", "medium"}
		args = append(args, rateArgs(quality, bitrate, 23)...)
		return append(args, "-c:a", "aac", "-b:a", "128k")
	case "hevc":
		args := []string{"-c:v", "libx265", "-preset", "medium"}
		args = append(args, rateArgs(quality, bitrate, 28)...)
		return append(args, "-c:a", "aac", "-b:a", "128k")
	case "av1":
		args := []string{"-c:v", "libaom-av1", "-cpu-used", "4", "-row-mt", "1"}
		if quality > 0 {
			args = append(args, "-crf", fmt.Sprintf("%d", quality), "-b:v", "0")
		} else if bitrate != "" {
			args = append(args, "-b:v", bitrate)
		} else {
			args = append(args, "-crf", "30", "-b:v", "0")
		}
		return append(args, "-c:a", "libopus", "-b:a", "128k")
	case "copy":
		return []string{"-c", "copy"}
	case "none":
		return []string{"-vn", "-c:a", "libopus", "-b:a", "128k"}
	default:
		return nil
	}
}

func rateArgs(quality int, bitrate string, defaultCRF int) []string {
	if quality > 0 {
		return []string{"-crf", fmt.Sprintf("%d", quality)}
	}
	if bitrate != "" {
		return []string{"-b:v", bitrate}
	}
	return []string{"-crf", fmt.Sprintf("%d", defaultCRF)}
}
