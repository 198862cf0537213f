package encoder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Prober inspects media files with ffprobe.
type Prober struct {
	binary string
}

func NewProber(binary string) *Prober {
	return &Prober{binary: binary}
}

// MediaInfo is the subset of ffprobe's JSON output the service consumes.
type MediaInfo struct {
	Format  MediaFormat   `json:"format"`
	Streams []MediaStream `json:"streams"`
}

type MediaFormat struct {
	Filename   string `json:"filename"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
}

type MediaStream struct {
	Index      int    `json:"index"`
	CodecName  string `json:"codec_name"`
	CodecType  string `json:"codec_type"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	SampleRate string `json:"sample_rate,omitempty"`
}

// InputDuration parses the container duration; zero when ffprobe did not
// report one.
func (m MediaInfo) InputDuration() time.Duration {
	seconds, err := strconv.ParseFloat(m.Format.Duration, 64)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

// HasStream reports whether any stream of the given codec type is present.
func (m MediaInfo) HasStream(codecType string) bool {
	for _, s := range m.Streams {
		if s.CodecType == codecType {
			return true
		}
	}
	return false
}

// Probe runs ffprobe against path and decodes its JSON report.
func (p *Prober) Probe(ctx context.Context, path string) (MediaInfo, error) {
	cmd := commandContext(ctx, p.binary,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := bytes.TrimSpace(stderr.Bytes()); len(msg) > 0 {
			return MediaInfo{}, fmt.Errorf("probe %s: %w: %s", path, err, msg)
		}
		return MediaInfo{}, fmt.Errorf("probe %s: %w", path, err)
	}

	var info MediaInfo
	if err := json.Unmarshal(stdout.Bytes(), &info); err != nil {
		return MediaInfo{}, fmt.Errorf("decode probe report for %s: %w", path, err)
	}
	return info, nil
}

// Health verifies the configured binary is present and executable.
func (p *Prober) Health(ctx context.Context) error {
	cmd := commandContext(ctx, p.binary, "-version")
	return cmd.Run()
}
