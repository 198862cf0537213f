package encoder

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"
)

// ProgressUpdate captures one block of ffmpeg's -progress key=value stream.
type ProgressUpdate struct {
	Frame   int64
	FPS     float64
	OutTime time.Duration
	Speed   string
	// Percent is derived from OutTime against the known input duration;
	// negative when the duration is unknown.
	Percent float64
	Done    bool
}

// scanProgress consumes the progress stream incrementally, invoking the
// callback once per progress block. totalDuration of zero disables percent
// derivation. The reader is drained to EOF so the child never blocks on a
// full pipe.
func scanProgress(r io.Reader, totalDuration time.Duration, callback func(ProgressUpdate)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 64*1024)

	current := ProgressUpdate{Percent: -1}
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch key {
		case "frame":
			if n, err := strconv.ParseInt(value, 10, 64); err == nil {
				current.Frame = n
			}
		case "fps":
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				current.FPS = f
			}
		case "out_time_us", "out_time_ms":
			// ffmpeg emits microseconds under both keys.
			if n, err := strconv.ParseInt(value, 10, 64); err == nil {
				current.OutTime = time.Duration(n) * time.Microsecond
			}
		case "out_time":
			if d, ok := parseClockTime(value); ok {
				current.OutTime = d
			}
		case "speed":
			current.Speed = value
		case "progress":
			// End of one block.
			current.Done = value == "end"
			if totalDuration > 0 {
				percent := current.OutTime.Seconds() / totalDuration.Seconds() * 100
				if percent > 100 {
					percent = 100
				}
				current.Percent = percent
			}
			if current.Done {
				current.Percent = 100
			}
			if callback != nil {
				callback(current)
			}
		}
	}
	return scanner.Err()
}

// parseClockTime parses ffmpeg's HH:MM:SS.micros form.
func parseClockTime(value string) (time.Duration, bool) {
	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return 0, false
	}
	hours, err1 := strconv.Atoi(parts[0])
	minutes, err2 := strconv.Atoi(parts[1])
	seconds, err3 := strconv.ParseFloat(parts[2], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, false
	}
	total := time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds*float64(time.Second))
	return total, true
}

// tailBuffer keeps the last limit bytes written to it. ffmpeg reports the
// actual failure at the end of its diagnostic output, so the tail is the
// part worth keeping.
type tailBuffer struct {
	limit int
	data  []byte
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	if len(b.data) > b.limit {
		b.data = b.data[len(b.data)-b.limit:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	return string(b.data)
}
