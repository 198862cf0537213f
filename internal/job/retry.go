package job

import (
	"math/rand"
	"time"
)

// Backoff computes exponential retry delays with jitter. Jitter keeps
// simultaneously failing requests from re-attempting in lockstep.
type Backoff struct {
	Base    time.Duration
	Ceiling time.Duration
}

// Delay returns the wait before the attempt after the given 1-based one.
func (b Backoff) Delay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	ceiling := b.Ceiling
	if ceiling <= 0 {
		ceiling = 30 * time.Second
	}

	duration := float64(base)
	for i := 1; i < attempt; i++ {
		duration *= 2
		if duration >= float64(ceiling) {
			duration = float64(ceiling)
			break
		}
	}
	duration *= 0.5 + rand.Float64()*0.5
	return time.Duration(duration)
}
