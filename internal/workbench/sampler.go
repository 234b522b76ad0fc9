package workbench

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/zjrosen/kiln/internal/clock"
)

// DefaultSampleInterval is the streaming sampler window.
const DefaultSampleInterval = 100 * time.Millisecond

// Sampler is a leading-edge throttle: the first call in each window is
// allowed and the rest are dropped. It is a one-token bucket refilled
// once per interval, read against the session clock.
type Sampler struct {
	clock   clock.Clock
	limiter *rate.Limiter
}

// NewSampler creates a sampler. A non-positive interval uses
// DefaultSampleInterval.
func NewSampler(c clock.Clock, interval time.Duration) *Sampler {
	if c == nil {
		c = clock.Real()
	}
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	return &Sampler{clock: c, limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Allow reports whether a call made now should run.
func (s *Sampler) Allow() bool {
	return s.limiter.AllowN(s.clock.Now(), 1)
}
