// Package smoothing turns sparse, irregularly timed target values into
// continuously sampled values.
//
// A Channel interpolates from the value it showed when it was last
// retargeted towards the new target over a fixed window. Retargeting always
// starts from the currently sampled value, so a stream that retargets faster
// than the window never produces a visible jump.
package smoothing

import (
	"sync"
	"time"
)

// Interpolator blends a and b at fraction t in [0, 1).
type Interpolator[T any] func(a, b T, t float64) T

// Progress returns how far now is through the window [start, end], clamped to
// [0, 1]. A zero-length window is always complete.
func Progress(start, end, now time.Time) float64 {
	total := end.Sub(start)
	if total <= 0 {
		return 1
	}
	p := float64(now.Sub(start)) / float64(total)
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}

// ChannelState is a point-in-time copy of a channel's fields.
type ChannelState[T any] struct {
	Previous T
	Target   T
	Start    time.Time
	End      time.Time
}

// Channel is the per-target smoothing state. Each channel carries its own
// lock so a debug reader sampling one channel never blocks writers of others.
type Channel[T any] struct {
	mu       sync.Mutex
	previous T
	target   T
	start    time.Time
	end      time.Time
	interp   Interpolator[T]
}

// NewChannel returns a channel resting at initial with a transition that is
// already complete at now.
func NewChannel[T any](initial T, now time.Time, interp Interpolator[T]) *Channel[T] {
	return &Channel[T]{
		previous: initial,
		target:   initial,
		start:    now,
		end:      now,
		interp:   interp,
	}
}

// Sample returns the interpolated value at now. It has no side effects.
func (c *Channel[T]) Sample(now time.Time) T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sampleLocked(now)
}

func (c *Channel[T]) sampleLocked(now time.Time) T {
	p := Progress(c.start, c.end, now)
	if p >= 1 {
		return c.target
	}
	return c.interp(c.previous, c.target, p)
}

// Retarget starts a new transition to value lasting duration, beginning from
// whatever the channel shows at now. Negative durations are treated as zero.
func (c *Channel[T]) Retarget(value T, now time.Time, duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.previous = c.sampleLocked(now)
	c.target = value
	c.start = now
	c.end = now.Add(duration)
}

// State returns a copy of the channel fields.
func (c *Channel[T]) State() ChannelState[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ChannelState[T]{
		Previous: c.previous,
		Target:   c.target,
		Start:    c.start,
		End:      c.end,
	}
}

// NewPoseChannel returns a channel of poses resting at the identity pose.
func NewPoseChannel(now time.Time) *Channel[Pose] {
	return NewChannel(IdentityPose(), now, LerpPose)
}

// NewScalarChannel returns a channel of scalars resting at zero.
func NewScalarChannel(now time.Time) *Channel[float64] {
	return NewChannel(0.0, now, LerpFloat)
}
