package session

import "time"

// Countdown is the cancellable handle of a running countdown. It is driven by
// the engine tick: each due fire announces the remaining seconds and
// decrements, and the fire after zero starts the run.
type Countdown struct {
	remaining int
	interval  time.Duration
	next      time.Time
	stopped   bool
}

func newCountdown(seconds int, interval time.Duration, now time.Time) *Countdown {
	return &Countdown{remaining: seconds, interval: interval, next: now}
}

// Remaining is the number the next announcement will show.
func (c *Countdown) Remaining() int {
	if c == nil {
		return 0
	}
	return c.remaining
}

// Stop cancels the countdown. It reports whether this call stopped it;
// stopping twice is a no-op.
func (c *Countdown) Stop() bool {
	if c == nil || c.stopped {
		return false
	}
	c.stopped = true
	return true
}

// Stopped reports whether Stop was called.
func (c *Countdown) Stopped() bool {
	return c == nil || c.stopped
}

func (c *Countdown) due(now time.Time) bool {
	return !c.Stopped() && !now.Before(c.next)
}

func (c *Countdown) advance(now time.Time) {
	c.remaining--
	c.next = now.Add(c.interval)
}
