package runtime

import "time"

// Clock abstracts the scheduler's notion of time as an offset since the
// runtime started. Orchestration logic never reads a clock; it only
// requests bounded waits, and the scheduler maps those onto this clock.
type Clock interface {
	// Now returns the current offset.
	Now() time.Duration
	// Sleep consumes a delay between activity retry attempts.
	Sleep(d time.Duration)
}

// VirtualClock is a manually advanced clock for tests, the harness, and
// replay. It never moves on its own: due timers fire only when the
// scheduler is told to advance, so a scripted scenario fully controls the
// order of signals versus timeouts.
type VirtualClock struct {
	now time.Duration
}

// NewVirtualClock creates a virtual clock at offset zero.
func NewVirtualClock() *VirtualClock {
	return &VirtualClock{}
}

// Now returns the current virtual offset.
func (c *VirtualClock) Now() time.Duration {
	return c.now
}

// Sleep advances virtual time by d immediately. Retry backoff costs no
// real time under the virtual clock.
func (c *VirtualClock) Sleep(d time.Duration) {
	if d > 0 {
		c.now += d
	}
}

// Advance moves the clock forward to the given offset. Moving backwards
// is ignored; virtual time is monotonic like any other clock.
func (c *VirtualClock) Advance(to time.Duration) {
	if to > c.now {
		c.now = to
	}
}

// WallClock maps scheduler time onto the real clock. Used by the dev
// server, where gate timeouts and retry backoff take real time.
type WallClock struct {
	start time.Time
}

// NewWallClock creates a wall clock anchored at the current instant.
func NewWallClock() *WallClock {
	return &WallClock{start: time.Now()}
}

// Now returns the elapsed real time since the runtime started.
func (c *WallClock) Now() time.Duration {
	return time.Since(c.start)
}

// Sleep blocks the scheduler for d. Simulated activities retry quickly;
// the single-writer design trades throughput for determinism.
func (c *WallClock) Sleep(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}
