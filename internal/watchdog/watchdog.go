// Package watchdog tracks how long it has been since the last accepted
// reading so a link that is open but silent can be forced to reconnect.
package watchdog

import (
	"time"

	"github.com/banshee-data/sensorbridge/internal/timeutil"
)

// DefaultTimeout is how long the link may go without an accepted reading.
const DefaultTimeout = 30 * time.Second

// IsStale reports whether timeout has elapsed between last and now.
func IsStale(last, now time.Time, timeout time.Duration) bool {
	return now.Sub(last) >= timeout
}

// Watchdog holds the time of the last accepted reading. It is not safe for
// concurrent use; the supervisor goroutine owns it.
type Watchdog struct {
	clock   timeutil.Clock
	timeout time.Duration
	last    time.Time
}

// New returns a Watchdog armed at the current time. A non-positive timeout
// uses DefaultTimeout.
func New(clock timeutil.Clock, timeout time.Duration) *Watchdog {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Watchdog{clock: clock, timeout: timeout, last: clock.Now()}
}

// Feed records an accepted reading now.
func (w *Watchdog) Feed() {
	w.last = w.clock.Now()
}

// Stale reports whether the timeout has elapsed since the window started.
func (w *Watchdog) Stale() bool {
	return IsStale(w.last, w.clock.Now(), w.timeout)
}

// Rearm restarts the staleness window without recording a reading. After a
// stale link has been reset it gives the fresh link a full timeout to
// deliver, instead of rejecting every frame that follows.
func (w *Watchdog) Rearm() {
	w.last = w.clock.Now()
}

// Since returns the time elapsed since the last Feed or Rearm.
func (w *Watchdog) Since() time.Duration {
	return w.clock.Since(w.last)
}

// Armed returns when the current window started: the last Feed, Rearm or
// construction.
func (w *Watchdog) Armed() time.Time {
	return w.last
}

// Timeout returns the staleness threshold.
func (w *Watchdog) Timeout() time.Duration {
	return w.timeout
}
