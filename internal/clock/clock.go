package clock

import "time"

// Clock abstracts time so pollers, debouncers and retry loops can be driven
// deterministically in tests. Production code uses Real(); tests use Fake().
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	// AfterFunc calls f after d. The returned Timer has a nil C.
	AfterFunc(d time.Duration, f func()) *Timer
	// NewTicker panics if d <= 0, like time.NewTicker.
	NewTicker(d time.Duration) *Ticker
	Sleep(d time.Duration)
}

// Ticker delivers ticks on C. C has capacity 1; late ticks are dropped.
type Ticker struct {
	C <-chan time.Time

	stopFunc func()
}

// Stop turns off the ticker. C is not closed.
func (t *Ticker) Stop() { t.stopFunc() }

// Timer is a pending AfterFunc call.
type Timer struct {
	C <-chan time.Time

	stopFunc  func() bool
	resetFunc func(time.Duration) bool
}

// Stop reports whether the call was prevented.
func (t *Timer) Stop() bool { return t.stopFunc() }

// Reset reschedules the call and reports whether it was still pending.
func (t *Timer) Reset(d time.Duration) bool { return t.resetFunc(d) }
