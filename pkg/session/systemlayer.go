package session

import "time"

// StopFunc cancels a timer scheduled by SystemLayer.AfterFunc. Calling it
// after the timer has already fired, or more than once, is a no-op.
type StopFunc func()

// SystemLayer abstracts the platform clock and one-shot timer that drive the
// idle/hang sweep and MRP retransmission scheduling, so tests can supply a
// deterministic fake instead of depending on wall-clock time.
type SystemLayer interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc schedules f to run after d elapses and returns a function
	// that cancels the pending call.
	AfterFunc(d time.Duration, f func()) StopFunc
}

// RealSystemLayer is the production SystemLayer, backed directly by
// time.Now and time.AfterFunc.
type RealSystemLayer struct{}

// Now returns time.Now().
func (RealSystemLayer) Now() time.Time { return time.Now() }

// AfterFunc schedules f via time.AfterFunc.
func (RealSystemLayer) AfterFunc(d time.Duration, f func()) StopFunc {
	t := time.AfterFunc(d, f)
	return t.Stop
}
