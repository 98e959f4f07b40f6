package timex

import "time"

// Clock abstracts the time source used by timer-driven managers. Production
// code uses Real(); tests use a FakeClock to advance virtual time
// deterministically.
type Clock interface {
	Now() time.Time

	// AfterFunc schedules fn to run after d. The returned Timer can be
	// stopped or rescheduled.
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is the controllable handle returned by Clock.AfterFunc.
type Timer interface {
	// Stop prevents the callback from firing. It reports whether the call
	// stopped a pending timer.
	Stop() bool

	// Reset reschedules the callback to fire after d.
	Reset(d time.Duration) bool
}

type realClock struct{}

// Real returns a Clock backed by the system time.
func Real() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}
