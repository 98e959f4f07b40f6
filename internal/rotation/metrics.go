package rotation

import "time"

// Metrics is a snapshot of rotation counters. It is mutated only by the
// Manager and can be reset on demand.
type Metrics struct {
	TotalRotations        int64
	SuccessfulRotations   int64
	FailedRotations       int64
	RefreshTokenRotations int64
	ValidationFailures    int64
	FallbackActivations   int64

	// AverageDuration is the running average over successful rotations.
	AverageDuration time.Duration
}

func (m *Metrics) recordSuccess(d time.Duration) {
	m.TotalRotations++
	m.SuccessfulRotations++
	n := m.SuccessfulRotations
	m.AverageDuration = time.Duration((int64(m.AverageDuration)*(n-1) + int64(d)) / n)
}

func (m *Metrics) recordFailure() {
	m.TotalRotations++
	m.FailedRotations++
}
