package rotation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/avagner/sessionguard/internal/credential"
)

var strategyNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// tokenWith builds a token with the given age and remaining lifetime
// relative to strategyNow.
func tokenWith(age, remaining time.Duration) *credential.Token {
	return &credential.Token{
		AccessSecret: "s",
		IssuedAt:     strategyNow.Add(-age),
		ExpiresAt:    strategyNow.Add(remaining),
		Kind:         credential.KindBearer,
	}
}

func TestEager_RotatesAtTwiceBuffer(t *testing.T) {
	s := &Eager{Buffer: time.Minute}

	require.False(t, s.ShouldRotate(tokenWith(time.Minute, 2*time.Minute+time.Second), strategyNow))
	require.True(t, s.ShouldRotate(tokenWith(time.Minute, 2*time.Minute), strategyNow))
	require.Equal(t, 200*time.Millisecond, s.CheckInterval(nil, strategyNow))
}

func TestLazy_RotatesAtHalfBuffer(t *testing.T) {
	s := &Lazy{Buffer: time.Minute}

	require.False(t, s.ShouldRotate(tokenWith(time.Minute, 31*time.Second), strategyNow))
	require.True(t, s.ShouldRotate(tokenWith(time.Minute, 30*time.Second), strategyNow))
	require.Equal(t, 2*time.Second, s.CheckInterval(nil, strategyNow))
}

func TestAdaptive_BufferThreshold(t *testing.T) {
	s := &Adaptive{Buffer: 5 * time.Minute, DefaultInterval: time.Minute}

	// Fresh token, plenty of time: no rotation.
	require.False(t, s.ShouldRotate(tokenWith(10*time.Minute, 50*time.Minute), strategyNow))

	// Crossing the buffer flips the decision.
	require.True(t, s.ShouldRotate(tokenWith(55*time.Minute, 5*time.Minute), strategyNow))
}

func TestAdaptive_AgeThreshold(t *testing.T) {
	s := &Adaptive{Buffer: 5 * time.Minute, DefaultInterval: time.Minute}

	// 60m lifetime: 44m old is below 75%, 46m old is above, even though
	// more than a buffer of lifetime remains.
	require.False(t, s.ShouldRotate(tokenWith(44*time.Minute, 16*time.Minute), strategyNow))
	require.True(t, s.ShouldRotate(tokenWith(46*time.Minute, 14*time.Minute), strategyNow))
}

func TestAdaptive_AgeFactorConfigurable(t *testing.T) {
	s := &Adaptive{Buffer: time.Minute, DefaultInterval: time.Minute, AgeFactor: 0.5}

	// 60m lifetime, 31m old: past the configured 50% factor.
	require.True(t, s.ShouldRotate(tokenWith(31*time.Minute, 29*time.Minute), strategyNow))
}

func TestAdaptive_IntervalScalesWithUrgency(t *testing.T) {
	s := &Adaptive{Buffer: 5 * time.Minute, DefaultInterval: time.Minute}

	require.Equal(t, time.Minute, s.CheckInterval(tokenWith(0, time.Hour), strategyNow))
	require.Equal(t, 200*time.Millisecond, s.CheckInterval(tokenWith(0, 9*time.Minute), strategyNow))
}

func TestForName(t *testing.T) {
	require.IsType(t, &Eager{}, ForName(StrategyEager, time.Minute, time.Minute))
	require.IsType(t, &Lazy{}, ForName(StrategyLazy, time.Minute, time.Minute))
	require.IsType(t, &Adaptive{}, ForName(StrategyAdaptive, time.Minute, time.Minute))
	require.IsType(t, &Adaptive{}, ForName("unknown", time.Minute, time.Minute))
}
