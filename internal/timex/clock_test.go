package timex

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDuration_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  time.Duration
		err   bool
	}{
		{name: "string form", input: `"5m"`, want: 5 * time.Minute},
		{name: "nanoseconds", input: `1000000000`, want: time.Second},
		{name: "bad string", input: `"xx"`, err: true},
		{name: "bad type", input: `true`, err: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var d Duration
			err := json.Unmarshal([]byte(tc.input), &d)
			if tc.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, d.Duration)
		})
	}
}

func TestFakeClock_AdvanceFiresInDeadlineOrder(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewFakeClock(start)

	var order []string
	clock.AfterFunc(2*time.Second, func() { order = append(order, "b") })
	clock.AfterFunc(1*time.Second, func() { order = append(order, "a") })
	clock.AfterFunc(10*time.Second, func() { order = append(order, "never") })

	clock.Advance(5 * time.Second)

	require.Equal(t, []string{"a", "b"}, order)
	require.Equal(t, start.Add(5*time.Second), clock.Now())
}

func TestFakeClock_CallbackMaySchedule(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))

	fired := 0
	clock.AfterFunc(time.Second, func() {
		fired++
		clock.AfterFunc(time.Second, func() { fired++ })
	})

	// Nested timer becomes due within the same window.
	clock.Advance(3 * time.Second)
	require.Equal(t, 2, fired)
}

func TestFakeClock_StopAndReset(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))

	fired := 0
	timer := clock.AfterFunc(time.Second, func() { fired++ })

	require.True(t, timer.Stop())
	clock.Advance(2 * time.Second)
	require.Equal(t, 0, fired)

	timer.Reset(time.Second)
	clock.Advance(time.Second)
	require.Equal(t, 1, fired)
}
