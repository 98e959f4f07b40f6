package refresh

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/avagner/sessionguard/internal/logging"
	"github.com/avagner/sessionguard/internal/timex"
)

func TestManager_MonitorLogsSecurityEvents(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(&buf, nil)))

	cfg := testConfig()
	cfg.MonitorInterval = time.Minute

	clock := timex.NewFakeClock(refreshNow)
	auth := &fakeAuthority{clock: clock, refreshErr: errors.New("down")}
	m := NewManager(cfg, auth, nil, nil, Sinks{}, logger, nil, clock)
	require.NoError(t, m.Start(context.Background()))
	defer func() { _ = m.Stop(context.Background()) }()

	// Two failures, zero successes.
	_ = m.TriggerRefresh(context.Background())
	_ = m.TriggerRefresh(context.Background())

	clock.Advance(time.Minute)
	require.Contains(t, buf.String(), "refresh failures exceed successes")

	// No success for longer than 6x the refresh interval.
	buf.Reset()
	clock.Advance(31 * time.Minute)
	require.Contains(t, buf.String(), "no successful refresh")
}
