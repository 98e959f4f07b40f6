package session

import (
	"time"

	"github.com/avagner/sessionguard/internal/syncbus"
)

// Sync message type broadcast on syncbus.TopicSessionTimeout. Every
// transition, extension, and activity update ships the full state so that
// adoption is idempotent regardless of delivery order.
const msgSessionState = "session-state"

func (m *Manager) broadcastState() {
	if m.bus == nil {
		return
	}

	m.mu.Lock()
	data := map[string]any{
		"status":             string(m.state.Status),
		"session_start":      m.state.SessionStart.Format(time.RFC3339Nano),
		"last_activity":      m.state.LastActivity.Format(time.RFC3339Nano),
		"extension_total_ns": int64(m.extensionTotal),
		"warnings_shown":     int64(m.state.WarningsShown),
		"extensions_granted": int64(m.state.ExtensionsGranted),
	}
	m.mu.Unlock()

	m.bus.Publish(syncbus.TopicSessionTimeout, syncbus.Message{
		Type:   msgSessionState,
		Origin: m.instanceID,
		Data:   data,
	})
}

// handleMessage adopts a peer's advertised state verbatim, so a session
// extended in one instance is honored everywhere without timers drifting
// apart. Applying the same message twice yields the same state.
func (m *Manager) handleMessage(msg syncbus.Message) {
	if msg.Origin == m.instanceID || msg.Type != msgSessionState {
		return
	}

	status, ok := msg.Data["status"].(string)
	if !ok {
		return
	}

	m.mu.Lock()
	prev := m.state.Status
	m.state.Status = Status(status)
	if ts, ok := parseTime(msg.Data["session_start"]); ok {
		m.state.SessionStart = ts
	}
	if ts, ok := parseTime(msg.Data["last_activity"]); ok {
		m.state.LastActivity = ts
	}
	m.extensionTotal = time.Duration(asInt64(msg.Data["extension_total_ns"]))
	m.state.WarningsShown = int(asInt64(msg.Data["warnings_shown"]))
	m.state.ExtensionsGranted = int(asInt64(msg.Data["extensions_granted"]))

	now := m.clock.Now()
	if m.state.Status == StatusExpired {
		if m.timer != nil {
			m.timer.Stop()
		}
	} else if m.running {
		m.scheduleLocked(now)
	}
	changed := prev != m.state.Status
	m.mu.Unlock()

	if changed {
		m.fireStateChange()
	}
}

func parseTime(v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// asInt64 tolerates the numeric widening a JSON transport applies.
func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
