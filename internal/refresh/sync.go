package refresh

import (
	"time"

	"github.com/avagner/sessionguard/internal/credential"
	"github.com/avagner/sessionguard/internal/syncbus"
)

// Sync message types broadcast on syncbus.TopicTokenRefresh.
const (
	msgRefreshStarted = "refresh-started"
	msgRefreshSuccess = "refresh-success"
	msgRefreshError   = "refresh-error"
)

// tokenToData flattens a credential for broadcast. Peers adopting the data
// rebuild an equivalent token, so applying the same message twice is a no-op.
func tokenToData(tok *credential.Token) map[string]any {
	return map[string]any{
		"access_secret":  tok.AccessSecret,
		"refresh_secret": tok.RefreshSecret,
		"issued_at":      tok.IssuedAt.Format(time.RFC3339Nano),
		"expires_at":     tok.ExpiresAt.Format(time.RFC3339Nano),
		"kind":           tok.Kind,
		"scope":          tok.Scope,
		"fallback":       tok.Fallback,
	}
}

func tokenFromData(data map[string]any) (*credential.Token, bool) {
	access, ok := data["access_secret"].(string)
	if !ok || access == "" {
		return nil, false
	}

	tok := &credential.Token{AccessSecret: access}
	tok.RefreshSecret, _ = data["refresh_secret"].(string)
	tok.Kind, _ = data["kind"].(string)
	tok.Scope, _ = data["scope"].(string)
	tok.Fallback, _ = data["fallback"].(bool)

	if s, ok := data["issued_at"].(string); ok {
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			tok.IssuedAt = ts
		}
	}
	if s, ok := data["expires_at"].(string); ok {
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			tok.ExpiresAt = ts
		}
	}

	return tok, true
}

func (m *Manager) publish(msgType string, data map[string]any) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(syncbus.TopicTokenRefresh, syncbus.Message{
		Type:   msgType,
		Origin: m.instanceID,
		Data:   data,
	})
}
