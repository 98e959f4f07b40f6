// Package syncbus provides the cross-instance sync channel: a broadcast
// topic per concern keeping multiple concurrently-running copies of the same
// logical session consistent. Delivery is best-effort fan-out; consumers must
// be idempotent under duplicate or out-of-order messages.
package syncbus

import "context"

// Topic names, one per coordinated concern.
const (
	TopicTokenRefresh   = "token-refresh-sync"
	TopicSessionTimeout = "session-timeout-sync"
)

// Message is a transient broadcast-and-forget sync message. Origin is the
// publishing instance ID so instances can skip their own broadcasts.
type Message struct {
	Type   string         `json:"type"`
	Origin string         `json:"origin"`
	Data   map[string]any `json:"data,omitempty"`
}

// Bus is a publish/subscribe message bus. Any transport with best-effort
// fan-out to all live instances satisfies the contract: the in-process
// implementation here, OS-level IPC, or a broker.
type Bus interface {
	// Publish broadcasts msg to every subscriber of topic. It never blocks
	// on slow subscribers.
	Publish(topic string, msg Message)

	// Subscribe registers a subscriber and returns a channel that receives
	// messages published to topic. The channel is closed when the provided
	// context ends.
	Subscribe(ctx context.Context, topic string) <-chan Message
}
