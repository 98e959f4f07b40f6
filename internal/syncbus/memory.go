package syncbus

import (
	"context"
	"sync"
)

// Memory is the in-process Bus used when all instances live in one binary
// (e.g. two windows of the same application sharing a daemon).
type Memory struct {
	mu     sync.RWMutex
	topics map[string]map[int]chan Message
	next   int
}

func NewMemory() *Memory {
	return &Memory{topics: make(map[string]map[int]chan Message)}
}

func (m *Memory) Subscribe(ctx context.Context, topic string) <-chan Message {
	ch := make(chan Message, 16)

	m.mu.Lock()
	id := m.next
	m.next++
	subs, ok := m.topics[topic]
	if !ok {
		subs = make(map[int]chan Message)
		m.topics[topic] = subs
	}
	subs[id] = ch
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		if subs, ok := m.topics[topic]; ok {
			if _, live := subs[id]; live {
				delete(subs, id)
				close(ch)
			}
		}
		m.mu.Unlock()
	}()

	return ch
}

func (m *Memory) Publish(topic string, msg Message) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range m.topics[topic] {
		select {
		case ch <- msg:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
