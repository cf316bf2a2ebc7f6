// Package realtime carries row change notifications between the process that
// wrote a row and every process holding an open view on it.
package realtime

import (
	"context"
	"sync"
)

// Broker is a fire-and-forget topic bus. Delivery is at-most-once and a
// subscriber only sees messages published after it subscribed.
type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe returns a channel of payloads and a function releasing it.
	Subscribe(ctx context.Context, topic string) (<-chan []byte, func(), error)
	Close() error
}

// Topic returns the topic carrying changes of a table.
func Topic(table string) string {
	return "realtime." + table
}

// Memory is an in-process broker for development and tests.
type Memory struct {
	mu     sync.RWMutex
	subs   map[string]map[int]chan []byte
	nextID int
}

// NewMemory creates an empty in-process broker.
func NewMemory() *Memory {
	return &Memory{subs: make(map[string]map[int]chan []byte)}
}

// Publish delivers payload to current subscribers, skipping any whose buffer is full.
func (m *Memory) Publish(ctx context.Context, topic string, payload []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range m.subs[topic] {
		select {
		case ch <- payload:
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}

// Subscribe registers a buffered receiver on topic.
func (m *Memory) Subscribe(ctx context.Context, topic string) (<-chan []byte, func(), error) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	ch := make(chan []byte, 64)
	if m.subs[topic] == nil {
		m.subs[topic] = make(map[int]chan []byte)
	}
	m.subs[topic][id] = ch
	m.mu.Unlock()

	release := releaseOnDone(ctx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		// Close may already have dropped it
		if _, ok := m.subs[topic][id]; ok {
			delete(m.subs[topic], id)
			close(ch)
		}
	})
	return ch, release, nil
}

// releaseOnDone returns an idempotent release running cleanup once, either
// when called or when ctx ends. The watching goroutine exits on whichever
// comes first.
func releaseOnDone(ctx context.Context, cleanup func()) func() {
	released := make(chan struct{})
	var once sync.Once
	release := func() {
		once.Do(func() {
			close(released)
			cleanup()
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			release()
		case <-released:
		}
	}()
	return release
}

// Close drops all subscribers.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for topic, subs := range m.subs {
		for id, ch := range subs {
			close(ch)
			delete(subs, id)
		}
		delete(m.subs, topic)
	}
	return nil
}
