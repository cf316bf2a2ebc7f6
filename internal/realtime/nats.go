package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS publishes change events on core NATS subjects. Core subjects give the
// same at-most-once, no-replay delivery as Redis pub/sub.
type NATS struct {
	nc *nats.Conn
}

// NewNATS connects to the NATS server at url.
func NewNATS(url string) (*NATS, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATS{nc: nc}, nil
}

// Publish sends payload on subject topic.
func (n *NATS) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return n.nc.Publish(topic, payload)
}

// Subscribe registers an async subscription on topic.
func (n *NATS) Subscribe(ctx context.Context, topic string) (<-chan []byte, func(), error) {
	out := make(chan []byte, 64)
	var mu sync.Mutex
	closed := false

	sub, err := n.nc.Subscribe(topic, func(msg *nats.Msg) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case out <- msg.Data:
		default:
		}
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	release := releaseOnDone(ctx, func() {
		_ = sub.Unsubscribe()
		mu.Lock()
		closed = true
		close(out)
		mu.Unlock()
	})
	return out, release, nil
}

// Close drains and closes the connection.
func (n *NATS) Close() error {
	if n.nc != nil {
		return n.nc.Drain()
	}
	return nil
}
