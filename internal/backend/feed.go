package backend

import (
	"context"
	"encoding/json"
	"time"

	"mentorship/internal/realtime"
)

// PublishChange pushes a row change onto the table's realtime topic.
func PublishChange(ctx context.Context, broker realtime.Broker, table string, kind EventKind, row Record) error {
	if broker == nil {
		return nil
	}
	payload, err := json.Marshal(ChangeEvent{Table: table, Kind: kind, New: row, At: time.Now().UTC()})
	if err != nil {
		return err
	}
	return broker.Publish(ctx, realtime.Topic(table), payload)
}

// SubscribeFeed opens a Subscription on the table's realtime topic. Payloads
// that fail to decode are skipped.
func SubscribeFeed(ctx context.Context, broker realtime.Broker, table string, opts SubscribeOptions) (*Subscription, error) {
	raw, release, err := broker.Subscribe(ctx, realtime.Topic(table))
	if err != nil {
		return nil, err
	}
	decoded := make(chan ChangeEvent)
	stop := make(chan struct{})
	go func() {
		defer close(decoded)
		for {
			select {
			case <-stop:
				return
			case payload, ok := <-raw:
				if !ok {
					return
				}
				var evt ChangeEvent
				if err := json.Unmarshal(payload, &evt); err != nil {
					continue
				}
				select {
				case decoded <- evt:
				case <-stop:
					return
				}
			}
		}
	}()
	return NewSubscription(table, decoded, opts, func() {
		close(stop)
		release()
	}), nil
}
