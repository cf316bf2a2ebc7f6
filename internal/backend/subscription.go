package backend

import (
	"sync"

	"mentorship/internal/metrics"
)

// Subscription delivers change events that passed the subscription's filters.
// Events are dropped, not queued, when the consumer falls behind.
type Subscription struct {
	events chan ChangeEvent
	stop   func()
	once   sync.Once
	done   chan struct{}
}

// NewSubscription adapts a raw event source. Events not matching opts are
// discarded before they reach the consumer; stop releases the source.
func NewSubscription(table string, source <-chan ChangeEvent, opts SubscribeOptions, stop func()) *Subscription {
	s := &Subscription{
		events: make(chan ChangeEvent, 64),
		stop:   stop,
		done:   make(chan struct{}),
	}
	kinds := make(map[EventKind]bool, len(opts.Kinds))
	for _, k := range opts.Kinds {
		kinds[k] = true
	}

	go func() {
		defer close(s.events)
		for {
			select {
			case <-s.done:
				return
			case evt, ok := <-source:
				if !ok {
					return
				}
				if evt.Table != table || (len(kinds) > 0 && !kinds[evt.Kind]) || !Match(evt.New, opts.Filters) {
					metrics.RealtimeEvents.WithLabelValues(table, "filtered").Inc()
					continue
				}
				select {
				case s.events <- evt:
					metrics.RealtimeEvents.WithLabelValues(table, "delivered").Inc()
				case <-s.done:
					return
				default:
					metrics.RealtimeEvents.WithLabelValues(table, "dropped").Inc()
				}
			}
		}
	}()
	return s
}

// Events returns the delivery channel. It is closed after Close or when the
// underlying source ends.
func (s *Subscription) Events() <-chan ChangeEvent {
	return s.events
}

// Close releases the subscription. Safe to call more than once.
func (s *Subscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		if s.stop != nil {
			s.stop()
		}
	})
	return nil
}
