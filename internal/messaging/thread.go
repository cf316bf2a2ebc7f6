package messaging

import (
	"context"
	"crypto/rand"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"mentorship/internal/apperr"
	"mentorship/internal/auth"
	"mentorship/internal/backend"
)

// State is the delivery state of an entry in an open conversation.
type State string

const (
	StatePending   State = "pending"
	StateConfirmed State = "confirmed"
	StateFailed    State = "failed"
)

// Entry is one line of a conversation view. CorrelationID is set for messages
// sent from this view and links the optimistic entry to its stored record.
type Entry struct {
	Message
	CorrelationID string `json:"correlation_id,omitempty"`
	State         State  `json:"state"`
	Error         string `json:"error,omitempty"`
}

// Update is a change to the view pushed to its consumer.
type Update struct {
	Entry Entry `json:"entry"`
	// Received is true for messages that arrived over the realtime channel.
	Received bool `json:"received"`
}

// Thread is the live view of one conversation. It merges the loaded history,
// realtime inserts and optimistic local sends, keeping at most one entry per
// stored message and ordering entries by timestamp.
type Thread struct {
	svc    *Service
	ctx    context.Context
	me     auth.Identity
	peerID string
	log    *zap.Logger

	mu      sync.Mutex
	entries []Entry
	known   map[string]bool // server ids present in entries

	sub     *backend.Subscription
	updates chan Update
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

// OpenThread subscribes to the conversation with peerID, then loads its
// history. Messages racing the load are deduplicated by id.
func (s *Service) OpenThread(ctx context.Context, peerID string) (*Thread, error) {
	me, err := auth.Require(ctx)
	if err != nil {
		return nil, err
	}
	sub, err := s.Subscribe(ctx, peerID)
	if err != nil {
		return nil, err
	}
	history, err := s.LoadHistory(ctx, peerID)
	if err != nil {
		_ = sub.Close()
		return nil, err
	}

	t := &Thread{
		svc:     s,
		ctx:     ctx,
		me:      me,
		peerID:  peerID,
		log:     s.log.With(zap.String("user_id", me.UserID), zap.String("peer_id", peerID)),
		known:   make(map[string]bool, len(history)),
		sub:     sub,
		updates: make(chan Update, 128),
		done:    make(chan struct{}),
	}
	for _, m := range history {
		t.entries = append(t.entries, Entry{Message: m, State: StateConfirmed})
		t.known[m.ID] = true
	}
	t.wg.Add(1)
	go t.listen()
	return t, nil
}

// Updates streams view changes. The channel is never closed; select on Done
// to stop reading.
func (t *Thread) Updates() <-chan Update {
	return t.updates
}

// Done is closed when the thread is closed.
func (t *Thread) Done() <-chan struct{} {
	return t.done
}

// Entries returns a snapshot of the view in display order.
func (t *Thread) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

func (t *Thread) listen() {
	defer t.wg.Done()
	for {
		select {
		case <-t.done:
			return
		case evt, ok := <-t.sub.Events():
			if !ok {
				return
			}
			msg := t.svc.fromRecord(evt.New)
			// filter on receipt: the channel may carry more than this pair
			if !t.belongs(msg) {
				continue
			}
			if entry, added := t.receive(msg); added {
				t.emit(Update{Entry: entry, Received: true})
			}
		}
	}
}

func (t *Thread) belongs(m Message) bool {
	return (m.SenderID == t.me.UserID && m.ReceiverID == t.peerID) ||
		(m.SenderID == t.peerID && m.ReceiverID == t.me.UserID)
}

// receive merges a stored message. An echo of our own pending send replaces
// that entry; a message already present is ignored.
func (t *Thread) receive(m Message) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.known[m.ID] {
		return Entry{}, false
	}
	t.known[m.ID] = true
	if m.ClientID != "" {
		if i := t.indexOf(m.ClientID); i >= 0 {
			t.entries[i] = Entry{Message: m, CorrelationID: m.ClientID, State: StateConfirmed}
			t.sortLocked()
			return t.entries[t.indexOf(m.ClientID)], true
		}
	}
	entry := Entry{Message: m, State: StateConfirmed}
	t.entries = append(t.entries, entry)
	t.sortLocked()
	return entry, true
}

func (t *Thread) indexOf(correlationID string) int {
	for i, e := range t.entries {
		if e.CorrelationID == correlationID {
			return i
		}
	}
	return -1
}

func (t *Thread) sortLocked() {
	sort.SliceStable(t.entries, func(i, j int) bool {
		return t.entries[i].Time.Before(t.entries[j].Time)
	})
}

func (t *Thread) emit(u Update) {
	select {
	case t.updates <- u:
	case <-t.done:
	}
}

// Send appends an optimistic pending entry, persists the message and then
// replaces the entry with the stored record or marks it failed. The returned
// entry is the final state; a failed entry can be passed to Retry.
func (t *Thread) Send(content, image string) (Entry, error) {
	corr := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
	pending := Entry{
		Message: Message{
			SenderID:   t.me.UserID,
			ReceiverID: t.peerID,
			Content:    content,
			Image:      image,
			ClientID:   corr,
			Time:       time.Now().UTC(),
		},
		CorrelationID: corr,
		State:         StatePending,
	}
	t.mu.Lock()
	t.entries = append(t.entries, pending)
	t.sortLocked()
	t.mu.Unlock()
	t.emit(Update{Entry: pending})

	return t.deliver(corr, Outgoing{Content: content, Image: image, ClientID: corr})
}

// Retry resends a failed entry under its original correlation id.
func (t *Thread) Retry(correlationID string) (Entry, error) {
	t.mu.Lock()
	i := t.indexOf(correlationID)
	if i < 0 {
		t.mu.Unlock()
		return Entry{}, fmt.Errorf("%w: no message %s in this conversation", apperr.ErrNotFound, correlationID)
	}
	if t.entries[i].State != StateFailed {
		state := t.entries[i].State
		t.mu.Unlock()
		return Entry{}, apperr.Invalid("message %s is %s, not failed", correlationID, state)
	}
	t.entries[i].State = StatePending
	t.entries[i].Error = ""
	entry := t.entries[i]
	t.mu.Unlock()
	t.emit(Update{Entry: entry})

	return t.deliver(correlationID, Outgoing{Content: entry.Content, Image: entry.Image, ClientID: correlationID})
}

func (t *Thread) deliver(corr string, out Outgoing) (Entry, error) {
	stored, err := t.svc.Send(t.ctx, t.peerID, out)

	t.mu.Lock()
	i := t.indexOf(corr)
	if i < 0 {
		// entry is gone; nothing to reconcile
		t.mu.Unlock()
		return Entry{}, err
	}
	if err != nil && t.entries[i].State == StateConfirmed {
		// the insert committed and its echo arrived before the error did
		entry := t.entries[i]
		t.mu.Unlock()
		t.log.Info("message confirmed despite send error", zap.String("correlation_id", corr), zap.Error(err))
		return entry, nil
	}
	if err != nil {
		t.entries[i].State = StateFailed
		t.entries[i].Error = apperr.Message(err)
		entry := t.entries[i]
		t.mu.Unlock()
		t.log.Warn("message send failed", zap.String("correlation_id", corr), zap.Error(err))
		t.emit(Update{Entry: entry})
		return entry, err
	}

	if t.entries[i].State == StateConfirmed {
		// the realtime echo already replaced the pending entry
		entry := t.entries[i]
		t.mu.Unlock()
		return entry, nil
	}
	t.known[stored.ID] = true
	t.entries[i] = Entry{Message: stored, CorrelationID: corr, State: StateConfirmed}
	t.sortLocked()
	entry := t.entries[t.indexOf(corr)]
	t.mu.Unlock()
	t.emit(Update{Entry: entry})
	return entry, nil
}

// Close releases the subscription and stops updates. Safe to call more than once.
func (t *Thread) Close() error {
	var err error
	t.once.Do(func() {
		close(t.done)
		err = t.sub.Close()
		t.wg.Wait()
	})
	return err
}
