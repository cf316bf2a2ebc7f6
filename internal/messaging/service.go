// Package messaging stores direct messages between two users and keeps open
// conversation views current.
package messaging

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mentorship/internal/apperr"
	"mentorship/internal/auth"
	"mentorship/internal/backend"
	"mentorship/internal/metrics"
)

const maxImageBytes = 5 << 20

// Message is one persisted message.
type Message struct {
	ID         string     `json:"id"`
	SenderID   string     `json:"sender_id"`
	ReceiverID string     `json:"receiver_id"`
	Content    string     `json:"content"`
	Image      string     `json:"image,omitempty"`
	ClientID   string     `json:"client_id,omitempty"`
	Time       time.Time  `json:"time"`
	ReadAt     *time.Time `json:"read_at,omitempty"`
}

// Outgoing is a message about to be sent. Image may be a data URI, which is
// uploaded to object storage, or an already stored path.
type Outgoing struct {
	Content  string `json:"content" binding:"max=4000"`
	Image    string `json:"image"`
	ClientID string `json:"client_id" binding:"max=64"`
}

// Service reads and writes messages for the authenticated user.
type Service struct {
	store   backend.Store
	objects backend.ObjectStore
	log     *zap.Logger
}

// NewService creates a messaging service.
func NewService(store backend.Store, objects backend.ObjectStore, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, objects: objects, log: log}
}

func pair(a, b string) backend.Filter {
	return backend.Or(
		backend.And(backend.Eq("sender_id", a), backend.Eq("receiver_id", b)),
		backend.And(backend.Eq("sender_id", b), backend.Eq("receiver_id", a)),
	)
}

// LoadHistory returns every message between the caller and peerID, oldest
// first. A conversation without messages yields an empty slice.
func (s *Service) LoadHistory(ctx context.Context, peerID string) ([]Message, error) {
	me, err := auth.Require(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.store.Query(ctx, backend.TableMessages, backend.Query{
		Filters: []backend.Filter{pair(me.UserID, peerID)},
		Order:   []backend.Order{backend.Asc("time"), backend.Asc("created_at")},
	})
	if err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(rows))
	for _, row := range rows {
		out = append(out, s.fromRecord(row))
	}
	return out, nil
}

// Send persists a message from the caller to peerID and returns the stored
// record.
func (s *Service) Send(ctx context.Context, peerID string, msg Outgoing) (Message, error) {
	me, err := auth.Require(ctx)
	if err != nil {
		return Message{}, err
	}
	content := strings.TrimSpace(msg.Content)
	if content == "" && msg.Image == "" {
		return Message{}, apperr.Invalid("message needs content or an image")
	}
	if peerID == "" || peerID == me.UserID {
		return Message{}, apperr.Invalid("receiver must be another user")
	}
	if _, err := s.store.Get(ctx, backend.TableProfiles, backend.Query{
		Columns: []string{"id"},
		Filters: []backend.Filter{backend.Eq("id", peerID)},
	}); err != nil {
		return Message{}, err
	}

	image := msg.Image
	if strings.HasPrefix(image, "data:") {
		image, err = s.uploadImage(ctx, me.UserID, image)
		if err != nil {
			metrics.MessagesSent.WithLabelValues("failed").Inc()
			return Message{}, err
		}
	}

	rec := backend.Record{
		"sender_id":   me.UserID,
		"receiver_id": peerID,
		"content":     content,
	}
	if image != "" {
		rec["image"] = image
	}
	if msg.ClientID != "" {
		rec["client_id"] = msg.ClientID
	}
	row, err := s.store.Insert(ctx, backend.TableMessages, rec)
	if errors.Is(err, apperr.ErrDuplicateRequest) && msg.ClientID != "" {
		// a retry of a send that already committed
		row, err = s.store.Get(ctx, backend.TableMessages, backend.Query{
			Filters: []backend.Filter{backend.Eq("sender_id", me.UserID), backend.Eq("client_id", msg.ClientID)},
		})
		if err == nil {
			s.log.Debug("duplicate client id, returning stored message", zap.String("client_id", msg.ClientID))
			return s.fromRecord(row), nil
		}
	}
	if err != nil {
		metrics.MessagesSent.WithLabelValues("failed").Inc()
		return Message{}, err
	}
	metrics.MessagesSent.WithLabelValues("confirmed").Inc()
	return s.fromRecord(row), nil
}

func (s *Service) uploadImage(ctx context.Context, senderID, dataURI string) (string, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(dataURI, "data:"), ",")
	if !ok || !strings.HasSuffix(header, ";base64") {
		return "", apperr.Invalid("image must be a base64 data URI")
	}
	mediaType := strings.TrimSuffix(header, ";base64")
	if !strings.HasPrefix(mediaType, "image/") {
		return "", apperr.Invalid("unsupported image type %q", mediaType)
	}
	if base64.StdEncoding.DecodedLen(len(payload)) > maxImageBytes {
		return "", apperr.Invalid("image larger than %d bytes", maxImageBytes)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", apperr.Invalid("image is not valid base64")
	}
	ext := ".img"
	if exts, _ := mime.ExtensionsByType(mediaType); len(exts) > 0 {
		ext = exts[0]
	}
	stored, err := s.objects.UploadObject(ctx, backend.BucketMessageImages, senderID+"/"+uuid.NewString()+ext, data)
	if err != nil {
		return "", apperr.Backend(fmt.Errorf("upload message image: %w", err))
	}
	return stored, nil
}

// MarkRead stamps read_at on every unread message peerID sent the caller.
func (s *Service) MarkRead(ctx context.Context, peerID string) (int64, error) {
	me, err := auth.Require(ctx)
	if err != nil {
		return 0, err
	}
	return s.store.Update(ctx, backend.TableMessages, []backend.Filter{
		backend.Eq("sender_id", peerID),
		backend.Eq("receiver_id", me.UserID),
		backend.IsNil("read_at"),
	}, backend.Record{"read_at": time.Now().UTC()})
}

// UnreadCounts returns the number of unread messages per sender.
func (s *Service) UnreadCounts(ctx context.Context) (map[string]int, error) {
	me, err := auth.Require(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.store.Query(ctx, backend.TableMessages, backend.Query{
		Columns: []string{"sender_id"},
		Filters: []backend.Filter{backend.Eq("receiver_id", me.UserID), backend.IsNil("read_at")},
	})
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, row := range rows {
		counts[row.String("sender_id")]++
	}
	return counts, nil
}

// Subscribe delivers messages inserted between the caller and peerID. Nothing
// sent before the call is replayed.
func (s *Service) Subscribe(ctx context.Context, peerID string) (*backend.Subscription, error) {
	me, err := auth.Require(ctx)
	if err != nil {
		return nil, err
	}
	return s.store.Subscribe(ctx, backend.TableMessages, backend.SubscribeOptions{
		Kinds:   []backend.EventKind{backend.EventInsert},
		Filters: []backend.Filter{pair(me.UserID, peerID)},
	})
}

func (s *Service) fromRecord(row backend.Record) Message {
	image := row.String("image")
	if image != "" && !strings.HasPrefix(image, "http") && !strings.HasPrefix(image, "data:") {
		image = s.objects.PublicURL(backend.BucketMessageImages, image)
	}
	return Message{
		ID:         row.String("id"),
		SenderID:   row.String("sender_id"),
		ReceiverID: row.String("receiver_id"),
		Content:    row.String("content"),
		Image:      image,
		ClientID:   row.String("client_id"),
		Time:       row.Time("time"),
		ReadAt:     row.TimePtr("read_at"),
	}
}
