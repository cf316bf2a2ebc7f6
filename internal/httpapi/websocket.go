package httpapi

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"mentorship/internal/apperr"
	"mentorship/internal/auth"
	"mentorship/internal/connection"
	"mentorship/internal/messaging"
)

var (
	writeWait            = 10 * time.Second
	pongWait             = 60 * time.Second
	pingPeriod           = (pongWait * 9) / 10
	maxFrameSize   int64 = 8 << 20 // images travel as data URIs
	presenceWindow       = 5 * time.Second
)

// Frame types pushed to clients.
const (
	FrameSnapshot   = "snapshot"
	FrameReceived   = "received"
	FrameError      = "error"
	FramePending    = "pending_count"
	FrameConnection = "connection"
)

type frame struct {
	Type          string                 `json:"type"`
	Entry         *messaging.Entry       `json:"entry,omitempty"`
	Entries       []messaging.Entry      `json:"entries,omitempty"`
	Connection    *connection.Connection `json:"connection,omitempty"`
	Count         *int                   `json:"count,omitempty"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Error         string                 `json:"error,omitempty"`
}

type command struct {
	Type          string `json:"type"`
	Content       string `json:"content"`
	Image         string `json:"image"`
	CorrelationID string `json:"correlation_id"`
}

// socket serializes writes to one websocket connection through a single
// writer goroutine.
type socket struct {
	conn   *websocket.Conn
	frames chan frame
	stop   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

func newSocket(conn *websocket.Conn) *socket {
	s := &socket{conn: conn, frames: make(chan frame, 32), stop: make(chan struct{})}
	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	s.wg.Add(1)
	go s.writePump()
	return s
}

func (s *socket) writePump() {
	defer s.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.once.Do(func() { close(s.stop) })
		_ = s.conn.Close()
	}()
	for {
		select {
		case f := <-s.frames:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(f); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.stop:
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// send queues f unless the socket is closing.
func (s *socket) send(f frame) {
	select {
	case s.frames <- f:
	case <-s.stop:
	}
}

func (s *socket) close() {
	s.once.Do(func() { close(s.stop) })
	s.wg.Wait()
}

func (h *Handler) upgrade(c *gin.Context) (*socket, auth.Identity, bool) {
	id, err := auth.Require(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return nil, id, false
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader has already replied
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return nil, id, false
	}
	return newSocket(conn), id, true
}

// messagesSocket serves the live view of one conversation. The first frame is
// a snapshot of the thread; then every change to an entry is pushed with the
// entry's state as frame type, or "received" for incoming messages. Clients
// send {"type":"send","content":..,"image":..} and
// {"type":"retry","correlation_id":..}.
func (h *Handler) messagesSocket(c *gin.Context) {
	sock, me, ok := h.upgrade(c)
	if !ok {
		return
	}
	defer sock.close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	peerID := c.Param("peerId")
	log := h.log.With(zap.String("user_id", me.UserID), zap.String("peer_id", peerID))

	thread, err := h.messages.OpenThread(ctx, peerID)
	if err != nil {
		sock.send(frame{Type: FrameError, Error: apperr.Message(err)})
		return
	}
	defer thread.Close()

	sock.send(frame{Type: FrameSnapshot, Entries: thread.Entries()})
	go func() {
		for {
			select {
			case u := <-thread.Updates():
				entry := u.Entry
				typ := string(entry.State)
				if u.Received {
					typ = FrameReceived
				}
				sock.send(frame{Type: typ, Entry: &entry})
			case <-thread.Done():
				return
			}
		}
	}()

	for {
		var cmd command
		if err := sock.conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("conversation socket closed", zap.Error(err))
			}
			return
		}
		switch cmd.Type {
		case "send":
			// failures surface as a failed entry
			_, _ = thread.Send(cmd.Content, cmd.Image)
		case "retry":
			entry, err := thread.Retry(cmd.CorrelationID)
			if err != nil && entry.CorrelationID == "" {
				sock.send(frame{Type: FrameError, CorrelationID: cmd.CorrelationID, Error: apperr.Message(err)})
			}
		default:
			sock.send(frame{Type: FrameError, Error: "unknown command " + cmd.Type})
		}
	}
}

// notificationsSocket pushes connection changes concerning the caller and,
// for mentors, the pending request count. While it is open the caller is
// shown online.
func (h *Handler) notificationsSocket(c *gin.Context) {
	sock, me, ok := h.upgrade(c)
	if !ok {
		return
	}
	defer sock.close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	log := h.log.With(zap.String("user_id", me.UserID))

	sub, err := h.connections.Watch(ctx, me.UserID, me.Role)
	if err != nil {
		sock.send(frame{Type: FrameError, Error: apperr.Message(err)})
		return
	}
	defer sub.Close()

	h.join(me.UserID)
	defer h.leave(me.UserID)

	pushCount := func() {
		if me.Role != auth.RoleMentor {
			return
		}
		n, err := h.connections.PendingCount(ctx, me.UserID)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Warn("pending count failed", zap.Error(err))
			}
			return
		}
		sock.send(frame{Type: FramePending, Count: &n})
	}
	pushCount()

	go func() {
		for evt := range sub.Events() {
			conn := connection.FromRecord(evt.New)
			sock.send(frame{Type: FrameConnection, Connection: &conn})
			pushCount()
		}
	}()

	for {
		if _, _, err := sock.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// presence counts open notification sockets per user in this process.
type presence struct {
	mu   sync.Mutex
	open map[string]int
}

// join marks the user online when their first socket opens. Writes happen
// under the lock so a close and a reopen cannot land out of order.
func (h *Handler) join(userID string) {
	h.presence.mu.Lock()
	defer h.presence.mu.Unlock()
	h.presence.open[userID]++
	if h.presence.open[userID] == 1 {
		h.setOnline(userID, true)
	}
}

// leave marks the user offline once their last socket closes.
func (h *Handler) leave(userID string) {
	h.presence.mu.Lock()
	defer h.presence.mu.Unlock()
	if h.presence.open[userID] > 1 {
		h.presence.open[userID]--
		return
	}
	delete(h.presence.open, userID)
	h.setOnline(userID, false)
}

func (h *Handler) setOnline(userID string, online bool) {
	ctx, cancel := context.WithTimeout(context.Background(), presenceWindow)
	defer cancel()
	if err := h.profiles.SetOnline(ctx, userID, online); err != nil {
		h.log.Warn("presence update failed", zap.String("user_id", userID), zap.Bool("online", online), zap.Error(err))
	}
}
