package rooms

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"watchsync/internal/protocol"
)

// Conn is the transport half a session writes to. Both gorilla and
// hertz-contrib websocket connections satisfy it.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Session is the per-connection record. All fields except the send
// channel are guarded by the Manager's mutex.
type Session struct {
	conn Conn

	RoomCode     string
	Username     string
	IsHost       bool
	CurrentURL   string
	IsNavigating bool
	IsReady      bool

	// navGen invalidates a pending navigation auto-clear timer when a
	// newer URL_CHANGE from the same session supersedes it.
	navGen int

	// evicted marks a session force-closed by a same-username join, so
	// the transport's close callback does not run the leave path twice.
	evicted bool

	sendMu sync.Mutex
	closed bool
	send   chan []byte
}

func NewSession(conn Conn) *Session {
	return &Session{
		conn:    conn,
		IsReady: true,
		send:    make(chan []byte, 16),
	}
}

// Send queues an envelope for delivery. Best effort: if the session's
// buffer is full the message is dropped, the next SYNC heals it.
func (s *Session) Send(msgType string, payload interface{}) {
	data, err := json.Marshal(protocol.Envelope{
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.send <- data:
	default:
	}
}

// SendLoop drains the outbound queue onto the socket. Runs in its own
// goroutine per connection; exits on Close or write failure.
func (s *Session) SendLoop() {
	for msg := range s.send {
		if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			_ = s.conn.Close()
			break
		}
	}
	_ = s.conn.Close()
}

// Close shuts the outbound queue and the underlying connection. Safe to
// call more than once.
func (s *Session) Close() {
	s.sendMu.Lock()
	if !s.closed {
		s.closed = true
		close(s.send)
	}
	s.sendMu.Unlock()
	_ = s.conn.Close()
}
