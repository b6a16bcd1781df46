package rooms

import (
	"time"

	"watchsync/internal/protocol"
)

// pendingDisconnect tracks a participant who dropped their socket and may
// still come back within the grace window.
type pendingDisconnect struct {
	timer          *time.Timer
	wasHost        bool
	disconnectedAt time.Time
}

// Room groups the sessions watching one video together. Every field is
// guarded by the Manager's mutex; methods assume it is held.
type Room struct {
	Code      string
	Platform  string
	CreatedAt time.Time

	clients            map[*Session]struct{}
	pendingDisconnects map[string]*pendingDisconnect

	// host is a weak reference into clients: it is re-validated through
	// hostSession on every use because the session it points at can be
	// evicted at any time.
	host *Session

	videoState *protocol.VideoState
	currentURL string

	// Navigation barrier state, set while a URL_CHANGE is in flight.
	pendingSync     bool
	pendingSyncTime float64
	pendingSyncUser string

	deleteTimer *time.Timer
}

func newRoom(code, platform string, now time.Time) *Room {
	return &Room{
		Code:               code,
		Platform:           platform,
		CreatedAt:          now,
		clients:            make(map[*Session]struct{}),
		pendingDisconnects: make(map[string]*pendingDisconnect),
	}
}

// effectiveParticipants is the count reported to users: connected clients
// plus those inside their reconnection grace window.
func (r *Room) effectiveParticipants() int {
	return len(r.clients) + len(r.pendingDisconnects)
}

// hostSession resolves the weak host reference, returning nil when the
// host is no longer a connected client.
func (r *Room) hostSession() *Session {
	if r.host == nil {
		return nil
	}
	if _, ok := r.clients[r.host]; !ok {
		return nil
	}
	return r.host
}

// setHost makes s the sole host of the room.
func (r *Room) setHost(s *Session) {
	for c := range r.clients {
		c.IsHost = false
	}
	s.IsHost = true
	r.host = s
}

// ensureHost re-elects an arbitrary remaining client when the host slot
// is vacant. No-op while the room is empty.
func (r *Room) ensureHost() *Session {
	if h := r.hostSession(); h != nil {
		return h
	}
	for c := range r.clients {
		r.setHost(c)
		return c
	}
	r.host = nil
	return nil
}

// findClient returns the connected session using username, if any.
func (r *Room) findClient(username string) *Session {
	for c := range r.clients {
		if c.Username == username {
			return c
		}
	}
	return nil
}

// broadcast sends to every connected client except `except` (nil sends
// to everyone).
func (r *Room) broadcast(except *Session, msgType string, payload interface{}) {
	for c := range r.clients {
		if c == except {
			continue
		}
		c.Send(msgType, payload)
	}
}

// sessionURL is the URL a session is assumed to be on: its own last
// reported URL, falling back to the room's.
func (r *Room) sessionURL(s *Session) string {
	if s.CurrentURL != "" {
		return s.CurrentURL
	}
	return r.currentURL
}

// broadcastVideo relays a video-control message to the sender's peers,
// skipping sessions that are mid-navigation and sessions on a different
// URL than the sender. The URL partition keeps commands aimed at the old
// video out of tabs that already moved to the new one.
func (r *Room) broadcastVideo(sender *Session, msgType string, payload interface{}) {
	senderURL := r.sessionURL(sender)
	for c := range r.clients {
		if c == sender || c.IsNavigating {
			continue
		}
		targetURL := r.sessionURL(c)
		if senderURL != "" && targetURL != "" && senderURL != targetURL {
			continue
		}
		c.Send(msgType, payload)
	}
}

// stopDeleteTimer cancels a pending empty-room deletion, if armed.
func (r *Room) stopDeleteTimer() {
	if r.deleteTimer != nil {
		r.deleteTimer.Stop()
		r.deleteTimer = nil
	}
}
