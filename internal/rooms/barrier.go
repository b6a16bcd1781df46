package rooms

import (
	"context"
	"time"

	"github.com/RanFeng/ilog"

	"watchsync/internal/protocol"
)

// handleURLChange arms the readiness barrier: everyone is marked
// not-ready, told where to go, and the room holds playback state until
// the last VIDEO_READY arrives.
func (m *Manager) handleURLChange(sess *Session, p protocol.URLChangePayload) {
	ctx := context.Background()

	m.mu.Lock()
	defer m.mu.Unlock()

	room := m.roomOfLocked(sess)
	if room == nil {
		return
	}

	// Suppress the navigator's own stray video events while its page
	// transitions. The generation counter keeps a stale auto-clear
	// timer from undoing a newer URL_CHANGE's window.
	sess.IsNavigating = true
	sess.navGen++
	gen := sess.navGen
	time.AfterFunc(m.navigatingFor, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if sess.navGen == gen {
			sess.IsNavigating = false
		}
	})

	sess.CurrentURL = p.URL
	room.currentURL = p.URL

	for c := range room.clients {
		c.IsReady = false
	}
	room.pendingSync = true
	room.pendingSyncTime = p.CurrentTime
	room.pendingSyncUser = sess.Username

	room.broadcast(sess, protocol.TypeURLChange, protocol.URLChangeBroadcast{
		URL:      p.URL,
		Username: sess.Username,
		SyncTime: p.CurrentTime,
	})

	ilog.EventInfo(ctx, "navigation_barrier_armed",
		"roomCode", room.Code, "username", sess.Username,
		"url", p.URL, "syncTime", p.CurrentTime)
}

// handleVideoReady records one client's readiness and re-evaluates the
// barrier.
func (m *Manager) handleVideoReady(sess *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room := m.roomOfLocked(sess)
	if room == nil {
		return
	}
	sess.IsReady = true
	sess.CurrentURL = room.currentURL
	m.evaluateBarrierLocked(room)
}

// evaluateBarrierLocked is level-triggered: safe to re-run on every
// VIDEO_READY and on every client removal. Releasing clears the pending
// sync point, so a redundant VIDEO_READY after release broadcasts
// nothing.
func (m *Manager) evaluateBarrierLocked(room *Room) {
	if !room.pendingSync {
		return
	}

	total := len(room.clients)
	if total == 0 {
		// Nobody left to release. Disarm so a stale sync point cannot
		// leak into participants who join before the room is deleted.
		room.pendingSync = false
		room.pendingSyncTime = 0
		room.pendingSyncUser = ""
		return
	}
	ready := 0
	for c := range room.clients {
		if c.IsReady {
			ready++
		}
	}

	if ready == total {
		room.broadcast(nil, protocol.TypeAllReady, protocol.AllReadyPayload{
			CurrentTime:  room.pendingSyncTime,
			Participants: total,
		})
		ilog.EventInfo(context.Background(), "navigation_barrier_released",
			"roomCode", room.Code, "participants", total,
			"syncTime", room.pendingSyncTime, "requestedBy", room.pendingSyncUser)
		room.pendingSync = false
		room.pendingSyncTime = 0
		room.pendingSyncUser = ""
		return
	}

	room.broadcast(nil, protocol.TypeWaitingForOthers, protocol.WaitingForOthersPayload{
		Ready: ready,
		Total: total,
	})
}
