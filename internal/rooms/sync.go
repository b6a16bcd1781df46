package rooms

import (
	"context"
	"time"

	"github.com/RanFeng/ilog"

	"watchsync/internal/protocol"
)

// handleVideoEvent relays PLAY, PAUSE, SEEK and BUFFER. The caller has
// already derived isPlaying per message type: PLAY/PAUSE imply it, SEEK
// carries it, BUFFER inverts isBuffering.
func (m *Manager) handleVideoEvent(sess *Session, msgType string, currentTime float64, isPlaying, isBuffering bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room := m.roomOfLocked(sess)
	if room == nil {
		return
	}
	if sess.IsNavigating {
		ilog.EventInfo(context.Background(), "drop_video_event_while_navigating",
			"roomCode", room.Code, "username", sess.Username, "type", msgType)
		return
	}

	m.updateVideoStateLocked(room, currentTime, isPlaying, 0)

	room.broadcastVideo(sess, msgType, protocol.VideoEventPayload{
		CurrentTime: currentTime,
		IsPlaying:   isPlaying,
		IsBuffering: isBuffering,
		Username:    sess.Username,
	})
}

// handleSync carries a full state object; used for explicit host-driven
// resynchronization but accepted from any participant.
func (m *Manager) handleSync(sess *Session, p protocol.SyncPayload) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room := m.roomOfLocked(sess)
	if room == nil {
		return
	}
	if sess.IsNavigating {
		return
	}

	m.updateVideoStateLocked(room, p.CurrentTime, p.IsPlaying, p.PlaybackRate)
	room.broadcastVideo(sess, protocol.TypeSync, p)
}

// handleSyncRequest forwards the request to the room's current host,
// who is expected to answer with a SYNC.
func (m *Manager) handleSyncRequest(sess *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room := m.roomOfLocked(sess)
	if room == nil {
		return
	}
	host := room.hostSession()
	if host == nil || host == sess {
		return
	}
	host.Send(protocol.TypeSyncRequest, protocol.SyncRequestPayload{RequestedBy: sess.Username})
}

// handleForceSync echoes to every client including the sender and pins
// the room state to playing.
func (m *Manager) handleForceSync(sess *Session, p protocol.ForceSyncPayload) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room := m.roomOfLocked(sess)
	if room == nil {
		return
	}

	m.updateVideoStateLocked(room, p.CurrentTime, true, 0)

	room.broadcast(nil, protocol.TypeForceSync, protocol.ForceSyncBroadcast{
		CurrentTime: p.CurrentTime,
		Username:    sess.Username,
	})
}

func (m *Manager) handleChat(sess *Session, p protocol.ChatPayload) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room := m.roomOfLocked(sess)
	if room == nil {
		return
	}
	room.broadcast(sess, protocol.TypeChat, p)
}

// updateVideoStateLocked refreshes the room's authoritative state. A
// zero rate keeps the last known playback rate (only SYNC carries one).
func (m *Manager) updateVideoStateLocked(room *Room, currentTime float64, isPlaying bool, rate float64) {
	if rate == 0 {
		rate = 1
		if room.videoState != nil && room.videoState.PlaybackRate != 0 {
			rate = room.videoState.PlaybackRate
		}
	}
	room.videoState = &protocol.VideoState{
		CurrentTime:  currentTime,
		IsPlaying:    isPlaying,
		PlaybackRate: rate,
		LastUpdated:  time.Now().UTC(),
	}
}
