package rooms

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/RanFeng/ilog"

	"watchsync/internal/protocol"
)

var ErrRoomNotFound = errors.New("room not found")

// Room codes avoid the glyphs 0/O/1/I so they survive being read aloud.
const roomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const roomCodeLength = 6

// Manager owns every room and drives the whole protocol. One mutex
// guards all registry, room and session state so join/leave/broadcast/
// barrier transitions stay atomic relative to each other; socket writes
// never happen under it (Session.Send only queues).
type Manager struct {
	mu    sync.Mutex
	rooms map[string]*Room

	gracePeriod   time.Duration
	emptyRoomTTL  time.Duration
	navigatingFor time.Duration
	staleRoomAge  time.Duration
	sweepInterval time.Duration
}

func NewManager() *Manager {
	return &Manager{
		rooms:         make(map[string]*Room),
		gracePeriod:   30 * time.Second,
		emptyRoomTTL:  2 * time.Minute,
		navigatingFor: 3 * time.Second,
		staleRoomAge:  4 * time.Hour,
		sweepInterval: time.Hour,
	}
}

// HandleMessage parses one inbound frame and dispatches it. Malformed
// JSON and unknown types are logged and dropped; the connection stays up.
func (m *Manager) HandleMessage(sess *Session, data []byte) {
	ctx := context.Background()

	var env protocol.InboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		ilog.EventInfo(ctx, "drop_malformed_message", "err", err)
		return
	}

	switch env.Type {
	case protocol.TypeCreateRoom:
		var p protocol.CreateRoomPayload
		if !decodePayload(ctx, env, &p) {
			return
		}
		m.handleCreateRoom(sess, p)
	case protocol.TypeJoinRoom:
		var p protocol.JoinRoomPayload
		if !decodePayload(ctx, env, &p) {
			return
		}
		m.handleJoinRoom(sess, p)
	case protocol.TypeLeaveRoom:
		m.handleLeaveRoom(sess)
	case protocol.TypePlay:
		var p protocol.PlayPausePayload
		if !decodePayload(ctx, env, &p) {
			return
		}
		m.handleVideoEvent(sess, protocol.TypePlay, p.CurrentTime, true, false)
	case protocol.TypePause:
		var p protocol.PlayPausePayload
		if !decodePayload(ctx, env, &p) {
			return
		}
		m.handleVideoEvent(sess, protocol.TypePause, p.CurrentTime, false, false)
	case protocol.TypeSeek:
		var p protocol.SeekPayload
		if !decodePayload(ctx, env, &p) {
			return
		}
		m.handleVideoEvent(sess, protocol.TypeSeek, p.CurrentTime, p.IsPlaying, false)
	case protocol.TypeBuffer:
		var p protocol.BufferPayload
		if !decodePayload(ctx, env, &p) {
			return
		}
		// A buffering client is by definition not playing.
		m.handleVideoEvent(sess, protocol.TypeBuffer, p.CurrentTime, !p.IsBuffering, p.IsBuffering)
	case protocol.TypeSync:
		var p protocol.SyncPayload
		if !decodePayload(ctx, env, &p) {
			return
		}
		m.handleSync(sess, p)
	case protocol.TypeSyncRequest:
		m.handleSyncRequest(sess)
	case protocol.TypeChat:
		var p protocol.ChatPayload
		if !decodePayload(ctx, env, &p) {
			return
		}
		m.handleChat(sess, p)
	case protocol.TypeURLChange:
		var p protocol.URLChangePayload
		if !decodePayload(ctx, env, &p) {
			return
		}
		m.handleURLChange(sess, p)
	case protocol.TypeVideoReady:
		m.handleVideoReady(sess)
	case protocol.TypeForceSync:
		var p protocol.ForceSyncPayload
		if !decodePayload(ctx, env, &p) {
			return
		}
		m.handleForceSync(sess, p)
	default:
		ilog.EventInfo(ctx, "drop_unknown_message_type", "type", env.Type)
	}
}

func decodePayload(ctx context.Context, env protocol.InboundEnvelope, out interface{}) bool {
	if err := json.Unmarshal(env.Payload, out); err != nil {
		ilog.EventInfo(ctx, "drop_malformed_payload", "type", env.Type, "err", err)
		return false
	}
	return true
}

func (m *Manager) handleCreateRoom(sess *Session, p protocol.CreateRoomPayload) {
	ctx := context.Background()

	m.mu.Lock()
	defer m.mu.Unlock()

	if sess.RoomCode != "" {
		m.leaveLocked(sess)
	}

	code, err := m.newRoomCodeLocked()
	if err != nil {
		sess.Send(protocol.TypeRoomError, protocol.RoomErrorPayload{Message: "Failed to create room"})
		return
	}

	room := newRoom(code, p.Platform, time.Now().UTC())
	m.rooms[code] = room

	room.clients[sess] = struct{}{}
	sess.RoomCode = code
	sess.Username = p.Username
	sess.CurrentURL = ""
	sess.IsReady = true
	room.setHost(sess)

	sess.Send(protocol.TypeRoomCreated, protocol.RoomCreatedPayload{
		RoomCode:     code,
		Participants: room.effectiveParticipants(),
		Platform:     p.Platform,
	})
	ilog.EventInfo(ctx, "room_created", "roomCode", code, "username", p.Username, "platform", p.Platform)
}

func (m *Manager) handleJoinRoom(sess *Session, p protocol.JoinRoomPayload) {
	ctx := context.Background()

	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[p.RoomCode]
	if !ok {
		sess.Send(protocol.TypeRoomError, protocol.RoomErrorPayload{Message: "Room not found"})
		return
	}

	if sess.RoomCode != "" && sess.RoomCode != p.RoomCode {
		m.leaveLocked(sess)
	}
	// Re-sent JOIN_ROOM on a live connection: drop the old membership
	// silently before reinserting, keeping host status if it had it.
	isReconnection := false
	makeHost := room.host == sess
	delete(room.clients, sess)

	room.stopDeleteTimer()

	// A same-username entry in the grace window means this is the other
	// half of a reconnect, not a new participant.
	if pd, ok := room.pendingDisconnects[p.Username]; ok {
		pd.timer.Stop()
		delete(room.pendingDisconnects, p.Username)
		isReconnection = true
		makeHost = pd.wasHost
	}

	// Duplicate tab or stale reload under the same username: evict the
	// older connection without any broadcast.
	if dup := room.findClient(p.Username); dup != nil && dup != sess {
		if dup.IsHost {
			makeHost = true
		}
		m.evictLocked(room, dup)
	}

	room.clients[sess] = struct{}{}
	sess.RoomCode = room.Code
	sess.Username = p.Username
	sess.IsHost = false
	sess.CurrentURL = ""
	sess.IsReady = true
	if makeHost {
		room.setHost(sess)
	}
	room.ensureHost()

	participants := room.effectiveParticipants()
	sess.Send(protocol.TypeRoomJoined, protocol.RoomJoinedPayload{
		RoomCode:       room.Code,
		Participants:   participants,
		CurrentURL:     room.currentURL,
		Platform:       room.Platform,
		IsReconnection: isReconnection,
	})
	if !isReconnection {
		room.broadcast(sess, protocol.TypeUserJoined, protocol.PresencePayload{
			Username:     p.Username,
			Participants: participants,
		})
	}
	if room.videoState != nil {
		sess.Send(protocol.TypeSync, protocol.SyncPayload{
			CurrentTime:  room.videoState.CurrentTime,
			IsPlaying:    room.videoState.IsPlaying,
			PlaybackRate: room.videoState.PlaybackRate,
		})
	}

	// The join may have evicted the one client a barrier was waiting
	// on; re-evaluation is level-triggered and idempotent, so running
	// it unconditionally is safe.
	m.evaluateBarrierLocked(room)

	ilog.EventInfo(ctx, "room_joined",
		"roomCode", room.Code, "username", p.Username,
		"participants", participants, "isReconnection", isReconnection)
}

func (m *Manager) handleLeaveRoom(sess *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaveLocked(sess)
}

// leaveLocked performs an explicit leave: immediate removal with no
// grace period.
func (m *Manager) leaveLocked(sess *Session) {
	room, ok := m.rooms[sess.RoomCode]
	username := sess.Username
	sess.RoomCode = ""
	sess.Username = ""
	sess.IsHost = false
	sess.CurrentURL = ""
	if !ok {
		return
	}
	if _, in := room.clients[sess]; !in {
		return
	}
	delete(room.clients, sess)
	wasHost := room.host == sess
	if wasHost {
		room.host = nil
	}

	room.broadcast(nil, protocol.TypeUserLeft, protocol.PresencePayload{
		Username:     username,
		Participants: room.effectiveParticipants(),
	})
	if wasHost {
		room.ensureHost()
	}
	m.evaluateBarrierLocked(room)
	m.armDeleteIfEmptyLocked(room)

	ilog.EventInfo(context.Background(), "room_left",
		"roomCode", room.Code, "username", username,
		"participants", room.effectiveParticipants())
}

// SessionLost is the single entry point for transport-level loss: socket
// close, socket error and heartbeat termination all land here.
func (m *Manager) SessionLost(sess *Session) {
	ctx := context.Background()

	m.mu.Lock()
	defer m.mu.Unlock()

	if sess.evicted || sess.RoomCode == "" {
		return
	}
	room, ok := m.rooms[sess.RoomCode]
	if !ok {
		sess.RoomCode = ""
		return
	}
	if _, in := room.clients[sess]; !in {
		return
	}

	delete(room.clients, sess)
	username := sess.Username
	wasHost := room.host == sess
	if wasHost {
		room.host = nil
		room.ensureHost()
	}
	sess.RoomCode = ""

	// A newer connection already owns this username: nothing to grace,
	// this was stale cleanup only.
	if room.findClient(username) != nil {
		m.evaluateBarrierLocked(room)
		return
	}

	pd := &pendingDisconnect{
		wasHost:        wasHost,
		disconnectedAt: time.Now().UTC(),
	}
	pd.timer = time.AfterFunc(m.gracePeriod, func() {
		m.graceExpired(room, username, pd)
	})
	room.pendingDisconnects[username] = pd

	m.evaluateBarrierLocked(room)

	ilog.EventInfo(ctx, "session_lost",
		"roomCode", room.Code, "username", username, "wasHost", wasHost)
}

// graceExpired fires when a dropped participant did not come back in
// time. It re-checks entry identity under the lock: a reconnect or a
// room deletion since arming makes it a no-op.
func (m *Manager) graceExpired(room *Room, username string, pd *pendingDisconnect) {
	ctx := context.Background()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rooms[room.Code] != room {
		return
	}
	cur, ok := room.pendingDisconnects[username]
	if !ok || cur != pd {
		return
	}
	delete(room.pendingDisconnects, username)

	room.broadcast(nil, protocol.TypeUserLeft, protocol.PresencePayload{
		Username:     username,
		Participants: room.effectiveParticipants(),
	})
	room.ensureHost()
	m.armDeleteIfEmptyLocked(room)

	ilog.EventInfo(ctx, "grace_period_expired", "roomCode", room.Code, "username", username)
}

// evictLocked force-closes an older connection displaced by a new join
// under the same username. No broadcasts; to the rest of the room
// nothing happened.
func (m *Manager) evictLocked(room *Room, dup *Session) {
	dup.evicted = true
	delete(room.clients, dup)
	if room.host == dup {
		room.host = nil
	}
	dup.RoomCode = ""
	dup.Close()
}

// armDeleteIfEmptyLocked starts the 2-minute deletion countdown once a
// room has neither connected clients nor grace-window absentees. Any
// join before it fires cancels it.
func (m *Manager) armDeleteIfEmptyLocked(room *Room) {
	if len(room.clients) > 0 || len(room.pendingDisconnects) > 0 {
		return
	}
	room.stopDeleteTimer()
	room.deleteTimer = time.AfterFunc(m.emptyRoomTTL, func() {
		m.deleteIfStillEmpty(room)
	})
}

func (m *Manager) deleteIfStillEmpty(room *Room) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rooms[room.Code] != room {
		return
	}
	if len(room.clients) > 0 || len(room.pendingDisconnects) > 0 {
		return
	}
	m.removeRoomLocked(room)
	ilog.EventInfo(context.Background(), "empty_room_deleted", "roomCode", room.Code)
}

func (m *Manager) removeRoomLocked(room *Room) {
	room.stopDeleteTimer()
	for _, pd := range room.pendingDisconnects {
		pd.timer.Stop()
	}
	delete(m.rooms, room.Code)
}

func (m *Manager) roomOfLocked(sess *Session) *Room {
	if sess.RoomCode == "" {
		return nil
	}
	room, ok := m.rooms[sess.RoomCode]
	if !ok {
		return nil
	}
	if _, in := room.clients[sess]; !in {
		return nil
	}
	return room
}

func (m *Manager) newRoomCodeLocked() (string, error) {
	for {
		code, err := generateRoomCode()
		if err != nil {
			return "", err
		}
		if _, taken := m.rooms[code]; !taken {
			return code, nil
		}
	}
}

func generateRoomCode() (string, error) {
	code := make([]byte, roomCodeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(roomCodeAlphabet))))
		if err != nil {
			return "", err
		}
		code[i] = roomCodeAlphabet[n.Int64()]
	}
	return string(code), nil
}

// StartSweeper runs the hourly stale-room reaper until ctx is done. It
// is a safety net independent of the grace and deletion timers: rooms
// past the age cap with nobody connected are removed unconditionally.
func (m *Manager) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweepStaleRooms()
			}
		}
	}()
}

func (m *Manager) sweepStaleRooms() {
	ctx := context.Background()
	now := time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	for code, room := range m.rooms {
		if len(room.clients) == 0 && now.Sub(room.CreatedAt) > m.staleRoomAge {
			m.removeRoomLocked(room)
			ilog.EventInfo(ctx, "stale_room_reaped", "roomCode", code, "age", now.Sub(room.CreatedAt))
		}
	}
}

// RoomInfo returns the inspection view served over HTTP.
func (m *Manager) RoomInfo(code string) (protocol.RoomInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[code]
	if !ok {
		return protocol.RoomInfo{}, ErrRoomNotFound
	}
	return protocol.RoomInfo{
		RoomCode:     room.Code,
		Participants: room.effectiveParticipants(),
		CurrentURL:   room.currentURL,
		Platform:     room.Platform,
		CreatedAt:    room.CreatedAt,
	}, nil
}

// Stats reports live room and client counts.
func (m *Manager) Stats() (rooms, clients int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rooms = len(m.rooms)
	for _, room := range m.rooms {
		clients += len(room.clients)
	}
	return rooms, clients
}
