package rooms

import (
	"testing"
	"time"

	"watchsync/internal/protocol"
)

func TestPlayRelayAndStateUpdate(t *testing.T) {
	m := newTestManager()
	host, code := createRoom(t, m, "H", "youtube")
	guest, _ := joinRoom(t, m, code, "G")
	drainMessages(host)

	sendMsg(t, m, host, protocol.TypePlay, protocol.PlayPausePayload{CurrentTime: 12.3})

	env, ok := findMessage(drainMessages(guest), protocol.TypePlay)
	if !ok {
		t.Fatal("guest should receive PLAY")
	}
	var p protocol.VideoEventPayload
	decodePayloadT(t, env, &p)
	if p.CurrentTime != 12.3 || !p.IsPlaying || p.Username != "H" {
		t.Errorf("PLAY = %+v, want 12.3/playing/H", p)
	}

	// Sender gets no echo.
	if _, ok := findMessage(drainMessages(host), protocol.TypePlay); ok {
		t.Error("sender must not receive its own PLAY")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.rooms[code].videoState
	if state == nil || !state.IsPlaying || state.CurrentTime != 12.3 {
		t.Errorf("videoState = %+v, want playing at 12.3", state)
	}
}

func TestPauseAndBufferDeriveIsPlaying(t *testing.T) {
	m := newTestManager()
	host, code := createRoom(t, m, "H", "youtube")
	guest, _ := joinRoom(t, m, code, "G")
	drainMessages(host)

	sendMsg(t, m, host, protocol.TypePause, protocol.PlayPausePayload{CurrentTime: 5})
	env, ok := findMessage(drainMessages(guest), protocol.TypePause)
	if !ok {
		t.Fatal("guest should receive PAUSE")
	}
	var p protocol.VideoEventPayload
	decodePayloadT(t, env, &p)
	if p.IsPlaying {
		t.Error("PAUSE implies isPlaying=false")
	}

	sendMsg(t, m, host, protocol.TypeBuffer, protocol.BufferPayload{CurrentTime: 6, IsBuffering: true})
	env, ok = findMessage(drainMessages(guest), protocol.TypeBuffer)
	if !ok {
		t.Fatal("guest should receive BUFFER")
	}
	decodePayloadT(t, env, &p)
	if p.IsPlaying || !p.IsBuffering {
		t.Errorf("BUFFER = %+v, want buffering and not playing", p)
	}

	sendMsg(t, m, host, protocol.TypeBuffer, protocol.BufferPayload{CurrentTime: 7, IsBuffering: false})
	env, _ = findMessage(drainMessages(guest), protocol.TypeBuffer)
	decodePayloadT(t, env, &p)
	if !p.IsPlaying {
		t.Error("buffering end implies isPlaying=true")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if state := m.rooms[code].videoState; !state.IsPlaying {
		t.Error("videoState should be playing after buffering ended")
	}
}

func TestSeekCarriesExplicitIsPlaying(t *testing.T) {
	m := newTestManager()
	host, code := createRoom(t, m, "H", "youtube")
	guest, _ := joinRoom(t, m, code, "G")
	drainMessages(host)

	sendMsg(t, m, host, protocol.TypeSeek, protocol.SeekPayload{CurrentTime: 99, IsPlaying: true})

	env, ok := findMessage(drainMessages(guest), protocol.TypeSeek)
	if !ok {
		t.Fatal("guest should receive SEEK")
	}
	var p protocol.VideoEventPayload
	decodePayloadT(t, env, &p)
	if p.CurrentTime != 99 || !p.IsPlaying {
		t.Errorf("SEEK = %+v, want 99/playing", p)
	}
}

func TestNavigatingSenderIsRejected(t *testing.T) {
	m := newTestManager()
	host, code := createRoom(t, m, "H", "youtube")
	guest, _ := joinRoom(t, m, code, "G")
	drainMessages(host)

	m.mu.Lock()
	host.IsNavigating = true
	m.mu.Unlock()

	sendMsg(t, m, host, protocol.TypePlay, protocol.PlayPausePayload{CurrentTime: 1})

	if _, ok := findMessage(drainMessages(guest), protocol.TypePlay); ok {
		t.Error("events from a navigating sender must be dropped")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rooms[code].videoState != nil {
		t.Error("dropped event must not touch videoState")
	}
}

func TestNavigatingReceiverIsSkipped(t *testing.T) {
	m := newTestManager()
	host, code := createRoom(t, m, "H", "youtube")
	guest, _ := joinRoom(t, m, code, "G")
	other, _ := joinRoom(t, m, code, "O")
	drainMessages(host)
	drainMessages(guest)

	m.mu.Lock()
	guest.IsNavigating = true
	m.mu.Unlock()

	sendMsg(t, m, host, protocol.TypePlay, protocol.PlayPausePayload{CurrentTime: 2})

	if _, ok := findMessage(drainMessages(guest), protocol.TypePlay); ok {
		t.Error("navigating receiver must be skipped")
	}
	if _, ok := findMessage(drainMessages(other), protocol.TypePlay); !ok {
		t.Error("non-navigating receiver should still get PLAY")
	}
}

func TestURLPartitionBlocksCrossVideoLeakage(t *testing.T) {
	m := newTestManager()
	host, code := createRoom(t, m, "H", "youtube")
	sameURL, _ := joinRoom(t, m, code, "S")
	otherURL, _ := joinRoom(t, m, code, "O")
	drainMessages(host)
	drainMessages(sameURL)

	m.mu.Lock()
	host.CurrentURL = "https://v/episode-1"
	sameURL.CurrentURL = "https://v/episode-1"
	otherURL.CurrentURL = "https://v/episode-2"
	m.mu.Unlock()

	sendMsg(t, m, host, protocol.TypePlay, protocol.PlayPausePayload{CurrentTime: 3})

	if _, ok := findMessage(drainMessages(sameURL), protocol.TypePlay); !ok {
		t.Error("same-URL client should receive PLAY")
	}
	if _, ok := findMessage(drainMessages(otherURL), protocol.TypePlay); ok {
		t.Error("different-URL client must not receive PLAY")
	}
}

func TestURLPartitionFallsBackToRoomURL(t *testing.T) {
	m := newTestManager()
	host, code := createRoom(t, m, "H", "youtube")
	guest, _ := joinRoom(t, m, code, "G")
	drainMessages(host)

	// Guest never reported a URL; it inherits the room's, which matches
	// the sender's, so delivery proceeds.
	m.mu.Lock()
	host.CurrentURL = "https://v/episode-1"
	m.rooms[code].currentURL = "https://v/episode-1"
	m.mu.Unlock()

	sendMsg(t, m, host, protocol.TypePlay, protocol.PlayPausePayload{CurrentTime: 4})

	if _, ok := findMessage(drainMessages(guest), protocol.TypePlay); !ok {
		t.Error("client without a reported URL should fall back to the room URL")
	}
}

func TestSyncRelaysFullState(t *testing.T) {
	m := newTestManager()
	host, code := createRoom(t, m, "H", "youtube")
	guest, _ := joinRoom(t, m, code, "G")
	drainMessages(host)

	sendMsg(t, m, host, protocol.TypeSync, protocol.SyncPayload{CurrentTime: 42, IsPlaying: true, PlaybackRate: 1.5})

	env, ok := findMessage(drainMessages(guest), protocol.TypeSync)
	if !ok {
		t.Fatal("guest should receive SYNC")
	}
	var p protocol.SyncPayload
	decodePayloadT(t, env, &p)
	if p.CurrentTime != 42 || !p.IsPlaying || p.PlaybackRate != 1.5 {
		t.Errorf("SYNC = %+v", p)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if state := m.rooms[code].videoState; state.PlaybackRate != 1.5 {
		t.Errorf("playbackRate = %v, want 1.5", state.PlaybackRate)
	}
}

func TestPlayPreservesPlaybackRate(t *testing.T) {
	m := newTestManager()
	host, code := createRoom(t, m, "H", "youtube")
	joinRoom(t, m, code, "G")

	sendMsg(t, m, host, protocol.TypeSync, protocol.SyncPayload{CurrentTime: 10, IsPlaying: true, PlaybackRate: 2})
	sendMsg(t, m, host, protocol.TypePlay, protocol.PlayPausePayload{CurrentTime: 11})

	m.mu.Lock()
	defer m.mu.Unlock()
	if state := m.rooms[code].videoState; state.PlaybackRate != 2 {
		t.Errorf("playbackRate = %v, want preserved 2", state.PlaybackRate)
	}
}

func TestSyncRequestForwardedToHostOnly(t *testing.T) {
	m := newTestManager()
	host, code := createRoom(t, m, "H", "youtube")
	guest, _ := joinRoom(t, m, code, "G")
	bystander, _ := joinRoom(t, m, code, "B")
	drainMessages(host)
	drainMessages(guest)

	sendMsg(t, m, guest, protocol.TypeSyncRequest, nil)

	env, ok := findMessage(drainMessages(host), protocol.TypeSyncRequest)
	if !ok {
		t.Fatal("host should receive SYNC_REQUEST")
	}
	var p protocol.SyncRequestPayload
	decodePayloadT(t, env, &p)
	if p.RequestedBy != "G" {
		t.Errorf("requestedBy = %q, want G", p.RequestedBy)
	}
	if _, ok := findMessage(drainMessages(bystander), protocol.TypeSyncRequest); ok {
		t.Error("non-host must not receive SYNC_REQUEST")
	}
}

func TestForceSyncEchoesToEveryoneAndForcesPlaying(t *testing.T) {
	m := newTestManager()
	host, code := createRoom(t, m, "H", "youtube")
	guest, _ := joinRoom(t, m, code, "G")
	drainMessages(host)

	sendMsg(t, m, host, protocol.TypePause, protocol.PlayPausePayload{CurrentTime: 20})
	drainMessages(guest)

	sendMsg(t, m, host, protocol.TypeForceSync, protocol.ForceSyncPayload{CurrentTime: 21})

	for name, sess := range map[string]*Session{"host": host, "guest": guest} {
		env, ok := findMessage(drainMessages(sess), protocol.TypeForceSync)
		if !ok {
			t.Fatalf("%s should receive FORCE_SYNC (sender included)", name)
		}
		var p protocol.ForceSyncBroadcast
		decodePayloadT(t, env, &p)
		if p.CurrentTime != 21 || p.Username != "H" {
			t.Errorf("FORCE_SYNC at %s = %+v", name, p)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if state := m.rooms[code].videoState; !state.IsPlaying {
		t.Error("FORCE_SYNC must mark the room playing")
	}
}

func TestChatRelayedToOthers(t *testing.T) {
	m := newTestManager()
	host, code := createRoom(t, m, "H", "youtube")
	guest, _ := joinRoom(t, m, code, "G")
	drainMessages(host)

	sendMsg(t, m, guest, protocol.TypeChat, protocol.ChatPayload{Username: "G", Text: "hello"})

	env, ok := findMessage(drainMessages(host), protocol.TypeChat)
	if !ok {
		t.Fatal("host should receive CHAT")
	}
	var p protocol.ChatPayload
	decodePayloadT(t, env, &p)
	if p.Username != "G" || p.Text != "hello" {
		t.Errorf("CHAT = %+v", p)
	}
	if _, ok := findMessage(drainMessages(guest), protocol.TypeChat); ok {
		t.Error("sender must not receive its own CHAT")
	}
}

func TestNavigatingFlagAutoClears(t *testing.T) {
	m := newTestManager()
	host, code := createRoom(t, m, "H", "youtube")
	joinRoom(t, m, code, "G")
	drainMessages(host)

	sendMsg(t, m, host, protocol.TypeURLChange, protocol.URLChangePayload{URL: "https://v/next", CurrentTime: 50})

	m.mu.Lock()
	if !host.IsNavigating {
		t.Error("URL_CHANGE should mark the sender navigating")
	}
	m.mu.Unlock()

	time.Sleep(3 * m.navigatingFor)

	m.mu.Lock()
	defer m.mu.Unlock()
	if host.IsNavigating {
		t.Error("navigating flag should auto-clear")
	}
}
