package protocol

import (
	"encoding/json"
	"time"
)

// Client -> server message types.
const (
	TypeCreateRoom  = "CREATE_ROOM"
	TypeJoinRoom    = "JOIN_ROOM"
	TypeLeaveRoom   = "LEAVE_ROOM"
	TypePlay        = "PLAY"
	TypePause       = "PAUSE"
	TypeSeek        = "SEEK"
	TypeBuffer      = "BUFFER"
	TypeSync        = "SYNC"
	TypeSyncRequest = "SYNC_REQUEST"
	TypeChat        = "CHAT"
	TypeURLChange   = "URL_CHANGE"
	TypeVideoReady  = "VIDEO_READY"
	TypeForceSync   = "FORCE_SYNC"
)

// Server -> client message types. The video-control types (PLAY, PAUSE,
// SEEK, BUFFER, SYNC, CHAT, URL_CHANGE, FORCE_SYNC) are shared with the
// client -> server set above.
const (
	TypeRoomCreated      = "ROOM_CREATED"
	TypeRoomJoined       = "ROOM_JOINED"
	TypeRoomError        = "ROOM_ERROR"
	TypeUserJoined       = "USER_JOINED"
	TypeUserLeft         = "USER_LEFT"
	TypeWaitingForOthers = "WAITING_FOR_OTHERS"
	TypeAllReady         = "ALL_READY"
)

// Envelope is the outbound wire frame. Timestamp is epoch milliseconds.
type Envelope struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp int64       `json:"timestamp"`
}

// InboundEnvelope defers payload decoding until the type is known.
type InboundEnvelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

type CreateRoomPayload struct {
	Username string `json:"username"`
	Platform string `json:"platform"`
}

type JoinRoomPayload struct {
	RoomCode string `json:"roomCode"`
	Username string `json:"username"`
}

type PlayPausePayload struct {
	CurrentTime float64 `json:"currentTime"`
}

type SeekPayload struct {
	CurrentTime float64 `json:"currentTime"`
	IsPlaying   bool    `json:"isPlaying"`
}

type BufferPayload struct {
	CurrentTime float64 `json:"currentTime"`
	IsBuffering bool    `json:"isBuffering"`
}

type SyncPayload struct {
	CurrentTime  float64 `json:"currentTime"`
	IsPlaying    bool    `json:"isPlaying"`
	PlaybackRate float64 `json:"playbackRate"`
}

type ChatPayload struct {
	Username string `json:"username"`
	Text     string `json:"text"`
}

type URLChangePayload struct {
	URL         string  `json:"url"`
	CurrentTime float64 `json:"currentTime"`
}

type ForceSyncPayload struct {
	CurrentTime float64 `json:"currentTime"`
}

type RoomCreatedPayload struct {
	RoomCode     string `json:"roomCode"`
	Participants int    `json:"participants"`
	Platform     string `json:"platform"`
}

type RoomJoinedPayload struct {
	RoomCode       string `json:"roomCode"`
	Participants   int    `json:"participants"`
	CurrentURL     string `json:"currentUrl"`
	Platform       string `json:"platform"`
	IsReconnection bool   `json:"isReconnection"`
}

type RoomErrorPayload struct {
	Message string `json:"message"`
}

// PresencePayload is shared by USER_JOINED and USER_LEFT.
type PresencePayload struct {
	Username     string `json:"username"`
	Participants int    `json:"participants"`
}

// VideoEventPayload is the outbound form of PLAY, PAUSE, SEEK and BUFFER.
type VideoEventPayload struct {
	CurrentTime float64 `json:"currentTime"`
	IsPlaying   bool    `json:"isPlaying"`
	IsBuffering bool    `json:"isBuffering"`
	Username    string  `json:"username"`
}

type SyncRequestPayload struct {
	RequestedBy string `json:"requestedBy"`
}

type URLChangeBroadcast struct {
	URL      string  `json:"url"`
	Username string  `json:"username"`
	SyncTime float64 `json:"syncTime"`
}

type WaitingForOthersPayload struct {
	Ready int `json:"ready"`
	Total int `json:"total"`
}

type AllReadyPayload struct {
	CurrentTime  float64 `json:"currentTime"`
	Participants int     `json:"participants"`
}

type ForceSyncBroadcast struct {
	CurrentTime float64 `json:"currentTime"`
	Username    string  `json:"username"`
}

// VideoState is a room's authoritative last-known playback state.
type VideoState struct {
	CurrentTime  float64   `json:"currentTime"`
	IsPlaying    bool      `json:"isPlaying"`
	PlaybackRate float64   `json:"playbackRate"`
	LastUpdated  time.Time `json:"lastUpdated"`
}

// RoomInfo is the read-only inspection view served by the HTTP API.
type RoomInfo struct {
	RoomCode     string    `json:"roomCode"`
	Participants int       `json:"participants"`
	CurrentURL   string    `json:"currentUrl"`
	Platform     string    `json:"platform"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ErrorPayload is the HTTP API error body.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
