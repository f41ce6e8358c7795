// Package model holds the wire-level representations exchanged with clients.
package model

import "encoding/json"

// Inbound and outbound event names for the realtime protocol.
const (
	EventConnected       = "connected"
	EventJoinRoom        = "join-room"
	EventRoomJoined      = "room-joined"
	EventRoomJoinError   = "room-join-error"
	EventUserJoined      = "user-joined"
	EventUserLeft        = "user-left"
	EventUserListUpdated = "user-list-updated"
	EventLeaveRoom       = "leave-room"
	EventCodeChange      = "code-change"
	EventCodeChanged     = "code-changed"
	EventCursorMove      = "cursor-move"
	EventCursorMoved     = "cursor-moved"
	EventLanguageChange  = "language-change"
	EventLanguageChanged = "language-changed"
	EventExecuteCode     = "execute-code"
	EventExecutionStart  = "execution-started"
	EventExecutionResult = "execution-result"
	EventExecutionError  = "execution-error"
	EventGetRoomState    = "get-room-state"
	EventRoomState       = "room-state"
	EventError           = "error"
)

// Frame is the envelope for every realtime protocol event, in either
// direction.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// JoinRoomParams is the payload of a join-room request.
type JoinRoomParams struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId,omitempty"`
	Username string `json:"username,omitempty"`
}

// CodeChangeParams is the payload of a code-change request.
type CodeChangeParams struct {
	RoomID string `json:"roomId"`
	Code   string `json:"code"`
}

// CursorMoveParams is the payload of a cursor-move request.
type CursorMoveParams struct {
	RoomID    string          `json:"roomId"`
	Position  json.RawMessage `json:"position"`
	Selection json.RawMessage `json:"selection,omitempty"`
}

// LanguageChangeParams is the payload of a language-change request.
type LanguageChangeParams struct {
	RoomID   string `json:"roomId"`
	Language string `json:"language"`
}

// ExecuteCodeParams is the payload of an execute-code request. Timeout is in
// milliseconds and optional.
type ExecuteCodeParams struct {
	RoomID  string `json:"roomId"`
	Timeout int64  `json:"timeout,omitempty"`
}

// Connected greets a newly accepted connection.
type Connected struct {
	ConnectionID       string         `json:"connectionId"`
	Timestamp          string         `json:"timestamp"`
	SupportedLanguages []LanguageInfo `json:"supportedLanguages"`
}

// LanguageInfo mirrors the runtime catalog entry on the wire.
type LanguageInfo struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	Extension           string `json:"extension"`
	RequiresCompilation bool   `json:"requiresCompilation"`
}

// RoomState is the wire form of a room snapshot.
type RoomState struct {
	ID           string                `json:"id"`
	Language     string                `json:"language"`
	Code         string                `json:"code"`
	UserCount    int                   `json:"userCount"`
	Users        []string              `json:"users"`
	Cursors      map[string]UserCursor `json:"cursors"`
	CreatedAt    string                `json:"createdAt"`
	LastActivity string                `json:"lastActivity"`
}

// UserCursor is a relayed cursor position.
type UserCursor struct {
	Position  json.RawMessage `json:"position"`
	Selection json.RawMessage `json:"selection,omitempty"`
}

// RoomJoined confirms a successful join to the joiner, carrying the full room
// snapshot before any incremental broadcasts about the join itself.
type RoomJoined struct {
	Success   bool      `json:"success"`
	RoomID    string    `json:"roomId"`
	UserID    string    `json:"userId"`
	RoomState RoomState `json:"roomState"`
}

// RoomJoinError reports a failed join to the requester only.
type RoomJoinError struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// UserJoined announces a new member to the rest of the room.
type UserJoined struct {
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	UserCount int    `json:"userCount"`
	Timestamp string `json:"timestamp"`
}

// UserLeft announces a departure to the remaining members.
type UserLeft struct {
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	UserCount int    `json:"userCount"`
	Timestamp string `json:"timestamp"`
}

// UserInfo is one entry of a user-list-updated broadcast. IsOnline reflects
// whether a live connection mapped to the participant at broadcast time.
type UserInfo struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	IsOnline bool   `json:"isOnline"`
}

// UserListUpdated carries the recomputed membership of a room.
type UserListUpdated struct {
	Users     []UserInfo `json:"users"`
	UserCount int        `json:"userCount"`
	Timestamp string     `json:"timestamp"`
}

// CodeChanged relays a buffer replacement to the other members.
type CodeChanged struct {
	Code      string `json:"code"`
	UserID    string `json:"userId"`
	Timestamp string `json:"timestamp"`
}

// CursorMoved relays a cursor update to the other members.
type CursorMoved struct {
	UserID    string          `json:"userId"`
	Position  json.RawMessage `json:"position"`
	Selection json.RawMessage `json:"selection,omitempty"`
	Timestamp string          `json:"timestamp"`
}

// LanguageChanged announces a language switch and the reset buffer to the
// whole room, sender included.
type LanguageChanged struct {
	Language  string `json:"language"`
	Code      string `json:"code"`
	UserID    string `json:"userId"`
	Timestamp string `json:"timestamp"`
}

// ExecutionStarted announces that a run has been dispatched.
type ExecutionStarted struct {
	UserID    string `json:"userId"`
	Language  string `json:"language"`
	Timestamp string `json:"timestamp"`
}

// ExecutionResult is broadcast to the whole room when a run completes,
// whatever the outcome.
type ExecutionResult struct {
	Success       bool   `json:"success"`
	Output        string `json:"output"`
	Error         string `json:"error"`
	ExecutionTime int64  `json:"executionTime"`
	Language      string `json:"language"`
	RoomID        string `json:"roomId"`
	UserID        string `json:"userId"`
	Timestamp     string `json:"timestamp"`
}

// Error is a typed protocol error returned to the originating connection only.
type Error struct {
	Message string `json:"message"`
}
