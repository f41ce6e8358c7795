// Package entity contains the domain logic for the collabd service.
package entity

import (
	"encoding/json"
	"sync"
	"time"
)

// Cursor is a participant's cursor position and optional selection within the
// shared buffer. Both fields are relayed verbatim between clients; the server
// does not validate them against the buffer contents.
type Cursor struct {
	Position  json.RawMessage `json:"position"`
	Selection json.RawMessage `json:"selection,omitempty"`
}

// Participant is a member of a room. IDs are client-supplied and scoped to the
// registry; ConnID is the transport handle currently mapped to the participant.
type Participant struct {
	ID          string
	DisplayName string
	ConnID      string
}

// Presence is a participant together with whether a live connection currently
// maps to them.
type Presence struct {
	ID          string
	DisplayName string
	Online      bool
}

// Room is a single collaborative editing session. All mutators are serialized
// by the room's own mutex, so concurrent operations targeting the same room are
// linearized while different rooms proceed independently.
type Room struct {
	mu           sync.Mutex
	id           string
	language     string
	code         string
	users        map[string]struct{}
	cursors      map[string]Cursor
	createdAt    time.Time
	lastActivity time.Time
}

// RoomSnapshot is an immutable view of a room, used for late-joiner state
// transfer and explicit state queries.
type RoomSnapshot struct {
	ID           string
	Language     string
	Code         string
	Users        []string
	Cursors      map[string]Cursor
	CreatedAt    time.Time
	LastActivity time.Time
}

// NewRoom creates a room seeded with the given language's starter code.
func NewRoom(id, language, code string, now time.Time) *Room {
	return &Room{
		id:           id,
		language:     language,
		code:         code,
		users:        make(map[string]struct{}),
		cursors:      make(map[string]Cursor),
		createdAt:    now,
		lastActivity: now,
	}
}

// ID returns the room's identifier. IDs are immutable.
func (r *Room) ID() string {
	return r.id
}

// AddUser adds a participant to the room's membership.
func (r *Room) AddUser(userID string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.users[userID] = struct{}{}
	r.lastActivity = now
}

// RemoveUser removes a participant and their cursor. It reports whether the
// room is now empty and therefore eligible for removal.
func (r *Room) RemoveUser(userID string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.users, userID)
	delete(r.cursors, userID)
	r.lastActivity = now
	return len(r.users) == 0
}

// UpdateCode replaces the entire buffer. The last write observed by the
// registry wins; no merging or conflict detection is attempted.
func (r *Room) UpdateCode(code string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.code = code
	r.lastActivity = now
}

// UpdateCursor upserts the participant's cursor.
func (r *Room) UpdateCursor(userID string, cursor Cursor, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cursors[userID] = cursor
	r.lastActivity = now
}

// ChangeLanguage switches the room's language and resets the buffer to the
// given starter template. Unsaved edits are lost; callers validate the
// language before invoking this.
func (r *Room) ChangeLanguage(language, template string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.language = language
	r.code = template
	r.lastActivity = now
}

// Language returns the room's current language.
func (r *Room) Language() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.language
}

// Code returns the current buffer contents.
func (r *Room) Code() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.code
}

// UserCount returns the current membership size.
func (r *Room) UserCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.users)
}

// Empty reports whether the room has no members.
func (r *Room) Empty() bool {
	return r.UserCount() == 0
}

// IsStale reports whether the room has seen no activity for longer than
// maxIdle.
func (r *Room) IsStale(maxIdle time.Duration, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return now.Sub(r.lastActivity) > maxIdle
}

// Snapshot returns an immutable copy of the room's state.
func (r *Room) Snapshot() RoomSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	users := make([]string, 0, len(r.users))
	for id := range r.users {
		users = append(users, id)
	}
	cursors := make(map[string]Cursor, len(r.cursors))
	for id, c := range r.cursors {
		cursors[id] = c
	}

	return RoomSnapshot{
		ID:           r.id,
		Language:     r.language,
		Code:         r.code,
		Users:        users,
		Cursors:      cursors,
		CreatedAt:    r.createdAt,
		LastActivity: r.lastActivity,
	}
}
