package entity

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomMembership(t *testing.T) {
	now := time.Now()
	r := NewRoom("ABC123", "javascript", "// start", now)

	r.AddUser("u1", now)
	r.AddUser("u2", now)
	assert.Equal(t, 2, r.UserCount())
	assert.False(t, r.Empty())

	empty := r.RemoveUser("u1", now)
	assert.False(t, empty)
	empty = r.RemoveUser("u2", now)
	assert.True(t, empty)
	assert.True(t, r.Empty())
}

func TestRoomRemoveUserDropsCursor(t *testing.T) {
	now := time.Now()
	r := NewRoom("ABC123", "javascript", "", now)
	r.AddUser("u1", now)
	r.UpdateCursor("u1", Cursor{Position: json.RawMessage(`{"line":1}`)}, now)
	require.Len(t, r.Snapshot().Cursors, 1)

	r.RemoveUser("u1", now)
	assert.Empty(t, r.Snapshot().Cursors)
}

func TestRoomUpdateCodeLastWriteWins(t *testing.T) {
	now := time.Now()
	r := NewRoom("ABC123", "javascript", "a", now)
	r.UpdateCode("b", now)
	r.UpdateCode("c", now)
	assert.Equal(t, "c", r.Code())
}

func TestRoomChangeLanguageResetsBuffer(t *testing.T) {
	now := time.Now()
	r := NewRoom("ABC123", "javascript", "console.log(1)", now)
	r.UpdateCode("edited beyond recognition", now)

	r.ChangeLanguage("python", "print('hello')", now)
	assert.Equal(t, "python", r.Language())
	assert.Equal(t, "print('hello')", r.Code())
}

func TestRoomIsStale(t *testing.T) {
	created := time.Now()
	r := NewRoom("ABC123", "javascript", "", created)

	assert.False(t, r.IsStale(time.Hour, created.Add(30*time.Minute)))
	assert.True(t, r.IsStale(time.Hour, created.Add(2*time.Hour)))

	// Any mutation refreshes the activity marker.
	r.UpdateCode("x", created.Add(2*time.Hour))
	assert.False(t, r.IsStale(time.Hour, created.Add(2*time.Hour+time.Minute)))
}

func TestRoomSnapshotIsDetached(t *testing.T) {
	now := time.Now()
	r := NewRoom("ABC123", "javascript", "code", now)
	r.AddUser("u1", now)
	r.UpdateCursor("u1", Cursor{Position: json.RawMessage(`{"line":1}`)}, now)

	snap := r.Snapshot()
	r.UpdateCode("changed", now)
	r.UpdateCursor("u1", Cursor{Position: json.RawMessage(`{"line":9}`)}, now)

	assert.Equal(t, "code", snap.Code)
	assert.JSONEq(t, `{"line":1}`, string(snap.Cursors["u1"].Position))
	assert.Equal(t, []string{"u1"}, snap.Users)
}
