package mapper

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/collabcode/collabd/src/collabd/entity"
	"github.com/collabcode/collabd/src/collabd/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame(t *testing.T) {
	frame := Frame(model.EventError, model.Error{Message: "boom"})
	assert.Equal(t, model.EventError, frame.Type)

	var payload model.Error
	require.NoError(t, json.Unmarshal(frame.Payload, &payload))
	assert.Equal(t, "boom", payload.Message)
}

func TestSnapshotToRoomState(t *testing.T) {
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	state := SnapshotToRoomState(entity.RoomSnapshot{
		ID:       "ABC123",
		Language: "python",
		Code:     "print(1)",
		Users:    []string{"u1", "u2"},
		Cursors: map[string]entity.Cursor{
			"u1": {Position: json.RawMessage(`{"line":3}`)},
		},
		CreatedAt:    created,
		LastActivity: created.Add(time.Minute),
	})

	assert.Equal(t, "ABC123", state.ID)
	assert.Equal(t, 2, state.UserCount)
	assert.Equal(t, "2025-03-01T12:00:00Z", state.CreatedAt)
	assert.Equal(t, "2025-03-01T12:01:00Z", state.LastActivity)
	assert.JSONEq(t, `{"line":3}`, string(state.Cursors["u1"].Position))
}

func TestPresenceToUserList(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	list := PresenceToUserList([]entity.Presence{
		{ID: "u1", DisplayName: "Ada", Online: true},
		{ID: "u2", DisplayName: "Grace", Online: false},
	}, now)

	assert.Equal(t, 2, list.UserCount)
	assert.Equal(t, "2025-03-01T12:00:00Z", list.Timestamp)
	assert.True(t, list.Users[0].IsOnline)
	assert.False(t, list.Users[1].IsOnline)
}

func TestResultToWire(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	wire := ResultToWire(entity.ExecutionResult{
		Success:   true,
		Output:    "hi",
		Error:     "warning",
		ElapsedMs: 42,
		Language:  "python",
		RoomID:    "ABC123",
	}, "u1", now)

	assert.True(t, wire.Success)
	assert.Equal(t, int64(42), wire.ExecutionTime)
	assert.Equal(t, "u1", wire.UserID)
	assert.Equal(t, "2025-03-01T12:00:00Z", wire.Timestamp)
}
