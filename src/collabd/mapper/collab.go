// Package mapper converts between domain entities and their wire models.
package mapper

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/collabcode/collabd/src/collabd/entity"
	"github.com/collabcode/collabd/src/collabd/model"
)

// Frame wraps a payload into a protocol frame. Payload marshaling of the
// model types in this repo cannot fail; a marshal error indicates a
// programming bug and is surfaced as an error frame so the connection still
// receives something well-formed.
func Frame(eventType string, payload interface{}) model.Frame {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw, _ = json.Marshal(model.Error{Message: fmt.Sprintf("encoding %s payload: %v", eventType, err)})
		return model.Frame{Type: model.EventError, Payload: raw}
	}
	return model.Frame{Type: eventType, Payload: raw}
}

// SnapshotToRoomState converts a room snapshot to its wire form.
func SnapshotToRoomState(s entity.RoomSnapshot) model.RoomState {
	cursors := make(map[string]model.UserCursor, len(s.Cursors))
	for id, c := range s.Cursors {
		cursors[id] = model.UserCursor{Position: c.Position, Selection: c.Selection}
	}
	return model.RoomState{
		ID:           s.ID,
		Language:     s.Language,
		Code:         s.Code,
		UserCount:    len(s.Users),
		Users:        s.Users,
		Cursors:      cursors,
		CreatedAt:    s.CreatedAt.UTC().Format(time.RFC3339),
		LastActivity: s.LastActivity.UTC().Format(time.RFC3339),
	}
}

// PresenceToUserList converts registry presence records to a
// user-list-updated payload.
func PresenceToUserList(presences []entity.Presence, now time.Time) model.UserListUpdated {
	users := make([]model.UserInfo, 0, len(presences))
	for _, p := range presences {
		users = append(users, model.UserInfo{
			UserID:   p.ID,
			Username: p.DisplayName,
			IsOnline: p.Online,
		})
	}
	return model.UserListUpdated{
		Users:     users,
		UserCount: len(users),
		Timestamp: now.UTC().Format(time.RFC3339),
	}
}

// ResultToWire converts a sandbox result to its broadcast form.
func ResultToWire(res entity.ExecutionResult, requesterID string, now time.Time) model.ExecutionResult {
	return model.ExecutionResult{
		Success:       res.Success,
		Output:        res.Output,
		Error:         res.Error,
		ExecutionTime: res.ElapsedMs,
		Language:      res.Language,
		RoomID:        res.RoomID,
		UserID:        requesterID,
		Timestamp:     now.UTC().Format(time.RFC3339),
	}
}

// LanguagesToWire converts catalog entries for the connected greeting.
func LanguagesToWire(langs []entity.LanguageInfo) []model.LanguageInfo {
	out := make([]model.LanguageInfo, 0, len(langs))
	for _, l := range langs {
		out = append(out, model.LanguageInfo{
			ID:                  l.ID,
			Name:                l.Name,
			Extension:           l.Extension,
			RequiresCompilation: l.RequiresCompilation,
		})
	}
	return out
}
