// Package room is the registry of live collaborative rooms and the mapping
// tables tying participants and connections to them.
package room

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/collabcode/collabd/src/collabd/entity"
	"github.com/collabcode/collabd/src/collabd/internal/clock"
	"github.com/collabcode/collabd/src/collabd/internal/errors"
	"github.com/collabcode/collabd/src/collabd/internal/runtimes"
	"github.com/uber-go/tally"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	_configKeyRooms = "rooms"

	// Room ids are drawn from a fixed alphanumeric alphabet and checked for
	// collision against the live set.
	_idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	_idLength   = 6
)

// Module is the Fx module for this package.
var Module = fx.Provide(New)

// Departure describes the outcome of removing a participant from their room.
type Departure struct {
	RoomID      string
	UserID      string
	Username    string
	UserCount   int
	RoomRemoved bool
}

// Repository tracks rooms, participants, and connections. Both mapping tables
// are mutated only through Join and Leave so they stay in lockstep with room
// membership.
type Repository interface {
	// Create stores a new room with a freshly generated unique id. An
	// unsupported or empty language falls back to the default.
	Create(ctx context.Context, language string) (*entity.Room, error)
	// Join adds the participant to the room, implicitly creating it when the
	// auto-create policy allows. A participant belongs to at most one room;
	// joining removes them from any previous one first.
	Join(ctx context.Context, roomID, userID, username, connID string) (*entity.Room, error)
	// Leave removes the participant from their room and clears both mapping
	// entries. It is invoked identically for explicit leaves and transport
	// disconnects. A nil Departure means the participant was in no room.
	Leave(ctx context.Context, userID, connID string) (*Departure, error)
	// Get returns the room with the given id.
	Get(ctx context.Context, roomID string) (*entity.Room, error)
	// GetByConn returns the room the connection's participant belongs to.
	GetByConn(ctx context.Context, connID string) (*entity.Room, error)
	// UserByConn returns the participant mapped to the connection.
	UserByConn(ctx context.Context, connID string) (string, error)
	// Participants lists a room's members with their live online flag.
	Participants(ctx context.Context, roomID string) ([]entity.Presence, error)
	// SweepInactive removes rooms that are empty or idle longer than maxIdle,
	// purging their mapping entries in the same step. Returns the number of
	// rooms removed.
	SweepInactive(ctx context.Context, maxIdle time.Duration) (int, error)
	// RoomCount returns the number of live rooms.
	RoomCount(ctx context.Context) (int, error)
	// ParticipantCount returns the number of participants across all rooms.
	ParticipantCount(ctx context.Context) (int, error)
}

// Params are inbound parameters to construct the registry.
type Params struct {
	fx.In

	Config   config.Provider
	Clock    clock.Clock
	Runtimes runtimes.Table
	Logger   *zap.SugaredLogger
	Scope    tally.Scope
}

type roomsConfig struct {
	AutoCreateOnJoin bool `yaml:"autoCreateOnJoin"`
}

type participantRecord struct {
	displayName string
	connID      string
}

type repository struct {
	mu           sync.Mutex
	rooms        map[string]*entity.Room
	userToRoom   map[string]string
	connToUser   map[string]string
	participants map[string]*participantRecord

	autoCreate bool
	clock      clock.Clock
	runtimes   runtimes.Table
	logger     *zap.SugaredLogger
	stats      tally.Scope
}

// New returns a registry backed by in-memory tables.
func New(p Params) (Repository, error) {
	var cfg roomsConfig
	if err := p.Config.Get(_configKeyRooms).Populate(&cfg); err != nil {
		return nil, fmt.Errorf("getting config field %q: %w", _configKeyRooms, err)
	}

	return &repository{
		rooms:        make(map[string]*entity.Room),
		userToRoom:   make(map[string]string),
		connToUser:   make(map[string]string),
		participants: make(map[string]*participantRecord),
		autoCreate:   cfg.AutoCreateOnJoin,
		clock:        p.Clock,
		runtimes:     p.Runtimes,
		logger:       p.Logger,
		stats:        p.Scope,
	}, nil
}

func (r *repository) Create(ctx context.Context, language string) (*entity.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.runtimes.Supported(language) {
		language = r.runtimes.DefaultLanguage()
	}
	id, err := r.generateIDLocked()
	if err != nil {
		return nil, err
	}
	room := r.createLocked(id, language)
	r.logger.Infow("created room", "roomID", id, "language", language)
	return room, nil
}

func (r *repository) Join(ctx context.Context, roomID, userID, username, connID string) (*entity.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rooms[roomID]; !ok && !r.autoCreate {
		return nil, &errors.RoomNotFoundError{RoomID: roomID}
	}

	// Single-session invariant: drop any previous membership first. The
	// target room is kept alive even if this participant was its only member.
	r.leaveLocked(userID, connID, roomID)

	room, ok := r.rooms[roomID]
	if !ok {
		room = r.createLocked(roomID, r.runtimes.DefaultLanguage())
		r.logger.Infow("implicitly created room on join", "roomID", roomID)
	}

	room.AddUser(userID, r.clock.Now())
	r.userToRoom[userID] = roomID
	r.connToUser[connID] = userID
	r.participants[userID] = &participantRecord{displayName: username, connID: connID}
	r.updateGaugesLocked()
	return room, nil
}

func (r *repository) Leave(ctx context.Context, userID, connID string) (*Departure, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	departure := r.leaveLocked(userID, connID, "")
	r.updateGaugesLocked()
	return departure, nil
}

func (r *repository) Get(ctx context.Context, roomID string) (*entity.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil, &errors.RoomNotFoundError{RoomID: roomID}
	}
	return room, nil
}

func (r *repository) GetByConn(ctx context.Context, connID string) (*entity.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.connToUser[connID]
	if !ok {
		return nil, errors.ErrNotJoined
	}
	roomID, ok := r.userToRoom[userID]
	if !ok {
		return nil, errors.ErrNotJoined
	}
	room, ok := r.rooms[roomID]
	if !ok {
		return nil, &errors.RoomNotFoundError{RoomID: roomID}
	}
	return room, nil
}

func (r *repository) UserByConn(ctx context.Context, connID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.connToUser[connID]
	if !ok {
		return "", errors.ErrNotJoined
	}
	return userID, nil
}

func (r *repository) Participants(ctx context.Context, roomID string) ([]entity.Presence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil, &errors.RoomNotFoundError{RoomID: roomID}
	}

	snapshot := room.Snapshot()
	presences := make([]entity.Presence, 0, len(snapshot.Users))
	for _, userID := range snapshot.Users {
		presence := entity.Presence{ID: userID, DisplayName: userID}
		if record, ok := r.participants[userID]; ok {
			if record.displayName != "" {
				presence.DisplayName = record.displayName
			}
			presence.Online = r.connToUser[record.connID] == userID
		}
		presences = append(presences, presence)
	}
	return presences, nil
}

func (r *repository) SweepInactive(ctx context.Context, maxIdle time.Duration) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	removed := 0
	for roomID, room := range r.rooms {
		if !room.Empty() && !room.IsStale(maxIdle, now) {
			continue
		}
		for _, userID := range room.Snapshot().Users {
			if record, ok := r.participants[userID]; ok {
				delete(r.connToUser, record.connID)
				delete(r.participants, userID)
			}
			delete(r.userToRoom, userID)
		}
		delete(r.rooms, roomID)
		removed++
		r.logger.Infow("swept inactive room", "roomID", roomID)
	}
	if removed > 0 {
		r.updateGaugesLocked()
	}
	return removed, nil
}

func (r *repository) RoomCount(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.rooms), nil
}

func (r *repository) ParticipantCount(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.userToRoom), nil
}

// leaveLocked removes the participant from their current room and clears both
// mapping entries. A room left empty is deleted unless it is keepRoomID,
// which the caller is about to repopulate.
func (r *repository) leaveLocked(userID, connID, keepRoomID string) *Departure {
	defer delete(r.connToUser, connID)

	roomID, ok := r.userToRoom[userID]
	if !ok {
		return nil
	}

	departure := &Departure{RoomID: roomID, UserID: userID, Username: userID}
	if record, ok := r.participants[userID]; ok {
		if record.displayName != "" {
			departure.Username = record.displayName
		}
		delete(r.connToUser, record.connID)
		delete(r.participants, userID)
	}
	delete(r.userToRoom, userID)

	if room, exists := r.rooms[roomID]; exists {
		empty := room.RemoveUser(userID, r.clock.Now())
		departure.UserCount = room.UserCount()
		if empty && roomID != keepRoomID {
			delete(r.rooms, roomID)
			departure.RoomRemoved = true
			r.logger.Infow("removed empty room", "roomID", roomID)
		}
	}
	return departure
}

func (r *repository) createLocked(roomID, language string) *entity.Room {
	room := entity.NewRoom(roomID, language, r.runtimes.Template(language), r.clock.Now())
	r.rooms[roomID] = room
	r.updateGaugesLocked()
	return room
}

// generateIDLocked draws ids until one misses the live set.
func (r *repository) generateIDLocked() (string, error) {
	for {
		buf := make([]byte, _idLength)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generating room id: %w", err)
		}
		id := make([]byte, _idLength)
		for i, b := range buf {
			id[i] = _idAlphabet[int(b)%len(_idAlphabet)]
		}
		if _, exists := r.rooms[string(id)]; !exists {
			return string(id), nil
		}
	}
}

func (r *repository) updateGaugesLocked() {
	r.stats.Gauge("active_rooms").Update(float64(len(r.rooms)))
	r.stats.Gauge("active_participants").Update(float64(len(r.userToRoom)))
}
