// Package collab implements the realtime collaboration protocol: room
// membership, buffer and cursor relay, language switches, and code execution
// dispatch.
package collab

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/collabcode/collabd/src/collabd/entity"
	"github.com/collabcode/collabd/src/collabd/gateway/peers"
	"github.com/collabcode/collabd/src/collabd/internal/clock"
	"github.com/collabcode/collabd/src/collabd/internal/errors"
	"github.com/collabcode/collabd/src/collabd/internal/runtimes"
	"github.com/collabcode/collabd/src/collabd/internal/sandbox"
	"github.com/collabcode/collabd/src/collabd/mapper"
	"github.com/collabcode/collabd/src/collabd/model"
	"github.com/collabcode/collabd/src/collabd/repository/room"
	"github.com/gofrs/uuid"
	"github.com/uber-go/tally"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const _configKeyRooms = "rooms"

// Module is the Fx module for this package.
var Module = fx.Provide(New)

// Controller drives the protocol. Every method is invoked by the transport
// handler with the connection id of the originating client; errors are
// returned to the handler, which converts them to typed error frames for that
// connection only.
type Controller interface {
	// Connected greets a newly accepted connection with its id and the
	// language catalog.
	Connected(ctx context.Context, connID string) error
	// Join places the connection's participant into a room and distributes
	// the join: full snapshot to the joiner first, then incremental
	// notifications to the rest of the room.
	Join(ctx context.Context, connID string, params model.JoinRoomParams) error
	// Leave removes the participant from their room on explicit request.
	Leave(ctx context.Context, connID string) error
	// Disconnect runs the same departure path as Leave but tolerates
	// connections that never joined.
	Disconnect(ctx context.Context, connID string) error
	// CodeChange replaces the room buffer and relays it to the other members.
	CodeChange(ctx context.Context, connID string, params model.CodeChangeParams) error
	// CursorMove records the cursor and relays it to the other members.
	CursorMove(ctx context.Context, connID string, params model.CursorMoveParams) error
	// LanguageChange validates the language, resets the buffer to its starter
	// template, and announces the switch to the whole room.
	LanguageChange(ctx context.Context, connID string, params model.LanguageChangeParams) error
	// Execute dispatches the room buffer to the sandbox and broadcasts the
	// result to the whole room when the run completes.
	Execute(ctx context.Context, connID string, params model.ExecuteCodeParams) error
	// RoomState sends the requester a fresh snapshot of their room.
	RoomState(ctx context.Context, connID string) error
}

// Params are inbound parameters to construct the controller.
type Params struct {
	fx.In

	Config    config.Provider
	Lifecycle fx.Lifecycle
	Logger    *zap.SugaredLogger
	Clock     clock.Clock
	Rooms     room.Repository
	Gateway   peers.Gateway
	Runtimes  runtimes.Table
	Sandbox   sandbox.Sandbox
	Scope     tally.Scope
}

type sweepConfig struct {
	SweepIntervalMinutes int64 `yaml:"sweepIntervalMinutes"`
	MaxIdleMinutes       int64 `yaml:"maxIdleMinutes"`
}

type controller struct {
	logger   *zap.SugaredLogger
	clock    clock.Clock
	rooms    room.Repository
	gateway  peers.Gateway
	runtimes runtimes.Table
	sandbox  sandbox.Sandbox
	stats    tally.Scope

	sweepInterval time.Duration
	maxIdle       time.Duration
	stop          chan struct{}
	sweepWG       sync.WaitGroup

	// execMu orders new executions against shutdown: once draining is set no
	// further runs may be added to execWG.
	execMu   sync.Mutex
	execWG   sync.WaitGroup
	draining bool
}

// New constructs the controller and registers the inactive-room sweeper with
// the application lifecycle.
func New(p Params) (Controller, error) {
	var cfg sweepConfig
	if err := p.Config.Get(_configKeyRooms).Populate(&cfg); err != nil {
		return nil, fmt.Errorf("getting config field %q: %w", _configKeyRooms, err)
	}

	c := &controller{
		logger:        p.Logger,
		clock:         p.Clock,
		rooms:         p.Rooms,
		gateway:       p.Gateway,
		runtimes:      p.Runtimes,
		sandbox:       p.Sandbox,
		stats:         p.Scope.SubScope("collab"),
		sweepInterval: time.Duration(cfg.SweepIntervalMinutes) * time.Minute,
		maxIdle:       time.Duration(cfg.MaxIdleMinutes) * time.Minute,
		stop:          make(chan struct{}),
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if c.sweepInterval > 0 {
				c.sweepWG.Add(1)
				go c.sweepLoop()
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			close(c.stop)
			c.sweepWG.Wait()
			c.execMu.Lock()
			c.draining = true
			c.execMu.Unlock()
			c.execWG.Wait()
			return nil
		},
	})

	return c, nil
}

func (c *controller) Connected(ctx context.Context, connID string) error {
	payload := model.Connected{
		ConnectionID:       connID,
		Timestamp:          c.timestamp(),
		SupportedLanguages: mapper.LanguagesToWire(c.runtimes.Languages()),
	}
	return c.gateway.Send(connID, mapper.Frame(model.EventConnected, payload))
}

func (c *controller) Join(ctx context.Context, connID string, params model.JoinRoomParams) error {
	if params.RoomID == "" {
		return errors.New("roomId is required")
	}
	userID := params.UserID
	if userID == "" {
		userID = uuid.Must(uuid.NewV4()).String()
	}
	username := params.Username
	if username == "" {
		username = "Anonymous"
	}

	joined, err := c.rooms.Join(ctx, params.RoomID, userID, username, connID)
	if err != nil {
		c.stats.Counter("join_failures").Inc(1)
		return err
	}
	c.gateway.Subscribe(params.RoomID, connID)
	c.stats.Counter("joins").Inc(1)
	c.logger.Infow("participant joined room", "roomID", params.RoomID, "userID", userID)

	// The joiner receives the authoritative snapshot before any of the
	// incremental broadcasts triggered by this join.
	snapshot := joined.Snapshot()
	confirm := model.RoomJoined{
		Success:   true,
		RoomID:    params.RoomID,
		UserID:    userID,
		RoomState: mapper.SnapshotToRoomState(snapshot),
	}
	if err := c.gateway.Send(connID, mapper.Frame(model.EventRoomJoined, confirm)); err != nil {
		c.logger.Warnw("failed to confirm join", "connID", connID, "error", err)
	}

	c.gateway.BroadcastExcept(params.RoomID, connID, mapper.Frame(model.EventUserJoined, model.UserJoined{
		UserID:    userID,
		Username:  username,
		UserCount: len(snapshot.Users),
		Timestamp: c.timestamp(),
	}))
	c.broadcastUserList(ctx, params.RoomID)
	return nil
}

func (c *controller) Leave(ctx context.Context, connID string) error {
	userID, err := c.rooms.UserByConn(ctx, connID)
	if err != nil {
		return err
	}
	c.depart(ctx, userID, connID)
	return nil
}

func (c *controller) Disconnect(ctx context.Context, connID string) error {
	userID, err := c.rooms.UserByConn(ctx, connID)
	if err != nil {
		// The connection never joined a room; nothing to depart.
		return nil
	}
	c.depart(ctx, userID, connID)
	return nil
}

func (c *controller) CodeChange(ctx context.Context, connID string, params model.CodeChangeParams) error {
	current, userID, err := c.memberRoom(ctx, connID)
	if err != nil {
		return err
	}
	current.UpdateCode(params.Code, c.clock.Now())
	c.gateway.BroadcastExcept(current.ID(), connID, mapper.Frame(model.EventCodeChanged, model.CodeChanged{
		Code:      params.Code,
		UserID:    userID,
		Timestamp: c.timestamp(),
	}))
	return nil
}

func (c *controller) CursorMove(ctx context.Context, connID string, params model.CursorMoveParams) error {
	current, userID, err := c.memberRoom(ctx, connID)
	if err != nil {
		return err
	}
	cursor := entity.Cursor{Position: params.Position, Selection: params.Selection}
	current.UpdateCursor(userID, cursor, c.clock.Now())
	c.gateway.BroadcastExcept(current.ID(), connID, mapper.Frame(model.EventCursorMoved, model.CursorMoved{
		UserID:    userID,
		Position:  params.Position,
		Selection: params.Selection,
		Timestamp: c.timestamp(),
	}))
	return nil
}

func (c *controller) LanguageChange(ctx context.Context, connID string, params model.LanguageChangeParams) error {
	current, userID, err := c.memberRoom(ctx, connID)
	if err != nil {
		return err
	}
	// Validation precedes any mutation; a rejected switch leaves the room
	// untouched.
	if !c.runtimes.Supported(params.Language) {
		return &errors.UnsupportedLanguageError{Language: params.Language}
	}

	template := c.runtimes.Template(params.Language)
	current.ChangeLanguage(params.Language, template, c.clock.Now())
	c.logger.Infow("room language changed", "roomID", current.ID(), "language", params.Language)

	// The sender's editor resets too, so this goes to the whole room.
	c.gateway.Broadcast(current.ID(), mapper.Frame(model.EventLanguageChanged, model.LanguageChanged{
		Language:  params.Language,
		Code:      template,
		UserID:    userID,
		Timestamp: c.timestamp(),
	}))
	return nil
}

func (c *controller) Execute(ctx context.Context, connID string, params model.ExecuteCodeParams) error {
	current, userID, err := c.memberRoom(ctx, connID)
	if err != nil {
		return err
	}

	snapshot := current.Snapshot()
	req := entity.ExecutionRequest{
		Code:        snapshot.Code,
		Language:    snapshot.Language,
		RoomID:      snapshot.ID,
		RequesterID: userID,
		TimeoutMs:   params.Timeout,
	}

	c.execMu.Lock()
	if c.draining {
		c.execMu.Unlock()
		return errors.New("service is shutting down")
	}
	c.execWG.Add(1)
	c.execMu.Unlock()

	c.stats.Counter("executions_requested").Inc(1)
	c.gateway.Broadcast(snapshot.ID, mapper.Frame(model.EventExecutionStart, model.ExecutionStarted{
		UserID:    userID,
		Language:  snapshot.Language,
		Timestamp: c.timestamp(),
	}))

	// The run outlives the request and even the requester's connection: the
	// result is broadcast to whoever is still in the room when it completes.
	go func() {
		defer c.execWG.Done()
		res := c.sandbox.Execute(context.Background(), req)
		c.gateway.Broadcast(req.RoomID, mapper.Frame(model.EventExecutionResult,
			mapper.ResultToWire(res, req.RequesterID, c.clock.Now())))
	}()
	return nil
}

func (c *controller) RoomState(ctx context.Context, connID string) error {
	current, _, err := c.memberRoom(ctx, connID)
	if err != nil {
		return err
	}
	state := mapper.SnapshotToRoomState(current.Snapshot())
	return c.gateway.Send(connID, mapper.Frame(model.EventRoomState, state))
}

// memberRoom resolves the connection to its participant and room.
func (c *controller) memberRoom(ctx context.Context, connID string) (*entity.Room, string, error) {
	userID, err := c.rooms.UserByConn(ctx, connID)
	if err != nil {
		return nil, "", err
	}
	current, err := c.rooms.GetByConn(ctx, connID)
	if err != nil {
		return nil, "", err
	}
	return current, userID, nil
}

// depart is the shared removal path for explicit leaves and disconnects.
func (c *controller) depart(ctx context.Context, userID, connID string) {
	departure, err := c.rooms.Leave(ctx, userID, connID)
	c.gateway.Unsubscribe(connID)
	if err != nil || departure == nil {
		return
	}
	c.logger.Infow("participant left room", "roomID", departure.RoomID, "userID", departure.UserID)
	if departure.RoomRemoved {
		return
	}
	c.gateway.Broadcast(departure.RoomID, mapper.Frame(model.EventUserLeft, model.UserLeft{
		UserID:    departure.UserID,
		Username:  departure.Username,
		UserCount: departure.UserCount,
		Timestamp: c.timestamp(),
	}))
	c.broadcastUserList(ctx, departure.RoomID)
}

func (c *controller) broadcastUserList(ctx context.Context, roomID string) {
	presences, err := c.rooms.Participants(ctx, roomID)
	if err != nil {
		return
	}
	payload := mapper.PresenceToUserList(presences, c.clock.Now())
	c.gateway.Broadcast(roomID, mapper.Frame(model.EventUserListUpdated, payload))
}

func (c *controller) sweepLoop() {
	defer c.sweepWG.Done()

	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			removed, err := c.rooms.SweepInactive(context.Background(), c.maxIdle)
			if err != nil {
				c.logger.Warnw("room sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				c.stats.Counter("rooms_swept").Inc(int64(removed))
			}
		}
	}
}

func (c *controller) timestamp() string {
	return c.clock.Now().UTC().Format(time.RFC3339)
}
