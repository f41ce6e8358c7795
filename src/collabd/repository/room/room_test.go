package room

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/collabcode/collabd/src/collabd/internal/errors"
	"github.com/collabcode/collabd/src/collabd/internal/runtimes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"
	"go.uber.org/config"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

func (c *fakeClock) Sleep(time.Duration) {}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newRepository(t *testing.T, autoCreate bool) (Repository, *fakeClock) {
	provider, err := config.NewStaticProvider(map[string]interface{}{
		"rooms": map[string]interface{}{"autoCreateOnJoin": autoCreate},
	})
	require.NoError(t, err)

	table, err := runtimes.New(runtimes.Params{Config: provider, Logger: zap.NewNop().Sugar()})
	require.NoError(t, err)

	clk := &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	repo, err := New(Params{
		Config:   provider,
		Clock:    clk,
		Runtimes: table,
		Logger:   zap.NewNop().Sugar(),
		Scope:    tally.NewTestScope("testing", make(map[string]string, 0)),
	})
	require.NoError(t, err)
	return repo, clk
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepository(t, true)

	created, err := repo.Create(ctx, "python")
	require.NoError(t, err)
	assert.Len(t, created.ID(), 6)
	assert.Equal(t, strings.ToUpper(created.ID()), created.ID())
	assert.Equal(t, "python", created.Language())
	assert.NotEmpty(t, created.Code())

	// An unsupported language falls back to the default.
	fallback, err := repo.Create(ctx, "cobol")
	require.NoError(t, err)
	assert.Equal(t, "javascript", fallback.Language())
}

func TestJoinCreatesRoomImplicitly(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepository(t, true)

	joined, err := repo.Join(ctx, "ABC123", "u1", "Ada", "c1")
	require.NoError(t, err)
	assert.Equal(t, "ABC123", joined.ID())
	assert.Equal(t, 1, joined.UserCount())

	userID, err := repo.UserByConn(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)

	byConn, err := repo.GetByConn(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "ABC123", byConn.ID())
}

func TestJoinWithoutAutoCreateFails(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepository(t, false)

	_, err := repo.Join(ctx, "MISSIN", "u1", "Ada", "c1")
	require.Error(t, err)
	id, ok := errors.NotFoundRoom(err)
	assert.True(t, ok)
	assert.Equal(t, "MISSIN", id)

	// The failed join left no mapping behind.
	_, err = repo.UserByConn(ctx, "c1")
	assert.Error(t, err)
}

func TestJoinEnforcesSingleRoomMembership(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepository(t, true)

	_, err := repo.Join(ctx, "ROOMAA", "u1", "Ada", "c1")
	require.NoError(t, err)
	_, err = repo.Join(ctx, "ROOMAA", "u2", "Grace", "c2")
	require.NoError(t, err)

	// u1 hops to a second room; membership must be exactly the new room.
	second, err := repo.Join(ctx, "ROOMBB", "u1", "Ada", "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, second.UserCount())

	first, err := repo.Get(ctx, "ROOMAA")
	require.NoError(t, err)
	assert.Equal(t, 1, first.UserCount())

	byConn, err := repo.GetByConn(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "ROOMBB", byConn.ID())
}

func TestRejoiningOwnSoloRoomKeepsIt(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepository(t, true)

	joined, err := repo.Join(ctx, "ROOMAA", "u1", "Ada", "c1")
	require.NoError(t, err)
	joined.UpdateCode("work in progress", time.Now())

	again, err := repo.Join(ctx, "ROOMAA", "u1", "Ada", "c2")
	require.NoError(t, err)
	assert.Equal(t, "work in progress", again.Code())
	assert.Equal(t, 1, again.UserCount())
}

func TestLeaveRemovesEmptyRoom(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepository(t, true)

	_, err := repo.Join(ctx, "ROOMAA", "u1", "Ada", "c1")
	require.NoError(t, err)

	departure, err := repo.Leave(ctx, "u1", "c1")
	require.NoError(t, err)
	require.NotNil(t, departure)
	assert.Equal(t, "ROOMAA", departure.RoomID)
	assert.Equal(t, "Ada", departure.Username)
	assert.Equal(t, 0, departure.UserCount)
	assert.True(t, departure.RoomRemoved)

	_, err = repo.Get(ctx, "ROOMAA")
	assert.Error(t, err)
}

func TestLeaveKeepsPopulatedRoom(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepository(t, true)

	_, err := repo.Join(ctx, "ROOMAA", "u1", "Ada", "c1")
	require.NoError(t, err)
	_, err = repo.Join(ctx, "ROOMAA", "u2", "Grace", "c2")
	require.NoError(t, err)

	departure, err := repo.Leave(ctx, "u1", "c1")
	require.NoError(t, err)
	require.NotNil(t, departure)
	assert.Equal(t, 1, departure.UserCount)
	assert.False(t, departure.RoomRemoved)

	remaining, err := repo.Get(ctx, "ROOMAA")
	require.NoError(t, err)
	assert.Equal(t, 1, remaining.UserCount())
}

func TestLeaveWhenNotJoined(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepository(t, true)

	departure, err := repo.Leave(ctx, "ghost", "c1")
	require.NoError(t, err)
	assert.Nil(t, departure)
}

func TestParticipants(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepository(t, true)

	_, err := repo.Join(ctx, "ROOMAA", "u1", "Ada", "c1")
	require.NoError(t, err)
	_, err = repo.Join(ctx, "ROOMAA", "u2", "Grace", "c2")
	require.NoError(t, err)

	presences, err := repo.Participants(ctx, "ROOMAA")
	require.NoError(t, err)
	require.Len(t, presences, 2)
	for _, p := range presences {
		assert.True(t, p.Online)
		assert.NotEmpty(t, p.DisplayName)
	}
}

func TestSweepInactive(t *testing.T) {
	ctx := context.Background()
	repo, clk := newRepository(t, true)

	_, err := repo.Join(ctx, "STALEE", "u1", "Ada", "c1")
	require.NoError(t, err)

	clk.advance(2 * time.Hour)
	_, err = repo.Join(ctx, "FRESHH", "u2", "Grace", "c2")
	require.NoError(t, err)

	removed, err := repo.SweepInactive(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = repo.Get(ctx, "STALEE")
	assert.Error(t, err)
	_, err = repo.Get(ctx, "FRESHH")
	assert.NoError(t, err)

	// The stale room's participant mappings went with it.
	_, err = repo.UserByConn(ctx, "c1")
	assert.Error(t, err)

	rooms, err := repo.RoomCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rooms)
	users, err := repo.ParticipantCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, users)
}
