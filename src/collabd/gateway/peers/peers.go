// Package peers tracks live client connections and fans protocol frames out
// to them, individually or per room.
package peers

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/collabcode/collabd/src/collabd/model"
	"github.com/uber-go/tally"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module is the Fx module for this package.
var Module = fx.Provide(New)

// Peer is one outbound frame sink. Implementations must be safe for
// concurrent Send calls; broadcasts from different rooms can target the same
// connection.
type Peer interface {
	Send(frame model.Frame) error
}

// Gateway routes outbound frames to registered connections. Registration and
// subscription are driven by the transport handler; room membership here
// mirrors the registry but is keyed by connection, not participant.
type Gateway interface {
	// Register makes the connection addressable for sends.
	Register(connID string, peer Peer)
	// Deregister removes the connection and any room subscription.
	Deregister(connID string)
	// Subscribe moves the connection onto the room's broadcast list. A
	// connection subscribes to at most one room at a time.
	Subscribe(roomID, connID string)
	// Unsubscribe removes the connection from its room's broadcast list.
	Unsubscribe(connID string)
	// Send delivers a frame to a single connection.
	Send(connID string, frame model.Frame) error
	// Broadcast delivers a frame to every subscriber of the room.
	Broadcast(roomID string, frame model.Frame)
	// BroadcastExcept delivers a frame to every subscriber of the room other
	// than the named connection.
	BroadcastExcept(roomID, exceptConnID string, frame model.Frame)
}

// Params are inbound parameters to construct the gateway.
type Params struct {
	fx.In

	Logger *zap.SugaredLogger
	Scope  tally.Scope
}

type gateway struct {
	mu         sync.Mutex
	peers      map[string]Peer
	rooms      map[string]map[string]struct{}
	connToRoom map[string]string

	logger *zap.SugaredLogger
	stats  tally.Scope
}

// New returns a gateway with empty routing tables.
func New(p Params) Gateway {
	return &gateway{
		peers:      make(map[string]Peer),
		rooms:      make(map[string]map[string]struct{}),
		connToRoom: make(map[string]string),
		logger:     p.Logger,
		stats:      p.Scope.SubScope("gateway"),
	}
}

func (g *gateway) Register(connID string, peer Peer) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.peers[connID] = peer
	g.stats.Gauge("connections").Update(float64(len(g.peers)))
}

func (g *gateway) Deregister(connID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.unsubscribeLocked(connID)
	delete(g.peers, connID)
	g.stats.Gauge("connections").Update(float64(len(g.peers)))
}

func (g *gateway) Subscribe(roomID, connID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.unsubscribeLocked(connID)
	subscribers, ok := g.rooms[roomID]
	if !ok {
		subscribers = make(map[string]struct{})
		g.rooms[roomID] = subscribers
	}
	subscribers[connID] = struct{}{}
	g.connToRoom[connID] = roomID
}

func (g *gateway) Unsubscribe(connID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.unsubscribeLocked(connID)
}

func (g *gateway) Send(connID string, frame model.Frame) error {
	g.mu.Lock()
	peer, ok := g.peers[connID]
	g.mu.Unlock()

	if !ok {
		return fmt.Errorf("connection %q is not registered", connID)
	}
	if err := peer.Send(frame); err != nil {
		g.stats.Counter("send_failures").Inc(1)
		return fmt.Errorf("sending %s frame to connection %q: %w", frame.Type, connID, err)
	}
	return nil
}

func (g *gateway) Broadcast(roomID string, frame model.Frame) {
	g.broadcast(roomID, "", frame)
}

func (g *gateway) BroadcastExcept(roomID, exceptConnID string, frame model.Frame) {
	g.broadcast(roomID, exceptConnID, frame)
}

// broadcast snapshots the subscriber set under the lock, then sends outside
// it so a slow peer cannot stall registration. A failed send is logged and
// skipped; the connection's own read loop notices the broken transport.
func (g *gateway) broadcast(roomID, exceptConnID string, frame model.Frame) {
	g.mu.Lock()
	targets := make([]Peer, 0, len(g.rooms[roomID]))
	for connID := range g.rooms[roomID] {
		if connID == exceptConnID {
			continue
		}
		if peer, ok := g.peers[connID]; ok {
			targets = append(targets, peer)
		}
	}
	g.mu.Unlock()

	for _, peer := range targets {
		if err := peer.Send(frame); err != nil {
			g.stats.Counter("send_failures").Inc(1)
			g.logger.Warnw("dropping broadcast frame", "roomID", roomID, "type", frame.Type, "error", err)
		}
	}
}

func (g *gateway) unsubscribeLocked(connID string) {
	roomID, ok := g.connToRoom[connID]
	if !ok {
		return
	}
	delete(g.rooms[roomID], connID)
	if len(g.rooms[roomID]) == 0 {
		delete(g.rooms, roomID)
	}
	delete(g.connToRoom, connID)
}

// encoderPeer serializes writes to a shared JSON encoder. The websocket
// library does not allow concurrent writes on one connection.
type encoderPeer struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewPeer wraps a JSON encoder as a Peer.
func NewPeer(enc *json.Encoder) Peer {
	return &encoderPeer{enc: enc}
}

func (p *encoderPeer) Send(frame model.Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.enc.Encode(frame)
}
