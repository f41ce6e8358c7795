// Package collab terminates websocket connections and dispatches protocol
// frames to the collaboration controller.
package collab

import (
	"context"
	"encoding/json"
	stderr "errors"
	"io"
	"net/http"

	collabctl "github.com/collabcode/collabd/src/collabd/controller/collab"
	"github.com/collabcode/collabd/src/collabd/gateway/peers"
	"github.com/collabcode/collabd/src/collabd/internal/errors"
	"github.com/collabcode/collabd/src/collabd/mapper"
	"github.com/collabcode/collabd/src/collabd/model"
	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/net/websocket"
)

const (
	_route = "/ws"

	// A connection producing this many consecutive undecodable frames is cut
	// off; the stream is assumed corrupt.
	_maxDecodeErrors = 5

	// Frames above this size are rejected without buffering the payload. The
	// largest legitimate frame is a full room buffer, which fits comfortably.
	_maxFrameBytes = 1 << 20
)

// Module is the Fx module for this package.
var Module = fx.Provide(New)

// Handler terminates realtime client connections.
type Handler interface{}

// Params are inbound parameters to construct the handler.
type Params struct {
	fx.In

	Logger     *zap.SugaredLogger
	Router     *chi.Mux
	Controller collabctl.Controller
	Gateway    peers.Gateway
}

type handler struct {
	logger     *zap.SugaredLogger
	controller collabctl.Controller
	gateway    peers.Gateway
}

// New registers the websocket endpoint on the shared router.
func New(p Params) Handler {
	h := &handler{
		logger:     p.Logger,
		controller: p.Controller,
		gateway:    p.Gateway,
	}

	// Browser clients connect cross-origin; the default handshake's Origin
	// check is disabled.
	srv := websocket.Server{
		Handler:   h.serve,
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
	}
	p.Router.Get(_route, srv.ServeHTTP)
	return h
}

// serve owns one connection for its entire lifetime: register, greet, decode
// loop, and the departure path on any exit.
func (h *handler) serve(ws *websocket.Conn) {
	ctx := ws.Request().Context()
	connID := uuid.Must(uuid.NewV4()).String()

	h.gateway.Register(connID, peers.NewPeer(json.NewEncoder(ws)))
	defer func() {
		// Abrupt disconnects and clean closes take the same path.
		if err := h.controller.Disconnect(ctx, connID); err != nil {
			h.logger.Warnw("disconnect cleanup failed", "connID", connID, "error", err)
		}
		h.gateway.Deregister(connID)
	}()

	h.logger.Infow("connection accepted", "connID", connID)
	if err := h.controller.Connected(ctx, connID); err != nil {
		h.logger.Warnw("failed to greet connection", "connID", connID, "error", err)
		return
	}

	// Oversized frames are left on the wire and drained on the next receive;
	// the payload is never buffered in memory.
	ws.MaxPayloadBytes = _maxFrameBytes
	decodeErrors := 0
	for {
		var frame model.Frame
		if err := websocket.JSON.Receive(ws, &frame); err != nil {
			if stderr.Is(err, io.EOF) || stderr.Is(err, io.ErrUnexpectedEOF) {
				return
			}
			decodeErrors++
			if decodeErrors >= _maxDecodeErrors {
				h.logger.Warnw("closing connection after repeated malformed frames", "connID", connID)
				return
			}
			if stderr.Is(err, websocket.ErrFrameTooLarge) {
				h.sendError(connID, model.EventError, "frame exceeds maximum size")
				continue
			}
			h.sendError(connID, model.EventError, "malformed frame")
			continue
		}
		decodeErrors = 0
		h.dispatch(ctx, connID, frame)
	}
}

// dispatch routes one inbound frame. Errors never travel past this point;
// they are converted to typed error frames for the originating connection.
func (h *handler) dispatch(ctx context.Context, connID string, frame model.Frame) {
	switch frame.Type {
	case model.EventJoinRoom:
		var params model.JoinRoomParams
		if err := h.decodePayload(frame.Payload, &params); err != nil {
			h.sendJoinError(connID, err)
			return
		}
		if err := h.controller.Join(ctx, connID, params); err != nil {
			h.sendJoinError(connID, err)
		}
	case model.EventLeaveRoom:
		if err := h.controller.Leave(ctx, connID); err != nil {
			h.sendError(connID, model.EventError, err.Error())
		}
	case model.EventCodeChange:
		var params model.CodeChangeParams
		if err := h.decodePayload(frame.Payload, &params); err != nil {
			h.sendError(connID, model.EventError, err.Error())
			return
		}
		if err := h.controller.CodeChange(ctx, connID, params); err != nil {
			h.sendError(connID, model.EventError, err.Error())
		}
	case model.EventCursorMove:
		var params model.CursorMoveParams
		if err := h.decodePayload(frame.Payload, &params); err != nil {
			h.sendError(connID, model.EventError, err.Error())
			return
		}
		if err := h.controller.CursorMove(ctx, connID, params); err != nil {
			h.sendError(connID, model.EventError, err.Error())
		}
	case model.EventLanguageChange:
		var params model.LanguageChangeParams
		if err := h.decodePayload(frame.Payload, &params); err != nil {
			h.sendError(connID, model.EventError, err.Error())
			return
		}
		if err := h.controller.LanguageChange(ctx, connID, params); err != nil {
			h.sendError(connID, model.EventError, err.Error())
		}
	case model.EventExecuteCode:
		var params model.ExecuteCodeParams
		if len(frame.Payload) > 0 {
			if err := json.Unmarshal(frame.Payload, &params); err != nil {
				h.sendError(connID, model.EventExecutionError, "malformed payload")
				return
			}
		}
		if err := h.controller.Execute(ctx, connID, params); err != nil {
			h.sendError(connID, model.EventExecutionError, err.Error())
		}
	case model.EventGetRoomState:
		if err := h.controller.RoomState(ctx, connID); err != nil {
			h.sendError(connID, model.EventError, err.Error())
		}
	default:
		h.sendError(connID, model.EventError, "unknown event type: "+frame.Type)
	}
}

func (h *handler) decodePayload(payload json.RawMessage, out interface{}) error {
	if len(payload) == 0 {
		return errors.ErrNoPayloadOnWire
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return errors.New("malformed payload")
	}
	return nil
}

func (h *handler) sendJoinError(connID string, cause error) {
	payload := model.RoomJoinError{Success: false, Error: cause.Error()}
	if err := h.gateway.Send(connID, mapper.Frame(model.EventRoomJoinError, payload)); err != nil {
		h.logger.Warnw("failed to send join error", "connID", connID, "error", err)
	}
}

func (h *handler) sendError(connID, eventType, message string) {
	if err := h.gateway.Send(connID, mapper.Frame(eventType, model.Error{Message: message})); err != nil {
		h.logger.Warnw("failed to send error frame", "connID", connID, "error", err)
	}
}
