// Package rooms exposes the REST collaborator surface: health and room
// provisioning for clients that create a room before opening the realtime
// connection.
package rooms

import (
	"encoding/json"
	stderr "errors"
	"io"
	"net/http"
	"time"

	"github.com/collabcode/collabd/src/collabd/internal/clock"
	"github.com/collabcode/collabd/src/collabd/internal/errors"
	"github.com/collabcode/collabd/src/collabd/repository/room"
	"github.com/go-chi/chi/v5"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module is the Fx module for this package.
var Module = fx.Provide(New)

// Handler serves room provisioning over HTTP.
type Handler interface{}

// Params are inbound parameters to construct the handler.
type Params struct {
	fx.In

	Logger *zap.SugaredLogger
	Router *chi.Mux
	Rooms  room.Repository
	Clock  clock.Clock
}

type handler struct {
	logger *zap.SugaredLogger
	rooms  room.Repository
	clock  clock.Clock
}

type healthResponse struct {
	Status      string `json:"status"`
	Rooms       int    `json:"rooms"`
	ActiveUsers int    `json:"activeUsers"`
}

type createRoomRequest struct {
	Language string `json:"language"`
}

type createRoomResponse struct {
	RoomID    string `json:"roomId"`
	Language  string `json:"language"`
	CreatedAt string `json:"createdAt"`
}

type roomResponse struct {
	RoomID    string `json:"roomId"`
	Language  string `json:"language"`
	UserCount int    `json:"userCount"`
	CreatedAt string `json:"createdAt"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// New registers the REST routes on the shared router.
func New(p Params) Handler {
	h := &handler{
		logger: p.Logger,
		rooms:  p.Rooms,
		clock:  p.Clock,
	}
	p.Router.Get("/health", h.health)
	p.Router.Post("/api/rooms", h.createRoom)
	p.Router.Get("/api/rooms/{roomID}", h.getRoom)
	return h
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	roomCount, err := h.rooms.RoomCount(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	userCount, err := h.rooms.ParticipantCount(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		Rooms:       roomCount,
		ActiveUsers: userCount,
	})
}

func (h *handler) createRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if r.Body != nil {
		// An empty or absent body means default language.
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !stderr.Is(err, io.EOF) {
			h.writeError(w, http.StatusBadRequest, errors.New("malformed request body"))
			return
		}
	}

	created, err := h.rooms.Create(r.Context(), req.Language)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	snapshot := created.Snapshot()
	h.writeJSON(w, http.StatusCreated, createRoomResponse{
		RoomID:    snapshot.ID,
		Language:  snapshot.Language,
		CreatedAt: snapshot.CreatedAt.UTC().Format(time.RFC3339),
	})
}

func (h *handler) getRoom(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	found, err := h.rooms.Get(r.Context(), roomID)
	if err != nil {
		if _, ok := errors.NotFoundRoom(err); ok {
			h.writeError(w, http.StatusNotFound, err)
			return
		}
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	snapshot := found.Snapshot()
	h.writeJSON(w, http.StatusOK, roomResponse{
		RoomID:    snapshot.ID,
		Language:  snapshot.Language,
		UserCount: len(snapshot.Users),
		CreatedAt: snapshot.CreatedAt.UTC().Format(time.RFC3339),
	})
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Warnw("failed to write response", "error", err)
	}
}

func (h *handler) writeError(w http.ResponseWriter, status int, cause error) {
	h.writeJSON(w, status, errorResponse{Error: cause.Error()})
}
