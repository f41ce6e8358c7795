// Package execution exposes the sandbox's administrative surface: the
// language catalog, the current execution limits, and a limits update
// endpoint.
package execution

import (
	"encoding/json"
	"net/http"

	"github.com/collabcode/collabd/src/collabd/internal/sandbox"
	"github.com/go-chi/chi/v5"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module is the Fx module for this package.
var Module = fx.Provide(New)

// Handler serves sandbox administration over HTTP.
type Handler interface{}

// Params are inbound parameters to construct the handler.
type Params struct {
	fx.In

	Logger  *zap.SugaredLogger
	Router  *chi.Mux
	Sandbox sandbox.Sandbox
}

type handler struct {
	logger  *zap.SugaredLogger
	sandbox sandbox.Sandbox
}

type updateLimitsRequest struct {
	Memory           string `json:"memory"`
	CPUs             string `json:"cpus"`
	DefaultTimeoutMs int64  `json:"defaultTimeoutMs"`
}

// New registers the execution admin routes on the shared router.
func New(p Params) Handler {
	h := &handler{
		logger:  p.Logger,
		sandbox: p.Sandbox,
	}
	p.Router.Get("/api/execution/stats", h.stats)
	p.Router.Put("/api/execution/limits", h.updateLimits)
	return h
}

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.sandbox.Stats())
}

func (h *handler) updateLimits(w http.ResponseWriter, r *http.Request) {
	var req updateLimitsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}
	h.sandbox.UpdateLimits(sandbox.Limits{
		Memory:           req.Memory,
		CPUs:             req.CPUs,
		DefaultTimeoutMs: req.DefaultTimeoutMs,
	})
	h.writeJSON(w, http.StatusOK, h.sandbox.Stats())
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Warnw("failed to write response", "error", err)
	}
}
