// Package httpfx owns the HTTP listener that carries both the realtime
// websocket endpoint and the REST collaborator surface.
package httpfx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const _configKeyAddress = "http.address"

// Module is an fx module serving HTTP requests.
var Module = fx.Provide(New)

// HTTPModule manages the shared HTTP server. Handlers register their routes
// on the router before the fx lifecycle starts the listener.
type HTTPModule interface {
	OnStart(ctx context.Context) error
	OnStop(ctx context.Context) error
	Addr() string
}

type module struct {
	address string

	router *chi.Mux
	ln     net.Listener
	server *http.Server
	logger *zap.SugaredLogger
}

// Params define values to be used by the HTTP module.
type Params struct {
	fx.In

	Config    config.Provider
	Lifecycle fx.Lifecycle
	Logger    *zap.SugaredLogger
}

// New creates the shared router and a server bound to the configured address.
func New(p Params) (HTTPModule, *chi.Mux, error) {
	if p.Lifecycle == nil || p.Config == nil {
		return nil, nil, errors.New("required parameters are missing")
	}

	m := &module{
		router: chi.NewRouter(),
		logger: p.Logger,
	}

	if err := m.processConfig(p.Config); err != nil {
		return nil, nil, err
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: m.OnStart,
		OnStop:  m.OnStop,
	})

	return m, m.router, nil
}

// OnStart binds the listener and begins serving connections.
func (m *module) OnStart(ctx context.Context) error {
	ln, err := net.Listen("tcp", m.address)
	if err != nil {
		return err
	}
	m.ln = ln
	m.server = &http.Server{Handler: m.router}

	go m.start()
	return nil
}

// OnStop drains and shuts down the server.
func (m *module) OnStop(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}

// Addr returns the listener address once started.
func (m *module) Addr() string {
	if m.ln != nil {
		return m.ln.Addr().String()
	}
	return m.address
}

// start will begin serving connections, and panic on error.
func (m *module) start() {
	m.logger.Infow("started HTTP inbound", zap.String("address", m.Addr()))
	if err := m.server.Serve(m.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		panic(err)
	}
}

// processConfig will parse the configuration for any values required by this module.
func (m *module) processConfig(cfg config.Provider) error {
	val := cfg.Get(_configKeyAddress)
	if err := val.Populate(&m.address); err != nil {
		// incorrectly formatted config
		return fmt.Errorf("getting config field %q: %w", _configKeyAddress, err)
	}

	if m.address == "" {
		// yaml is missing either the key or value
		return fmt.Errorf("missing field %q in config", _configKeyAddress)
	}

	return nil
}
