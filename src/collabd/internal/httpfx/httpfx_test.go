package httpfx

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/config"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
)

func newModule(t *testing.T, address string) (HTTPModule, error) {
	provider, err := config.NewStaticProvider(map[string]interface{}{
		"http": map[string]interface{}{"address": address},
	})
	require.NoError(t, err)

	m, _, err := New(Params{
		Config:    provider,
		Lifecycle: fxtest.NewLifecycle(t),
		Logger:    zap.NewNop().Sugar(),
	})
	return m, err
}

func TestServeAndShutdown(t *testing.T) {
	provider, err := config.NewStaticProvider(map[string]interface{}{
		"http": map[string]interface{}{"address": "127.0.0.1:0"},
	})
	require.NoError(t, err)

	m, router, err := New(Params{
		Config:    provider,
		Lifecycle: fxtest.NewLifecycle(t),
		Logger:    zap.NewNop().Sugar(),
	})
	require.NoError(t, err)
	router.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, m.OnStart(context.Background()))
	defer m.OnStop(context.Background())

	resp, err := http.Get(fmt.Sprintf("http://%s/ping", m.Addr()))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	require.NoError(t, m.OnStop(context.Background()))
}

func TestMissingAddress(t *testing.T) {
	_, err := newModule(t, "")
	assert.Error(t, err)
}
