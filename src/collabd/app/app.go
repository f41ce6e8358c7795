// Package app assembles the collabd service.
package app

import (
	"context"
	"time"

	"github.com/collabcode/collabd/src/collabd/controller"
	"github.com/collabcode/collabd/src/collabd/gateway"
	"github.com/collabcode/collabd/src/collabd/handler"
	"github.com/collabcode/collabd/src/collabd/internal/clock"
	"github.com/collabcode/collabd/src/collabd/internal/core"
	"github.com/collabcode/collabd/src/collabd/internal/executor"
	"github.com/collabcode/collabd/src/collabd/internal/fs"
	"github.com/collabcode/collabd/src/collabd/internal/httpfx"
	"github.com/collabcode/collabd/src/collabd/internal/runtimes"
	"github.com/collabcode/collabd/src/collabd/internal/sandbox"
	"github.com/collabcode/collabd/src/collabd/repository/room"
	"github.com/uber-go/tally"
	"go.uber.org/fx"
)

// Module defines the collabd application module.
var Module = fx.Options(
	gateway.Module,    // outbounds
	handler.Module,    // inbounds
	controller.Module, // protocol core
	room.Module,
	httpfx.Module,
	fs.Module,
	executor.Module,
	runtimes.Module,
	sandbox.Module,
	core.ConfigModule,
	core.LoggerModule,
	fx.Provide(clock.New),
	fx.Provide(func(lc fx.Lifecycle) tally.Scope {
		rs, closer := tally.NewRootScope(tally.ScopeOptions{
			Tags: map[string]string{
				"service": "collabd",
			},
		}, 1*time.Second)

		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return closer.Close()
			},
		})

		return rs
	}),
)
