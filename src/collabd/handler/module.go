// Package handler aggregates inbound handlers to make available to the
// service.
package handler

import (
	collabhandler "github.com/collabcode/collabd/src/collabd/handler/collab"
	executionhandler "github.com/collabcode/collabd/src/collabd/handler/execution"
	roomshandler "github.com/collabcode/collabd/src/collabd/handler/rooms"
	"go.uber.org/fx"
)

// Module makes all included handlers available. The invoke forces handler
// construction so routes are registered before the HTTP listener starts.
var Module = fx.Options(
	collabhandler.Module,
	executionhandler.Module,
	roomshandler.Module,
	fx.Invoke(func(collabhandler.Handler, executionhandler.Handler, roomshandler.Handler) {}),
)
