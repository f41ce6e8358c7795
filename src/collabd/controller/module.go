// Package controller aggregates controllers to make available to the service.
package controller

import (
	"github.com/collabcode/collabd/src/collabd/controller/collab"
	"go.uber.org/fx"
)

// Module makes all included controllers available.
var Module = fx.Options(
	collab.Module,
)
