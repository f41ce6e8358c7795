// Package gateway aggregates outbound gateways to make available to the
// service.
package gateway

import (
	"github.com/collabcode/collabd/src/collabd/gateway/peers"
	"go.uber.org/fx"
)

// Module makes all included gateways available.
var Module = fx.Options(
	peers.Module,
)
