// Package inverter talks to the battery inverter. The controller only sees
// the System interface; vendor details stay behind it.
package inverter

import (
	"context"

	"github.com/voltvakt/voltvakt/pkg/types"
)

// System defines the interface for interacting with a battery inverter.
type System interface {
	// GetEnergyFlow returns the instantaneous power flows of the site.
	GetEnergyFlow(ctx context.Context, systemID string) (types.EnergyFlow, error)

	// GetBatterySOC returns the current state of charge.
	GetBatterySOC(ctx context.Context, systemID string) (types.BatterySOC, error)

	// SetMode applies an action at the given power. Calls are idempotent
	// within a quarter: repeating the same mode is a no-op at the inverter.
	SetMode(ctx context.Context, systemID string, action types.Action, powerKW float64) error
}
