package controller

import (
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/voltvakt/voltvakt/pkg/types"
)

// ConfiguredSettings registers flags for the controller settings and returns
// the instance they populate. Scalar overrides cover the common knobs; the
// full record can be supplied as JSON. Validate after lflag.Configure.
func ConfiguredSettings() *types.Settings {
	s := types.DefaultSettings()

	lflag.JSON(&s, "settings", s, "JSON settings record overriding the defaults")
	systemID := lflag.String("system-id", "", "identifier of the controlled system")
	timezone := lflag.String("timezone", "", "market timezone, e.g. Europe/Stockholm")
	priceArea := lflag.String("area", "", "Swedish bidding area (SE1-SE4)")
	interval := lflag.Duration("optimization-interval", 0, "time between controller ticks (default 15m)")
	exportSolar := lflag.Bool("export-excess-solar", false, "export surplus PV when the battery is full")
	selfConsume := lflag.Bool("self-consume", false, "discharge only to cover local load")

	lflag.Do(func() {
		if *systemID != "" {
			s.SystemID = *systemID
		}
		if *timezone != "" {
			s.Timezone = *timezone
		}
		if *priceArea != "" {
			s.PriceArea = *priceArea
		}
		if *interval != 0 {
			s.OptimizationInterval = time.Duration(*interval)
		}
		if *exportSolar {
			s.ExportExcessSolar = true
		}
		if *selfConsume {
			s.SelfConsumePreference = true
		}
	})

	return &s
}
