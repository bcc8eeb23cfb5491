package sim

import (
	"github.com/agribus-protocol/agribus-go/pkg/bus"
	"github.com/agribus-protocol/agribus-go/pkg/engine"
)

// Capability bits declared in announcements.
const (
	CapProcessData uint32 = 1 << 0
	CapSectionCtrl uint32 = 1 << 1
	CapRateCtrl    uint32 = 1 << 2
	CapDepthCtrl   uint32 = 1 << 3
)

// Process-data definition identifiers used by the presets.
const (
	DefApplicationRate uint16 = 0x0001
	DefTankPressure    uint16 = 0x0002
	DefBoomSections    uint16 = 0x0003
	DefSeedRate        uint16 = 0x0010
	DefSeedDepth       uint16 = 0x0011
)

// SprayerDefinitions is the sprayer preset's process-data catalog.
func SprayerDefinitions() []engine.Definition {
	return []engine.Definition{
		{ID: DefApplicationRate, Name: "applicationRate", Unit: "L/ha", Min: 0, Max: 120},
		{ID: DefTankPressure, Name: "tankPressure", Unit: "bar", Min: 0, Max: 8},
		{ID: DefBoomSections, Name: "boomSections", Unit: "count", Min: 0, Max: 16},
	}
}

// SeederDefinitions is the seeder preset's process-data catalog.
func SeederDefinitions() []engine.Definition {
	return []engine.Definition{
		{ID: DefSeedRate, Name: "seedRate", Unit: "kg/ha", Min: 0, Max: 80},
		{ID: DefSeedDepth, Name: "seedDepth", Unit: "cm", Min: 0, Max: 10},
	}
}

// NewSprayer creates an implement preset modelling a field sprayer.
func NewSprayer(b *bus.Bus, addr uint8) (*Implement, error) {
	return NewImplement(b, ImplementConfig{
		Addr:         addr,
		Capabilities: CapProcessData | CapSectionCtrl | CapRateCtrl,
		Definitions:  SprayerDefinitions(),
	})
}

// NewSeeder creates an implement preset modelling a pneumatic seeder.
func NewSeeder(b *bus.Bus, addr uint8) (*Implement, error) {
	return NewImplement(b, ImplementConfig{
		Addr:         addr,
		Capabilities: CapProcessData | CapRateCtrl | CapDepthCtrl,
		Definitions:  SeederDefinitions(),
	})
}
