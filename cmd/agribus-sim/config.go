package main

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/agribus-protocol/agribus-go/pkg/bus"
	"github.com/agribus-protocol/agribus-go/pkg/engine"
	"github.com/agribus-protocol/agribus-go/pkg/frame"
	"github.com/agribus-protocol/agribus-go/pkg/ident"
	"github.com/agribus-protocol/agribus-go/pkg/sim"
)

// SimConfig is the YAML simulation configuration.
type SimConfig struct {
	// Bitrate is the simulated wire speed in bit/s.
	Bitrate int `yaml:"bitrate"`

	// Controller is the engine's bus address.
	Controller uint8 `yaml:"controller"`

	// Ranges is the identifier range plan. Empty uses the default plan.
	Ranges []RangeConfig `yaml:"ranges"`

	// Definitions is the engine's process-data catalog. Empty uses the
	// union of the preset catalogs.
	Definitions []DefinitionConfig `yaml:"definitions"`

	// Devices is the simulated fleet.
	Devices []DeviceConfig `yaml:"devices"`
}

// RangeConfig is one identifier range entry.
type RangeConfig struct {
	Category string `yaml:"category"` // sensor, actuator, system
	Low      uint32 `yaml:"low"`
	High     uint32 `yaml:"high"`
	Extended bool   `yaml:"extended"`
}

// DefinitionConfig is one process-data definition entry.
type DefinitionConfig struct {
	ID   uint16  `yaml:"id"`
	Name string  `yaml:"name"`
	Unit string  `yaml:"unit"`
	Min  float64 `yaml:"min"`
	Max  float64 `yaml:"max"`
}

// DeviceConfig is one simulated device entry.
type DeviceConfig struct {
	Type    string `yaml:"type"` // sprayer, seeder, weather
	Address uint8  `yaml:"address"`
	Seed    int64  `yaml:"seed"`
}

// DefaultSimConfig returns the fleet used when no config file is given:
// one sprayer, one seeder and a weather station.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		Bitrate:    int(bus.Bitrate250k),
		Controller: ident.AddrTaskController,
		Devices: []DeviceConfig{
			{Type: "sprayer", Address: 0x10},
			{Type: "seeder", Address: 0x11},
			{Type: "weather", Address: 0x20, Seed: 1},
		},
	}
}

// LoadSimConfig reads a YAML configuration file, filling unset fields
// from the defaults.
func LoadSimConfig(path string) (SimConfig, error) {
	cfg := DefaultSimConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	if !bus.Bitrate(cfg.Bitrate).Valid() {
		return cfg, fmt.Errorf("invalid bitrate %d (use 125000, 250000, 500000 or 1000000)", cfg.Bitrate)
	}
	if cfg.Controller == ident.AddrBroadcast {
		return cfg, fmt.Errorf("controller address 0x%02X is reserved", cfg.Controller)
	}
	return cfg, nil
}

// buildRegistry assembles and freezes the identifier registry from the
// configured range and address plan.
func buildRegistry(cfg SimConfig) (*ident.Registry, error) {
	registry := ident.NewRegistry()

	ranges := cfg.Ranges
	if len(ranges) == 0 {
		ranges = []RangeConfig{
			{Category: "sensor", Low: 0x100, High: 0x1FF},
			{Category: "actuator", Low: 0x200, High: 0x2FF},
			{Category: "system", Low: 0, High: frame.MaxExtendedID, Extended: true},
		}
	}
	for _, r := range ranges {
		cat, err := parseCategory(r.Category)
		if err != nil {
			return nil, err
		}
		if r.Extended {
			err = registry.RegisterExtendedRange(cat, r.Low, r.High)
		} else {
			err = registry.RegisterRange(cat, r.Low, r.High)
		}
		if err != nil {
			return nil, fmt.Errorf("range %s [0x%X, 0x%X]: %w", r.Category, r.Low, r.High, err)
		}
	}

	if err := registry.AssignRole(cfg.Controller, ident.RoleTaskController); err != nil {
		return nil, err
	}
	if err := registry.AssignRole(ident.AddrVirtualTerminal, ident.RoleVirtualTerminal); err != nil {
		return nil, err
	}
	for _, d := range cfg.Devices {
		// Weather stations only publish frames in the sensor identifier
		// range and never announce, so they stay out of the address plan.
		if d.Type == "weather" {
			continue
		}
		if err := registry.AssignRole(d.Address, ident.RoleImplement); err != nil {
			return nil, fmt.Errorf("device 0x%02X: %w", d.Address, err)
		}
	}

	registry.Freeze()
	return registry, nil
}

// definitions returns the engine's catalog: configured entries, or the
// union of the presets.
func (cfg SimConfig) definitions() []engine.Definition {
	if len(cfg.Definitions) == 0 {
		return append(sim.SprayerDefinitions(), sim.SeederDefinitions()...)
	}
	defs := make([]engine.Definition, 0, len(cfg.Definitions))
	for _, d := range cfg.Definitions {
		defs = append(defs, engine.Definition{
			ID: d.ID, Name: d.Name, Unit: d.Unit, Min: d.Min, Max: d.Max,
		})
	}
	return defs
}

func parseCategory(s string) (ident.Category, error) {
	switch strings.ToLower(s) {
	case "sensor":
		return ident.CategorySensor, nil
	case "actuator":
		return ident.CategoryActuator, nil
	case "system", "systemcontrol":
		return ident.CategorySystemControl, nil
	default:
		return 0, fmt.Errorf("unknown category: %s (use sensor, actuator, or system)", s)
	}
}
