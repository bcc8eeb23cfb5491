package sim

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/agribus-protocol/agribus-go/pkg/bus"
	"github.com/agribus-protocol/agribus-go/pkg/wire"
)

// WeatherStation publishes sensor readings from a small random-walk
// model: temperature, humidity and barometric pressure drift within
// plausible field conditions.
type WeatherStation struct {
	node *bus.Node
	rng  *rand.Rand

	mu          sync.Mutex
	temperature float64
	humidity    float64
	pressure    float64
}

// NewWeatherStation registers a transmit-only node (no filters) for the
// station and seeds the model.
func NewWeatherStation(b *bus.Bus, addr uint8, seed int64) (*WeatherStation, error) {
	node, err := b.RegisterNode(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to register weather station node: %w", err)
	}
	return &WeatherStation{
		node:        node,
		rng:         rand.New(rand.NewSource(seed)),
		temperature: 18.0,
		humidity:    55.0,
		pressure:    1013.0,
	}, nil
}

// Step advances the model one tick.
func (w *WeatherStation) Step() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.temperature = clamp(w.temperature+w.rng.Float64()-0.5, -10, 45)
	w.humidity = clamp(w.humidity+2*(w.rng.Float64()-0.5), 5, 100)
	w.pressure = clamp(w.pressure+0.4*(w.rng.Float64()-0.5), 950, 1060)
}

// Publish transmits one reading per sensor. A full transmit queue stops
// the batch and returns the error; the caller decides whether to retry.
func (w *WeatherStation) Publish() error {
	w.mu.Lock()
	readings := []struct {
		sensor wire.SensorType
		value  float64
	}{
		{wire.SensorTemperature, w.temperature},
		{wire.SensorHumidity, w.humidity},
		{wire.SensorPressure, w.pressure},
	}
	w.mu.Unlock()

	for _, r := range readings {
		f, err := wire.EncodeSensorReading(r.sensor, r.value)
		if err != nil {
			return err
		}
		if err := w.node.Transmit(f); err != nil {
			return err
		}
	}
	return nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
