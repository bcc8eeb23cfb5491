package sim_test

import (
	"errors"
	"testing"

	"github.com/agribus-protocol/agribus-go/pkg/bus"
	"github.com/agribus-protocol/agribus-go/pkg/ident"
	"github.com/agribus-protocol/agribus-go/pkg/sim"
	"github.com/agribus-protocol/agribus-go/pkg/wire"
)

// controller is a bare bus participant playing the task-controller side
// of the exchange, so implement behavior is observable without the full
// protocol engine.
type controller struct {
	node *bus.Node
}

func newController(t *testing.T, b *bus.Bus) *controller {
	t.Helper()
	node, err := b.RegisterNode(ident.AddrTaskController, bus.AcceptAll{})
	if err != nil {
		t.Fatalf("failed to register controller node: %v", err)
	}
	return &controller{node: node}
}

func (c *controller) send(t *testing.T, m wire.Message) {
	t.Helper()
	m.Source = ident.AddrTaskController
	m.Priority = wire.DefaultPriority(m.Kind)
	f, err := m.Encode()
	if err != nil {
		t.Fatalf("failed to encode %s: %v", m.Kind, err)
	}
	if err := c.node.Transmit(f); err != nil {
		t.Fatalf("failed to transmit %s: %v", m.Kind, err)
	}
}

func (c *controller) drain(t *testing.T) []wire.Message {
	t.Helper()
	var out []wire.Message
	for f := range c.node.Poll() {
		if !f.Extended {
			continue
		}
		m, err := wire.DecodeMessage(f)
		if err != nil {
			t.Fatalf("failed to decode reply: %v", err)
		}
		out = append(out, m)
	}
	return out
}

func newTestBus(t *testing.T) *bus.Bus {
	t.Helper()
	b := bus.New(bus.Config{})
	if err := b.Start(0); err != nil {
		t.Fatalf("failed to start bus: %v", err)
	}
	t.Cleanup(b.Stop)
	return b
}

func TestImplementAnnounceCarriesIdentity(t *testing.T) {
	b := newTestBus(t)
	ctrl := newController(t, b)
	sprayer, err := sim.NewSprayer(b, 0x10)
	if err != nil {
		t.Fatalf("NewSprayer: %v", err)
	}

	if err := sprayer.Announce(); err != nil {
		t.Fatalf("Announce: %v", err)
	}
	b.Cycle()

	replies := ctrl.drain(t)
	if len(replies) != 1 {
		t.Fatalf("got %d messages, want 1", len(replies))
	}
	m := replies[0]
	if m.Kind != wire.KindAnnounce {
		t.Errorf("got kind %s, want %s", m.Kind, wire.KindAnnounce)
	}
	if m.Role != ident.RoleImplement {
		t.Errorf("got role %s, want %s", m.Role, ident.RoleImplement)
	}
	if m.Capabilities&sim.CapRateCtrl == 0 {
		t.Error("sprayer announce missing rate-control capability bit")
	}
	if !m.Broadcast() {
		t.Error("announce must broadcast")
	}
}

func TestImplementTaskStartAcknowledges(t *testing.T) {
	b := newTestBus(t)
	ctrl := newController(t, b)
	sprayer, err := sim.NewSprayer(b, 0x10)
	if err != nil {
		t.Fatalf("NewSprayer: %v", err)
	}

	ctrl.send(t, wire.Message{Kind: wire.KindTaskStart, Destination: 0x10, TaskID: 7})
	b.Cycle()
	if errs := sprayer.Process(); len(errs) != 0 {
		t.Fatalf("Process errors: %v", errs)
	}
	b.Cycle()

	replies := ctrl.drain(t)
	if len(replies) != 2 {
		t.Fatalf("got %d replies, want ack and status", len(replies))
	}
	if replies[0].Kind != wire.KindTaskAck || replies[0].Status != wire.StatusSuccess {
		t.Errorf("first reply = %s/%s, want %s/%s",
			replies[0].Kind, replies[0].Status, wire.KindTaskAck, wire.StatusSuccess)
	}
	if replies[1].Kind != wire.KindTaskStatus || replies[1].TaskID != 7 {
		t.Errorf("second reply = %s task %d, want %s task 7",
			replies[1].Kind, replies[1].TaskID, wire.KindTaskStatus)
	}
}

func TestImplementParamSetStatuses(t *testing.T) {
	tests := []struct {
		name       string
		taskID     uint8
		defID      uint16
		value      float64
		wantStatus wire.Status
	}{
		{"in range", 7, sim.DefApplicationRate, 80, wire.StatusSuccess},
		{"out of range", 7, sim.DefApplicationRate, 150, wire.StatusOutOfRange},
		{"unknown definition", 7, 0xDEAD, 1, wire.StatusUnknownParameter},
		{"unknown task", 9, sim.DefApplicationRate, 80, wire.StatusUnknownTask},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBus(t)
			ctrl := newController(t, b)
			sprayer, err := sim.NewSprayer(b, 0x10)
			if err != nil {
				t.Fatalf("NewSprayer: %v", err)
			}

			ctrl.send(t, wire.Message{Kind: wire.KindTaskStart, Destination: 0x10, TaskID: 7})
			b.Cycle()
			sprayer.Process()
			b.Cycle()
			ctrl.drain(t)

			ctrl.send(t, wire.Message{
				Kind: wire.KindParamSet, Destination: 0x10,
				TaskID: tt.taskID, DefinitionID: tt.defID, Value: tt.value,
			})
			b.Cycle()
			sprayer.Process()
			b.Cycle()

			replies := ctrl.drain(t)
			if len(replies) != 1 {
				t.Fatalf("got %d replies, want 1", len(replies))
			}
			if replies[0].Kind != wire.KindParamAck {
				t.Fatalf("got kind %s, want %s", replies[0].Kind, wire.KindParamAck)
			}
			if replies[0].Status != tt.wantStatus {
				t.Errorf("got status %s, want %s", replies[0].Status, tt.wantStatus)
			}
		})
	}
}

func TestImplementRejectedSetKeepsValue(t *testing.T) {
	b := newTestBus(t)
	ctrl := newController(t, b)
	sprayer, err := sim.NewSprayer(b, 0x10)
	if err != nil {
		t.Fatalf("NewSprayer: %v", err)
	}
	sprayer.SetValue(sim.DefApplicationRate, 60)

	ctrl.send(t, wire.Message{Kind: wire.KindTaskStart, Destination: 0x10, TaskID: 1})
	ctrl.send(t, wire.Message{
		Kind: wire.KindParamSet, Destination: 0x10,
		TaskID: 1, DefinitionID: sim.DefApplicationRate, Value: 500,
	})
	b.Cycle()
	sprayer.Process()

	if v, _ := sprayer.Value(sim.DefApplicationRate); v != 60 {
		t.Errorf("stored value = %v after rejected set, want 60", v)
	}
}

func TestImplementParamRequestReportsValue(t *testing.T) {
	b := newTestBus(t)
	ctrl := newController(t, b)
	sprayer, err := sim.NewSprayer(b, 0x10)
	if err != nil {
		t.Fatalf("NewSprayer: %v", err)
	}
	sprayer.SetValue(sim.DefTankPressure, 3.25)

	ctrl.send(t, wire.Message{
		Kind: wire.KindParamRequest, Destination: 0x10,
		TaskID: 1, DefinitionID: sim.DefTankPressure,
	})
	b.Cycle()
	sprayer.Process()
	b.Cycle()

	replies := ctrl.drain(t)
	if len(replies) != 1 {
		t.Fatalf("got %d replies, want 1", len(replies))
	}
	if replies[0].Kind != wire.KindParamValue {
		t.Fatalf("got kind %s, want %s", replies[0].Kind, wire.KindParamValue)
	}
	if replies[0].Value != 3.25 {
		t.Errorf("got value %v, want 3.25", replies[0].Value)
	}
}

func TestImplementIgnoresTrafficForOthers(t *testing.T) {
	b := newTestBus(t)
	ctrl := newController(t, b)
	sprayer, err := sim.NewSprayer(b, 0x10)
	if err != nil {
		t.Fatalf("NewSprayer: %v", err)
	}

	// Addressed at a different implement: filtered at the transport.
	ctrl.send(t, wire.Message{Kind: wire.KindTaskStart, Destination: 0x11, TaskID: 3})
	b.Cycle()
	sprayer.Process()
	b.Cycle()

	if replies := ctrl.drain(t); len(replies) != 0 {
		t.Errorf("got %d replies to another implement's task start, want 0", len(replies))
	}
}

func TestImplementAddressConflict(t *testing.T) {
	b := newTestBus(t)
	if _, err := sim.NewSprayer(b, 0x10); err != nil {
		t.Fatalf("NewSprayer: %v", err)
	}
	_, err := sim.NewSeeder(b, 0x10)
	if !errors.Is(err, bus.ErrAddressInUse) {
		t.Errorf("got %v, want %v", err, bus.ErrAddressInUse)
	}
}

func TestWeatherStationPublishesAllSensors(t *testing.T) {
	b := newTestBus(t)
	monitor, err := b.RegisterNode(0x30, bus.RangeFilter{Low: 0x100, High: 0x1FF})
	if err != nil {
		t.Fatalf("failed to register monitor node: %v", err)
	}
	station, err := sim.NewWeatherStation(b, 0x20, 42)
	if err != nil {
		t.Fatalf("NewWeatherStation: %v", err)
	}

	station.Step()
	if err := station.Publish(); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	b.Cycle()

	seen := make(map[wire.SensorType]float64)
	for f := range monitor.Poll() {
		sensor, value, err := wire.DecodeSensorReading(f)
		if err != nil {
			t.Fatalf("failed to decode reading: %v", err)
		}
		seen[sensor] = value
	}
	for _, sensor := range []wire.SensorType{
		wire.SensorTemperature, wire.SensorHumidity, wire.SensorPressure,
	} {
		if _, ok := seen[sensor]; !ok {
			t.Errorf("no reading for %s", sensor)
		}
	}
	if h := seen[wire.SensorHumidity]; h < 5 || h > 100 {
		t.Errorf("humidity %v outside model bounds", h)
	}
}
