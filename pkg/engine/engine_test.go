package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agribus-protocol/agribus-go/pkg/bus"
	"github.com/agribus-protocol/agribus-go/pkg/engine"
	"github.com/agribus-protocol/agribus-go/pkg/frame"
	"github.com/agribus-protocol/agribus-go/pkg/ident"
	"github.com/agribus-protocol/agribus-go/pkg/sim"
	"github.com/agribus-protocol/agribus-go/pkg/wire"
)

const implementAddr = 0x10

// rig wires a registry, bus, engine and sprayer implement together.
type rig struct {
	t        *testing.T
	registry *ident.Registry
	bus      *bus.Bus
	engine   *engine.Engine
	sprayer  *sim.Implement
}

func newRig(t *testing.T) *rig {
	t.Helper()

	registry := ident.NewRegistry()
	require.NoError(t, registry.RegisterRange(ident.CategorySensor, 0x100, 0x1FF))
	require.NoError(t, registry.RegisterRange(ident.CategoryActuator, 0x200, 0x2FF))
	require.NoError(t, registry.RegisterExtendedRange(ident.CategorySystemControl, 0, frame.MaxExtendedID))
	require.NoError(t, registry.AssignRole(ident.AddrTaskController, ident.RoleTaskController))
	require.NoError(t, registry.AssignRole(implementAddr, ident.RoleImplement))
	registry.Freeze()

	b := bus.New(bus.Config{})
	require.NoError(t, b.Start(bus.Bitrate250k))
	t.Cleanup(b.Stop)

	eng, err := engine.New(b, registry, engine.Config{
		Definitions:    sim.SprayerDefinitions(),
		RequestTimeout: 200 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })

	sprayer, err := sim.NewSprayer(b, implementAddr)
	require.NoError(t, err)

	return &rig{t: t, registry: registry, bus: b, engine: eng, sprayer: sprayer}
}

// pump runs delivery cycles and both protocol sides until traffic settles.
func (r *rig) pump() {
	r.t.Helper()
	for i := 0; i < 6; i++ {
		r.bus.Cycle()
		r.engine.Process()
		r.sprayer.Process()
	}
}

// connect announces the sprayer and pumps until it is Connected.
func (r *rig) connect() {
	r.t.Helper()
	require.NoError(r.t, r.sprayer.Announce())
	r.pump()

	d, ok := r.engine.Device(implementAddr)
	require.True(r.t, ok, "device record missing after announce")
	require.Equal(r.t, engine.DeviceConnected, d.State)
	require.True(r.t, r.sprayer.Connected())
}

// startTask connects and starts a task, pumping until it runs.
func (r *rig) startTask(initial map[uint16]float64) uint8 {
	r.t.Helper()
	r.connect()
	taskID, err := r.engine.StartTask(implementAddr, initial)
	require.NoError(r.t, err)
	r.pump()
	return taskID
}

func TestDeviceDiscoveryLifecycle(t *testing.T) {
	r := newRig(t)

	_, ok := r.engine.Device(implementAddr)
	assert.False(t, ok, "device known before announce")

	r.connect()

	d, _ := r.engine.Device(implementAddr)
	assert.Equal(t, ident.RoleImplement, d.Role)
	assert.NotZero(t, d.Capabilities)
}

func TestDeviceDisconnectReservesAddress(t *testing.T) {
	r := newRig(t)
	r.connect()

	require.NoError(t, r.sprayer.Disconnect())
	r.pump()

	d, ok := r.engine.Device(implementAddr)
	require.True(t, ok, "disconnected record must stay reserved")
	assert.Equal(t, engine.DeviceDisconnected, d.State)

	// Task targeting a disconnected device fails.
	_, err := r.engine.StartTask(implementAddr, nil)
	assert.ErrorIs(t, err, ident.ErrUnknownAddress)

	// Re-announce from the same address revives the record.
	require.NoError(t, r.sprayer.Announce())
	r.pump()
	d, _ = r.engine.Device(implementAddr)
	assert.Equal(t, engine.DeviceConnected, d.State)
}

func TestLivenessExpiry(t *testing.T) {
	registry := ident.NewRegistry()
	require.NoError(t, registry.RegisterExtendedRange(ident.CategorySystemControl, 0, frame.MaxExtendedID))
	registry.Freeze()

	b := bus.New(bus.Config{})
	require.NoError(t, b.Start(0))
	defer b.Stop()

	eng, err := engine.New(b, registry, engine.Config{
		LivenessWindow: 30 * time.Millisecond,
	})
	require.NoError(t, err)
	defer eng.Close()

	impl, err := sim.NewSprayer(b, implementAddr)
	require.NoError(t, err)
	require.NoError(t, impl.Announce())
	for i := 0; i < 4; i++ {
		b.Cycle()
		eng.Process()
		impl.Process()
	}
	d, _ := eng.Device(implementAddr)
	require.Equal(t, engine.DeviceConnected, d.State)

	time.Sleep(50 * time.Millisecond)
	eng.Process()

	d, ok := eng.Device(implementAddr)
	require.True(t, ok)
	assert.Equal(t, engine.DeviceDisconnected, d.State)
}

func TestTaskLifecycle(t *testing.T) {
	r := newRig(t)
	taskID := r.startTask(map[uint16]float64{sim.DefApplicationRate: 80.0})

	task, ok := r.engine.Task(taskID)
	require.True(t, ok)
	assert.Equal(t, engine.TaskRunning, task.State, "ack then status must reach Running")
	assert.Equal(t, 80.0, task.Params[sim.DefApplicationRate])

	d, _ := r.engine.Device(implementAddr)
	assert.Equal(t, engine.DeviceActive, d.State)

	require.NoError(t, r.engine.PauseTask(taskID))
	task, _ = r.engine.Task(taskID)
	assert.Equal(t, engine.TaskSuspended, task.State)

	require.NoError(t, r.engine.ResumeTask(taskID))
	r.pump()
	task, _ = r.engine.Task(taskID)
	assert.Equal(t, engine.TaskRunning, task.State)

	require.NoError(t, r.engine.EndTask(taskID))
	task, _ = r.engine.Task(taskID)
	assert.Equal(t, engine.TaskCompleted, task.State)

	// Terminal tasks reject every further command and parameter update.
	assert.ErrorIs(t, r.engine.PauseTask(taskID), engine.ErrTaskNotActive)
	assert.ErrorIs(t, r.engine.SetParameter(taskID, sim.DefApplicationRate, 50), engine.ErrTaskNotActive)

	d, _ = r.engine.Device(implementAddr)
	assert.Equal(t, engine.DeviceConnected, d.State, "device released after last task")
}

func TestTaskInvalidTransitions(t *testing.T) {
	r := newRig(t)
	taskID := r.startTask(nil)

	// Resume without pause.
	assert.ErrorIs(t, r.engine.ResumeTask(taskID), engine.ErrTaskNotActive)

	require.NoError(t, r.engine.AbortTask(taskID))
	task, _ := r.engine.Task(taskID)
	assert.Equal(t, engine.TaskAborted, task.State)
	assert.ErrorIs(t, r.engine.EndTask(taskID), engine.ErrTaskNotActive)

	assert.ErrorIs(t, r.engine.PauseTask(99), engine.ErrUnknownTask)
}

func TestSetParameterConfirmationSemantics(t *testing.T) {
	r := newRig(t)
	taskID := r.startTask(map[uint16]float64{sim.DefApplicationRate: 80.0})

	// Out of range is rejected locally; stored value unchanged.
	err := r.engine.SetParameter(taskID, sim.DefApplicationRate, 150.0)
	require.ErrorIs(t, err, engine.ErrOutOfRange)
	task, _ := r.engine.Task(taskID)
	assert.Equal(t, 80.0, task.Params[sim.DefApplicationRate])

	// In-range set: no optimistic update before the acknowledgment.
	require.NoError(t, r.engine.SetParameter(taskID, sim.DefApplicationRate, 95.0))
	task, _ = r.engine.Task(taskID)
	assert.Equal(t, 80.0, task.Params[sim.DefApplicationRate],
		"local record must not change before the ack is observed")

	r.pump()
	task, _ = r.engine.Task(taskID)
	assert.Equal(t, 95.0, task.Params[sim.DefApplicationRate])

	v, ok := r.sprayer.Value(sim.DefApplicationRate)
	require.True(t, ok)
	assert.Equal(t, 95.0, v)

	// Unknown definition.
	assert.ErrorIs(t, r.engine.SetParameter(taskID, 0xDEAD, 1), engine.ErrUnknownParameter)
}

func TestRequestParameter(t *testing.T) {
	r := newRig(t)
	taskID := r.startTask(nil)
	r.sprayer.SetValue(sim.DefTankPressure, 4.5)

	done := make(chan struct{})
	var value float64
	var err error
	go func() {
		defer close(done)
		value, err = r.engine.RequestParameter(context.Background(), taskID, sim.DefTankPressure)
	}()

	// Drive the exchange until the waiter finishes.
	deadline := time.After(2 * time.Second)
	for {
		r.bus.Cycle()
		r.engine.Process()
		r.sprayer.Process()
		select {
		case <-done:
			require.NoError(t, err)
			assert.Equal(t, 4.5, value)
			return
		case <-deadline:
			t.Fatal("RequestParameter never completed")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestRequestParameterTimeout(t *testing.T) {
	r := newRig(t)
	taskID := r.startTask(nil)

	// Nothing pumps the bus, so no response ever arrives.
	start := time.Now()
	_, err := r.engine.RequestParameter(context.Background(), taskID, sim.DefTankPressure)
	require.ErrorIs(t, err, engine.ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)

	// The matching slot was released: a new request is accepted.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.engine.RequestParameter(ctx, taskID, sim.DefTankPressure)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRequestParameterCancellation(t *testing.T) {
	r := newRig(t)
	taskID := r.startTask(nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := r.engine.RequestParameter(ctx, taskID, sim.DefTankPressure)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancellation did not release the waiter")
	}

	// Slot released on cancellation: the next request is not ErrRequestPending.
	_, err := r.engine.RequestParameter(ctx, taskID, sim.DefTankPressure)
	assert.NotErrorIs(t, err, engine.ErrRequestPending)
}

func TestTerminalRouting(t *testing.T) {
	r := newRig(t)
	r.connect()

	var routed []wire.Message
	require.NoError(t, r.engine.RegisterScreenHandler(0x0007, func(m wire.Message) {
		routed = append(routed, m)
	}))

	// A terminal node sends a screen command to the engine.
	terminal, err := r.bus.RegisterNode(ident.AddrVirtualTerminal)
	require.NoError(t, err)
	send := func(screen uint16) {
		m := wire.Message{
			Kind:        wire.KindTerminal,
			Source:      ident.AddrVirtualTerminal,
			Destination: r.engine.Address(),
			ScreenID:    screen,
			Command:     1,
			Arg:         500,
		}
		f, err := m.Encode()
		require.NoError(t, err)
		require.NoError(t, terminal.Transmit(f))
	}

	send(0x0007)
	r.bus.Cycle()
	errs := r.engine.Process()
	assert.Empty(t, errs)
	require.Len(t, routed, 1)
	assert.Equal(t, uint16(500), routed[0].Arg)

	// No handler: recorded and dropped, never escalated.
	send(0x0099)
	r.bus.Cycle()
	errs = r.engine.Process()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], engine.ErrNoHandler)
	assert.Len(t, routed, 1)

	// Unregistered handlers drop subsequent frames for their screen.
	r.engine.UnregisterScreenHandler(0x0007)
	send(0x0007)
	r.bus.Cycle()
	errs = r.engine.Process()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], engine.ErrNoHandler)
}

func TestOnFrameSubscription(t *testing.T) {
	r := newRig(t)
	r.connect()

	var sensorFrames []frame.Frame
	r.engine.OnFrame(ident.CategorySensor, func(f frame.Frame) {
		sensorFrames = append(sensorFrames, f)
	})

	station, err := sim.NewWeatherStation(r.bus, 0x20, 1)
	require.NoError(t, err)
	require.NoError(t, station.Publish())

	r.bus.Cycle()
	r.engine.Process()

	assert.Len(t, sensorFrames, 3, "temperature, humidity and pressure frames")
	for _, f := range sensorFrames {
		assert.Equal(t, ident.CategorySensor, r.registry.Classify(f))
	}
}

func TestPublishSensorReading(t *testing.T) {
	r := newRig(t)

	monitor, err := r.bus.RegisterNode(0x30, bus.RangeFilter{Low: 0x100, High: 0x1FF})
	require.NoError(t, err)

	require.NoError(t, r.engine.PublishSensorReading(wire.SensorTemperature, 25.0))
	r.bus.Cycle()

	var got []frame.Frame
	for f := range monitor.Poll() {
		got = append(got, f)
	}
	require.Len(t, got, 1)
	sensor, value, err := wire.DecodeSensorReading(got[0])
	require.NoError(t, err)
	assert.Equal(t, wire.SensorTemperature, sensor)
	assert.Equal(t, 25.0, value)
}

func TestIssueActuatorCommand(t *testing.T) {
	r := newRig(t)

	// Unregistered target.
	err := r.engine.IssueActuatorCommand(0x40, wire.CommandStart, 0)
	assert.ErrorIs(t, err, ident.ErrUnknownAddress)

	// Broadcast bypasses the registry check.
	require.NoError(t, r.engine.IssueActuatorCommand(ident.AddrBroadcast, wire.CommandStop, 0))

	// Registered target.
	r.connect()
	require.NoError(t, r.engine.IssueActuatorCommand(implementAddr, wire.CommandSetRate, 800))
}

func TestEngineClosed(t *testing.T) {
	r := newRig(t)
	r.connect()
	require.NoError(t, r.engine.Close())

	_, err := r.engine.StartTask(implementAddr, nil)
	assert.ErrorIs(t, err, engine.ErrEngineClosed)
	assert.ErrorIs(t, r.engine.SetParameter(1, sim.DefApplicationRate, 1), engine.ErrEngineClosed)
	assert.ErrorIs(t, r.engine.PublishSensorReading(wire.SensorNPK, 1), engine.ErrEngineClosed)
	assert.ErrorIs(t, r.engine.RegisterScreenHandler(1, func(wire.Message) {}), engine.ErrEngineClosed)
	assert.Nil(t, r.engine.Process())
	assert.NoError(t, r.engine.Close(), "Close is idempotent")
}

func TestProcessRecordsUnclassifiedFrames(t *testing.T) {
	r := newRig(t)

	stray, err := r.bus.RegisterNode(0x50)
	require.NoError(t, err)
	f, err := frame.Encode(0x7F0, []byte{1}) // outside every registered range
	require.NoError(t, err)
	require.NoError(t, stray.Transmit(f))

	r.bus.Cycle()
	errs := r.engine.Process()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "unclassified")

	// The engine stays usable.
	assert.Empty(t, r.engine.Process())
}

func TestStartTaskSurfacesTransmitFailure(t *testing.T) {
	registry := ident.NewRegistry()
	require.NoError(t, registry.RegisterRange(ident.CategorySensor, 0x100, 0x1FF))
	require.NoError(t, registry.RegisterRange(ident.CategoryActuator, 0x200, 0x2FF))
	require.NoError(t, registry.RegisterExtendedRange(ident.CategorySystemControl, 0, frame.MaxExtendedID))
	require.NoError(t, registry.AssignRole(ident.AddrTaskController, ident.RoleTaskController))
	require.NoError(t, registry.AssignRole(implementAddr, ident.RoleImplement))
	registry.Freeze()

	b := bus.New(bus.Config{TransmitQueueSize: 1})
	require.NoError(t, b.Start(bus.Bitrate250k))
	t.Cleanup(b.Stop)

	eng, err := engine.New(b, registry, engine.Config{Definitions: sim.SprayerDefinitions()})
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })

	sprayer, err := sim.NewSprayer(b, implementAddr)
	require.NoError(t, err)

	pump := func() {
		for i := 0; i < 6; i++ {
			b.Cycle()
			eng.Process()
			sprayer.Process()
		}
	}

	require.NoError(t, sprayer.Announce())
	pump()
	require.True(t, sprayer.Connected())

	// The start command fills the single transmit slot, so the initial
	// value's frame cannot be queued behind it.
	taskID, err := eng.StartTask(implementAddr, map[uint16]float64{sim.DefApplicationRate: 80})
	require.ErrorIs(t, err, bus.ErrQueueFull)
	require.NotZero(t, taskID, "task identifier must ride along with the error")

	task, ok := eng.Task(taskID)
	require.True(t, ok, "task must exist so the caller can retry or abort")
	assert.Equal(t, engine.TaskRequested, task.State)
	assert.NotContains(t, task.Params, sim.DefApplicationRate,
		"an untransmitted value must not be recorded")

	pump()
	_, ok = sprayer.Value(sim.DefApplicationRate)
	assert.False(t, ok, "the implement never saw the dropped frame")

	// Once the queue drains the caller can deliver the value normally.
	require.NoError(t, eng.SetParameter(taskID, sim.DefApplicationRate, 80))
	pump()

	task, _ = eng.Task(taskID)
	assert.Equal(t, 80.0, task.Params[sim.DefApplicationRate])
	got, ok := sprayer.Value(sim.DefApplicationRate)
	require.True(t, ok)
	assert.Equal(t, 80.0, got)
}
