package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agribus-protocol/agribus-go/pkg/bus"
	"github.com/agribus-protocol/agribus-go/pkg/frame"
	"github.com/agribus-protocol/agribus-go/pkg/ident"
	"github.com/agribus-protocol/agribus-go/pkg/log"
	"github.com/agribus-protocol/agribus-go/pkg/wire"
)

// Engine errors.
var (
	// ErrTaskNotActive indicates parameter traffic on a task outside
	// Assigned/Running/Suspended.
	ErrTaskNotActive = errors.New("task not active")

	// ErrOutOfRange indicates a value outside a definition's valid range.
	ErrOutOfRange = errors.New("value out of range")

	// ErrTimeout indicates no response arrived within the bounded wait.
	ErrTimeout = errors.New("request timed out")

	// ErrNoHandler indicates a terminal frame with no registered handler.
	ErrNoHandler = errors.New("no handler registered")

	// ErrUnknownTask indicates a task identifier that was never created.
	ErrUnknownTask = errors.New("unknown task")

	// ErrUnknownParameter indicates a definition missing from the catalog.
	ErrUnknownParameter = errors.New("unknown parameter definition")

	// ErrRequestPending indicates a parameter request already in flight
	// for the same task and definition.
	ErrRequestPending = errors.New("request already pending")

	// ErrEngineClosed indicates an operation after Close.
	ErrEngineClosed = errors.New("engine closed")
)

// TerminalHandler handles an operator-interface message for one screen.
type TerminalHandler func(wire.Message)

// FrameHandler is invoked from Process with every newly decoded frame
// in a subscribed category.
type FrameHandler func(frame.Frame)

// paramKey identifies a pending parameter exchange.
type paramKey struct {
	task uint8
	def  uint16
}

// Config contains engine parameters.
type Config struct {
	// Address is the engine's application-layer address.
	Address uint8

	// LivenessWindow is how long a device may stay silent before it is
	// marked Disconnected. Policy value, not part of the protocol contract.
	LivenessWindow time.Duration

	// RequestTimeout bounds RequestParameter's wait.
	RequestTimeout time.Duration

	// HeartbeatInterval is how often Process emits the engine's own
	// broadcast heartbeat. Zero disables it.
	HeartbeatInterval time.Duration

	// Definitions is the process-data parameter catalog.
	Definitions []Definition

	// Logger receives wire- and engine-layer events. Nil disables logging.
	Logger log.Logger
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Address:           ident.AddrTaskController,
		LivenessWindow:    5 * time.Second,
		RequestTimeout:    2 * time.Second,
		HeartbeatInterval: time.Second,
	}
}

// Engine is the application protocol engine. It owns one bus node and
// plays the task-controller role.
type Engine struct {
	cfg      Config
	registry *ident.Registry
	bus      *bus.Bus
	node     *bus.Node
	logger   log.Logger

	mu          sync.Mutex
	closed      bool
	devices     map[uint8]*Device
	tasks       map[uint8]*Task
	nextTask    uint8
	defs        map[uint16]Definition
	pendingSets map[paramKey]float64
	pendingReqs map[paramKey]chan float64
	screens     map[uint16]TerminalHandler
	handlers    map[ident.Category][]FrameHandler

	hbSeq  uint8
	lastHB time.Time
}

// New creates an engine on the given bus, registering its node with an
// explicit accept-all filter (the engine observes all categories for
// its subscribers). The registry should be frozen before traffic starts.
func New(b *bus.Bus, registry *ident.Registry, cfg Config) (*Engine, error) {
	def := DefaultConfig()
	if cfg.Address == 0 {
		cfg.Address = def.Address
	}
	if cfg.LivenessWindow <= 0 {
		cfg.LivenessWindow = def.LivenessWindow
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NoopLogger{}
	}

	node, err := b.RegisterNode(cfg.Address, bus.AcceptAll{})
	if err != nil {
		return nil, fmt.Errorf("failed to register engine node: %w", err)
	}

	e := &Engine{
		cfg:         cfg,
		registry:    registry,
		bus:         b,
		node:        node,
		logger:      logger,
		devices:     make(map[uint8]*Device),
		tasks:       make(map[uint8]*Task),
		defs:        make(map[uint16]Definition, len(cfg.Definitions)),
		pendingSets: make(map[paramKey]float64),
		pendingReqs: make(map[paramKey]chan float64),
		screens:     make(map[uint16]TerminalHandler),
		handlers:    make(map[ident.Category][]FrameHandler),
	}
	for _, d := range cfg.Definitions {
		e.defs[d.ID] = d
	}
	return e, nil
}

// Address returns the engine's application-layer address.
func (e *Engine) Address() uint8 { return e.cfg.Address }

// Close deregisters the engine's bus node and releases every pending
// request slot. Blocked RequestParameter calls return ErrEngineClosed.
// Close is idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	for key, ch := range e.pendingReqs {
		close(ch)
		delete(e.pendingReqs, key)
	}
	// The node may already be gone if the bus owner stopped first.
	_ = e.bus.DeregisterNode(e.node)
	return nil
}

// Process drains the engine node's receive queue: it decodes pending
// frames, advances the device and task state machines, resolves pending
// request/acknowledgment matchers, dispatches category and terminal
// handlers, sweeps device liveness and emits the engine heartbeat.
//
// Errors caused by inbound frames (unknown kinds, failed decodes,
// missing terminal handlers) are recorded and returned; the offending
// frames are dropped. Process never escalates them and is safe to call
// after any of them.
func (e *Engine) Process() []error {
	type frameCall struct {
		h FrameHandler
		f frame.Frame
	}
	type terminalCall struct {
		h TerminalHandler
		m wire.Message
	}

	var errs []error
	var frameCalls []frameCall
	var terminalCalls []terminalCall

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}

	for f := range e.node.Poll() {
		cat := e.registry.Classify(f)
		if cat == ident.CategoryUnclassified {
			errs = e.record(errs, fmt.Errorf("unclassified identifier 0x%X", f.ID), "classify")
			continue
		}
		for _, h := range e.handlers[cat] {
			frameCalls = append(frameCalls, frameCall{h: h, f: f})
		}
		if cat != ident.CategorySystemControl || !f.Extended {
			continue
		}

		m, err := wire.DecodeMessage(f)
		if err != nil {
			errs = e.record(errs, err, "decode")
			continue
		}
		e.logMessage(m, log.DirectionIn)
		e.touch(m.Source)
		if m.Destination != e.cfg.Address && !m.Broadcast() {
			continue
		}

		switch m.Kind {
		case wire.KindAnnounce:
			e.handleAnnounce(m)
		case wire.KindDisconnect:
			e.handleDisconnect(m)
		case wire.KindHeartbeat:
			// LastSeen already refreshed.
		case wire.KindTaskAck:
			errs = e.handleTaskAck(m, errs)
		case wire.KindTaskStatus:
			e.handleTaskStatus(m)
		case wire.KindParamAck:
			errs = e.handleParamAck(m, errs)
		case wire.KindParamValue:
			e.handleParamValue(m)
		case wire.KindTerminal:
			h, ok := e.screens[m.ScreenID]
			if !ok {
				errs = e.record(errs, fmt.Errorf("%w: screen 0x%04X", ErrNoHandler, m.ScreenID), "terminal")
				continue
			}
			terminalCalls = append(terminalCalls, terminalCall{h: h, m: m})
		default:
			// Controller-side kinds addressed at us are protocol noise.
			errs = e.record(errs, fmt.Errorf("unexpected %s from 0x%02X", m.Kind, m.Source), "route")
		}
	}

	e.sweepLiveness(time.Now())
	e.maybeHeartbeat(time.Now())
	e.mu.Unlock()

	// Handlers run outside the engine lock, in registration order,
	// never re-entrantly with respect to the Process caller.
	for _, c := range frameCalls {
		c.h(c.f)
	}
	for _, c := range terminalCalls {
		c.h(c.m)
	}
	return errs
}

// touch refreshes a known device's liveness window.
// Caller holds e.mu.
func (e *Engine) touch(addr uint8) {
	if d, ok := e.devices[addr]; ok && d.State != DeviceDisconnected {
		d.LastSeen = time.Now()
	}
}

// handleAnnounce implements Unknown→Discovered→Connected, including
// revival of a Disconnected record by the same address.
// Caller holds e.mu.
func (e *Engine) handleAnnounce(m wire.Message) {
	d, known := e.devices[m.Source]
	switch {
	case !known:
		d = &Device{Addr: m.Source}
		e.devices[m.Source] = d
		e.logDeviceState(m.Source, DeviceUnknown, DeviceDiscovered, "announce")
	case d.State == DeviceDisconnected:
		// Address reservation: only the same address may revive the record.
		e.logDeviceState(m.Source, DeviceDisconnected, DeviceDiscovered, "re-announce")
	default:
		// Repeat announce from a live device: refresh and re-acknowledge.
	}
	d.Role = m.Role
	d.Capabilities = m.Capabilities
	d.State = DeviceDiscovered
	d.LastSeen = time.Now()

	if err := e.send(wire.Message{
		Kind:        wire.KindAnnounceAck,
		Destination: m.Source,
		Status:      wire.StatusSuccess,
	}); err != nil {
		// The device stays Discovered; its next announce retries the ack.
		return
	}
	d.State = DeviceConnected
	e.logDeviceState(m.Source, DeviceDiscovered, DeviceConnected, "acknowledged")
}

// handleDisconnect marks the device Disconnected; the record stays so
// the address remains reserved.
// Caller holds e.mu.
func (e *Engine) handleDisconnect(m wire.Message) {
	d, ok := e.devices[m.Source]
	if !ok || d.State == DeviceDisconnected {
		return
	}
	old := d.State
	d.State = DeviceDisconnected
	e.logDeviceState(m.Source, old, DeviceDisconnected, "disconnect frame")
}

// handleTaskAck advances Requested→Assigned on the implement's
// acknowledgment.
// Caller holds e.mu.
func (e *Engine) handleTaskAck(m wire.Message, errs []error) []error {
	t, ok := e.tasks[m.TaskID]
	if !ok {
		return e.record(errs, fmt.Errorf("%w: ack for task %d", ErrUnknownTask, m.TaskID), "task ack")
	}
	if m.Source != t.Implement || t.State != TaskRequested {
		return errs
	}
	if !m.Status.IsSuccess() {
		return e.record(errs, fmt.Errorf("task %d rejected by 0x%02X: %s", t.ID, m.Source, m.Status), "task ack")
	}
	e.setTaskState(t, TaskAssigned, "implement acknowledged")
	if d, ok := e.devices[t.Implement]; ok && d.State == DeviceConnected {
		d.State = DeviceActive
		e.logDeviceState(d.Addr, DeviceConnected, DeviceActive, "task participation")
	}
	return errs
}

// handleTaskStatus advances Assigned→Running on the first status frame.
// Caller holds e.mu.
func (e *Engine) handleTaskStatus(m wire.Message) {
	t, ok := e.tasks[m.TaskID]
	if !ok || m.Source != t.Implement {
		return
	}
	if t.State == TaskAssigned {
		e.setTaskState(t, TaskRunning, "first status frame")
	}
}

// handleParamAck applies a confirmed set request to the local record.
// The record changes only here, never optimistically at SetParameter.
// Caller holds e.mu.
func (e *Engine) handleParamAck(m wire.Message, errs []error) []error {
	key := paramKey{task: m.TaskID, def: m.DefinitionID}
	value, pending := e.pendingSets[key]
	if !pending {
		return errs
	}
	delete(e.pendingSets, key)

	t, ok := e.tasks[m.TaskID]
	if !ok || m.Source != t.Implement {
		return errs
	}
	if !m.Status.IsSuccess() {
		return e.record(errs, fmt.Errorf("set of definition %d on task %d rejected: %s",
			m.DefinitionID, m.TaskID, m.Status), "param ack")
	}
	t.Params[m.DefinitionID] = value
	return errs
}

// handleParamValue resolves a pending RequestParameter wait and records
// the implement's reported value.
// Caller holds e.mu.
func (e *Engine) handleParamValue(m wire.Message) {
	if t, ok := e.tasks[m.TaskID]; ok && m.Source == t.Implement {
		t.Params[m.DefinitionID] = m.Value
	}
	key := paramKey{task: m.TaskID, def: m.DefinitionID}
	if ch, ok := e.pendingReqs[key]; ok {
		ch <- m.Value
		delete(e.pendingReqs, key)
	}
}

// sweepLiveness disconnects devices that stayed silent beyond the
// liveness window. Their addresses remain reserved.
// Caller holds e.mu.
func (e *Engine) sweepLiveness(now time.Time) {
	for addr, d := range e.devices {
		if d.State == DeviceDisconnected || d.State == DeviceUnknown {
			continue
		}
		if now.Sub(d.LastSeen) <= e.cfg.LivenessWindow {
			continue
		}
		old := d.State
		d.State = DeviceDisconnected
		e.logDeviceState(addr, old, DeviceDisconnected, "liveness window expired")
	}
}

// maybeHeartbeat emits the engine's broadcast heartbeat when due.
// Caller holds e.mu.
func (e *Engine) maybeHeartbeat(now time.Time) {
	if e.cfg.HeartbeatInterval <= 0 || now.Sub(e.lastHB) < e.cfg.HeartbeatInterval {
		return
	}
	e.lastHB = now
	e.hbSeq++
	_ = e.send(wire.Message{
		Kind:        wire.KindHeartbeat,
		Destination: ident.AddrBroadcast,
		Seq:         e.hbSeq,
	})
}

// send encodes and transmits an application message from the engine's
// address at the kind's default priority.
func (e *Engine) send(m wire.Message) error {
	m.Source = e.cfg.Address
	m.Priority = wire.DefaultPriority(m.Kind)
	f, err := m.Encode()
	if err != nil {
		return err
	}
	if err := e.node.Transmit(f); err != nil {
		return err
	}
	e.logMessage(m, log.DirectionOut)
	return nil
}

// record logs an inbound-frame error and appends it to the batch.
func (e *Engine) record(errs []error, err error, context string) []error {
	addr := e.cfg.Address
	e.logger.Log(log.Event{
		Timestamp: time.Now(),
		BusID:     e.bus.ID(),
		Direction: log.DirectionIn,
		Layer:     log.LayerEngine,
		Category:  log.CategoryError,
		NodeAddr:  &addr,
		Error: &log.ErrorEventData{
			Layer:   log.LayerEngine,
			Message: err.Error(),
			Context: context,
		},
	})
	return append(errs, err)
}

// setTaskState transitions a task and logs the change.
// Caller holds e.mu.
func (e *Engine) setTaskState(t *Task, next TaskState, reason string) {
	old := t.State.String()
	t.State = next
	e.logTaskState(t.ID, old, next, reason)
}

// logTaskState logs a task lifecycle transition.
func (e *Engine) logTaskState(taskID uint8, old string, next TaskState, reason string) {
	e.logger.Log(log.Event{
		Timestamp: time.Now(),
		BusID:     e.bus.ID(),
		Direction: log.DirectionIn,
		Layer:     log.LayerEngine,
		Category:  log.CategoryState,
		TaskID:    &taskID,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityTask,
			OldState: old,
			NewState: next.String(),
			Reason:   reason,
		},
	})
}

// logDeviceState logs a device lifecycle transition.
func (e *Engine) logDeviceState(addr uint8, old, next DeviceState, reason string) {
	e.logger.Log(log.Event{
		Timestamp: time.Now(),
		BusID:     e.bus.ID(),
		Direction: log.DirectionIn,
		Layer:     log.LayerEngine,
		Category:  log.CategoryState,
		NodeAddr:  &addr,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityDevice,
			OldState: old.String(),
			NewState: next.String(),
			Reason:   reason,
		},
	})
}

// logMessage logs a wire-layer message event.
func (e *Engine) logMessage(m wire.Message, dir log.Direction) {
	addr := e.cfg.Address
	ev := log.Event{
		Timestamp: time.Now(),
		BusID:     e.bus.ID(),
		Direction: dir,
		Layer:     log.LayerWire,
		Category:  log.CategoryMessage,
		NodeAddr:  &addr,
		Message: &log.MessageEvent{
			Kind:        uint8(m.Kind),
			Source:      m.Source,
			Destination: m.Destination,
		},
	}
	switch m.Kind {
	case wire.KindTaskStart, wire.KindTaskAck, wire.KindTaskStatus,
		wire.KindTaskPause, wire.KindTaskResume, wire.KindTaskEnd, wire.KindTaskAbort:
		taskID := m.TaskID
		ev.Message.TaskID = &taskID
	case wire.KindParamSet, wire.KindParamAck, wire.KindParamRequest, wire.KindParamValue:
		taskID := m.TaskID
		defID := m.DefinitionID
		ev.Message.TaskID = &taskID
		ev.Message.DefinitionID = &defID
		if m.Kind != wire.KindParamRequest {
			value := m.Value
			ev.Message.Value = &value
		}
	}
	switch m.Kind {
	case wire.KindAnnounceAck, wire.KindTaskAck, wire.KindParamAck:
		status := uint8(m.Status)
		ev.Message.Status = &status
	}
	e.logger.Log(ev)
}
