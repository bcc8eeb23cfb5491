package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/agribus-protocol/agribus-go/pkg/ident"
	"github.com/agribus-protocol/agribus-go/pkg/wire"
)

// StartTask issues a task-start command naming an implement address and
// an initial parameter set. The task is created in Requested state and
// becomes Assigned once the implement acknowledges (observed in a later
// Process call).
//
// It fails with ident.ErrUnknownAddress if the implement is not a
// connected device, ErrUnknownParameter or ErrOutOfRange for bad
// initial values, and transport errors from the underlying transmit.
// When an initial value's transmit fails after the start command went
// out, the returned task identifier is valid alongside the error: the
// task exists in Requested state, unsent values are not recorded, and
// the caller decides whether to retry via SetParameter or AbortTask.
func (e *Engine) StartTask(implAddr uint8, initial map[uint16]float64) (uint8, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return 0, ErrEngineClosed
	}
	d, ok := e.devices[implAddr]
	if !ok || (d.State != DeviceConnected && d.State != DeviceActive) {
		return 0, fmt.Errorf("%w: 0x%02X is not a connected device", ident.ErrUnknownAddress, implAddr)
	}
	for defID, value := range initial {
		def, ok := e.defs[defID]
		if !ok {
			return 0, fmt.Errorf("%w: %d", ErrUnknownParameter, defID)
		}
		if !def.InRange(value) {
			return 0, fmt.Errorf("%w: %s=%v outside [%v, %v]",
				ErrOutOfRange, def.Name, value, def.Min, def.Max)
		}
	}

	id := e.allocTaskID()
	t := &Task{
		ID:        id,
		Implement: implAddr,
		State:     TaskRequested,
		Params:    make(map[uint16]float64, len(initial)),
	}

	if err := e.send(wire.Message{
		Kind:        wire.KindTaskStart,
		Destination: implAddr,
		TaskID:      id,
	}); err != nil {
		return 0, err
	}

	e.tasks[id] = t
	e.logTaskState(id, "", TaskRequested, "task start issued")

	// Initial values ride along as ParamSet frames; unlike SetParameter
	// on a live task they are applied locally up front, since the task
	// is not yet assigned and the implement echoes them on acceptance.
	// A value is recorded only once its frame is actually queued, so a
	// transmit failure never leaves the record ahead of the wire.
	for _, defID := range sortedKeys(initial) {
		if err := e.send(wire.Message{
			Kind:         wire.KindParamSet,
			Destination:  implAddr,
			TaskID:       id,
			DefinitionID: defID,
			Value:        initial[defID],
		}); err != nil {
			return id, fmt.Errorf("initial parameter %d: %w", defID, err)
		}
		t.Params[defID] = initial[defID]
	}

	return id, nil
}

// PauseTask suspends a running task.
func (e *Engine) PauseTask(taskID uint8) error {
	return e.taskCommand(taskID, wire.KindTaskPause, TaskSuspended, TaskRunning)
}

// ResumeTask resumes a suspended task.
func (e *Engine) ResumeTask(taskID uint8) error {
	return e.taskCommand(taskID, wire.KindTaskResume, TaskRunning, TaskSuspended)
}

// EndTask completes a task from any non-terminal state. Completed is
// terminal: subsequent parameter traffic fails with ErrTaskNotActive.
func (e *Engine) EndTask(taskID uint8) error {
	return e.taskCommand(taskID, wire.KindTaskEnd, TaskCompleted,
		TaskRequested, TaskAssigned, TaskRunning, TaskSuspended)
}

// AbortTask aborts a task from any non-terminal state.
func (e *Engine) AbortTask(taskID uint8) error {
	return e.taskCommand(taskID, wire.KindTaskAbort, TaskAborted,
		TaskRequested, TaskAssigned, TaskRunning, TaskSuspended)
}

// taskCommand validates the transition, emits the command frame and
// applies the new state locally.
func (e *Engine) taskCommand(taskID uint8, kind wire.Kind, next TaskState, from ...TaskState) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrEngineClosed
	}
	t, ok := e.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownTask, taskID)
	}
	allowed := false
	for _, s := range from {
		if t.State == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: task %d is %s", ErrTaskNotActive, taskID, t.State)
	}

	if err := e.send(wire.Message{
		Kind:        kind,
		Destination: t.Implement,
		TaskID:      taskID,
	}); err != nil {
		return err
	}
	e.setTaskState(t, next, kind.String())
	if next.Terminal() {
		e.releaseImplement(t.Implement)
	}
	return nil
}

// releaseImplement drops a device back from Active to Connected when it
// no longer participates in any non-terminal task.
// Caller holds e.mu.
func (e *Engine) releaseImplement(addr uint8) {
	for _, t := range e.tasks {
		if t.Implement == addr && !t.State.Terminal() {
			return
		}
	}
	if d, ok := e.devices[addr]; ok && d.State == DeviceActive {
		d.State = DeviceConnected
		e.logDeviceState(addr, DeviceActive, DeviceConnected, "no active tasks")
	}
}

// SetParameter issues a process-data set request. The local record is
// updated only after the implement's acknowledgment frame is observed,
// never optimistically; the engine does not retry unacknowledged sets.
//
// It fails with ErrUnknownTask, ErrTaskNotActive unless the task is
// Assigned/Running/Suspended, ErrUnknownParameter for an uncataloged
// definition and ErrOutOfRange for a value outside the valid range.
func (e *Engine) SetParameter(taskID uint8, defID uint16, value float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrEngineClosed
	}
	t, def, err := e.paramTarget(taskID, defID)
	if err != nil {
		return err
	}
	if !def.InRange(value) {
		return fmt.Errorf("%w: %s=%v outside [%v, %v]", ErrOutOfRange, def.Name, value, def.Min, def.Max)
	}

	if err := e.send(wire.Message{
		Kind:         wire.KindParamSet,
		Destination:  t.Implement,
		TaskID:       taskID,
		DefinitionID: defID,
		Value:        value,
	}); err != nil {
		return err
	}
	e.pendingSets[paramKey{task: taskID, def: defID}] = value
	return nil
}

// RequestParameter emits a request frame and blocks until the matching
// response arrives, the context is cancelled, or the configured bound
// elapses (ErrTimeout). The response-matching slot is released on every
// exit path. Only one request per (task, definition) may be in flight.
func (e *Engine) RequestParameter(ctx context.Context, taskID uint8, defID uint16) (float64, error) {
	key := paramKey{task: taskID, def: defID}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return 0, ErrEngineClosed
	}
	t, _, err := e.paramTarget(taskID, defID)
	if err != nil {
		e.mu.Unlock()
		return 0, err
	}
	if _, inFlight := e.pendingReqs[key]; inFlight {
		e.mu.Unlock()
		return 0, fmt.Errorf("%w: task %d definition %d", ErrRequestPending, taskID, defID)
	}
	ch := make(chan float64, 1)
	e.pendingReqs[key] = ch

	if err := e.send(wire.Message{
		Kind:         wire.KindParamRequest,
		Destination:  t.Implement,
		TaskID:       taskID,
		DefinitionID: defID,
	}); err != nil {
		delete(e.pendingReqs, key)
		e.mu.Unlock()
		return 0, err
	}
	timeout := e.cfg.RequestTimeout
	e.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case v, ok := <-ch:
		if !ok {
			return 0, ErrEngineClosed
		}
		return v, nil
	case <-ctx.Done():
		e.releaseRequest(key, ch)
		return 0, ctx.Err()
	case <-timer.C:
		e.releaseRequest(key, ch)
		return 0, fmt.Errorf("%w: task %d definition %d", ErrTimeout, taskID, defID)
	}
}

// releaseRequest frees a response-matching slot if it is still ours.
func (e *Engine) releaseRequest(key paramKey, ch chan float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, ok := e.pendingReqs[key]; ok && cur == ch {
		delete(e.pendingReqs, key)
	}
}

// paramTarget validates a parameter operation's task and definition.
// Caller holds e.mu.
func (e *Engine) paramTarget(taskID uint8, defID uint16) (*Task, Definition, error) {
	t, ok := e.tasks[taskID]
	if !ok {
		return nil, Definition{}, fmt.Errorf("%w: %d", ErrUnknownTask, taskID)
	}
	if !t.State.acceptsParams() {
		return nil, Definition{}, fmt.Errorf("%w: task %d is %s", ErrTaskNotActive, taskID, t.State)
	}
	def, ok := e.defs[defID]
	if !ok {
		return nil, Definition{}, fmt.Errorf("%w: %d", ErrUnknownParameter, defID)
	}
	return t, def, nil
}

// RegisterScreenHandler binds an operator-interface screen identifier
// to a handler. Registering a screen twice replaces the handler.
func (e *Engine) RegisterScreenHandler(screenID uint16, h TerminalHandler) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrEngineClosed
	}
	if h == nil {
		return fmt.Errorf("nil handler for screen 0x%04X", screenID)
	}
	e.screens[screenID] = h
	return nil
}

// UnregisterScreenHandler removes a screen's handler. Terminal frames
// for it are subsequently recorded as ErrNoHandler and dropped.
func (e *Engine) UnregisterScreenHandler(screenID uint16) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.screens, screenID)
}

// OnFrame registers a handler invoked from Process, in registration
// order, with every newly decoded frame in the category.
func (e *Engine) OnFrame(cat ident.Category, h FrameHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if h == nil {
		return
	}
	e.handlers[cat] = append(e.handlers[cat], h)
}

// PublishSensorReading encodes a reading in the sensor identifier range
// and transmits it on the engine's node.
func (e *Engine) PublishSensorReading(sensor wire.SensorType, value float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrEngineClosed
	}
	f, err := wire.EncodeSensorReading(sensor, value)
	if err != nil {
		return err
	}
	return e.node.Transmit(f)
}

// IssueActuatorCommand transmits a command frame for the target device.
// It fails with ident.ErrUnknownAddress if the target is not a
// registered device; the broadcast address bypasses the registry check
// and acknowledgment tracking entirely.
func (e *Engine) IssueActuatorCommand(addr uint8, cmd wire.Command, value uint16) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrEngineClosed
	}
	if addr != ident.AddrBroadcast {
		d, ok := e.devices[addr]
		if !ok || d.State == DeviceDisconnected {
			return fmt.Errorf("%w: 0x%02X is not a registered device", ident.ErrUnknownAddress, addr)
		}
	}
	f, err := wire.EncodeActuatorCommand(addr, cmd, value)
	if err != nil {
		return err
	}
	return e.node.Transmit(f)
}

// Devices returns a snapshot of all device records, sorted by address.
func (e *Engine) Devices() []Device {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Device, 0, len(e.devices))
	for _, d := range e.devices {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

// Device returns a snapshot of one device record.
func (e *Engine) Device(addr uint8) (Device, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	d, ok := e.devices[addr]
	if !ok {
		return Device{}, false
	}
	return *d, true
}

// Tasks returns a snapshot of all tasks, sorted by identifier.
func (e *Engine) Tasks() []Task {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Task, 0, len(e.tasks))
	for _, t := range e.tasks {
		out = append(out, snapshotTask(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Task returns a snapshot of one task.
func (e *Engine) Task(taskID uint8) (Task, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.tasks[taskID]
	if !ok {
		return Task{}, false
	}
	return snapshotTask(t), true
}

func snapshotTask(t *Task) Task {
	c := *t
	c.Params = make(map[uint16]float64, len(t.Params))
	for k, v := range t.Params {
		c.Params[k] = v
	}
	return c
}

// Definitions returns the parameter catalog, sorted by identifier.
func (e *Engine) Definitions() []Definition {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Definition, 0, len(e.defs))
	for _, d := range e.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// allocTaskID hands out the next free task identifier, skipping zero.
// Caller holds e.mu.
func (e *Engine) allocTaskID() uint8 {
	for {
		e.nextTask++
		if e.nextTask == 0 {
			e.nextTask = 1
		}
		if _, taken := e.tasks[e.nextTask]; !taken {
			return e.nextTask
		}
	}
}

func sortedKeys(m map[uint16]float64) []uint16 {
	keys := make([]uint16, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
