package engine

import (
	"time"

	"github.com/agribus-protocol/agribus-go/pkg/ident"
)

// DeviceState is a device record's lifecycle state.
type DeviceState uint8

const (
	// DeviceUnknown is the zero state before discovery.
	DeviceUnknown DeviceState = 0
	// DeviceDiscovered means an announcement was received but not yet
	// acknowledged.
	DeviceDiscovered DeviceState = 1
	// DeviceConnected means the device is in the active registry.
	DeviceConnected DeviceState = 2
	// DeviceActive means the device participates in a task.
	DeviceActive DeviceState = 3
	// DeviceDisconnected means the device left or timed out; its
	// address stays reserved.
	DeviceDisconnected DeviceState = 4
)

// String returns the device state name.
func (s DeviceState) String() string {
	switch s {
	case DeviceUnknown:
		return "UNKNOWN"
	case DeviceDiscovered:
		return "DISCOVERED"
	case DeviceConnected:
		return "CONNECTED"
	case DeviceActive:
		return "ACTIVE"
	case DeviceDisconnected:
		return "DISCONNECTED"
	default:
		return "INVALID"
	}
}

// Device is an application-layer device record.
type Device struct {
	Addr         uint8
	Role         ident.Role
	Capabilities uint32
	State        DeviceState
	LastSeen     time.Time
}

// TaskState is a task's lifecycle state.
type TaskState uint8

const (
	// TaskRequested means the start command was issued, awaiting the
	// implement's acknowledgment.
	TaskRequested TaskState = 0
	// TaskAssigned means the implement acknowledged the task.
	TaskAssigned TaskState = 1
	// TaskRunning means the implement reported its first status.
	TaskRunning TaskState = 2
	// TaskSuspended means the task is paused and resumable.
	TaskSuspended TaskState = 3
	// TaskCompleted is terminal.
	TaskCompleted TaskState = 4
	// TaskAborted is terminal.
	TaskAborted TaskState = 5
)

// String returns the task state name.
func (s TaskState) String() string {
	switch s {
	case TaskRequested:
		return "REQUESTED"
	case TaskAssigned:
		return "ASSIGNED"
	case TaskRunning:
		return "RUNNING"
	case TaskSuspended:
		return "SUSPENDED"
	case TaskCompleted:
		return "COMPLETED"
	case TaskAborted:
		return "ABORTED"
	default:
		return "INVALID"
	}
}

// Terminal reports whether the state accepts no further transitions.
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskAborted
}

// acceptsParams reports whether parameter traffic is allowed.
func (s TaskState) acceptsParams() bool {
	switch s {
	case TaskAssigned, TaskRunning, TaskSuspended:
		return true
	default:
		return false
	}
}

// Task is a unit of work assigned to an implement: a parameter map of
// confirmed target values and a lifecycle state.
type Task struct {
	ID        uint8
	Implement uint8
	State     TaskState
	Params    map[uint16]float64
}

// Definition describes a process-data parameter: a named,
// range-constrained value exchanged between controller and implement.
type Definition struct {
	ID   uint16
	Name string
	Unit string
	Min  float64
	Max  float64
}

// InRange reports whether the value lies within [Min, Max].
func (d Definition) InRange(v float64) bool {
	return v >= d.Min && v <= d.Max
}
