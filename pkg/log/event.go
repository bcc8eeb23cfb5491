package log

import (
	"time"
)

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// BusID uniquely identifies the bus instance (UUID).
	BusID string `cbor:"2,keyasint"`

	// Direction indicates frame/message flow relative to the local node.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// NodeAddr is the local node's bus address, if the event is
	// node-scoped.
	NodeAddr *uint8 `cbor:"6,keyasint,omitempty"`

	// TaskID is the task identifier, for task-scoped engine events.
	TaskID *uint8 `cbor:"7,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"` // Transport layer
	Message     *MessageEvent     `cbor:"11,keyasint,omitempty"` // Wire layer (decoded)
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"` // Device/task/bus state
	Error       *ErrorEventData   `cbor:"13,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of frame or message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming frame or message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing frame or message.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which protocol layer captured the event.
type Layer uint8

const (
	// LayerTransport is the bus layer (raw frames).
	LayerTransport Layer = 0
	// LayerWire is the application message codec layer.
	LayerWire Layer = 1
	// LayerEngine is the application protocol engine layer.
	LayerEngine Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerEngine:
		return "ENGINE"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryFrame indicates a raw frame event.
	CategoryFrame Category = 0
	// CategoryMessage indicates a decoded application message.
	CategoryMessage Category = 1
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryFrame:
		return "FRAME"
	case CategoryMessage:
		return "MESSAGE"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures a raw frame at the transport layer.
type FrameEvent struct {
	// ID is the frame identifier.
	ID uint32 `cbor:"1,keyasint"`

	// Extended indicates a 29-bit identifier.
	Extended bool `cbor:"2,keyasint,omitempty"`

	// Data is the payload bytes.
	Data []byte `cbor:"3,keyasint,omitempty"`

	// Tag is the frame's integrity tag.
	Tag uint16 `cbor:"4,keyasint"`

	// Dropped indicates the frame was discarded (full receive queue,
	// decode failure).
	Dropped bool `cbor:"5,keyasint,omitempty"`
}

// MessageEvent captures a decoded application message at the wire layer.
// Kind and Status are the wire package's numeric codes; the log package
// stays below the codec in the dependency order and does not name them.
type MessageEvent struct {
	// Kind is the wire message kind code.
	Kind uint8 `cbor:"1,keyasint"`

	// Source is the sending device address.
	Source uint8 `cbor:"2,keyasint"`

	// Destination is the target device address (0xFF = broadcast).
	Destination uint8 `cbor:"3,keyasint"`

	// TaskID is the referenced task, if any.
	TaskID *uint8 `cbor:"4,keyasint,omitempty"`

	// DefinitionID is the referenced process-data definition, if any.
	DefinitionID *uint16 `cbor:"5,keyasint,omitempty"`

	// Status is the wire status code carried by acknowledgments.
	Status *uint8 `cbor:"6,keyasint,omitempty"`

	// Value is the process-data value, if the message carries one.
	Value *float64 `cbor:"7,keyasint,omitempty"`
}

// StateChangeEvent captures device, task and bus lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityBus indicates a bus lifecycle change.
	StateEntityBus StateEntity = 0
	// StateEntityDevice indicates a device record state change.
	StateEntityDevice StateEntity = 1
	// StateEntityTask indicates a task state change.
	StateEntityTask StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityBus:
		return "BUS"
	case StateEntityDevice:
		return "DEVICE"
	case StateEntityTask:
		return "TASK"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Context describes what was happening when the error occurred.
	Context string `cbor:"3,keyasint,omitempty"`
}
