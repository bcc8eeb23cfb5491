package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/agribus-protocol/agribus-go/pkg/frame"
	"github.com/agribus-protocol/agribus-go/pkg/ident"
)

// Codec errors.
var (
	// ErrUnknownKind indicates a message kind outside the protocol.
	ErrUnknownKind = errors.New("unknown message kind")

	// ErrBadPayload indicates a payload too short for its kind.
	ErrBadPayload = errors.New("bad message payload")

	// ErrNotApplication indicates a frame outside the application
	// identifier space (not extended).
	ErrNotApplication = errors.New("not an application frame")
)

// Extended identifier field layout.
const (
	priorityShift = 24
	kindShift     = 16
	destShift     = 8

	// valueScale is the fixed-point scaling of process-data values.
	valueScale = 100
)

// Message is a decoded application protocol message.
//
// Which fields are meaningful depends on Kind; unused fields are zero.
// Priority, Kind, Source and Destination form the extended identifier,
// everything else is packed into the payload.
type Message struct {
	Priority    frame.Priority
	Kind        Kind
	Source      uint8
	Destination uint8

	// Announce
	Role         ident.Role
	Capabilities uint32

	// AnnounceAck, TaskAck, ParamAck
	Status Status

	// Heartbeat
	Seq uint8

	// Task and process-data kinds
	TaskID       uint8
	TaskState    uint8
	DefinitionID uint16
	Value        float64

	// Terminal
	ScreenID uint16
	Command  uint8
	Arg      uint16
}

// Broadcast reports whether the message targets all devices.
func (m Message) Broadcast() bool {
	return m.Destination == ident.AddrBroadcast
}

// ID returns the message's extended frame identifier.
func (m Message) ID() uint32 {
	return uint32(m.Priority&0x7)<<priorityShift |
		uint32(m.Kind)<<kindShift |
		uint32(m.Destination)<<destShift |
		uint32(m.Source)
}

// DefaultPriority returns the arbitration class a kind normally uses.
func DefaultPriority(k Kind) frame.Priority {
	switch k {
	case KindAnnounce, KindAnnounceAck, KindDisconnect:
		return frame.PriorityHigh
	case KindTaskStart, KindTaskAck, KindTaskPause, KindTaskResume,
		KindTaskEnd, KindTaskAbort:
		return frame.PriorityHigh
	case KindParamSet, KindParamAck, KindParamRequest, KindParamValue:
		return frame.PriorityNormal
	case KindTerminal:
		return frame.PriorityNormal
	default:
		return frame.PriorityLow
	}
}

// Encode packs the message into an extended-identifier frame.
func (m Message) Encode() (frame.Frame, error) {
	if !m.Kind.IsValid() {
		return frame.Frame{}, fmt.Errorf("%w: 0x%02X", ErrUnknownKind, uint8(m.Kind))
	}

	var payload []byte
	switch m.Kind {
	case KindAnnounce:
		payload = make([]byte, 5)
		payload[0] = uint8(m.Role)
		binary.LittleEndian.PutUint32(payload[1:5], m.Capabilities)
	case KindAnnounceAck:
		payload = []byte{uint8(m.Status)}
	case KindDisconnect:
		payload = nil
	case KindHeartbeat:
		payload = []byte{m.Seq}
	case KindTaskStart, KindTaskPause, KindTaskResume, KindTaskEnd, KindTaskAbort:
		payload = []byte{m.TaskID}
	case KindTaskAck:
		payload = []byte{m.TaskID, uint8(m.Status)}
	case KindTaskStatus:
		payload = []byte{m.TaskID, m.TaskState}
	case KindParamSet:
		payload = make([]byte, 7)
		payload[0] = m.TaskID
		binary.LittleEndian.PutUint16(payload[1:3], m.DefinitionID)
		binary.LittleEndian.PutUint32(payload[3:7], uint32(scaleValue(m.Value)))
	case KindParamAck:
		payload = make([]byte, 8)
		payload[0] = m.TaskID
		binary.LittleEndian.PutUint16(payload[1:3], m.DefinitionID)
		payload[3] = uint8(m.Status)
		binary.LittleEndian.PutUint32(payload[4:8], uint32(scaleValue(m.Value)))
	case KindParamRequest:
		payload = make([]byte, 3)
		payload[0] = m.TaskID
		binary.LittleEndian.PutUint16(payload[1:3], m.DefinitionID)
	case KindParamValue:
		payload = make([]byte, 7)
		payload[0] = m.TaskID
		binary.LittleEndian.PutUint16(payload[1:3], m.DefinitionID)
		binary.LittleEndian.PutUint32(payload[3:7], uint32(scaleValue(m.Value)))
	case KindTerminal:
		payload = make([]byte, 5)
		binary.LittleEndian.PutUint16(payload[0:2], m.ScreenID)
		payload[2] = m.Command
		binary.LittleEndian.PutUint16(payload[3:5], m.Arg)
	}

	return frame.EncodeExtended(m.ID(), payload)
}

// DecodeMessage verifies the frame's integrity tag and unpacks the
// application message it carries.
func DecodeMessage(f frame.Frame) (Message, error) {
	if !f.Extended {
		return Message{}, fmt.Errorf("%w: standard identifier 0x%X", ErrNotApplication, f.ID)
	}
	id, payload, err := frame.Decode(f)
	if err != nil {
		return Message{}, err
	}

	m := Message{
		Priority:    frame.Priority(id >> priorityShift & 0x7),
		Kind:        Kind(id >> kindShift & 0xFF),
		Destination: uint8(id >> destShift & 0xFF),
		Source:      uint8(id & 0xFF),
	}
	if !m.Kind.IsValid() {
		return Message{}, fmt.Errorf("%w: 0x%02X", ErrUnknownKind, uint8(m.Kind))
	}

	need := func(n int) error {
		if len(payload) < n {
			return fmt.Errorf("%w: %s payload %d bytes, want %d", ErrBadPayload, m.Kind, len(payload), n)
		}
		return nil
	}

	switch m.Kind {
	case KindAnnounce:
		if err := need(5); err != nil {
			return Message{}, err
		}
		m.Role = ident.Role(payload[0])
		m.Capabilities = binary.LittleEndian.Uint32(payload[1:5])
	case KindAnnounceAck:
		if err := need(1); err != nil {
			return Message{}, err
		}
		m.Status = Status(payload[0])
	case KindDisconnect:
		// no payload
	case KindHeartbeat:
		if err := need(1); err != nil {
			return Message{}, err
		}
		m.Seq = payload[0]
	case KindTaskStart, KindTaskPause, KindTaskResume, KindTaskEnd, KindTaskAbort:
		if err := need(1); err != nil {
			return Message{}, err
		}
		m.TaskID = payload[0]
	case KindTaskAck:
		if err := need(2); err != nil {
			return Message{}, err
		}
		m.TaskID = payload[0]
		m.Status = Status(payload[1])
	case KindTaskStatus:
		if err := need(2); err != nil {
			return Message{}, err
		}
		m.TaskID = payload[0]
		m.TaskState = payload[1]
	case KindParamSet:
		if err := need(7); err != nil {
			return Message{}, err
		}
		m.TaskID = payload[0]
		m.DefinitionID = binary.LittleEndian.Uint16(payload[1:3])
		m.Value = unscaleValue(int32(binary.LittleEndian.Uint32(payload[3:7])))
	case KindParamAck:
		if err := need(8); err != nil {
			return Message{}, err
		}
		m.TaskID = payload[0]
		m.DefinitionID = binary.LittleEndian.Uint16(payload[1:3])
		m.Status = Status(payload[3])
		m.Value = unscaleValue(int32(binary.LittleEndian.Uint32(payload[4:8])))
	case KindParamRequest:
		if err := need(3); err != nil {
			return Message{}, err
		}
		m.TaskID = payload[0]
		m.DefinitionID = binary.LittleEndian.Uint16(payload[1:3])
	case KindParamValue:
		if err := need(7); err != nil {
			return Message{}, err
		}
		m.TaskID = payload[0]
		m.DefinitionID = binary.LittleEndian.Uint16(payload[1:3])
		m.Value = unscaleValue(int32(binary.LittleEndian.Uint32(payload[3:7])))
	case KindTerminal:
		if err := need(5); err != nil {
			return Message{}, err
		}
		m.ScreenID = binary.LittleEndian.Uint16(payload[0:2])
		m.Command = payload[2]
		m.Arg = binary.LittleEndian.Uint16(payload[3:5])
	}

	return m, nil
}

// scaleValue converts a value to its ×100 fixed-point wire form.
func scaleValue(v float64) int32 {
	return int32(math.Round(v * valueScale))
}

// unscaleValue converts the ×100 fixed-point wire form back to a value.
func unscaleValue(raw int32) float64 {
	return float64(raw) / valueScale
}
