package wire

import (
	"fmt"

	"github.com/agribus-protocol/agribus-go/pkg/frame"
)

// Command is an actuator command code.
type Command uint8

const (
	// CommandStart starts the actuator.
	CommandStart Command = 0x01
	// CommandStop stops the actuator.
	CommandStop Command = 0x02
	// CommandSetRate sets the actuator's working rate.
	CommandSetRate Command = 0x03
	// CommandReportStatus asks the actuator to report its status.
	CommandReportStatus Command = 0x04
)

// ActuatorBase is the standard-space identifier base for actuator
// commands; the target address is added to it.
const ActuatorBase uint32 = 0x200

// String returns the command name.
func (c Command) String() string {
	switch c {
	case CommandStart:
		return "START"
	case CommandStop:
		return "STOP"
	case CommandSetRate:
		return "SET_RATE"
	case CommandReportStatus:
		return "REPORT_STATUS"
	default:
		return "UNKNOWN"
	}
}

// IsValid reports whether the command code is known.
func (c Command) IsValid() bool {
	return c >= CommandStart && c <= CommandReportStatus
}

// EncodeActuatorCommand packs a command into a standard-identifier
// frame at ActuatorBase+addr: [command, value hi, value lo, 0...].
func EncodeActuatorCommand(addr uint8, cmd Command, value uint16) (frame.Frame, error) {
	if !cmd.IsValid() {
		return frame.Frame{}, fmt.Errorf("%w: actuator command 0x%02X", ErrBadPayload, uint8(cmd))
	}
	payload := make([]byte, 8)
	payload[0] = uint8(cmd)
	payload[1] = uint8(value >> 8)
	payload[2] = uint8(value)
	return frame.Encode(ActuatorBase+uint32(addr), payload)
}

// DecodeActuatorCommand verifies the frame and unpacks the target
// address, command and value.
func DecodeActuatorCommand(f frame.Frame) (addr uint8, cmd Command, value uint16, err error) {
	if f.Extended {
		return 0, 0, 0, fmt.Errorf("%w: extended identifier 0x%X", ErrNotApplication, f.ID)
	}
	id, payload, err := frame.Decode(f)
	if err != nil {
		return 0, 0, 0, err
	}
	if id < ActuatorBase || id > ActuatorBase+0xFF {
		return 0, 0, 0, fmt.Errorf("%w: identifier 0x%X outside actuator range", ErrBadPayload, id)
	}
	if len(payload) < 3 {
		return 0, 0, 0, fmt.Errorf("%w: actuator payload %d bytes, want 3", ErrBadPayload, len(payload))
	}
	cmd = Command(payload[0])
	if !cmd.IsValid() {
		return 0, 0, 0, fmt.Errorf("%w: actuator command 0x%02X", ErrBadPayload, payload[0])
	}
	return uint8(id - ActuatorBase), cmd, uint16(payload[1])<<8 | uint16(payload[2]), nil
}
