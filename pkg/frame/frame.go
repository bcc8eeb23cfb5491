package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Identifier and payload limits.
const (
	// MaxStandardID is the largest 11-bit identifier.
	MaxStandardID = 0x7FF

	// MaxExtendedID is the largest 29-bit identifier.
	MaxExtendedID = 0x1FFFFFFF

	// MaxPayloadSize is the maximum payload length in bytes.
	MaxPayloadSize = 8

	// WireSize is the size of the marshaled binary form.
	WireSize = 18
)

// effFlag marks an extended identifier in the marshaled form.
const effFlag uint32 = 0x80000000

// Frame model errors.
var (
	// ErrInvalidPayload indicates a payload longer than 8 bytes.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrInvalidID indicates an identifier exceeding its declared bit-width.
	ErrInvalidID = errors.New("invalid identifier")

	// ErrCorruptFrame indicates an integrity tag mismatch on decode.
	ErrCorruptFrame = errors.New("corrupt frame")
)

// Direction indicates the direction of frame flow relative to a bus node.
type Direction uint8

const (
	// DirectionOut indicates an outbound frame.
	DirectionOut Direction = 0
	// DirectionIn indicates an inbound frame.
	DirectionIn Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionOut:
		return "OUT"
	case DirectionIn:
		return "IN"
	default:
		return "UNKNOWN"
	}
}

// Priority is the arbitration priority class occupying the top bits of
// extended application identifiers. Lower values win arbitration.
type Priority uint8

const (
	// PriorityHighest is reserved for system-critical traffic.
	PriorityHighest Priority = 0
	// PriorityHigh is used for task and acknowledgment traffic.
	PriorityHigh Priority = 1
	// PriorityNormal is used for process-data traffic.
	PriorityNormal Priority = 2
	// PriorityLow is used for status and heartbeat traffic.
	PriorityLow Priority = 3
)

// String returns the priority name.
func (p Priority) String() string {
	switch p {
	case PriorityHighest:
		return "HIGHEST"
	case PriorityHigh:
		return "HIGH"
	case PriorityNormal:
		return "NORMAL"
	case PriorityLow:
		return "LOW"
	default:
		return "UNKNOWN"
	}
}

// Frame is a single transport-level message unit.
//
// ID, Extended, Len, Data and Tag form the wire identity. Dir and
// Timestamp are transport metadata stamped by the bus and never
// marshaled.
type Frame struct {
	ID       uint32
	Extended bool
	Len      uint8
	Data     [MaxPayloadSize]byte
	Tag      uint16

	Dir       Direction
	Timestamp time.Time
}

// Encode constructs a standard-identifier frame.
// It fails with ErrInvalidPayload if the payload exceeds 8 bytes and
// ErrInvalidID if the identifier exceeds 11 bits.
func Encode(id uint32, payload []byte) (Frame, error) {
	if id > MaxStandardID {
		return Frame{}, fmt.Errorf("%w: 0x%X exceeds 11 bits", ErrInvalidID, id)
	}
	return encode(id, false, payload)
}

// EncodeExtended constructs an extended-identifier frame.
// It fails with ErrInvalidPayload if the payload exceeds 8 bytes and
// ErrInvalidID if the identifier exceeds 29 bits.
func EncodeExtended(id uint32, payload []byte) (Frame, error) {
	if id > MaxExtendedID {
		return Frame{}, fmt.Errorf("%w: 0x%X exceeds 29 bits", ErrInvalidID, id)
	}
	return encode(id, true, payload)
}

func encode(id uint32, extended bool, payload []byte) (Frame, error) {
	if len(payload) > MaxPayloadSize {
		return Frame{}, fmt.Errorf("%w: %d bytes, max %d", ErrInvalidPayload, len(payload), MaxPayloadSize)
	}
	f := Frame{
		ID:       id,
		Extended: extended,
		Len:      uint8(len(payload)),
	}
	copy(f.Data[:], payload)
	f.Tag = f.computeTag()
	return f, nil
}

// Decode recomputes the integrity tag and returns the frame's identifier
// and payload. It fails with ErrCorruptFrame on tag mismatch.
func Decode(f Frame) (uint32, []byte, error) {
	if err := f.Validate(); err != nil {
		return 0, nil, err
	}
	if f.Tag != f.computeTag() {
		return 0, nil, fmt.Errorf("%w: tag 0x%04X, recomputed 0x%04X", ErrCorruptFrame, f.Tag, f.computeTag())
	}
	return f.ID, f.Payload(), nil
}

// Validate checks the frame's structural invariants.
func (f Frame) Validate() error {
	if f.Len > MaxPayloadSize {
		return fmt.Errorf("%w: length %d", ErrInvalidPayload, f.Len)
	}
	if f.Extended {
		if f.ID > MaxExtendedID {
			return fmt.Errorf("%w: 0x%X exceeds 29 bits", ErrInvalidID, f.ID)
		}
	} else if f.ID > MaxStandardID {
		return fmt.Errorf("%w: 0x%X exceeds 11 bits", ErrInvalidID, f.ID)
	}
	return nil
}

// Payload returns a copy of the active payload bytes.
func (f Frame) Payload() []byte {
	p := make([]byte, f.Len)
	copy(p, f.Data[:f.Len])
	return p
}

// ArbitrationOrder returns a total order across both identifier spaces.
// Standard identifiers compare on their 11 bits aligned to the extended
// width, and a standard frame precedes an extended frame with the equal
// aligned value (the dominant-bit rule). Lower order wins arbitration.
func (f Frame) ArbitrationOrder() uint64 {
	if f.Extended {
		return uint64(f.ID)<<1 | 1
	}
	return uint64(f.ID) << (18 + 1)
}

// WireBits returns the approximate number of bits the frame occupies on
// the wire, used for utilization accounting. A standard frame costs
// 47+8*len bits, an extended frame 67+8*len.
func (f Frame) WireBits() int {
	if f.Extended {
		return 67 + 8*int(f.Len)
	}
	return 47 + 8*int(f.Len)
}

// Marshal encodes the frame to its 18-byte binary form.
func (f Frame) Marshal() ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	id := f.ID
	if f.Extended {
		id |= effFlag
	}
	buf := make([]byte, WireSize)
	binary.LittleEndian.PutUint32(buf[0:4], id)
	buf[4] = f.Len
	binary.LittleEndian.PutUint16(buf[6:8], f.Tag)
	copy(buf[8:], f.Data[:])
	return buf, nil
}

// Unmarshal decodes the 18-byte binary form, re-verifying the integrity
// tag. It fails with ErrCorruptFrame if the stored tag does not match a
// recomputation over the received bytes.
func (f *Frame) Unmarshal(data []byte) error {
	if len(data) != WireSize {
		return fmt.Errorf("%w: %d bytes, want %d", ErrCorruptFrame, len(data), WireSize)
	}
	id := binary.LittleEndian.Uint32(data[0:4])
	f.Extended = id&effFlag != 0
	f.ID = id &^ effFlag
	f.Len = data[4]
	f.Tag = binary.LittleEndian.Uint16(data[6:8])
	copy(f.Data[:], data[8:])
	if err := f.Validate(); err != nil {
		return err
	}
	if got := f.computeTag(); got != f.Tag {
		return fmt.Errorf("%w: tag 0x%04X, recomputed 0x%04X", ErrCorruptFrame, f.Tag, got)
	}
	return nil
}

// String returns a compact human-readable form.
func (f Frame) String() string {
	space := "STD"
	if f.Extended {
		space = "EXT"
	}
	return fmt.Sprintf("%s 0x%X [%d] % X", space, f.ID, f.Len, f.Data[:f.Len])
}

// computeTag calculates CRC-16/CCITT over the identifier (with the
// extended flag), length and payload bytes.
func (f Frame) computeTag() uint16 {
	var idBuf [5]byte
	id := f.ID
	if f.Extended {
		id |= effFlag
	}
	binary.LittleEndian.PutUint32(idBuf[0:4], id)
	idBuf[4] = f.Len
	crc := crc16(0xFFFF, idBuf[:])
	return crc16(crc, f.Data[:f.Len])
}

// crc16 computes CRC-16/CCITT (polynomial 0x1021) over data, continuing
// from the given running value.
func crc16(crc uint16, data []byte) uint16 {
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
