package wire

import (
	"errors"
	"testing"

	"github.com/agribus-protocol/agribus-go/pkg/frame"
	"github.com/agribus-protocol/agribus-go/pkg/ident"
)

func TestMessageRoundTripAllKinds(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{"announce", Message{Kind: KindAnnounce, Source: 0x10, Destination: ident.AddrBroadcast,
			Role: ident.RoleImplement, Capabilities: 0x0000_0003}},
		{"announce ack", Message{Kind: KindAnnounceAck, Source: 0x01, Destination: 0x10,
			Status: StatusSuccess}},
		{"disconnect", Message{Kind: KindDisconnect, Source: 0x10, Destination: 0x01}},
		{"heartbeat", Message{Kind: KindHeartbeat, Source: 0x10, Destination: ident.AddrBroadcast,
			Priority: frame.PriorityLow, Seq: 42}},
		{"task start", Message{Kind: KindTaskStart, Source: 0x01, Destination: 0x10, TaskID: 3}},
		{"task ack", Message{Kind: KindTaskAck, Source: 0x10, Destination: 0x01, TaskID: 3,
			Status: StatusSuccess}},
		{"task status", Message{Kind: KindTaskStatus, Source: 0x10, Destination: 0x01, TaskID: 3,
			TaskState: 2}},
		{"task pause", Message{Kind: KindTaskPause, Source: 0x01, Destination: 0x10, TaskID: 3}},
		{"task resume", Message{Kind: KindTaskResume, Source: 0x01, Destination: 0x10, TaskID: 3}},
		{"task end", Message{Kind: KindTaskEnd, Source: 0x01, Destination: 0x10, TaskID: 3}},
		{"task abort", Message{Kind: KindTaskAbort, Source: 0x01, Destination: 0x10, TaskID: 3}},
		{"param set", Message{Kind: KindParamSet, Source: 0x01, Destination: 0x10, TaskID: 3,
			DefinitionID: 0x0101, Value: 95.5}},
		{"param set negative value", Message{Kind: KindParamSet, Source: 0x01, Destination: 0x10,
			TaskID: 3, DefinitionID: 0x0101, Value: -12.25}},
		{"param ack", Message{Kind: KindParamAck, Source: 0x10, Destination: 0x01, TaskID: 3,
			DefinitionID: 0x0101, Status: StatusOutOfRange, Value: 150}},
		{"param request", Message{Kind: KindParamRequest, Source: 0x01, Destination: 0x10,
			TaskID: 3, DefinitionID: 0x0202}},
		{"param value", Message{Kind: KindParamValue, Source: 0x10, Destination: 0x01, TaskID: 3,
			DefinitionID: 0x0202, Value: 80}},
		{"terminal", Message{Kind: KindTerminal, Source: 0x02, Destination: 0x01,
			ScreenID: 0x0007, Command: 1, Arg: 500}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := tt.msg.Encode()
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			if !f.Extended {
				t.Fatal("application messages must use the extended identifier space")
			}

			got, err := DecodeMessage(f)
			if err != nil {
				t.Fatalf("DecodeMessage failed: %v", err)
			}
			if got != tt.msg {
				t.Errorf("round trip mismatch:\n got  %+v\n want %+v", got, tt.msg)
			}
		})
	}
}

func TestMessageIdentifierLayout(t *testing.T) {
	m := Message{
		Priority:    frame.PriorityHigh,
		Kind:        KindParamSet,
		Source:      0x01,
		Destination: 0x10,
	}
	want := uint32(1)<<24 | uint32(0x20)<<16 | uint32(0x10)<<8 | uint32(0x01)
	if got := m.ID(); got != want {
		t.Errorf("ID = 0x%08X, want 0x%08X", got, want)
	}
}

func TestDecodeMessageRejectsStandardFrame(t *testing.T) {
	f, err := frame.Encode(0x101, []byte{1})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if _, err := DecodeMessage(f); !errors.Is(err, ErrNotApplication) {
		t.Errorf("expected ErrNotApplication, got %v", err)
	}
}

func TestDecodeMessageUnknownKind(t *testing.T) {
	m := Message{Kind: KindHeartbeat, Source: 1, Destination: 2, Seq: 1}
	f, err := m.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	// Rewrite the kind bits with an unassigned code and re-tag.
	id := f.ID&^uint32(0xFF<<kindShift) | uint32(0xEE)<<kindShift
	f, err = frame.EncodeExtended(id, f.Payload())
	if err != nil {
		t.Fatalf("re-encode failed: %v", err)
	}
	if _, err := DecodeMessage(f); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
}

func TestDecodeMessageTruncatedPayload(t *testing.T) {
	m := Message{Kind: KindParamSet, Source: 1, Destination: 2, TaskID: 1, DefinitionID: 7, Value: 1}
	f, err := m.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	short, err := frame.EncodeExtended(f.ID, f.Payload()[:2])
	if err != nil {
		t.Fatalf("re-encode failed: %v", err)
	}
	if _, err := DecodeMessage(short); !errors.Is(err, ErrBadPayload) {
		t.Errorf("expected ErrBadPayload, got %v", err)
	}
}

func TestDecodeMessageCorruptFrame(t *testing.T) {
	m := Message{Kind: KindHeartbeat, Source: 1, Destination: 2, Seq: 9}
	f, err := m.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	f.Data[0] ^= 0xFF
	if _, err := DecodeMessage(f); !errors.Is(err, frame.ErrCorruptFrame) {
		t.Errorf("expected ErrCorruptFrame, got %v", err)
	}
}

func TestBroadcast(t *testing.T) {
	m := Message{Kind: KindTaskAbort, Destination: ident.AddrBroadcast}
	if !m.Broadcast() {
		t.Error("destination 0xFF must report broadcast")
	}
	m.Destination = 0x10
	if m.Broadcast() {
		t.Error("unicast destination reported broadcast")
	}
}

func TestSensorReadingRoundTrip(t *testing.T) {
	tests := []struct {
		sensor SensorType
		id     uint32
		value  float64
	}{
		{SensorTemperature, 0x100, 25.0},
		{SensorHumidity, 0x101, 61.5},
		{SensorPressure, 0x102, 1013.25},
		{SensorSoilMoisture, 0x103, 42.0},
		{SensorNPK, 0x104, 7.8},
		{SensorUnknown, 0x1FF, -3.5},
	}
	for _, tt := range tests {
		t.Run(tt.sensor.String(), func(t *testing.T) {
			f, err := EncodeSensorReading(tt.sensor, tt.value)
			if err != nil {
				t.Fatalf("EncodeSensorReading failed: %v", err)
			}
			if f.ID != tt.id {
				t.Errorf("identifier = 0x%X, want 0x%X", f.ID, tt.id)
			}
			if f.Extended {
				t.Error("sensor frames use the standard identifier space")
			}

			sensor, value, err := DecodeSensorReading(f)
			if err != nil {
				t.Fatalf("DecodeSensorReading failed: %v", err)
			}
			if sensor != tt.sensor || value != tt.value {
				t.Errorf("decoded (%v, %v), want (%v, %v)", sensor, value, tt.sensor, tt.value)
			}
		})
	}
}

func TestSensorPayloadForm(t *testing.T) {
	// 25.0 scales to 2500 = 0x09C4, little-endian, zero padded to 8.
	f, err := EncodeSensorReading(SensorTemperature, 25.0)
	if err != nil {
		t.Fatalf("EncodeSensorReading failed: %v", err)
	}
	want := [8]byte{0xC4, 0x09, 0, 0, 0, 0, 0, 0}
	if f.Data != want {
		t.Errorf("payload = % X, want % X", f.Data, want)
	}
}

func TestActuatorCommandRoundTrip(t *testing.T) {
	f, err := EncodeActuatorCommand(0x05, CommandSetRate, 800)
	if err != nil {
		t.Fatalf("EncodeActuatorCommand failed: %v", err)
	}
	if f.ID != 0x205 {
		t.Errorf("identifier = 0x%X, want 0x205", f.ID)
	}
	if f.Data[0] != uint8(CommandSetRate) || f.Data[1] != 0x03 || f.Data[2] != 0x20 {
		t.Errorf("payload = % X, want [03 03 20 ...]", f.Data)
	}

	addr, cmd, value, err := DecodeActuatorCommand(f)
	if err != nil {
		t.Fatalf("DecodeActuatorCommand failed: %v", err)
	}
	if addr != 0x05 || cmd != CommandSetRate || value != 800 {
		t.Errorf("decoded (0x%02X, %v, %d), want (0x05, SET_RATE, 800)", addr, cmd, value)
	}
}

func TestActuatorCommandInvalid(t *testing.T) {
	if _, err := EncodeActuatorCommand(0x05, Command(0x09), 0); !errors.Is(err, ErrBadPayload) {
		t.Errorf("invalid command: expected ErrBadPayload, got %v", err)
	}

	f, err := frame.Encode(0x100, []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if _, _, _, err := DecodeActuatorCommand(f); !errors.Is(err, ErrBadPayload) {
		t.Errorf("out-of-range identifier: expected ErrBadPayload, got %v", err)
	}
}

func TestDefaultPriority(t *testing.T) {
	if got := DefaultPriority(KindTaskStart); got != frame.PriorityHigh {
		t.Errorf("task start priority = %v, want HIGH", got)
	}
	if got := DefaultPriority(KindHeartbeat); got != frame.PriorityLow {
		t.Errorf("heartbeat priority = %v, want LOW", got)
	}
	if got := DefaultPriority(KindParamSet); got != frame.PriorityNormal {
		t.Errorf("param set priority = %v, want NORMAL", got)
	}
}
