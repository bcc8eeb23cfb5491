package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/agribus-protocol/agribus-go/pkg/frame"
)

// SensorType identifies a sensor reading class.
type SensorType uint8

const (
	// SensorTemperature is air/soil temperature in °C.
	SensorTemperature SensorType = 0
	// SensorHumidity is relative humidity in %.
	SensorHumidity SensorType = 1
	// SensorPressure is barometric pressure in hPa.
	SensorPressure SensorType = 2
	// SensorSoilMoisture is volumetric soil moisture in %.
	SensorSoilMoisture SensorType = 3
	// SensorNPK is a combined nutrient index.
	SensorNPK SensorType = 4
	// SensorUnknown covers readings without a dedicated identifier.
	SensorUnknown SensorType = 0xFF
)

// Standard-space identifiers for sensor readings.
const (
	sensorIDTemperature  = 0x100
	sensorIDHumidity     = 0x101
	sensorIDPressure     = 0x102
	sensorIDSoilMoisture = 0x103
	sensorIDNPK          = 0x104
	sensorIDUnknown      = 0x1FF
)

// String returns the sensor type name.
func (s SensorType) String() string {
	switch s {
	case SensorTemperature:
		return "TEMPERATURE"
	case SensorHumidity:
		return "HUMIDITY"
	case SensorPressure:
		return "PRESSURE"
	case SensorSoilMoisture:
		return "SOIL_MOISTURE"
	case SensorNPK:
		return "NPK"
	default:
		return "UNKNOWN"
	}
}

// ID returns the standard-space identifier for the sensor type.
func (s SensorType) ID() uint32 {
	switch s {
	case SensorTemperature:
		return sensorIDTemperature
	case SensorHumidity:
		return sensorIDHumidity
	case SensorPressure:
		return sensorIDPressure
	case SensorSoilMoisture:
		return sensorIDSoilMoisture
	case SensorNPK:
		return sensorIDNPK
	default:
		return sensorIDUnknown
	}
}

// SensorTypeForID resolves a standard identifier back to a sensor type.
func SensorTypeForID(id uint32) SensorType {
	switch id {
	case sensorIDTemperature:
		return SensorTemperature
	case sensorIDHumidity:
		return SensorHumidity
	case sensorIDPressure:
		return SensorPressure
	case sensorIDSoilMoisture:
		return SensorSoilMoisture
	case sensorIDNPK:
		return SensorNPK
	default:
		return SensorUnknown
	}
}

// EncodeSensorReading packs a reading into a standard-identifier frame:
// a ×100-scaled little-endian int32 padded with zeros to 8 bytes.
func EncodeSensorReading(sensor SensorType, value float64) (frame.Frame, error) {
	payload := make([]byte, 8)
	binary.LittleEndian.PutUint32(payload[0:4], uint32(scaleValue(value)))
	return frame.Encode(sensor.ID(), payload)
}

// DecodeSensorReading verifies the frame and unpacks the sensor type
// and value.
func DecodeSensorReading(f frame.Frame) (SensorType, float64, error) {
	if f.Extended {
		return SensorUnknown, 0, fmt.Errorf("%w: extended identifier 0x%X", ErrNotApplication, f.ID)
	}
	id, payload, err := frame.Decode(f)
	if err != nil {
		return SensorUnknown, 0, err
	}
	if len(payload) < 4 {
		return SensorUnknown, 0, fmt.Errorf("%w: sensor payload %d bytes, want 4", ErrBadPayload, len(payload))
	}
	value := unscaleValue(int32(binary.LittleEndian.Uint32(payload[0:4])))
	return SensorTypeForID(id), value, nil
}
