// Package wire implements the application message codec: the protocol
// messages the engine exchanges, packed into frame payloads of at most
// 8 bytes.
//
// # Identifier Layout
//
// Application messages travel in the extended identifier space
// (classified SystemControl by the identifier registry):
//
//	bits 24..26  priority (3 bits, lower wins arbitration)
//	bits 16..23  message kind
//	bits  8..15  destination address (0xFF = broadcast)
//	bits  0..7   source address
//
// # Payload Packing
//
// Multi-byte fields are little-endian. Process-data values travel as
// ×100-scaled signed 32-bit integers, giving two decimal places over
// the range a fieldbus value realistically needs.
//
// Sensor readings and actuator commands use the standard identifier
// space with their own compact payload forms; see EncodeSensorReading
// and EncodeActuatorCommand.
package wire
