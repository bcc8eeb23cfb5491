// Package frame defines the transport-level message unit of the agribus
// stack: a CAN-style frame with an 11-bit standard or 29-bit extended
// identifier, up to 8 bytes of payload, and an integrity tag.
//
// # Wire Identity
//
// Encoding is deterministic: identical identifier+payload always produce
// an identical frame, including the tag. Timestamp and direction are
// transport metadata and are excluded from the binary form.
//
// # Binary Form
//
// Marshal produces an 18-byte layout modeled on the SocketCAN can_frame:
//
//	0..3   identifier with EFF flag (little-endian)
//	4      data length code
//	5      reserved (zero)
//	6..7   integrity tag (little-endian)
//	8..17  data bytes
//
// The tag is CRC-16/CCITT over the identifier, flags, length and payload.
// It satisfies the contract "present and recomputed identically on decode";
// no certification-grade error-detection claim is made.
package frame
