// Package bus simulates a shared, broadcast, priority-arbitrated
// fieldbus medium.
//
// # Model
//
// Nodes register with an address and a set of identifier filters. A
// node transmits by enqueueing frames into its bounded transmit queue;
// success means "accepted into queue", never "delivered". Frames move
// from transmit queues into receive queues during a delivery cycle:
//
//	┌──────┐ Transmit ┌─────────┐  Cycle   ┌─────────┐  Poll  ┌──────┐
//	│ node ├─────────►│ txQueue ├─────────►│ rxQueue ├───────►│ node │
//	└──────┘          └─────────┘ (atomic) └─────────┘        └──────┘
//
// # Arbitration
//
// Within a cycle all pending frames are delivered in ascending
// arbitration order: the lower identifier wins, and a standard frame
// precedes an extended frame with the equal aligned identifier,
// mirroring dominant-bit arbitration on a physical bus. Transmitters do
// not hear their own frames.
//
// # Flow Control
//
// ErrQueueFull on transmit is the only flow-control signal. A full
// receive queue drops the newest frame for that node only and
// increments its drop counter; delivery to other matching nodes is
// unaffected. Utilization is tracked as bits-on-the-wire over a sliding
// one-second window against the bitrate, but load alone never applies
// backpressure.
//
// # Concurrency
//
// Transmit calls from different nodes proceed independently up to
// enqueue. The delivery pass is a single atomic step per cycle; Poll
// never observes a partially-completed pass.
package bus
