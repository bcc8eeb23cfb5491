// Package engine implements the application protocol on top of the bus
// transport: device discovery and liveness, task lifecycle, process-data
// parameter exchange and operator-interface message routing.
//
// # Roles
//
// The engine owns one bus node and plays the task-controller side of
// the protocol. Implements announce themselves, acknowledge task
// commands and answer parameter traffic; the virtual terminal routes
// screen/command messages through the engine's handler table.
//
// # Drain Cycle
//
// The engine is event-driven but never re-entrant: all asynchronous
// effects (acknowledgments, status updates, heartbeats) are observed by
// calling Process, which drains the node's receive queue, advances the
// device and task state machines, resolves pending request/response
// matchers and dispatches registered handlers. Errors caused by
// unsolicited or malformed inbound frames are recorded and returned by
// Process; the offending frame is dropped, never escalated.
//
// The only blocking operation is RequestParameter, which waits for the
// matching response with a bounded timeout and releases its matching
// slot on cancellation. Nothing in the engine retries automatically;
// re-sending an unacknowledged command is a caller decision.
//
// # Device Lifecycle
//
//	Unknown → Discovered → Connected → Active → Disconnected
//
// A device becomes Discovered on an announcement from an unregistered
// address, Connected once the engine acknowledges, Active while it
// participates in a task, and Disconnected on an explicit disconnect or
// liveness expiry. A disconnected device's address stays reserved; only
// a re-announcement from the same address revives it.
//
// # Task Lifecycle
//
//	Requested → Assigned → Running ⇄ Suspended → Completed
//	                 └────────── Aborted (from any non-terminal state)
//
// Parameter updates referencing a terminal task fail with
// ErrTaskNotActive. A successful SetParameter updates the local record
// only after the implement's acknowledgment is observed in a later
// Process call.
package engine
