package bus

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agribus-protocol/agribus-go/pkg/frame"
	"github.com/agribus-protocol/agribus-go/pkg/log"
)

// Transport errors.
var (
	// ErrBusNotActive indicates an operation on a stopped bus.
	ErrBusNotActive = errors.New("bus not active")

	// ErrBusActive indicates Start on an already-running bus.
	ErrBusActive = errors.New("bus already active")

	// ErrQueueFull indicates a transmit queue at capacity.
	ErrQueueFull = errors.New("queue full")

	// ErrNodeInactive indicates an operation on a deregistered node.
	ErrNodeInactive = errors.New("node inactive")

	// ErrAddressInUse indicates a node registration with a taken address.
	ErrAddressInUse = errors.New("address in use")

	// ErrInvalidBitrate indicates an unsupported bitrate.
	ErrInvalidBitrate = errors.New("invalid bitrate")
)

// Bitrate is the simulated wire speed in bits per second.
type Bitrate int

// Standard fieldbus bitrates.
const (
	Bitrate125k Bitrate = 125_000
	Bitrate250k Bitrate = 250_000
	Bitrate500k Bitrate = 500_000
	Bitrate1M   Bitrate = 1_000_000
)

// Valid reports whether the bitrate is one of the standard rates.
func (b Bitrate) Valid() bool {
	switch b {
	case Bitrate125k, Bitrate250k, Bitrate500k, Bitrate1M:
		return true
	default:
		return false
	}
}

// String returns the bitrate in kbit/s form.
func (b Bitrate) String() string {
	return fmt.Sprintf("%dkbit/s", int(b)/1000)
}

// loadWindow is the sliding window over which utilization is computed.
const loadWindow = time.Second

// Config contains bus parameters.
type Config struct {
	// TransmitQueueSize bounds each node's transmit queue.
	TransmitQueueSize int

	// ReceiveQueueSize bounds each node's receive queue.
	ReceiveQueueSize int

	// Bitrate is the default wire speed used by Start(0).
	Bitrate Bitrate

	// Logger receives transport-layer events. Nil disables logging.
	Logger log.Logger
}

// DefaultConfig returns the default bus configuration.
func DefaultConfig() Config {
	return Config{
		TransmitQueueSize: 32,
		ReceiveQueueSize:  64,
		Bitrate:           Bitrate250k,
	}
}

// windowEntry records bits put on the wire, for load accounting.
type windowEntry struct {
	at   time.Time
	bits int
}

// Bus simulates the shared broadcast medium. It is the single point of
// shared mutable state in the transport: per-node queues, utilization
// counters and the node registry all hang off it.
type Bus struct {
	cfg    Config
	id     string
	logger log.Logger

	// mu serializes the delivery pass (write lock) against transmit
	// and poll (read lock). Lock order is always bus before node.
	mu      sync.RWMutex
	active  bool
	bitrate Bitrate
	nodes   map[uint8]*Node

	transmitted uint64
	delivered   uint64
	dropped     uint64
	window      []windowEntry
}

// New creates a stopped bus with the given configuration.
func New(cfg Config) *Bus {
	def := DefaultConfig()
	if cfg.TransmitQueueSize <= 0 {
		cfg.TransmitQueueSize = def.TransmitQueueSize
	}
	if cfg.ReceiveQueueSize <= 0 {
		cfg.ReceiveQueueSize = def.ReceiveQueueSize
	}
	if cfg.Bitrate == 0 {
		cfg.Bitrate = def.Bitrate
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NoopLogger{}
	}
	return &Bus{
		cfg:    cfg,
		id:     uuid.NewString(),
		logger: logger,
		nodes:  make(map[uint8]*Node),
	}
}

// ID returns the bus instance's unique identifier.
func (b *Bus) ID() string { return b.id }

// Start activates the bus at the given bitrate. Passing 0 uses the
// configured default. It fails with ErrBusActive if already running.
func (b *Bus) Start(bitrate Bitrate) error {
	if bitrate == 0 {
		bitrate = b.cfg.Bitrate
	}
	if !bitrate.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidBitrate, bitrate)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.active {
		return ErrBusActive
	}
	b.active = true
	b.bitrate = bitrate
	b.window = nil

	b.logState("", "ACTIVE", bitrate.String())
	return nil
}

// Stop deactivates the bus, flushing and discarding all queued frames
// and releasing every registered node's queues. Stop is idempotent.
func (b *Bus) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.active {
		return
	}
	b.active = false
	for _, n := range b.nodes {
		n.mu.Lock()
		n.txq = nil
		n.rxq = nil
		n.mu.Unlock()
	}
	b.window = nil

	b.logState("ACTIVE", "STOPPED", "")
}

// Active reports whether the bus is running.
func (b *Bus) Active() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.active
}

// RegisterNode adds a participant with the given address and filters.
// It fails with ErrAddressInUse if the address is taken. A node
// registered with no filters receives nothing.
func (b *Bus) RegisterNode(addr uint8, filters ...Filter) (*Node, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, taken := b.nodes[addr]; taken {
		return nil, fmt.Errorf("%w: 0x%02X", ErrAddressInUse, addr)
	}
	n := newNode(b, addr, filters)
	b.nodes[addr] = n
	return n, nil
}

// DeregisterNode removes the node, clearing its queues and marking the
// handle inactive. It fails with ErrNodeInactive if already removed.
func (b *Bus) DeregisterNode(n *Node) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.active {
		return ErrNodeInactive
	}
	n.deactivate()
	delete(b.nodes, n.addr)
	return nil
}

// Cycle performs one atomic delivery/arbitration pass: it drains all
// transmit queues, orders the pending frames in ascending arbitration
// order, and appends each to the receive queue of every other matching
// node. A full receive queue drops the new frame for that node only.
// Cycle returns the number of frames put on the wire; it is a no-op on
// a stopped bus. No two delivery passes interleave.
func (b *Bus) Cycle() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.active {
		return 0
	}

	// Drain every transmit queue. The sender address rides along so
	// delivery can skip the transmitter.
	type pending struct {
		f    frame.Frame
		from uint8
	}
	var wire []pending
	for addr, n := range b.nodes {
		n.mu.Lock()
		for _, f := range n.txq {
			wire = append(wire, pending{f: f, from: addr})
			n.transmitted++
		}
		n.txq = nil
		n.mu.Unlock()
	}
	if len(wire) == 0 {
		return 0
	}

	// Arbitration: lower identifier wins; ties resolve by sender address.
	sort.SliceStable(wire, func(i, j int) bool {
		oi, oj := wire[i].f.ArbitrationOrder(), wire[j].f.ArbitrationOrder()
		if oi != oj {
			return oi < oj
		}
		return wire[i].from < wire[j].from
	})

	now := time.Now()
	bits := 0
	for _, p := range wire {
		bits += p.f.WireBits()
	}
	b.transmitted += uint64(len(wire))
	b.window = append(b.window, windowEntry{at: now, bits: bits})
	b.pruneWindow(now)

	// Build per-receiver batches so each node's receive queue is
	// updated in a single step.
	for addr, n := range b.nodes {
		n.mu.Lock()
		for _, p := range wire {
			if p.from == addr || !n.matches(p.f) {
				continue
			}
			if len(n.rxq) >= b.cfg.ReceiveQueueSize {
				n.dropped++
				b.dropped++
				b.logFrame(p.f, log.DirectionIn, addr, true)
				continue
			}
			in := p.f
			in.Dir = frame.DirectionIn
			in.Timestamp = now
			n.rxq = append(n.rxq, in)
			n.received++
			b.delivered++
			b.logFrame(in, log.DirectionIn, addr, false)
		}
		n.mu.Unlock()
	}

	return len(wire)
}

// Run drives delivery cycles at the given period until the context
// ends. It is the background driver for long-running simulations;
// callers that need deterministic interleaving call Cycle directly.
func (b *Bus) Run(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Cycle()
		}
	}
}

// Load returns the bus utilization in [0, 1]: bits put on the wire over
// the sliding window against the bitrate. Load never applies
// backpressure; ErrQueueFull is the only flow-control signal.
func (b *Bus) Load() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.active || b.bitrate == 0 {
		return 0
	}
	b.pruneWindow(time.Now())
	bits := 0
	for _, e := range b.window {
		bits += e.bits
	}
	load := float64(bits) / float64(b.bitrate)
	if load > 1 {
		load = 1
	}
	return load
}

// pruneWindow discards window entries older than the sliding window.
// Caller holds b.mu.
func (b *Bus) pruneWindow(now time.Time) {
	cutoff := now.Add(-loadWindow)
	i := 0
	for i < len(b.window) && b.window[i].at.Before(cutoff) {
		i++
	}
	b.window = b.window[i:]
}

// NodeStatistics is a per-node counter snapshot.
type NodeStatistics struct {
	Transmitted uint64
	Received    uint64
	Dropped     uint64
	PendingTx   int
	PendingRx   int
}

// Statistics is a point-in-time snapshot of bus counters.
type Statistics struct {
	BusID       string
	Active      bool
	Bitrate     Bitrate
	Load        float64
	Transmitted uint64
	Delivered   uint64
	Dropped     uint64
	Nodes       map[uint8]NodeStatistics
}

// Statistics returns a snapshot of the bus and per-node counters.
func (b *Bus) Statistics() Statistics {
	load := b.Load()

	b.mu.RLock()
	defer b.mu.RUnlock()

	s := Statistics{
		BusID:       b.id,
		Active:      b.active,
		Bitrate:     b.bitrate,
		Load:        load,
		Transmitted: b.transmitted,
		Delivered:   b.delivered,
		Dropped:     b.dropped,
		Nodes:       make(map[uint8]NodeStatistics, len(b.nodes)),
	}
	for addr, n := range b.nodes {
		n.mu.Lock()
		s.Nodes[addr] = NodeStatistics{
			Transmitted: n.transmitted,
			Received:    n.received,
			Dropped:     n.dropped,
			PendingTx:   len(n.txq),
			PendingRx:   len(n.rxq),
		}
		n.mu.Unlock()
	}
	return s
}

// logFrame emits a transport-layer frame event.
func (b *Bus) logFrame(f frame.Frame, dir log.Direction, nodeAddr uint8, dropped bool) {
	addr := nodeAddr
	b.logger.Log(log.Event{
		Timestamp: time.Now(),
		BusID:     b.id,
		Direction: dir,
		Layer:     log.LayerTransport,
		Category:  log.CategoryFrame,
		NodeAddr:  &addr,
		Frame: &log.FrameEvent{
			ID:       f.ID,
			Extended: f.Extended,
			Data:     f.Payload(),
			Tag:      f.Tag,
			Dropped:  dropped,
		},
	})
}

// logState emits a bus lifecycle event.
func (b *Bus) logState(oldState, newState, reason string) {
	b.logger.Log(log.Event{
		Timestamp: time.Now(),
		BusID:     b.id,
		Direction: log.DirectionOut,
		Layer:     log.LayerTransport,
		Category:  log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityBus,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}
