package bus

import (
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agribus-protocol/agribus-go/pkg/frame"
	"github.com/agribus-protocol/agribus-go/pkg/log"
)

// Node is a bus participant: an address, an active/inactive lifecycle
// state, a bounded transmit queue, a bounded receive queue and zero or
// more identifier filters.
//
// Each node's queues are owned exclusively by its handle. A node is
// created by Bus.RegisterNode and becomes unusable after
// Bus.DeregisterNode or Bus.Stop.
type Node struct {
	bus  *Bus
	id   string
	addr uint8

	mu      sync.Mutex
	active  bool
	filters []Filter
	txq     []frame.Frame
	rxq     []frame.Frame

	transmitted uint64
	received    uint64
	dropped     uint64
}

func newNode(b *Bus, addr uint8, filters []Filter) *Node {
	return &Node{
		bus:     b,
		id:      uuid.NewString(),
		addr:    addr,
		active:  true,
		filters: filters,
	}
}

// ID returns the node handle's unique identifier.
func (n *Node) ID() string { return n.id }

// Addr returns the node's bus address.
func (n *Node) Addr() uint8 { return n.addr }

// Transmit enqueues a frame for delivery in a later cycle.
// It fails with ErrBusNotActive if the bus is stopped, ErrNodeInactive
// if the node has been deregistered, and ErrQueueFull if the transmit
// queue is at capacity. Success means accepted into the queue, not
// delivered. The frame's direction and timestamp are stamped here.
func (n *Node) Transmit(f frame.Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}

	n.bus.mu.RLock()
	defer n.bus.mu.RUnlock()

	if !n.bus.active {
		return ErrBusNotActive
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.active {
		return ErrNodeInactive
	}
	if len(n.txq) >= n.bus.cfg.TransmitQueueSize {
		return fmt.Errorf("%w: transmit queue at %d", ErrQueueFull, len(n.txq))
	}

	f.Dir = frame.DirectionOut
	f.Timestamp = time.Now()
	n.txq = append(n.txq, f)

	n.bus.logFrame(f, log.DirectionOut, n.addr, false)
	return nil
}

// Poll returns a lazy, finite sequence of the frames currently buffered
// for this node. It is non-blocking and restartable: each call drains
// only what is pending at the moment of the call, not a persistent
// cursor. Polling a deregistered node yields nothing.
func (n *Node) Poll() iter.Seq[frame.Frame] {
	// Snapshot under the bus read lock so a delivery pass in progress
	// is never observed partially.
	n.bus.mu.RLock()
	n.mu.Lock()
	pending := n.rxq
	n.rxq = nil
	n.mu.Unlock()
	n.bus.mu.RUnlock()

	return func(yield func(frame.Frame) bool) {
		for _, f := range pending {
			if !yield(f) {
				return
			}
		}
	}
}

// Dropped returns the number of inbound frames discarded because the
// receive queue was full.
func (n *Node) Dropped() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dropped
}

// matches reports whether any of the node's filters accepts the frame.
// Caller holds n.mu.
func (n *Node) matches(f frame.Frame) bool {
	for _, flt := range n.filters {
		if flt.Matches(f) {
			return true
		}
	}
	return false
}

// deactivate clears both queues and marks the node unusable.
// Caller holds n.mu.
func (n *Node) deactivate() {
	n.active = false
	n.txq = nil
	n.rxq = nil
}
