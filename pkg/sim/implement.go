package sim

import (
	"fmt"
	"sync"

	"github.com/agribus-protocol/agribus-go/pkg/bus"
	"github.com/agribus-protocol/agribus-go/pkg/engine"
	"github.com/agribus-protocol/agribus-go/pkg/ident"
	"github.com/agribus-protocol/agribus-go/pkg/wire"
)

// ImplementConfig contains the parameters for a simulated implement.
type ImplementConfig struct {
	// Addr is the implement's application-layer address.
	Addr uint8

	// Controller is the task controller's address.
	Controller uint8

	// Capabilities is the capability set declared in announcements.
	Capabilities uint32

	// Definitions is the implement's own copy of the process-data
	// catalog, used for range checking incoming set requests.
	Definitions []engine.Definition
}

// taskRecord is the implement's view of a task.
type taskRecord struct {
	paused bool
}

// Implement is a generic simulated device playing the implement role.
type Implement struct {
	cfg  ImplementConfig
	node *bus.Node

	mu        sync.Mutex
	connected bool
	tasks     map[uint8]*taskRecord
	defs      map[uint16]engine.Definition
	values    map[uint16]float64
	hbSeq     uint8
}

// NewImplement registers a node for the implement on the bus. The node
// filters on application frames addressed to the implement or broadcast.
func NewImplement(b *bus.Bus, cfg ImplementConfig) (*Implement, error) {
	if cfg.Controller == 0 {
		cfg.Controller = ident.AddrTaskController
	}

	// Destination byte sits at bits 8..15 of the application identifier.
	node, err := b.RegisterNode(cfg.Addr,
		bus.MaskFilter{Mask: 0xFF00, Match: uint32(cfg.Addr) << 8, Extended: true},
		bus.MaskFilter{Mask: 0xFF00, Match: uint32(ident.AddrBroadcast) << 8, Extended: true},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register implement node: %w", err)
	}

	im := &Implement{
		cfg:    cfg,
		node:   node,
		tasks:  make(map[uint8]*taskRecord),
		defs:   make(map[uint16]engine.Definition, len(cfg.Definitions)),
		values: make(map[uint16]float64),
	}
	for _, d := range cfg.Definitions {
		im.defs[d.ID] = d
	}
	return im, nil
}

// Addr returns the implement's address.
func (im *Implement) Addr() uint8 { return im.cfg.Addr }

// Connected reports whether the announcement was acknowledged.
func (im *Implement) Connected() bool {
	im.mu.Lock()
	defer im.mu.Unlock()
	return im.connected
}

// Announce broadcasts the implement's presence.
func (im *Implement) Announce() error {
	return im.send(wire.Message{
		Kind:         wire.KindAnnounce,
		Destination:  ident.AddrBroadcast,
		Role:         ident.RoleImplement,
		Capabilities: im.cfg.Capabilities,
	})
}

// Heartbeat emits a liveness frame toward the controller.
func (im *Implement) Heartbeat() error {
	im.mu.Lock()
	im.hbSeq++
	seq := im.hbSeq
	im.mu.Unlock()

	return im.send(wire.Message{
		Kind:        wire.KindHeartbeat,
		Destination: im.cfg.Controller,
		Seq:         seq,
	})
}

// Disconnect sends an explicit disconnect notice.
func (im *Implement) Disconnect() error {
	return im.send(wire.Message{
		Kind:        wire.KindDisconnect,
		Destination: im.cfg.Controller,
	})
}

// Value returns the implement's current value for a definition.
func (im *Implement) Value(defID uint16) (float64, bool) {
	im.mu.Lock()
	defer im.mu.Unlock()
	v, ok := im.values[defID]
	return v, ok
}

// SetValue overrides a local value, simulating sensor feedback from the
// implement's own hardware.
func (im *Implement) SetValue(defID uint16, v float64) {
	im.mu.Lock()
	defer im.mu.Unlock()
	im.values[defID] = v
}

// Process drains the implement node's receive queue and answers the
// controller's protocol traffic. Decode failures are returned; the
// offending frames are dropped.
func (im *Implement) Process() []error {
	var errs []error

	for f := range im.node.Poll() {
		if !f.Extended {
			continue
		}
		m, err := wire.DecodeMessage(f)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		im.mu.Lock()
		reply := im.handle(m)
		im.mu.Unlock()

		for _, r := range reply {
			if err := im.send(r); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errs
}

// handle reacts to one message and returns the replies to send.
// Caller holds im.mu.
func (im *Implement) handle(m wire.Message) []wire.Message {
	switch m.Kind {
	case wire.KindAnnounceAck:
		im.connected = m.Status.IsSuccess()
		return nil

	case wire.KindTaskStart:
		im.tasks[m.TaskID] = &taskRecord{}
		return []wire.Message{
			{Kind: wire.KindTaskAck, Destination: m.Source, TaskID: m.TaskID, Status: wire.StatusSuccess},
			{Kind: wire.KindTaskStatus, Destination: m.Source, TaskID: m.TaskID, TaskState: uint8(engine.TaskRunning)},
		}

	case wire.KindTaskPause:
		if t, ok := im.tasks[m.TaskID]; ok {
			t.paused = true
		}
		return nil

	case wire.KindTaskResume:
		if t, ok := im.tasks[m.TaskID]; ok {
			t.paused = false
			return []wire.Message{
				{Kind: wire.KindTaskStatus, Destination: m.Source, TaskID: m.TaskID, TaskState: uint8(engine.TaskRunning)},
			}
		}
		return nil

	case wire.KindTaskEnd, wire.KindTaskAbort:
		delete(im.tasks, m.TaskID)
		return nil

	case wire.KindParamSet:
		return im.handleParamSet(m)

	case wire.KindParamRequest:
		if _, ok := im.defs[m.DefinitionID]; !ok {
			return []wire.Message{{
				Kind: wire.KindParamAck, Destination: m.Source, TaskID: m.TaskID,
				DefinitionID: m.DefinitionID, Status: wire.StatusUnknownParameter,
			}}
		}
		return []wire.Message{{
			Kind: wire.KindParamValue, Destination: m.Source, TaskID: m.TaskID,
			DefinitionID: m.DefinitionID, Value: im.values[m.DefinitionID],
		}}

	default:
		// Heartbeats and peer traffic need no reaction.
		return nil
	}
}

// handleParamSet range-checks a set request against the implement's own
// catalog and acknowledges with the matching status.
// Caller holds im.mu.
func (im *Implement) handleParamSet(m wire.Message) []wire.Message {
	ack := wire.Message{
		Kind:         wire.KindParamAck,
		Destination:  m.Source,
		TaskID:       m.TaskID,
		DefinitionID: m.DefinitionID,
	}

	if _, ok := im.tasks[m.TaskID]; !ok {
		ack.Status = wire.StatusUnknownTask
		return []wire.Message{ack}
	}
	def, ok := im.defs[m.DefinitionID]
	if !ok {
		ack.Status = wire.StatusUnknownParameter
		return []wire.Message{ack}
	}
	if !def.InRange(m.Value) {
		ack.Status = wire.StatusOutOfRange
		ack.Value = im.values[m.DefinitionID]
		return []wire.Message{ack}
	}

	im.values[m.DefinitionID] = m.Value
	ack.Status = wire.StatusSuccess
	ack.Value = m.Value
	return []wire.Message{ack}
}

// send encodes and transmits a message from the implement's address.
func (im *Implement) send(m wire.Message) error {
	m.Source = im.cfg.Addr
	m.Priority = wire.DefaultPriority(m.Kind)
	f, err := m.Encode()
	if err != nil {
		return err
	}
	return im.node.Transmit(f)
}
