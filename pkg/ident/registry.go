package ident

import (
	"errors"
	"fmt"
	"sync"

	"github.com/agribus-protocol/agribus-go/pkg/frame"
)

// Registry errors.
var (
	// ErrRangeConflict indicates an overlap with a range of a different category.
	ErrRangeConflict = errors.New("identifier range conflict")

	// ErrUnknownAddress indicates an address with no assigned role.
	ErrUnknownAddress = errors.New("unknown address")

	// ErrRegistryFrozen indicates a mutation attempted after Freeze.
	ErrRegistryFrozen = errors.New("registry frozen")

	// ErrInvalidRange indicates an inverted or out-of-width interval.
	ErrInvalidRange = errors.New("invalid identifier range")

	// ErrReservedAddress indicates an attempt to assign the broadcast address.
	ErrReservedAddress = errors.New("address reserved")
)

// Category classifies an identifier's logical message class.
type Category uint8

const (
	// CategoryUnclassified is returned for identifiers outside every
	// registered range.
	CategoryUnclassified Category = 0
	// CategorySensor covers sensor reading traffic.
	CategorySensor Category = 1
	// CategoryActuator covers actuator command traffic.
	CategoryActuator Category = 2
	// CategorySystemControl covers application protocol traffic.
	CategorySystemControl Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategorySensor:
		return "SENSOR"
	case CategoryActuator:
		return "ACTUATOR"
	case CategorySystemControl:
		return "SYSTEM_CONTROL"
	case CategoryUnclassified:
		return "UNCLASSIFIED"
	default:
		return "UNKNOWN"
	}
}

// Role is an application-layer device role.
type Role uint8

const (
	// RoleController is the machine controller (tractor ECU).
	RoleController Role = 0
	// RoleTaskController assigns and manages tasks on implements.
	RoleTaskController Role = 1
	// RoleVirtualTerminal is the operator-interface role.
	RoleVirtualTerminal Role = 2
	// RoleImplement is an attached tool (sprayer, seeder, ...).
	RoleImplement Role = 3
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleController:
		return "CONTROLLER"
	case RoleTaskController:
		return "TASK_CONTROLLER"
	case RoleVirtualTerminal:
		return "VIRTUAL_TERMINAL"
	case RoleImplement:
		return "IMPLEMENT"
	default:
		return "UNKNOWN"
	}
}

// Well-known application-layer addresses.
const (
	// AddrController is the machine controller's address.
	AddrController uint8 = 0x00
	// AddrTaskController is the task controller's address.
	AddrTaskController uint8 = 0x01
	// AddrVirtualTerminal is the virtual terminal's address.
	AddrVirtualTerminal uint8 = 0x02
	// AddrBroadcast denotes all devices. It is never assignable;
	// frames sent to it bypass per-device acknowledgment tracking.
	AddrBroadcast uint8 = 0xFF
)

// Range is a closed identifier interval bound to a category.
type Range struct {
	Category Category
	Low      uint32
	High     uint32
	Extended bool
}

// Contains reports whether the identifier falls inside the range.
func (r Range) Contains(id uint32, extended bool) bool {
	return r.Extended == extended && id >= r.Low && id <= r.High
}

// Registry maps identifier ranges to categories and addresses to roles.
// It is mutable until Freeze, read-only afterward.
type Registry struct {
	mu     sync.RWMutex
	frozen bool
	ranges []Range
	roles  map[uint8]Role
}

// NewRegistry creates an empty, unfrozen registry.
func NewRegistry() *Registry {
	return &Registry{
		roles: make(map[uint8]Role),
	}
}

// RegisterRange binds [low, high] in the standard identifier space to
// the category. It fails with ErrRangeConflict if the interval overlaps
// an already-registered range of a different category in the same space.
func (r *Registry) RegisterRange(cat Category, low, high uint32) error {
	return r.register(Range{Category: cat, Low: low, High: high}, frame.MaxStandardID)
}

// RegisterExtendedRange binds [low, high] in the extended identifier
// space to the category.
func (r *Registry) RegisterExtendedRange(cat Category, low, high uint32) error {
	return r.register(Range{Category: cat, Low: low, High: high, Extended: true}, frame.MaxExtendedID)
}

func (r *Registry) register(nr Range, maxID uint32) error {
	if nr.Low > nr.High || nr.High > maxID {
		return fmt.Errorf("%w: [0x%X, 0x%X]", ErrInvalidRange, nr.Low, nr.High)
	}
	if nr.Category == CategoryUnclassified {
		return fmt.Errorf("%w: cannot register the unclassified category", ErrInvalidRange)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrRegistryFrozen
	}
	for _, existing := range r.ranges {
		if existing.Extended != nr.Extended || existing.Category == nr.Category {
			continue
		}
		if nr.Low <= existing.High && existing.Low <= nr.High {
			return fmt.Errorf("%w: [0x%X, 0x%X] %s overlaps [0x%X, 0x%X] %s",
				ErrRangeConflict, nr.Low, nr.High, nr.Category,
				existing.Low, existing.High, existing.Category)
		}
	}
	r.ranges = append(r.ranges, nr)
	return nil
}

// AssignRole binds an application-layer address to a role.
// The broadcast address is never assignable.
func (r *Registry) AssignRole(addr uint8, role Role) error {
	if addr == AddrBroadcast {
		return fmt.Errorf("%w: 0x%02X is the broadcast address", ErrReservedAddress, addr)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrRegistryFrozen
	}
	r.roles[addr] = role
	return nil
}

// Freeze makes the registry read-only. All subsequent mutation attempts
// fail with ErrRegistryFrozen. Freeze is idempotent.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Frozen reports whether the registry has been frozen.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Classify resolves the frame's identifier to a category.
func (r *Registry) Classify(f frame.Frame) Category {
	return r.ClassifyID(f.ID, f.Extended)
}

// ClassifyID resolves an identifier in the given space to a category,
// or CategoryUnclassified if it falls outside every registered range.
func (r *Registry) ClassifyID(id uint32, extended bool) Category {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rng := range r.ranges {
		if rng.Contains(id, extended) {
			return rng.Category
		}
	}
	return CategoryUnclassified
}

// ResolveRole returns the role assigned to an application-layer address.
// It fails with ErrUnknownAddress if the address is not registered.
func (r *Registry) ResolveRole(addr uint8) (Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	role, ok := r.roles[addr]
	if !ok {
		return 0, fmt.Errorf("%w: 0x%02X", ErrUnknownAddress, addr)
	}
	return role, nil
}

// Ranges returns a snapshot of the registered ranges.
func (r *Registry) Ranges() []Range {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Range, len(r.ranges))
	copy(out, r.ranges)
	return out
}
