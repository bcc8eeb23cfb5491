package bus

import (
	"github.com/agribus-protocol/agribus-go/pkg/frame"
)

// Filter is a predicate a node installs to select which frames it
// receives. A node with no filters receives nothing; AcceptAll is an
// explicit configuration, not the default.
type Filter interface {
	// Matches reports whether the node should receive the frame.
	Matches(f frame.Frame) bool
}

// ExactFilter accepts a single identifier in one identifier space.
type ExactFilter struct {
	ID       uint32
	Extended bool
}

// Matches implements Filter.
func (ef ExactFilter) Matches(f frame.Frame) bool {
	return f.Extended == ef.Extended && f.ID == ef.ID
}

// RangeFilter accepts identifiers in the closed interval [Low, High]
// within one identifier space.
type RangeFilter struct {
	Low      uint32
	High     uint32
	Extended bool
}

// Matches implements Filter.
func (rf RangeFilter) Matches(f frame.Frame) bool {
	return f.Extended == rf.Extended && f.ID >= rf.Low && f.ID <= rf.High
}

// MaskFilter accepts identifiers where id&Mask == Match&Mask, the
// classic acceptance-filter form of CAN controllers.
type MaskFilter struct {
	Mask     uint32
	Match    uint32
	Extended bool
}

// Matches implements Filter.
func (mf MaskFilter) Matches(f frame.Frame) bool {
	return f.Extended == mf.Extended && f.ID&mf.Mask == mf.Match&mf.Mask
}

// AcceptAll accepts every frame in both identifier spaces.
type AcceptAll struct{}

// Matches implements Filter.
func (AcceptAll) Matches(frame.Frame) bool { return true }

// Compile-time interface satisfaction checks.
var (
	_ Filter = ExactFilter{}
	_ Filter = RangeFilter{}
	_ Filter = MaskFilter{}
	_ Filter = AcceptAll{}
)
