// Package domain contains core business entities.
package domain

import (
	"fmt"
	"strings"
)

// Kind is the interpretation of a parameter's register pair.
type Kind int

const (
	// KindBitfield is a 32-bit unsigned integer shown as 32 flags.
	KindBitfield Kind = 0
	// KindFloat is an IEEE-754 single precision value.
	KindFloat Kind = 1
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindBitfield:
		return "bitfield"
	case KindFloat:
		return "float"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindBitfield || k == KindFloat
}

// ParseKind accepts either the numeric form used by specification files
// ("0", "1") or the name returned by String.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "0", "bitfield", "bits", "int":
		return KindBitfield, nil
	case "1", "float":
		return KindFloat, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidKind, s)
	}
}

// MaxParameterID is the largest id whose register pair fits the 16-bit
// Modbus address space.
const MaxParameterID = 0x8000

// ParameterSpec describes one process variable exposed by the controller.
type ParameterSpec struct {
	// ID is the controller's 1-based logical parameter index.
	ID   uint16 `json:"id"`
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
}

// ValidateParameterID checks that id addresses a register pair.
func ValidateParameterID(id uint32) error {
	if id == 0 || id > MaxParameterID {
		return fmt.Errorf("%w: %d", ErrInvalidParameterID, id)
	}
	return nil
}

// RegisterAddress returns the zero-based address of the first register of
// parameter id.
func RegisterAddress(id uint16) uint16 {
	return (id - 1) * 2
}

// ParameterSet is the immutable, ordered parameter specification with an
// id index.
type ParameterSet struct {
	specs []ParameterSpec
	index map[uint16]int
}

// NewParameterSet builds a set preserving specification order. A repeated id
// keeps its first position.
func NewParameterSet(specs []ParameterSpec) *ParameterSet {
	ps := &ParameterSet{
		specs: make([]ParameterSpec, len(specs)),
		index: make(map[uint16]int, len(specs)),
	}
	copy(ps.specs, specs)
	for i, s := range ps.specs {
		if _, ok := ps.index[s.ID]; !ok {
			ps.index[s.ID] = i
		}
	}
	return ps
}

// Specs returns the parameters in specification order.
func (ps *ParameterSet) Specs() []ParameterSpec {
	out := make([]ParameterSpec, len(ps.specs))
	copy(out, ps.specs)
	return out
}

// Len returns the number of parameters.
func (ps *ParameterSet) Len() int { return len(ps.specs) }

// Lookup returns the parameter with the given id and its position.
func (ps *ParameterSet) Lookup(id uint16) (ParameterSpec, int, bool) {
	i, ok := ps.index[id]
	if !ok {
		return ParameterSpec{}, -1, false
	}
	return ps.specs[i], i, true
}

// IDs returns the parameter ids in specification order.
func (ps *ParameterSet) IDs() []uint16 {
	ids := make([]uint16, len(ps.specs))
	for i, s := range ps.specs {
		ids[i] = s.ID
	}
	return ids
}
