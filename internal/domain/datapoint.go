// Package domain contains core business entities.
package domain

import (
	"encoding/json"
	"math"
	"time"
)

// DecodedValue is the value of one parameter for one poll cycle. It is either
// Bits or Number, selected by the parameter's Kind.
type DecodedValue interface {
	// Kind returns the parameter kind this value was decoded as.
	Kind() Kind
	// Numeric returns the value as persisted: a bitfield as its unsigned
	// 32-bit integer, a float widened to float64.
	Numeric() float64

	decodedValue()
}

// Bits is a decoded bitfield; element i is bit i of the 32-bit word.
type Bits [32]bool

// ExpandBits spreads v into 32 flags, bit i set iff (v>>i)&1.
func ExpandBits(v uint32) Bits {
	var b Bits
	for i := range b {
		b[i] = (v>>uint(i))&1 == 1
	}
	return b
}

// Pack is the inverse of ExpandBits.
func (b Bits) Pack() uint32 {
	var v uint32
	for i, set := range b {
		if set {
			v |= 1 << uint(i)
		}
	}
	return v
}

// Kind implements DecodedValue.
func (Bits) Kind() Kind { return KindBitfield }

// Numeric implements DecodedValue.
func (b Bits) Numeric() float64 { return float64(b.Pack()) }

func (Bits) decodedValue() {}

// Number is a decoded IEEE-754 single.
type Number float32

// Kind implements DecodedValue.
func (Number) Kind() Kind { return KindFloat }

// Numeric implements DecodedValue.
func (n Number) Numeric() float64 { return float64(n) }

func (Number) decodedValue() {}

// Reading pairs a parameter with its decoded value.
type Reading struct {
	Spec  ParameterSpec
	Value DecodedValue
}

// valueFields returns the JSON form of v: the numeric value (nil when not
// finite) and, for bitfields, the flag array.
func valueFields(v DecodedValue) (*float64, []bool) {
	if v == nil {
		return nil, nil
	}
	var bits []bool
	if b, ok := v.(Bits); ok {
		bits = b[:]
	}
	n := v.Numeric()
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return nil, bits
	}
	return &n, bits
}

// MarshalJSON renders a reading for UI collaborators.
func (r Reading) MarshalJSON() ([]byte, error) {
	value, bits := valueFields(r.Value)
	return json.Marshal(struct {
		ID    uint16   `json:"id"`
		Name  string   `json:"name"`
		Kind  string   `json:"kind"`
		Value *float64 `json:"value"`
		Bits  []bool   `json:"bits,omitempty"`
	}{r.Spec.ID, r.Spec.Name, r.Spec.Kind.String(), value, bits})
}

// IDValue is one persisted (id, value) pair.
type IDValue struct {
	ID    uint16
	Value float64
}

// Snapshot holds every parameter's value captured in one poll cycle, in
// specification order.
type Snapshot struct {
	Time     time.Time `json:"time"`
	Readings []Reading `json:"params"`
}

// Values returns the persisted form of the snapshot.
func (s Snapshot) Values() []IDValue {
	out := make([]IDValue, len(s.Readings))
	for i, r := range s.Readings {
		out[i].ID = r.Spec.ID
		if r.Value != nil {
			out[i].Value = r.Value.Numeric()
		}
	}
	return out
}

// ValueReport is the answer to an on-demand read.
type ValueReport struct {
	ID            uint16
	Value         DecodedValue
	Time          time.Time
	CorrelationID string
}

// MarshalJSON renders the report for UI collaborators.
func (v ValueReport) MarshalJSON() ([]byte, error) {
	kind := ""
	if v.Value != nil {
		kind = v.Value.Kind().String()
	}
	value, bits := valueFields(v.Value)
	return json.Marshal(struct {
		ID        uint16    `json:"id"`
		Kind      string    `json:"kind"`
		Value     *float64  `json:"value"`
		Bits      []bool    `json:"bits,omitempty"`
		Time      time.Time `json:"time"`
		RequestID string    `json:"request_id,omitempty"`
	}{v.ID, kind, value, bits, v.Time, v.CorrelationID})
}
