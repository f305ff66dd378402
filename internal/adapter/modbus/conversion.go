// Package modbus provides data type conversion utilities for Modbus communication.
package modbus

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/alunegov/hmi-emu/internal/domain"
)

// A 32-bit quantity occupies two consecutive registers. The register at the
// lower address always holds the less-significant half, for integers and
// floats alike; each register is itself big-endian on the wire.

// DecodeUint32 joins a register pair into a 32-bit integer.
func DecodeUint32(lo, hi uint16) uint32 {
	return uint32(lo) | uint32(hi)<<16
}

// EncodeUint32 splits v into a register pair. It is the inverse of DecodeUint32.
func EncodeUint32(v uint32) (lo, hi uint16) {
	return uint16(v), uint16(v >> 16)
}

// DecodeFloat32 interprets the bytes [hi.msb, hi.lsb, lo.msb, lo.lsb] as a
// big-endian IEEE-754 single. The bit pattern is preserved exactly, NaN
// payloads included.
func DecodeFloat32(lo, hi uint16) float32 {
	return math.Float32frombits(DecodeUint32(lo, hi))
}

// EncodeFloat32 is the inverse of DecodeFloat32.
func EncodeFloat32(v float32) (lo, hi uint16) {
	return EncodeUint32(math.Float32bits(v))
}

// DecodeValue decodes a register pair according to kind.
func DecodeValue(kind domain.Kind, lo, hi uint16) domain.DecodedValue {
	if kind == domain.KindFloat {
		return domain.Number(DecodeFloat32(lo, hi))
	}
	return domain.ExpandBits(DecodeUint32(lo, hi))
}

// EncodeBits packs 32 flags into a register pair.
func EncodeBits(bits domain.Bits) (lo, hi uint16) {
	return EncodeUint32(bits.Pack())
}

// EncodeText parses user-entered text for a parameter of the given kind and
// returns the register pair to write. Floats accept anything strconv does
// within float32 range; bitfields accept an unsigned decimal integer.
func EncodeText(kind domain.Kind, text string) (lo, hi uint16, err error) {
	s := strings.TrimSpace(text)
	switch kind {
	case domain.KindFloat:
		f, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: %q is not a float: %v", domain.ErrInvalidValue, text, err)
		}
		lo, hi = EncodeFloat32(float32(f))
		return lo, hi, nil
	case domain.KindBitfield:
		v, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: %q is not an unsigned 32-bit integer: %v", domain.ErrInvalidValue, text, err)
		}
		lo, hi = EncodeUint32(uint32(v))
		return lo, hi, nil
	default:
		return 0, 0, fmt.Errorf("%w: %d", domain.ErrInvalidKind, int(kind))
	}
}

// registersFromBytes converts a big-endian register payload into register
// values.
func registersFromBytes(data []byte, quantity uint16) ([]uint16, error) {
	if len(data) != int(quantity)*2 {
		return nil, fmt.Errorf("%w: got %d bytes for %d registers", domain.ErrInvalidRegisterCount, len(data), quantity)
	}
	regs := make([]uint16, quantity)
	for i := range regs {
		regs[i] = binary.BigEndian.Uint16(data[i*2:])
	}
	return regs, nil
}

// registersToBytes is the inverse of registersFromBytes.
func registersToBytes(values []uint16) []byte {
	data := make([]byte, len(values)*2)
	for i, v := range values {
		binary.BigEndian.PutUint16(data[i*2:], v)
	}
	return data
}
