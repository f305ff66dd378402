package modbus

import (
	"errors"
	"math"
	"testing"

	"github.com/alunegov/hmi-emu/internal/domain"
)

func TestDecodeUint32(t *testing.T) {
	tests := []struct {
		name   string
		lo, hi uint16
		want   uint32
	}{
		{"zero", 0, 0, 0},
		{"low word only", 0x1234, 0, 0x1234},
		{"high word only", 0, 0x1234, 0x12340000},
		{"both", 0x5678, 0x1234, 0x12345678},
		{"all ones", 0xFFFF, 0xFFFF, 0xFFFFFFFF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DecodeUint32(tt.lo, tt.hi); got != tt.want {
				t.Errorf("DecodeUint32(%#x, %#x) = %#x, want %#x", tt.lo, tt.hi, got, tt.want)
			}
			lo, hi := EncodeUint32(tt.want)
			if lo != tt.lo || hi != tt.hi {
				t.Errorf("EncodeUint32(%#x) = (%#x, %#x), want (%#x, %#x)", tt.want, lo, hi, tt.lo, tt.hi)
			}
		})
	}
}

func TestDecodeFloat32(t *testing.T) {
	tests := []struct {
		name   string
		lo, hi uint16
		want   float32
	}{
		{"3.125", 0x0000, 0x4048, 3.125},
		{"one", 0x0000, 0x3F80, 1},
		{"negative", 0x0000, 0xC000, -2},
		{"pi", 0x0FDB, 0x4049, math.Pi},
		{"zero", 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DecodeFloat32(tt.lo, tt.hi); got != tt.want {
				t.Errorf("DecodeFloat32(%#x, %#x) = %v, want %v", tt.lo, tt.hi, got, tt.want)
			}
			lo, hi := EncodeFloat32(tt.want)
			if lo != tt.lo || hi != tt.hi {
				t.Errorf("EncodeFloat32(%v) = (%#x, %#x), want (%#x, %#x)", tt.want, lo, hi, tt.lo, tt.hi)
			}
		})
	}
}

func TestFloat32RoundTripBitExact(t *testing.T) {
	patterns := []uint32{
		0x00000000, // +0
		0x80000000, // -0
		0x00000001, // smallest subnormal
		0x807FFFFF, // negative subnormal
		0x7F7FFFFF, // max finite
		0xFF7FFFFF, // min finite
		0x7F800000, // +Inf
		0x7FC00001, // quiet NaN with payload
		0xFFC00000, // negative quiet NaN
	}

	for _, p := range patterns {
		v := math.Float32frombits(p)
		lo, hi := EncodeFloat32(v)
		if got := math.Float32bits(DecodeFloat32(lo, hi)); got != p {
			t.Errorf("round trip of %#08x gave %#08x", p, got)
		}
	}
}

func TestDecodeValue(t *testing.T) {
	v := DecodeValue(domain.KindFloat, 0x0000, 0x4048)
	if n, ok := v.(domain.Number); !ok || n != 3.125 {
		t.Errorf("DecodeValue(float) = %#v, want Number(3.125)", v)
	}

	v = DecodeValue(domain.KindBitfield, 0x0005, 0x8000)
	bits, ok := v.(domain.Bits)
	if !ok {
		t.Fatalf("DecodeValue(bitfield) = %#v, want Bits", v)
	}
	for i, want := range map[int]bool{0: true, 1: false, 2: true, 16: false, 31: true} {
		if bits[i] != want {
			t.Errorf("bit %d = %v, want %v", i, bits[i], want)
		}
	}
	if v.Numeric() != float64(0x80000005) {
		t.Errorf("Numeric() = %v, want %v", v.Numeric(), float64(0x80000005))
	}
}

func TestEncodeBits(t *testing.T) {
	var bits domain.Bits
	bits[0] = true
	bits[17] = true
	lo, hi := EncodeBits(bits)
	if lo != 0x0001 || hi != 0x0002 {
		t.Errorf("EncodeBits() = (%#x, %#x), want (0x1, 0x2)", lo, hi)
	}
	if got := DecodeValue(domain.KindBitfield, lo, hi); got != domain.DecodedValue(bits) {
		t.Errorf("DecodeValue(EncodeBits()) = %v, want %v", got, bits)
	}
}

func TestEncodeText(t *testing.T) {
	tests := []struct {
		name    string
		kind    domain.Kind
		text    string
		lo, hi  uint16
		wantErr bool
	}{
		{"float", domain.KindFloat, "3.125", 0x0000, 0x4048, false},
		{"float with spaces", domain.KindFloat, " -2 ", 0x0000, 0xC000, false},
		{"float exponent", domain.KindFloat, "1e0", 0x0000, 0x3F80, false},
		{"float garbage", domain.KindFloat, "abc", 0, 0, true},
		{"float out of range", domain.KindFloat, "1e40", 0, 0, true},
		{"float empty", domain.KindFloat, "", 0, 0, true},
		{"bitfield", domain.KindBitfield, "65537", 0x0001, 0x0001, false},
		{"bitfield max", domain.KindBitfield, "4294967295", 0xFFFF, 0xFFFF, false},
		{"bitfield overflow", domain.KindBitfield, "4294967296", 0, 0, true},
		{"bitfield negative", domain.KindBitfield, "-1", 0, 0, true},
		{"bitfield float text", domain.KindBitfield, "1.5", 0, 0, true},
		{"bitfield hex", domain.KindBitfield, "0x10", 0, 0, true},
		{"unknown kind", domain.Kind(5), "1", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lo, hi, err := EncodeText(tt.kind, tt.text)
			if (err != nil) != tt.wantErr {
				t.Fatalf("EncodeText() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, domain.ErrInvalidValue) && !errors.Is(err, domain.ErrInvalidKind) {
					t.Errorf("EncodeText() error = %v, want ErrInvalidValue or ErrInvalidKind", err)
				}
				return
			}
			if lo != tt.lo || hi != tt.hi {
				t.Errorf("EncodeText() = (%#x, %#x), want (%#x, %#x)", lo, hi, tt.lo, tt.hi)
			}
		})
	}
}

func TestRegistersFromBytes(t *testing.T) {
	regs, err := registersFromBytes([]byte{0x12, 0x34, 0xAB, 0xCD}, 2)
	if err != nil {
		t.Fatalf("registersFromBytes() error = %v", err)
	}
	if regs[0] != 0x1234 || regs[1] != 0xABCD {
		t.Errorf("registersFromBytes() = %#x", regs)
	}

	if _, err := registersFromBytes([]byte{0x12, 0x34, 0xAB}, 2); !errors.Is(err, domain.ErrInvalidRegisterCount) {
		t.Errorf("registersFromBytes(short) error = %v, want ErrInvalidRegisterCount", err)
	}

	data := registersToBytes([]uint16{0x1234, 0xABCD})
	if string(data) != string([]byte{0x12, 0x34, 0xAB, 0xCD}) {
		t.Errorf("registersToBytes() = %x", data)
	}
}

func FuzzUint32RoundTrip(f *testing.F) {
	f.Add(uint32(0))
	f.Add(uint32(0xFFFFFFFF))
	f.Add(uint32(0x40480000))

	f.Fuzz(func(t *testing.T, v uint32) {
		lo, hi := EncodeUint32(v)
		if got := DecodeUint32(lo, hi); got != v {
			t.Errorf("DecodeUint32(EncodeUint32(%#x)) = %#x", v, got)
		}
		if got := math.Float32bits(DecodeFloat32(EncodeFloat32(math.Float32frombits(v)))); got != v {
			t.Errorf("float round trip of %#08x gave %#08x", v, got)
		}
		if got := domain.ExpandBits(v).Pack(); got != v {
			t.Errorf("ExpandBits(%#x).Pack() = %#x", v, got)
		}
	})
}
