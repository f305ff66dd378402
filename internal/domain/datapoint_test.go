package domain_test

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/alunegov/hmi-emu/internal/domain"
)

func TestBitsRoundTrip(t *testing.T) {
	values := []uint32{0, 1, 0x80000000, 0xFFFFFFFF, 0xAAAA5555, 0x12345678}

	for _, v := range values {
		bits := domain.ExpandBits(v)
		for i := 0; i < 32; i++ {
			if want := (v>>uint(i))&1 == 1; bits[i] != want {
				t.Errorf("ExpandBits(%#x)[%d] = %v, want %v", v, i, bits[i], want)
			}
		}
		if got := bits.Pack(); got != v {
			t.Errorf("ExpandBits(%#x).Pack() = %#x", v, got)
		}
	}
}

func TestBitsPackUnpack(t *testing.T) {
	var alternate domain.Bits
	for i := range alternate {
		alternate[i] = i%3 == 0
	}
	var allSet domain.Bits
	for i := range allSet {
		allSet[i] = true
	}

	for _, b := range []domain.Bits{{}, allSet, alternate} {
		if got := domain.ExpandBits(b.Pack()); got != b {
			t.Errorf("ExpandBits(Pack(%v)) = %v", b, got)
		}
	}
}

func TestDecodedValueNumeric(t *testing.T) {
	tests := []struct {
		name string
		v    domain.DecodedValue
		kind domain.Kind
		want float64
	}{
		{"bits", domain.ExpandBits(0xFFFFFFFF), domain.KindBitfield, 4294967295},
		{"float", domain.Number(3.125), domain.KindFloat, 3.125},
		{"negative float", domain.Number(-0.5), domain.KindFloat, -0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.v.Kind() != tt.kind {
				t.Errorf("Kind() = %v, want %v", tt.v.Kind(), tt.kind)
			}
			if got := tt.v.Numeric(); got != tt.want {
				t.Errorf("Numeric() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSnapshotValues(t *testing.T) {
	s := domain.Snapshot{
		Time: time.Now(),
		Readings: []domain.Reading{
			{Spec: domain.ParameterSpec{ID: 9, Kind: domain.KindFloat}, Value: domain.Number(1.5)},
			{Spec: domain.ParameterSpec{ID: 1, Kind: domain.KindBitfield}, Value: domain.ExpandBits(5)},
			{Spec: domain.ParameterSpec{ID: 4, Kind: domain.KindFloat}},
		},
	}

	got := s.Values()
	want := []domain.IDValue{{ID: 9, Value: 1.5}, {ID: 1, Value: 5}, {ID: 4, Value: 0}}
	if len(got) != len(want) {
		t.Fatalf("Values() returned %d entries, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Values()[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestReadingMarshalJSON(t *testing.T) {
	tests := []struct {
		name     string
		reading  domain.Reading
		contains []string
		absent   []string
	}{
		{
			name:     "float",
			reading:  domain.Reading{Spec: domain.ParameterSpec{ID: 1, Name: "temp", Kind: domain.KindFloat}, Value: domain.Number(3.125)},
			contains: []string{`"id":1`, `"name":"temp"`, `"kind":"float"`, `"value":3.125`},
			absent:   []string{`"bits"`},
		},
		{
			name:     "bitfield",
			reading:  domain.Reading{Spec: domain.ParameterSpec{ID: 2, Name: "flags", Kind: domain.KindBitfield}, Value: domain.ExpandBits(1)},
			contains: []string{`"kind":"bitfield"`, `"value":1`, `"bits":[true,false`},
		},
		{
			name:     "nan",
			reading:  domain.Reading{Spec: domain.ParameterSpec{ID: 3, Kind: domain.KindFloat}, Value: domain.Number(float32(math.NaN()))},
			contains: []string{`"value":null`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.reading)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			for _, s := range tt.contains {
				if !strings.Contains(string(data), s) {
					t.Errorf("Marshal() = %s, want it to contain %s", data, s)
				}
			}
			for _, s := range tt.absent {
				if strings.Contains(string(data), s) {
					t.Errorf("Marshal() = %s, want it not to contain %s", data, s)
				}
			}
		})
	}
}

func TestValueReportMarshalJSON(t *testing.T) {
	v := domain.ValueReport{
		ID:            12,
		Value:         domain.Number(2),
		Time:          time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		CorrelationID: "abc",
	}
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	for _, s := range []string{`"id":12`, `"kind":"float"`, `"value":2`, `"request_id":"abc"`, `"time":"2024-05-01T10:00:00Z"`} {
		if !strings.Contains(string(data), s) {
			t.Errorf("Marshal() = %s, want it to contain %s", data, s)
		}
	}
}
