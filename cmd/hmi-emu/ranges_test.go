package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/alunegov/hmi-emu/internal/adapter/modbus"
	"github.com/alunegov/hmi-emu/internal/domain"
)

func TestWriteRanges(t *testing.T) {
	params := domain.NewParameterSet([]domain.ParameterSpec{
		{ID: 1, Kind: domain.KindFloat},
		{ID: 3, Kind: domain.KindFloat},
		{ID: 10, Kind: domain.KindBitfield},
	})
	ranges := modbus.BuildRanges(params.IDs(), modbus.DefaultBatchConfig())

	var out bytes.Buffer
	if err := writeRanges(&out, params, ranges); err != nil {
		t.Fatalf("writeRanges: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 5 {
		t.Fatalf("got %d lines:\n%s", len(lines), out.String())
	}
	if got := strings.Fields(lines[1]); strings.Join(got, " ") != "1 3 0 6 2" {
		t.Errorf("first range = %q", lines[1])
	}
	if got := strings.Fields(lines[2]); strings.Join(got, " ") != "10 10 18 2 1" {
		t.Errorf("second range = %q", lines[2])
	}
	if !strings.HasPrefix(lines[4], "3 parameters in 2 reads") {
		t.Errorf("summary = %q", lines[4])
	}
}
