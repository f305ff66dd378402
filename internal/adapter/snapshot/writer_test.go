package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alunegov/hmi-emu/internal/domain"
)

var captured = time.Date(2024, 3, 5, 10, 20, 30, 123_000_000, time.UTC)

func testSnapshot() domain.Snapshot {
	return domain.Snapshot{
		Time: captured,
		Readings: []domain.Reading{
			{Spec: domain.ParameterSpec{ID: 7, Name: "flow", Kind: domain.KindFloat}, Value: domain.Number(3.125)},
			{Spec: domain.ParameterSpec{ID: 2, Name: "alarms", Kind: domain.KindBitfield}, Value: domain.ExpandBits(0xFFFFFFFF)},
			{Spec: domain.ParameterSpec{ID: 5, Name: "state", Kind: domain.KindBitfield}, Value: domain.ExpandBits(5)},
		},
	}
}

func TestFileName(t *testing.T) {
	got := FileName("hmi-emu", time.Date(2023, 1, 2, 3, 4, 5, 0, time.Local))
	if want := "hmi-emu_20230102_030405.jsonl"; got != want {
		t.Errorf("FileName = %q, want %q", got, want)
	}
}

func TestAppend_Record(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, false)

	if err := w.Append(testSnapshot()); err != nil {
		t.Fatalf("Append: %v", err)
	}

	want := `{"time":"2024-03-05T10:20:30.123Z","7":3.125,"2":4294967295,"5":5}` + "\n"
	if got := buf.String(); got != want {
		t.Errorf("record =\n%s\nwant\n%s", got, want)
	}
	if w.Records() != 1 {
		t.Errorf("Records = %d, want 1", w.Records())
	}
}

func TestAppend_OneLinePerCycle(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, false)

	for i := 0; i < 3; i++ {
		if err := w.Append(testSnapshot()); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(lines))
	}
	for i, line := range lines {
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Errorf("line %d is not JSON: %v", i, err)
		}
	}
}

func TestAppend_EmptySnapshot(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, false)

	if err := w.Append(domain.Snapshot{Time: captured}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if want := `{"time":"2024-03-05T10:20:30.123Z"}` + "\n"; buf.String() != want {
		t.Errorf("record = %q, want %q", buf.String(), want)
	}
}

type flakyWriter struct {
	fail bool
	buf  bytes.Buffer
}

func (f *flakyWriter) Write(p []byte) (int, error) {
	if f.fail {
		return 0, errors.New("disk full")
	}
	return f.buf.Write(p)
}

func TestAppend_WriteErrorIsReturnedAndRecovers(t *testing.T) {
	fw := &flakyWriter{fail: true}
	w := NewWriter(fw, false)

	if err := w.Append(testSnapshot()); err == nil {
		t.Fatal("expected error from failing writer")
	}
	if err := w.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck should report the failed append")
	}
	if w.Records() != 0 {
		t.Errorf("Records = %d, want 0", w.Records())
	}

	fw.fail = false
	if err := w.Append(testSnapshot()); err != nil {
		t.Fatalf("Append after recovery: %v", err)
	}
	if err := w.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck after recovery: %v", err)
	}
	if strings.Count(fw.buf.String(), "\n") != 1 {
		t.Errorf("expected exactly one record, got %q", fw.buf.String())
	}
}

func TestCreate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	started := time.Date(2024, 3, 5, 10, 20, 30, 0, time.Local)

	w, err := Create(Config{Dir: dir, Prefix: "hmi-emu", Fsync: true}, started)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	wantPath := filepath.Join(dir, "hmi-emu_20240305_102030.jsonl")
	if w.Path() != wantPath {
		t.Errorf("Path = %q, want %q", w.Path(), wantPath)
	}

	if err := w.Append(testSnapshot()); err != nil {
		t.Fatalf("Append: %v", err)
	}

	// The record is on disk before Close.
	data, err := os.ReadFile(wantPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.HasPrefix(string(data), `{"time":"2024-03-05T10:20:30.123Z","7":3.125`) {
		t.Errorf("file content = %q", data)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := w.Append(testSnapshot()); !errors.Is(err, ErrClosed) {
		t.Errorf("Append after Close = %v, want ErrClosed", err)
	}
}

func TestCreate_SameSecondGetsNewFile(t *testing.T) {
	dir := t.TempDir()
	started := time.Date(2024, 3, 5, 10, 20, 30, 0, time.Local)
	cfg := Config{Dir: dir, Prefix: "hmi-emu"}

	first, err := Create(cfg, started)
	if err != nil {
		t.Fatalf("first Create: %v", err)
	}
	if err := first.Append(testSnapshot()); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second, err := Create(cfg, started)
	if err != nil {
		t.Fatalf("second Create: %v", err)
	}
	defer second.Close()

	wantPath := filepath.Join(dir, "hmi-emu_20240305_102030_1.jsonl")
	if second.Path() != wantPath {
		t.Errorf("second Path = %q, want %q", second.Path(), wantPath)
	}
	info, err := os.Stat(second.Path())
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() != 0 {
		t.Errorf("second log starts with %d bytes, want a fresh file", info.Size())
	}

	data, err := os.ReadFile(first.Path())
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if strings.Count(string(data), "\n") != 1 {
		t.Errorf("first log = %q, want its single record untouched", data)
	}
}
