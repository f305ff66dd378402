// Package snapshot implements the append-only snapshot log. Each poll cycle
// becomes one JSON object on its own line: the capture time followed by
// every parameter id and its numeric value, in specification order.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alunegov/hmi-emu/internal/domain"
	"github.com/rs/zerolog"
)

// TimeFormat is the layout of the "time" field of every record.
const TimeFormat = "2006-01-02T15:04:05.000Z07:00"

// ErrClosed is returned by Append after Close.
var ErrClosed = errors.New("snapshot log is closed")

// Config holds snapshot log configuration.
type Config struct {
	Dir    string
	Prefix string
	// Fsync syncs the file after each record.
	Fsync bool
}

// FileName returns the log file name for a process started at t.
func FileName(prefix string, t time.Time) string {
	return fmt.Sprintf("%s_%s.jsonl", prefix, t.Format("20060102_150405"))
}

// errWriter remembers the last error of the wrapped writer; zerolog reports
// write failures to its global handler rather than to the caller.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Write(p []byte) (int, error) {
	n, err := e.w.Write(p)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	e.err = err
	return n, err
}

// Writer appends snapshot records. Each record reaches the underlying
// writer in a single Write call.
type Writer struct {
	mu      sync.Mutex
	out     *errWriter
	enc     zerolog.Logger
	closer  io.Closer
	syncer  interface{ Sync() error }
	path    string
	records uint64
	lastErr error
	closed  bool
}

// NewWriter returns a Writer over w. If w is an *os.File and fsync is true,
// every record is synced to disk.
func NewWriter(w io.Writer, fsync bool) *Writer {
	out := &errWriter{w: w}
	sw := &Writer{
		out: out,
		enc: zerolog.New(out),
	}
	if fsync {
		if s, ok := w.(interface{ Sync() error }); ok {
			sw.syncer = s
		}
	}
	return sw
}

// maxNameCollisions bounds the suffixes Create tries when runs start within
// the same second.
const maxNameCollisions = 100

// Create creates a new log file in cfg.Dir named after started. An existing
// file is never reused: if the name is taken, _1, _2, ... is added before
// the extension.
func Create(cfg Config, started time.Time) (*Writer, error) {
	if cfg.Dir == "" {
		cfg.Dir = "."
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}

	base := FileName(cfg.Prefix, started)
	var (
		f    *os.File
		path string
		err  error
	)
	for n := 0; n < maxNameCollisions; n++ {
		name := base
		if n > 0 {
			name = strings.TrimSuffix(base, ".jsonl") + "_" + strconv.Itoa(n) + ".jsonl"
		}
		path = filepath.Join(cfg.Dir, name)
		f, err = os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_APPEND, 0o644)
		if !errors.Is(err, fs.ErrExist) {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open snapshot log: %w", err)
	}

	w := NewWriter(f, cfg.Fsync)
	w.closer = f
	w.path = path
	return w, nil
}

// Path returns the log file path, or "" for a writer not made by Create.
func (w *Writer) Path() string {
	return w.path
}

// Append writes one record for s. A failed write loses only this record;
// later calls try again.
func (w *Writer) Append(s domain.Snapshot) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}

	ev := w.enc.Log().Str("time", s.Time.Format(TimeFormat))
	for _, v := range s.Values() {
		ev = ev.Float64(strconv.FormatUint(uint64(v.ID), 10), v.Value)
	}

	w.out.err = nil
	ev.Send()
	err := w.out.err
	if err == nil && w.syncer != nil {
		err = w.syncer.Sync()
	}
	if err != nil {
		w.lastErr = err
		return fmt.Errorf("append snapshot: %w", err)
	}

	w.lastErr = nil
	w.records++
	return nil
}

// Records returns the number of records written successfully.
func (w *Writer) Records() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.records
}

// HealthCheck reports the error of the most recent append, if it failed.
func (w *Writer) HealthCheck(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	return w.lastErr
}

// Close closes the underlying file. It is safe to call more than once.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}
