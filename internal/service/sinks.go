package service

import (
	"sync"

	"github.com/alunegov/hmi-emu/internal/domain"
)

// LatestSink remembers the most recent snapshot and the most recent
// on-demand value per parameter, for pull-style collaborators.
type LatestSink struct {
	mu       sync.RWMutex
	snapshot domain.Snapshot
	have     bool
	values   map[uint16]domain.ValueReport
}

// NewLatestSink returns an empty LatestSink.
func NewLatestSink() *LatestSink {
	return &LatestSink{values: make(map[uint16]domain.ValueReport)}
}

// PublishSnapshot implements domain.Sink.
func (s *LatestSink) PublishSnapshot(snap domain.Snapshot) {
	s.mu.Lock()
	s.snapshot = snap
	s.have = true
	s.mu.Unlock()
}

// PublishValue implements domain.Sink.
func (s *LatestSink) PublishValue(v domain.ValueReport) {
	s.mu.Lock()
	s.values[v.ID] = v
	s.mu.Unlock()
}

// Snapshot returns the latest snapshot; ok is false before the first poll.
// Snapshots are never mutated after publication, so sharing is safe.
func (s *LatestSink) Snapshot() (domain.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot, s.have
}

// Value returns the latest on-demand value for id.
func (s *LatestSink) Value(id uint16) (domain.ValueReport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[id]
	return v, ok
}

// FanoutSink forwards to every non-nil sink in order.
type FanoutSink []domain.Sink

// NewFanoutSink drops nil entries.
func NewFanoutSink(sinks ...domain.Sink) FanoutSink {
	out := make(FanoutSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// PublishSnapshot implements domain.Sink.
func (f FanoutSink) PublishSnapshot(snap domain.Snapshot) {
	for _, s := range f {
		s.PublishSnapshot(snap)
	}
}

// PublishValue implements domain.Sink.
func (f FanoutSink) PublishValue(v domain.ValueReport) {
	for _, s := range f {
		s.PublishValue(v)
	}
}
