package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/alunegov/hmi-emu/internal/domain"
)

// fakeTransport is an in-memory device. Errors are scripted per call.
type fakeTransport struct {
	mu sync.Mutex

	regs map[uint16]uint16

	// connectErrs are returned by successive Connect calls; nil afterwards.
	connectErrs []error
	// readErr, if set, is consulted before every read; call is 1-based.
	readErr  func(address, quantity uint16, call int) error
	writeErr func(address uint16, call int) error

	connected   bool
	connects    int
	disconnects int
	readCalls   int
	writeCalls  int
	ops         []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{regs: make(map[uint16]uint16)}
}

func (f *fakeTransport) set(id uint16, lo, hi uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	addr := domain.RegisterAddress(id)
	f.regs[addr] = lo
	f.regs[addr+1] = hi
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if len(f.connectErrs) > 0 {
		err := f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
		if err != nil {
			return err
		}
	}
	f.connected = true
	return nil
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.connected = false
	return nil
}

func (f *fakeTransport) ReadInputRegisters(ctx context.Context, address, quantity uint16) ([]uint16, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readCalls++
	f.ops = append(f.ops, fmt.Sprintf("read %d+%d", address, quantity))
	if !f.connected {
		return nil, domain.ErrNotConnected
	}
	if f.readErr != nil {
		if err := f.readErr(address, quantity, f.readCalls); err != nil {
			if !domain.IsDeviceException(err) {
				f.connected = false
			}
			return nil, err
		}
	}
	out := make([]uint16, quantity)
	for i := range out {
		out[i] = f.regs[address+uint16(i)]
	}
	return out, nil
}

func (f *fakeTransport) WriteMultipleRegisters(ctx context.Context, address uint16, values []uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeCalls++
	f.ops = append(f.ops, fmt.Sprintf("write %d+%d", address, len(values)))
	if !f.connected {
		return domain.ErrNotConnected
	}
	if f.writeErr != nil {
		if err := f.writeErr(address, f.writeCalls); err != nil {
			if !domain.IsDeviceException(err) {
				f.connected = false
			}
			return err
		}
	}
	for i, v := range values {
		f.regs[address+uint16(i)] = v
	}
	return nil
}

func (f *fakeTransport) opsLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

func (f *fakeTransport) counts() (connects, disconnects int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.disconnects
}

func (f *fakeTransport) reg(address uint16) uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.regs[address]
}

var errLinkDown = fmt.Errorf("%w: connection reset by peer", domain.ErrConnectionLost)

// recordingSink keeps everything published to it.
type recordingSink struct {
	mu        sync.Mutex
	snapshots []domain.Snapshot
	values    []domain.ValueReport
}

func (s *recordingSink) PublishSnapshot(snap domain.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snap)
}

func (s *recordingSink) PublishValue(v domain.ValueReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = append(s.values, v)
}

func (s *recordingSink) counts() (snapshots, values int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snapshots), len(s.values)
}

func (s *recordingSink) lastSnapshot() domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshots[len(s.snapshots)-1]
}

func (s *recordingSink) lastValue() domain.ValueReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[len(s.values)-1]
}

// recordingPersister stands in for the snapshot log.
type recordingPersister struct {
	mu      sync.Mutex
	err     error
	records []domain.Snapshot
}

func (p *recordingPersister) Append(s domain.Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.records = append(p.records, s)
	return nil
}

func (p *recordingPersister) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.records)
}

var errDiskFull = errors.New("disk full")
