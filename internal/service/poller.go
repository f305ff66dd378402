// Package service provides the poll worker that owns the device connection,
// interleaving periodic bulk polls with on-demand reads and writes, and the
// glue between it and the UI collaborators.
package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	mbcodec "github.com/alunegov/hmi-emu/internal/adapter/modbus"
	"github.com/alunegov/hmi-emu/internal/domain"
	"github.com/alunegov/hmi-emu/internal/metrics"
	"github.com/alunegov/hmi-emu/pkg/logging"
	"github.com/rs/zerolog"
)

// ErrAlreadyRunning is returned by Run when the worker is already running.
var ErrAlreadyRunning = errors.New("poller is already running")

// State is the connection lifecycle state of the worker.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StatePolling
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StatePolling:
		return "polling"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// SnapshotWriter persists one snapshot per successful bulk poll.
type SnapshotWriter interface {
	Append(s domain.Snapshot) error
}

// PollerConfig holds the worker timing.
type PollerConfig struct {
	// ReconnectDelay is waited in the disconnected state before every
	// connection attempt.
	ReconnectDelay time.Duration
	// PollInterval is waited after each cycle, measured from its end.
	PollInterval time.Duration
	// Jitter adds a random delay in [0, Jitter) to PollInterval.
	Jitter time.Duration
}

// DefaultPollerConfig returns the fixed 1s reconnect / 500ms poll timing.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		ReconnectDelay: time.Second,
		PollInterval:   500 * time.Millisecond,
	}
}

// PollerStats tracks worker statistics.
type PollerStats struct {
	Cycles          atomic.Uint64
	FailedCycles    atomic.Uint64
	Exceptions      atomic.Uint64
	Connects        atomic.Uint64
	ConnectFailures atomic.Uint64
	Disconnects     atomic.Uint64
	ReadsServed     atomic.Uint64
	WritesServed    atomic.Uint64
	SnapshotErrors  atomic.Uint64
}

// Status is a point-in-time view of the worker for status endpoints.
type Status struct {
	State           string                 `json:"state"`
	Cycles          uint64                 `json:"cycles"`
	FailedCycles    uint64                 `json:"failed_cycles"`
	Exceptions      uint64                 `json:"exceptions"`
	Connects        uint64                 `json:"connects"`
	ConnectFailures uint64                 `json:"connect_failures"`
	Disconnects     uint64                 `json:"disconnects"`
	ReadsServed     uint64                 `json:"reads_served"`
	WritesServed    uint64                 `json:"writes_served"`
	SnapshotErrors  uint64                 `json:"snapshot_errors"`
	QueuedReads     int                    `json:"queued_reads"`
	QueuedWrites    int                    `json:"queued_writes"`
	LastCycle       time.Time              `json:"last_cycle,omitempty"`
	LastError       string                 `json:"last_error,omitempty"`
	Ranges          []domain.RegisterRange `json:"ranges"`
}

// rangePlan is one bulk read and the spec entries decoded from it.
type rangePlan struct {
	rng     domain.RegisterRange
	members []int
}

// Poller is the single worker that owns the device connection. No other
// goroutine may use the transport while Run is active; requests from UI
// collaborators reach it through EnqueueRead and EnqueueWrite.
type Poller struct {
	config    PollerConfig
	transport domain.Transport
	specs     []domain.ParameterSpec
	ranges    []domain.RegisterRange
	plan      []rangePlan
	sink      domain.Sink
	persister SnapshotWriter
	reads     *Queue[domain.ReadRequest]
	writes    *Queue[domain.WriteRequest]
	logger    zerolog.Logger
	metrics   *metrics.Registry
	stats     PollerStats

	state   atomic.Int32
	running atomic.Bool

	mu        sync.RWMutex
	lastCycle time.Time
	lastError error
}

// NewPoller creates a worker polling params over ranges. persister may be
// nil to disable the snapshot log.
func NewPoller(
	config PollerConfig,
	transport domain.Transport,
	params *domain.ParameterSet,
	ranges []domain.RegisterRange,
	sink domain.Sink,
	persister SnapshotWriter,
	logger zerolog.Logger,
	metricsReg *metrics.Registry,
) *Poller {
	defaults := DefaultPollerConfig()
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = defaults.ReconnectDelay
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}

	p := &Poller{
		config:    config,
		transport: transport,
		specs:     params.Specs(),
		ranges:    append([]domain.RegisterRange(nil), ranges...),
		sink:      sink,
		persister: persister,
		reads:     NewQueue[domain.ReadRequest](),
		writes:    NewQueue[domain.WriteRequest](),
		logger:    logger.With().Str("component", "poller").Logger(),
		metrics:   metricsReg,
	}
	p.plan = p.buildPlan()
	return p
}

func (p *Poller) buildPlan() []rangePlan {
	plan := make([]rangePlan, len(p.ranges))
	for i, r := range p.ranges {
		plan[i].rng = r
	}
	for idx, spec := range p.specs {
		covered := false
		for i := range plan {
			if plan[i].rng.Contains(spec.ID) {
				plan[i].members = append(plan[i].members, idx)
				covered = true
				break
			}
		}
		if !covered {
			p.logger.Warn().Uint16("param_id", spec.ID).Msg("Parameter not covered by any range, it will read as zero")
		}
	}
	return plan
}

// State returns the current lifecycle state.
func (p *Poller) State() State {
	return State(p.state.Load())
}

func (p *Poller) setState(s State) {
	old := State(p.state.Swap(int32(s)))
	if old != s {
		p.logger.Debug().Stringer("from", old).Stringer("to", s).Msg("State changed")
	}
	p.metrics.SetConnected(s == StatePolling)
}

// EnqueueRead queues an on-demand read. It never blocks.
func (p *Poller) EnqueueRead(req domain.ReadRequest) {
	p.reads.Push(req)
	p.metrics.UpdateQueueDepth("read", p.reads.Len())
}

// EnqueueWrite queues an on-demand write. It never blocks.
func (p *Poller) EnqueueWrite(req domain.WriteRequest) {
	p.writes.Push(req)
	p.metrics.UpdateQueueDepth("write", p.writes.Len())
}

// Run drives the connection lifecycle until ctx is done and then returns
// ctx.Err(). A transaction in flight is never abandoned; cancellation is
// observed at the next delay or before the next transaction.
func (p *Poller) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer p.running.Store(false)
	defer p.shutdown()

	p.logger.Info().
		Int("parameters", len(p.specs)).
		Int("ranges", len(p.ranges)).
		Dur("poll_interval", p.config.PollInterval).
		Dur("reconnect_delay", p.config.ReconnectDelay).
		Msg("Starting poll worker")

	for {
		switch p.State() {
		case StateDisconnected:
			if err := sleepCtx(ctx, p.config.ReconnectDelay); err != nil {
				return err
			}
			p.setState(StateConnecting)

		case StateConnecting:
			p.connect(ctx)

		case StatePolling:
			if err := p.pollCycle(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				p.dropConnection(err)
				continue
			}
			if err := sleepCtx(ctx, p.nextDelay()); err != nil {
				return err
			}
		}
	}
}

func (p *Poller) connect(ctx context.Context) {
	start := time.Now()
	err := p.transport.Connect(ctx)
	p.metrics.RecordConnection(err == nil, time.Since(start).Seconds())
	if err != nil {
		p.stats.ConnectFailures.Add(1)
		p.setLastError(err)
		p.logger.Warn().Err(err).Msg("Connection failed")
		p.setState(StateDisconnected)
		return
	}

	p.stats.Connects.Add(1)
	p.logger.Info().Dur("latency", time.Since(start)).Msg("Connected, polling")
	p.setState(StatePolling)
}

// dropConnection leaves the polling state after a connection-level failure.
func (p *Poller) dropConnection(cause error) {
	p.stats.Disconnects.Add(1)
	p.metrics.RecordDisconnect()
	p.setLastError(cause)
	p.logger.Warn().Err(cause).Msg("Connection lost")

	if err := p.transport.Disconnect(); err != nil {
		p.logger.Debug().Err(err).Msg("Disconnect after failure")
	}
	p.setState(StateDisconnected)
}

func (p *Poller) shutdown() {
	if p.State() == StatePolling || p.State() == StateConnecting {
		if err := p.transport.Disconnect(); err != nil {
			p.logger.Debug().Err(err).Msg("Disconnect on shutdown")
		}
	}
	p.setState(StateDisconnected)
	p.logger.Info().Msg("Poll worker stopped")
}

func (p *Poller) nextDelay() time.Duration {
	d := p.config.PollInterval
	if p.config.Jitter > 0 {
		d += time.Duration(rand.Int63n(int64(p.config.Jitter)))
	}
	return d
}

// pollCycle runs one bulk poll followed by at most one on-demand read and
// one on-demand write. A returned error is connection-level.
func (p *Poller) pollCycle(ctx context.Context) error {
	start := time.Now()

	snapshot, err := p.bulkPoll(ctx)
	if err != nil {
		return p.abortCycle(start, err)
	}
	p.emit(snapshot)

	if err := p.serveRead(ctx); err != nil {
		return p.abortCycle(start, err)
	}
	if err := p.serveWrite(ctx); err != nil {
		return p.abortCycle(start, err)
	}

	duration := time.Since(start)
	p.stats.Cycles.Add(1)
	p.metrics.RecordCycle("ok", duration.Seconds())

	p.mu.Lock()
	p.lastCycle = snapshot.Time
	p.lastError = nil
	p.mu.Unlock()

	p.logger.Debug().
		Int("parameters", len(snapshot.Readings)).
		Dur("duration", duration).
		Msg("Poll cycle completed")
	return nil
}

func (p *Poller) abortCycle(start time.Time, err error) error {
	p.stats.FailedCycles.Add(1)
	p.metrics.RecordCycle("aborted", time.Since(start).Seconds())
	return err
}

// bulkPoll reads every range and decodes every parameter. A range answered
// with a device exception decodes as zeros.
func (p *Poller) bulkPoll(ctx context.Context) (domain.Snapshot, error) {
	values := make([]domain.DecodedValue, len(p.specs))

	for _, rp := range p.plan {
		quantity := rp.rng.Quantity()
		regs, err := p.transport.ReadInputRegisters(ctx, rp.rng.Address(), quantity)
		result := "ok"
		if err == nil && len(regs) < int(quantity) {
			err = fmt.Errorf("%w: short response for range %s", domain.ErrConnectionLost, rp.rng)
		}
		if err != nil {
			if !domain.IsDeviceException(err) {
				p.metrics.RecordRangeRead("error", 0)
				return domain.Snapshot{}, err
			}
			result = "exception"
			p.stats.Exceptions.Add(1)
			p.logger.Warn().Err(err).Stringer("range", rp.rng).Msg("Device exception, range read as zeros")
			regs = make([]uint16, quantity)
		}

		for _, idx := range rp.members {
			spec := p.specs[idx]
			off := int(spec.ID-rp.rng.StartID) * 2
			values[idx] = mbcodec.DecodeValue(spec.Kind, regs[off], regs[off+1])
		}
		p.metrics.RecordRangeRead(result, len(rp.members))
	}

	snapshot := domain.Snapshot{
		Time:     time.Now(),
		Readings: make([]domain.Reading, len(p.specs)),
	}
	for i, spec := range p.specs {
		v := values[i]
		if v == nil {
			v = mbcodec.DecodeValue(spec.Kind, 0, 0)
		}
		snapshot.Readings[i] = domain.Reading{Spec: spec, Value: v}
	}
	return snapshot, nil
}

// emit persists the snapshot and hands it to the sink. Persistence failures
// are logged and do not affect polling.
func (p *Poller) emit(snapshot domain.Snapshot) {
	if p.persister != nil {
		if err := p.persister.Append(snapshot); err != nil {
			p.stats.SnapshotErrors.Add(1)
			p.metrics.RecordSnapshotWrite(false)
			p.logger.Error().Err(err).Msg("Failed to persist snapshot")
		} else {
			p.metrics.RecordSnapshotWrite(true)
		}
	}
	if p.sink != nil {
		p.sink.PublishSnapshot(snapshot)
	}
}

func (p *Poller) serveRead(ctx context.Context) error {
	req, ok := p.reads.TryPop()
	if !ok {
		return nil
	}
	p.metrics.UpdateQueueDepth("read", p.reads.Len())
	logger := logging.WithParameter(p.logger, req.ID, req.CorrelationID)

	regs, err := p.transport.ReadInputRegisters(ctx, domain.RegisterAddress(req.ID), 2)
	result := "ok"
	if err == nil && len(regs) < 2 {
		err = fmt.Errorf("%w: short response for parameter %d", domain.ErrConnectionLost, req.ID)
	}
	if err != nil {
		if !domain.IsDeviceException(err) {
			p.metrics.RecordRequest("read", "error")
			logger.Warn().Err(err).Msg("On-demand read dropped")
			return err
		}
		result = "exception"
		p.stats.Exceptions.Add(1)
		logger.Warn().Err(err).Msg("Device exception on on-demand read, reporting zero")
		regs = []uint16{0, 0}
	}

	p.stats.ReadsServed.Add(1)
	p.metrics.RecordRequest("read", result)
	if p.sink != nil {
		p.sink.PublishValue(domain.ValueReport{
			ID:            req.ID,
			Value:         mbcodec.DecodeValue(req.Kind, regs[0], regs[1]),
			Time:          time.Now(),
			CorrelationID: req.CorrelationID,
		})
	}
	return nil
}

func (p *Poller) serveWrite(ctx context.Context) error {
	req, ok := p.writes.TryPop()
	if !ok {
		return nil
	}
	p.metrics.UpdateQueueDepth("write", p.writes.Len())
	logger := logging.WithParameter(p.logger, req.ID, req.CorrelationID)

	err := p.transport.WriteMultipleRegisters(ctx, domain.RegisterAddress(req.ID), []uint16{req.Reg0, req.Reg1})
	if err != nil {
		if !domain.IsDeviceException(err) {
			p.metrics.RecordRequest("write", "error")
			logger.Warn().Err(err).Msg("On-demand write dropped")
			return err
		}
		p.stats.Exceptions.Add(1)
		p.metrics.RecordRequest("write", "exception")
		logger.Warn().Err(err).Msg("Device exception on write")
		return nil
	}

	p.stats.WritesServed.Add(1)
	p.metrics.RecordRequest("write", "ok")
	logger.Debug().Uint16("reg0", req.Reg0).Uint16("reg1", req.Reg1).Msg("Write completed")
	return nil
}

func (p *Poller) setLastError(err error) {
	p.mu.Lock()
	p.lastError = err
	p.mu.Unlock()
}

// Ranges returns the coalesced ranges read every cycle.
func (p *Poller) Ranges() []domain.RegisterRange {
	return append([]domain.RegisterRange(nil), p.ranges...)
}

// Stats returns the worker counters.
func (p *Poller) Stats() *PollerStats {
	return &p.stats
}

// Status returns a snapshot of the worker state and counters.
func (p *Poller) Status() Status {
	p.mu.RLock()
	lastCycle, lastErr := p.lastCycle, p.lastError
	p.mu.RUnlock()

	st := Status{
		State:           p.State().String(),
		Cycles:          p.stats.Cycles.Load(),
		FailedCycles:    p.stats.FailedCycles.Load(),
		Exceptions:      p.stats.Exceptions.Load(),
		Connects:        p.stats.Connects.Load(),
		ConnectFailures: p.stats.ConnectFailures.Load(),
		Disconnects:     p.stats.Disconnects.Load(),
		ReadsServed:     p.stats.ReadsServed.Load(),
		WritesServed:    p.stats.WritesServed.Load(),
		SnapshotErrors:  p.stats.SnapshotErrors.Load(),
		QueuedReads:     p.reads.Len(),
		QueuedWrites:    p.writes.Len(),
		LastCycle:       lastCycle,
		Ranges:          p.Ranges(),
	}
	if lastErr != nil {
		st.LastError = lastErr.Error()
	}
	return st
}

// HealthCheck reports an error unless the worker is polling.
func (p *Poller) HealthCheck(ctx context.Context) error {
	if s := p.State(); s != StatePolling {
		return fmt.Errorf("poll worker is %s", s)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
