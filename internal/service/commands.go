package service

import (
	"fmt"
	"sync/atomic"

	mbcodec "github.com/alunegov/hmi-emu/internal/adapter/modbus"
	"github.com/alunegov/hmi-emu/internal/domain"
	"github.com/alunegov/hmi-emu/internal/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RequestQueue accepts on-demand requests for the poll worker.
type RequestQueue interface {
	EnqueueRead(req domain.ReadRequest)
	EnqueueWrite(req domain.WriteRequest)
}

// CommandStats tracks inbound command statistics.
type CommandStats struct {
	Loads    atomic.Uint64
	Saves    atomic.Uint64
	Flags    atomic.Uint64
	Rejected atomic.Uint64
}

// Commands validates requests from UI collaborators and queues them for the
// poll worker. Validation failures are returned before anything is queued.
type Commands struct {
	params  *domain.ParameterSet
	queue   RequestQueue
	logger  zerolog.Logger
	metrics *metrics.Registry
	stats   CommandStats
}

// NewCommands creates the command entry point.
func NewCommands(params *domain.ParameterSet, queue RequestQueue, logger zerolog.Logger, metricsReg *metrics.Registry) *Commands {
	return &Commands{
		params:  params,
		queue:   queue,
		logger:  logger.With().Str("component", "commands").Logger(),
		metrics: metricsReg,
	}
}

// Params returns the parameter specification.
func (c *Commands) Params() *domain.ParameterSet {
	return c.params
}

// Load queues an on-demand read of id. kind may be empty for parameters in
// the specification. The returned request id correlates the value report.
func (c *Commands) Load(id uint32, kind, requestID string) (string, error) {
	pid, k, err := c.resolve(id, kind)
	if err != nil {
		return "", c.reject("load", id, err)
	}

	requestID = ensureRequestID(requestID)
	c.queue.EnqueueRead(domain.ReadRequest{ID: pid, Kind: k, CorrelationID: requestID})
	c.stats.Loads.Add(1)
	c.logger.Debug().Uint16("param_id", pid).Str("request_id", requestID).Msg("Load queued")
	return requestID, nil
}

// Save parses text according to the parameter kind and queues the write.
// Unparseable text is rejected with an error wrapping domain.ErrInvalidValue.
func (c *Commands) Save(id uint32, kind, text, requestID string) (string, error) {
	pid, k, err := c.resolve(id, kind)
	if err != nil {
		return "", c.reject("save", id, err)
	}
	lo, hi, err := mbcodec.EncodeText(k, text)
	if err != nil {
		return "", c.reject("save", id, err)
	}

	requestID = ensureRequestID(requestID)
	c.queue.EnqueueWrite(domain.WriteRequest{ID: pid, Reg0: lo, Reg1: hi, CorrelationID: requestID})
	c.stats.Saves.Add(1)
	c.logger.Debug().Uint16("param_id", pid).Str("request_id", requestID).Str("value", text).Msg("Save queued")
	return requestID, nil
}

// SetFlags queues a write of a bitfield assembled from flags.
func (c *Commands) SetFlags(id uint32, flags domain.Bits, requestID string) (string, error) {
	if err := domain.ValidateParameterID(id); err != nil {
		return "", c.reject("flags", id, err)
	}
	pid := uint16(id)
	if spec, _, ok := c.params.Lookup(pid); ok && spec.Kind != domain.KindBitfield {
		return "", c.reject("flags", id, fmt.Errorf("%w: parameter %d is a %s", domain.ErrInvalidKind, pid, spec.Kind))
	}

	lo, hi := mbcodec.EncodeBits(flags)
	requestID = ensureRequestID(requestID)
	c.queue.EnqueueWrite(domain.WriteRequest{ID: pid, Reg0: lo, Reg1: hi, CorrelationID: requestID})
	c.stats.Flags.Add(1)
	c.logger.Debug().Uint16("param_id", pid).Str("request_id", requestID).Uint32("bits", flags.Pack()).Msg("Flags queued")
	return requestID, nil
}

// Stats returns the command counters.
func (c *Commands) Stats() *CommandStats {
	return &c.stats
}

// resolve validates id and picks the kind: the explicit one if given,
// otherwise the one declared in the specification.
func (c *Commands) resolve(id uint32, kind string) (uint16, domain.Kind, error) {
	if err := domain.ValidateParameterID(id); err != nil {
		return 0, 0, err
	}
	pid := uint16(id)
	if kind != "" {
		k, err := domain.ParseKind(kind)
		return pid, k, err
	}
	spec, _, ok := c.params.Lookup(pid)
	if !ok {
		return 0, 0, fmt.Errorf("%w: kind is required for parameter %d, which is not in the specification",
			domain.ErrInvalidKind, pid)
	}
	return pid, spec.Kind, nil
}

func (c *Commands) reject(op string, id uint32, err error) error {
	c.stats.Rejected.Add(1)
	c.metrics.RecordRejected(op)
	c.logger.Warn().Err(err).Str("op", op).Uint32("param_id", id).Msg("Command rejected")
	return err
}

func ensureRequestID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}
