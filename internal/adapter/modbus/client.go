// Package modbus provides the Modbus/TCP device transport used by the poll
// worker, together with the register codec and range coalescing.
package modbus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alunegov/hmi-emu/internal/domain"
	"github.com/goburrow/modbus"
	"github.com/rs/zerolog"
)

// Client is a plain Modbus/TCP connection to a single device. It is owned by
// one goroutine; only the diagnostics accessors may be called concurrently.
type Client struct {
	*diagnostics
	config  ClientConfig
	handler *modbus.TCPClientHandler
	client  modbus.Client
	logger  zerolog.Logger
}

// NewClient creates a new Modbus client with the given configuration.
func NewClient(config ClientConfig, logger zerolog.Logger) (*Client, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("%w: modbus address is required", domain.ErrInvalidConfig)
	}
	defaults := DefaultClientConfig()
	if config.Timeout == 0 {
		config.Timeout = defaults.Timeout
	}
	if config.IdleTimeout == 0 {
		config.IdleTimeout = defaults.IdleTimeout
	}

	return &Client{
		diagnostics: newDiagnostics(config.Address),
		config:      config,
		logger:      logger.With().Str("component", "modbus-client").Str("address", config.Address).Logger(),
	}, nil
}

// Connect establishes the connection to the Modbus device.
func (c *Client) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.connected.Load() {
		return nil
	}

	c.logger.Debug().Msg("Connecting to Modbus device")

	handler := modbus.NewTCPClientHandler(c.config.Address)
	handler.Timeout = c.config.Timeout
	handler.SlaveId = c.config.UnitID
	handler.IdleTimeout = c.config.IdleTimeout

	if err := handler.Connect(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
	}

	c.handler = handler
	c.client = modbus.NewClient(handler)
	c.connected.Store(true)

	c.logger.Info().Msg("Connected to Modbus device")
	return nil
}

// Disconnect closes the connection to the Modbus device.
func (c *Client) Disconnect() error {
	if c.handler == nil {
		c.connected.Store(false)
		return nil
	}

	err := c.handler.Close()
	c.connected.Store(false)
	c.handler = nil
	c.client = nil

	if err != nil {
		return fmt.Errorf("close modbus connection: %w", err)
	}
	c.logger.Debug().Msg("Disconnected from Modbus device")
	return nil
}

// ReadInputRegisters reads quantity input registers (function code 4).
func (c *Client) ReadInputRegisters(ctx context.Context, address, quantity uint16) ([]uint16, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.client == nil {
		return nil, domain.ErrNotConnected
	}
	if quantity == 0 || quantity > MaxRegistersPerRead {
		return nil, fmt.Errorf("%w: %d", domain.ErrInvalidRegisterCount, quantity)
	}

	start := time.Now()
	data, err := c.client.ReadInputRegisters(address, quantity)
	if err == nil {
		var regs []uint16
		regs, err = registersFromBytes(data, quantity)
		if err != nil {
			err = fmt.Errorf("%w: %v", domain.ErrConnectionLost, err)
		} else {
			c.recordRead(address, quantity, start, nil)
			return regs, nil
		}
	} else {
		err = translateError(err)
	}

	c.recordRead(address, quantity, start, err)
	return nil, fmt.Errorf("read input registers %d+%d: %w", address, quantity, err)
}

// WriteMultipleRegisters writes consecutive holding registers (function code 16).
func (c *Client) WriteMultipleRegisters(ctx context.Context, address uint16, values []uint16) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.client == nil {
		return domain.ErrNotConnected
	}

	start := time.Now()
	_, err := c.client.WriteMultipleRegisters(address, uint16(len(values)), registersToBytes(values))
	if err != nil {
		err = translateError(err)
		c.recordWrite(start, err)
		return fmt.Errorf("write multiple registers %d+%d: %w", address, len(values), err)
	}

	c.recordWrite(start, nil)
	return nil
}

// translateError converts goburrow errors to domain errors. Only a decoded
// exception response is an application error; every other failure means the
// connection can no longer be trusted.
func translateError(err error) error {
	var mbErr *modbus.ModbusError
	if errors.As(err, &mbErr) {
		return domain.ModbusExceptionToError(mbErr.ExceptionCode)
	}
	return fmt.Errorf("%w: %v", domain.ErrConnectionLost, err)
}
