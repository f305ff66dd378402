package modbus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alunegov/hmi-emu/internal/domain"
	"github.com/rs/zerolog"
	mb "github.com/simonvetter/modbus"
)

// exceptionCodes maps simonvetter exception errors to their Modbus codes.
var exceptionCodes = []struct {
	err  error
	code byte
}{
	{mb.ErrIllegalFunction, 0x01},
	{mb.ErrIllegalDataAddress, 0x02},
	{mb.ErrIllegalDataValue, 0x03},
	{mb.ErrServerDeviceFailure, 0x04},
	{mb.ErrAcknowledge, 0x05},
	{mb.ErrServerDeviceBusy, 0x06},
	{mb.ErrMemoryParityError, 0x08},
	{mb.ErrGWPathUnavailable, 0x0A},
	{mb.ErrGWTargetFailedToRespond, 0x0B},
}

// URLClient reaches the device through a transport URL (tcp://,
// rtuovertcp://, udp://). Like Client it is owned by one goroutine.
type URLClient struct {
	*diagnostics
	config ClientConfig
	client *mb.ModbusClient
	logger zerolog.Logger
}

// NewURLClient validates the URL and prepares a client. No connection is
// made until Connect.
func NewURLClient(config ClientConfig, logger zerolog.Logger) (*URLClient, error) {
	if config.Timeout == 0 {
		config.Timeout = DefaultClientConfig().Timeout
	}

	client, err := mb.NewClient(&mb.ClientConfiguration{
		URL:     config.Address,
		Timeout: config.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}

	return &URLClient{
		diagnostics: newDiagnostics(config.Address),
		config:      config,
		client:      client,
		logger:      logger.With().Str("component", "modbus-url-client").Str("address", config.Address).Logger(),
	}, nil
}

// Connect opens the underlying transport.
func (c *URLClient) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.connected.Load() {
		return nil
	}

	if err := c.client.Open(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
	}
	if err := c.client.SetUnitId(c.config.UnitID); err != nil {
		c.client.Close()
		return fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
	}

	c.connected.Store(true)
	c.logger.Info().Msg("Connected to Modbus device")
	return nil
}

// Disconnect closes the underlying transport.
func (c *URLClient) Disconnect() error {
	if !c.connected.Load() {
		return nil
	}
	c.connected.Store(false)
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("close modbus connection: %w", err)
	}
	c.logger.Debug().Msg("Disconnected from Modbus device")
	return nil
}

// ReadInputRegisters reads quantity input registers.
func (c *URLClient) ReadInputRegisters(ctx context.Context, address, quantity uint16) ([]uint16, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.connected.Load() {
		return nil, domain.ErrNotConnected
	}
	if quantity == 0 || quantity > MaxRegistersPerRead {
		return nil, fmt.Errorf("%w: %d", domain.ErrInvalidRegisterCount, quantity)
	}

	start := time.Now()
	regs, err := c.client.ReadRegisters(address, quantity, mb.INPUT_REGISTER)
	if err == nil && len(regs) != int(quantity) {
		err = fmt.Errorf("%w: got %d registers, want %d", domain.ErrInvalidRegisterCount, len(regs), quantity)
	}
	if err != nil {
		err = translateURLError(err)
		c.recordRead(address, quantity, start, err)
		return nil, fmt.Errorf("read input registers %d+%d: %w", address, quantity, err)
	}

	c.recordRead(address, quantity, start, nil)
	return regs, nil
}

// WriteMultipleRegisters writes consecutive holding registers.
func (c *URLClient) WriteMultipleRegisters(ctx context.Context, address uint16, values []uint16) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.connected.Load() {
		return domain.ErrNotConnected
	}

	start := time.Now()
	if err := c.client.WriteRegisters(address, values); err != nil {
		err = translateURLError(err)
		c.recordWrite(start, err)
		return fmt.Errorf("write multiple registers %d+%d: %w", address, len(values), err)
	}

	c.recordWrite(start, nil)
	return nil
}

func translateURLError(err error) error {
	for _, e := range exceptionCodes {
		if errors.Is(err, e.err) {
			return domain.ModbusExceptionToError(e.code)
		}
	}
	return fmt.Errorf("%w: %v", domain.ErrConnectionLost, err)
}
