// Package modbus provides types and utilities for Modbus TCP communication.
package modbus

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/alunegov/hmi-emu/internal/domain"
	"github.com/rs/zerolog"
)

// MaxRegistersPerRead is the Modbus protocol limit for a single read.
const MaxRegistersPerRead = 125

// ClientConfig holds configuration for a Modbus client.
type ClientConfig struct {
	// Address is host:port for plain Modbus/TCP, or a URL
	// (tcp://, rtuovertcp://, udp://) for the URL transport.
	Address string

	// UnitID is the Modbus unit/slave ID.
	UnitID byte

	// Timeout is the connection and response timeout.
	Timeout time.Duration

	// IdleTimeout closes a connection nobody used for this long.
	IdleTimeout time.Duration
}

// DefaultClientConfig returns the configuration used when nothing is set.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Address:     "192.168.50.230:1313",
		UnitID:      1,
		Timeout:     5 * time.Second,
		IdleTimeout: time.Minute,
	}
}

// ClientStats tracks client performance metrics.
type ClientStats struct {
	ReadCount      atomic.Uint64
	WriteCount     atomic.Uint64
	ErrorCount     atomic.Uint64
	ExceptionCount atomic.Uint64
	TotalReadTime  atomic.Int64 // nanoseconds
	TotalWriteTime atomic.Int64 // nanoseconds
}

// BlockDiagnostic tracks success/error metrics for one register block.
type BlockDiagnostic struct {
	Address         uint16
	Quantity        uint16
	ReadCount       atomic.Uint64
	ErrorCount      atomic.Uint64
	LastError       atomic.Value // stores string
	LastErrorTime   atomic.Value // stores time.Time
	LastSuccessTime atomic.Value // stores time.Time
}

// BlockHealth is a point-in-time copy of a BlockDiagnostic.
type BlockHealth struct {
	Address         uint16    `json:"address"`
	Quantity        uint16    `json:"quantity"`
	ReadCount       uint64    `json:"read_count"`
	ErrorCount      uint64    `json:"error_count"`
	LastError       string    `json:"last_error,omitempty"`
	LastErrorTime   time.Time `json:"last_error_time,omitempty"`
	LastSuccessTime time.Time `json:"last_success_time,omitempty"`
}

// DeviceStats contains statistics for the device connection.
type DeviceStats struct {
	Address        string  `json:"address"`
	ReadCount      uint64  `json:"read_count"`
	WriteCount     uint64  `json:"write_count"`
	ErrorCount     uint64  `json:"error_count"`
	ExceptionCount uint64  `json:"exception_count"`
	AvgReadTimeMs  float64 `json:"avg_read_time_ms"`
	AvgWriteTimeMs float64 `json:"avg_write_time_ms"`
	Connected      bool    `json:"connected"`
}

// Device is a Transport that also reports diagnostics.
type Device interface {
	domain.Transport
	DeviceStats() DeviceStats
	BlockHealth() []BlockHealth
}

// BatchConfig configures range coalescing.
type BatchConfig struct {
	// MaxParametersPerRead caps the ids per read. Each id is two registers,
	// so 62 keeps a read at 124 registers, under the 125 limit.
	MaxParametersPerRead uint16
	// MaxGap is the number of unused ids a range may bridge.
	MaxGap uint16
}

// DefaultBatchConfig returns the coalescing rules used by the poller.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		MaxParametersPerRead: MaxRegistersPerRead / 2,
		MaxGap:               1,
	}
}

// NewDevice picks the transport for config.Address: a URL selects the
// URL client, anything else the plain TCP client.
func NewDevice(config ClientConfig, logger zerolog.Logger) (Device, error) {
	if strings.Contains(config.Address, "://") {
		return NewURLClient(config, logger)
	}
	return NewClient(config, logger)
}
