// Package domain contains core business entities.
package domain

import "errors"

// Parameter specification errors.
var (
	ErrSpecFileMalformed  = errors.New("parameter specification is malformed")
	ErrInvalidParameterID = errors.New("parameter id out of range")
	ErrInvalidKind        = errors.New("invalid parameter kind")
	ErrInvalidValue       = errors.New("invalid value for write operation")
)

// Connection errors.
var (
	ErrConnectionFailed = errors.New("connection failed")
	ErrConnectionLost   = errors.New("connection lost")
	ErrNotConnected     = errors.New("not connected")
)

// ErrDeviceException is wrapped by every error that carries a valid Modbus
// exception response. Anything else returned by a Transport is a
// connection-level failure.
var ErrDeviceException = errors.New("device exception")

// Modbus-specific errors.
var (
	ErrModbusIllegalFunction        = errors.New("modbus: illegal function")
	ErrModbusIllegalAddress         = errors.New("modbus: illegal data address")
	ErrModbusIllegalValue           = errors.New("modbus: illegal data value")
	ErrModbusDeviceFailure          = errors.New("modbus: slave device failure")
	ErrModbusAcknowledge            = errors.New("modbus: acknowledge - long operation in progress")
	ErrModbusBusy                   = errors.New("modbus: slave device busy")
	ErrModbusNegativeAck            = errors.New("modbus: negative acknowledge")
	ErrModbusMemoryParityError      = errors.New("modbus: memory parity error")
	ErrModbusGatewayPathUnavailable = errors.New("modbus: gateway path unavailable")
	ErrModbusGatewayTargetFailed    = errors.New("modbus: gateway target device failed to respond")
	ErrModbusUnknownException       = errors.New("modbus: unknown exception")
	ErrInvalidRegisterCount         = errors.New("modbus: invalid register count")
)

// MQTT errors.
var (
	ErrMQTTConnectionFailed = errors.New("MQTT connection failed")
	ErrMQTTPublishFailed    = errors.New("MQTT publish failed")
	ErrMQTTNotConnected     = errors.New("MQTT client not connected")
	ErrMQTTSubscribeFailed  = errors.New("MQTT subscribe failed")
)

// Service errors.
var (
	ErrInvalidConfig = errors.New("invalid configuration")
)

// exceptionError ties a specific Modbus exception to ErrDeviceException.
type exceptionError struct {
	code byte
	err  error
}

func (e *exceptionError) Error() string { return e.err.Error() }

func (e *exceptionError) Is(target error) bool {
	return target == ErrDeviceException || target == e.err
}

// Code returns the raw exception code sent by the device.
func (e *exceptionError) Code() byte { return e.code }

// ModbusExceptionToError converts a Modbus exception code to a domain error.
// The result satisfies errors.Is(err, ErrDeviceException).
func ModbusExceptionToError(code byte) error {
	var err error
	switch code {
	case 0x01:
		err = ErrModbusIllegalFunction
	case 0x02:
		err = ErrModbusIllegalAddress
	case 0x03:
		err = ErrModbusIllegalValue
	case 0x04:
		err = ErrModbusDeviceFailure
	case 0x05:
		err = ErrModbusAcknowledge
	case 0x06:
		err = ErrModbusBusy
	case 0x07:
		err = ErrModbusNegativeAck
	case 0x08:
		err = ErrModbusMemoryParityError
	case 0x0A:
		err = ErrModbusGatewayPathUnavailable
	case 0x0B:
		err = ErrModbusGatewayTargetFailed
	default:
		err = ErrModbusUnknownException
	}
	return &exceptionError{code: code, err: err}
}

// IsDeviceException reports whether err is an application-level exception
// rather than a transport failure.
func IsDeviceException(err error) bool {
	return errors.Is(err, ErrDeviceException)
}
