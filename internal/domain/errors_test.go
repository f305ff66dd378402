package domain_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/alunegov/hmi-emu/internal/domain"
)

func TestModbusExceptionToError(t *testing.T) {
	tests := []struct {
		code byte
		want error
	}{
		{0x01, domain.ErrModbusIllegalFunction},
		{0x02, domain.ErrModbusIllegalAddress},
		{0x03, domain.ErrModbusIllegalValue},
		{0x04, domain.ErrModbusDeviceFailure},
		{0x05, domain.ErrModbusAcknowledge},
		{0x06, domain.ErrModbusBusy},
		{0x07, domain.ErrModbusNegativeAck},
		{0x08, domain.ErrModbusMemoryParityError},
		{0x0A, domain.ErrModbusGatewayPathUnavailable},
		{0x0B, domain.ErrModbusGatewayTargetFailed},
		{0x42, domain.ErrModbusUnknownException},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("code_%#x", tt.code), func(t *testing.T) {
			err := domain.ModbusExceptionToError(tt.code)
			if !errors.Is(err, tt.want) {
				t.Errorf("ModbusExceptionToError(%#x) = %v, want %v", tt.code, err, tt.want)
			}
			if !domain.IsDeviceException(err) {
				t.Errorf("ModbusExceptionToError(%#x) is not a device exception", tt.code)
			}
			if err.Error() != tt.want.Error() {
				t.Errorf("Error() = %q, want %q", err.Error(), tt.want.Error())
			}
		})
	}
}

func TestIsDeviceException(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"connection lost", domain.ErrConnectionLost, false},
		{"wrapped connection error", fmt.Errorf("read: %w", domain.ErrConnectionLost), false},
		{"exception", domain.ModbusExceptionToError(0x02), true},
		{"wrapped exception", fmt.Errorf("read range 1-5: %w", domain.ModbusExceptionToError(0x02)), true},
		{"plain error", errors.New("broken pipe"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := domain.IsDeviceException(tt.err); got != tt.want {
				t.Errorf("IsDeviceException() = %v, want %v", got, tt.want)
			}
		})
	}
}
