// Package domain contains core business entities.
package domain

import (
	"context"
	"fmt"
)

// Transport is the capability set the poll worker needs from a Modbus
// device connection. Implementations are used by a single goroutine.
//
// Errors that carry a device exception response must satisfy
// IsDeviceException; any other error is treated as connection-level.
type Transport interface {
	// Connect establishes the connection.
	Connect(ctx context.Context) error

	// Disconnect closes the connection. It is safe to call on a broken
	// connection.
	Disconnect() error

	// ReadInputRegisters reads quantity input registers starting at address.
	ReadInputRegisters(ctx context.Context, address, quantity uint16) ([]uint16, error)

	// WriteMultipleRegisters writes consecutive holding registers starting at address.
	WriteMultipleRegisters(ctx context.Context, address uint16, values []uint16) error
}

// Sink receives values the poll worker wants displayed. Implementations must
// return quickly and must not call back into the worker.
type Sink interface {
	// PublishSnapshot is called once per successful bulk poll.
	PublishSnapshot(s Snapshot)

	// PublishValue is called with the result of an on-demand read.
	PublishValue(v ValueReport)
}

// RegisterRange is an inclusive span of parameter ids fetched with a single
// read request.
type RegisterRange struct {
	StartID uint16 `json:"start_id"`
	EndID   uint16 `json:"end_id"`
}

// Address returns the first register address of the range.
func (r RegisterRange) Address() uint16 {
	return RegisterAddress(r.StartID)
}

// Quantity returns the number of registers covered by the range.
func (r RegisterRange) Quantity() uint16 {
	return (r.EndID - r.StartID + 1) * 2
}

// Len returns the number of parameter ids covered by the range.
func (r RegisterRange) Len() int {
	return int(r.EndID) - int(r.StartID) + 1
}

// Contains reports whether id falls inside the range.
func (r RegisterRange) Contains(id uint16) bool {
	return id >= r.StartID && id <= r.EndID
}

// String implements fmt.Stringer.
func (r RegisterRange) String() string {
	return fmt.Sprintf("%d-%d", r.StartID, r.EndID)
}

// ReadRequest asks the worker to read one parameter out of cycle.
type ReadRequest struct {
	ID            uint16
	Kind          Kind
	CorrelationID string
}

// WriteRequest asks the worker to write one register pair. Reg0 goes to the
// lower register address.
type WriteRequest struct {
	ID            uint16
	Reg0          uint16
	Reg1          uint16
	CorrelationID string
}
