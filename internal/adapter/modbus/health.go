// Package modbus provides health monitoring and diagnostics for Modbus connections.
package modbus

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alunegov/hmi-emu/internal/domain"
)

// diagnostics is shared by the transports. Counters are atomic so status
// readers never block the poll worker.
type diagnostics struct {
	address   string
	stats     ClientStats
	connected atomic.Bool
	blocks    sync.Map // map[uint32]*BlockDiagnostic keyed by address<<16|quantity
}

func newDiagnostics(address string) *diagnostics {
	return &diagnostics{address: address}
}

func blockKey(address, quantity uint16) uint32 {
	return uint32(address)<<16 | uint32(quantity)
}

// recordRead updates counters after a read of the given block.
func (d *diagnostics) recordRead(address, quantity uint16, started time.Time, err error) {
	d.stats.TotalReadTime.Add(time.Since(started).Nanoseconds())
	diag := d.getOrCreateBlock(address, quantity)
	if err != nil {
		d.recordError(err)
		diag.ErrorCount.Add(1)
		diag.LastError.Store(err.Error())
		diag.LastErrorTime.Store(time.Now())
		return
	}
	d.stats.ReadCount.Add(1)
	diag.ReadCount.Add(1)
	diag.LastSuccessTime.Store(time.Now())
}

// recordWrite updates counters after a write.
func (d *diagnostics) recordWrite(started time.Time, err error) {
	d.stats.TotalWriteTime.Add(time.Since(started).Nanoseconds())
	if err != nil {
		d.recordError(err)
		return
	}
	d.stats.WriteCount.Add(1)
}

func (d *diagnostics) recordError(err error) {
	if domain.IsDeviceException(err) {
		d.stats.ExceptionCount.Add(1)
		return
	}
	d.stats.ErrorCount.Add(1)
}

func (d *diagnostics) getOrCreateBlock(address, quantity uint16) *BlockDiagnostic {
	key := blockKey(address, quantity)
	if diag, ok := d.blocks.Load(key); ok {
		return diag.(*BlockDiagnostic)
	}
	actual, _ := d.blocks.LoadOrStore(key, &BlockDiagnostic{Address: address, Quantity: quantity})
	return actual.(*BlockDiagnostic)
}

// BlockHealth returns diagnostics for every block read so far, ordered by
// address.
func (d *diagnostics) BlockHealth() []BlockHealth {
	var out []BlockHealth
	d.blocks.Range(func(_, value interface{}) bool {
		diag := value.(*BlockDiagnostic)
		h := BlockHealth{
			Address:    diag.Address,
			Quantity:   diag.Quantity,
			ReadCount:  diag.ReadCount.Load(),
			ErrorCount: diag.ErrorCount.Load(),
		}
		if v, ok := diag.LastError.Load().(string); ok {
			h.LastError = v
		}
		if v, ok := diag.LastErrorTime.Load().(time.Time); ok {
			h.LastErrorTime = v
		}
		if v, ok := diag.LastSuccessTime.Load().(time.Time); ok {
			h.LastSuccessTime = v
		}
		out = append(out, h)
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Address != out[j].Address {
			return out[i].Address < out[j].Address
		}
		return out[i].Quantity < out[j].Quantity
	})
	return out
}

// DeviceStats returns detailed statistics for the connection.
func (d *diagnostics) DeviceStats() DeviceStats {
	readCount := d.stats.ReadCount.Load()
	writeCount := d.stats.WriteCount.Load()

	var avgReadMs, avgWriteMs float64
	if readCount > 0 {
		avgReadMs = float64(d.stats.TotalReadTime.Load()) / float64(readCount) / 1e6
	}
	if writeCount > 0 {
		avgWriteMs = float64(d.stats.TotalWriteTime.Load()) / float64(writeCount) / 1e6
	}

	return DeviceStats{
		Address:        d.address,
		ReadCount:      readCount,
		WriteCount:     writeCount,
		ErrorCount:     d.stats.ErrorCount.Load(),
		ExceptionCount: d.stats.ExceptionCount.Load(),
		AvgReadTimeMs:  avgReadMs,
		AvgWriteTimeMs: avgWriteMs,
		Connected:      d.connected.Load(),
	}
}
