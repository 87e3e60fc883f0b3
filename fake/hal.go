// File: fake/hal.go
//
// Fake hardware-abstraction strategy: a plausible address encoding
// (high tag bits) and a scaled-down timing model so tests run fast.

package fake

import (
	"time"

	"github.com/momentics/hioload-dma/api"
)

// Tag bits of the fake architecture's raw address layout.
const (
	hostAddrBit = uint64(1) << 62
	portAddrBit = uint64(1) << 61
)

// HAL is a configurable fake api.HAL.
type HAL struct {
	Engines   int
	Queues    int
	H2T       int
	MaxDesc   uint64
	DescTime  time.Duration // per-descriptor wait unit
	Poll      time.Duration // poll granularity
	BudgetMul int           // poll budget = count * DescTime * BudgetMul
}

var _ api.HAL = (*HAL)(nil)

// NewHAL returns a fake HAL with production-shaped defaults: 4
// engines of 8 queues, 512 KiB max descriptor, 4us per-descriptor
// wait unit, 1us polls, budget multiplier 100.
func NewHAL() *HAL {
	return &HAL{
		Engines:   4,
		Queues:    8,
		H2T:       0,
		MaxDesc:   512 << 10,
		DescTime:  4 * time.Microsecond,
		Poll:      time.Microsecond,
		BudgetMul: 100,
	}
}

func (h *HAL) Barrier(intraDevice bool) api.BarrierType {
	if intraDevice {
		return api.BarrierFull
	}
	return api.BarrierWrite
}

func (h *HAL) FirstDelay(count int, async, intraDevice bool) time.Duration {
	if async {
		// the transfer has been in flight since issue; poll right away
		return 0
	}
	d := time.Duration(count) * h.DescTime
	if intraDevice {
		d *= 2
	}
	return d
}

func (h *HAL) PollInterval() time.Duration { return h.Poll }

func (h *HAL) PollBudget(count int, async, intraDevice bool) time.Duration {
	return time.Duration(count) * h.DescTime * time.Duration(h.BudgetMul)
}

func (h *HAL) EncodeAddr(a api.TaggedAddr, port bool) uint64 {
	if a.Loc == api.LocationHost {
		return a.Addr | hostAddrBit
	}
	if port {
		return a.Addr | portAddrBit
	}
	return a.Addr
}

func (h *HAL) IsHostAddr(raw uint64) bool { return raw&hostAddrBit != 0 }

func (h *HAL) DecodeAddr(raw uint64) api.TaggedAddr {
	if raw&hostAddrBit != 0 {
		return api.TaggedAddr{Loc: api.LocationHost, Addr: raw &^ hostAddrBit}
	}
	return api.TaggedAddr{Loc: api.LocationDevice, Addr: raw &^ portAddrBit}
}

func (h *HAL) MaxDescriptorSize() uint64 { return h.MaxDesc }
func (h *HAL) EngineCount() int          { return h.Engines }
func (h *HAL) QueuesPerEngine() int      { return h.Queues }
func (h *HAL) H2TEngine() int            { return h.H2T }
