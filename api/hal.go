// File: api/hal.go
// Package api
//
// Hardware-abstraction strategy. One HAL instance is resolved at
// device-probe time for the detected hardware generation and held by
// every engine of that device; nothing in the library consults a
// mutable global dispatch table.

package api

import "time"

// HAL captures the per-architecture decisions the DMA core depends
// on: barrier class selection, the completion-wait timing model,
// address encoding/classification and the host<->device topology.
type HAL interface {
	// Barrier picks the barrier class for a data descriptor.
	Barrier(intraDevice bool) BarrierType

	// FirstDelay is how long to sleep before the first completion
	// poll for a batch of count descriptors.
	FirstDelay(count int, async, intraDevice bool) time.Duration

	// PollInterval is the granularity of subsequent polls.
	PollInterval() time.Duration

	// PollBudget is the total time a waiter may poll for a batch of
	// count descriptors before reporting ErrTimeout.
	PollBudget(count int, async, intraDevice bool) time.Duration

	// EncodeAddr folds a tagged address into the architecture's raw
	// hardware-visible bit layout. port selects the secondary access
	// path for device-resident addresses.
	EncodeAddr(a TaggedAddr, port bool) uint64

	// IsHostAddr reports whether a raw hardware address carries the
	// architecture's host-memory encoding.
	IsHostAddr(raw uint64) bool

	// DecodeAddr strips the architecture's tag bits from a raw
	// hardware address, recovering the tagged form.
	DecodeAddr(raw uint64) TaggedAddr

	// MaxDescriptorSize is the largest byte count one descriptor may
	// move.
	MaxDescriptorSize() uint64

	// EngineCount and QueuesPerEngine describe the DMA topology.
	EngineCount() int
	QueuesPerEngine() int

	// H2TEngine is the index of the reusable host<->device engine
	// whose context slots the chunked orchestrator uses.
	H2TEngine() int
}

// ResetOracle is the reset-window predicate. InDisruptionWindow
// reports whether a transfer started at since is likely a benign
// victim of a device reset rather than a real fault.
type ResetOracle interface {
	InDisruptionWindow(since time.Time) bool
}
