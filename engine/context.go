// File: engine/context.go
// Package engine
//
// Reusable DMA-context slots and the handle state machine. Each H2T
// engine carries one synchronous slot and two asynchronous slots used
// as a ping-pong pair; a slot may back at most one outstanding
// transfer at a time.

package engine

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"

	"github.com/momentics/hioload-dma/api"
)

// Handle names one of an engine's reusable DMA-context slots.
type Handle uint8

const (
	// HandleNone means "no previous transfer"; it never denotes a slot.
	HandleNone Handle = iota
	// HandleSync is the dedicated synchronous slot (wait-immediately).
	HandleSync
	// HandleAsync1 and HandleAsync2 are the ping-pong pair.
	HandleAsync1
	HandleAsync2

	numHandles
)

// String returns the handle name used in logs and errors.
func (h Handle) String() string {
	switch h {
	case HandleNone:
		return "none"
	case HandleSync:
		return "sync"
	case HandleAsync1:
		return "async1"
	case HandleAsync2:
		return "async2"
	}
	return "invalid"
}

// NextHandle computes the slot a transfer chained after prev must
// use: none->async1->async2->async1->..., sync->sync always. Any
// other input is a caller error.
func NextHandle(prev Handle) (Handle, error) {
	switch prev {
	case HandleNone:
		return HandleAsync1, nil
	case HandleAsync1:
		return HandleAsync2, nil
	case HandleAsync2:
		return HandleAsync1, nil
	case HandleSync:
		return HandleSync, nil
	}
	return HandleNone, errors.Wrapf(api.ErrInvalidState, "no rotation from handle %d", prev)
}

// dmaContext is the software state of one in-flight (or idle) slot.
// Offset and remaining advance only when a batch is observed
// complete; pending and lastBatch describe the batch in flight.
type dmaContext struct {
	handle Handle
	inUse  bool

	src, dst   uint64 // hardware-encoded base addresses
	sMove      bool   // advance source by offset
	dMove      bool   // advance destination by offset
	dir        api.Direction
	size       uint64
	remaining  uint64
	offset     uint64
	pending    int    // descriptors outstanding from the last batch
	lastBatch  uint64 // bytes outstanding from the last batch
	compl      *marker
	transferAt time.Time // logical transfer start; keys metrics and the reset oracle
}

// marker wraps a completion-marker chunk with the two-word protocol.
type marker struct {
	chunk api.MemChunk
}

func newMarker(chunk api.MemChunk) (*marker, error) {
	if chunk == nil || chunk.Addr().Loc != api.LocationHost ||
		chunk.Size() < api.MarkerSize || chunk.Bytes() == nil {
		return nil, errors.Wrap(api.ErrAllocation, "completion marker needs a mapped host chunk")
	}
	return &marker{chunk: chunk}, nil
}

// arm writes the magic into word 0 and clears word 1.
func (m *marker) arm() {
	b := m.chunk.Bytes()
	binary.LittleEndian.PutUint32(b[0:4], api.MarkerMagic)
	binary.LittleEndian.PutUint32(b[4:8], 0)
}

// fired reports whether hardware has written the magic into word 1.
func (m *marker) fired() bool {
	return binary.LittleEndian.Uint32(m.chunk.Bytes()[4:8]) == api.MarkerMagic
}

// reset clears word 1 so a reused marker cannot read as already
// complete.
func (m *marker) reset() {
	binary.LittleEndian.PutUint32(m.chunk.Bytes()[4:8], 0)
}

// descriptor returns the (src, dst, len) of the completion
// descriptor: a 4-byte copy of word 0's magic onto word 1.
func (m *marker) descriptor(hal api.HAL) (src, dst uint64, length uint32) {
	base := hal.EncodeAddr(m.chunk.Addr(), false)
	return base, base + 4, 4
}
