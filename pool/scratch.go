// File: pool/scratch.go
//
// Descriptor scratch-slice recycling. Batch drains (the fake backend's
// Start and Discard paths) momentarily need a slice sized to a whole
// ring; pooling them keeps the per-batch allocation off the hot path.

package pool

import (
	"sync"

	"github.com/momentics/hioload-dma/api"
)

// ScratchPool recycles descriptor scratch slices.
type ScratchPool struct {
	pool sync.Pool
}

// NewScratchPool creates a pool handing out empty slices with the
// given initial capacity.
func NewScratchPool(capacity int) *ScratchPool {
	return &ScratchPool{pool: sync.Pool{
		New: func() any { return make([]api.Descriptor, 0, capacity) },
	}}
}

// Get returns an empty descriptor slice.
func (p *ScratchPool) Get() []api.Descriptor {
	return p.pool.Get().([]api.Descriptor)
}

// Put returns a slice for reuse. Contents are dropped.
func (p *ScratchPool) Put(s []api.Descriptor) {
	p.pool.Put(s[:0])
}
