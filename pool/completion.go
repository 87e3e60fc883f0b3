// File: pool/completion.go
// Package pool provides reuse pools for the small allocations the DMA
// core churns through: completion-marker chunks and descriptor
// scratch slices.

package pool

import (
	"sync"

	"github.com/eapache/queue"
	"github.com/pkg/errors"

	"github.com/momentics/hioload-dma/api"
)

// CompletionPool recycles the 8-byte host chunks that back completion
// markers. Markers are re-armed by the engine on every transfer, so
// recycled chunks need no scrubbing here.
type CompletionPool struct {
	mu     sync.Mutex
	free   *queue.Queue
	alloc  api.ChunkAllocator
	owner  int32
	closed bool
}

// NewCompletionPool creates an empty pool allocating on behalf of
// owner.
func NewCompletionPool(alloc api.ChunkAllocator, owner int32) *CompletionPool {
	return &CompletionPool{
		free:  queue.New(),
		alloc: alloc,
		owner: owner,
	}
}

// Get returns a marker-sized host chunk, reusing a freed one when
// available.
func (p *CompletionPool) Get() (api.MemChunk, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errors.Wrap(api.ErrAllocation, "completion pool closed")
	}
	if p.free.Length() > 0 {
		c := p.free.Remove().(api.MemChunk)
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	c, err := p.alloc.Allocate(api.MarkerSize, api.LocationHost, api.LifespanPersistent, p.owner)
	if err != nil {
		return nil, errors.Wrap(api.ErrAllocation, err.Error())
	}
	return c, nil
}

// Put returns a chunk to the free list. Chunks handed to a closed
// pool are freed immediately.
func (p *CompletionPool) Put(c api.MemChunk) {
	if c == nil {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = p.alloc.Free(c)
		return
	}
	p.free.Add(c)
	p.mu.Unlock()
}

// Len returns the current free-list length.
func (p *CompletionPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.free.Length()
}

// Close frees every pooled chunk. Further Gets fail.
func (p *CompletionPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	var first error
	for p.free.Length() > 0 {
		c := p.free.Remove().(api.MemChunk)
		if err := p.alloc.Free(c); err != nil && first == nil {
			first = err
		}
	}
	return first
}
