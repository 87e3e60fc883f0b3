// File: api/chunk.go
// Package api
//
// Memory-chunk contracts. Chunks are opaque, externally managed
// allocation units; the engine only requests and returns them and
// never touches their backing storage directly.

package api

// MemChunk is a physically addressed, size-bounded buffer handle.
type MemChunk interface {
	// Bytes returns the host mapping of the chunk, or nil for
	// device-resident chunks that have no host mapping.
	Bytes() []byte

	// Addr returns the chunk's tagged physical address.
	Addr() TaggedAddr

	// Size returns the chunk size in bytes.
	Size() uint64

	// Owner returns the id of the process that owns the chunk.
	Owner() int32

	// Lifespan returns the allocation lifespan class.
	Lifespan() Lifespan
}

// ChunkAllocator allocates and frees memory chunks by location,
// lifespan and owner.
type ChunkAllocator interface {
	Allocate(size uint64, loc Location, span Lifespan, owner int32) (MemChunk, error)
	Free(c MemChunk) error
}

// ChunkTable is the per-device, lock-protected chunk lookup the
// address validator consults. Resolve reports whether addr falls
// inside a chunk owned by owner on the given device.
type ChunkTable interface {
	Devices() []DeviceID
	Resolve(dev DeviceID, owner int32, addr uint64) bool
}
