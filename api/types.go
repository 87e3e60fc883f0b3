// File: api/types.go
// Package api defines the shared contracts of the hioload-dma library.
//
// Addresses crossing the hardware boundary are carried as explicit
// tagged values ({location, address}) and only encoded into the
// architecture's raw bit layout at the last moment, by the HAL.

package api

// Location tags where a physical address lives.
type Location uint8

const (
	// LocationHost is host RAM reachable by the device over the bus.
	LocationHost Location = iota
	// LocationDevice is device-resident memory.
	LocationDevice
)

// Lifespan describes how long an allocation is expected to live.
type Lifespan uint8

const (
	// LifespanTransient chunks exist for one transfer or one session.
	LifespanTransient Lifespan = iota
	// LifespanPersistent chunks live until device teardown.
	LifespanPersistent
)

// DeviceID identifies one accelerator on the bus.
type DeviceID int32

// Direction of a transfer relative to the host.
type Direction uint8

const (
	HostToDevice Direction = iota
	DeviceToHost
	DeviceToDevice
)

// QueueRole selects one of the ring roles of a hardware queue.
type QueueRole uint8

const (
	RoleTx QueueRole = iota
	RoleRx
	RoleCompletion

	// NumQueueRoles is the number of ring roles per queue.
	NumQueueRoles = 3
)

// String returns the short role name used in logs and errors.
func (r QueueRole) String() string {
	switch r {
	case RoleTx:
		return "tx"
	case RoleRx:
		return "rx"
	case RoleCompletion:
		return "completion"
	}
	return "unknown"
}

// BarrierType selects the memory-ordering behavior a descriptor asks
// the hardware for. The concrete encoding is architecture business;
// callers only pick a class.
type BarrierType uint8

const (
	BarrierNone BarrierType = iota
	BarrierWrite
	BarrierFull
)

// TaggedAddr is a physical address plus its location tag.
type TaggedAddr struct {
	Loc  Location
	Addr uint64
}

// Descriptor is one hardware DMA work item as callers hand it to the
// raw-copy path. Src and Dst are raw hardware-encoded addresses.
type Descriptor struct {
	Src   uint64
	Dst   uint64
	Len   uint32
	Flags uint32
}

// PinnedPage is one user page held resident for device access.
type PinnedPage struct {
	VA   uintptr
	Phys uint64
}

// Completion marker data contract. The marker is a two-word host
// buffer: word 0 holds MarkerMagic from the moment the transfer is
// armed, word 1 starts at zero and is overwritten with the same magic
// by the batch's final descriptor, signaling that everything before
// it landed.
const (
	MarkerMagic uint32 = 0xFACECAFE
	MarkerSize         = 8
)
