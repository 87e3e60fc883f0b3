// File: api/queue.go
// Package api
//
// Descriptor-ring primitive contracts. The ring itself (register
// programming, descriptor memory layout, doorbells) lives below this
// library; the engine drives it through these two interfaces only.

package api

// DescriptorQueue is one hardware queue's prepare/start/ack surface.
type DescriptorQueue interface {
	// Prepare appends one descriptor to the pending batch. Addresses
	// are raw hardware-encoded values (see HAL.EncodeAddr).
	Prepare(src, dst uint64, length uint32, barrier BarrierType) error

	// Start hands the pending batch to hardware. nTx and nRx are the
	// descriptor counts charged against the tx and rx rings.
	Start(nTx, nRx int) error

	// Ack releases n completed descriptors so the ring's free-space
	// accounting advances.
	Ack(n int) error

	// Discard drops the n most recently prepared descriptors that
	// have not been started, unwinding a batch that failed mid-build.
	Discard(n int) error

	// FreeSpace returns the number of descriptors that can still be
	// prepared before the ring is full.
	FreeSpace() int

	// CopyRaw copies caller-built descriptors verbatim into the ring.
	// Callers must validate them first (see engine.Validator).
	CopyRaw(descs []Descriptor) error
}

// QueueBackend is the per-device factory and lifecycle surface for
// descriptor queues.
type QueueBackend interface {
	// Queue returns the handle for engine/queue.
	Queue(engine, queue int) (DescriptorQueue, error)

	// Program writes one ring role's base address and capacity into
	// the queue's hardware registers.
	Program(engine, queue int, role QueueRole, hwAddr uint64, descCount int) error

	// Reinit reinitializes the queue's hardware and software ring
	// state after a device reset. Pending descriptors are discarded.
	Reinit(engine, queue int) error
}
