// File: engine/engine.go
// Package engine implements the DMA core: engine/queue registry, ring
// binding, the chunked transfer orchestrator, the busy-poll
// completion waiter and the raw-descriptor address validator.
//
// Locking discipline: an engine's configuration mutex (held via
// Registry.Acquire/Release) serializes ring binding and other state
// changes; the separate ring lock serializes every transfer that uses
// the engine's reusable context slots and shared ring memory. The
// reset-retry path reprograms rings and therefore runs with both
// held.

package engine

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-dma/api"
	"github.com/momentics/hioload-dma/control"
	"github.com/momentics/hioload-dma/pool"
)

// DefaultBatchBytes bounds one descriptor batch between completion
// markers.
const DefaultBatchBytes = 8 << 20

// ringBinding is one bound ring role of a queue.
type ringBinding struct {
	chunk     api.MemChunk
	hwAddr    uint64
	descCount int
	bound     bool
}

// queue is the software shadow of one hardware queue.
type queue struct {
	id    int
	rings [api.NumQueueRoles]ringBinding
	dq    api.DescriptorQueue
}

// Engine is one hardware DMA engine plus its software state.
type Engine struct {
	id  int
	dev api.DeviceID
	h2t bool

	// cfgMu guards configuration mutation (ring binding, release);
	// ringMu serializes transfers on the reusable context slots.
	cfgMu  sync.Mutex
	ringMu sync.Mutex

	queues []queue
	ctxs   [numHandles]dmaContext

	hal     api.HAL
	backend api.QueueBackend
	oracle  api.ResetOracle
	markers *pool.CompletionPool

	pollSpin   atomic.Bool
	batchBytes atomic.Uint64

	log     *logrus.Entry
	metrics *control.EngineMetrics
}

// ID returns the engine index.
func (e *Engine) ID() int { return e.id }

// IsH2T reports whether this is the reusable host<->device engine.
func (e *Engine) IsH2T() bool { return e.h2t }

// QueueCount returns the number of queues the engine exposes.
func (e *Engine) QueueCount() int { return len(e.queues) }

// SetPollPolicy switches the waiter between sleeping and spinning
// for its poll interval.
func (e *Engine) SetPollPolicy(spin bool) { e.pollSpin.Store(spin) }

// SetBatchBytes adjusts the per-batch byte bound. Zero restores the
// default.
func (e *Engine) SetBatchBytes(n uint64) {
	if n == 0 {
		n = DefaultBatchBytes
	}
	e.batchBytes.Store(n)
}

// Options configures a Registry and its engines.
type Options struct {
	Device    api.DeviceID
	HAL       api.HAL
	Backend   api.QueueBackend
	Oracle    api.ResetOracle
	Allocator api.ChunkAllocator

	// Owner is the process id completion-marker chunks are charged
	// to.
	Owner int32

	Logger  *logrus.Logger
	Metrics func(engineID int) *control.EngineMetrics
}

// Registry owns the fixed engine set of one device and hands out
// lock-protected engine handles.
type Registry struct {
	engines []*Engine
	markers *pool.CompletionPool
	log     *logrus.Entry
}

// NewRegistry builds the device's engines from the HAL topology.
func NewRegistry(opts Options) (*Registry, error) {
	if opts.HAL == nil || opts.Backend == nil || opts.Oracle == nil || opts.Allocator == nil {
		return nil, errors.Wrap(api.ErrHardwareInit, "registry needs hal, backend, oracle and allocator")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	markers := pool.NewCompletionPool(opts.Allocator, opts.Owner)
	r := &Registry{
		markers: markers,
		log:     logger.WithField("device", opts.Device),
	}
	for i := 0; i < opts.HAL.EngineCount(); i++ {
		e := &Engine{
			id:      i,
			dev:     opts.Device,
			h2t:     i == opts.HAL.H2TEngine(),
			queues:  make([]queue, opts.HAL.QueuesPerEngine()),
			hal:     opts.HAL,
			backend: opts.Backend,
			oracle:  opts.Oracle,
			markers: markers,
			log:     r.log.WithField("engine", i),
		}
		for q := range e.queues {
			e.queues[q].id = q
		}
		e.batchBytes.Store(DefaultBatchBytes)
		if opts.Metrics != nil {
			e.metrics = opts.Metrics(i)
		} else {
			e.metrics = control.NewEngineMetrics(nil, i)
		}
		r.engines = append(r.engines, e)
	}
	return r, nil
}

// Acquire bounds-checks id, locks the engine's configuration mutex
// and returns the engine. Every ring-mutating call must be bracketed
// by Acquire/Release. Acquire does not serialize transfer issuance on
// the reusable contexts; that is the ring lock's job.
func (r *Registry) Acquire(id int) (*Engine, error) {
	if id < 0 || id >= len(r.engines) {
		return nil, errors.Wrapf(api.ErrInvalidEngine, "engine %d of %d", id, len(r.engines))
	}
	e := r.engines[id]
	e.cfgMu.Lock()
	return e, nil
}

// Release unlocks an engine acquired with Acquire.
func (r *Registry) Release(e *Engine) {
	e.cfgMu.Unlock()
}

// Engine returns the engine without taking its configuration mutex,
// for transfer issuance paths that only need the ring lock.
func (r *Registry) Engine(id int) (*Engine, error) {
	if id < 0 || id >= len(r.engines) {
		return nil, errors.Wrapf(api.ErrInvalidEngine, "engine %d of %d", id, len(r.engines))
	}
	return r.engines[id], nil
}

// EngineCount returns the number of engines.
func (r *Registry) EngineCount() int { return len(r.engines) }

// Close releases registry-owned resources (the completion-marker
// pool). Engines must be idle.
func (r *Registry) Close() error {
	return r.markers.Close()
}
