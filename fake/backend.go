// File: fake/backend.go
//
// Fake queue backend. Prepared descriptors sit in a bounded ring;
// Start drains the ring and executes each descriptor as a byte copy
// in the fake space, so the completion-marker copy descriptor fires
// the marker exactly the way real hardware would. A wedged backend
// swallows batches without executing them, which is how tests model
// a device that never completes.

package fake

import (
	"fmt"
	"sync"

	"github.com/momentics/hioload-dma/api"
	"github.com/momentics/hioload-dma/internal/ringbuf"
	"github.com/momentics/hioload-dma/pool"
)

const pendingRingSize = 1024

// Backend is a fake api.QueueBackend over one Space.
type Backend struct {
	space *Space
	hal   *HAL

	mu     sync.Mutex
	queues map[[2]int]*Queue

	wedged         bool
	wedgeAfter     int
	failPrepare    int
	unwedgeOnReset bool
	reinits        int

	scratch *pool.ScratchPool
}

var _ api.QueueBackend = (*Backend)(nil)

// NewBackend creates a fake backend executing against space, decoding
// addresses with hal.
func NewBackend(space *Space, hal *HAL) *Backend {
	return &Backend{
		space:   space,
		hal:     hal,
		queues:  make(map[[2]int]*Queue),
		scratch: pool.NewScratchPool(pendingRingSize),
	}
}

// Wedge makes Start swallow batches without executing them. If
// untilReinit is set, the first Reinit restores normal operation —
// the shape of a device reset that resolves mid-transfer.
func (b *Backend) Wedge(untilReinit bool) {
	b.mu.Lock()
	b.wedged = true
	b.unwedgeOnReset = untilReinit
	b.mu.Unlock()
}

// WedgeAfter lets the next n Start calls execute normally, then
// wedges — the shape of a device that dies partway through a
// multi-batch transfer.
func (b *Backend) WedgeAfter(n int) {
	b.mu.Lock()
	b.wedgeAfter = n
	b.mu.Unlock()
}

// FailPrepare lets the next after Prepare calls succeed, then fails
// one — a batch build that dies partway through.
func (b *Backend) FailPrepare(after int) {
	b.mu.Lock()
	b.failPrepare = after + 1
	b.mu.Unlock()
}

// Unwedge restores normal execution.
func (b *Backend) Unwedge() {
	b.mu.Lock()
	b.wedged = false
	b.mu.Unlock()
}

// Reinits returns how many times Reinit ran.
func (b *Backend) Reinits() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reinits
}

// Queue implements api.QueueBackend.
func (b *Backend) Queue(engine, queue int) (api.DescriptorQueue, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queueLocked(engine, queue), nil
}

func (b *Backend) queueLocked(engine, queue int) *Queue {
	key := [2]int{engine, queue}
	q, ok := b.queues[key]
	if !ok {
		q = &Queue{
			backend:  b,
			engine:   engine,
			queue:    queue,
			pending:  ringbuf.New[api.Descriptor](pendingRingSize),
			programs: make(map[api.QueueRole]Program),
			capacity: pendingRingSize,
		}
		b.queues[key] = q
	}
	return q
}

// Program implements api.QueueBackend.
func (b *Backend) Program(engine, queue int, role api.QueueRole, hwAddr uint64, descCount int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queueLocked(engine, queue)
	q.programs[role] = Program{HWAddr: hwAddr, DescCount: descCount}
	if role == api.RoleTx {
		q.capacity = descCount
	}
	return nil
}

// Reinit implements api.QueueBackend: pending work is discarded and
// accounting reset.
func (b *Backend) Reinit(engine, queue int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queueLocked(engine, queue)
	q.pending = ringbuf.New[api.Descriptor](pendingRingSize)
	q.outstanding = 0
	b.reinits++
	if b.unwedgeOnReset {
		b.wedged = false
		b.unwedgeOnReset = false
	}
	return nil
}

// Program records one ring-role programming call for assertions.
type Program struct {
	HWAddr    uint64
	DescCount int
}

// Queue is a fake api.DescriptorQueue.
type Queue struct {
	backend *Backend
	engine  int
	queue   int

	mu          sync.Mutex
	pending     *ringbuf.Ring[api.Descriptor]
	programs    map[api.QueueRole]Program
	capacity    int
	outstanding int
	starts      int
	lastTx      int
	lastRx      int
}

var _ api.DescriptorQueue = (*Queue)(nil)

// Programs returns the recorded ring programming for assertions.
func (q *Queue) Programs() map[api.QueueRole]Program {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[api.QueueRole]Program, len(q.programs))
	for k, v := range q.programs {
		out[k] = v
	}
	return out
}

// Starts returns how many batches were started.
func (q *Queue) Starts() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.starts
}

// Prepare implements api.DescriptorQueue.
func (q *Queue) Prepare(src, dst uint64, length uint32, barrier api.BarrierType) error {
	b := q.backend
	b.mu.Lock()
	fail := false
	if b.failPrepare > 0 {
		b.failPrepare--
		fail = b.failPrepare == 0
	}
	b.mu.Unlock()
	if fail {
		return fmt.Errorf("queue %d/%d: injected prepare fault", q.engine, q.queue)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.outstanding >= q.capacity {
		return fmt.Errorf("queue %d/%d full", q.engine, q.queue)
	}
	if !q.pending.Enqueue(api.Descriptor{Src: src, Dst: dst, Len: length, Flags: uint32(barrier)}) {
		return fmt.Errorf("queue %d/%d pending ring full", q.engine, q.queue)
	}
	q.outstanding++
	return nil
}

// CopyRaw implements api.DescriptorQueue.
func (q *Queue) CopyRaw(descs []api.Descriptor) error {
	for _, d := range descs {
		if err := q.Prepare(d.Src, d.Dst, d.Len, api.BarrierType(d.Flags)); err != nil {
			return err
		}
	}
	return nil
}

// Start implements api.DescriptorQueue, executing the pending batch
// unless the backend is wedged.
func (q *Queue) Start(nTx, nRx int) error {
	b := q.backend
	b.mu.Lock()
	wedged := b.wedged
	if !wedged && b.wedgeAfter > 0 {
		b.wedgeAfter--
		if b.wedgeAfter == 0 {
			b.wedged = true
		}
	}
	b.mu.Unlock()

	q.mu.Lock()
	q.starts++
	q.lastTx, q.lastRx = nTx, nRx
	batch := b.scratch.Get()
	for {
		d, ok := q.pending.Dequeue()
		if !ok {
			break
		}
		batch = append(batch, d)
	}
	q.mu.Unlock()

	defer b.scratch.Put(batch)
	if wedged {
		return nil
	}
	for _, d := range batch {
		if err := q.execute(d); err != nil {
			return err
		}
	}
	return nil
}

func (q *Queue) execute(d api.Descriptor) error {
	src := q.backend.hal.DecodeAddr(d.Src)
	dst := q.backend.hal.DecodeAddr(d.Dst)
	buf := make([]byte, d.Len)
	if err := q.backend.space.ReadAt(src.Loc, src.Addr, buf); err != nil {
		return err
	}
	return q.backend.space.WriteAt(dst.Loc, dst.Addr, buf)
}

// Discard implements api.DescriptorQueue: the n most recently
// prepared, unstarted descriptors are dropped.
func (q *Queue) Discard(n int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n > q.pending.Len() {
		return fmt.Errorf("queue %d/%d: discard %d of %d pending", q.engine, q.queue, n, q.pending.Len())
	}
	keep := q.pending.Len() - n
	batch := q.backend.scratch.Get()
	for {
		d, ok := q.pending.Dequeue()
		if !ok {
			break
		}
		batch = append(batch, d)
	}
	for i := 0; i < keep; i++ {
		q.pending.Enqueue(batch[i])
	}
	q.backend.scratch.Put(batch)
	q.outstanding -= n
	return nil
}

// Ack implements api.DescriptorQueue.
func (q *Queue) Ack(n int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n > q.outstanding {
		return fmt.Errorf("queue %d/%d: ack %d of %d outstanding", q.engine, q.queue, n, q.outstanding)
	}
	q.outstanding -= n
	return nil
}

// FreeSpace implements api.DescriptorQueue.
func (q *Queue) FreeSpace() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.capacity - q.outstanding
}
