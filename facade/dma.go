// File: facade/dma.go
// Package facade is the library's high-level surface. It aggregates
// the engine registry, the raw-descriptor validator, the dynamic
// configuration store and per-engine metrics behind one handle, and
// exposes the copy operations in the shape embedders call them:
// whole-chunk copies, zero-copy user buffers, raw descriptor batches,
// device memset and queue lifecycle.

package facade

import (
	"sync"

	"github.com/pkg/errors"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-dma/api"
	"github.com/momentics/hioload-dma/control"
	"github.com/momentics/hioload-dma/engine"
)

// descriptorBytes is the size of one hardware descriptor slot; ring
// chunks are sized as capacity times this.
const descriptorBytes = 16

// Config carries the tunables of one DMA handle.
type Config struct {
	// Device is the accelerator this handle drives.
	Device api.DeviceID
	// Owner is the process id allocations are charged to.
	Owner int32
	// TxDescs and RxDescs request per-queue ring capacities; they are
	// rounded up to the hardware's actual capacity.
	TxDescs int
	RxDescs int
	// Port routes ring memory through the secondary access path.
	Port bool
	// SpinPoll makes the completion waiter spin instead of sleeping.
	SpinPoll bool
	// BatchBytes bounds one descriptor batch; zero keeps the default.
	BatchBytes int64
}

// DefaultConfig returns a config suitable for a single-process
// embedder.
func DefaultConfig() *Config {
	return &Config{
		Device:  0,
		Owner:   1,
		TxDescs: 256,
		RxDescs: 256,
	}
}

// Deps are the platform services a DMA handle is built over. HAL,
// Backend, Oracle and Allocator are mandatory; Table enables the raw
// descriptor path, Pinner the zero-copy path.
type Deps struct {
	HAL       api.HAL
	Backend   api.QueueBackend
	Oracle    api.ResetOracle
	Allocator api.ChunkAllocator
	Table     api.ChunkTable
	Pinner    api.PagePinner

	Logger  *logrus.Logger
	Metrics gometrics.Registry
}

// ringSet tracks the ring chunks a QueueInit allocated so
// QueueRelease can return them.
type ringSet struct {
	chunks []api.MemChunk
}

// DMA is the top-level handle.
type DMA struct {
	cfg   Config
	deps  Deps
	reg   *engine.Registry
	val   *engine.Validator
	store *control.ConfigStore
	em    []*control.EngineMetrics
	log   *logrus.Entry

	mu    sync.Mutex
	rings map[[2]int]*ringSet
}

// New builds a DMA handle over the supplied platform services.
func New(cfg *Config, deps Deps) (*DMA, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if deps.HAL == nil {
		return nil, errors.Wrap(api.ErrHardwareInit, "dma handle needs a hal")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	em := make([]*control.EngineMetrics, deps.HAL.EngineCount())
	reg, err := engine.NewRegistry(engine.Options{
		Device:    cfg.Device,
		HAL:       deps.HAL,
		Backend:   deps.Backend,
		Oracle:    deps.Oracle,
		Allocator: deps.Allocator,
		Owner:     cfg.Owner,
		Logger:    logger,
		Metrics: func(engineID int) *control.EngineMetrics {
			em[engineID] = control.NewEngineMetrics(deps.Metrics, engineID)
			return em[engineID]
		},
	})
	if err != nil {
		return nil, err
	}

	d := &DMA{
		cfg:   *cfg,
		deps:  deps,
		reg:   reg,
		store: control.NewConfigStore(map[string]any{
			control.KeySpinPoll:   cfg.SpinPoll,
			control.KeyBatchBytes: cfg.BatchBytes,
		}),
		em:    em,
		log:   logger.WithField("device", cfg.Device),
		rings: make(map[[2]int]*ringSet),
	}
	if deps.Table != nil {
		d.val = engine.NewValidator(deps.HAL, deps.Table, logger)
	}
	d.store.OnReload(d.applyConfig)
	d.applyConfig()
	return d, nil
}

// applyConfig pushes the store's current poll and batch settings into
// every engine.
func (d *DMA) applyConfig() {
	spin := d.store.Bool(control.KeySpinPoll, false)
	batch := d.store.Int64(control.KeyBatchBytes, 0)
	for i := 0; i < d.reg.EngineCount(); i++ {
		e, err := d.reg.Engine(i)
		if err != nil {
			continue
		}
		e.SetPollPolicy(spin)
		e.SetBatchBytes(uint64(batch))
	}
}

// Control exposes the dynamic configuration store.
func (d *DMA) Control() *control.ConfigStore { return d.store }

// Registry exposes the engine registry for callers that drive engines
// directly.
func (d *DMA) Registry() *engine.Registry { return d.reg }

// QueueInit allocates host ring memory for queue qid on engineID and
// binds all three ring roles. The chunks are owned by the handle and
// returned on QueueRelease.
func (d *DMA) QueueInit(engineID, qid int) error {
	e, err := d.reg.Acquire(engineID)
	if err != nil {
		return err
	}
	defer d.reg.Release(e)

	rs := &ringSet{}
	alloc := func(descs int) (api.MemChunk, error) {
		c, err := d.deps.Allocator.Allocate(
			uint64(engine.DescCapacity(descs)*descriptorBytes),
			api.LocationHost, api.LifespanPersistent, d.cfg.Owner)
		if err != nil {
			return nil, err
		}
		rs.chunks = append(rs.chunks, c)
		return c, nil
	}

	spec := engine.BindSpec{Port: d.cfg.Port, TxDescs: d.cfg.TxDescs, RxDescs: d.cfg.RxDescs}
	if spec.Tx, err = alloc(d.cfg.TxDescs); err == nil {
		if spec.Rx, err = alloc(d.cfg.RxDescs); err == nil {
			spec.Completion, err = alloc(d.cfg.TxDescs)
		}
	}
	if err == nil {
		err = e.BindQueue(qid, spec)
	}
	if err != nil {
		_ = e.ReleaseQueue(qid)
		d.freeRings(rs)
		return errors.Wrapf(err, "engine %d queue %d: init", engineID, qid)
	}

	d.mu.Lock()
	d.rings[[2]int{engineID, qid}] = rs
	d.mu.Unlock()
	return nil
}

// QueueRelease unbinds queue qid and frees the ring memory QueueInit
// allocated for it.
func (d *DMA) QueueRelease(engineID, qid int) error {
	e, err := d.reg.Acquire(engineID)
	if err != nil {
		return err
	}
	defer d.reg.Release(e)

	if err := e.ReleaseQueue(qid); err != nil {
		return err
	}
	d.mu.Lock()
	rs := d.rings[[2]int{engineID, qid}]
	delete(d.rings, [2]int{engineID, qid})
	d.mu.Unlock()
	d.freeRings(rs)
	return nil
}

func (d *DMA) freeRings(rs *ringSet) {
	if rs == nil {
		return
	}
	for _, c := range rs.chunks {
		if err := d.deps.Allocator.Free(c); err != nil {
			d.log.WithField("addr", c.Addr().Addr).WithError(err).Warn("ring chunk free failed")
		}
	}
}

// direction derives the transfer direction from the chunk locations.
// Host-to-host copies run as host-to-device work from the engine's
// point of view.
func direction(src, dst api.Location) api.Direction {
	switch {
	case src == api.LocationDevice && dst == api.LocationDevice:
		return api.DeviceToDevice
	case src == api.LocationDevice:
		return api.DeviceToHost
	default:
		return api.HostToDevice
	}
}

// copyParams builds the engine copy parameters for a chunk-to-chunk
// move, bounds-checking size against both chunks.
func (d *DMA) copyParams(src, dst api.MemChunk, size uint64) (engine.CopyParams, error) {
	if size > src.Size() || size > dst.Size() {
		return engine.CopyParams{}, errors.Wrapf(api.ErrInvalidAddress,
			"copy of %d bytes exceeds chunk bounds (src %d, dst %d)", size, src.Size(), dst.Size())
	}
	hal := d.deps.HAL
	return engine.CopyParams{
		Src:        hal.EncodeAddr(src.Addr(), d.cfg.Port),
		Dst:        hal.EncodeAddr(dst.Addr(), d.cfg.Port),
		Size:       size,
		SrcAdvance: true,
		DstAdvance: true,
		Dir:        direction(src.Addr().Loc, dst.Addr().Loc),
	}, nil
}

// MemCopy synchronously moves size bytes from src to dst through
// queue qid of engineID.
func (d *DMA) MemCopy(engineID, qid int, src, dst api.MemChunk, size uint64) error {
	e, err := d.reg.Engine(engineID)
	if err != nil {
		return err
	}
	p, err := d.copyParams(src, dst, size)
	if err != nil {
		return err
	}
	return e.CopySync(qid, p)
}

// MemCopyAsync issues the next batch of the chunk-to-chunk transfer
// chained after prev and returns the new handle plus the bytes that
// batch covers. The last returned handle must be waited with Wait.
func (d *DMA) MemCopyAsync(engineID, qid int, src, dst api.MemChunk, size uint64, prev engine.Handle) (engine.Handle, uint64, error) {
	e, err := d.reg.Engine(engineID)
	if err != nil {
		return engine.HandleNone, 0, err
	}
	p, err := d.copyParams(src, dst, size)
	if err != nil {
		return engine.HandleNone, 0, err
	}
	return e.CopyAsync(qid, p, prev)
}

// Wait blocks until the batch outstanding on handle h completes.
func (d *DMA) Wait(engineID, qid int, h engine.Handle) error {
	e, err := d.reg.Engine(engineID)
	if err != nil {
		return err
	}
	return e.WaitAsync(qid, h)
}

// BufferCopy moves size bytes between the caller's own memory at va
// and the device range at devAddr without an intermediate buffer,
// pinning pages windowed as the transfer progresses. Requires a
// pinner in Deps.
func (d *DMA) BufferCopy(engineID, qid int, va uintptr, devAddr, size uint64, toDevice bool) error {
	e, err := d.reg.Engine(engineID)
	if err != nil {
		return err
	}
	return e.CopyUser(qid, d.deps.Pinner, engine.ZeroCopyParams{
		HostVA:       va,
		DeviceAddr:   devAddr,
		Size:         size,
		HostToDevice: toDevice,
	})
}

// Memset fills size bytes of device memory at devAddr with pattern.
// Implemented as a fixed-source fan-out: a one-descriptor-sized host
// chunk holds the pattern and every descriptor reads from its start.
func (d *DMA) Memset(engineID, qid int, devAddr uint64, pattern byte, size uint64) error {
	if size == 0 {
		return nil
	}
	e, err := d.reg.Engine(engineID)
	if err != nil {
		return err
	}
	hal := d.deps.HAL

	srcLen := size
	if m := hal.MaxDescriptorSize(); srcLen > m {
		srcLen = m
	}
	src, err := d.deps.Allocator.Allocate(srcLen, api.LocationHost, api.LifespanTransient, d.cfg.Owner)
	if err != nil {
		return errors.Wrap(api.ErrAllocation, "memset pattern buffer")
	}
	defer func() { _ = d.deps.Allocator.Free(src) }()
	b := src.Bytes()
	for i := range b {
		b[i] = pattern
	}

	return e.CopySync(qid, engine.CopyParams{
		Src:        hal.EncodeAddr(src.Addr(), d.cfg.Port),
		Dst:        hal.EncodeAddr(api.TaggedAddr{Loc: api.LocationDevice, Addr: devAddr}, d.cfg.Port),
		Size:       size,
		SrcAdvance: false,
		DstAdvance: true,
		Dir:        api.HostToDevice,
	})
}

// RawDescriptorCopy validates caller-built descriptors against the
// chunk table, copies them verbatim into queue qid's ring and starts
// them. Completion is the caller's business via QueueAck. Fails with
// ErrInvalidState when the handle was built without a chunk table.
func (d *DMA) RawDescriptorCopy(engineID, qid int, owner int32, descs []api.Descriptor, nTx, nRx int) error {
	if d.val == nil {
		return errors.Wrap(api.ErrInvalidState, "raw descriptor copy needs a chunk table")
	}
	e, err := d.reg.Engine(engineID)
	if err != nil {
		return err
	}
	if err := d.val.ValidateDescriptors(d.cfg.Device, owner, descs); err != nil {
		return err
	}
	return e.CopyRawStart(qid, descs, nTx, nRx)
}

// CopyStart starts whatever is prepared on queue qid.
func (d *DMA) CopyStart(engineID, qid, nTx, nRx int) error {
	e, err := d.reg.Engine(engineID)
	if err != nil {
		return err
	}
	return e.StartQueue(qid, nTx, nRx)
}

// QueueAck acknowledges n completed descriptors on queue qid.
func (d *DMA) QueueAck(engineID, qid, n int) error {
	e, err := d.reg.Engine(engineID)
	if err != nil {
		return err
	}
	return e.AckQueue(qid, n)
}

// QueueState reports queue qid's binding and free-space state.
func (d *DMA) QueueState(engineID, qid int) (engine.QueueState, error) {
	e, err := d.reg.Engine(engineID)
	if err != nil {
		return engine.QueueState{}, err
	}
	return e.State(qid)
}

// Stats returns per-engine counter snapshots keyed by engine id.
func (d *DMA) Stats() map[int]map[string]int64 {
	out := make(map[int]map[string]int64, len(d.em))
	for i, m := range d.em {
		if m != nil {
			out[i] = m.Snapshot()
		}
	}
	return out
}

// Close releases every queue this handle initialized and the registry
// resources. Engines must be idle.
func (d *DMA) Close() error {
	d.mu.Lock()
	keys := make([][2]int, 0, len(d.rings))
	for k := range d.rings {
		keys = append(keys, k)
	}
	d.mu.Unlock()

	var first error
	for _, k := range keys {
		if err := d.QueueRelease(k[0], k[1]); err != nil && first == nil {
			first = err
		}
	}
	if err := d.reg.Close(); err != nil && first == nil {
		first = err
	}
	return first
}
