// File: engine/orchestrator.go
// Package engine
//
// Chunked transfer orchestration. One logical copy is split into
// descriptor batches bounded by the architecture's max descriptor
// size and the engine's batch byte limit; every batch ends with one
// completion descriptor. The smove/dmove flags make the same routine
// serve host<->device copy, device<->device copy and fixed-source
// fan-out (device memset).
//
// A synchronous call uses the sync slot for both handles and waits
// inline. An asynchronous call waits for the previous handle's batch,
// folds its progress into the new slot, issues the next batch and
// returns the rotated handle; the caller waits on the last handle.

package engine

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-dma/api"
)

// CopyParams describe one logical transfer. Src and Dst are
// hardware-encoded addresses (see HAL.EncodeAddr). SrcAdvance and
// DstAdvance control whether the respective address advances with
// the transfer offset; a fixed source with an advancing destination
// is the device-memset fan-out.
type CopyParams struct {
	Src, Dst   uint64
	Size       uint64
	SrcAdvance bool
	DstAdvance bool
	Dir        api.Direction
}

// CopySync moves p.Size bytes on queue qid and returns when the last
// batch's completion marker has landed. Uses the dedicated sync slot.
func (e *Engine) CopySync(qid int, p CopyParams) error {
	e.ringMu.Lock()
	defer e.ringMu.Unlock()

	q, err := e.boundQueue(qid)
	if err != nil {
		return err
	}
	ctx, err := e.acquireCtx(HandleSync, p)
	if err != nil {
		return err
	}
	defer e.releaseCtx(ctx)

	for ctx.remaining > 0 {
		if err := e.issueBatch(q, ctx, e.batchBytes.Load()); err != nil {
			return err
		}
		if err := e.waitBatch(qid, ctx, false); err != nil {
			return err
		}
	}
	e.metrics.Transfers.Inc(1)
	e.metrics.Transfer.UpdateSince(ctx.transferAt)
	return nil
}

// CopyAsync issues the next batch of the logical transfer p on the
// slot rotated from prev and returns that handle plus the bytes the
// new batch covers. If prev denotes an outstanding batch it is waited
// for first and its progress folded into the new slot. Reusing a slot
// that is still in use is ErrInvalidState. The caller must eventually
// WaitAsync the returned handle.
func (e *Engine) CopyAsync(qid int, p CopyParams, prev Handle) (Handle, uint64, error) {
	cur, err := NextHandle(prev)
	if err != nil {
		return HandleNone, 0, err
	}

	e.ringMu.Lock()
	defer e.ringMu.Unlock()

	q, err := e.boundQueue(qid)
	if err != nil {
		return HandleNone, 0, err
	}
	ctx, err := e.acquireCtx(cur, p)
	if err != nil {
		return HandleNone, 0, err
	}

	if prev != HandleNone && prev != cur {
		prevCtx := &e.ctxs[prev]
		if prevCtx.inUse {
			if err := e.waitBatch(qid, prevCtx, true); err != nil {
				e.releaseCtx(ctx)
				return HandleNone, 0, err
			}
			ctx.offset = prevCtx.offset
			if ctx.offset > ctx.size {
				e.releaseCtx(ctx)
				e.releaseCtx(prevCtx)
				return HandleNone, 0, errors.Wrapf(api.ErrInvalidState,
					"previous handle %s completed %d bytes of a %d byte transfer", prev, ctx.offset, ctx.size)
			}
			ctx.remaining = ctx.size - ctx.offset
			e.releaseCtx(prevCtx)
		}
	}

	if ctx.remaining == 0 {
		e.releaseCtx(ctx)
		return HandleNone, 0, errors.Wrapf(api.ErrInvalidState,
			"transfer of %d bytes already fully issued", ctx.size)
	}
	if err := e.issueBatch(q, ctx, e.batchBytes.Load()); err != nil {
		e.releaseCtx(ctx)
		return HandleNone, 0, err
	}
	issued := ctx.lastBatch
	if cur == HandleSync {
		// sync->sync rotation keeps wait-immediately semantics.
		err := e.waitBatch(qid, ctx, false)
		e.releaseCtx(ctx)
		return cur, issued, err
	}
	return cur, issued, nil
}

// WaitAsync waits for the batch outstanding on handle h and releases
// the slot. Waiting on a handle with nothing outstanding is
// ErrInvalidState.
func (e *Engine) WaitAsync(qid int, h Handle) error {
	if h != HandleSync && h != HandleAsync1 && h != HandleAsync2 {
		return errors.Wrapf(api.ErrInvalidState, "handle %s cannot be waited on", h)
	}

	e.ringMu.Lock()
	defer e.ringMu.Unlock()

	if _, err := e.boundQueue(qid); err != nil {
		return err
	}
	ctx := &e.ctxs[h]
	if !ctx.inUse {
		return errors.Wrapf(api.ErrInvalidState, "handle %s has no outstanding transfer", h)
	}
	var err error
	if ctx.pending > 0 {
		err = e.waitBatch(qid, ctx, true)
	}
	if err == nil && ctx.remaining == 0 {
		e.metrics.Transfers.Inc(1)
		e.metrics.Transfer.UpdateSince(ctx.transferAt)
	}
	e.releaseCtx(ctx)
	return err
}

// CopyRawStart copies pre-validated caller descriptors verbatim into
// the ring and starts them. The caller is responsible for running the
// Validator first and for acking via AckQueue.
func (e *Engine) CopyRawStart(qid int, descs []api.Descriptor, nTx, nRx int) error {
	e.ringMu.Lock()
	defer e.ringMu.Unlock()

	q, err := e.boundQueue(qid)
	if err != nil {
		return err
	}
	if err := q.dq.CopyRaw(descs); err != nil {
		return errors.Wrapf(err, "engine %d queue %d: raw copy of %d descriptors", e.id, qid, len(descs))
	}
	if err := q.dq.Start(nTx, nRx); err != nil {
		return errors.Wrapf(err, "engine %d queue %d: start", e.id, qid)
	}
	e.metrics.Descriptors.Inc(int64(len(descs)))
	return nil
}

// StartQueue starts whatever is prepared on qid without touching the
// context slots.
func (e *Engine) StartQueue(qid, nTx, nRx int) error {
	e.ringMu.Lock()
	defer e.ringMu.Unlock()
	q, err := e.boundQueue(qid)
	if err != nil {
		return err
	}
	if err := q.dq.Start(nTx, nRx); err != nil {
		return errors.Wrapf(err, "engine %d queue %d: start", e.id, qid)
	}
	return nil
}

// AckQueue acknowledges n completed descriptors on qid.
func (e *Engine) AckQueue(qid, n int) error {
	e.ringMu.Lock()
	defer e.ringMu.Unlock()
	q, err := e.boundQueue(qid)
	if err != nil {
		return err
	}
	if err := q.dq.Ack(n); err != nil {
		return errors.Wrapf(err, "engine %d queue %d: ack %d", e.id, qid, n)
	}
	return nil
}

// acquireCtx claims slot h for a fresh transfer. Ring lock held.
func (e *Engine) acquireCtx(h Handle, p CopyParams) (*dmaContext, error) {
	ctx := &e.ctxs[h]
	if ctx.inUse {
		return nil, errors.Wrapf(api.ErrInvalidState, "context %s already in use", h)
	}
	chunk, err := e.markers.Get()
	if err != nil {
		return nil, err
	}
	m, err := newMarker(chunk)
	if err != nil {
		e.markers.Put(chunk)
		return nil, err
	}
	m.arm()
	*ctx = dmaContext{
		handle:     h,
		inUse:      true,
		src:        p.Src,
		dst:        p.Dst,
		sMove:      p.SrcAdvance,
		dMove:      p.DstAdvance,
		dir:        p.Dir,
		size:       p.Size,
		remaining:  p.Size,
		compl:      m,
		transferAt: time.Now(),
	}
	return ctx, nil
}

// releaseCtx retires a slot and recycles its marker chunk.
func (e *Engine) releaseCtx(ctx *dmaContext) {
	if ctx.compl != nil {
		e.markers.Put(ctx.compl.chunk)
	}
	*ctx = dmaContext{handle: ctx.handle}
}

// issueBatch prepares descriptors for up to limit bytes starting at
// ctx.offset, appends the completion descriptor and starts the batch.
// The batch is additionally bounded by the ring's free space, one
// slot reserved for the completion descriptor, so a large transfer
// splits instead of overflowing the ring.
func (e *Engine) issueBatch(q *queue, ctx *dmaContext, limit uint64) error {
	if limit == 0 || limit > ctx.remaining {
		limit = ctx.remaining
	}
	barrier := e.hal.Barrier(ctx.dir == api.DeviceToDevice)
	maxDesc := e.hal.MaxDescriptorSize()

	free := q.dq.FreeSpace()
	if free < 2 {
		return errors.Wrapf(api.ErrInvalidState, "engine %d queue %d: ring full, %d slots free", e.id, q.id, free)
	}
	if most := uint64(free-1) * maxDesc; limit > most {
		limit = most
	}

	var n int
	var batch uint64
	for batch < limit {
		l := limit - batch
		if l > maxDesc {
			l = maxDesc
		}
		src := ctx.src
		if ctx.sMove {
			src += ctx.offset + batch
		}
		dst := ctx.dst
		if ctx.dMove {
			dst += ctx.offset + batch
		}
		if err := q.dq.Prepare(src, dst, uint32(l), barrier); err != nil {
			e.unwind(q, n)
			return errors.Wrapf(err, "engine %d queue %d: prepare descriptor at offset %d", e.id, q.id, ctx.offset+batch)
		}
		batch += l
		n++
	}

	msrc, mdst, mlen := ctx.compl.descriptor(e.hal)
	if err := q.dq.Prepare(msrc, mdst, mlen, api.BarrierFull); err != nil {
		e.unwind(q, n)
		return errors.Wrapf(err, "engine %d queue %d: prepare completion descriptor", e.id, q.id)
	}
	n++

	nTx, nRx := n, 0
	if ctx.dir == api.DeviceToHost {
		nTx, nRx = 1, n-1
	}
	if err := q.dq.Start(nTx, nRx); err != nil {
		return errors.Wrapf(err, "engine %d queue %d: start batch", e.id, q.id)
	}

	ctx.pending = n
	ctx.lastBatch = batch
	e.metrics.Descriptors.Inc(int64(n))
	return nil
}

// unwind discards the descriptors a failed batch already prepared so
// they neither consume ring space nor run on the next start.
func (e *Engine) unwind(q *queue, n int) {
	if n == 0 {
		return
	}
	if err := q.dq.Discard(n); err != nil {
		e.log.WithFields(logrus.Fields{
			"queue": q.id,
			"descs": n,
		}).WithError(err).Warn("could not discard partial batch")
	}
}

// waitBatch waits for ctx's outstanding batch and advances its
// progress. On timeout inside a reset window the queue is
// reinitialized and the same batch reissued from the current progress
// point, looping until success, a non-reset failure or a reinit
// failure. The reinit leg takes the configuration mutex; callers of
// transfer operations must not hold it.
func (e *Engine) waitBatch(qid int, ctx *dmaContext, async bool) error {
	q := &e.queues[qid]
	for {
		err := e.waitCompletion(q.dq, ctx.compl, waitParams{
			count: ctx.pending,
			async: async,
			intra: ctx.dir == api.DeviceToDevice,
		})
		if err == nil {
			ctx.offset += ctx.lastBatch
			ctx.remaining -= ctx.lastBatch
			e.metrics.Bytes.Inc(int64(ctx.lastBatch))
			ctx.pending = 0
			ctx.lastBatch = 0
			return nil
		}
		if !errors.Is(err, api.ErrTimeout) {
			return err
		}
		if !e.oracle.InDisruptionWindow(ctx.transferAt) {
			return err
		}

		e.metrics.Retries.Inc(1)
		e.log.WithFields(logrus.Fields{
			"queue":  qid,
			"handle": ctx.handle.String(),
			"offset": ctx.offset,
		}).Warn("completion timeout inside reset window, reinitializing ring")

		e.cfgMu.Lock()
		rerr := e.reinitQueue(qid)
		e.cfgMu.Unlock()
		if rerr != nil {
			return rerr
		}
		ctx.compl.arm()
		if rerr := e.issueBatch(q, ctx, ctx.lastBatch); rerr != nil {
			return rerr
		}
	}
}
