// File: engine/zerocopy.go
// Package engine
//
// Zero-copy user-memory transfers. The transfer is partitioned into
// windows of at most MaxWindowPages pages; per window the pipeline
// pins the page range, emits coalesced descriptors over maximal runs
// of physically contiguous pages and starts the batch with a
// completion descriptor appended.
//
// Two long-lived window contexts rotate round-robin: before pinning
// window N+1 the pipeline waits for window N-1, so pinned memory is
// bounded to two windows while one window's DMA overlaps the next
// window's pinning and descriptor build.
//
// Ownership handoff: once a window's batch is started, unpinning its
// pages belongs to whoever waits for that window (retry path
// included). If issuance fails before start, the issuing path unpins
// immediately. Exactly one of issuer and waiter unpins a window,
// exactly once.

package engine

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-dma/api"
)

// MaxWindowPages bounds one zero-copy window.
const MaxWindowPages = 64

// ZeroCopyParams describe one user-memory transfer. DeviceAddr is
// the untagged device physical address; HostVA the user virtual
// start. HostToDevice pins pages read-only from the transfer's view;
// the reverse direction marks them dirty on unpin.
type ZeroCopyParams struct {
	HostVA       uintptr
	DeviceAddr   uint64
	Size         uint64
	HostToDevice bool
}

// zcWindow is the state of one in-flight window.
type zcWindow struct {
	pages      []api.PinnedPage
	pageOff    uint64 // offset into the first page
	pageSize   uint64
	bytes      uint64
	devAddr    uint64 // untagged device start of this window
	pending    int
	issued     bool
	compl      *marker
	transferAt time.Time // start of the whole transfer; keys the reset oracle
}

// CopyUser moves p.Size bytes between user memory and a contiguous
// device range without an intermediate copy buffer. Blocks until the
// last window completes.
func (e *Engine) CopyUser(qid int, pinner api.PagePinner, p ZeroCopyParams) error {
	if pinner == nil {
		return errors.Wrap(api.ErrInvalidState, "zero-copy transfer needs a page pinner")
	}
	if p.Size == 0 {
		return nil
	}

	e.ringMu.Lock()
	defer e.ringMu.Unlock()

	q, err := e.boundQueue(qid)
	if err != nil {
		return err
	}
	pageSize := uint64(pinner.PageSize())
	start := time.Now()

	var windows [2]zcWindow
	widx := 0
	var off uint64
	for off < p.Size {
		w := &windows[widx&1]
		other := &windows[(widx+1)&1]

		// The slot's previous occupant is window N-1; it must land
		// before we pin more memory.
		if w.issued {
			if err := e.waitWindow(qid, q, pinner, w, other, p.HostToDevice); err != nil {
				if other.issued {
					_ = e.waitWindow(qid, q, pinner, other, nil, p.HostToDevice)
				}
				return err
			}
		}

		startVA := p.HostVA + uintptr(off)
		pageOff := uint64(startVA) & (pageSize - 1)
		bytes := p.Size - off
		if max := uint64(MaxWindowPages)*pageSize - pageOff; bytes > max {
			bytes = max
		}
		npages := int((pageOff + bytes + pageSize - 1) / pageSize)

		pages, err := e.pinWindow(pinner, startVA-uintptr(pageOff), npages, pageSize, !p.HostToDevice)
		if err != nil {
			if other.issued {
				_ = e.waitWindow(qid, q, pinner, other, nil, p.HostToDevice)
			}
			return err
		}

		chunk, err := e.markers.Get()
		if err == nil {
			var m *marker
			m, err = newMarker(chunk)
			if err != nil {
				e.markers.Put(chunk)
			} else {
				m.arm()
				*w = zcWindow{
					pages:      pages,
					pageOff:    pageOff,
					pageSize:   pageSize,
					bytes:      bytes,
					devAddr:    p.DeviceAddr + off,
					compl:      m,
					transferAt: start,
				}
				err = e.buildWindowBatch(q, w, p.HostToDevice)
				if err != nil {
					e.markers.Put(m.chunk)
					*w = zcWindow{}
				}
			}
		}
		if err != nil {
			// Issuance failed before start: the issuer unpins.
			_ = pinner.Unpin(pages, false)
			if other.issued {
				_ = e.waitWindow(qid, q, pinner, other, nil, p.HostToDevice)
			}
			return err
		}
		w.issued = true
		off += bytes
		widx++
	}

	// Drain outstanding windows, oldest first.
	var first error
	for i := 0; i < 2; i++ {
		w := &windows[(widx+i)&1]
		other := &windows[(widx+i+1)&1]
		if !w.issued {
			continue
		}
		if err := e.waitWindow(qid, q, pinner, w, other, p.HostToDevice); err != nil && first == nil {
			first = err
		}
	}
	if first == nil {
		e.metrics.Transfers.Inc(1)
		e.metrics.Transfer.UpdateSince(start)
	}
	return first
}

// pinWindow pins npages starting at the page-aligned base. The fast
// path pins the whole range at once; on partial success it falls back
// to exact per-page pinning, and unwinds fully if that fails too.
func (e *Engine) pinWindow(pinner api.PagePinner, base uintptr, npages int, pageSize uint64, writable bool) ([]api.PinnedPage, error) {
	pages, err := pinner.Pin(base, npages, writable)
	if err == nil && len(pages) == npages {
		return pages, nil
	}

	got := pages
	for len(got) < npages {
		one, perr := pinner.Pin(base+uintptr(uint64(len(got))*pageSize), 1, writable)
		if perr != nil || len(one) == 0 {
			if len(got) > 0 {
				_ = pinner.Unpin(got, false)
			}
			return nil, errors.Wrapf(api.ErrAllocation,
				"engine %d: pin %d pages at %#x: pinned %d: %v", e.id, npages, base, len(got), perr)
		}
		got = append(got, one...)
	}
	return got, nil
}

// buildWindowBatch emits descriptors over maximal physically
// contiguous page runs, capped at the max descriptor size, appends
// the completion descriptor and starts the batch. Also the reissue
// path after a ring reinit: it re-derives descriptors over the same
// already-pinned pages.
func (e *Engine) buildWindowBatch(q *queue, w *zcWindow, hostToDev bool) error {
	barrier := e.hal.Barrier(false)
	maxDesc := e.hal.MaxDescriptorSize()

	// Worst case one descriptor per page plus max-descriptor splits,
	// plus the completion descriptor. Checked up front so a failed
	// window leaves nothing in the ring.
	need := len(w.pages) + int(w.bytes/maxDesc) + 1
	if free := q.dq.FreeSpace(); free < need {
		return errors.Wrapf(api.ErrInvalidState,
			"engine %d queue %d: window needs %d descriptors, ring has %d free", e.id, q.id, need, free)
	}

	n := 0
	remaining := w.bytes
	hostOff := w.pageOff
	dev := w.devAddr
	i := 0
	for remaining > 0 {
		j := i + 1
		for j < len(w.pages) && w.pages[j].Phys == w.pages[j-1].Phys+w.pageSize {
			j++
		}
		runBytes := uint64(j-i)*w.pageSize - hostOff
		if runBytes > remaining {
			runBytes = remaining
		}
		runPhys := w.pages[i].Phys + hostOff

		for runBytes > 0 {
			l := runBytes
			if l > maxDesc {
				l = maxDesc
			}
			hostAddr := e.hal.EncodeAddr(api.TaggedAddr{Loc: api.LocationHost, Addr: runPhys}, false)
			devAddr := e.hal.EncodeAddr(api.TaggedAddr{Loc: api.LocationDevice, Addr: dev}, false)
			var err error
			if hostToDev {
				err = q.dq.Prepare(hostAddr, devAddr, uint32(l), barrier)
			} else {
				err = q.dq.Prepare(devAddr, hostAddr, uint32(l), barrier)
			}
			if err != nil {
				e.unwind(q, n)
				return errors.Wrapf(err, "engine %d queue %d: prepare zero-copy descriptor", e.id, q.id)
			}
			runPhys += l
			dev += l
			runBytes -= l
			remaining -= l
			n++
		}
		hostOff = 0
		i = j
	}

	msrc, mdst, mlen := w.compl.descriptor(e.hal)
	if err := q.dq.Prepare(msrc, mdst, mlen, api.BarrierFull); err != nil {
		e.unwind(q, n)
		return errors.Wrapf(err, "engine %d queue %d: prepare completion descriptor", e.id, q.id)
	}
	n++

	nTx, nRx := n, 0
	if !hostToDev {
		nTx, nRx = 1, n-1
	}
	if err := q.dq.Start(nTx, nRx); err != nil {
		return errors.Wrapf(err, "engine %d queue %d: start window", e.id, q.id)
	}
	w.pending = n
	e.metrics.Descriptors.Inc(int64(n))
	return nil
}

// waitWindow waits for window w's batch, retrying across device
// resets by rebuilding descriptors over the same pinned pages (for w
// and, if in flight, its pair), then unpins w's pages and retires the
// window. From here on the waiter owns the pages: they are released
// exactly once whether the wait succeeds or fails.
func (e *Engine) waitWindow(qid int, q *queue, pinner api.PagePinner, w, other *zcWindow, hostToDev bool) error {
	var werr error
	for {
		werr = e.waitCompletion(q.dq, w.compl, waitParams{count: w.pending, async: true})
		if werr == nil || !errors.Is(werr, api.ErrTimeout) || !e.oracle.InDisruptionWindow(w.transferAt) {
			break
		}

		e.metrics.Retries.Inc(1)
		e.log.WithFields(logrus.Fields{
			"queue": qid,
			"pages": len(w.pages),
			"bytes": w.bytes,
		}).Warn("zero-copy timeout inside reset window, reinitializing ring")

		e.cfgMu.Lock()
		rerr := e.reinitQueue(qid)
		e.cfgMu.Unlock()
		if rerr != nil {
			werr = rerr
			break
		}
		w.compl.arm()
		if rerr := e.buildWindowBatch(q, w, hostToDev); rerr != nil {
			werr = rerr
			break
		}
		if other != nil && other.issued {
			other.compl.arm()
			if rerr := e.buildWindowBatch(q, other, hostToDev); rerr != nil {
				werr = rerr
				break
			}
		}
	}

	bytes := w.bytes
	if uerr := pinner.Unpin(w.pages, !hostToDev); uerr != nil && werr == nil {
		werr = errors.Wrapf(uerr, "engine %d queue %d: unpin window", e.id, qid)
	}
	e.markers.Put(w.compl.chunk)
	*w = zcWindow{}
	if werr == nil {
		e.metrics.Bytes.Inc(int64(bytes))
	}
	return werr
}
