// File: fake/pinner.go
//
// Fake page pinner. User memory is allocated through the pinner
// itself, which hands back a synthetic virtual address; pinning maps
// those pages onto host physical regions in the fake space so the
// backend's copy engine reads and writes the real bytes. Pin/unpin
// accounting is strict: unpinning a page that is not pinned is an
// error, which is how tests prove the exactly-once handoff.

package fake

import (
	"fmt"
	"sync"

	"github.com/momentics/hioload-dma/api"
)

const (
	fakePageSize = 4096
	userVABase   = 0x7F00_0000_0000
	userPhysBase = 0x2000_0000
)

// Pinner is a fake api.PagePinner.
type Pinner struct {
	space *Space

	mu       sync.Mutex
	nextVA   uint64
	nextPhys uint64
	pages    map[uint64]*userPage // keyed by page VA

	// MaxPinBatch, when positive, caps how many pages one Pin call
	// delivers, forcing the caller's exact-pinning fallback.
	MaxPinBatch int
	// FailVA, when nonzero, makes pinning that page fail outright.
	FailVA uintptr
	// ScatterEvery, when positive, breaks physical contiguity after
	// every run of that many pages.
	ScatterEvery int

	pinCalls    int
	unpinCalls  int
	dirtyUnpins int
	pinnedNow   int
	maxPinned   int
}

type userPage struct {
	phys   uint64
	data   []byte
	pinned bool
}

var _ api.PagePinner = (*Pinner)(nil)

// NewPinner creates a pinner mapping into space.
func NewPinner(space *Space) *Pinner {
	return &Pinner{
		space:    space,
		nextVA:   userVABase,
		nextPhys: userPhysBase,
		pages:    make(map[uint64]*userPage),
	}
}

// AllocUser allocates fake user memory and returns its backing bytes
// plus the synthetic virtual address of the first byte.
func (p *Pinner) AllocUser(size int) ([]byte, uintptr) {
	p.mu.Lock()
	defer p.mu.Unlock()

	npages := (size + fakePageSize - 1) / fakePageSize
	data := make([]byte, npages*fakePageSize)
	va := p.nextVA
	p.nextVA += uint64(npages+1) * fakePageSize // guard gap between allocations

	for i := 0; i < npages; i++ {
		if p.ScatterEvery > 0 && i > 0 && i%p.ScatterEvery == 0 {
			p.nextPhys += fakePageSize // contiguity break
		}
		pg := &userPage{
			phys: p.nextPhys,
			data: data[i*fakePageSize : (i+1)*fakePageSize],
		}
		p.nextPhys += fakePageSize
		p.pages[va+uint64(i)*fakePageSize] = pg
		p.space.Insert(pg.phys, api.LocationHost, pg.data, 0)
	}
	return data[:size], uintptr(va)
}

// PageSize implements api.PagePinner.
func (p *Pinner) PageSize() int { return fakePageSize }

// Pin implements api.PagePinner.
func (p *Pinner) Pin(va uintptr, pages int, writable bool) ([]api.PinnedPage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pinCalls++

	limit := pages
	var partial bool
	if p.MaxPinBatch > 0 && limit > p.MaxPinBatch {
		limit = p.MaxPinBatch
		partial = true
	}

	base := uint64(va) &^ uint64(fakePageSize-1)
	out := make([]api.PinnedPage, 0, limit)
	for i := 0; i < limit; i++ {
		pva := base + uint64(i)*fakePageSize
		if p.FailVA != 0 && uintptr(pva) == p.FailVA {
			p.unlockPagesLocked(out)
			return nil, fmt.Errorf("pin fault at %#x", pva)
		}
		pg, ok := p.pages[pva]
		if !ok {
			p.unlockPagesLocked(out)
			return nil, fmt.Errorf("no user page at %#x", pva)
		}
		if pg.pinned {
			p.unlockPagesLocked(out)
			return nil, fmt.Errorf("page %#x already pinned", pva)
		}
		pg.pinned = true
		p.pinnedNow++
		if p.pinnedNow > p.maxPinned {
			p.maxPinned = p.pinnedNow
		}
		out = append(out, api.PinnedPage{VA: uintptr(pva), Phys: pg.phys})
	}
	if partial {
		return out, fmt.Errorf("pinned %d of %d pages", limit, pages)
	}
	return out, nil
}

// Unpin implements api.PagePinner.
func (p *Pinner) Unpin(pages []api.PinnedPage, dirty bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unpinCalls++
	if dirty {
		p.dirtyUnpins++
	}
	for _, pp := range pages {
		pg, ok := p.pages[uint64(pp.VA)]
		if !ok || !pg.pinned {
			return fmt.Errorf("unpin of unpinned page %#x", pp.VA)
		}
		pg.pinned = false
		p.pinnedNow--
	}
	return nil
}

func (p *Pinner) unlockPagesLocked(pages []api.PinnedPage) {
	for _, pp := range pages {
		if pg, ok := p.pages[uint64(pp.VA)]; ok && pg.pinned {
			pg.pinned = false
			p.pinnedNow--
		}
	}
}

// PinStats reports the pinner's accounting for assertions.
type PinStats struct {
	PinCalls    int
	UnpinCalls  int
	DirtyUnpins int
	PinnedNow   int
	MaxPinned   int
}

// Stats returns a snapshot of pin/unpin accounting.
func (p *Pinner) Stats() PinStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PinStats{
		PinCalls:    p.pinCalls,
		UnpinCalls:  p.unpinCalls,
		DirtyUnpins: p.dirtyUnpins,
		PinnedNow:   p.pinnedNow,
		MaxPinned:   p.maxPinned,
	}
}
