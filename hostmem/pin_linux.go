// File: hostmem/pin_linux.go
//go:build linux

// Package hostmem provides the process-memory page pinner used by the
// zero-copy pipeline on real systems. Pages are locked resident with
// mlock and their physical frames resolved through the kernel's
// pagemap interface. Running without CAP_SYS_ADMIN the pagemap hides
// frame numbers; callers get an explicit error rather than zero
// physical addresses.

package hostmem

import (
	"encoding/binary"
	"os"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-dma/api"
)

const (
	pagemapPath    = "/proc/self/pagemap"
	pagemapEntrySz = 8
	pagemapPresent = uint64(1) << 63
	pagemapPFNMask = (uint64(1) << 55) - 1
)

// Pinner implements api.PagePinner over mlock and pagemap.
type Pinner struct {
	pagemap  *os.File
	pageSize int
}

var _ api.PagePinner = (*Pinner)(nil)

// NewPinner opens the process pagemap.
func NewPinner() (*Pinner, error) {
	f, err := os.Open(pagemapPath)
	if err != nil {
		return nil, errors.Wrap(err, "open pagemap")
	}
	return &Pinner{pagemap: f, pageSize: unix.Getpagesize()}, nil
}

// Close releases the pagemap handle.
func (p *Pinner) Close() error { return p.pagemap.Close() }

// PageSize implements api.PagePinner.
func (p *Pinner) PageSize() int { return p.pageSize }

// Pin implements api.PagePinner. The whole range is mlocked in one
// call; physical resolution then walks the pagemap per page. A page
// that resolves as absent ends the walk, returning the pages pinned
// so far together with the error so the caller can fall back to
// exact pinning.
func (p *Pinner) Pin(va uintptr, pages int, writable bool) ([]api.PinnedPage, error) {
	base := va &^ uintptr(p.pageSize-1)
	length := pages * p.pageSize

	mem := unsafe.Slice((*byte)(unsafe.Pointer(base)), length)
	if err := unix.Mlock(mem); err != nil {
		return nil, errors.Wrapf(err, "mlock %d pages at %#x", pages, base)
	}
	if writable {
		// fault pages in writable before the device touches them
		for off := 0; off < length; off += p.pageSize {
			v := mem[off]
			mem[off] = v
		}
	}

	out := make([]api.PinnedPage, 0, pages)
	var entry [pagemapEntrySz]byte
	for i := 0; i < pages; i++ {
		pva := base + uintptr(i*p.pageSize)
		off := int64(uint64(pva) / uint64(p.pageSize) * pagemapEntrySz)
		if _, err := p.pagemap.ReadAt(entry[:], off); err != nil {
			p.unlockTail(base, i, pages)
			return out, errors.Wrapf(err, "pagemap read for %#x", pva)
		}
		e := binary.LittleEndian.Uint64(entry[:])
		if e&pagemapPresent == 0 || e&pagemapPFNMask == 0 {
			p.unlockTail(base, i, pages)
			return out, errors.Errorf("page %#x not resident or frame hidden", pva)
		}
		out = append(out, api.PinnedPage{
			VA:   pva,
			Phys: (e & pagemapPFNMask) * uint64(p.pageSize),
		})
	}
	return out, nil
}

// unlockTail releases the mlock on the pages that did not resolve, so
// a partial result only keeps its own pages locked.
func (p *Pinner) unlockTail(base uintptr, from, pages int) {
	start := base + uintptr(from*p.pageSize)
	length := (pages - from) * p.pageSize
	if length <= 0 {
		return
	}
	mem := unsafe.Slice((*byte)(unsafe.Pointer(start)), length)
	_ = unix.Munlock(mem)
}

// Unpin implements api.PagePinner. Dirty state needs no explicit
// action here: the CPU never wrote the pages, but the device did, and
// mlocked pages stay valid until munlock.
func (p *Pinner) Unpin(pages []api.PinnedPage, dirty bool) error {
	var first error
	for _, pp := range pages {
		mem := unsafe.Slice((*byte)(unsafe.Pointer(pp.VA)), p.pageSize)
		if err := unix.Munlock(mem); err != nil && first == nil {
			first = errors.Wrapf(err, "munlock %#x", pp.VA)
		}
	}
	return first
}
