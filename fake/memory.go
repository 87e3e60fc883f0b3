// Package fake provides in-memory implementations of the hardware
// contracts (chunk allocator, queue backend, HAL, page pinner, reset
// oracle) so the DMA core can be exercised without a device. The fake
// backend really moves bytes in a flat fake physical space, so
// round-trip tests compare real data.

package fake

import (
	"fmt"
	"sync"

	"github.com/momentics/hioload-dma/api"
)

// Address-space layout of the fake bus.
const (
	hostBase   = 0x0010_0000
	deviceBase = 0x4000_0000
)

// region is one physically addressed range in the fake space.
type region struct {
	base  uint64
	loc   api.Location
	data  []byte
	owner int32
	span  api.Lifespan
	freed bool
}

// Space is a flat fake physical address space. It implements
// api.ChunkAllocator and executes the byte movement the fake backend
// asks for.
type Space struct {
	mu       sync.Mutex
	regions  []*region
	nextHost uint64
	nextDev  uint64
}

// NewSpace creates an empty fake address space.
func NewSpace() *Space {
	return &Space{nextHost: hostBase, nextDev: deviceBase}
}

// Allocate implements api.ChunkAllocator.
func (s *Space) Allocate(size uint64, loc api.Location, span api.Lifespan, owner int32) (api.MemChunk, error) {
	if size == 0 {
		return nil, fmt.Errorf("zero-size chunk")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var base uint64
	if loc == api.LocationHost {
		base = s.nextHost
		s.nextHost += align(size)
	} else {
		base = s.nextDev
		s.nextDev += align(size)
	}
	r := &region{
		base:  base,
		loc:   loc,
		data:  make([]byte, size),
		owner: owner,
		span:  span,
	}
	s.regions = append(s.regions, r)
	return &Chunk{space: s, region: r}, nil
}

// Free implements api.ChunkAllocator.
func (s *Space) Free(c api.MemChunk) error {
	fc, ok := c.(*Chunk)
	if !ok {
		return fmt.Errorf("foreign chunk")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if fc.region.freed {
		return fmt.Errorf("double free of chunk %#x", fc.region.base)
	}
	fc.region.freed = true
	return nil
}

// Insert registers an externally backed range (the fake pinner's user
// pages) at an explicit physical address.
func (s *Space) Insert(base uint64, loc api.Location, data []byte, owner int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regions = append(s.regions, &region{
		base:  base,
		loc:   loc,
		data:  data,
		owner: owner,
		span:  api.LifespanTransient,
	})
}

// align rounds sizes so region bases stay apart.
func align(n uint64) uint64 {
	return (n + 0xFFF) &^ uint64(0xFFF)
}

func (s *Space) find(loc api.Location, addr uint64) *region {
	for _, r := range s.regions {
		if r.freed || r.loc != loc {
			continue
		}
		if addr >= r.base && addr < r.base+uint64(len(r.data)) {
			return r
		}
	}
	return nil
}

// ReadAt copies len(buf) bytes out of the space, crossing region
// boundaries as long as the ranges are contiguous.
func (s *Space) ReadAt(loc api.Location, addr uint64, buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.access(loc, addr, buf, false)
}

// WriteAt copies buf into the space.
func (s *Space) WriteAt(loc api.Location, addr uint64, buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.access(loc, addr, buf, true)
}

func (s *Space) access(loc api.Location, addr uint64, buf []byte, write bool) error {
	off := 0
	for off < len(buf) {
		r := s.find(loc, addr+uint64(off))
		if r == nil {
			return fmt.Errorf("bus fault: no %v region at %#x", loc, addr+uint64(off))
		}
		ro := addr + uint64(off) - r.base
		n := copyLen(len(buf)-off, len(r.data)-int(ro))
		if write {
			copy(r.data[ro:ro+uint64(n)], buf[off:off+n])
		} else {
			copy(buf[off:off+n], r.data[ro:ro+uint64(n)])
		}
		off += n
	}
	return nil
}

func copyLen(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Chunk is a fake api.MemChunk.
type Chunk struct {
	space  *Space
	region *region
}

var _ api.MemChunk = (*Chunk)(nil)

// Bytes returns the host mapping; device chunks have none.
func (c *Chunk) Bytes() []byte {
	if c.region.loc != api.LocationHost {
		return nil
	}
	return c.region.data
}

// DeviceBytes exposes a device chunk's backing storage to tests.
func (c *Chunk) DeviceBytes() []byte { return c.region.data }

func (c *Chunk) Addr() api.TaggedAddr {
	return api.TaggedAddr{Loc: c.region.loc, Addr: c.region.base}
}

func (c *Chunk) Size() uint64           { return uint64(len(c.region.data)) }
func (c *Chunk) Owner() int32           { return c.region.owner }
func (c *Chunk) Lifespan() api.Lifespan { return c.region.span }
