// File: fake/table.go
//
// Fake per-device chunk table for the address validator.

package fake

import (
	"sync"

	"github.com/momentics/hioload-dma/api"
)

type tableEntry struct {
	owner int32
	base  uint64
	size  uint64
}

// Table is a fake api.ChunkTable.
type Table struct {
	mu      sync.Mutex
	devices []api.DeviceID
	entries map[api.DeviceID][]tableEntry
}

var _ api.ChunkTable = (*Table)(nil)

// NewTable creates a table covering the given devices.
func NewTable(devices ...api.DeviceID) *Table {
	return &Table{
		devices: devices,
		entries: make(map[api.DeviceID][]tableEntry),
	}
}

// Register records a chunk range owned by owner on dev.
func (t *Table) Register(dev api.DeviceID, owner int32, base, size uint64) {
	t.mu.Lock()
	t.entries[dev] = append(t.entries[dev], tableEntry{owner: owner, base: base, size: size})
	t.mu.Unlock()
}

// Devices implements api.ChunkTable.
func (t *Table) Devices() []api.DeviceID {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]api.DeviceID, len(t.devices))
	copy(out, t.devices)
	return out
}

// Resolve implements api.ChunkTable.
func (t *Table) Resolve(dev api.DeviceID, owner int32, addr uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.entries[dev] {
		if e.owner == owner && addr >= e.base && addr < e.base+e.size {
			return true
		}
	}
	return false
}
