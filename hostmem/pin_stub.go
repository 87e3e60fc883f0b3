// File: hostmem/pin_stub.go
//go:build !linux

package hostmem

import (
	"github.com/pkg/errors"

	"github.com/momentics/hioload-dma/api"
)

// Pinner is unavailable off Linux; zero-copy callers should inject
// their platform's pinner instead.
type Pinner struct{}

var _ api.PagePinner = (*Pinner)(nil)

// NewPinner always fails on this platform.
func NewPinner() (*Pinner, error) {
	return nil, errors.New("page pinning not supported on this platform")
}

func (p *Pinner) Close() error  { return nil }
func (p *Pinner) PageSize() int { return 4096 }

func (p *Pinner) Pin(va uintptr, pages int, writable bool) ([]api.PinnedPage, error) {
	return nil, errors.New("page pinning not supported on this platform")
}

func (p *Pinner) Unpin(pages []api.PinnedPage, dirty bool) error {
	return errors.New("page pinning not supported on this platform")
}
