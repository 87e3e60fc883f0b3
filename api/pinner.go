// File: api/pinner.go
// Package api
//
// Kernel page pin/unpin primitives used by the zero-copy pipeline.

package api

// PagePinner pins user pages resident and resolves their physical
// addresses.
type PagePinner interface {
	// PageSize returns the system page size in bytes.
	PageSize() int

	// Pin pins pages starting at the page containing va. writable
	// marks the pages for device writes (device->host transfers).
	// On partial success Pin returns the pages it did pin together
	// with a non-nil error; the caller decides whether to fall back
	// to exact per-page pinning or unwind.
	Pin(va uintptr, pages int, writable bool) ([]PinnedPage, error)

	// Unpin releases pages. dirty marks them modified before release
	// (device->host transfers).
	Unpin(pages []PinnedPage, dirty bool) error
}
