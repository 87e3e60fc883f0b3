// File: pool/completion_test.go

package pool_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-dma/api"
	"github.com/momentics/hioload-dma/fake"
	"github.com/momentics/hioload-dma/pool"
)

func TestCompletionPoolReuse(t *testing.T) {
	space := fake.NewSpace()
	p := pool.NewCompletionPool(space, 1)

	c1, err := p.Get()
	require.NoError(t, err)
	require.Equal(t, uint64(api.MarkerSize), c1.Size())
	require.Equal(t, api.LocationHost, c1.Addr().Loc)
	require.NotNil(t, c1.Bytes())

	p.Put(c1)
	require.Equal(t, 1, p.Len())

	c2, err := p.Get()
	require.NoError(t, err)
	require.Same(t, c1, c2)
	require.Zero(t, p.Len())
	p.Put(c2)
	require.NoError(t, p.Close())
}

func TestCompletionPoolClose(t *testing.T) {
	space := fake.NewSpace()
	p := pool.NewCompletionPool(space, 1)

	c, err := p.Get()
	require.NoError(t, err)
	p.Put(c)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	_, err = p.Get()
	require.ErrorIs(t, err, api.ErrAllocation)

	// Chunks returned after close are freed, not pooled.
	late, err := space.Allocate(api.MarkerSize, api.LocationHost, api.LifespanPersistent, 1)
	require.NoError(t, err)
	p.Put(late)
	require.Zero(t, p.Len())
	require.Error(t, space.Free(late)) // already freed by the pool
}

func TestScratchPool(t *testing.T) {
	p := pool.NewScratchPool(64)
	s := p.Get()
	require.Equal(t, 64, cap(s))
	require.Empty(t, s)
	s = append(s, api.Descriptor{Src: 1, Dst: 2, Len: 3})
	p.Put(s)
	s2 := p.Get()
	require.Empty(t, s2)
	require.Equal(t, 64, cap(s2))
}
