// File: facade/dma_test.go

package facade_test

import (
	"io"
	"testing"
	"time"

	gometrics "github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-dma/api"
	"github.com/momentics/hioload-dma/control"
	"github.com/momentics/hioload-dma/engine"
	"github.com/momentics/hioload-dma/facade"
	"github.com/momentics/hioload-dma/fake"
)

type env struct {
	dma    *facade.DMA
	hal    *fake.HAL
	space  *fake.Space
	table  *fake.Table
	pinner *fake.Pinner
}

func newEnv(t *testing.T) *env {
	t.Helper()
	hal := fake.NewHAL()
	hal.DescTime = time.Microsecond
	space := fake.NewSpace()
	table := fake.NewTable(0)
	pinner := fake.NewPinner(space)
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := facade.DefaultConfig()
	d, err := facade.New(cfg, facade.Deps{
		HAL:       hal,
		Backend:   fake.NewBackend(space, hal),
		Oracle:    fake.NewOracle(),
		Allocator: space,
		Table:     table,
		Pinner:    pinner,
		Logger:    logger,
		Metrics:   gometrics.NewRegistry(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return &env{dma: d, hal: hal, space: space, table: table, pinner: pinner}
}

func (e *env) chunk(t *testing.T, size uint64, loc api.Location) api.MemChunk {
	t.Helper()
	c, err := e.space.Allocate(size, loc, api.LifespanTransient, 1)
	require.NoError(t, err)
	return c
}

func TestDMALifecycle(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.dma.QueueInit(0, 0))

	st, err := e.dma.QueueState(0, 0)
	require.NoError(t, err)
	require.Equal(t, [api.NumQueueRoles]bool{true, true, true}, st.Bound)
	require.Equal(t, 256, st.FreeSpace)

	const size = 1 << 20
	src := e.chunk(t, size, api.LocationHost)
	dev := e.chunk(t, size, api.LocationDevice)
	dst := e.chunk(t, size, api.LocationHost)
	for i := range src.Bytes() {
		src.Bytes()[i] = byte(i)
	}

	require.NoError(t, e.dma.MemCopy(0, 0, src, dev, size))
	require.NoError(t, e.dma.MemCopy(0, 0, dev, dst, size))
	require.Equal(t, src.Bytes(), dst.Bytes())

	stats := e.dma.Stats()
	require.Equal(t, int64(2), stats[0]["transfers"])

	require.NoError(t, e.dma.QueueRelease(0, 0))
	_, err = e.dma.QueueState(0, 0)
	require.NoError(t, err)
	require.ErrorIs(t, e.dma.MemCopy(0, 0, src, dev, size), api.ErrInvalidQueue)
}

func TestDMAMemCopyBounds(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.dma.QueueInit(0, 0))

	src := e.chunk(t, 4096, api.LocationHost)
	dev := e.chunk(t, 2048, api.LocationDevice)
	err := e.dma.MemCopy(0, 0, src, dev, 4096)
	require.ErrorIs(t, err, api.ErrInvalidAddress)
}

func TestDMAMemCopyAsync(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.dma.QueueInit(0, 1))
	e.dma.Control().Set(map[string]any{control.KeyBatchBytes: int64(256 << 10)})

	const size = 1 << 20
	src := e.chunk(t, size, api.LocationHost)
	dev := e.chunk(t, size, api.LocationDevice)
	dst := e.chunk(t, size, api.LocationHost)
	for i := range src.Bytes() {
		src.Bytes()[i] = byte(i * 3)
	}

	h := engine.HandleNone
	var total uint64
	for total < size {
		var issued uint64
		var err error
		h, issued, err = e.dma.MemCopyAsync(0, 1, src, dev, size, h)
		require.NoError(t, err)
		require.Equal(t, uint64(256<<10), issued)
		total += issued
	}
	require.NoError(t, e.dma.Wait(0, 1, h))

	require.NoError(t, e.dma.MemCopy(0, 1, dev, dst, size))
	require.Equal(t, src.Bytes(), dst.Bytes())
}

func TestDMAMemset(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.dma.QueueInit(0, 0))

	dev := e.chunk(t, 12345, api.LocationDevice)
	require.NoError(t, e.dma.Memset(0, 0, dev.Addr().Addr, 0xA7, 12345))
	for i, b := range dev.(*fake.Chunk).DeviceBytes() {
		if b != 0xA7 {
			t.Fatalf("device byte %d is %#x, want 0xA7", i, b)
		}
	}
	require.NoError(t, e.dma.Memset(0, 0, dev.Addr().Addr, 0, 0))
}

func TestDMABufferCopy(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.dma.QueueInit(0, 0))

	const size = 3 * 4096
	buf, va := e.pinner.AllocUser(size)
	for i := range buf {
		buf[i] = byte(i * 7)
	}
	dev := e.chunk(t, size, api.LocationDevice)

	require.NoError(t, e.dma.BufferCopy(0, 0, va, dev.Addr().Addr, size, true))
	require.Equal(t, buf, dev.(*fake.Chunk).DeviceBytes())

	out, ova := e.pinner.AllocUser(size)
	require.NoError(t, e.dma.BufferCopy(0, 0, ova, dev.Addr().Addr, size, false))
	require.Equal(t, buf, out)
	require.Zero(t, e.pinner.Stats().PinnedNow)
}

func TestDMARawDescriptorCopy(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.dma.QueueInit(0, 0))

	const owner = int32(7)
	src, err := e.space.Allocate(4096, api.LocationHost, api.LifespanTransient, owner)
	require.NoError(t, err)
	dev := e.chunk(t, 4096, api.LocationDevice)
	for i := range src.Bytes() {
		src.Bytes()[i] = byte(200 - i)
	}
	e.table.Register(0, owner, src.Addr().Addr, src.Size())

	descs := []api.Descriptor{{
		Src:   e.hal.EncodeAddr(src.Addr(), false),
		Dst:   e.hal.EncodeAddr(dev.Addr(), false),
		Len:   4096,
		Flags: uint32(api.BarrierWrite),
	}}
	require.NoError(t, e.dma.RawDescriptorCopy(0, 0, owner, descs, 1, 0))
	require.Equal(t, src.Bytes(), dev.(*fake.Chunk).DeviceBytes())
	require.NoError(t, e.dma.QueueAck(0, 0, 1))

	// Unregistered owner is rejected before anything reaches the ring.
	err = e.dma.RawDescriptorCopy(0, 0, owner+1, descs, 1, 0)
	require.ErrorIs(t, err, api.ErrInvalidAddress)
}

func TestDMANewMissingHAL(t *testing.T) {
	_, err := facade.New(nil, facade.Deps{})
	require.ErrorIs(t, err, api.ErrHardwareInit)
}

func TestDMAConfigReload(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.dma.QueueInit(0, 0))

	e.dma.Control().Set(map[string]any{
		control.KeySpinPoll:   true,
		control.KeyBatchBytes: int64(64 << 10),
	})

	src := e.chunk(t, 128<<10, api.LocationHost)
	dev := e.chunk(t, 128<<10, api.LocationDevice)
	require.NoError(t, e.dma.MemCopy(0, 0, src, dev, 128<<10))
}
