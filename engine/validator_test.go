// File: engine/validator_test.go

package engine_test

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-dma/api"
	"github.com/momentics/hioload-dma/engine"
	"github.com/momentics/hioload-dma/fake"
)

func newValidator(t *testing.T) (*engine.Validator, *fake.HAL, *fake.Table) {
	t.Helper()
	hal := fake.NewHAL()
	table := fake.NewTable(0, 1, 2, 5)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return engine.NewValidator(hal, table, logger), hal, table
}

func hostDesc(hal *fake.HAL, src, dst uint64) api.Descriptor {
	return api.Descriptor{
		Src: hal.EncodeAddr(api.TaggedAddr{Loc: api.LocationHost, Addr: src}, false),
		Dst: hal.EncodeAddr(api.TaggedAddr{Loc: api.LocationDevice, Addr: dst}, false),
		Len: 4096,
	}
}

func TestValidatorOwnedChunk(t *testing.T) {
	v, hal, table := newValidator(t)
	table.Register(1, 7, 0x10_0000, 0x1000)

	descs := []api.Descriptor{hostDesc(hal, 0x10_0800, 0x4000_0000)}
	require.NoError(t, v.ValidateDescriptors(1, 7, descs))

	// Adjacent device resolution: the chunk lives on device 1 but the
	// descriptor is checked against device 0 and 2.
	require.NoError(t, v.ValidateDescriptors(0, 7, descs))
	require.NoError(t, v.ValidateDescriptors(2, 7, descs))

	// Any-device fallback from a non-adjacent device.
	require.NoError(t, v.ValidateDescriptors(5, 7, descs))
}

func TestValidatorRejectsUnowned(t *testing.T) {
	v, hal, table := newValidator(t)
	table.Register(1, 7, 0x10_0000, 0x1000)

	// Wrong owner.
	err := v.ValidateDescriptors(1, 8, []api.Descriptor{hostDesc(hal, 0x10_0800, 0)})
	require.ErrorIs(t, err, api.ErrInvalidAddress)
	require.Equal(t, api.CodeInvalidAddress, api.Code(err))

	// Out of range.
	err = v.ValidateDescriptors(1, 7, []api.Descriptor{hostDesc(hal, 0x11_0000, 0)})
	require.ErrorIs(t, err, api.ErrInvalidAddress)

	// Host destination addresses are checked too.
	bad := api.Descriptor{
		Src: hal.EncodeAddr(api.TaggedAddr{Loc: api.LocationDevice, Addr: 0x4000_0000}, false),
		Dst: hal.EncodeAddr(api.TaggedAddr{Loc: api.LocationHost, Addr: 0x7000_0000}, false),
		Len: 64,
	}
	err = v.ValidateDescriptors(1, 7, []api.Descriptor{bad})
	require.ErrorIs(t, err, api.ErrInvalidAddress)
}

func TestValidatorSkipsDeviceAddresses(t *testing.T) {
	v, hal, _ := newValidator(t)

	// Device-to-device descriptors carry no host addresses and pass
	// without any table entry.
	d := api.Descriptor{
		Src: hal.EncodeAddr(api.TaggedAddr{Loc: api.LocationDevice, Addr: 0x4000_0000}, false),
		Dst: hal.EncodeAddr(api.TaggedAddr{Loc: api.LocationDevice, Addr: 0x4100_0000}, true),
		Len: 512,
	}
	require.NoError(t, v.ValidateDescriptors(0, 0, []api.Descriptor{d}))
}
