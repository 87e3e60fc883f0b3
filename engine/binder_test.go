// File: engine/binder_test.go

package engine_test

import (
	"fmt"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-dma/api"
	"github.com/momentics/hioload-dma/engine"
	"github.com/momentics/hioload-dma/fake"
)

func TestDescCapacity(t *testing.T) {
	cases := map[int]int{
		0:    64,
		1:    64,
		64:   64,
		65:   128,
		256:  256,
		1000: 1024,
	}
	for requested, want := range cases {
		require.Equal(t, want, engine.DescCapacity(requested), "requested %d", requested)
	}
}

func TestBindQueueState(t *testing.T) {
	r := newRig(t, nil)
	e, err := r.reg.Acquire(0)
	require.NoError(t, err)
	defer r.reg.Release(e)

	require.NoError(t, e.BindQueue(2, engine.BindSpec{
		Tx:         r.chunk(t, 4096, api.LocationHost),
		Rx:         r.chunk(t, 4096, api.LocationHost),
		Completion: r.chunk(t, 4096, api.LocationHost),
		TxDescs:    100,
		RxDescs:    300,
	}))

	st, err := e.State(2)
	require.NoError(t, err)
	require.Equal(t, [api.NumQueueRoles]bool{true, true, true}, st.Bound)
	require.Equal(t, 128, st.DescCount[api.RoleTx])
	require.Equal(t, 512, st.DescCount[api.RoleRx])
	// The completion ring is sized to the tx descriptor count.
	require.Equal(t, 128, st.DescCount[api.RoleCompletion])
	require.Equal(t, 128, st.FreeSpace)

	require.NoError(t, e.ReleaseQueue(2))
	st, err = e.State(2)
	require.NoError(t, err)
	require.Equal(t, [api.NumQueueRoles]bool{}, st.Bound)
	require.Zero(t, st.FreeSpace)

	require.ErrorIs(t, e.BindQueue(99, engine.BindSpec{}), api.ErrInvalidQueue)
	require.ErrorIs(t, e.ReleaseQueue(-1), api.ErrInvalidQueue)
	_, err = e.State(42)
	require.ErrorIs(t, err, api.ErrInvalidQueue)
}

// failRxBackend rejects programming of the rx ring role.
type failRxBackend struct {
	api.QueueBackend
}

func (f *failRxBackend) Program(engineID, qid int, role api.QueueRole, hwAddr uint64, descCount int) error {
	if role == api.RoleRx {
		return fmt.Errorf("rx ring rejected")
	}
	return f.QueueBackend.Program(engineID, qid, role, hwAddr, descCount)
}

func TestBindQueuePartialFailure(t *testing.T) {
	hal := fake.NewHAL()
	space := fake.NewSpace()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	reg, err := engine.NewRegistry(engine.Options{
		HAL:       hal,
		Backend:   &failRxBackend{QueueBackend: fake.NewBackend(space, hal)},
		Oracle:    fake.NewOracle(),
		Allocator: space,
		Owner:     1,
		Logger:    logger,
	})
	require.NoError(t, err)
	defer reg.Close()

	e, err := reg.Acquire(0)
	require.NoError(t, err)
	defer reg.Release(e)

	tx, _ := space.Allocate(4096, api.LocationHost, api.LifespanTransient, 1)
	rx, _ := space.Allocate(4096, api.LocationHost, api.LifespanTransient, 1)
	err = e.BindQueue(0, engine.BindSpec{Tx: tx, Rx: rx, TxDescs: 64, RxDescs: 64})
	require.Error(t, err)
	require.Contains(t, err.Error(), "rx ring")

	// Roles bound before the failure stay bound; release tolerates it.
	st, serr := e.State(0)
	require.NoError(t, serr)
	require.True(t, st.Bound[api.RoleTx])
	require.False(t, st.Bound[api.RoleRx])
	require.NoError(t, e.ReleaseQueue(0))
}
