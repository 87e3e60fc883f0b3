// File: engine/context_test.go

package engine_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-dma/api"
	"github.com/momentics/hioload-dma/engine"
)

func TestNextHandleRotation(t *testing.T) {
	cases := []struct {
		prev, next engine.Handle
	}{
		{engine.HandleNone, engine.HandleAsync1},
		{engine.HandleAsync1, engine.HandleAsync2},
		{engine.HandleAsync2, engine.HandleAsync1},
		{engine.HandleSync, engine.HandleSync},
	}
	for _, c := range cases {
		got, err := engine.NextHandle(c.prev)
		require.NoError(t, err)
		require.Equal(t, c.next, got, "rotation from %s", c.prev)
	}

	_, err := engine.NextHandle(engine.Handle(9))
	require.ErrorIs(t, err, api.ErrInvalidState)
}

func TestHandleString(t *testing.T) {
	require.Equal(t, "none", engine.HandleNone.String())
	require.Equal(t, "sync", engine.HandleSync.String())
	require.Equal(t, "async1", engine.HandleAsync1.String())
	require.Equal(t, "async2", engine.HandleAsync2.String())
	require.Equal(t, "invalid", engine.Handle(77).String())
}
