// control/metrics_test.go

package control_test

import (
	"testing"

	gometrics "github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-dma/control"
)

func TestEngineMetricsSnapshot(t *testing.T) {
	reg := gometrics.NewRegistry()
	m := control.NewEngineMetrics(reg, 2)

	m.Transfers.Inc(3)
	m.Bytes.Inc(4096)
	m.Descriptors.Inc(9)
	m.Retries.Inc(1)

	snap := m.Snapshot()
	require.Equal(t, int64(3), snap["transfers"])
	require.Equal(t, int64(4096), snap["bytes"])
	require.Equal(t, int64(9), snap["descriptors"])
	require.Equal(t, int64(1), snap["retries"])
	require.Equal(t, int64(0), snap["timeouts"])

	// Same registry and engine id resolve to the same counters.
	again := control.NewEngineMetrics(reg, 2)
	require.Equal(t, int64(3), again.Transfers.Count())

	// Different engine ids stay independent.
	other := control.NewEngineMetrics(reg, 3)
	require.Zero(t, other.Transfers.Count())
}
