// control/metrics.go
//
// Per-engine transfer metrics. Counters live in a go-metrics registry
// so embedders can bridge them to whatever sink they already run.

package control

import (
	"fmt"

	gometrics "github.com/rcrowley/go-metrics"
)

// EngineMetrics aggregates the counters one DMA engine maintains.
type EngineMetrics struct {
	Transfers   gometrics.Counter
	Bytes       gometrics.Counter
	Descriptors gometrics.Counter
	Retries     gometrics.Counter
	Timeouts    gometrics.Counter
	Transfer    gometrics.Timer
}

// NewEngineMetrics registers (or reuses) the engine's counters in r.
// A nil registry falls back to the go-metrics default registry.
func NewEngineMetrics(r gometrics.Registry, engineID int) *EngineMetrics {
	if r == nil {
		r = gometrics.DefaultRegistry
	}
	prefix := fmt.Sprintf("dma.engine.%d.", engineID)
	return &EngineMetrics{
		Transfers:   gometrics.GetOrRegisterCounter(prefix+"transfers", r),
		Bytes:       gometrics.GetOrRegisterCounter(prefix+"bytes", r),
		Descriptors: gometrics.GetOrRegisterCounter(prefix+"descriptors", r),
		Retries:     gometrics.GetOrRegisterCounter(prefix+"retries", r),
		Timeouts:    gometrics.GetOrRegisterCounter(prefix+"timeouts", r),
		Transfer:    gometrics.GetOrRegisterTimer(prefix+"transfer", r),
	}
}

// Snapshot returns the current counter values keyed by short name.
func (m *EngineMetrics) Snapshot() map[string]int64 {
	return map[string]int64{
		"transfers":   m.Transfers.Count(),
		"bytes":       m.Bytes.Count(),
		"descriptors": m.Descriptors.Count(),
		"retries":     m.Retries.Count(),
		"timeouts":    m.Timeouts.Count(),
	}
}
