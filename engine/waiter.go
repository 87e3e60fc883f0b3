// File: engine/waiter.go
// Package engine
//
// Busy-poll completion detection. There is no completion interrupt on
// this hardware; the waiter sleeps an architecture-derived first
// interval, then polls the marker word at poll-interval granularity
// until it reads the magic or the poll budget runs out. Polling
// occupies the calling thread; that is a deliberate latency-over-
// fairness choice, bounded by the budget.

package engine

import (
	"runtime"
	"time"

	"github.com/pkg/errors"

	"github.com/momentics/hioload-dma/api"
)

// waitParams parameterize one completion wait.
type waitParams struct {
	count int  // descriptors expected to complete
	async bool // wait issued after the fact, not inline
	intra bool // device-to-device transfer
}

// waitCompletion polls m until the batch's final descriptor lands,
// then resets the marker and acknowledges count descriptors to the
// ring so its free-space accounting advances. Exhausting the poll
// budget returns ErrTimeout. Retry is the caller's decision, not
// ours.
func (e *Engine) waitCompletion(dq api.DescriptorQueue, m *marker, p waitParams) error {
	first := e.hal.FirstDelay(p.count, p.async, p.intra)
	budget := e.hal.PollBudget(p.count, p.async, p.intra)
	interval := e.hal.PollInterval()
	if interval <= 0 {
		interval = time.Microsecond
	}
	if first > 0 {
		time.Sleep(first)
	}

	for spent := time.Duration(0); ; spent += interval {
		if m.fired() {
			m.reset()
			if err := dq.Ack(p.count); err != nil {
				return errors.Wrapf(err, "engine %d: ack %d descriptors", e.id, p.count)
			}
			return nil
		}
		if spent >= budget {
			e.metrics.Timeouts.Inc(1)
			return errors.Wrapf(api.ErrTimeout,
				"engine %d: %d descriptors not complete after %v", e.id, p.count, first+budget)
		}
		e.pollPause(interval)
	}
}

// pollPause burns or sleeps one poll interval depending on the
// configured policy. Spinning keeps wakeup latency at the interval
// itself; sleeping at microsecond granularity is at the mercy of the
// scheduler.
func (e *Engine) pollPause(interval time.Duration) {
	if !e.pollSpin.Load() {
		time.Sleep(interval)
		return
	}
	deadline := time.Now().Add(interval)
	for time.Now().Before(deadline) {
		runtime.Gosched()
	}
}
