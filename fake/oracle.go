// File: fake/oracle.go
//
// Scriptable reset-window oracle.

package fake

import (
	"sync"
	"time"
)

// Oracle is a fake api.ResetOracle. By default nothing is ever inside
// a disruption window; tests script it with SetInWindow or TrueFor.
type Oracle struct {
	mu       sync.Mutex
	inWindow bool
	trueFor  int
	calls    int
	sinces   []time.Time
}

// NewOracle returns an oracle that always answers false.
func NewOracle() *Oracle { return &Oracle{} }

// SetInWindow pins the answer.
func (o *Oracle) SetInWindow(v bool) {
	o.mu.Lock()
	o.inWindow = v
	o.mu.Unlock()
}

// TrueFor makes the next n queries answer true, then fall back to
// the pinned answer.
func (o *Oracle) TrueFor(n int) {
	o.mu.Lock()
	o.trueFor = n
	o.mu.Unlock()
}

// Calls returns how many times the oracle was consulted.
func (o *Oracle) Calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

// Sinces returns the since argument of each query, in order.
func (o *Oracle) Sinces() []time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]time.Time, len(o.sinces))
	copy(out, o.sinces)
	return out
}

// InDisruptionWindow implements api.ResetOracle.
func (o *Oracle) InDisruptionWindow(since time.Time) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	o.sinces = append(o.sinces, since)
	if o.trueFor > 0 {
		o.trueFor--
		return true
	}
	return o.inWindow
}
