// control/config.go
//
// Thread-safe configuration store with dynamic update and reload
// propagation. The facade registers listeners that push poll-policy
// and batch-limit changes into live engines.

package control

import (
	"sync"
	"time"
)

// Well-known configuration keys.
const (
	KeySpinPoll   = "dma.poll.spin"   // bool: spin instead of sleeping between polls
	KeyBatchBytes = "dma.batch.bytes" // int64: max bytes per descriptor batch
)

// ConfigStore is a dynamic key/value map with atomic snapshot and
// listener support.
type ConfigStore struct {
	mu        sync.RWMutex
	config    map[string]any
	listeners []func()
}

// NewConfigStore initializes a config store with the given defaults.
func NewConfigStore(defaults map[string]any) *ConfigStore {
	cfg := make(map[string]any, len(defaults))
	for k, v := range defaults {
		cfg[k] = v
	}
	return &ConfigStore{config: cfg}
}

// Snapshot returns a copy of all config values.
func (cs *ConfigStore) Snapshot() map[string]any {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	out := make(map[string]any, len(cs.config))
	for k, v := range cs.config {
		out[k] = v
	}
	return out
}

// Set merges new values and dispatches reload listeners.
func (cs *ConfigStore) Set(newCfg map[string]any) {
	cs.mu.Lock()
	for k, v := range newCfg {
		cs.config[k] = v
	}
	listeners := make([]func(), len(cs.listeners))
	copy(listeners, cs.listeners)
	cs.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

// OnReload registers a listener hook called after config changes.
func (cs *ConfigStore) OnReload(fn func()) {
	cs.mu.Lock()
	cs.listeners = append(cs.listeners, fn)
	cs.mu.Unlock()
}

// Bool reads a boolean key, returning def when absent or mistyped.
func (cs *ConfigStore) Bool(key string, def bool) bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	if v, ok := cs.config[key].(bool); ok {
		return v
	}
	return def
}

// Int64 reads an integer key, returning def when absent or mistyped.
func (cs *ConfigStore) Int64(key string, def int64) int64 {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	switch v := cs.config[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	}
	return def
}

// Duration reads a duration key, returning def when absent or mistyped.
func (cs *ConfigStore) Duration(key string, def time.Duration) time.Duration {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	switch v := cs.config[key].(type) {
	case time.Duration:
		return v
	case int64:
		return time.Duration(v)
	}
	return def
}
