// Package control holds the runtime-tunable surface of hioload-dma:
// a dynamic configuration store with reload listeners (poll policy,
// batch limits) and per-engine transfer metrics over a go-metrics
// registry.
package control
