// File: engine/validator.go
// Package engine
//
// Raw-descriptor address validation. Caller-built descriptors are
// copied verbatim into a hardware ring, so every embedded address
// that carries the architecture's host encoding must resolve to a
// chunk the requesting process owns; otherwise a buggy or malicious
// caller could point the device at arbitrary host memory.

package engine

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-dma/api"
)

// Validator checks raw descriptor buffers against the per-device
// chunk table.
type Validator struct {
	hal   api.HAL
	table api.ChunkTable
	log   *logrus.Entry
}

// NewValidator builds a validator over the device's chunk table.
func NewValidator(hal api.HAL, table api.ChunkTable, logger *logrus.Logger) *Validator {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	return &Validator{
		hal:   hal,
		table: table,
		log:   logger.WithField("component", "validator"),
	}
}

// ValidateDescriptors inspects every embedded address of descs. A
// host-looking address must resolve to a chunk owned by owner on dev,
// an immediately adjacent device (the common sharing case, checked
// first) or, failing that, any device. Non-resolving host addresses
// fail with ErrInvalidAddress.
func (v *Validator) ValidateDescriptors(dev api.DeviceID, owner int32, descs []api.Descriptor) error {
	for i, d := range descs {
		for _, raw := range [2]uint64{d.Src, d.Dst} {
			if !v.hal.IsHostAddr(raw) {
				continue
			}
			addr := v.hal.DecodeAddr(raw).Addr
			if v.resolve(dev, owner, addr) {
				continue
			}
			v.log.WithFields(logrus.Fields{
				"device":     dev,
				"owner":      owner,
				"descriptor": i,
			}).Warn("descriptor references unowned host memory")
			return errors.Wrapf(api.ErrInvalidAddress,
				"descriptor %d: host address %#x not owned by process %d", i, raw, owner)
		}
	}
	return nil
}

// resolve checks the current device, then its immediate neighbors,
// then every remaining device.
func (v *Validator) resolve(dev api.DeviceID, owner int32, addr uint64) bool {
	if v.table.Resolve(dev, owner, addr) {
		return true
	}
	for _, adj := range [2]api.DeviceID{dev - 1, dev + 1} {
		if adj >= 0 && v.table.Resolve(adj, owner, addr) {
			return true
		}
	}
	for _, other := range v.table.Devices() {
		if other == dev || other == dev-1 || other == dev+1 {
			continue
		}
		if v.table.Resolve(other, owner, addr) {
			return true
		}
	}
	return false
}
