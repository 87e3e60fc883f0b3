// File: engine/binder.go
// Package engine
//
// Ring binding: attaches caller-supplied memory chunks to a queue's
// tx/rx/completion ring roles and programs the hardware-visible
// addresses into the ring primitive.

package engine

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-dma/api"
)

// minDescCount is the floor on a ring's descriptor capacity.
const minDescCount = 64

// BindSpec names the chunks and descriptor counts for one queue. Nil
// chunks leave the corresponding role untouched.
type BindSpec struct {
	Tx         api.MemChunk
	Rx         api.MemChunk
	Completion api.MemChunk

	// Port selects the secondary access path for device-resident
	// chunks.
	Port bool

	TxDescs int
	RxDescs int
}

// DescCapacity rounds a requested descriptor count up to the ring's
// actual capacity: the next power of two, floor 64.
func DescCapacity(requested int) int {
	n := minDescCount
	for n < requested {
		n <<= 1
	}
	return n
}

// BindQueue binds the supplied chunks to queue qid's ring roles and
// programs the ring primitive. The caller must hold the engine via
// Registry.Acquire.
//
// Binding is not transactional: if a role fails mid-way, roles bound
// before it stay bound, and the error names the role that failed.
// ReleaseQueue tolerates the partial state.
func (e *Engine) BindQueue(qid int, spec BindSpec) error {
	if qid < 0 || qid >= len(e.queues) {
		return errors.Wrapf(api.ErrInvalidQueue, "queue %d of %d on engine %d", qid, len(e.queues), e.id)
	}
	q := &e.queues[qid]

	roles := [api.NumQueueRoles]struct {
		chunk api.MemChunk
		count int
	}{
		api.RoleTx:         {spec.Tx, DescCapacity(spec.TxDescs)},
		api.RoleRx:         {spec.Rx, DescCapacity(spec.RxDescs)},
		api.RoleCompletion: {spec.Completion, DescCapacity(spec.TxDescs)},
	}

	for role := api.QueueRole(0); role < api.NumQueueRoles; role++ {
		chunk := roles[role].chunk
		if chunk == nil {
			continue
		}
		hwAddr := e.hal.EncodeAddr(chunk.Addr(), spec.Port)
		count := roles[role].count
		if err := e.backend.Program(e.id, qid, role, hwAddr, count); err != nil {
			return errors.Wrapf(err, "engine %d queue %d: program %s ring", e.id, qid, role)
		}
		q.rings[role] = ringBinding{
			chunk:     chunk,
			hwAddr:    hwAddr,
			descCount: count,
			bound:     true,
		}
		e.log.WithFields(logrus.Fields{
			"queue": qid,
			"role":  role.String(),
			"descs": count,
		}).Debug("ring bound")
	}

	dq, err := e.backend.Queue(e.id, qid)
	if err != nil {
		return errors.Wrapf(err, "engine %d queue %d: queue handle", e.id, qid)
	}
	q.dq = dq
	return nil
}

// ReleaseQueue drops the software bindings of qid. The chunks remain
// owned by the caller. Partially bound queues release cleanly.
func (e *Engine) ReleaseQueue(qid int) error {
	if qid < 0 || qid >= len(e.queues) {
		return errors.Wrapf(api.ErrInvalidQueue, "queue %d of %d on engine %d", qid, len(e.queues), e.id)
	}
	q := &e.queues[qid]
	q.rings = [api.NumQueueRoles]ringBinding{}
	q.dq = nil
	return nil
}

// QueueState describes a queue's bindings and free space.
type QueueState struct {
	Bound     [api.NumQueueRoles]bool
	DescCount [api.NumQueueRoles]int
	FreeSpace int
}

// State reports the current binding and free-space state of qid.
func (e *Engine) State(qid int) (QueueState, error) {
	if qid < 0 || qid >= len(e.queues) {
		return QueueState{}, errors.Wrapf(api.ErrInvalidQueue, "queue %d of %d on engine %d", qid, len(e.queues), e.id)
	}
	q := &e.queues[qid]
	var s QueueState
	for role := api.QueueRole(0); role < api.NumQueueRoles; role++ {
		s.Bound[role] = q.rings[role].bound
		s.DescCount[role] = q.rings[role].descCount
	}
	if q.dq != nil {
		s.FreeSpace = q.dq.FreeSpace()
	}
	return s, nil
}

// boundQueue returns the descriptor-queue handle of qid, failing if
// the queue was never bound.
func (e *Engine) boundQueue(qid int) (*queue, error) {
	if qid < 0 || qid >= len(e.queues) {
		return nil, errors.Wrapf(api.ErrInvalidQueue, "queue %d of %d on engine %d", qid, len(e.queues), e.id)
	}
	q := &e.queues[qid]
	if q.dq == nil {
		return nil, errors.Wrapf(api.ErrInvalidQueue, "engine %d queue %d is not bound", e.id, qid)
	}
	return q, nil
}

// reinitQueue restores a queue after a device reset: hardware state
// through the ring primitive, then the software bindings are
// reprogrammed. Runs on the retry path with both locks held.
func (e *Engine) reinitQueue(qid int) error {
	q := &e.queues[qid]
	if err := e.backend.Reinit(e.id, qid); err != nil {
		return errors.Wrapf(api.ErrHardwareInit, "engine %d queue %d: reinit: %v", e.id, qid, err)
	}
	for role := api.QueueRole(0); role < api.NumQueueRoles; role++ {
		b := q.rings[role]
		if !b.bound {
			continue
		}
		if err := e.backend.Program(e.id, qid, role, b.hwAddr, b.descCount); err != nil {
			return errors.Wrapf(api.ErrHardwareInit, "engine %d queue %d: reprogram %s ring: %v", e.id, qid, role, err)
		}
	}
	dq, err := e.backend.Queue(e.id, qid)
	if err != nil {
		return errors.Wrapf(api.ErrHardwareInit, "engine %d queue %d: queue handle: %v", e.id, qid, err)
	}
	q.dq = dq
	return nil
}
