package runtimecov

import (
	"runtime"

	"go.uber.org/atomic"
)

// earlyBuffer holds points reported before Init. Slots store point+1 so that
// zero means "reserved but not written yet". Reservations only move forward,
// so a slot is written at most once.
type earlyBuffer struct {
	slots   []atomic.Uint32
	count   atomic.Uint32
	drained atomic.Uint32
}

func newEarlyBuffer(size int) earlyBuffer {
	return earlyBuffer{slots: make([]atomic.Uint32, size)}
}

// record reserves the next slot. It returns false when the buffer is full.
func (b *earlyBuffer) record(point uint32) bool {
	slot := b.count.Inc() - 1
	if int(slot) >= len(b.slots) {
		return false
	}

	b.slots[slot].Store(point + 1)

	return true
}

// reserved is the number of slots handed out, capped at the buffer size.
func (b *earlyBuffer) reserved() uint32 {
	return min(b.count.Load(), uint32(len(b.slots)))
}

func (b *earlyBuffer) pending() bool {
	return b.drained.Load() < b.reserved()
}

// claim hands the caller the slots reserved since the last claim. Concurrent
// callers get disjoint ranges.
func (b *earlyBuffer) claim() (from, to uint32) {
	for {
		from = b.drained.Load()
		to = b.reserved()

		if from >= to {
			return from, from
		}

		if b.drained.CompareAndSwap(from, to) {
			return from, to
		}
	}
}

// take returns the point in slot i. A reserved slot is always written by its
// reserver, so take waits out the gap between reservation and store.
func (b *earlyBuffer) take(i uint32) uint32 {
	for {
		if v := b.slots[i].Load(); v != 0 {
			return v - 1
		}

		runtime.Gosched()
	}
}
