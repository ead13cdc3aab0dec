// Package slots guards the capacity invariant of a yard:
// 0 <= OccupiedSlots <= TotalSlots.
//
// The ledger functions are pure state transitions over a model.Yard and
// perform no I/O. Callers must apply them while holding the yard's lock from
// Locker and persist the result inside a single store transaction.
package slots

import "github.com/kilianp07/yardfleet/core/model"

// HasAvailableSlot reports whether the yard has at least one free slot.
func HasAvailableSlot(y *model.Yard) bool {
	return y.OccupiedSlots < y.TotalSlots
}

// Acquire takes one slot. It returns false and leaves the yard unchanged when
// the yard is full.
func Acquire(y *model.Yard) bool {
	if !HasAvailableSlot(y) {
		return false
	}
	y.OccupiedSlots++
	return true
}

// Release frees one slot. Releasing an empty yard is a no-op and returns
// false so callers can report the bookkeeping anomaly.
func Release(y *model.Yard) bool {
	if y.OccupiedSlots <= 0 {
		return false
	}
	y.OccupiedSlots--
	return true
}
