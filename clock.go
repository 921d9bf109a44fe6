// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dbft

import (
	"sync"
	"time"
)

// SystemClock is the production Clock backed by wall-clock time.
type SystemClock struct{}

func (SystemClock) Now() uint64 {
	return uint64(time.Now().UnixMilli())
}

// Timer is the single-shot deadline timer described in §4.1: at most one
// deadline is ever pending, and once it passes Expired keeps reporting
// true until the timer is rearmed or cancelled; the caller's event loop
// decides when to call OnTimeout. It is driven by an external clock rather than a
// goroutine-per-deadline scheme, matching the single-threaded actor
// discipline of the rest of the core: nothing here spawns a goroutine or
// blocks; callers poll or drive Advance from their own event loop.
type Timer struct {
	mu       sync.Mutex
	clock    Clock
	deadline uint64
	armed    bool
	height   uint32
	view     uint8
}

// NewTimer builds a Timer over the given clock. The teacher's monitor.go
// used a single future task advanced by an explicit clock tick; this
// keeps that shape but drops the goroutine and channel plumbing since the
// consensus core never blocks waiting on a timer.
func NewTimer(clock Clock) *Timer {
	return &Timer{clock: clock}
}

// ChangeTimer unconditionally rearms the deadline to now+d for the given
// round, per §4.1: used whenever the round advances to a new (height,
// view) or a phase transition resets the expected wait.
func (t *Timer) ChangeTimer(height uint32, view uint8, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.height = height
	t.view = view
	t.armed = true
	t.deadline = t.clock.Now() + uint64(d.Milliseconds())
}

// ExtendTimerByFactor shifts the deadline to now + k*baseDelay, but only
// if that lands later than the current deadline: a timer extension can
// never bring a deadline closer (§5). baseDelay is the round's base
// block interval (MillisecondsPerBlock), not the time remaining on the
// current deadline — multiplying the remaining time instead would make
// the extension shrink toward nothing as the deadline is approached,
// exactly backwards from the guard's intent. Callers extend by 2 on an
// accepted PrepareRequest (either slot), PrepareResponse or PreCommit,
// and by 4 on an accepted Commit (§4.3–§4.5).
func (t *Timer) ExtendTimerByFactor(baseDelay time.Duration, k uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.armed {
		return
	}
	extended := t.clock.Now() + uint64(baseDelay.Milliseconds())*uint64(k)
	if extended > t.deadline {
		t.deadline = extended
	}
}

// Cancel disarms the timer so Expired never reports true until the next
// ChangeTimer call.
func (t *Timer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.armed = false
}

// Expired reports whether the timer is armed and its deadline has
// passed, along with the (height, view) it was armed for so the caller
// can discard a stale firing that outlived a round change.
func (t *Timer) Expired() (fired bool, height uint32, view uint8) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.armed {
		return false, 0, 0
	}
	if t.clock.Now() < t.deadline {
		return false, 0, 0
	}
	return true, t.height, t.view
}
