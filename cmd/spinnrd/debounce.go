package main

import (
	"time"

	"spinnrd/internal/accel"
)

// ============================================================================
// Debounce state machine
// ============================================================================
//
// States:
//   - Idle: nothing observed yet
//   - Pending(r, since): r observed continuously since `since`, not reported
//   - Committed(r): r is the reported rotation
//
// A pending candidate and a commitment coexist: after a commit the candidate
// stays equal to the committed rotation until a different one is observed.
// "No orientation" ticks change nothing, including the pending timer.
//
// ============================================================================

// debouncer is intended to be called only by the poll loop goroutine
// (single-owner); it is not safe for concurrent use.
type debouncer struct {
	delay time.Duration

	pending      accel.Rotation
	hasPending   bool
	pendingSince time.Time

	committed    accel.Rotation
	hasCommitted bool
	committedAt  time.Time
}

func newDebouncer(delay time.Duration) *debouncer {
	return &debouncer{delay: delay}
}

// observe feeds one classifier result. It returns (r, true) exactly when r
// becomes the newly committed rotation and must be reported.
//
// The commitment is recorded before the caller attempts delivery; a failed
// send does not roll it back.
func (d *debouncer) observe(r accel.Rotation, ok bool, now time.Time) (accel.Rotation, bool) {
	if !ok {
		return 0, false
	}

	if !d.hasPending || r != d.pending {
		d.pending = r
		d.hasPending = true
		d.pendingSince = now
		return 0, false
	}

	if now.Sub(d.pendingSince) < d.delay {
		return 0, false
	}
	if d.hasCommitted && d.committed == r {
		return 0, false
	}

	d.committed = r
	d.hasCommitted = true
	d.committedAt = now
	return r, true
}

// rotationSnapshot is the externally visible debounce state.
type rotationSnapshot struct {
	Rotation    *accel.Rotation `json:"rotation"`
	CommittedAt *time.Time      `json:"committed_at,omitempty"`
	Pending     *accel.Rotation `json:"pending,omitempty"`
	Backend     string          `json:"backend,omitempty"`
}

func (d *debouncer) snapshot() rotationSnapshot {
	var s rotationSnapshot
	if d.hasCommitted {
		r, at := d.committed, d.committedAt
		s.Rotation = &r
		s.CommittedAt = &at
	}
	if d.hasPending && (!d.hasCommitted || d.pending != d.committed) {
		p := d.pending
		s.Pending = &p
	}
	return s
}
