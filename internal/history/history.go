// Package history implements the client-side confirmed-tick history: a
// 64-bit bitmask tracking which of the last 64 ticks have been confirmed
// for a replicated entity (spec §4.9).
//
// Grounded on original_source/src/client/confirmed.rs's Confirmed type.
// Get and the "new tick" branch of Set follow that Rust implementation
// exactly (ago >= 64 always misses, matching mask >> ago being undefined
// behavior-free but meaningless past the window). Set's resize path
// diverges deliberately: Rust's wrapping_shl shifts modulo 64, which would
// resurrect stale bits when a tick jumps more than 64 ahead; spec §4.9
// instead resets the mask to zero before setting bit 0 in that case.
package history

import "replicore/internal/tick"

// History tracks confirmation state for the 64 most recent ticks relative
// to the highest tick observed so far.
type History struct {
	mask     uint64
	lastTick tick.Tick
	hasTick  bool
}

// New constructs a history confirmed at the given initial tick.
func New(initial tick.Tick) *History {
	return &History{mask: 1, lastTick: initial, hasTick: true}
}

// Get reports whether t has been confirmed. Ticks at or before last_tick-64
// are never reported confirmed, even if they once were, since the window
// has no record of them (spec §4.9, strict original-Rust semantics).
func (h *History) Get(t tick.Tick) bool {
	if h == nil || !h.hasTick {
		return false
	}
	if tick.Before(h.lastTick, t) {
		return false
	}
	ago := tick.Ago(h.lastTick, t)
	if ago >= 64 {
		return false
	}
	return h.mask>>ago&1 == 1
}

// Set records t as confirmed, advancing last_tick (and shifting the mask)
// if t is newer. Returns true if t was newer than any tick seen so far.
func (h *History) Set(t tick.Tick) bool {
	if !h.hasTick {
		h.lastTick = t
		h.hasTick = true
		h.mask = 1
		return true
	}
	isNew := tick.After(t, h.lastTick)
	if isNew {
		h.resizeTo(t)
	}
	ago := tick.Ago(h.lastTick, t)
	if ago < 64 {
		h.mask |= 1 << ago
	}
	return isNew
}

func (h *History) resizeTo(t tick.Tick) {
	diff := tick.Ago(t, h.lastTick)
	if diff >= 64 {
		h.mask = 0
	} else {
		h.mask <<= diff
	}
	h.lastTick = t
}

// LastTick returns the highest tick recorded so far.
func (h *History) LastTick() tick.Tick {
	if h == nil {
		return 0
	}
	return h.lastTick
}
