// Package tick implements the monotonic, wraparound-safe simulation clock
// shared by the server and client halves of the replication engine.
package tick

// Tick is a 32-bit simulation tick counter. Ordering is modular: after
// wrapping past MaxUint32, comparisons remain correct within a 2^31 window,
// mirroring the upstream RepliconTick's wrapping arithmetic.
type Tick uint32

// Inc returns the tick following t, wrapping from MaxUint32 back to zero.
func (t Tick) Inc() Tick {
	return t + 1
}

// Diff returns a-b interpreted as a signed 32-bit distance, so that
// wraparound after 2^31 ticks still orders correctly.
func Diff(a, b Tick) int32 {
	return int32(a - b)
}

// After reports whether a is strictly newer than b under modular ordering.
func After(a, b Tick) bool {
	return Diff(a, b) > 0
}

// Before reports whether a is strictly older than b under modular ordering.
func Before(a, b Tick) bool {
	return Diff(a, b) < 0
}

// AtLeast reports whether a is newer than or equal to b.
func AtLeast(a, b Tick) bool {
	return Diff(a, b) >= 0
}

// Ago returns the unsigned number of ticks that old precedes new, computed
// modulo 2^32 (it wraps rather than saturates). Used by the confirmed-tick history to derive
// shift amounts; see internal/history.
func Ago(new, old Tick) uint32 {
	return uint32(new - old)
}

// Max returns the newer of a and b under modular ordering.
func Max(a, b Tick) Tick {
	if After(a, b) {
		return a
	}
	return b
}
