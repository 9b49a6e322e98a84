// Package mutatebuf implements the client-side buffer of pending mutate
// messages, ordered so drain passes apply the newest tick for each entity
// first (spec §4.10).
package mutatebuf

import (
	"sort"

	"replicore/internal/tick"
)

// Entry is one buffered mutate message awaiting its precondition update
// tick.
type Entry struct {
	UpdateTick    tick.Tick
	MessageTick   tick.Tick
	MessagesCount uint32
	Payload       []byte
}

// Buffer holds pending entries sorted by MessageTick descending.
type Buffer struct {
	entries []Entry
}

// New constructs an empty mutate buffer.
func New() *Buffer {
	return &Buffer{}
}

// Insert adds e to the buffer, maintaining MessageTick-descending order via
// binary search for the insertion point (spec §4.10).
func (b *Buffer) Insert(e Entry) {
	i := sort.Search(len(b.entries), func(i int) bool {
		return !tick.After(b.entries[i].MessageTick, e.MessageTick)
	})
	b.entries = append(b.entries, Entry{})
	copy(b.entries[i+1:], b.entries[i:])
	b.entries[i] = e
}

// Len reports how many entries are currently buffered.
func (b *Buffer) Len() int {
	return len(b.entries)
}

// Drain applies every entry whose UpdateTick has been observed
// (UpdateTick ≤ currentServerUpdateTick), in MessageTick-descending order,
// removing them from the buffer. Remaining entries are retained for future
// passes (spec §4.10, §4.11).
func (b *Buffer) Drain(currentServerUpdateTick tick.Tick, apply func(Entry)) {
	remaining := b.entries[:0:0]
	for _, e := range b.entries {
		if tick.AtLeast(currentServerUpdateTick, e.UpdateTick) {
			apply(e)
		} else {
			remaining = append(remaining, e)
		}
	}
	b.entries = remaining
}

// Reset discards every buffered entry, used when a connection resets
// (spec §5).
func (b *Buffer) Reset() {
	b.entries = b.entries[:0]
}
