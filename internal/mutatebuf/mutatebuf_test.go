package mutatebuf

import "testing"

func TestInsertMaintainsDescendingOrder(t *testing.T) {
	b := New()
	b.Insert(Entry{MessageTick: 5})
	b.Insert(Entry{MessageTick: 10})
	b.Insert(Entry{MessageTick: 7})

	if b.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", b.Len())
	}
	var ticks []int
	b.Drain(100, func(e Entry) { ticks = append(ticks, int(e.MessageTick)) })
	want := []int{10, 7, 5}
	for i, w := range want {
		if ticks[i] != w {
			t.Fatalf("apply order = %v, want %v", ticks, want)
		}
	}
}

func TestDrainRetainsEntriesBelowUpdateTick(t *testing.T) {
	b := New()
	b.Insert(Entry{UpdateTick: 100, MessageTick: 100})
	b.Insert(Entry{UpdateTick: 50, MessageTick: 50})

	var applied []int
	b.Drain(60, func(e Entry) { applied = append(applied, int(e.MessageTick)) })

	if len(applied) != 1 || applied[0] != 50 {
		t.Fatalf("expected only the update_tick<=60 entry to apply, got %v", applied)
	}
	if b.Len() != 1 {
		t.Fatalf("expected 1 entry retained, got %d", b.Len())
	}
}

func TestDrainAppliesNewestFirstWithinPass(t *testing.T) {
	b := New()
	b.Insert(Entry{UpdateTick: 0, MessageTick: 101})
	b.Insert(Entry{UpdateTick: 0, MessageTick: 100})

	var order []int
	b.Drain(200, func(e Entry) { order = append(order, int(e.MessageTick)) })
	if len(order) != 2 || order[0] != 101 || order[1] != 100 {
		t.Fatalf("expected descending application order, got %v", order)
	}
}

func TestReset(t *testing.T) {
	b := New()
	b.Insert(Entry{MessageTick: 1})
	b.Reset()
	if b.Len() != 0 {
		t.Fatalf("expected empty buffer after Reset, got %d", b.Len())
	}
}
