package registry

import (
	"testing"

	"replicore/internal/entitymap"
)

func TestRegisterAssignsSequentialIDs(t *testing.T) {
	r := New()
	a := r.Register(Entry{Name: "Position", ComponentID: 1})
	b := r.Register(Entry{Name: "Velocity", ComponentID: 2})
	if a != 0 || b != 1 {
		t.Fatalf("got FnsIDs %d,%d want 0,1", a, b)
	}
	if r.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", r.Len())
	}
}

func TestRegisterDuplicateComponentPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	r := New()
	r.Register(Entry{Name: "Position", ComponentID: 1})
	r.Register(Entry{Name: "Position2", ComponentID: 1})
}

func TestGetUnknownFnsID(t *testing.T) {
	r := New()
	r.Register(Entry{ComponentID: 1})
	if _, ok := r.Get(5); ok {
		t.Fatal("expected unknown FnsID to miss")
	}
}

func TestFnsIDFor(t *testing.T) {
	r := New()
	id := r.Register(Entry{ComponentID: 42})
	got, ok := r.FnsIDFor(42)
	if !ok || got != id {
		t.Fatalf("FnsIDFor = %d,%v want %d,true", got, ok, id)
	}
}

func TestDespawnFnDefaultsToNoOp(t *testing.T) {
	r := New()
	fn := r.DespawnFn()
	if err := fn(DespawnCtx{}, nil, entitymap.ClientEntity{}); err != nil {
		t.Fatalf("default despawn fn returned error: %v", err)
	}
}

func TestDespawnFnInvokesInstalledHook(t *testing.T) {
	r := New()
	called := false
	r.SetDespawnFn(func(DespawnCtx, World, entitymap.ClientEntity) error {
		called = true
		return nil
	})
	_ = r.DespawnFn()(DespawnCtx{}, nil, entitymap.ClientEntity{})
	if !called {
		t.Fatal("installed despawn hook was not invoked")
	}
}

func TestRulesIteratePriorityOrder(t *testing.T) {
	rules := NewRules()
	var order []int
	rules.Add(Rule{Matches: func(func(ComponentID) bool) bool { order = append(order, 1); return true }})
	rules.Add(Rule{Matches: func(func(ComponentID) bool) bool { order = append(order, 2); return true }})

	rules.Iterate(func(r Rule) bool {
		r.Matches(func(ComponentID) bool { return false })
		return true
	})
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("unexpected priority order: %v", order)
	}
}

func TestRulesIterateStopsEarly(t *testing.T) {
	rules := NewRules()
	calls := 0
	rules.Add(Rule{Matches: func(func(ComponentID) bool) bool { return true }})
	rules.Add(Rule{Matches: func(func(ComponentID) bool) bool { return true }})
	rules.Iterate(func(r Rule) bool {
		calls++
		return false
	})
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}
