package registry

import "testing"

func TestConnectedClientsAddPreservesOrder(t *testing.T) {
	c := NewConnectedClients()
	c.Add("a", true)
	c.Add("b", true)
	c.Add("c", true)
	if got := c.IDs(); len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("IDs() = %v, want [a b c]", got)
	}
	if c.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", c.Len())
	}
}

func TestConnectedClientsPendingUntilArmed(t *testing.T) {
	c := NewConnectedClients()
	c.Add("a", false)
	if c.IsArmed("a") {
		t.Fatal("expected a to be pending, not armed")
	}
	c.Arm("a")
	if !c.IsArmed("a") {
		t.Fatal("expected a to be armed after Arm")
	}
}

func TestConnectedClientsArmUnknownIsNoop(t *testing.T) {
	c := NewConnectedClients()
	c.Arm("missing")
	if c.IsArmed("missing") {
		t.Fatal("expected Arm on an unknown id to be a no-op")
	}
}

func TestConnectedClientsRemove(t *testing.T) {
	c := NewConnectedClients()
	c.Add("a", true)
	c.Add("b", true)
	c.Remove("a")
	if c.IsArmed("a") {
		t.Fatal("expected removed client to report unarmed")
	}
	if got := c.IDs(); len(got) != 1 || got[0] != "b" {
		t.Fatalf("IDs() = %v, want [b]", got)
	}
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
}

func TestConnectedClientsRemoveUnknownIsNoop(t *testing.T) {
	c := NewConnectedClients()
	c.Add("a", true)
	c.Remove("missing")
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 after removing an unknown id", c.Len())
	}
}

func TestConnectedClientsReAddUpdatesArmedStateInPlace(t *testing.T) {
	c := NewConnectedClients()
	c.Add("a", false)
	c.Add("b", true)
	c.Add("a", true)
	if !c.IsArmed("a") {
		t.Fatal("expected re-Add to update armed state")
	}
	if got := c.IDs(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("IDs() = %v, want [a b], re-Add must not disturb order", got)
	}
}
