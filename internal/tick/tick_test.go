package tick

import (
	"math"
	"testing"
)

func TestAfterWraparound(t *testing.T) {
	cases := []struct {
		name string
		a, b Tick
		want bool
	}{
		{"simple newer", 5, 3, true},
		{"simple older", 3, 5, false},
		{"equal", 5, 5, false},
		{"wraps past max", 0, Tick(math.MaxUint32), true},
		{"max precedes zero", Tick(math.MaxUint32), 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := After(tc.a, tc.b); got != tc.want {
				t.Fatalf("After(%d,%d) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func TestIncWraps(t *testing.T) {
	max := Tick(math.MaxUint32)
	if got := max.Inc(); got != 0 {
		t.Fatalf("Inc() at max = %d, want 0", got)
	}
}

func TestAgo(t *testing.T) {
	if got := Ago(10, 7); got != 3 {
		t.Fatalf("Ago(10,7) = %d, want 3", got)
	}
	if got := Ago(0, Tick(math.MaxUint32)); got != 1 {
		t.Fatalf("Ago wraparound = %d, want 1", got)
	}
}

func TestAtLeast(t *testing.T) {
	if !AtLeast(5, 5) {
		t.Fatal("AtLeast(5,5) should be true")
	}
	if !AtLeast(6, 5) {
		t.Fatal("AtLeast(6,5) should be true")
	}
	if AtLeast(4, 5) {
		t.Fatal("AtLeast(4,5) should be false")
	}
}

func TestMax(t *testing.T) {
	if got := Max(3, 9); got != 9 {
		t.Fatalf("Max(3,9) = %d, want 9", got)
	}
	if got := Max(Tick(math.MaxUint32), 0); got != 0 {
		t.Fatalf("Max wraparound = %d, want 0", got)
	}
}
