package clock

import "testing"

func TestIDGeneratorProducesValues(t *testing.T) {
	g := New()
	if g.NextSessionID() == 0 && g.NextSessionID() == 0 {
		t.Skip("random generator returned zero twice in a row; astronomically unlikely but not an error")
	}
}

func TestIDGeneratorOverridable(t *testing.T) {
	var calls int
	g := &IDGenerator{genFn: func() uint64 {
		calls++
		return uint64(calls)
	}}

	if got := g.NextSessionID(); got != 1 {
		t.Errorf("NextSessionID() = %d, want 1", got)
	}
	if got := g.NextFloodID(); got != 2 {
		t.Errorf("NextFloodID() = %d, want 2", got)
	}
}

func TestSystemSourceAdvancesWithRealTime(t *testing.T) {
	var s SystemSource
	a := s.Now()
	b := s.Now()
	if b.Before(a) {
		t.Errorf("Now() went backward: %v then %v", a, b)
	}
}
