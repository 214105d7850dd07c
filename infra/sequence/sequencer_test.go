package sequence

import "testing"

func TestSequencer(t *testing.T) {
	s := New(0)
	if got := s.Next(); got != 1 {
		t.Fatalf("first id = %d", got)
	}
	if got := s.Next(); got != 2 {
		t.Fatalf("second id = %d", got)
	}
	if got := s.Current(); got != 2 {
		t.Fatalf("current = %d", got)
	}
}

func TestObserve(t *testing.T) {
	s := New(0)
	s.Observe(41)
	if got := s.Next(); got != 42 {
		t.Fatalf("after observe, next = %d", got)
	}
	// Observing a lower value never regresses.
	s.Observe(5)
	if got := s.Next(); got != 43 {
		t.Fatalf("regressed: %d", got)
	}
}
