package speedometer

import (
	"testing"
	"time"
)

func TestSpeedComputesRate(t *testing.T) {
	s := New(time.Second)
	s.Event(100)
	s.Event(100)

	got := s.Speed()
	if got != 200.0 {
		t.Fatalf("Speed() = %v, want 200", got)
	}
}

func TestSpeedTrimsOldEvents(t *testing.T) {
	s := New(20 * time.Millisecond)
	s.Event(100)

	time.Sleep(40 * time.Millisecond)

	if got := s.Speed(); got != 0 {
		t.Fatalf("Speed() = %v, want 0 after window elapsed", got)
	}
}

func TestSpeedCaching(t *testing.T) {
	s := NewCached(time.Second, 50*time.Millisecond)
	s.Event(10)

	first := s.Speed()
	s.Event(1000) // should not be reflected while cache is fresh

	second := s.Speed()
	if first != second {
		t.Fatalf("cached Speed() changed: %v -> %v", first, second)
	}

	time.Sleep(60 * time.Millisecond)
	third := s.Speed()
	if third == second {
		t.Fatalf("expected Speed() to recompute after cache TTL elapsed")
	}
}

func TestReset(t *testing.T) {
	s := New(time.Second)
	s.Event(500)
	s.Reset()

	if got := s.Speed(); got != 0 {
		t.Fatalf("Speed() after Reset() = %v, want 0", got)
	}
}
