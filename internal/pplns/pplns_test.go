package pplns

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aleo-pool/zkpool/internal/util"
)

func share(v uint64, owner string) Share {
	return Share{Value: v, Owner: util.AccountAddress(owner)}
}

func TestAddShareMaintainsInvariant(t *testing.T) {
	s := New()
	s.SetN(100)

	for i := uint64(1); i <= 10; i++ {
		s.AddShare(share(i*10, "owner"))
	}

	snap := s.Snapshot()
	var sum uint64
	for _, sh := range snap.Queue {
		sum += sh.Value
	}
	if sum != snap.CurrentN {
		t.Fatalf("CurrentN = %d, sum of queue = %d", snap.CurrentN, sum)
	}
	if snap.CurrentN > snap.N {
		t.Fatalf("CurrentN %d exceeds N %d", snap.CurrentN, snap.N)
	}
}

func TestAddShareEvictsOldest(t *testing.T) {
	s := New()
	s.SetN(15)

	s.AddShare(share(10, "a"))
	s.AddShare(share(10, "b"))

	snap := s.Snapshot()
	if snap.CurrentN != 10 {
		t.Fatalf("CurrentN = %d, want 10 (oldest share evicted)", snap.CurrentN)
	}
	if len(snap.Queue) != 1 || snap.Queue[0].Owner != "b" {
		t.Fatalf("Queue = %+v, want only the most recent share", snap.Queue)
	}
}

func TestSetNShrinkEvictsFromFront(t *testing.T) {
	s := New()
	s.SetN(100)
	s.AddShare(share(30, "a"))
	s.AddShare(share(30, "b"))
	s.AddShare(share(30, "c"))

	s.SetN(40)

	snap := s.Snapshot()
	if snap.CurrentN > snap.N {
		t.Fatalf("CurrentN %d exceeds shrunk N %d", snap.CurrentN, snap.N)
	}
	if len(snap.Queue) == 0 || snap.Queue[0].Owner == "a" {
		t.Fatalf("expected oldest share evicted after shrink, queue = %+v", snap.Queue)
	}
}

func TestSetNZeroClearsQueue(t *testing.T) {
	s := New()
	s.SetN(100)
	s.AddShare(share(50, "a"))

	s.SetN(0)

	snap := s.Snapshot()
	if len(snap.Queue) != 0 || snap.CurrentN != 0 {
		t.Fatalf("expected empty queue after SetN(0), got %+v", snap)
	}
}

func TestToProverShares(t *testing.T) {
	s := New()
	s.SetN(1000)
	s.AddShare(share(10, "a"))
	s.AddShare(share(20, "b"))
	s.AddShare(share(5, "a"))

	snap := s.Snapshot()
	numProvers, shares := ToProverShares(snap)

	if numProvers != 2 {
		t.Fatalf("numProvers = %d, want 2", numProvers)
	}
	if shares[util.AccountAddress("a")] != 15 {
		t.Fatalf("shares[a] = %d, want 15", shares[util.AccountAddress("a")])
	}
	if shares[util.AccountAddress("b")] != 20 {
		t.Fatalf("shares[b] = %d, want 20", shares[util.AccountAddress("b")])
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state")

	s := New()
	s.SetN(100)
	s.AddShare(share(40, "a"))
	s.AddShare(share(30, "b"))

	if err := s.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	snap := loaded.Snapshot()
	if snap.N != 100 || snap.CurrentN != 70 || len(snap.Queue) != 2 {
		t.Fatalf("loaded snapshot = %+v, want N=100 CurrentN=70 len=2", snap)
	}
}

func TestLoadMissingFileReturnsEmptyState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "does-not-exist")

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	snap := s.Snapshot()
	if snap.N != 0 || snap.CurrentN != 0 || len(snap.Queue) != 0 {
		t.Fatalf("expected empty state, got %+v", snap)
	}
}

func TestLoadCorruptFileFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state")

	s := New()
	s.SetN(10)
	s.AddShare(share(5, "a"))
	if err := s.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// Flip a byte in the middle of the file to corrupt it without
	// changing its length.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back state file: %v", err)
	}
	data[len(data)/2] ^= 0xFF
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("rewrite corrupted state file: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected error loading corrupted state file")
	}
}
