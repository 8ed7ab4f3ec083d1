// Package pplns implements the pool's Pay-Per-Last-N-Shares accounting
// window: a bounded FIFO of shares whose total value never exceeds a
// configurable window size N.
package pplns

import (
	"sync"

	"github.com/aleo-pool/zkpool/internal/util"
)

// Share is one accepted unit of mining work credited toward a round.
type Share struct {
	Value uint64
	Owner util.AccountAddress
}

// State is the PPLNS queue. CurrentN always equals the sum of Queue's
// share values, and never exceeds N once N has been set above zero. All
// mutation happens through SetN and AddShare so the invariant can never
// be violated from outside the package.
type State struct {
	mu       sync.RWMutex
	queue    []Share
	n        uint64
	currentN uint64
}

// New returns an empty PPLNS state with window size 0.
func New() *State {
	return &State{}
}

// SetN updates the window size. If the new size is smaller than the
// current one, shares are evicted from the front of the queue until
// CurrentN no longer exceeds it. Setting n to 0 clears the queue
// entirely, matching the documented behavior for a pool taking itself
// out of a round.
func (s *State) SetN(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n == 0 {
		s.queue = nil
		s.currentN = 0
	}
	if n < s.n {
		for s.currentN > n {
			evicted := s.queue[0]
			s.queue = s.queue[1:]
			s.currentN -= evicted.Value
		}
	}
	s.n = n
}

// AddShare appends share to the queue and evicts from the front until
// CurrentN no longer exceeds N. A zero-value share is still queued; it
// simply never triggers eviction on its own.
func (s *State) AddShare(share Share) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queue = append(s.queue, share)
	s.currentN += share.Value

	for s.currentN > s.n {
		evicted := s.queue[0]
		s.queue = s.queue[1:]
		s.currentN -= evicted.Value
	}
}

// Snapshot is a point-in-time, deep copy of the PPLNS state, safe to use
// without holding any lock.
type Snapshot struct {
	Queue    []Share
	N        uint64
	CurrentN uint64
}

// Snapshot takes a consistent copy of the current queue and counters.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := make([]Share, len(s.queue))
	copy(q, s.queue)
	return Snapshot{Queue: q, N: s.n, CurrentN: s.currentN}
}

// N returns the current window size.
func (s *State) N() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.n
}

// CurrentN returns the current total queued share value.
func (s *State) CurrentN() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentN
}

// ToProverShares aggregates a snapshot's queue into per-owner totals and
// reports how many distinct provers contributed to the round.
func ToProverShares(snap Snapshot) (numProvers uint32, shares map[util.AccountAddress]uint64) {
	shares = make(map[util.AccountAddress]uint64, len(snap.Queue))
	for _, sh := range snap.Queue {
		shares[sh.Owner] += sh.Value
	}
	return uint32(len(shares)), shares
}
