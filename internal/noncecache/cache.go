// Package noncecache implements the pool's accept-once dedup set: the
// set of (job, nonce) pairs already seen, so a resubmitted share is
// rejected instead of counted twice.
package noncecache

import (
	"sync"
)

const numShards = 64

// Set is a capacity-bounded, concurrent dedup set. Each shard holds its
// own mutex and its own FIFO eviction order, a striped map-plus-mutex
// design so inserts of keys in different shards never contend.
type Set struct {
	shards [numShards]*shard
}

type shard struct {
	mu       sync.Mutex
	seen     map[string]struct{}
	order    []string
	capacity int
}

// New returns a Set bounded to capacity entries in total, spread evenly
// across shards. A capacity of 0 means unbounded (eviction disabled),
// which is only useful in tests.
func New(capacity int) *Set {
	perShard := capacity / numShards
	s := &Set{}
	for i := range s.shards {
		s.shards[i] = &shard{
			seen:     make(map[string]struct{}),
			capacity: perShard,
		}
	}
	return s
}

// Insert records key and reports whether this was its first insertion.
// A false return means the caller is looking at a duplicate/stale share.
func (s *Set) Insert(key string) bool {
	sh := s.shards[shardIndex(key)]
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, ok := sh.seen[key]; ok {
		return false
	}

	sh.seen[key] = struct{}{}
	sh.order = append(sh.order, key)

	if sh.capacity > 0 {
		for len(sh.order) > sh.capacity {
			oldest := sh.order[0]
			sh.order = sh.order[1:]
			delete(sh.seen, oldest)
		}
	}

	return true
}

// Len returns the total number of entries currently held across shards.
func (s *Set) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.seen)
		sh.mu.Unlock()
	}
	return n
}

// shardIndex is FNV-1a truncated to the shard count; it only needs to
// spread keys evenly, not resist adversarial collision.
func shardIndex(key string) int {
	var h uint32 = 2166136261
	for i := 0; i < len(key); i++ {
		h ^= uint32(key[i])
		h *= 16777619
	}
	return int(h % numShards)
}
