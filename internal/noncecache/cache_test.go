package noncecache

import (
	"fmt"
	"sync"
	"testing"
)

func TestInsertAcceptOnce(t *testing.T) {
	s := New(0)

	if !s.Insert("job1:nonce1") {
		t.Fatal("first insert should succeed")
	}
	if s.Insert("job1:nonce1") {
		t.Fatal("second insert of same key should be rejected")
	}
	if !s.Insert("job1:nonce2") {
		t.Fatal("distinct key should be accepted")
	}
}

func TestCapacityEviction(t *testing.T) {
	s := New(numShards) // 1 entry per shard

	key := "only-key-for-its-shard"
	idx := shardIndex(key)

	// Fill that shard's single slot, then overflow it.
	var sameShardKeys []string
	for i := 0; len(sameShardKeys) < 3; i++ {
		k := fmt.Sprintf("k-%d", i)
		if shardIndex(k) == idx {
			sameShardKeys = append(sameShardKeys, k)
		}
	}

	for _, k := range sameShardKeys {
		s.Insert(k)
	}

	// The earliest key in that shard should have been evicted, so
	// re-inserting it succeeds again.
	if !s.Insert(sameShardKeys[0]) {
		t.Fatal("expected oldest key to have been evicted and accepted again")
	}
}

func TestInsertConcurrent(t *testing.T) {
	s := New(0)
	var wg sync.WaitGroup
	accepted := make([]bool, 100)

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			accepted[i] = s.Insert("shared-key")
		}(i)
	}
	wg.Wait()

	count := 0
	for _, ok := range accepted {
		if ok {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly 1 accepted insert of the same key, got %d", count)
	}
}
