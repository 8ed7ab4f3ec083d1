package storage

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/aleo-pool/zkpool/internal/accounting"
	"github.com/aleo-pool/zkpool/internal/util"
)

func setupTestStore(t *testing.T) (*RedisPayoutStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	store, err := NewRedisPayoutStore(mr.Addr(), "", 0)
	if err != nil {
		mr.Close()
		t.Fatalf("NewRedisPayoutStore() error = %v", err)
	}
	t.Cleanup(func() {
		store.Close()
		mr.Close()
	})
	return store, mr
}

func TestSaveSolutionThenAwaitingConfirmation(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	shares := map[util.AccountAddress]uint64{"addr-a": 10, "addr-b": 20}
	if err := store.SaveSolution(ctx, "sol-1", shares); err != nil {
		t.Fatalf("SaveSolution() error = %v", err)
	}

	pending, err := store.SolutionsAwaitingConfirmation(ctx)
	if err != nil {
		t.Fatalf("SolutionsAwaitingConfirmation() error = %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "sol-1" {
		t.Fatalf("pending = %+v, want one entry for sol-1", pending)
	}
}

func TestSetSolutionValidMovesToPayable(t *testing.T) {
	store, mr := setupTestStore(t)
	ctx := context.Background()

	store.SaveSolution(ctx, "sol-1", map[util.AccountAddress]uint64{"a": 5})

	if err := store.SetSolutionValid(ctx, "sol-1", true, &accounting.OracleResult{Height: 7, Reward: 50}); err != nil {
		t.Fatalf("SetSolutionValid() error = %v", err)
	}

	pending, err := store.SolutionsAwaitingConfirmation(ctx)
	if err != nil {
		t.Fatalf("SolutionsAwaitingConfirmation() error = %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending = %+v, want empty after confirmation", pending)
	}

	members, err := mr.SMembers(keyPayable)
	if err != nil {
		t.Fatalf("SMembers error = %v", err)
	}
	if len(members) != 1 || members[0] != "sol-1" {
		t.Fatalf("payable set = %v, want [sol-1]", members)
	}
}

func TestSetSolutionInvalidDoesNotMakePayable(t *testing.T) {
	store, mr := setupTestStore(t)
	ctx := context.Background()

	store.SaveSolution(ctx, "sol-1", map[util.AccountAddress]uint64{"a": 5})
	if err := store.SetSolutionValid(ctx, "sol-1", false, nil); err != nil {
		t.Fatalf("SetSolutionValid() error = %v", err)
	}

	members, err := mr.SMembers(keyPayable)
	if err != nil {
		t.Fatalf("SMembers error = %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("payable set = %v, want empty", members)
	}
}

func TestPayMarksSolutionPaid(t *testing.T) {
	store, mr := setupTestStore(t)
	ctx := context.Background()

	store.SaveSolution(ctx, "sol-1", map[util.AccountAddress]uint64{"a": 5})
	store.SetSolutionValid(ctx, "sol-1", true, &accounting.OracleResult{Height: 1, Reward: 1})

	if err := store.Pay(ctx, "sol-1"); err != nil {
		t.Fatalf("Pay() error = %v", err)
	}

	paid, err := mr.HGet("zkpool:solution:sol-1", "paid")
	if err != nil {
		t.Fatalf("HGet error = %v", err)
	}
	if paid != "true" {
		t.Fatalf("paid field = %q, want \"true\"", paid)
	}
}
