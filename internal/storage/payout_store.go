// Package storage persists the pool's solution and payout records. It
// keeps the teacher's Redis pipelining idiom but narrows the schema down
// to what this pool's accounting loop actually needs: a solution's
// per-address share basis, its oracle-confirmed validity, and whether
// it has been paid.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/aleo-pool/zkpool/internal/accounting"
	"github.com/aleo-pool/zkpool/internal/util"
)

const keyPrefix = "zkpool:"

const (
	keySolution    = keyPrefix + "solution:%s"    // hash: shares,valid,height,reward,paid
	keyUnconfirmed = keyPrefix + "solutions:unconfirmed"
	keyPayable     = keyPrefix + "solutions:payable"
)

// RedisPayoutStore implements accounting.PayoutStore and
// accounting.PayoutConfirmStore against a Redis instance, adapted from
// the pool's existing pipelined-write idiom.
type RedisPayoutStore struct {
	client *redis.Client
}

var (
	_ accounting.PayoutStore        = (*RedisPayoutStore)(nil)
	_ accounting.PayoutConfirmStore = (*RedisPayoutStore)(nil)
)

// NewRedisPayoutStore dials addr and verifies connectivity with a Ping.
func NewRedisPayoutStore(addr, password string, db int) (*RedisPayoutStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("storage: connect to redis: %w", err)
	}

	return &RedisPayoutStore{client: client}, nil
}

// Close releases the underlying Redis connection pool.
func (s *RedisPayoutStore) Close() error {
	return s.client.Close()
}

// SaveSolution records a new solution and its per-address share basis,
// and marks it awaiting confirmation.
func (s *RedisPayoutStore) SaveSolution(ctx context.Context, id string, shares map[util.AccountAddress]uint64) error {
	raw, err := json.Marshal(shares)
	if err != nil {
		return fmt.Errorf("storage: marshal shares: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, fmt.Sprintf(keySolution, id), map[string]interface{}{
		"shares": string(raw),
		"paid":   "",
	})
	pipe.SAdd(ctx, keyUnconfirmed, id)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("storage: save solution %s: %w", id, err)
	}
	return nil
}

// SolutionsAwaitingConfirmation lists every solution not yet given an
// oracle verdict.
func (s *RedisPayoutStore) SolutionsAwaitingConfirmation(ctx context.Context) ([]accounting.UnconfirmedSolution, error) {
	ids, err := s.client.SMembers(ctx, keyUnconfirmed).Result()
	if err != nil {
		return nil, fmt.Errorf("storage: list unconfirmed solutions: %w", err)
	}

	out := make([]accounting.UnconfirmedSolution, 0, len(ids))
	for _, id := range ids {
		// The commitment used to query the oracle is the solution's own
		// id; this pool does not separate the two.
		out = append(out, accounting.UnconfirmedSolution{ID: id, Commitment: id})
	}
	return out, nil
}

// SetSolutionValid records the oracle's verdict for id. A valid solution
// moves into the payable set; an invalid one is removed from
// consideration entirely.
func (s *RedisPayoutStore) SetSolutionValid(ctx context.Context, id string, valid bool, result *accounting.OracleResult) error {
	pipe := s.client.TxPipeline()

	fields := map[string]interface{}{"valid": fmt.Sprintf("%t", valid)}
	if result != nil {
		fields["height"] = result.Height
		fields["reward"] = result.Reward
	}
	pipe.HSet(ctx, fmt.Sprintf(keySolution, id), fields)
	pipe.SRem(ctx, keyUnconfirmed, id)
	if valid {
		pipe.SAdd(ctx, keyPayable, id)
	}

	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("storage: set solution %s valid=%t: %w", id, valid, err)
	}
	return nil
}

// Pay marks id as paid and removes it from the payable set.
func (s *RedisPayoutStore) Pay(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, fmt.Sprintf(keySolution, id), "paid", "true")
	pipe.SRem(ctx, keyPayable, id)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("storage: pay solution %s: %w", id, err)
	}
	return nil
}
