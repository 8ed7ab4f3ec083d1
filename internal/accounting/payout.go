package accounting

import (
	"context"
	"time"

	"github.com/aleo-pool/zkpool/internal/util"
)

// payoutInterval matches the pool's historical payout cadence: after any
// failure the whole cycle restarts from the top rather than resuming
// partway through, so a transient oracle or store outage never causes a
// solution to be skipped.
const payoutInterval = 60 * time.Second

// UnconfirmedSolution is a solution awaiting an oracle verdict.
type UnconfirmedSolution struct {
	ID         string
	Commitment string
}

// OracleResult is the downstream node's verdict on a commitment. A nil
// result from CheckCommitment means the commitment is not (yet, or
// ever) a valid solution.
type OracleResult struct {
	Height uint64
	Reward uint64
}

// Oracle queries the downstream chain for whether a commitment
// corresponds to a confirmed, valid solution.
type Oracle interface {
	CheckCommitment(ctx context.Context, commitment string) (*OracleResult, error)
}

// PayoutConfirmStore is the persistence side of the payout loop: listing
// solutions still awaiting confirmation, recording the oracle's verdict,
// and marking a solution paid.
type PayoutConfirmStore interface {
	SolutionsAwaitingConfirmation(ctx context.Context) ([]UnconfirmedSolution, error)
	SetSolutionValid(ctx context.Context, id string, valid bool, result *OracleResult) error
	Pay(ctx context.Context, id string) error
}

// ConfirmNotifier is told about every solution the payout loop confirms
// valid and pays out. A nil ConfirmNotifier is treated as a no-op.
type ConfirmNotifier interface {
	NotifySolutionConfirmed(commitment string, height, reward uint64)
}

// RunPayoutLoop polls store for unconfirmed solutions and checks each
// against oracle, paying out the ones that come back valid. On any
// error from either collaborator, it logs, waits payoutInterval, and
// restarts from the top of the unconfirmed list rather than resuming
// partway through — the original solution list may have changed, and
// re-querying is cheap compared to risking skipping a payable solution.
func RunPayoutLoop(ctx context.Context, store PayoutConfirmStore, oracle Oracle, notifier ConfirmNotifier) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !runPayoutCycle(ctx, store, oracle, notifier) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(payoutInterval):
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(payoutInterval):
		}
	}
}

// runPayoutCycle processes one pass over the unconfirmed list. It
// returns false as soon as any step fails, signaling the caller to back
// off before restarting.
func runPayoutCycle(ctx context.Context, store PayoutConfirmStore, oracle Oracle, notifier ConfirmNotifier) bool {
	pending, err := store.SolutionsAwaitingConfirmation(ctx)
	if err != nil {
		util.Errorf("accounting: payout loop: listing unconfirmed solutions: %v", err)
		return false
	}

	for _, sol := range pending {
		result, err := oracle.CheckCommitment(ctx, sol.Commitment)
		if err != nil {
			util.Errorf("accounting: payout loop: checking solution %s: %v", sol.ID, err)
			return false
		}

		valid := result != nil
		if err := store.SetSolutionValid(ctx, sol.ID, valid, result); err != nil {
			util.Errorf("accounting: payout loop: recording verdict for %s: %v", sol.ID, err)
			return false
		}

		if !valid {
			continue
		}

		if err := store.Pay(ctx, sol.ID); err != nil {
			util.Errorf("accounting: payout loop: paying solution %s: %v", sol.ID, err)
			return false
		}
		util.Infof("accounting: paid solution %s", sol.ID)
		if notifier != nil {
			notifier.NotifySolutionConfirmed(sol.Commitment, result.Height, result.Reward)
		}
	}

	return true
}
