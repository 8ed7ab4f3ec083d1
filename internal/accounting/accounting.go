// Package accounting owns the pool's PPLNS state exclusively and
// processes share/window/solution events strictly in the order they are
// received, matching the single-consumer design the pool has always
// used for anything touching payout math.
package accounting

import (
	"context"
	"sync"
	"time"

	"github.com/aleo-pool/zkpool/internal/cachettl"
	"github.com/aleo-pool/zkpool/internal/pplns"
	"github.com/aleo-pool/zkpool/internal/util"
)

const (
	saveInterval     = 60 * time.Second
	roundCacheTTL    = 10 * time.Second
	messageQueueSize = 1024
)

// eventKind discriminates the Accounting message queue.
type eventKind int

const (
	eventNewShare eventKind = iota
	eventSetN
	eventNewSolution
	eventExit
)

type event struct {
	kind    eventKind
	owner   util.AccountAddress
	value   uint64
	n       uint64
	id      string
	done    chan struct{}
}

// RoundSnapshot is the aggregated view of the current PPLNS round,
// matching what the stats API exposes.
type RoundSnapshot struct {
	N        uint64
	CurrentN uint64
	Provers  uint32
	Shares   map[util.AccountAddress]uint64
}

// PayoutStore is the persisted record of solutions and their payout
// status. Implementations never do payout arithmetic themselves; they
// only store what Accounting tells them.
type PayoutStore interface {
	SaveSolution(ctx context.Context, id string, shares map[util.AccountAddress]uint64) error
}

// Accounting processes share/window/solution events against a single
// PPLNS state, persists it periodically, and serves a cached round
// snapshot to callers that don't want to pay the aggregation cost on
// every request.
type Accounting struct {
	pplns      *pplns.State
	statePath  string
	store      PayoutStore
	roundCache *cachettl.Cache[RoundSnapshot]

	events chan event

	exitOnce sync.Once
	exitCh   chan struct{}
	wg       sync.WaitGroup
}

// New loads PPLNS state from statePath (or starts empty if absent) and
// returns an Accounting ready to Run. store may be nil if the pool isn't
// configured to record solutions anywhere.
func New(statePath string, store PayoutStore) (*Accounting, error) {
	state, err := pplns.Load(statePath)
	if err != nil {
		return nil, err
	}

	return &Accounting{
		pplns:      state,
		statePath:  statePath,
		store:      store,
		roundCache: cachettl.New[RoundSnapshot](roundCacheTTL),
		events:     make(chan event, messageQueueSize),
		exitCh:     make(chan struct{}),
	}, nil
}

// Run processes events until Exit is called or ctx is canceled, and
// runs the periodic state-save loop alongside it. It blocks until both
// have stopped.
func (a *Accounting) Run(ctx context.Context) {
	a.wg.Add(2)
	go a.consumeLoop(ctx)
	go a.saveLoop(ctx)
	a.wg.Wait()
}

// NewShare records a share from owner with the given value. It never
// blocks the caller on PPLNS internals; it only enqueues the event for
// the single consumer goroutine.
func (a *Accounting) NewShare(owner util.AccountAddress, value uint64) {
	a.events <- event{kind: eventNewShare, owner: owner, value: value}
}

// SetN updates the PPLNS window size.
func (a *Accounting) SetN(n uint64) {
	a.events <- event{kind: eventSetN, n: n}
}

// NewSolution records that a solution identified by id was found, using
// the round's current prover shares as its payout basis.
func (a *Accounting) NewSolution(id string) {
	a.events <- event{kind: eventNewSolution, id: id}
}

// Exit flushes state to disk and stops the consumer and save loops. It
// blocks until both have actually exited, matching the pool's prior
// exit-lock barrier semantics so a caller can safely terminate the
// process right after this returns.
func (a *Accounting) Exit() {
	done := make(chan struct{})
	a.exitOnce.Do(func() {
		a.events <- event{kind: eventExit, done: done}
	})
	<-done
	a.wg.Wait()
}

func (a *Accounting) consumeLoop(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-a.events:
			switch ev.kind {
			case eventNewShare:
				a.pplns.AddShare(pplns.Share{Value: ev.value, Owner: ev.owner})
			case eventSetN:
				a.pplns.SetN(ev.n)
			case eventNewSolution:
				a.handleNewSolution(ctx, ev.id)
			case eventExit:
				a.pplns.Save(a.statePath)
				close(a.exitCh)
				close(ev.done)
				return
			}
		}
	}
}

func (a *Accounting) handleNewSolution(ctx context.Context, id string) {
	if a.store == nil {
		return
	}
	snap := a.pplns.Snapshot()
	_, shares := pplns.ToProverShares(snap)
	if err := a.store.SaveSolution(ctx, id, shares); err != nil {
		util.Errorf("accounting: failed to save solution %s: %v", id, err)
	}
}

func (a *Accounting) saveLoop(ctx context.Context) {
	defer a.wg.Done()
	ticker := time.NewTicker(saveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.exitCh:
			return
		case <-ticker.C:
			if err := a.pplns.Save(a.statePath); err != nil {
				util.Errorf("accounting: periodic save failed: %v", err)
			}
		}
	}
}

// CurrentRound returns the cached round snapshot, recomputing it from
// PPLNS if the cache has expired.
func (a *Accounting) CurrentRound() RoundSnapshot {
	snap, _ := a.roundCache.GetOrCompute(func() (RoundSnapshot, error) {
		pplnsSnap := a.pplns.Snapshot()
		provers, shares := pplns.ToProverShares(pplnsSnap)
		return RoundSnapshot{
			N:        pplnsSnap.N,
			CurrentN: pplnsSnap.CurrentN,
			Provers:  provers,
			Shares:   shares,
		}, nil
	})
	return snap
}
