package engine

import (
	"fmt"
	"sync"

	"block-auction/internal/domain"

	"github.com/shopspring/decimal"
)

// Engine holds the bid ledger of one auction. All mutations go through mu, so
// accepting a bid and freezing its checkpoint slot happen as one step.
// Status reads only the immutable configuration and takes no lock.
type Engine struct {
	id   string
	cfg  domain.AuctionConfig
	sink domain.BidSink

	mu          sync.Mutex
	balances    map[string]decimal.Decimal
	leader      *domain.Bid
	checkpoints []*domain.Bid
	finalized   bool
}

// New creates an engine for an auction created at step createdAt. sink may be nil.
func New(id string, cfg domain.AuctionConfig, createdAt uint64, sink domain.BidSink) (*Engine, error) {
	if err := cfg.Validate(createdAt); err != nil {
		return nil, err
	}

	return &Engine{
		id:          id,
		cfg:         cfg,
		sink:        sink,
		balances:    make(map[string]decimal.Decimal),
		checkpoints: make([]*domain.Bid, cfg.EndingLength),
	}, nil
}

// Restore rebuilds an engine from a persisted ledger state.
func Restore(id string, state *domain.LedgerState, sink domain.BidSink) (*Engine, error) {
	if state == nil {
		return nil, fmt.Errorf("restore %s: nil state", id)
	}
	if uint64(len(state.Checkpoints)) != state.Config.EndingLength {
		return nil, fmt.Errorf("restore %s: %d checkpoint slots, config has %d",
			id, len(state.Checkpoints), state.Config.EndingLength)
	}

	e := &Engine{
		id:          id,
		cfg:         state.Config,
		sink:        sink,
		balances:    make(map[string]decimal.Decimal, len(state.Balances)),
		checkpoints: make([]*domain.Bid, len(state.Checkpoints)),
		finalized:   state.Finalized,
		leader:      copyBid(state.Leader),
	}
	for bidder, amount := range state.Balances {
		e.balances[bidder] = amount
	}
	for i, slot := range state.Checkpoints {
		e.checkpoints[i] = copyBid(slot)
	}

	return e, nil
}

func (e *Engine) ID() string {
	return e.id
}

func (e *Engine) Config() domain.AuctionConfig {
	return e.cfg
}

// Status returns the phase at step.
func (e *Engine) Status(step uint64) domain.Phase {
	return Status(e.cfg, step)
}

// PlaceBid validates and applies a bid. On error nothing is changed.
func (e *Engine) PlaceBid(bidder string, amount decimal.Decimal, step uint64) error {
	phase := e.Status(step)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.finalized || !phase.AcceptsBids() {
		return fmt.Errorf("%w: phase %s at step %d", domain.ErrAuctionNotActive, phase, step)
	}
	if e.leader != nil && step < e.leader.Step {
		return fmt.Errorf("%w: step %d, last bid at %d", domain.ErrStepRegression, step, e.leader.Step)
	}

	if e.leader != nil {
		if !amount.GreaterThan(e.leader.Amount) {
			return &domain.InsufficientBidError{Offered: amount, Required: e.leader.Amount, Strict: true}
		}
	} else if amount.LessThan(e.cfg.MinBid) {
		return &domain.InsufficientBidError{Offered: amount, Required: e.cfg.MinBid}
	}

	if own, ok := e.balances[bidder]; ok && !amount.GreaterThan(own) {
		return fmt.Errorf("%w: %s has %s, offered %s", domain.ErrNonIncreasingBid, bidder, own, amount)
	}

	if phase.Kind == domain.PhaseCheckpoint && e.checkpoints[phase.Slot] != nil {
		return fmt.Errorf("%w: slot %d", domain.ErrCheckpointAlreadyResolved, phase.Slot)
	}

	bid := domain.Bid{Bidder: bidder, Amount: amount, Step: step}
	e.balances[bidder] = amount
	e.leader = &bid
	if phase.Kind == domain.PhaseCheckpoint {
		slot := bid
		e.checkpoints[phase.Slot] = &slot
	}

	if e.sink != nil {
		e.sink.BidAccepted(e.id, bid, phase)
	}
	return nil
}

// Finalize computes the winner once the auction has ended. It succeeds once.
func (e *Engine) Finalize(step uint64) (*domain.FinalResult, error) {
	phase := e.Status(step)

	e.mu.Lock()
	defer e.mu.Unlock()

	if phase.Kind != domain.PhaseEnded {
		return nil, fmt.Errorf("%w: phase %s at step %d", domain.ErrTooEarly, phase, step)
	}
	if e.finalized {
		return nil, domain.ErrAlreadyFinalized
	}

	result := e.resolveWinner()
	result.Step = step
	e.finalized = true
	return result, nil
}

// resolveWinner reduces the checkpoint ledger. The highest amount wins; on a tie
// the earliest slot keeps the lead. Without checkpoint slots the leader wins.
func (e *Engine) resolveWinner() *domain.FinalResult {
	if len(e.checkpoints) == 0 {
		return &domain.FinalResult{Winner: copyBid(e.leader), Slot: -1}
	}

	result := &domain.FinalResult{Slot: -1}
	for i, slot := range e.checkpoints {
		if slot == nil {
			continue
		}
		if result.Winner == nil || slot.Amount.GreaterThan(result.Winner.Amount) {
			result.Winner = copyBid(slot)
			result.Slot = i
		}
	}
	return result
}

func (e *Engine) Finalized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.finalized
}

// Leader returns a copy of the current leading bid, or nil before the first bid.
func (e *Engine) Leader() *domain.Bid {
	e.mu.Lock()
	defer e.mu.Unlock()
	return copyBid(e.leader)
}

// Balance returns the standing bid of bidder.
func (e *Engine) Balance(bidder string) (decimal.Decimal, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	amount, ok := e.balances[bidder]
	return amount, ok
}

// Checkpoints returns a copy of the checkpoint ledger; empty slots are nil.
func (e *Engine) Checkpoints() []*domain.Bid {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*domain.Bid, len(e.checkpoints))
	for i, slot := range e.checkpoints {
		out[i] = copyBid(slot)
	}
	return out
}

// Snapshot returns a deep copy of the ledger state.
func (e *Engine) Snapshot() *domain.LedgerState {
	e.mu.Lock()
	defer e.mu.Unlock()

	state := &domain.LedgerState{
		Config:      e.cfg,
		Balances:    make(map[string]decimal.Decimal, len(e.balances)),
		Leader:      copyBid(e.leader),
		Checkpoints: make([]*domain.Bid, len(e.checkpoints)),
		Finalized:   e.finalized,
	}
	for bidder, amount := range e.balances {
		state.Balances[bidder] = amount
	}
	for i, slot := range e.checkpoints {
		state.Checkpoints[i] = copyBid(slot)
	}
	return state
}

// Reset replaces the ledger with state. The configuration must match.
func (e *Engine) Reset(state *domain.LedgerState) error {
	restored, err := Restore(e.id, state, nil)
	if err != nil {
		return err
	}
	if restored.cfg.StartStep != e.cfg.StartStep || restored.cfg.EndStep() != e.cfg.EndStep() {
		return fmt.Errorf("reset %s: configuration mismatch", e.id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.balances = restored.balances
	e.leader = restored.leader
	e.checkpoints = restored.checkpoints
	e.finalized = restored.finalized
	return nil
}

func copyBid(b *domain.Bid) *domain.Bid {
	if b == nil {
		return nil
	}
	c := *b
	return &c
}
