package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MaxEndingLength bounds the checkpoint ledger allocated per auction.
const MaxEndingLength = 1 << 16

// AuctionConfig is fixed when an auction is created and never mutated.
type AuctionConfig struct {
	Seller        string          `json:"seller"`
	ItemRef       string          `json:"item_ref"`
	MinBid        decimal.Decimal `json:"min_bid"`
	StartStep     uint64          `json:"start_step"`
	OpeningLength uint64          `json:"opening_length"`
	EndingLength  uint64          `json:"ending_length"`
}

// OpeningEnd is the first step after the opening period.
func (c AuctionConfig) OpeningEnd() uint64 {
	return c.StartStep + c.OpeningLength
}

// EndStep is the first step at which the auction is Ended.
func (c AuctionConfig) EndStep() uint64 {
	return c.OpeningEnd() + c.EndingLength
}

// Validate checks the configuration against the step at which the auction is created.
func (c AuctionConfig) Validate(createdAt uint64) error {
	if c.Seller == "" {
		return &ConfigError{Field: "seller", Err: ErrMissingValue}
	}
	if c.MinBid.IsNegative() {
		return &ConfigError{Field: "min_bid", Err: fmt.Errorf("must not be negative, got %s", c.MinBid)}
	}
	if c.StartStep <= createdAt {
		return &ConfigError{Field: "start_step", Err: fmt.Errorf("must be after creation step %d, got %d", createdAt, c.StartStep)}
	}
	if c.OpeningLength > ^uint64(0)-c.StartStep || c.EndingLength > ^uint64(0)-c.OpeningEnd() {
		return &ConfigError{Field: "ending_length", Err: ErrStepOverflow}
	}
	if c.EndingLength > MaxEndingLength {
		return &ConfigError{Field: "ending_length", Err: fmt.Errorf("at most %d slots, got %d", MaxEndingLength, c.EndingLength)}
	}
	return nil
}

type PhaseKind int

const (
	PhaseNotStarted PhaseKind = iota
	PhaseStarted
	PhaseCheckpoint
	PhaseEnded
)

func (k PhaseKind) String() string {
	switch k {
	case PhaseNotStarted:
		return "not_started"
	case PhaseStarted:
		return "started"
	case PhaseCheckpoint:
		return "checkpoint"
	case PhaseEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Phase is the auction status at one step. Slot is only meaningful for PhaseCheckpoint.
type Phase struct {
	Kind PhaseKind `json:"kind"`
	Slot uint64    `json:"slot,omitempty"`
}

func (p Phase) String() string {
	if p.Kind == PhaseCheckpoint {
		return fmt.Sprintf("checkpoint(%d)", p.Slot)
	}
	return p.Kind.String()
}

// AcceptsBids reports whether bids may be placed in this phase.
func (p Phase) AcceptsBids() bool {
	return p.Kind == PhaseStarted || p.Kind == PhaseCheckpoint
}

// Bid is an accepted bid. It is used for the leader, for checkpoint slots and
// for winners.
type Bid struct {
	Bidder string          `json:"bidder"`
	Amount decimal.Decimal `json:"amount"`
	Step   uint64          `json:"step"`
}

// LedgerState is everything an engine needs to be rebuilt after a restart.
type LedgerState struct {
	Config      AuctionConfig              `json:"config"`
	Balances    map[string]decimal.Decimal `json:"balances"`
	Leader      *Bid                       `json:"leader,omitempty"`
	Checkpoints []*Bid                     `json:"checkpoints"`
	Finalized   bool                       `json:"finalized"`
}

// FinalResult is returned once by Finalize. Slot is -1 when the winner did
// not come from a checkpoint slot.
type FinalResult struct {
	Winner *Bid   `json:"winner,omitempty"`
	Slot   int    `json:"slot"`
	Step   uint64 `json:"step"`
}

// Auction is the host-side record of one auction.
type Auction struct {
	ID        string
	Config    AuctionConfig
	CreatedAt uint64
	Finalized bool
	Winner    *Bid
	UpdatedAt time.Time
}

type BidEvent struct {
	Type      BidEventType    `json:"type"`
	AuctionID string          `json:"auction_id"`
	UserID    string          `json:"user_id,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Step      uint64          `json:"step"`
	Phase     string          `json:"phase,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

type BidEventType string

const (
	BidAccepted      BidEventType = "bid_accepted"
	BidRejected      BidEventType = "bid_rejected"
	AuctionFinalized BidEventType = "auction_finalized"
)

type ScheduledJob struct {
	ID        string
	AuctionID string
	JobType   JobType
	RunAtStep uint64
	Status    JobStatus
	CreatedAt time.Time
}

type JobType string

const (
	JobFinalizeAuction JobType = "finalize_auction"
)

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobExecuted  JobStatus = "executed"
	JobCancelled JobStatus = "cancelled"
)
