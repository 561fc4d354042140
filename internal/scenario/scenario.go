// Package scenario replays scripted auctions against the bid engine without
// any external services. Scenarios are YAML documents.
package scenario

import (
	"errors"
	"fmt"
	"io"
	"os"

	"block-auction/internal/domain"
	"block-auction/internal/engine"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Scenario is one scripted auction.
//
//	name: checkpoint auction
//	created_at: 1
//	auction:
//	  seller: seller
//	  min_bid: "10"
//	  start_step: 5
//	  opening_length: 3
//	  ending_length: 2
//	actions:
//	  - {step: 8, bidder: alice, amount: "10"}
//	  - {step: 8, bidder: bob, amount: "15", expect: checkpoint_resolved}
//	  - {step: 10, finalize: true, winner: alice}
type Scenario struct {
	Name      string      `yaml:"name"`
	CreatedAt uint64      `yaml:"created_at"`
	Auction   AuctionSpec `yaml:"auction"`
	Actions   []Action    `yaml:"actions"`
}

type AuctionSpec struct {
	Seller        string `yaml:"seller"`
	ItemRef       string `yaml:"item_ref"`
	MinBid        string `yaml:"min_bid"`
	StartStep     uint64 `yaml:"start_step"`
	OpeningLength uint64 `yaml:"opening_length"`
	EndingLength  uint64 `yaml:"ending_length"`
}

// Action is either a bid (Bidder and Amount set) or a finalize. Expect is the
// error code the action must produce, empty for success. Winner is checked on
// finalize; "none" means no winner.
type Action struct {
	Step     uint64 `yaml:"step"`
	Bidder   string `yaml:"bidder,omitempty"`
	Amount   string `yaml:"amount,omitempty"`
	Finalize bool   `yaml:"finalize,omitempty"`
	Expect   string `yaml:"expect,omitempty"`
	Winner   string `yaml:"winner,omitempty"`
}

// Outcome is the result of one action.
type Outcome struct {
	Index    int
	Action   Action
	Phase    domain.Phase
	Code     string
	Result   *domain.FinalResult
	Mismatch string
}

func (o Outcome) OK() bool {
	return o.Mismatch == ""
}

type Report struct {
	Name     string
	Outcomes []Outcome
	Accepted []Accepted
	Final    *domain.LedgerState
}

// Accepted is one bid reported by the engine, in acceptance order.
type Accepted struct {
	Bid   domain.Bid
	Phase domain.Phase
}

// BidAccepted lets a Report collect the engine's accepted bids.
func (r *Report) BidAccepted(auctionID string, bid domain.Bid, phase domain.Phase) {
	r.Accepted = append(r.Accepted, Accepted{Bid: bid, Phase: phase})
}

// Failed returns the outcomes that did not match their expectation.
func (r *Report) Failed() []Outcome {
	var failed []Outcome
	for _, o := range r.Outcomes {
		if !o.OK() {
			failed = append(failed, o)
		}
	}
	return failed
}

var ErrInvalidScenario = errors.New("invalid scenario")

// Parse decodes one scenario document.
func Parse(r io.Reader) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	if len(s.Actions) == 0 {
		return nil, fmt.Errorf("%w: %q has no actions", ErrInvalidScenario, s.Name)
	}
	return &s, nil
}

func LoadFile(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	s, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

func (a AuctionSpec) config() (domain.AuctionConfig, error) {
	minBid, err := decimal.NewFromString(a.MinBid)
	if err != nil {
		return domain.AuctionConfig{}, fmt.Errorf("%w: min_bid %q", ErrInvalidScenario, a.MinBid)
	}
	return domain.AuctionConfig{
		Seller:        a.Seller,
		ItemRef:       a.ItemRef,
		MinBid:        minBid,
		StartStep:     a.StartStep,
		OpeningLength: a.OpeningLength,
		EndingLength:  a.EndingLength,
	}, nil
}

// Run replays s against a fresh engine. The returned error covers scenarios
// that cannot be replayed at all; expectation mismatches are reported in the
// Report.
func Run(s *Scenario) (*Report, error) {
	cfg, err := s.Auction.config()
	if err != nil {
		return nil, err
	}
	report := &Report{Name: s.Name}
	e, err := engine.New(s.Name, cfg, s.CreatedAt, report)
	if err != nil {
		return nil, fmt.Errorf("create auction: %w", err)
	}

	for i, action := range s.Actions {
		outcome, err := apply(e, action)
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
		outcome.Index = i
		report.Outcomes = append(report.Outcomes, outcome)
	}
	report.Final = e.Snapshot()
	return report, nil
}

func apply(e *engine.Engine, action Action) (Outcome, error) {
	outcome := Outcome{Action: action, Phase: e.Status(action.Step)}

	var err error
	switch {
	case action.Finalize:
		outcome.Result, err = e.Finalize(action.Step)
	case action.Bidder != "":
		amount, parseErr := decimal.NewFromString(action.Amount)
		if parseErr != nil {
			return outcome, fmt.Errorf("%w: amount %q", ErrInvalidScenario, action.Amount)
		}
		err = e.PlaceBid(action.Bidder, amount, action.Step)
	default:
		return outcome, fmt.Errorf("%w: action is neither a bid nor a finalize", ErrInvalidScenario)
	}

	outcome.Code = domain.ErrorCode(err)
	if outcome.Code != action.Expect {
		outcome.Mismatch = fmt.Sprintf("expected %s, got %s", orOK(action.Expect), orOK(outcome.Code))
		return outcome, nil
	}
	if action.Finalize && err == nil && action.Winner != "" {
		got := "none"
		if outcome.Result.Winner != nil {
			got = outcome.Result.Winner.Bidder
		}
		if got != action.Winner {
			outcome.Mismatch = fmt.Sprintf("expected winner %s, got %s", action.Winner, got)
		}
	}
	return outcome, nil
}

func orOK(code string) string {
	if code == "" {
		return "ok"
	}
	return code
}
