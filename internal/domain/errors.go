package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrAuctionNotActive is returned for bids outside the Started and Checkpoint phases,
	// and for any bid after the auction is finalized.
	ErrAuctionNotActive = errors.New("auction not active")

	// ErrInsufficientBid is matched by *InsufficientBidError.
	ErrInsufficientBid = errors.New("insufficient bid")

	// ErrNonIncreasingBid is returned when a bidder does not raise their own standing bid.
	ErrNonIncreasingBid = errors.New("bid does not exceed own standing bid")

	// ErrCheckpointAlreadyResolved is returned when a checkpoint slot is already frozen.
	ErrCheckpointAlreadyResolved = errors.New("checkpoint already resolved")

	// ErrStepRegression is returned when a bid arrives with a step older than the last accepted bid.
	ErrStepRegression = errors.New("step is older than last accepted bid")

	ErrTooEarly         = errors.New("auction has not ended")
	ErrAlreadyFinalized = errors.New("auction already finalized")

	ErrAuctionNotFound = errors.New("auction not found")
	ErrNotLeader       = errors.New("instance is not the leader")

	ErrMissingValue = errors.New("missing value")
	ErrStepOverflow = errors.New("step range overflows")
)

// InsufficientBidError carries the offered amount and the comparator it failed against.
// Strict is true when the comparator was the leader's bid (must be exceeded) and false
// when it was the minimum bid (must be met).
type InsufficientBidError struct {
	Offered  decimal.Decimal
	Required decimal.Decimal
	Strict   bool
}

func (e *InsufficientBidError) Error() string {
	if e.Strict {
		return fmt.Sprintf("insufficient bid: offered %s, must exceed %s", e.Offered, e.Required)
	}
	return fmt.Sprintf("insufficient bid: offered %s, minimum is %s", e.Offered, e.Required)
}

func (e *InsufficientBidError) Is(target error) bool {
	return target == ErrInsufficientBid
}

// ConfigError represents an invalid auction or service configuration value.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// IsBidRejection reports whether err is one of the recoverable bid validation errors.
func IsBidRejection(err error) bool {
	return errors.Is(err, ErrAuctionNotActive) ||
		errors.Is(err, ErrInsufficientBid) ||
		errors.Is(err, ErrNonIncreasingBid) ||
		errors.Is(err, ErrCheckpointAlreadyResolved) ||
		errors.Is(err, ErrStepRegression)
}

// ErrorCode returns a stable machine-readable code for the errors of this
// package, or "internal" for anything else.
func ErrorCode(err error) string {
	var cfgErr *ConfigError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInsufficientBid):
		return "insufficient_bid"
	case errors.As(err, &cfgErr):
		return "invalid_config"
	case errors.Is(err, ErrNonIncreasingBid):
		return "non_increasing_bid"
	case errors.Is(err, ErrAuctionNotFound):
		return "not_found"
	case errors.Is(err, ErrAuctionNotActive):
		return "auction_not_active"
	case errors.Is(err, ErrCheckpointAlreadyResolved):
		return "checkpoint_resolved"
	case errors.Is(err, ErrStepRegression):
		return "step_regression"
	case errors.Is(err, ErrTooEarly):
		return "too_early"
	case errors.Is(err, ErrAlreadyFinalized):
		return "already_finalized"
	case errors.Is(err, ErrNotLeader):
		return "not_leader"
	default:
		return "internal"
	}
}
