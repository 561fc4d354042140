package engine

import "block-auction/internal/domain"

// Status classifies step against cfg. It is pure and total: every step maps to
// exactly one phase.
//
//	[0, start)                      NotStarted
//	[start, start+opening)          Started
//	[start+opening, end)            Checkpoint(step - (start+opening))
//	[end, ...)                      Ended
//
// The first step after the opening period is Checkpoint(0).
func Status(cfg domain.AuctionConfig, step uint64) domain.Phase {
	switch {
	case step < cfg.StartStep:
		return domain.Phase{Kind: domain.PhaseNotStarted}
	case step < cfg.OpeningEnd():
		return domain.Phase{Kind: domain.PhaseStarted}
	case step < cfg.EndStep():
		return domain.Phase{Kind: domain.PhaseCheckpoint, Slot: step - cfg.OpeningEnd()}
	default:
		return domain.Phase{Kind: domain.PhaseEnded}
	}
}
