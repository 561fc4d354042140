package services

import (
	"context"

	"block-auction/internal/domain"
	"block-auction/pkg/logger"
)

// LogSettlement records settlement decisions without moving any value. The
// seller receives the winning amount and the winner receives the item.
type LogSettlement struct {
	log logger.Logger
}

func NewLogSettlement(log logger.Logger) *LogSettlement {
	return &LogSettlement{log: log}
}

func (s *LogSettlement) Settle(ctx context.Context, auctionID string, cfg domain.AuctionConfig, result *domain.FinalResult) error {
	if result.Winner == nil {
		s.log.Info("Settlement: item returned to seller", "auction_id", auctionID,
			"seller", cfg.Seller, "item", cfg.ItemRef)
		return nil
	}

	s.log.Info("Settlement: transfer", "auction_id", auctionID,
		"seller", cfg.Seller, "item", cfg.ItemRef,
		"winner", result.Winner.Bidder, "amount", result.Winner.Amount.String(),
		"slot", result.Slot)
	return nil
}
