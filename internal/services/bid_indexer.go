package services

import (
	"context"
	"time"

	"block-auction/internal/domain"
	"block-auction/pkg/logger"
)

// BidIndexer records accepted bids and finalizations from the event bus so
// bid history can be queried without touching the auction service.
type BidIndexer struct {
	repo    domain.BidRepository
	timeout time.Duration
	log     logger.Logger
}

func NewBidIndexer(repo domain.BidRepository, log logger.Logger) *BidIndexer {
	return &BidIndexer{repo: repo, timeout: 5 * time.Second, log: log}
}

func (bi *BidIndexer) Start(ctx context.Context, subscriber domain.EventSubscriber) error {
	bi.log.Info("Starting bid indexer")
	return subscriber.SubscribeToBidEvents(ctx, bi.handleEvent)
}

func (bi *BidIndexer) handleEvent(event *domain.BidEvent) error {
	if event.Type != domain.BidAccepted && event.Type != domain.AuctionFinalized {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), bi.timeout)
	defer cancel()

	if err := bi.repo.SaveBidEvent(ctx, event); err != nil {
		return err
	}
	bi.log.Debug("Indexed event", "type", event.Type, "auction_id", event.AuctionID, "step", event.Step)
	return nil
}
