package services

import (
	"context"
	"testing"

	"block-auction/internal/domain"
	"block-auction/pkg/logger"

	"github.com/peterldowns/testy/check"
)

func TestEventListener_Routing(t *testing.T) {
	conns := &fakeConnections{}
	el := NewEventListener(conns, fakeNotifier{conns}, fakeNotifier{conns}, logger.NewNop())

	check.NoError(t, el.handleBidEvent(&domain.BidEvent{Type: domain.BidAccepted, AuctionID: "a1", UserID: "alice", Amount: amt(10), Step: 5}))
	check.NoError(t, el.handleBidEvent(&domain.BidEvent{Type: domain.BidRejected, AuctionID: "a1", UserID: "bob", Amount: amt(9), Step: 6}))
	check.NoError(t, el.handleBidEvent(&domain.BidEvent{Type: domain.AuctionFinalized, AuctionID: "a1", UserID: "alice", Amount: amt(10), Step: 9}))
	check.Error(t, el.handleBidEvent(&domain.BidEvent{Type: "auction_paused", AuctionID: "a1"}))

	check.Equal(t, 2, len(conns.broadcasts))
	check.Equal(t, "bid_update", conns.broadcasts[0].message.(map[string]interface{})["type"])
	finalMsg := conns.broadcasts[1].message.(map[string]interface{})
	check.Equal(t, "auction_finalized", finalMsg["type"])
	check.Equal(t, "alice", finalMsg["winner"])

	check.Equal(t, 1, len(conns.direct))
	check.Equal(t, "bob", conns.direct[0].target)
	check.Equal(t, []string{"a1"}, conns.closed)
}

func TestBidIndexer_StoresAcceptedAndFinalized(t *testing.T) {
	store := newMemStore()
	indexer := NewBidIndexer(store, logger.NewNop())

	for _, typ := range []domain.BidEventType{domain.BidAccepted, domain.BidRejected, domain.AuctionFinalized} {
		check.NoError(t, indexer.handleEvent(&domain.BidEvent{Type: typ, AuctionID: "a1", UserID: "alice", Amount: amt(10)}))
	}

	check.Equal(t, 2, len(store.events))
	history, err := store.GetBidHistory(context.Background(), "a1")
	check.NoError(t, err)
	check.Equal(t, 1, len(history))
}

func TestLogSettlement(t *testing.T) {
	s := NewLogSettlement(logger.NewNop())
	ctx := context.Background()
	check.NoError(t, s.Settle(ctx, "a1", auctionConfig(0), &domain.FinalResult{Slot: -1}))
	check.NoError(t, s.Settle(ctx, "a1", auctionConfig(0), &domain.FinalResult{
		Winner: &domain.Bid{Bidder: "alice", Amount: amt(10), Step: 5},
		Slot:   -1,
	}))
}
