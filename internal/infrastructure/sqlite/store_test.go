package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"block-auction/internal/domain"

	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "data", "auction.db"))
	check.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestAuction(t *testing.T, s *Store, id string) {
	t.Helper()
	err := s.CreateAuction(context.Background(), &domain.Auction{
		ID: id,
		Config: domain.AuctionConfig{
			Seller:        "seller",
			ItemRef:       "nft-1",
			MinBid:        decimal.RequireFromString("10.5"),
			StartStep:     5,
			OpeningLength: 3,
			EndingLength:  2,
		},
		CreatedAt: 1,
		UpdatedAt: time.Now(),
	})
	check.NoError(t, err)
}

func TestStore_CreateAndGetAuction(t *testing.T) {
	s := setupTestStore(t)
	createTestAuction(t, s, "a1")

	auction, err := s.GetAuction(context.Background(), "a1")
	check.NoError(t, err)
	check.Equal(t, "seller", auction.Config.Seller)
	check.True(t, auction.Config.MinBid.Equal(decimal.RequireFromString("10.5")))
	check.Equal(t, uint64(1), auction.CreatedAt)
	check.False(t, auction.Finalized)
	check.Nil(t, auction.Winner)

	_, err = s.GetAuction(context.Background(), "missing")
	check.True(t, errors.Is(err, domain.ErrAuctionNotFound))
}

func TestStore_SaveAndLoadState(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	createTestAuction(t, s, "a1")

	state := &domain.LedgerState{
		Balances: map[string]decimal.Decimal{
			"alice": decimal.NewFromInt(11),
			"bob":   decimal.NewFromInt(20),
		},
		Leader:      &domain.Bid{Bidder: "bob", Amount: decimal.NewFromInt(20), Step: 9},
		Checkpoints: []*domain.Bid{nil, {Bidder: "bob", Amount: decimal.NewFromInt(20), Step: 9}},
	}
	check.NoError(t, s.SaveState(ctx, "a1", state))

	// balances are upserted and slots never overwritten
	state.Balances["alice"] = decimal.NewFromInt(25)
	state.Checkpoints[1] = &domain.Bid{Bidder: "carol", Amount: decimal.NewFromInt(99), Step: 9}
	check.NoError(t, s.SaveState(ctx, "a1", state))

	loaded, err := s.LoadState(ctx, "a1")
	check.NoError(t, err)
	check.True(t, loaded.Balances["alice"].Equal(decimal.NewFromInt(25)))
	check.Equal(t, "bob", loaded.Leader.Bidder)
	check.Equal(t, 2, len(loaded.Checkpoints))
	check.Nil(t, loaded.Checkpoints[0])
	check.Equal(t, "bob", loaded.Checkpoints[1].Bidder)
	check.Equal(t, uint64(5), loaded.Config.StartStep)

	err = s.SaveState(ctx, "missing", state)
	check.True(t, errors.Is(err, domain.ErrAuctionNotFound))
}

func TestStore_MarkFinalized(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	createTestAuction(t, s, "a1")
	createTestAuction(t, s, "a2")

	winner := &domain.Bid{Bidder: "bob", Amount: decimal.NewFromInt(20), Step: 9}
	check.NoError(t, s.MarkFinalized(ctx, "a1", &domain.FinalResult{Winner: winner, Slot: 1, Step: 10}))

	auction, err := s.GetAuction(ctx, "a1")
	check.NoError(t, err)
	check.True(t, auction.Finalized)
	check.Equal(t, "bob", auction.Winner.Bidder)
	check.True(t, auction.Winner.Amount.Equal(decimal.NewFromInt(20)))

	open, err := s.ListOpenAuctions(ctx)
	check.NoError(t, err)
	check.Equal(t, 1, len(open))
	check.Equal(t, "a2", open[0].ID)
}

func TestStore_BidHistory(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	for i, amount := range []int64{10, 15} {
		check.NoError(t, s.SaveBidEvent(ctx, &domain.BidEvent{
			Type:      domain.BidAccepted,
			AuctionID: "a1",
			UserID:    "alice",
			Amount:    decimal.NewFromInt(amount),
			Step:      uint64(5 + i),
			Phase:     "started",
			Timestamp: time.Now(),
		}))
	}
	check.NoError(t, s.SaveBidEvent(ctx, &domain.BidEvent{Type: domain.AuctionFinalized, AuctionID: "a1"}))

	history, err := s.GetBidHistory(ctx, "a1")
	check.NoError(t, err)
	check.Equal(t, 2, len(history))
	check.True(t, history[1].Amount.Equal(decimal.NewFromInt(15)))
	check.Equal(t, uint64(6), history[1].Step)
}

func TestStore_Jobs(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	for _, job := range []*domain.ScheduledJob{
		{ID: "j1", AuctionID: "a1", JobType: domain.JobFinalizeAuction, RunAtStep: 10, Status: domain.JobPending},
		{ID: "j2", AuctionID: "a2", JobType: domain.JobFinalizeAuction, RunAtStep: 20, Status: domain.JobPending},
		{ID: "j3", AuctionID: "a3", JobType: domain.JobFinalizeAuction, RunAtStep: 5, Status: domain.JobPending},
	} {
		check.NoError(t, s.CreateJob(ctx, job))
	}

	jobs, err := s.GetPendingJobs(ctx, 10)
	check.NoError(t, err)
	check.Equal(t, 2, len(jobs))
	check.Equal(t, "j3", jobs[0].ID)

	check.NoError(t, s.UpdateJobStatus(ctx, "j3", domain.JobExecuted))
	check.NoError(t, s.CancelJobsForAuction(ctx, "a1"))

	jobs, err = s.GetPendingJobs(ctx, 100)
	check.NoError(t, err)
	check.Equal(t, 1, len(jobs))
	check.Equal(t, "j2", jobs[0].ID)
}
