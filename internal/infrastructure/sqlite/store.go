package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"block-auction/internal/domain"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// Store is the single-node replacement for the MySQL repositories. It keeps
// auctions, bid history and finalize jobs in one embedded SQLite file.
type Store struct {
	db *gorm.DB
}

type auctionRecord struct {
	ID            string `gorm:"primaryKey"`
	Seller        string
	ItemRef       string
	MinBid        string
	StartStep     uint64
	OpeningLength uint64
	EndingLength  uint64
	CreatedStep   uint64
	LeaderBidder  *string
	LeaderAmount  *string
	LeaderStep    *uint64
	Finalized     bool `gorm:"index"`
	WinnerBidder  *string
	WinnerAmount  *string
	WinnerStep    *uint64
	WinnerSlot    *int
	UpdatedAt     time.Time
}

func (auctionRecord) TableName() string { return "auctions" }

type balanceRecord struct {
	AuctionID string `gorm:"primaryKey"`
	Bidder    string `gorm:"primaryKey"`
	Amount    string
}

func (balanceRecord) TableName() string { return "auction_balances" }

type checkpointRecord struct {
	AuctionID string `gorm:"primaryKey"`
	Slot      uint64 `gorm:"primaryKey;autoIncrement:false"`
	Bidder    string
	Amount    string
	Step      uint64
}

func (checkpointRecord) TableName() string { return "auction_checkpoints" }

type bidEventRecord struct {
	ID        uint   `gorm:"primaryKey"`
	AuctionID string `gorm:"index"`
	UserID    string
	Amount    string
	Step      uint64
	Phase     string
	EventType string
	Timestamp time.Time
	CreatedAt time.Time
}

func (bidEventRecord) TableName() string { return "bid_events" }

type jobRecord struct {
	ID        string `gorm:"primaryKey"`
	AuctionID string `gorm:"index"`
	JobType   string
	RunAtStep uint64 `gorm:"index"`
	Status    string `gorm:"index"`
	CreatedAt time.Time
}

func (jobRecord) TableName() string { return "scheduled_jobs" }

// NewStore opens (and migrates) the database file at path.
func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&auctionRecord{}, &balanceRecord{}, &checkpointRecord{},
		&bidEventRecord{}, &jobRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Auctions
// ======================================================================================

func (s *Store) CreateAuction(ctx context.Context, auction *domain.Auction) error {
	cfg := auction.Config
	return s.db.WithContext(ctx).Create(&auctionRecord{
		ID:            auction.ID,
		Seller:        cfg.Seller,
		ItemRef:       cfg.ItemRef,
		MinBid:        cfg.MinBid.String(),
		StartStep:     cfg.StartStep,
		OpeningLength: cfg.OpeningLength,
		EndingLength:  cfg.EndingLength,
		CreatedStep:   auction.CreatedAt,
		UpdatedAt:     auction.UpdatedAt,
	}).Error
}

func (s *Store) GetAuction(ctx context.Context, auctionID string) (*domain.Auction, error) {
	rec, err := s.findAuction(s.db.WithContext(ctx), auctionID)
	if err != nil {
		return nil, err
	}
	return rec.toAuction()
}

func (s *Store) ListOpenAuctions(ctx context.Context) ([]*domain.Auction, error) {
	var recs []auctionRecord
	if err := s.db.WithContext(ctx).Where("finalized = ?", false).Order("start_step").Find(&recs).Error; err != nil {
		return nil, err
	}

	auctions := make([]*domain.Auction, 0, len(recs))
	for i := range recs {
		auction, err := recs[i].toAuction()
		if err != nil {
			return nil, err
		}
		auctions = append(auctions, auction)
	}
	return auctions, nil
}

func (s *Store) SaveState(ctx context.Context, auctionID string, state *domain.LedgerState) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]any{
			"leader_bidder": nil,
			"leader_amount": nil,
			"leader_step":   nil,
			"finalized":     state.Finalized,
			"updated_at":    time.Now(),
		}
		if state.Leader != nil {
			updates["leader_bidder"] = state.Leader.Bidder
			updates["leader_amount"] = state.Leader.Amount.String()
			updates["leader_step"] = state.Leader.Step
		}
		result := tx.Model(&auctionRecord{}).Where("id = ?", auctionID).Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", domain.ErrAuctionNotFound, auctionID)
		}

		if len(state.Balances) > 0 {
			balances := make([]balanceRecord, 0, len(state.Balances))
			for bidder, amount := range state.Balances {
				balances = append(balances, balanceRecord{AuctionID: auctionID, Bidder: bidder, Amount: amount.String()})
			}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "auction_id"}, {Name: "bidder"}},
				DoUpdates: clause.AssignmentColumns([]string{"amount"}),
			}).Create(&balances).Error
			if err != nil {
				return err
			}
		}

		var slots []checkpointRecord
		for slot, bid := range state.Checkpoints {
			if bid == nil {
				continue
			}
			slots = append(slots, checkpointRecord{
				AuctionID: auctionID,
				Slot:      uint64(slot),
				Bidder:    bid.Bidder,
				Amount:    bid.Amount.String(),
				Step:      bid.Step,
			})
		}
		if len(slots) > 0 {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&slots).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) LoadState(ctx context.Context, auctionID string) (*domain.LedgerState, error) {
	db := s.db.WithContext(ctx)
	rec, err := s.findAuction(db, auctionID)
	if err != nil {
		return nil, err
	}
	auction, err := rec.toAuction()
	if err != nil {
		return nil, err
	}

	state := &domain.LedgerState{
		Config:      auction.Config,
		Balances:    make(map[string]decimal.Decimal),
		Checkpoints: make([]*domain.Bid, auction.Config.EndingLength),
		Finalized:   rec.Finalized,
	}
	if state.Leader, err = optionalBid(rec.LeaderBidder, rec.LeaderAmount, rec.LeaderStep); err != nil {
		return nil, err
	}

	var balances []balanceRecord
	if err := db.Where("auction_id = ?", auctionID).Find(&balances).Error; err != nil {
		return nil, err
	}
	for _, b := range balances {
		amount, err := decimal.NewFromString(b.Amount)
		if err != nil {
			return nil, fmt.Errorf("balance of %s: %w", b.Bidder, err)
		}
		state.Balances[b.Bidder] = amount
	}

	var slots []checkpointRecord
	if err := db.Where("auction_id = ?", auctionID).Order("slot").Find(&slots).Error; err != nil {
		return nil, err
	}
	for _, c := range slots {
		if c.Slot >= uint64(len(state.Checkpoints)) {
			return nil, fmt.Errorf("auction %s: checkpoint slot %d out of range", auctionID, c.Slot)
		}
		amount, err := decimal.NewFromString(c.Amount)
		if err != nil {
			return nil, fmt.Errorf("checkpoint %d: %w", c.Slot, err)
		}
		state.Checkpoints[c.Slot] = &domain.Bid{Bidder: c.Bidder, Amount: amount, Step: c.Step}
	}
	return state, nil
}

func (s *Store) MarkFinalized(ctx context.Context, auctionID string, result *domain.FinalResult) error {
	updates := map[string]any{
		"finalized":     true,
		"winner_bidder": nil,
		"winner_amount": nil,
		"winner_step":   nil,
		"winner_slot":   nil,
		"updated_at":    time.Now(),
	}
	if result.Winner != nil {
		updates["winner_bidder"] = result.Winner.Bidder
		updates["winner_amount"] = result.Winner.Amount.String()
		updates["winner_step"] = result.Winner.Step
		updates["winner_slot"] = result.Slot
	}
	return s.db.WithContext(ctx).Model(&auctionRecord{}).Where("id = ?", auctionID).Updates(updates).Error
}

func (s *Store) findAuction(db *gorm.DB, auctionID string) (*auctionRecord, error) {
	var rec auctionRecord
	err := db.First(&rec, "id = ?", auctionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrAuctionNotFound, auctionID)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *auctionRecord) toAuction() (*domain.Auction, error) {
	minBid, err := decimal.NewFromString(r.MinBid)
	if err != nil {
		return nil, fmt.Errorf("auction %s min_bid: %w", r.ID, err)
	}
	winner, err := optionalBid(r.WinnerBidder, r.WinnerAmount, r.WinnerStep)
	if err != nil {
		return nil, fmt.Errorf("auction %s winner: %w", r.ID, err)
	}

	return &domain.Auction{
		ID: r.ID,
		Config: domain.AuctionConfig{
			Seller:        r.Seller,
			ItemRef:       r.ItemRef,
			MinBid:        minBid,
			StartStep:     r.StartStep,
			OpeningLength: r.OpeningLength,
			EndingLength:  r.EndingLength,
		},
		CreatedAt: r.CreatedStep,
		Finalized: r.Finalized,
		Winner:    winner,
		UpdatedAt: r.UpdatedAt,
	}, nil
}

func optionalBid(bidder, amount *string, step *uint64) (*domain.Bid, error) {
	if bidder == nil || amount == nil {
		return nil, nil
	}
	value, err := decimal.NewFromString(*amount)
	if err != nil {
		return nil, err
	}
	bid := &domain.Bid{Bidder: *bidder, Amount: value}
	if step != nil {
		bid.Step = *step
	}
	return bid, nil
}

// ======================================================================================
// Bid history
// ======================================================================================

func (s *Store) SaveBidEvent(ctx context.Context, event *domain.BidEvent) error {
	return s.db.WithContext(ctx).Create(&bidEventRecord{
		AuctionID: event.AuctionID,
		UserID:    event.UserID,
		Amount:    event.Amount.String(),
		Step:      event.Step,
		Phase:     event.Phase,
		EventType: string(event.Type),
		Timestamp: event.Timestamp,
	}).Error
}

func (s *Store) GetBidHistory(ctx context.Context, auctionID string) ([]*domain.BidEvent, error) {
	var recs []bidEventRecord
	err := s.db.WithContext(ctx).
		Where("auction_id = ? AND event_type = ?", auctionID, string(domain.BidAccepted)).
		Order("step, id").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}

	events := make([]*domain.BidEvent, 0, len(recs))
	for _, rec := range recs {
		amount, err := decimal.NewFromString(rec.Amount)
		if err != nil {
			return nil, fmt.Errorf("bid event amount: %w", err)
		}
		events = append(events, &domain.BidEvent{
			Type:      domain.BidEventType(rec.EventType),
			AuctionID: rec.AuctionID,
			UserID:    rec.UserID,
			Amount:    amount,
			Step:      rec.Step,
			Phase:     rec.Phase,
			Timestamp: rec.Timestamp,
		})
	}
	return events, nil
}

// ======================================================================================
// Finalize jobs
// ======================================================================================

func (s *Store) CreateJob(ctx context.Context, job *domain.ScheduledJob) error {
	return s.db.WithContext(ctx).Create(&jobRecord{
		ID:        job.ID,
		AuctionID: job.AuctionID,
		JobType:   string(job.JobType),
		RunAtStep: job.RunAtStep,
		Status:    string(job.Status),
		CreatedAt: job.CreatedAt,
	}).Error
}

func (s *Store) GetPendingJobs(ctx context.Context, upToStep uint64) ([]*domain.ScheduledJob, error) {
	var recs []jobRecord
	err := s.db.WithContext(ctx).
		Where("status = ? AND run_at_step <= ?", string(domain.JobPending), upToStep).
		Order("run_at_step").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}

	jobs := make([]*domain.ScheduledJob, 0, len(recs))
	for _, rec := range recs {
		jobs = append(jobs, &domain.ScheduledJob{
			ID:        rec.ID,
			AuctionID: rec.AuctionID,
			JobType:   domain.JobType(rec.JobType),
			RunAtStep: rec.RunAtStep,
			Status:    domain.JobStatus(rec.Status),
			CreatedAt: rec.CreatedAt,
		})
	}
	return jobs, nil
}

func (s *Store) UpdateJobStatus(ctx context.Context, jobID string, status domain.JobStatus) error {
	return s.db.WithContext(ctx).Model(&jobRecord{}).Where("id = ?", jobID).Update("status", string(status)).Error
}

func (s *Store) CancelJobsForAuction(ctx context.Context, auctionID string) error {
	return s.db.WithContext(ctx).Model(&jobRecord{}).
		Where("auction_id = ? AND status = ?", auctionID, string(domain.JobPending)).
		Update("status", string(domain.JobCancelled)).Error
}
