package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"block-auction/internal/domain"
	"block-auction/internal/engine"
	"block-auction/pkg/logger"
	"block-auction/pkg/utils"

	"github.com/shopspring/decimal"
)

// AuctionView is the read model returned by GetAuction.
type AuctionView struct {
	ID          string               `json:"auction_id"`
	Config      domain.AuctionConfig `json:"config"`
	CreatedAt   uint64               `json:"created_at_step"`
	Step        uint64               `json:"step"`
	Phase       string               `json:"phase"`
	Leader      *domain.Bid          `json:"leader,omitempty"`
	Checkpoints []*domain.Bid        `json:"checkpoints"`
	Finalized   bool                 `json:"finalized"`
	Winner      *domain.Bid          `json:"winner,omitempty"`
}

type auctionEntry struct {
	// mu serializes a ledger mutation with its persistence so a failed write
	// can be rolled back without losing a concurrent bid.
	mu     sync.Mutex
	engine *engine.Engine

	// accepted is the bid the engine reported last; read and cleared under mu
	accepted *acceptedBid
}

type acceptedBid struct {
	bid   domain.Bid
	phase domain.Phase
}

// BidAccepted is called by the engine while mu is held by PlaceBid.
func (ae *auctionEntry) BidAccepted(auctionID string, bid domain.Bid, phase domain.Phase) {
	ae.accepted = &acceptedBid{bid: bid, phase: phase}
}

func (ae *auctionEntry) takeAccepted() *acceptedBid {
	accepted := ae.accepted
	ae.accepted = nil
	return accepted
}

// AuctionManager hosts one engine per auction. Only the elected leader
// mutates engines; every accepted change is persisted before it is published.
type AuctionManager struct {
	auctionRepo    domain.AuctionRepository
	snapshots      domain.SnapshotCache
	leaderCache    domain.LeaderCache
	eventPub       domain.EventPublisher
	scheduler      domain.AuctionScheduler
	leaderElection domain.LeaderElection
	settlement     domain.Settlement
	clock          domain.StepSource
	instanceID     string
	log            logger.Logger

	mu      sync.RWMutex
	entries map[string]*auctionEntry
}

type ManagerDeps struct {
	AuctionRepo    domain.AuctionRepository
	Snapshots      domain.SnapshotCache
	LeaderCache    domain.LeaderCache
	EventPub       domain.EventPublisher
	Scheduler      domain.AuctionScheduler
	LeaderElection domain.LeaderElection
	Settlement     domain.Settlement
	Clock          domain.StepSource
}

// NewAuctionManager wires the manager. AuctionRepo and Clock are required;
// a nil LeaderElection runs the manager as the only instance.
func NewAuctionManager(deps ManagerDeps, instanceID string, log logger.Logger) *AuctionManager {
	return &AuctionManager{
		auctionRepo:    deps.AuctionRepo,
		snapshots:      deps.Snapshots,
		leaderCache:    deps.LeaderCache,
		eventPub:       deps.EventPub,
		scheduler:      deps.Scheduler,
		leaderElection: deps.LeaderElection,
		settlement:     deps.Settlement,
		clock:          deps.Clock,
		instanceID:     instanceID,
		log:            log,
		entries:        make(map[string]*auctionEntry),
	}
}

func (am *AuctionManager) SetScheduler(scheduler domain.AuctionScheduler) {
	am.scheduler = scheduler
}

func (am *AuctionManager) isLeader(ctx context.Context) (bool, error) {
	if am.leaderElection == nil {
		return true, nil
	}
	return am.leaderElection.IsLeader(ctx, am.instanceID)
}

func (am *AuctionManager) requireLeader(ctx context.Context) error {
	leader, err := am.isLeader(ctx)
	if err != nil {
		return fmt.Errorf("check leadership: %w", err)
	}
	if !leader {
		return domain.ErrNotLeader
	}
	return nil
}

// CreateAuction validates cfg against the current step, persists the auction
// and schedules its finalization at the end step.
func (am *AuctionManager) CreateAuction(ctx context.Context, cfg domain.AuctionConfig) (*domain.Auction, error) {
	if err := am.requireLeader(ctx); err != nil {
		return nil, err
	}

	step, err := am.clock.CurrentStep(ctx)
	if err != nil {
		return nil, fmt.Errorf("read current step: %w", err)
	}

	id := utils.GenerateID("auction")
	entry := &auctionEntry{}
	e, err := engine.New(id, cfg, step, entry)
	if err != nil {
		return nil, err
	}
	entry.engine = e

	auction := &domain.Auction{
		ID:        id,
		Config:    cfg,
		CreatedAt: step,
		UpdatedAt: time.Now(),
	}
	if err := am.auctionRepo.CreateAuction(ctx, auction); err != nil {
		return nil, fmt.Errorf("persist auction: %w", err)
	}

	if am.scheduler != nil {
		if err := am.scheduler.ScheduleFinalize(ctx, id, cfg.EndStep()); err != nil {
			return nil, fmt.Errorf("schedule finalize: %w", err)
		}
	}

	am.mu.Lock()
	am.entries[id] = entry
	am.mu.Unlock()

	am.cacheSnapshot(ctx, id, e.Snapshot())

	am.log.Info("Auction created", "auction_id", id, "seller", cfg.Seller,
		"start_step", cfg.StartStep, "end_step", cfg.EndStep(), "created_at", step)
	return auction, nil
}

// PlaceBid applies a bid at the current step. The returned bid is the new leader.
func (am *AuctionManager) PlaceBid(ctx context.Context, auctionID, bidder string, amount decimal.Decimal) (*domain.Bid, domain.Phase, error) {
	if err := am.requireLeader(ctx); err != nil {
		return nil, domain.Phase{}, err
	}

	entry, err := am.entry(ctx, auctionID)
	if err != nil {
		return nil, domain.Phase{}, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	// read under the entry lock so queued bids observe non-decreasing steps
	step, err := am.clock.CurrentStep(ctx)
	if err != nil {
		return nil, domain.Phase{}, fmt.Errorf("read current step: %w", err)
	}

	e := entry.engine
	phase := e.Status(step)
	before := e.Snapshot()

	if err := e.PlaceBid(bidder, amount, step); err != nil {
		am.log.Info("Bid rejected", "auction_id", auctionID, "user_id", bidder,
			"amount", amount.String(), "step", step, "phase", phase.String(), "reason", err)
		am.publish(ctx, &domain.BidEvent{
			Type:      domain.BidRejected,
			AuctionID: auctionID,
			UserID:    bidder,
			Amount:    amount,
			Step:      step,
			Phase:     phase.String(),
			Timestamp: time.Now(),
		})
		return nil, phase, err
	}

	accepted := entry.takeAccepted()
	after := e.Snapshot()
	if err := am.auctionRepo.SaveState(ctx, auctionID, after); err != nil {
		if resetErr := e.Reset(before); resetErr != nil {
			am.log.Error("Failed to roll back ledger", "auction_id", auctionID, "error", resetErr)
		}
		return nil, phase, fmt.Errorf("persist bid: %w", err)
	}

	if am.leaderCache != nil {
		if err := am.leaderCache.SetLeader(ctx, auctionID, after.Leader); err != nil {
			am.log.Warn("Failed to cache leader", "auction_id", auctionID, "error", err)
		}
	}
	am.cacheSnapshot(ctx, auctionID, after)

	am.log.Info("Bid accepted", "auction_id", auctionID, "user_id", accepted.bid.Bidder,
		"amount", accepted.bid.Amount.String(), "step", accepted.bid.Step, "phase", accepted.phase.String())
	am.publish(ctx, &domain.BidEvent{
		Type:      domain.BidAccepted,
		AuctionID: auctionID,
		UserID:    accepted.bid.Bidder,
		Amount:    accepted.bid.Amount,
		Step:      accepted.bid.Step,
		Phase:     accepted.phase.String(),
		Timestamp: time.Now(),
	})

	return after.Leader, phase, nil
}

// Finalize closes an ended auction, records the result and hands it to settlement.
func (am *AuctionManager) Finalize(ctx context.Context, auctionID string) (*domain.FinalResult, error) {
	if err := am.requireLeader(ctx); err != nil {
		return nil, err
	}

	entry, err := am.entry(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	step, err := am.clock.CurrentStep(ctx)
	if err != nil {
		return nil, fmt.Errorf("read current step: %w", err)
	}

	e := entry.engine
	before := e.Snapshot()
	result, err := e.Finalize(step)
	if err != nil {
		return nil, err
	}

	// finalizing only flips the flag, which MarkFinalized records with the result
	if err := am.auctionRepo.MarkFinalized(ctx, auctionID, result); err != nil {
		if resetErr := e.Reset(before); resetErr != nil {
			am.log.Error("Failed to roll back ledger", "auction_id", auctionID, "error", resetErr)
		}
		return nil, fmt.Errorf("persist result: %w", err)
	}

	if am.settlement != nil {
		if err := am.settlement.Settle(ctx, auctionID, e.Config(), result); err != nil {
			am.log.Error("Settlement failed", "auction_id", auctionID, "error", err)
		}
	}
	if am.scheduler != nil {
		if err := am.scheduler.CancelSchedule(ctx, auctionID); err != nil {
			am.log.Warn("Failed to cancel finalize job", "auction_id", auctionID, "error", err)
		}
	}
	if am.snapshots != nil {
		if err := am.snapshots.DeleteSnapshot(ctx, auctionID); err != nil {
			am.log.Warn("Failed to drop snapshot", "auction_id", auctionID, "error", err)
		}
	}

	event := &domain.BidEvent{
		Type:      domain.AuctionFinalized,
		AuctionID: auctionID,
		Step:      step,
		Phase:     domain.PhaseEnded.String(),
		Timestamp: time.Now(),
	}
	if result.Winner != nil {
		event.UserID = result.Winner.Bidder
		event.Amount = result.Winner.Amount
		am.log.Info("Auction finalized", "auction_id", auctionID, "winner", result.Winner.Bidder,
			"amount", result.Winner.Amount.String(), "slot", result.Slot, "step", step)
	} else {
		am.log.Info("Auction finalized without winner", "auction_id", auctionID, "step", step)
	}
	am.publish(ctx, event)

	return result, nil
}

// Status reports the phase of an auction at the current step.
func (am *AuctionManager) Status(ctx context.Context, auctionID string) (domain.Phase, uint64, error) {
	e, err := am.readEngine(ctx, auctionID)
	if err != nil {
		return domain.Phase{}, 0, err
	}

	step, err := am.clock.CurrentStep(ctx)
	if err != nil {
		return domain.Phase{}, 0, fmt.Errorf("read current step: %w", err)
	}
	return e.Status(step), step, nil
}

func (am *AuctionManager) GetAuction(ctx context.Context, auctionID string) (*AuctionView, error) {
	auction, err := am.auctionRepo.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	e, err := am.readEngine(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	step, err := am.clock.CurrentStep(ctx)
	if err != nil {
		return nil, fmt.Errorf("read current step: %w", err)
	}

	state := e.Snapshot()
	return &AuctionView{
		ID:          auctionID,
		Config:      state.Config,
		CreatedAt:   auction.CreatedAt,
		Step:        step,
		Phase:       e.Status(step).String(),
		Leader:      state.Leader,
		Checkpoints: state.Checkpoints,
		Finalized:   state.Finalized,
		Winner:      auction.Winner,
	}, nil
}

// Load replaces the in-memory engines with the open auctions of the store.
// It runs on startup and whenever this instance becomes leader. Engines are
// rebuilt from the store only; the snapshot cache may lag behind a committed
// bid, so it is overwritten with the restored state instead of read.
func (am *AuctionManager) Load(ctx context.Context) (int, error) {
	auctions, err := am.auctionRepo.ListOpenAuctions(ctx)
	if err != nil {
		return 0, fmt.Errorf("list open auctions: %w", err)
	}

	entries := make(map[string]*auctionEntry, len(auctions))
	for _, auction := range auctions {
		entry, err := am.newEntry(ctx, auction.ID)
		if err != nil {
			am.log.Error("Failed to restore auction", "auction_id", auction.ID, "error", err)
			continue
		}
		entries[auction.ID] = entry
		am.cacheSnapshot(ctx, auction.ID, entry.engine.Snapshot())
	}

	am.mu.Lock()
	am.entries = entries
	am.mu.Unlock()

	am.log.Info("Auctions loaded", "count", len(entries))
	return len(entries), nil
}

// entry returns the cached engine of an auction, restoring it on first use.
func (am *AuctionManager) entry(ctx context.Context, auctionID string) (*auctionEntry, error) {
	am.mu.RLock()
	entry, ok := am.entries[auctionID]
	am.mu.RUnlock()
	if ok {
		return entry, nil
	}

	entry, err := am.newEntry(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	am.mu.Lock()
	defer am.mu.Unlock()
	if existing, ok := am.entries[auctionID]; ok {
		return existing, nil
	}
	am.entries[auctionID] = entry
	return entry, nil
}

func (am *AuctionManager) newEntry(ctx context.Context, auctionID string) (*auctionEntry, error) {
	entry := &auctionEntry{}
	e, err := am.restore(ctx, auctionID, entry)
	if err != nil {
		return nil, err
	}
	entry.engine = e
	return entry, nil
}

// readEngine serves reads. Followers do not own the ledger, so they read a
// fresh copy from the store instead of caching it.
func (am *AuctionManager) readEngine(ctx context.Context, auctionID string) (*engine.Engine, error) {
	leader, err := am.isLeader(ctx)
	if err != nil {
		return nil, fmt.Errorf("check leadership: %w", err)
	}
	if !leader {
		return am.restore(ctx, auctionID, nil)
	}
	entry, err := am.entry(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	return entry.engine, nil
}

// restore rebuilds an engine from the store, which is the only source that
// is never behind an accepted bid.
func (am *AuctionManager) restore(ctx context.Context, auctionID string, sink domain.BidSink) (*engine.Engine, error) {
	state, err := am.auctionRepo.LoadState(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	return engine.Restore(auctionID, state, sink)
}

func (am *AuctionManager) cacheSnapshot(ctx context.Context, auctionID string, state *domain.LedgerState) {
	if am.snapshots == nil {
		return
	}
	if err := am.snapshots.PutSnapshot(ctx, auctionID, state); err != nil {
		am.log.Warn("Failed to cache snapshot", "auction_id", auctionID, "error", err)
		// a stale snapshot must not outlive the write that replaced it
		if err := am.snapshots.DeleteSnapshot(ctx, auctionID); err != nil {
			am.log.Error("Failed to drop stale snapshot", "auction_id", auctionID, "error", err)
		}
	}
}

func (am *AuctionManager) publish(ctx context.Context, event *domain.BidEvent) {
	if am.eventPub == nil {
		return
	}
	if err := am.eventPub.PublishBidEvent(ctx, event); err != nil {
		am.log.Error("Failed to publish event", "type", event.Type, "auction_id", event.AuctionID, "error", err)
	}
}
