package domain

import (
	"context"
)

// Repository interfaces
type AuctionRepository interface {
	CreateAuction(ctx context.Context, auction *Auction) error
	GetAuction(ctx context.Context, auctionID string) (*Auction, error)
	ListOpenAuctions(ctx context.Context) ([]*Auction, error)
	SaveState(ctx context.Context, auctionID string, state *LedgerState) error
	LoadState(ctx context.Context, auctionID string) (*LedgerState, error)
	MarkFinalized(ctx context.Context, auctionID string, result *FinalResult) error
}

type BidRepository interface {
	SaveBidEvent(ctx context.Context, event *BidEvent) error
	GetBidHistory(ctx context.Context, auctionID string) ([]*BidEvent, error)
}

type SchedulerRepository interface {
	CreateJob(ctx context.Context, job *ScheduledJob) error
	GetPendingJobs(ctx context.Context, upToStep uint64) ([]*ScheduledJob, error)
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus) error
	CancelJobsForAuction(ctx context.Context, auctionID string) error
}

// StepSource supplies the current discrete time-step (block height).
type StepSource interface {
	CurrentStep(ctx context.Context) (uint64, error)
}

// BlockClock is a StepSource that can be advanced by the leader.
type BlockClock interface {
	StepSource
	Advance(ctx context.Context) (uint64, error)
}

// Cache interfaces
type LeaderCache interface {
	SetLeader(ctx context.Context, auctionID string, bid *Bid) error
	GetLeader(ctx context.Context, auctionID string) (*Bid, error)
}

type SnapshotCache interface {
	PutSnapshot(ctx context.Context, auctionID string, state *LedgerState) error
	GetSnapshot(ctx context.Context, auctionID string) (*LedgerState, error)
	DeleteSnapshot(ctx context.Context, auctionID string) error
}

// BidSink receives every accepted bid of an engine, in acceptance order.
// Implementations must not call back into the engine.
type BidSink interface {
	BidAccepted(auctionID string, bid Bid, phase Phase)
}

// Event interfaces
type EventPublisher interface {
	PublishBidEvent(ctx context.Context, event *BidEvent) error
}

type EventSubscriber interface {
	SubscribeToBidEvents(ctx context.Context, handler EventHandler) error
}

type EventHandler func(event *BidEvent) error

// Settlement moves funds and the auctioned item once a result is final.
type Settlement interface {
	Settle(ctx context.Context, auctionID string, cfg AuctionConfig, result *FinalResult) error
}

// Notification interfaces
type AuctionBroadcaster interface {
	BroadcastToAuction(ctx context.Context, auctionID string, message interface{}) error
}

type UserNotifier interface {
	NotifyUser(ctx context.Context, userID string, message interface{}) error
}

// Leader election interface
type LeaderElection interface {
	BecomeLeader(ctx context.Context, instanceID string) (bool, error)
	IsLeader(ctx context.Context, instanceID string) (bool, error)
	ReleaseLeadership(ctx context.Context, instanceID string) error
}

// Scheduler interface
type AuctionScheduler interface {
	ScheduleFinalize(ctx context.Context, auctionID string, atStep uint64) error
	CancelSchedule(ctx context.Context, auctionID string) error
	Start(ctx context.Context) error
	Stop() error
}

// WebSocket interfaces
type WebSocketConnection interface {
	Send(message interface{}) error
	Close() error
	UserID() string
	AuctionID() string
}

type ConnectionManager interface {
	RegisterConnection(userID, auctionID string, conn WebSocketConnection) error
	UnregisterConnection(userID, auctionID string) error
	GetConnectionsForAuction(auctionID string) []WebSocketConnection
	BroadcastToAuction(auctionID string, message interface{}) error
	NotifyUser(userID string, message interface{}) error
	CloseAndUnregisterConnections(auctionID string) error
}
