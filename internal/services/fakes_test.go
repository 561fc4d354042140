package services

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"block-auction/internal/domain"

	"github.com/shopspring/decimal"
)

type memStore struct {
	mu       sync.Mutex
	auctions map[string]*domain.Auction
	states   map[string]*domain.LedgerState
	jobs     map[string]*domain.ScheduledJob
	events   []*domain.BidEvent
	saveErr  error
}

func newMemStore() *memStore {
	return &memStore{
		auctions: make(map[string]*domain.Auction),
		states:   make(map[string]*domain.LedgerState),
		jobs:     make(map[string]*domain.ScheduledJob),
	}
}

func (m *memStore) CreateAuction(ctx context.Context, auction *domain.Auction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := *auction
	m.auctions[auction.ID] = &a
	m.states[auction.ID] = &domain.LedgerState{
		Config:      auction.Config,
		Balances:    map[string]decimal.Decimal{},
		Checkpoints: make([]*domain.Bid, auction.Config.EndingLength),
	}
	return nil
}

func (m *memStore) GetAuction(ctx context.Context, auctionID string) (*domain.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.auctions[auctionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrAuctionNotFound, auctionID)
	}
	c := *a
	return &c, nil
}

func (m *memStore) ListOpenAuctions(ctx context.Context) ([]*domain.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Auction
	for _, a := range m.auctions {
		if !a.Finalized {
			c := *a
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) SaveState(ctx context.Context, auctionID string, state *domain.LedgerState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	if _, ok := m.auctions[auctionID]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrAuctionNotFound, auctionID)
	}
	m.states[auctionID] = state
	return nil
}

func (m *memStore) LoadState(ctx context.Context, auctionID string) (*domain.LedgerState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[auctionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrAuctionNotFound, auctionID)
	}
	return state, nil
}

func (m *memStore) MarkFinalized(ctx context.Context, auctionID string, result *domain.FinalResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	a := m.auctions[auctionID]
	a.Finalized = true
	a.Winner = result.Winner
	m.states[auctionID].Finalized = true
	return nil
}

func (m *memStore) CreateJob(ctx context.Context, job *domain.ScheduledJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := *job
	m.jobs[job.ID] = &j
	return nil
}

func (m *memStore) GetPendingJobs(ctx context.Context, upToStep uint64) ([]*domain.ScheduledJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.ScheduledJob
	for _, j := range m.jobs {
		if j.Status == domain.JobPending && j.RunAtStep <= upToStep {
			c := *j
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *memStore) UpdateJobStatus(ctx context.Context, jobID string, status domain.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[jobID].Status = status
	return nil
}

func (m *memStore) CancelJobsForAuction(ctx context.Context, auctionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.AuctionID == auctionID && j.Status == domain.JobPending {
			j.Status = domain.JobCancelled
		}
	}
	return nil
}

func (m *memStore) jobsFor(auctionID string) []domain.ScheduledJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ScheduledJob
	for _, j := range m.jobs {
		if j.AuctionID == auctionID {
			out = append(out, *j)
		}
	}
	return out
}

func (m *memStore) SaveBidEvent(ctx context.Context, event *domain.BidEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *memStore) GetBidHistory(ctx context.Context, auctionID string) ([]*domain.BidEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.BidEvent
	for _, e := range m.events {
		if e.AuctionID == auctionID && e.Type == domain.BidAccepted {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeClock struct {
	mu   sync.Mutex
	step uint64
}

func (c *fakeClock) CurrentStep(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.step, nil
}

func (c *fakeClock) Advance(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.step++
	return c.step, nil
}

func (c *fakeClock) set(step uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.step = step
}

type fakeElection struct {
	mu     sync.Mutex
	leader string
}

func (f *fakeElection) BecomeLeader(ctx context.Context, instanceID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.leader == "" {
		f.leader = instanceID
	}
	return f.leader == instanceID, nil
}

func (f *fakeElection) IsLeader(ctx context.Context, instanceID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.leader == instanceID, nil
}

func (f *fakeElection) ReleaseLeadership(ctx context.Context, instanceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.leader == instanceID {
		f.leader = ""
	}
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*domain.BidEvent
}

func (p *recordingPublisher) PublishBidEvent(ctx context.Context, event *domain.BidEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []domain.BidEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.BidEventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type memSnapshots struct {
	mu    sync.Mutex
	state map[string]*domain.LedgerState
}

func newMemSnapshots() *memSnapshots {
	return &memSnapshots{state: make(map[string]*domain.LedgerState)}
}

func (s *memSnapshots) PutSnapshot(ctx context.Context, auctionID string, state *domain.LedgerState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[auctionID] = state
	return nil
}

func (s *memSnapshots) GetSnapshot(ctx context.Context, auctionID string) (*domain.LedgerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state[auctionID], nil
}

func (s *memSnapshots) DeleteSnapshot(ctx context.Context, auctionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.state, auctionID)
	return nil
}

type memLeaderCache struct {
	mu      sync.Mutex
	leaders map[string]*domain.Bid
}

func (c *memLeaderCache) SetLeader(ctx context.Context, auctionID string, bid *domain.Bid) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.leaders == nil {
		c.leaders = make(map[string]*domain.Bid)
	}
	c.leaders[auctionID] = bid
	return nil
}

func (c *memLeaderCache) GetLeader(ctx context.Context, auctionID string) (*domain.Bid, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.leaders[auctionID], nil
}

type recordingSettlement struct {
	mu      sync.Mutex
	results map[string]*domain.FinalResult
}

func (s *recordingSettlement) Settle(ctx context.Context, auctionID string, cfg domain.AuctionConfig, result *domain.FinalResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.results == nil {
		s.results = make(map[string]*domain.FinalResult)
	}
	s.results[auctionID] = result
	return nil
}

type sentMessage struct {
	target  string
	message interface{}
}

type fakeConnections struct {
	mu         sync.Mutex
	broadcasts []sentMessage
	direct     []sentMessage
	closed     []string
}

func (f *fakeConnections) RegisterConnection(userID, auctionID string, conn domain.WebSocketConnection) error {
	return nil
}

func (f *fakeConnections) UnregisterConnection(userID, auctionID string) error { return nil }

func (f *fakeConnections) GetConnectionsForAuction(auctionID string) []domain.WebSocketConnection {
	return nil
}

func (f *fakeConnections) BroadcastToAuction(auctionID string, message interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, sentMessage{auctionID, message})
	return nil
}

func (f *fakeConnections) NotifyUser(userID string, message interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.direct = append(f.direct, sentMessage{userID, message})
	return nil
}

func (f *fakeConnections) CloseAndUnregisterConnections(auctionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, auctionID)
	return nil
}

// fakeNotifier adapts fakeConnections the way the websocket notifier does.
type fakeNotifier struct{ conns *fakeConnections }

func (n fakeNotifier) BroadcastToAuction(ctx context.Context, auctionID string, message interface{}) error {
	return n.conns.BroadcastToAuction(auctionID, message)
}

func (n fakeNotifier) NotifyUser(ctx context.Context, userID string, message interface{}) error {
	return n.conns.NotifyUser(userID, message)
}
