package services

import (
	"context"
	"testing"

	"block-auction/internal/domain"
	"block-auction/pkg/logger"

	"github.com/peterldowns/testy/check"
)

func TestScheduler_FinalizesDueJobs(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture(t)
	id := f.create(t, 1)

	f.clock.set(8)
	f.scheduler.processPendingJobs(ctx)
	check.Equal(t, domain.JobPending, f.store.jobsFor(id)[0].Status)

	_, _, err := f.manager.PlaceBid(ctx, id, "alice", amt(12))
	check.NoError(t, err)

	f.clock.set(9)
	f.scheduler.processPendingJobs(ctx)

	auction, _ := f.store.GetAuction(ctx, id)
	check.True(t, auction.Finalized)
	check.Equal(t, "alice", auction.Winner.Bidder)
	check.Equal(t, domain.JobExecuted, f.store.jobsFor(id)[0].Status)
}

func TestScheduler_SkipsWhenNotLeader(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture(t)
	id := f.create(t, 0)

	check.NoError(t, f.election.ReleaseLeadership(ctx, testInstance))
	f.clock.set(20)
	f.scheduler.processPendingJobs(ctx)

	check.Equal(t, domain.JobPending, f.store.jobsFor(id)[0].Status)
	auction, _ := f.store.GetAuction(ctx, id)
	check.False(t, auction.Finalized)
}

func TestScheduler_DropsJobsForUnknownAuctions(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture(t)
	check.NoError(t, f.scheduler.ScheduleFinalize(ctx, "ghost", 3))

	f.clock.set(3)
	f.scheduler.processPendingJobs(ctx)
	check.Equal(t, domain.JobCancelled, f.store.jobsFor("ghost")[0].Status)
}

func TestBlockTicker_AdvancesOnLeaderOnly(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{}
	election := &fakeElection{leader: testInstance}
	ticker := NewBlockTicker(clock, election, testInstance, "@every 1s", logger.NewNop())

	ticker.tick(ctx)
	ticker.tick(ctx)
	step, _ := clock.CurrentStep(ctx)
	check.Equal(t, uint64(2), step)

	check.NoError(t, election.ReleaseLeadership(ctx, testInstance))
	ticker.tick(ctx)
	step, _ = clock.CurrentStep(ctx)
	check.Equal(t, uint64(2), step)
}

func TestScheduler_StartStop(t *testing.T) {
	f := newManagerFixture(t)
	check.NoError(t, f.scheduler.Start(context.Background()))
	check.NoError(t, f.scheduler.Stop())

	bad := NewCronAuctionScheduler(f.store, f.clock, f.manager, nil, testInstance, "not a spec", logger.NewNop())
	check.Error(t, bad.Start(context.Background()))
}
