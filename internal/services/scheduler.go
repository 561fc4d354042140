package services

import (
	"context"
	"errors"
	"time"

	"block-auction/internal/domain"
	"block-auction/pkg/logger"
	"block-auction/pkg/utils"

	"github.com/robfig/cron/v3"
)

// Finalizer closes an auction once its end step has been reached.
type Finalizer interface {
	Finalize(ctx context.Context, auctionID string) (*domain.FinalResult, error)
}

// CronAuctionScheduler stores finalize jobs keyed by block step and runs the
// due ones on a cron poll. Jobs only run on the leader.
type CronAuctionScheduler struct {
	cron       *cron.Cron
	pollSpec   string
	repo       domain.SchedulerRepository
	clock      domain.StepSource
	election   domain.LeaderElection
	instanceID string
	finalizer  Finalizer
	log        logger.Logger
}

func NewCronAuctionScheduler(repo domain.SchedulerRepository, clock domain.StepSource, finalizer Finalizer,
	election domain.LeaderElection, instanceID, pollSpec string, log logger.Logger) *CronAuctionScheduler {
	return &CronAuctionScheduler{
		cron:       cron.New(cron.WithSeconds()),
		pollSpec:   pollSpec,
		repo:       repo,
		clock:      clock,
		election:   election,
		instanceID: instanceID,
		finalizer:  finalizer,
		log:        log,
	}
}

func (s *CronAuctionScheduler) Start(ctx context.Context) error {
	s.log.Info("Starting auction scheduler", "poll", s.pollSpec)

	_, err := s.cron.AddFunc(s.pollSpec, func() {
		s.processPendingJobs(ctx)
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

func (s *CronAuctionScheduler) Stop() error {
	s.log.Info("Stopping auction scheduler")
	<-s.cron.Stop().Done()
	return nil
}

func (s *CronAuctionScheduler) ScheduleFinalize(ctx context.Context, auctionID string, atStep uint64) error {
	job := &domain.ScheduledJob{
		ID:        utils.GenerateID("job"),
		AuctionID: auctionID,
		JobType:   domain.JobFinalizeAuction,
		RunAtStep: atStep,
		Status:    domain.JobPending,
		CreatedAt: time.Now(),
	}

	return s.repo.CreateJob(ctx, job)
}

func (s *CronAuctionScheduler) CancelSchedule(ctx context.Context, auctionID string) error {
	return s.repo.CancelJobsForAuction(ctx, auctionID)
}

func (s *CronAuctionScheduler) processPendingJobs(ctx context.Context) {
	if s.election != nil {
		leader, err := s.election.IsLeader(ctx, s.instanceID)
		if err != nil {
			s.log.Error("Failed to check leadership", "error", err)
			return
		}
		if !leader {
			return
		}
	}

	step, err := s.clock.CurrentStep(ctx)
	if err != nil {
		s.log.Error("Failed to read current step", "error", err)
		return
	}

	jobs, err := s.repo.GetPendingJobs(ctx, step)
	if err != nil {
		s.log.Error("Failed to get pending jobs", "error", err)
		return
	}

	for _, job := range jobs {
		s.log.Info("Processing job", "job_id", job.ID, "type", job.JobType, "auction_id", job.AuctionID, "step", step)

		status, retry := s.runJob(ctx, job)
		if retry {
			continue
		}
		if err := s.repo.UpdateJobStatus(ctx, job.ID, status); err != nil {
			s.log.Error("Failed to update job status", "job_id", job.ID, "error", err)
		}
	}
}

// runJob executes one job and reports the status to record, or retry when
// the job should stay pending for the next poll.
func (s *CronAuctionScheduler) runJob(ctx context.Context, job *domain.ScheduledJob) (domain.JobStatus, bool) {
	if job.JobType != domain.JobFinalizeAuction {
		s.log.Warn("Unknown job type", "job_id", job.ID, "type", job.JobType)
		return domain.JobCancelled, false
	}

	_, err := s.finalizer.Finalize(ctx, job.AuctionID)
	switch {
	case err == nil, errors.Is(err, domain.ErrAlreadyFinalized):
		return domain.JobExecuted, false
	case errors.Is(err, domain.ErrAuctionNotFound):
		s.log.Warn("Dropping job for unknown auction", "job_id", job.ID, "auction_id", job.AuctionID)
		return domain.JobCancelled, false
	default:
		// the clock may lag behind the job step or leadership may have moved
		s.log.Error("Failed to execute job", "job_id", job.ID, "error", err)
		return "", true
	}
}

// BlockTicker advances the shared block height on the leader at a fixed cron
// interval. It is the step source of a deployment without an external chain.
type BlockTicker struct {
	cron       *cron.Cron
	spec       string
	clock      domain.BlockClock
	election   domain.LeaderElection
	instanceID string
	log        logger.Logger
}

func NewBlockTicker(clock domain.BlockClock, election domain.LeaderElection, instanceID, spec string, log logger.Logger) *BlockTicker {
	return &BlockTicker{
		cron:       cron.New(cron.WithSeconds()),
		spec:       spec,
		clock:      clock,
		election:   election,
		instanceID: instanceID,
		log:        log,
	}
}

func (t *BlockTicker) Start(ctx context.Context) error {
	t.log.Info("Starting block ticker", "interval", t.spec)

	if _, err := t.cron.AddFunc(t.spec, func() { t.tick(ctx) }); err != nil {
		return err
	}
	t.cron.Start()
	return nil
}

func (t *BlockTicker) Stop() {
	<-t.cron.Stop().Done()
}

func (t *BlockTicker) tick(ctx context.Context) {
	if t.election != nil {
		leader, err := t.election.IsLeader(ctx, t.instanceID)
		if err != nil || !leader {
			return
		}
	}

	step, err := t.clock.Advance(ctx)
	if err != nil {
		t.log.Error("Failed to advance block height", "error", err)
		return
	}
	t.log.Debug("Block advanced", "step", step)
}
