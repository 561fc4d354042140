package mysql

import (
	"context"
	"database/sql"

	"block-auction/internal/domain"
)

type MySQLSchedulerRepository struct {
	db *sql.DB
}

func NewMySQLSchedulerRepository(db *sql.DB) *MySQLSchedulerRepository {
	return &MySQLSchedulerRepository{db: db}
}

func (r *MySQLSchedulerRepository) CreateJob(ctx context.Context, job *domain.ScheduledJob) error {
	query := `
        INSERT INTO scheduled_jobs (id, auction_id, job_type, run_at_step, status, created_at)
        VALUES (?, ?, ?, ?, ?, ?)
    `
	_, err := r.db.ExecContext(ctx, query,
		job.ID, job.AuctionID, string(job.JobType),
		job.RunAtStep, string(job.Status), job.CreatedAt)
	return err
}

// GetPendingJobs returns pending jobs due at or before upToStep.
func (r *MySQLSchedulerRepository) GetPendingJobs(ctx context.Context, upToStep uint64) ([]*domain.ScheduledJob, error) {
	query := `
        SELECT id, auction_id, job_type, run_at_step, status, created_at
        FROM scheduled_jobs
        WHERE status = 'pending' AND run_at_step <= ?
        ORDER BY run_at_step ASC
    `

	rows, err := r.db.QueryContext(ctx, query, upToStep)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*domain.ScheduledJob
	for rows.Next() {
		var job domain.ScheduledJob
		var jobType, status string

		err := rows.Scan(&job.ID, &job.AuctionID, &jobType,
			&job.RunAtStep, &status, &job.CreatedAt)
		if err != nil {
			return nil, err
		}

		job.JobType = domain.JobType(jobType)
		job.Status = domain.JobStatus(status)
		jobs = append(jobs, &job)
	}

	return jobs, rows.Err()
}

func (r *MySQLSchedulerRepository) UpdateJobStatus(ctx context.Context, jobID string, status domain.JobStatus) error {
	query := `UPDATE scheduled_jobs SET status = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query, string(status), jobID)
	return err
}

func (r *MySQLSchedulerRepository) CancelJobsForAuction(ctx context.Context, auctionID string) error {
	query := `UPDATE scheduled_jobs SET status = 'cancelled' WHERE auction_id = ? AND status = 'pending'`
	_, err := r.db.ExecContext(ctx, query, auctionID)
	return err
}
