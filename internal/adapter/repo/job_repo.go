package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"genorch/internal/domain"
	"genorch/internal/infra"
	"genorch/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobRecords on PostgreSQL.
type JobRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(sql infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{sql: sql}
}

// Create inserts a new job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	input := job.Input
	if input == nil {
		input = map[string]any{}
	}
	inputJSON, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("encode job input: %w", err)
	}
	status := job.Status
	if status == "" {
		status = domain.JobStatusQueued
	}
	_, err = r.sql.Exec(ctx, sqlinline.QInsertJob,
		job.ID,
		job.UserID,
		job.IdempotencyKey,
		job.ModelID,
		inputJSON,
		job.Price.String(),
		string(status),
	)
	return err
}

// AttachTask records the provider task id once.
func (r *JobRepositoryPG) AttachTask(ctx context.Context, jobID, taskID string) error {
	tag, err := r.sql.Exec(ctx, sqlinline.QAttachJobTask, jobID, taskID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.status(ctx, jobID); err != nil {
			return err
		}
		return fmt.Errorf("job %s already has another provider task", jobID)
	}
	return nil
}

// UpdateStatus moves the job forward. Re-applying the current status is a
// no-op; any other rejected move is domain.ErrInvalidTransition.
func (r *JobRepositoryPG) UpdateStatus(ctx context.Context, jobID string, status domain.JobStatus, update domain.StatusUpdate) error {
	var resultJSON []byte
	if update.Result != nil {
		raw, err := json.Marshal(update.Result)
		if err != nil {
			return fmt.Errorf("encode job result: %w", err)
		}
		resultJSON = raw
	}
	from := domain.Predecessors(status)
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}
	tag, err := r.sql.Exec(ctx, sqlinline.QUpdateJobStatus,
		jobID,
		string(status),
		nullableBytes(resultJSON),
		update.FailCode,
		update.ErrorMessage,
		allowed,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	current, err := r.status(ctx, jobID)
	if err != nil {
		return err
	}
	if current == status {
		return nil
	}
	return fmt.Errorf("job %s %s -> %s: %w", jobID, current, status, domain.ErrInvalidTransition)
}

// MarkReplied is the exactly-once delivery gate.
func (r *JobRepositoryPG) MarkReplied(ctx context.Context, jobID string, payload []byte) (bool, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QMarkJobReplied, jobID, nullableBytes(payload))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Get fetches a job by its identifier.
func (r *JobRepositoryPG) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QSelectJob, jobID)
	job, err := scanJob(row)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// ListUnsettled returns queued or running jobs untouched since olderThan.
func (r *JobRepositoryPG) ListUnsettled(ctx context.Context, olderThan time.Time) ([]domain.Job, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QListUnsettledJobs, olderThan)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func (r *JobRepositoryPG) status(ctx context.Context, jobID string) (domain.JobStatus, error) {
	var status string
	if err := r.sql.QueryRow(ctx, sqlinline.QSelectJobStatus, jobID).Scan(&status); err != nil {
		if infra.IsNoRows(err) {
			return "", domain.ErrNotFound
		}
		return "", err
	}
	return domain.JobStatus(status), nil
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job        domain.Job
		inputJSON  []byte
		price      string
		status     string
		resultJSON []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.IdempotencyKey,
		&job.ModelID,
		&inputJSON,
		&price,
		&status,
		&job.ProviderTaskID,
		&resultJSON,
		&job.FailCode,
		&job.ErrorMessage,
		&job.Replied,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	amount, err := decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("decode job price %q: %w", price, err)
	}
	job.Price = amount
	if len(inputJSON) > 0 {
		if err := json.Unmarshal(inputJSON, &job.Input); err != nil {
			return nil, fmt.Errorf("decode job input: %w", err)
		}
	}
	if len(resultJSON) > 0 {
		var result domain.GenerationResult
		if err := json.Unmarshal(resultJSON, &result); err != nil {
			return nil, fmt.Errorf("decode job result: %w", err)
		}
		job.Result = &result
	}
	return &job, nil
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
