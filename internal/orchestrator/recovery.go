package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RecoverOrphans settles jobs a previous process left queued or running for
// longer than olderThan. Their holds are returned and the failure is
// delivered once. It returns the number of jobs settled.
func (s *Service) RecoverOrphans(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.cfg.Now().Add(-olderThan)
	jobs, err := s.jobs.ListUnsettled(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list unsettled jobs: %w", err)
	}
	settled := 0
	for i := range jobs {
		if err := ctx.Err(); err != nil {
			return settled, err
		}
		job := jobs[i]
		if lease, ok := s.adm.Locks.Holder(job.UserID); ok && lease.JobID == job.ID {
			continue
		}
		log := s.logger.With().
			Str("job_id", job.ID).
			Str("user_id", job.UserID).
			Str("model", job.ModelID).
			Str("status", string(job.Status)).
			Logger()
		run := &jobRun{
			job:         job,
			fingerprint: job.IdempotencyKey,
			held:        job.Paid(),
			taskID:      job.ProviderTaskID,
			log:         log,
		}
		s.settle(run, outcome{kind: outcomeFailure, code: "orphaned", err: errors.New("job abandoned by a previous process")})
		settled++
	}
	if settled > 0 {
		s.logger.Info().Int("count", settled).Msg("recovered orphaned jobs")
	}
	return settled, nil
}
