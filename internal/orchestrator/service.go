// Package orchestrator runs generation jobs from submission to a single
// final delivery, keeping the user's money consistent on every path.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"genorch/internal/admission"
	"genorch/internal/domain"
)

// Config tunes the job lifecycle. Zero fields take defaults.
type Config struct {
	PollInterval time.Duration
	// DefaultTimeout also caps the timeout a request may ask for.
	DefaultTimeout time.Duration
	MaxPollErrors  int
	SettleTimeout  time.Duration
	PreemptWait    time.Duration
	Now            func() time.Time
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 3 * time.Second
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 10 * time.Minute
	}
	if c.MaxPollErrors <= 0 {
		c.MaxPollErrors = 5
	}
	if c.SettleTimeout <= 0 {
		c.SettleTimeout = 30 * time.Second
	}
	if c.PreemptWait <= 0 {
		c.PreemptWait = 30 * time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Deps are the ports the service drives.
type Deps struct {
	Admission *admission.Controller
	Jobs      domain.JobRecords
	Wallet    domain.Wallet
	Provider  domain.Provider
	Deliverer domain.Deliverer
	Logger    zerolog.Logger
}

// ProgressFunc observes every normalized poll result of a job.
type ProgressFunc func(jobID string, res domain.GenerationResult)

// SubmitRequest describes one generation request.
type SubmitRequest struct {
	UserID  string
	EventID string
	ModelID string
	Input   map[string]any
	Price   decimal.Decimal
	// Timeout bounds the provider work. Zero uses the configured default;
	// longer values are capped at it.
	Timeout  time.Duration
	Locale   string
	Progress ProgressFunc
}

// SubmitResult identifies the job serving a submission.
type SubmitResult struct {
	JobID    string           `json:"job_id"`
	Status   domain.JobStatus `json:"status"`
	Replayed bool             `json:"replayed"`
}

// Service is the generation orchestrator.
type Service struct {
	cfg       Config
	adm       *admission.Controller
	jobs      domain.JobRecords
	wallet    domain.Wallet
	provider  domain.Provider
	deliverer domain.Deliverer
	logger    zerolog.Logger
	newID     func() string

	base    context.Context
	stop    context.CancelCauseFunc
	closing atomic.Bool
	wg      sync.WaitGroup
}

// New wires a Service. Jobs, Wallet and Provider are required.
func New(cfg Config, deps Deps) (*Service, error) {
	if deps.Jobs == nil || deps.Wallet == nil || deps.Provider == nil {
		return nil, errors.New("orchestrator: jobs, wallet and provider are required")
	}
	if deps.Admission == nil {
		deps.Admission = admission.NewController(nil, nil, nil)
	}
	if deps.Deliverer == nil {
		deps.Deliverer = NewLogDeliverer(deps.Logger)
	}
	base, stop := context.WithCancelCause(context.Background())
	return &Service{
		cfg:       cfg.withDefaults(),
		adm:       deps.Admission,
		jobs:      deps.Jobs,
		wallet:    deps.Wallet,
		provider:  deps.Provider,
		deliverer: deps.Deliverer,
		logger:    deps.Logger,
		newID:     uuid.NewString,
		base:      base,
		stop:      stop,
	}, nil
}

// Submit admits a request and starts its job. A request identical to a live
// one returns the existing job with Replayed set.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	if s.closing.Load() {
		return SubmitResult{}, domain.ErrShutdown
	}
	req.UserID = strings.TrimSpace(req.UserID)
	req.ModelID = strings.TrimSpace(req.ModelID)
	if req.UserID == "" || req.ModelID == "" {
		return SubmitResult{}, fmt.Errorf("user and model are required: %w", domain.ErrInvalidRequest)
	}
	if req.Price.IsNegative() {
		return SubmitResult{}, fmt.Errorf("price must not be negative: %w", domain.ErrInvalidRequest)
	}

	decision := s.adm.Guard.Check(ctx, admission.Action{UserID: req.UserID, EventID: req.EventID, Heavy: true})
	if !decision.Allowed {
		return SubmitResult{}, decision.Err()
	}

	fp, err := admission.Fingerprint(req.UserID, req.ModelID, req.Input)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("fingerprint input: %v: %w", err, domain.ErrInvalidRequest)
	}
	jobID := s.newID()
	rec, started, err := s.adm.Idempotency.TryStart(ctx, fp, jobID)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("idempotency: %v: %w", err, domain.ErrInternal)
	}
	if !started {
		return s.replay(ctx, rec), nil
	}

	log := s.logger.With().Str("job_id", jobID).Str("user_id", req.UserID).Str("model", req.ModelID).Logger()

	jobCtx, cancel, lease, err := s.acquire(ctx, req.UserID, jobID)
	if err != nil {
		s.forget(fp, log)
		return SubmitResult{}, err
	}
	abort := func() {
		cancel(nil)
		lease.Release()
		s.forget(fp, log)
	}

	job := domain.Job{
		ID:             jobID,
		UserID:         req.UserID,
		IdempotencyKey: fp,
		ModelID:        req.ModelID,
		Input:          req.Input,
		Price:          req.Price,
		Status:         domain.JobStatusQueued,
	}
	if err := s.jobs.Create(ctx, &job); err != nil {
		abort()
		return SubmitResult{}, fmt.Errorf("create job: %v: %w", err, domain.ErrInternal)
	}

	held := job.Paid()
	if held {
		ok, err := s.wallet.Hold(ctx, job.UserID, job.Price, domain.HoldRef(jobID))
		if err != nil || !ok {
			code, cause := "insufficient_funds", domain.ErrInsufficientFunds
			if err != nil {
				code, cause = "wallet_error", fmt.Errorf("hold funds: %v: %w", err, domain.ErrInternal)
				s.releaseAfterFailedHold(job, log)
			}
			sctx, done := s.settleContext()
			if uerr := s.jobs.UpdateStatus(sctx, jobID, domain.JobStatusFailed, domain.StatusUpdate{FailCode: code}); uerr != nil {
				log.Error().Err(uerr).Msg("mark job failed after hold")
			}
			done()
			abort()
			log.Info().Str("fail_code", code).Msg("job not started")
			return SubmitResult{}, cause
		}
	}

	timeout := req.Timeout
	if timeout <= 0 || timeout > s.cfg.DefaultTimeout {
		timeout = s.cfg.DefaultTimeout
	}
	run := &jobRun{
		job:         job,
		fingerprint: fp,
		held:        held,
		timeout:     timeout,
		locale:      req.Locale,
		progress:    req.Progress,
		log:         log,
	}
	s.wg.Add(1)
	go s.run(jobCtx, cancel, lease, run)

	log.Info().Str("price", job.Price.String()).Msg("job accepted")
	return SubmitResult{JobID: jobID, Status: domain.JobStatusQueued}, nil
}

func (s *Service) replay(ctx context.Context, rec admission.IdempotencyRecord) SubmitResult {
	status := rec.Status
	if job, err := s.jobs.Get(ctx, rec.JobID); err == nil {
		status = job.Status
	}
	if status == "" {
		status = domain.JobStatusQueued
	}
	return SubmitResult{JobID: rec.JobID, Status: status, Replayed: true}
}

// acquire takes the user's slot, preempting the current holder and waiting
// for it to settle.
func (s *Service) acquire(ctx context.Context, userID, jobID string) (context.Context, context.CancelCauseFunc, *admission.Lease, error) {
	deadline := time.NewTimer(s.cfg.PreemptWait)
	defer deadline.Stop()
	for {
		jobCtx, cancel := context.WithCancelCause(s.base)
		if lease, ok := s.adm.Locks.Acquire(userID, jobID, cancel); ok {
			return jobCtx, cancel, lease, nil
		}
		cancel(nil)
		holder, ok := s.adm.Locks.Holder(userID)
		if !ok {
			continue
		}
		s.logger.Info().Str("user_id", userID).Str("job_id", holder.JobID).Str("next_job_id", jobID).Msg("preempting running job")
		holder.Cancel(domain.ErrLockPreempted)
		select {
		case <-holder.Done():
		case <-ctx.Done():
			return nil, nil, nil, ctx.Err()
		case <-deadline.C:
			return nil, nil, nil, fmt.Errorf("previous job %s did not settle in time: %w", holder.JobID, domain.ErrInternal)
		}
	}
}

// Cancel interrupts the user's in-flight job. It reports false when jobID
// is not the user's current job.
func (s *Service) Cancel(_ context.Context, userID, jobID string) bool {
	lease, ok := s.adm.Locks.Holder(userID)
	if !ok || lease.JobID != jobID {
		return false
	}
	lease.Cancel(domain.ErrCancelled)
	return true
}

// Status returns the job when it belongs to userID.
func (s *Service) Status(ctx context.Context, userID, jobID string) (*domain.Job, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return job, nil
}

// Active reports the number of in-flight jobs.
func (s *Service) Active() int {
	return s.adm.Locks.Active()
}

// Shutdown stops accepting work, cancels running jobs and waits for their
// settlement until ctx ends.
func (s *Service) Shutdown(ctx context.Context) error {
	s.closing.Store(true)
	s.stop(domain.ErrShutdown)
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		leases := s.adm.Locks.Leases()
		for _, lease := range leases {
			s.logger.Warn().Str("job_id", lease.JobID).Str("user_id", lease.UserID).Msg("job still settling at shutdown")
		}
		return fmt.Errorf("shutdown: %d jobs still settling: %w", len(leases), ctx.Err())
	}
}

func (s *Service) settleContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(s.base), s.cfg.SettleTimeout)
}

func (s *Service) forget(fp string, log zerolog.Logger) {
	ctx, cancel := s.settleContext()
	defer cancel()
	if err := s.adm.Idempotency.Forget(ctx, fp); err != nil {
		log.Warn().Err(err).Msg("forget idempotency record")
	}
}

// releaseAfterFailedHold returns a hold whose placement reported an error
// but may still have been applied.
func (s *Service) releaseAfterFailedHold(job domain.Job, log zerolog.Logger) {
	ctx, cancel := s.settleContext()
	defer cancel()
	if err := s.wallet.Release(ctx, job.UserID, domain.HoldRef(job.ID)); err != nil && !errors.Is(err, domain.ErrNotFound) {
		log.Error().Err(err).Msg("release uncertain hold")
	}
}
