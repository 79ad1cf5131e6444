package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"genorch/internal/admission"
	"genorch/internal/domain"
	"genorch/internal/messages"
	"genorch/internal/normalize"
)

type outcomeKind int

const (
	outcomeSuccess outcomeKind = iota
	outcomeFailure
	outcomeCancelled
)

// outcome is what the provider work ended with, before money moves.
type outcome struct {
	kind    outcomeKind
	code    string
	message string
	result  *domain.GenerationResult
	err     error
}

type jobRun struct {
	job         domain.Job
	fingerprint string
	held        bool
	taskID      string
	timeout     time.Duration
	locale      string
	progress    ProgressFunc
	log         zerolog.Logger
}

func (s *Service) run(ctx context.Context, cancel context.CancelCauseFunc, lease *admission.Lease, j *jobRun) {
	defer s.wg.Done()
	defer lease.Release()
	defer cancel(nil)

	var out outcome
	defer func() {
		if r := recover(); r != nil {
			j.log.Error().Interface("panic", r).Msg("job panicked")
			out = outcome{kind: outcomeFailure, code: "internal_error", err: domain.ErrInternal}
		}
		s.settle(j, out)
	}()
	out = s.execute(ctx, j)
}

func (s *Service) execute(ctx context.Context, j *jobRun) outcome {
	ctx, cancel := context.WithTimeoutCause(ctx, j.timeout, domain.ErrPollTimeout)
	defer cancel()

	if ctx.Err() != nil {
		return interrupted(ctx)
	}
	if err := s.jobs.UpdateStatus(ctx, j.job.ID, domain.JobStatusRunning, domain.StatusUpdate{}); err != nil {
		if ctx.Err() != nil {
			return interrupted(ctx)
		}
		return outcome{kind: outcomeFailure, code: "internal_error", err: fmt.Errorf("mark running: %w", err)}
	}

	taskID, err := s.provider.CreateTask(ctx, j.job.ModelID, j.job.Input)
	if err != nil {
		if ctx.Err() != nil {
			return interrupted(ctx)
		}
		return outcome{kind: outcomeFailure, code: providerFailCode(err), message: err.Error(), err: err}
	}
	j.taskID = taskID
	j.log = j.log.With().Str("task_id", taskID).Logger()

	actx, acancel := s.settleContext()
	if err := s.jobs.AttachTask(actx, j.job.ID, taskID); err != nil {
		j.log.Error().Err(err).Msg("attach provider task")
	}
	acancel()
	j.log.Debug().Msg("provider task created")

	return s.poll(ctx, j)
}

func (s *Service) poll(ctx context.Context, j *jobRun) outcome {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	consecutiveErrors := 0
	for {
		select {
		case <-ctx.Done():
			return interrupted(ctx)
		case <-ticker.C:
		}

		raw, err := s.provider.PollTask(ctx, j.taskID)
		if err != nil {
			if ctx.Err() != nil {
				return interrupted(ctx)
			}
			if errors.Is(err, domain.ErrProviderRejected) {
				return outcome{kind: outcomeFailure, code: providerFailCode(err), message: err.Error(), err: err}
			}
			consecutiveErrors++
			j.log.Warn().Err(err).Int("attempt", consecutiveErrors).Msg("poll failed")
			if consecutiveErrors >= s.cfg.MaxPollErrors {
				return outcome{kind: outcomeFailure, code: providerFailCode(err), message: err.Error(), err: err}
			}
			continue
		}
		consecutiveErrors = 0

		res := normalize.PollResponse(raw)
		if j.progress != nil {
			j.progress(j.job.ID, res)
		}
		if !res.State.Terminal() {
			continue
		}
		switch res.State {
		case domain.ResultSuccess:
			if len(res.Outputs) == 0 {
				return outcome{kind: outcomeFailure, code: "empty_output", result: &res}
			}
			return outcome{kind: outcomeSuccess, result: &res}
		case domain.ResultFail:
			code := res.FailCode
			if code == "" {
				code = "provider_failed"
			}
			return outcome{kind: outcomeFailure, code: code, message: res.Message, result: &res}
		case domain.ResultTimeout:
			return outcome{kind: outcomeFailure, code: "timeout", message: res.Message, result: &res, err: domain.ErrPollTimeout}
		}
	}
}

// interrupted maps the cancellation cause of ctx onto an outcome.
func interrupted(ctx context.Context) outcome {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, domain.ErrPollTimeout):
		return outcome{kind: outcomeFailure, code: "timeout", err: domain.ErrPollTimeout}
	case errors.Is(cause, domain.ErrLockPreempted):
		return outcome{kind: outcomeCancelled, code: "preempted", err: cause}
	case errors.Is(cause, domain.ErrShutdown):
		return outcome{kind: outcomeCancelled, code: "shutdown", err: cause}
	default:
		return outcome{kind: outcomeCancelled, code: "cancelled", err: cause}
	}
}

func providerFailCode(err error) string {
	var perr *domain.ProviderError
	if errors.As(err, &perr) && perr.Code != "" {
		return "provider_" + perr.Code
	}
	if errors.Is(err, domain.ErrProviderRejected) {
		return "provider_rejected"
	}
	return "provider_unavailable"
}

// settle moves the money, records the final status and delivers once. It
// runs on a context detached from the job's cancellation.
func (s *Service) settle(j *jobRun, out outcome) {
	ctx, cancel := s.settleContext()
	defer cancel()

	log := j.log
	job := j.job
	d := domain.Delivery{JobID: job.ID, UserID: job.UserID}

	switch out.kind {
	case outcomeSuccess:
		if j.held {
			err := retry(ctx, func() error {
				return s.wallet.Charge(ctx, job.UserID, job.Price, domain.ChargeRef(job.ID), domain.HoldRef(job.ID))
			})
			if err != nil {
				log.Error().Err(err).Msg("charge failed; hold left for reconciliation")
			}
		}
		if err := s.jobs.UpdateStatus(ctx, job.ID, domain.JobStatusSucceeded, domain.StatusUpdate{Result: out.result}); err != nil {
			log.Error().Err(err).Msg("mark job succeeded")
		}
		d.Kind = domain.DeliveryResult
		d.Status = domain.JobStatusSucceeded
		d.Outputs = out.result.Outputs
		d.Types = normalize.DetectOutputTypes(out.result.Outputs)
	default:
		status, kind := domain.JobStatusFailed, domain.DeliveryFailure
		if out.kind == outcomeCancelled {
			status, kind = domain.JobStatusCancelled, domain.DeliveryCancelled
		}
		msg := out.message
		if msg == "" && out.err != nil {
			msg = out.err.Error()
		}
		if err := s.jobs.UpdateStatus(ctx, job.ID, status, domain.StatusUpdate{Result: out.result, FailCode: out.code, ErrorMessage: msg}); err != nil {
			log.Error().Err(err).Str("status", string(status)).Msg("record job end")
		}
		if j.held && s.returnFunds(ctx, j) {
			if err := s.jobs.UpdateStatus(ctx, job.ID, domain.JobStatusRefunded, domain.StatusUpdate{}); err != nil {
				log.Error().Err(err).Msg("mark job refunded")
			} else {
				status = domain.JobStatusRefunded
				d.Refunded = true
			}
		}
		d.Kind = kind
		d.Status = status
		d.FailCode = out.code
		evt := log.Info()
		if out.kind == outcomeFailure {
			evt = log.Warn()
		}
		evt.Str("fail_code", out.code).Err(out.err).Msg("job ended without result")
	}
	d.Message = messages.ForDelivery(j.locale, d)

	s.deliver(ctx, d, log)

	final := d.Status
	if err := s.adm.Idempotency.Finish(ctx, j.fingerprint, final); err != nil {
		log.Warn().Err(err).Msg("finish idempotency record")
	}
	log.Info().Str("status", string(final)).Msg("job settled")
}

// returnFunds refunds the hold when a provider task exists and releases it
// otherwise. It reports whether the money is back with the user.
func (s *Service) returnFunds(ctx context.Context, j *jobRun) bool {
	job := j.job
	op := "release"
	err := retry(ctx, func() error {
		if j.taskID != "" {
			op = "refund"
			return s.wallet.Refund(ctx, job.UserID, job.Price, domain.RefundRef(job.ID), domain.HoldRef(job.ID))
		}
		return s.wallet.Release(ctx, job.UserID, domain.HoldRef(job.ID))
	})
	if err != nil {
		j.log.Error().Err(err).Str("op", op).Msg("return funds")
		return false
	}
	return true
}

// deliver sends d unless the job was already answered.
func (s *Service) deliver(ctx context.Context, d domain.Delivery, log zerolog.Logger) {
	payload, err := json.Marshal(d)
	if err != nil {
		log.Error().Err(err).Msg("encode delivery")
		return
	}
	first, err := s.jobs.MarkReplied(ctx, d.JobID, payload)
	if err != nil {
		log.Error().Err(err).Msg("mark replied")
		return
	}
	if !first {
		log.Debug().Msg("duplicate delivery suppressed")
		return
	}
	if err := s.deliverer.Deliver(ctx, d); err != nil {
		log.Error().Err(err).Str("kind", string(d.Kind)).Msg("deliver")
	}
}

// retry runs fn up to three times while ctx allows. Errors that retrying
// cannot fix are returned immediately.
func retry(ctx context.Context, fn func() error) error {
	var err error
	backoff := 100 * time.Millisecond
	for attempt := 0; attempt < 3; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrInvalidTransition) || attempt == 2 {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}
