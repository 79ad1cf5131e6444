package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrRateLimited         = errors.New("rate limited")
	ErrBlocked             = errors.New("blocked")
	ErrDuplicateEvent      = errors.New("duplicate event")
	ErrLockPreempted       = errors.New("preempted by a newer job")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrProviderRejected    = errors.New("provider rejected request")
	ErrPollTimeout         = errors.New("poll timeout")
	ErrInternal            = errors.New("internal error")
	ErrCancelled           = errors.New("cancelled by user")
	ErrShutdown            = errors.New("orchestrator shutting down")
)

// Admission denial reasons.
const (
	DenyBlocked    = "blocked"
	DenyDuplicate  = "duplicate"
	DenyCooldown   = "cooldown"
	DenyHeavyQuota = "heavy_quota"
)

// AdmissionError is returned when the abuse guard refuses a submission.
type AdmissionError struct {
	Reason     string
	RetryAfter time.Duration
	Silent     bool
}

func (e *AdmissionError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("admission denied: %s (retry after %s)", e.Reason, e.RetryAfter.Round(time.Second))
	}
	return "admission denied: " + e.Reason
}

func (e *AdmissionError) Unwrap() error {
	switch e.Reason {
	case DenyBlocked:
		return ErrBlocked
	case DenyDuplicate:
		return ErrDuplicateEvent
	default:
		return ErrRateLimited
	}
}

// ProviderErrorKind separates retryable failures from definitive rejections.
type ProviderErrorKind int

const (
	ProviderUnavailable ProviderErrorKind = iota
	ProviderRejected
)

// ProviderError describes a failed provider call.
type ProviderError struct {
	Kind    ProviderErrorKind
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	switch {
	case e.Code != "":
		return fmt.Sprintf("provider: %s (%s)", msg, e.Code)
	case e.Status != 0:
		return fmt.Sprintf("provider: status %d: %s", e.Status, msg)
	default:
		return "provider: " + msg
	}
}

func (e *ProviderError) Unwrap() []error {
	kind := ErrProviderUnavailable
	if e.Kind == ProviderRejected {
		kind = ErrProviderRejected
	}
	if e.Err != nil {
		return []error{kind, e.Err}
	}
	return []error{kind}
}
