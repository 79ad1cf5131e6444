package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
	JobStatusRefunded  JobStatus = "refunded"
)

// transitions lists, for every status, the statuses it may move to.
var transitions = map[JobStatus][]JobStatus{
	JobStatusQueued:    {JobStatusRunning, JobStatusFailed, JobStatusCancelled},
	JobStatusRunning:   {JobStatusSucceeded, JobStatusFailed, JobStatusCancelled},
	JobStatusFailed:    {JobStatusRefunded},
	JobStatusCancelled: {JobStatusRefunded},
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to JobStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Predecessors returns the statuses from which a job may enter status to.
func Predecessors(to JobStatus) []JobStatus {
	var out []JobStatus
	for _, from := range []JobStatus{JobStatusQueued, JobStatusRunning, JobStatusFailed, JobStatusCancelled} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// Terminal reports whether the orchestrator is done with a job in this status.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCancelled, JobStatusRefunded:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusRunning, JobStatusSucceeded, JobStatusFailed, JobStatusCancelled, JobStatusRefunded:
		return true
	default:
		return false
	}
}

// Job is one user-initiated generation request.
type Job struct {
	ID             string
	UserID         string
	IdempotencyKey string
	ModelID        string
	Input          map[string]any
	Price          decimal.Decimal
	Status         JobStatus
	ProviderTaskID string
	Result         *GenerationResult
	FailCode       string
	ErrorMessage   string
	Replied        bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Paid reports whether the job reserves funds.
func (j *Job) Paid() bool {
	return j != nil && j.Price.IsPositive()
}

// StatusUpdate carries the optional payloads persisted with a status change.
type StatusUpdate struct {
	Result       *GenerationResult
	FailCode     string
	ErrorMessage string
}

// HoldRef is the stable wallet reference for a job's reservation.
func HoldRef(jobID string) string { return "hold:" + jobID }

// ChargeRef is the stable wallet reference for a job's charge.
func ChargeRef(jobID string) string { return "charge:" + jobID }

// RefundRef is the stable wallet reference for a job's refund.
func RefundRef(jobID string) string { return "refund:" + jobID }
