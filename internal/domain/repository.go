package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// JobRecords persists job entities. UpdateStatus must refuse transitions that
// CanTransition rejects and return ErrInvalidTransition.
type JobRecords interface {
	Create(ctx context.Context, job *Job) error
	AttachTask(ctx context.Context, jobID, taskID string) error
	UpdateStatus(ctx context.Context, jobID string, status JobStatus, update StatusUpdate) error
	// MarkReplied flips replied from false to true and stores the payload.
	// It returns true only for the caller that performed the flip.
	MarkReplied(ctx context.Context, jobID string, payload []byte) (bool, error)
	Get(ctx context.Context, jobID string) (*Job, error)
	ListUnsettled(ctx context.Context, olderThan time.Time) ([]Job, error)
}

// Wallet reserves and settles user funds. Every call is keyed by a stable
// reference so retries are idempotent.
type Wallet interface {
	Hold(ctx context.Context, userID string, amount decimal.Decimal, holdRef string) (bool, error)
	Charge(ctx context.Context, userID string, amount decimal.Decimal, chargeRef, holdRef string) error
	Refund(ctx context.Context, userID string, amount decimal.Decimal, refundRef, holdRef string) error
	Release(ctx context.Context, userID, holdRef string) error
}

// Provider runs generation tasks on a remote service.
type Provider interface {
	CreateTask(ctx context.Context, modelID string, input map[string]any) (string, error)
	PollTask(ctx context.Context, taskID string) (json.RawMessage, error)
}

// DeliveryKind tells the user-facing surface what happened to a job.
type DeliveryKind string

const (
	DeliveryResult    DeliveryKind = "result"
	DeliveryFailure   DeliveryKind = "failure"
	DeliveryCancelled DeliveryKind = "cancelled"
)

// Delivery is the single final message sent for a job.
type Delivery struct {
	JobID    string       `json:"job_id"`
	UserID   string       `json:"user_id"`
	Kind     DeliveryKind `json:"kind"`
	Status   JobStatus    `json:"status"`
	Outputs  []string     `json:"outputs,omitempty"`
	Types    []OutputType `json:"types,omitempty"`
	FailCode string       `json:"fail_code,omitempty"`
	Message  string       `json:"message"`
	Refunded bool         `json:"refunded"`
}

// Deliverer hands the final message to the caller-facing surface.
type Deliverer interface {
	Deliver(ctx context.Context, d Delivery) error
}

// HoldState tracks a reservation through settlement.
type HoldState string

const (
	HoldHeld     HoldState = "held"
	HoldCharged  HoldState = "charged"
	HoldReleased HoldState = "released"
)

// Hold is a reservation of user funds pending job completion.
type Hold struct {
	UserID string
	Amount decimal.Decimal
	Ref    string
	State  HoldState
}
