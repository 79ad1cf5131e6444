package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"genorch/internal/domain"
	"genorch/internal/messages"
	"genorch/internal/middleware"
	"genorch/internal/normalize"
	"genorch/internal/orchestrator"
)

type submitRequest struct {
	Model          string         `json:"model" validate:"required,max=128"`
	Input          map[string]any `json:"input" validate:"required"`
	TimeoutSeconds int            `json:"timeout_seconds" validate:"omitempty,min=10,max=3600"`
}

type submitResponse struct {
	JobID    string           `json:"job_id"`
	Status   domain.JobStatus `json:"status"`
	Replayed bool             `json:"replayed"`
	Message  string           `json:"message"`
}

type jobResponse struct {
	JobID     string              `json:"job_id"`
	Status    domain.JobStatus    `json:"status"`
	Model     string              `json:"model"`
	Price     string              `json:"price"`
	Outputs   []string            `json:"outputs,omitempty"`
	Types     []domain.OutputType `json:"types,omitempty"`
	FailCode  string              `json:"fail_code,omitempty"`
	Message   string              `json:"message,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// SubmitGeneration starts a job. The event id for dedup comes from the
// X-Event-ID or Idempotency-Key header.
func (a *App) SubmitGeneration(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req submitRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	req.Model = strings.TrimSpace(req.Model)
	if err := validate.Struct(req); err != nil {
		a.fail(w, r, err)
		return
	}

	eventID := strings.TrimSpace(r.Header.Get("X-Event-ID"))
	if eventID == "" {
		eventID = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	}
	locale := middleware.LocaleFromContext(r.Context())
	res, err := a.Jobs.Submit(r.Context(), orchestrator.SubmitRequest{
		UserID:  userID,
		EventID: eventID,
		ModelID: req.Model,
		Input:   req.Input,
		Price:   a.Price(req.Model),
		Timeout: time.Duration(req.TimeoutSeconds) * time.Second,
		Locale:  locale,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	code := http.StatusAccepted
	if res.Replayed {
		code = http.StatusOK
	}
	a.json(w, code, submitResponse{
		JobID:    res.JobID,
		Status:   res.Status,
		Replayed: res.Replayed,
		Message:  messages.Render(locale, messages.KeyAccepted),
	})
}

func (a *App) GenerationStatus(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}
	job, err := a.Jobs.Status(r.Context(), userID, jobID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	resp := jobResponse{
		JobID:     job.ID,
		Status:    job.Status,
		Model:     job.ModelID,
		Price:     job.Price.String(),
		FailCode:  job.FailCode,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	}
	if job.Status == domain.JobStatusSucceeded && job.Result != nil {
		resp.Outputs = job.Result.Outputs
		resp.Types = normalize.DetectOutputTypes(job.Result.Outputs)
	}
	if job.FailCode != "" {
		resp.Message = messages.ForDelivery(middleware.LocaleFromContext(r.Context()), domain.Delivery{
			Kind:     deliveryKind(job),
			Refunded: job.Status == domain.JobStatusRefunded,
		})
	}
	a.json(w, http.StatusOK, resp)
}

func (a *App) CancelGeneration(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	jobID := chi.URLParam(r, "job_id")
	if !a.Jobs.Cancel(r.Context(), userID, jobID) {
		a.error(w, http.StatusConflict, "not_running", "job is not running")
		return
	}
	a.json(w, http.StatusAccepted, map[string]any{"job_id": jobID, "cancelled": true})
}

func deliveryKind(job *domain.Job) domain.DeliveryKind {
	switch {
	case job.Status == domain.JobStatusSucceeded:
		return domain.DeliveryResult
	case job.Status == domain.JobStatusCancelled:
		return domain.DeliveryCancelled
	}
	switch job.FailCode {
	case "cancelled", "preempted", "shutdown":
		return domain.DeliveryCancelled
	}
	return domain.DeliveryFailure
}
