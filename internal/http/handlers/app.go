package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"genorch/internal/domain"
	"genorch/internal/messages"
	"genorch/internal/middleware"
	"genorch/internal/orchestrator"
)

var validate = validator.New()

// Orchestrator is the job surface the handlers drive.
type Orchestrator interface {
	Submit(ctx context.Context, req orchestrator.SubmitRequest) (orchestrator.SubmitResult, error)
	Status(ctx context.Context, userID, jobID string) (*domain.Job, error)
	Cancel(ctx context.Context, userID, jobID string) bool
	Active() int
}

// PriceFunc returns the price of one generation with a model.
type PriceFunc func(modelID string) decimal.Decimal

type App struct {
	Jobs   Orchestrator
	Price  PriceFunc
	Logger zerolog.Logger
}

func NewApp(jobs Orchestrator, price PriceFunc, logger zerolog.Logger) *App {
	if price == nil {
		price = func(string) decimal.Decimal { return decimal.Zero }
	}
	return &App{Jobs: jobs, Price: price, Logger: logger}
}

type errorResponse struct {
	Error             string            `json:"error"`
	Message           string            `json:"message"`
	RetryAfterSeconds int               `json:"retry_after_seconds,omitempty"`
	Fields            map[string]string `json:"fields,omitempty"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, errorResponse{Error: errCode, Message: message})
}

func (a *App) currentUserID(r *http.Request) string {
	return strings.TrimSpace(middleware.UserIDFromContext(r.Context()))
}

// fail maps a domain error onto an HTTP response.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	locale := middleware.LocaleFromContext(r.Context())

	var admErr *domain.AdmissionError
	if errors.As(err, &admErr) {
		resp := errorResponse{
			Error:   admErr.Reason,
			Message: messages.Denial(locale, admErr.Reason, admErr.RetryAfter),
		}
		code := http.StatusTooManyRequests
		switch admErr.Reason {
		case domain.DenyDuplicate:
			code = http.StatusConflict
		case domain.DenyBlocked:
			code = http.StatusForbidden
		}
		if admErr.RetryAfter > 0 {
			resp.RetryAfterSeconds = int(math.Ceil(admErr.RetryAfter.Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(resp.RetryAfterSeconds))
		}
		a.json(w, code, resp)
		return
	}

	var ve validator.ValidationErrors
	switch {
	case errors.As(err, &ve):
		fields := make(map[string]string, len(ve))
		for _, fe := range ve {
			fields[fe.Field()] = fe.Tag()
		}
		a.json(w, http.StatusUnprocessableEntity, errorResponse{Error: "validation_failed", Message: "validation failed", Fields: fields})
	case errors.Is(err, domain.ErrInvalidRequest):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, domain.ErrInsufficientFunds):
		a.error(w, http.StatusPaymentRequired, "insufficient_funds", messages.Render(locale, messages.KeyInsufficientFunds))
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", messages.Render(locale, messages.KeyNotFound))
	case errors.Is(err, domain.ErrShutdown):
		a.error(w, http.StatusServiceUnavailable, "unavailable", messages.Render(locale, messages.KeyInternal))
	default:
		a.Logger.Error().Err(err).
			Str("request_id", middleware.RequestIDFromContext(r.Context())).
			Str("user_id", a.currentUserID(r)).
			Msg("request failed")
		a.error(w, http.StatusInternalServerError, "internal", messages.Render(locale, messages.KeyInternal))
	}
}
