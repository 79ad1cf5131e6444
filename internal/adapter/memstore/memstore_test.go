package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"genorch/internal/domain"
)

func TestJobStoreTransitions(t *testing.T) {
	ctx := context.Background()
	s := NewJobStore()
	if err := s.Create(ctx, &domain.Job{ID: "j1", UserID: "u1"}); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if err := s.Create(ctx, &domain.Job{ID: "j1"}); err == nil {
		t.Fatal("expected duplicate create to fail")
	}
	steps := []struct {
		to      domain.JobStatus
		wantErr error
	}{
		{to: domain.JobStatusRunning},
		{to: domain.JobStatusRunning},
		{to: domain.JobStatusQueued, wantErr: domain.ErrInvalidTransition},
		{to: domain.JobStatusFailed},
		{to: domain.JobStatusSucceeded, wantErr: domain.ErrInvalidTransition},
		{to: domain.JobStatusRefunded},
	}
	for _, step := range steps {
		err := s.UpdateStatus(ctx, "j1", step.to, domain.StatusUpdate{FailCode: "timeout"})
		if step.wantErr == nil && err != nil {
			t.Fatalf("-> %s: unexpected error %v", step.to, err)
		}
		if step.wantErr != nil && !errors.Is(err, step.wantErr) {
			t.Fatalf("-> %s: expected %v, got %v", step.to, step.wantErr, err)
		}
	}
	job, err := s.Get(ctx, "j1")
	if err != nil || job.Status != domain.JobStatusRefunded || job.FailCode != "timeout" {
		t.Fatalf("unexpected job %+v %v", job, err)
	}
	if _, err := s.Get(ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestJobStoreMarkRepliedOnce(t *testing.T) {
	ctx := context.Background()
	s := NewJobStore()
	_ = s.Create(ctx, &domain.Job{ID: "j1"})
	first, _ := s.MarkReplied(ctx, "j1", []byte("a"))
	second, _ := s.MarkReplied(ctx, "j1", []byte("b"))
	if !first || second {
		t.Fatalf("MarkReplied = %v, %v; want true, false", first, second)
	}
	if p, _ := s.Reply("j1"); string(p) != "a" {
		t.Fatalf("stored payload = %q", p)
	}
}

func TestJobStoreListUnsettled(t *testing.T) {
	ctx := context.Background()
	s := NewJobStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	_ = s.Create(ctx, &domain.Job{ID: "a"})
	_ = s.Create(ctx, &domain.Job{ID: "b"})
	_ = s.UpdateStatus(ctx, "b", domain.JobStatusRunning, domain.StatusUpdate{})
	_ = s.Create(ctx, &domain.Job{ID: "c"})
	_ = s.UpdateStatus(ctx, "c", domain.JobStatusFailed, domain.StatusUpdate{})

	jobs, _ := s.ListUnsettled(ctx, base.Add(time.Minute))
	if len(jobs) != 2 {
		t.Fatalf("expected 2 unsettled jobs, got %d", len(jobs))
	}
	if jobs, _ := s.ListUnsettled(ctx, base); len(jobs) != 0 {
		t.Fatalf("expected none older than base, got %d", len(jobs))
	}
}

func TestWalletHoldSettle(t *testing.T) {
	ctx := context.Background()
	w := NewWallet()
	ten := decimal.NewFromInt(10)
	if _, err := w.TopUp(ctx, "u1", decimal.NewFromInt(15), "t1"); err != nil {
		t.Fatalf("TopUp error: %v", err)
	}
	if bal, _ := w.TopUp(ctx, "u1", decimal.NewFromInt(15), "t1"); !bal.Equal(decimal.NewFromInt(15)) {
		t.Fatalf("duplicate top-up credited twice: %s", bal)
	}

	ok, err := w.Hold(ctx, "u1", ten, "hold:j1")
	if err != nil || !ok {
		t.Fatalf("Hold = %v %v", ok, err)
	}
	if again, _ := w.Hold(ctx, "u1", ten, "hold:j1"); !again {
		t.Fatal("replayed hold should report success")
	}
	if ok, _ := w.Hold(ctx, "u1", ten, "hold:j2"); ok {
		t.Fatal("expected insufficient funds for second hold")
	}
	if err := w.Charge(ctx, "u1", ten, "charge:j1", "hold:j1"); err != nil {
		t.Fatalf("Charge error: %v", err)
	}
	if err := w.Charge(ctx, "u1", ten, "charge:j1", "hold:j1"); err != nil {
		t.Fatalf("replayed Charge error: %v", err)
	}
	if err := w.Refund(ctx, "u1", ten, "refund:j1", "hold:j1"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("refund after charge: expected ErrInvalidTransition, got %v", err)
	}
	if bal, _ := w.Balance(ctx, "u1"); !bal.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("balance = %s, want 5", bal)
	}

	_, _ = w.Hold(ctx, "u1", decimal.NewFromInt(5), "hold:j3")
	if err := w.Release(ctx, "u1", "hold:j3"); err != nil {
		t.Fatalf("Release error: %v", err)
	}
	if err := w.Refund(ctx, "u1", decimal.NewFromInt(5), "refund:j3", "hold:j3"); err != nil {
		t.Fatalf("refund after release should be a no-op, got %v", err)
	}
	if bal, _ := w.Balance(ctx, "u1"); !bal.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("balance after release = %s, want 5", bal)
	}
	if err := w.Release(ctx, "u2", "hold:j3"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("foreign release: expected ErrNotFound, got %v", err)
	}
}
