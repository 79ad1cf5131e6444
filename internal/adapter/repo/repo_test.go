package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"genorch/internal/domain"
	"genorch/internal/sqlinline"
)

type execCall struct {
	query string
	args  []any
}

type stubExecutor struct {
	execs   []execCall
	tags    []string
	rows    [][]any
	rowErr  error
	queries []execCall
	execErr error
}

func (s *stubExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.execs = append(s.execs, execCall{query: query, args: args})
	if s.execErr != nil {
		return pgconn.CommandTag{}, s.execErr
	}
	tag := "UPDATE 1"
	if len(s.tags) > 0 {
		tag, s.tags = s.tags[0], s.tags[1:]
	}
	return pgconn.NewCommandTag(tag), nil
}

func (s *stubExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	s.queries = append(s.queries, execCall{query: query, args: args})
	if s.rowErr != nil {
		return stubRow{err: s.rowErr}
	}
	if len(s.rows) == 0 {
		return stubRow{err: pgx.ErrNoRows}
	}
	values := s.rows[0]
	s.rows = s.rows[1:]
	return stubRow{values: values}
}

func (s *stubExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

type stubRow struct {
	values []any
	err    error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return fmt.Errorf("scan: %d dest for %d values", len(dest), len(r.values))
	}
	for i, d := range dest {
		switch ptr := d.(type) {
		case *string:
			*ptr = r.values[i].(string)
		case *bool:
			*ptr = r.values[i].(bool)
		case *[]byte:
			if r.values[i] != nil {
				*ptr = r.values[i].([]byte)
			}
		case *time.Time:
			*ptr = r.values[i].(time.Time)
		default:
			return fmt.Errorf("scan: unsupported dest %T", d)
		}
	}
	return nil
}

func TestJobCreateEncodesInput(t *testing.T) {
	exec := &stubExecutor{}
	repo := NewJobRepository(exec)
	job := &domain.Job{ID: "j1", UserID: "u1", ModelID: "m1", Input: map[string]any{"prompt": "x"}, Price: decimal.NewFromInt(10)}
	if err := repo.Create(context.Background(), job); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	call := exec.execs[0]
	if call.query != sqlinline.QInsertJob {
		t.Fatal("expected insert job query")
	}
	if got := string(call.args[4].([]byte)); got != `{"prompt":"x"}` {
		t.Fatalf("input json = %s", got)
	}
	if call.args[5] != "10" || call.args[6] != "queued" {
		t.Fatalf("unexpected price/status args: %v %v", call.args[5], call.args[6])
	}
}

func TestJobUpdateStatus(t *testing.T) {
	t.Run("passes allowed predecessors", func(t *testing.T) {
		exec := &stubExecutor{}
		repo := NewJobRepository(exec)
		err := repo.UpdateStatus(context.Background(), "j1", domain.JobStatusRefunded, domain.StatusUpdate{FailCode: "timeout"})
		if err != nil {
			t.Fatalf("UpdateStatus error: %v", err)
		}
		allowed := exec.execs[0].args[5].([]string)
		if strings.Join(allowed, ",") != "failed,cancelled" {
			t.Fatalf("allowed predecessors = %v", allowed)
		}
		if b, _ := exec.execs[0].args[2].([]byte); b != nil {
			t.Fatalf("expected nil result json, got %v", exec.execs[0].args[2])
		}
	})

	t.Run("same status is a no-op", func(t *testing.T) {
		exec := &stubExecutor{tags: []string{"UPDATE 0"}, rows: [][]any{{"succeeded"}}}
		repo := NewJobRepository(exec)
		if err := repo.UpdateStatus(context.Background(), "j1", domain.JobStatusSucceeded, domain.StatusUpdate{}); err != nil {
			t.Fatalf("expected no-op, got %v", err)
		}
	})

	t.Run("regression is rejected", func(t *testing.T) {
		exec := &stubExecutor{tags: []string{"UPDATE 0"}, rows: [][]any{{"succeeded"}}}
		repo := NewJobRepository(exec)
		err := repo.UpdateStatus(context.Background(), "j1", domain.JobStatusFailed, domain.StatusUpdate{})
		if !errors.Is(err, domain.ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
	})

	t.Run("missing job", func(t *testing.T) {
		exec := &stubExecutor{tags: []string{"UPDATE 0"}}
		repo := NewJobRepository(exec)
		err := repo.UpdateStatus(context.Background(), "j1", domain.JobStatusRunning, domain.StatusUpdate{})
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestJobMarkReplied(t *testing.T) {
	exec := &stubExecutor{tags: []string{"UPDATE 1", "UPDATE 0"}}
	repo := NewJobRepository(exec)
	first, err := repo.MarkReplied(context.Background(), "j1", []byte(`{"kind":"result"}`))
	if err != nil || !first {
		t.Fatalf("first MarkReplied = %v %v", first, err)
	}
	second, err := repo.MarkReplied(context.Background(), "j1", []byte(`{"kind":"result"}`))
	if err != nil || second {
		t.Fatalf("second MarkReplied = %v %v", second, err)
	}
}

func TestJobGet(t *testing.T) {
	now := time.Now()
	exec := &stubExecutor{rows: [][]any{{
		"j1", "u1", "fp", "m1", []byte(`{"prompt":"x"}`), "10.5000", "succeeded",
		"t1", []byte(`{"state":"success","outputs":["https://x/y.png"]}`), "", "", true, now, now,
	}}}
	repo := NewJobRepository(exec)
	job, err := repo.Get(context.Background(), "j1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if !job.Price.Equal(decimal.RequireFromString("10.5")) || job.Status != domain.JobStatusSucceeded {
		t.Fatalf("unexpected job %+v", job)
	}
	if job.Result == nil || job.Result.Outputs[0] != "https://x/y.png" || job.Input["prompt"] != "x" {
		t.Fatalf("unexpected payloads %+v", job)
	}

	if _, err := repo.Get(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestWalletHold(t *testing.T) {
	exec := &stubExecutor{rows: [][]any{{true}, {false}}}
	w := NewWalletRepository(exec)
	ok, err := w.Hold(context.Background(), "u1", decimal.NewFromInt(10), "hold:j1")
	if err != nil || !ok {
		t.Fatalf("Hold = %v %v", ok, err)
	}
	if args := exec.queries[0].args; args[1] != "10" || args[2] != "hold:j1" {
		t.Fatalf("unexpected hold args %v", args)
	}
	ok, err = w.Hold(context.Background(), "u1", decimal.NewFromInt(10), "hold:j2")
	if err != nil || ok {
		t.Fatalf("insufficient funds should return false, got %v %v", ok, err)
	}
	if _, err := w.Hold(context.Background(), "u1", decimal.Zero, "hold:j3"); err == nil {
		t.Fatal("expected error for zero hold")
	}
}

func TestWalletSettlement(t *testing.T) {
	tests := []struct {
		name    string
		op      func(w *WalletPG) error
		row     []any
		wantErr error
	}{
		{
			name: "charge settles",
			op: func(w *WalletPG) error {
				return w.Charge(context.Background(), "u1", decimal.NewFromInt(10), "charge:j1", "hold:j1")
			},
			row: []any{true, "held"},
		},
		{
			name: "charge replay",
			op: func(w *WalletPG) error {
				return w.Charge(context.Background(), "u1", decimal.NewFromInt(10), "charge:j1", "hold:j1")
			},
			row: []any{false, "charged"},
		},
		{
			name: "charge after release",
			op: func(w *WalletPG) error {
				return w.Charge(context.Background(), "u1", decimal.NewFromInt(10), "charge:j1", "hold:j1")
			},
			row:     []any{false, "released"},
			wantErr: domain.ErrInvalidTransition,
		},
		{
			name: "refund replay",
			op: func(w *WalletPG) error {
				return w.Refund(context.Background(), "u1", decimal.NewFromInt(10), "refund:j1", "hold:j1")
			},
			row: []any{false, "released"},
		},
		{
			name: "release unknown hold",
			op: func(w *WalletPG) error {
				return w.Release(context.Background(), "u1", "hold:j1")
			},
			row:     []any{false, ""},
			wantErr: domain.ErrNotFound,
		},
		{
			name: "refund after charge",
			op: func(w *WalletPG) error {
				return w.Refund(context.Background(), "u1", decimal.NewFromInt(10), "refund:j1", "hold:j1")
			},
			row:     []any{false, "charged"},
			wantErr: domain.ErrInvalidTransition,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := NewWalletRepository(&stubExecutor{rows: [][]any{tc.row}})
			err := tc.op(w)
			if tc.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestWalletReleaseUsesDerivedRef(t *testing.T) {
	exec := &stubExecutor{rows: [][]any{{true, "held"}}}
	w := NewWalletRepository(exec)
	if err := w.Release(context.Background(), "u1", "hold:j1"); err != nil {
		t.Fatalf("Release error: %v", err)
	}
	args := exec.queries[0].args
	if args[1] != "hold:j1" || args[2] != "hold:j1:release" || args[3] != "release" {
		t.Fatalf("unexpected release args %v", args)
	}
}
