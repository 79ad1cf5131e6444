package admission

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestJobLockSingleHolder(t *testing.T) {
	locks := NewJobLock()
	first, ok := locks.Acquire("u1", "job-1", nil)
	if !ok {
		t.Fatal("first acquire failed")
	}
	if _, ok := locks.Acquire("u1", "job-2", nil); ok {
		t.Fatal("second acquire for the same user must fail")
	}
	if _, ok := locks.Acquire("u2", "job-3", nil); !ok {
		t.Fatal("other users are independent")
	}
	holder, ok := locks.Holder("u1")
	if !ok || holder.JobID != "job-1" {
		t.Fatalf("Holder = %+v %v", holder, ok)
	}
	first.Release()
	first.Release()
	select {
	case <-first.Done():
	default:
		t.Fatal("Done should be closed after Release")
	}
	if _, ok := locks.Acquire("u1", "job-2", nil); !ok {
		t.Fatal("acquire after release failed")
	}
	if locks.Active() != 2 {
		t.Fatalf("expected 2 active leases, got %d", locks.Active())
	}
	jobs := map[string]string{}
	for _, lease := range locks.Leases() {
		jobs[lease.UserID] = lease.JobID
	}
	if len(jobs) != 2 || jobs["u1"] != "job-2" || jobs["u2"] != "job-3" {
		t.Fatalf("Leases snapshot = %v", jobs)
	}
}

func TestJobLockStaleReleaseKeepsNewHolder(t *testing.T) {
	locks := NewJobLock()
	old, _ := locks.Acquire("u1", "job-1", nil)
	// Simulate a holder entry replaced by a newer lease.
	locks.release(old)
	newer, ok := locks.Acquire("u1", "job-2", nil)
	if !ok {
		t.Fatal("acquire failed")
	}
	old.Release()
	holder, ok := locks.Holder("u1")
	if !ok || holder != newer {
		t.Fatalf("late release freed the newer lease: %+v %v", holder, ok)
	}
}

func TestLeaseCancelCarriesCause(t *testing.T) {
	locks := NewJobLock()
	ctx, cancel := context.WithCancelCause(context.Background())
	lease, _ := locks.Acquire("u1", "job-1", cancel)
	cause := errors.New("preempted")
	go func() {
		<-ctx.Done()
		lease.Release()
	}()
	lease.Cancel(cause)
	select {
	case <-lease.Done():
	case <-time.After(time.Second):
		t.Fatal("lease not released after cancel")
	}
	if !errors.Is(context.Cause(ctx), cause) {
		t.Fatalf("expected cause %v, got %v", cause, context.Cause(ctx))
	}
}
