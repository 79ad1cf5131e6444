package admission

import (
	"context"
	"sync"
)

// Lease is one job's hold on its user's slot.
type Lease struct {
	UserID string
	JobID  string

	cancel context.CancelCauseFunc
	done   chan struct{}
	once   sync.Once
	owner  *JobLock
}

// Cancel interrupts the job holding the lease with the given cause.
func (l *Lease) Cancel(cause error) {
	if l != nil && l.cancel != nil {
		l.cancel(cause)
	}
}

// Done is closed once the lease is released.
func (l *Lease) Done() <-chan struct{} {
	return l.done
}

// Release frees the user's slot if this lease still owns it. It is safe to
// call more than once.
func (l *Lease) Release() {
	if l == nil {
		return
	}
	l.once.Do(func() {
		l.owner.release(l)
		close(l.done)
	})
}

// JobLock allows one in-flight job per user.
type JobLock struct {
	mu      sync.Mutex
	holders map[string]*Lease
}

// NewJobLock returns an empty lock table.
func NewJobLock() *JobLock {
	return &JobLock{holders: make(map[string]*Lease)}
}

// Acquire takes the user's slot for jobID. It fails when another lease holds it.
func (l *JobLock) Acquire(userID, jobID string, cancel context.CancelCauseFunc) (*Lease, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.holders[userID]; busy {
		return nil, false
	}
	lease := &Lease{UserID: userID, JobID: jobID, cancel: cancel, done: make(chan struct{}), owner: l}
	l.holders[userID] = lease
	return lease, true
}

// Holder returns the user's current lease.
func (l *JobLock) Holder(userID string) (*Lease, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lease, ok := l.holders[userID]
	return lease, ok
}

// Active reports the number of held slots.
func (l *JobLock) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.holders)
}

// Leases returns a snapshot of all held leases.
func (l *JobLock) Leases() []*Lease {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Lease, 0, len(l.holders))
	for _, lease := range l.holders {
		out = append(out, lease)
	}
	return out
}

func (l *JobLock) release(lease *Lease) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.holders[lease.UserID]; ok && cur == lease {
		delete(l.holders, lease.UserID)
	}
}
