package admission

import (
	"context"
	"sync"
	"time"

	"genorch/internal/domain"
)

// DefaultIdempotencyTTL bounds how long an identical request maps to the
// same job.
const DefaultIdempotencyTTL = 10 * time.Minute

// IdempotencyRecord maps a request fingerprint to the job it started.
type IdempotencyRecord struct {
	Fingerprint string           `json:"fingerprint"`
	JobID       string           `json:"job_id"`
	Status      domain.JobStatus `json:"status"`
	ExpiresAt   time.Time        `json:"expires_at"`
}

// IdempotencyStore gates job creation on the request fingerprint.
type IdempotencyStore interface {
	// TryStart claims fingerprint for jobID. When a live record already
	// exists it is returned with started == false.
	TryStart(ctx context.Context, fingerprint, jobID string) (rec IdempotencyRecord, started bool, err error)
	// Finish stores the terminal status. The expiry is left unchanged.
	Finish(ctx context.Context, fingerprint string, status domain.JobStatus) error
	// Forget removes the record so the same request can start a new job.
	Forget(ctx context.Context, fingerprint string) error
}

// MemoryIdempotency is the process-local IdempotencyStore.
type MemoryIdempotency struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	records map[string]IdempotencyRecord
}

// NewMemoryIdempotency builds a store with the given TTL (default when <= 0).
func NewMemoryIdempotency(ttl time.Duration, now func() time.Time) *MemoryIdempotency {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	if now == nil {
		now = time.Now
	}
	return &MemoryIdempotency{ttl: ttl, now: now, records: make(map[string]IdempotencyRecord)}
}

func (s *MemoryIdempotency) TryStart(_ context.Context, fingerprint, jobID string) (IdempotencyRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if rec, ok := s.records[fingerprint]; ok && now.Before(rec.ExpiresAt) {
		return rec, false, nil
	}
	s.sweepLocked(now)
	rec := IdempotencyRecord{
		Fingerprint: fingerprint,
		JobID:       jobID,
		Status:      domain.JobStatusQueued,
		ExpiresAt:   now.Add(s.ttl),
	}
	s.records[fingerprint] = rec
	return rec, true, nil
}

func (s *MemoryIdempotency) Finish(_ context.Context, fingerprint string, status domain.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[fingerprint]; ok {
		rec.Status = status
		s.records[fingerprint] = rec
	}
	return nil
}

func (s *MemoryIdempotency) Forget(_ context.Context, fingerprint string) error {
	s.mu.Lock()
	delete(s.records, fingerprint)
	s.mu.Unlock()
	return nil
}

func (s *MemoryIdempotency) sweepLocked(now time.Time) {
	for k, rec := range s.records {
		if !now.Before(rec.ExpiresAt) {
			delete(s.records, k)
		}
	}
}
