package admission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"genorch/internal/domain"
)

const (
	idempotencyPrefix = "genorch:idem:"
	dedupPrefix       = "genorch:dedup:"
)

// RedisIdempotency keeps idempotency records in Redis so they survive
// restarts and are shared between processes.
type RedisIdempotency struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

// NewRedisIdempotency builds a Redis-backed IdempotencyStore.
func NewRedisIdempotency(rdb *redis.Client, ttl time.Duration) *RedisIdempotency {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &RedisIdempotency{rdb: rdb, ttl: ttl, now: time.Now}
}

func (s *RedisIdempotency) TryStart(ctx context.Context, fingerprint, jobID string) (IdempotencyRecord, bool, error) {
	key := idempotencyPrefix + fingerprint
	rec := IdempotencyRecord{
		Fingerprint: fingerprint,
		JobID:       jobID,
		Status:      domain.JobStatusQueued,
		ExpiresAt:   s.now().Add(s.ttl),
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	// A record can expire between SETNX and GET; one retry covers that.
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := s.rdb.SetNX(ctx, key, payload, s.ttl).Result()
		if err != nil {
			return IdempotencyRecord{}, false, fmt.Errorf("idempotency: setnx: %w", err)
		}
		if ok {
			return rec, true, nil
		}
		existing, err := s.get(ctx, key)
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return IdempotencyRecord{}, false, err
		}
		return existing, false, nil
	}
	return IdempotencyRecord{}, false, fmt.Errorf("idempotency: record for %s kept expiring", fingerprint)
}

func (s *RedisIdempotency) Finish(ctx context.Context, fingerprint string, status domain.JobStatus) error {
	key := idempotencyPrefix + fingerprint
	rec, err := s.get(ctx, key)
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	rec.Status = status
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	err = s.rdb.SetArgs(ctx, key, payload, redis.SetArgs{Mode: "XX", KeepTTL: true}).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("idempotency: finish: %w", err)
	}
	return nil
}

func (s *RedisIdempotency) Forget(ctx context.Context, fingerprint string) error {
	if err := s.rdb.Del(ctx, idempotencyPrefix+fingerprint).Err(); err != nil {
		return fmt.Errorf("idempotency: forget: %w", err)
	}
	return nil
}

func (s *RedisIdempotency) get(ctx context.Context, key string) (IdempotencyRecord, error) {
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return IdempotencyRecord{}, err
		}
		return IdempotencyRecord{}, fmt.Errorf("idempotency: get: %w", err)
	}
	var rec IdempotencyRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return IdempotencyRecord{}, fmt.Errorf("idempotency: decode: %w", err)
	}
	return rec, nil
}

// RedisDedup is a Dedup shared between processes.
type RedisDedup struct {
	rdb *redis.Client
}

// NewRedisDedup builds a Redis-backed Dedup.
func NewRedisDedup(rdb *redis.Client) *RedisDedup {
	return &RedisDedup{rdb: rdb}
}

// Seen implements Dedup.
func (d *RedisDedup) Seen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := d.rdb.SetNX(ctx, dedupPrefix+key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup: setnx: %w", err)
	}
	return !ok, nil
}
