// Package admission decides whether a submission may start: per-user abuse
// guard, request idempotency and the single-flight job lock.
package admission

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"genorch/internal/domain"
)

// GuardConfig holds the abuse guard thresholds.
type GuardConfig struct {
	// BlockDuration is how long a user stays blocked after escalation.
	BlockDuration time.Duration
	// BlockAfterStrikes is the cooldown streak that turns into a block.
	BlockAfterStrikes int
	// CooldownBase is the first cooldown in a streak.
	CooldownBase time.Duration
	// CooldownRepeat is used for every further cooldown and for extensions.
	CooldownRepeat time.Duration
	// DedupTTL is how long an event id is remembered.
	DedupTTL time.Duration

	HeavyLimit   int
	HeavyWindow  time.Duration
	ActionLimit  int
	ActionWindow time.Duration
	BurstLimit   int
	BurstWindow  time.Duration
}

// DefaultGuardConfig returns the production thresholds.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		BlockDuration:     24 * time.Hour,
		BlockAfterStrikes: 3,
		CooldownBase:      60 * time.Second,
		CooldownRepeat:    300 * time.Second,
		DedupTTL:          time.Hour,
		HeavyLimit:        3,
		HeavyWindow:       10 * time.Minute,
		ActionLimit:       20,
		ActionWindow:      5 * time.Minute,
		BurstLimit:        3,
		BurstWindow:       2 * time.Second,
	}
}

func (c GuardConfig) withDefaults() GuardConfig {
	d := DefaultGuardConfig()
	if c.BlockDuration <= 0 {
		c.BlockDuration = d.BlockDuration
	}
	if c.BlockAfterStrikes <= 0 {
		c.BlockAfterStrikes = d.BlockAfterStrikes
	}
	if c.CooldownBase <= 0 {
		c.CooldownBase = d.CooldownBase
	}
	if c.CooldownRepeat <= 0 {
		c.CooldownRepeat = d.CooldownRepeat
	}
	if c.DedupTTL <= 0 {
		c.DedupTTL = d.DedupTTL
	}
	if c.HeavyLimit <= 0 {
		c.HeavyLimit = d.HeavyLimit
	}
	if c.HeavyWindow <= 0 {
		c.HeavyWindow = d.HeavyWindow
	}
	if c.ActionLimit <= 0 {
		c.ActionLimit = d.ActionLimit
	}
	if c.ActionWindow <= 0 {
		c.ActionWindow = d.ActionWindow
	}
	if c.BurstLimit <= 0 {
		c.BurstLimit = d.BurstLimit
	}
	if c.BurstWindow <= 0 {
		c.BurstWindow = d.BurstWindow
	}
	return c
}

// Action is one user request presented to the guard.
type Action struct {
	UserID string
	// EventID identifies the inbound event (message or update id). Empty
	// disables dedup for the action.
	EventID string
	// Heavy marks expensive actions such as generation submissions.
	Heavy bool
}

// Decision is the guard verdict.
type Decision struct {
	Allowed    bool
	Reason     string
	RetryAfter time.Duration
	// Silent denials are dropped without telling the user.
	Silent bool
}

// Err converts a denial into a *domain.AdmissionError, nil when allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &domain.AdmissionError{Reason: d.Reason, RetryAfter: d.RetryAfter, Silent: d.Silent}
}

// Dedup remembers event ids for a bounded time.
type Dedup interface {
	// Seen records key and reports whether it was already present.
	Seen(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

type userState struct {
	mu             sync.Mutex
	actions        []time.Time
	heavy          []time.Time
	cooldownUntil  time.Time
	cooldownStreak int
	blockedUntil   time.Time
	// swept is set once Sweep has removed the state from the map.
	swept bool
}

// Guard is the per-user rate limiter with escalating cooldowns.
type Guard struct {
	cfg    GuardConfig
	dedup  Dedup
	now    func() time.Time
	logger zerolog.Logger

	mu    sync.Mutex
	users map[string]*userState
}

// GuardOption customizes a Guard.
type GuardOption func(*Guard)

// WithDedup replaces the in-memory event dedup.
func WithDedup(d Dedup) GuardOption {
	return func(g *Guard) {
		if d != nil {
			g.dedup = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) GuardOption {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

// WithGuardLogger sets the logger.
func WithGuardLogger(l zerolog.Logger) GuardOption {
	return func(g *Guard) { g.logger = l }
}

// NewGuard builds a guard. Zero config fields take their defaults.
func NewGuard(cfg GuardConfig, opts ...GuardOption) *Guard {
	g := &Guard{
		cfg:    cfg.withDefaults(),
		now:    time.Now,
		logger: zerolog.Nop(),
		users:  make(map[string]*userState),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.dedup == nil {
		g.dedup = NewMemoryDedup(g.now)
	}
	return g
}

// Config returns the effective thresholds.
func (g *Guard) Config() GuardConfig { return g.cfg }

func (g *Guard) state(userID string) *userState {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.users[userID]
	if !ok {
		st = &userState{}
		g.users[userID] = st
	}
	return st
}

// lockState returns the live state of a user with its mutex held. A state
// removed by Sweep between lookup and lock is looked up again.
func (g *Guard) lockState(userID string) *userState {
	for {
		st := g.state(userID)
		st.mu.Lock()
		if !st.swept {
			return st
		}
		st.mu.Unlock()
	}
}

// Check applies the rules in order and records the action when allowed.
// Deduplicated events do not touch the cooldown streak.
func (g *Guard) Check(ctx context.Context, a Action) Decision {
	st := g.lockState(a.UserID)
	defer st.mu.Unlock()

	now := g.now()
	log := g.logger.With().Str("user_id", a.UserID).Logger()

	if now.Before(st.blockedUntil) {
		return Decision{Reason: domain.DenyBlocked, RetryAfter: st.blockedUntil.Sub(now)}
	}

	if a.EventID != "" {
		seen, err := g.dedup.Seen(ctx, a.UserID+":"+a.EventID, g.cfg.DedupTTL)
		if err != nil {
			log.Warn().Err(err).Msg("guard: dedup lookup failed")
		} else if seen {
			return Decision{Reason: domain.DenyDuplicate, Silent: true}
		}
	}

	if now.Before(st.cooldownUntil) {
		st.cooldownUntil = st.cooldownUntil.Add(g.cfg.CooldownRepeat)
		st.cooldownStreak++
		if st.cooldownStreak >= g.cfg.BlockAfterStrikes {
			return g.block(st, now, log)
		}
		return Decision{Reason: domain.DenyCooldown, RetryAfter: st.cooldownUntil.Sub(now)}
	}

	st.actions = prune(st.actions, now.Add(-g.cfg.ActionWindow))
	st.heavy = prune(st.heavy, now.Add(-g.cfg.HeavyWindow))

	if a.Heavy && len(st.heavy) >= g.cfg.HeavyLimit {
		return Decision{Reason: domain.DenyHeavyQuota, RetryAfter: st.heavy[0].Add(g.cfg.HeavyWindow).Sub(now)}
	}

	burst := 1
	burstFrom := now.Add(-g.cfg.BurstWindow)
	for _, at := range st.actions {
		if at.After(burstFrom) {
			burst++
		}
	}
	if burst > g.cfg.BurstLimit || len(st.actions) >= g.cfg.ActionLimit {
		cooldown := g.cfg.CooldownBase
		if st.cooldownStreak > 0 {
			cooldown = g.cfg.CooldownRepeat
		}
		st.cooldownUntil = now.Add(cooldown)
		st.cooldownStreak++
		if st.cooldownStreak >= g.cfg.BlockAfterStrikes {
			return g.block(st, now, log)
		}
		log.Info().Int("streak", st.cooldownStreak).Dur("cooldown", cooldown).Msg("guard: cooldown started")
		return Decision{Reason: domain.DenyCooldown, RetryAfter: cooldown}
	}

	st.actions = append(st.actions, now)
	if a.Heavy {
		st.heavy = append(st.heavy, now)
	}
	st.cooldownStreak = 0
	return Decision{Allowed: true}
}

func (g *Guard) block(st *userState, now time.Time, log zerolog.Logger) Decision {
	st.blockedUntil = now.Add(g.cfg.BlockDuration)
	st.cooldownUntil = time.Time{}
	st.cooldownStreak = 0
	log.Warn().Time("blocked_until", st.blockedUntil).Msg("guard: user blocked")
	return Decision{Reason: domain.DenyBlocked, RetryAfter: g.cfg.BlockDuration}
}

// Sweep drops state of users with no recent activity and no restriction.
func (g *Guard) Sweep() int {
	now := g.now()
	horizon := g.cfg.ActionWindow
	if g.cfg.HeavyWindow > horizon {
		horizon = g.cfg.HeavyWindow
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	removed := 0
	for id, st := range g.users {
		st.mu.Lock()
		idle := now.After(st.blockedUntil) && now.After(st.cooldownUntil) && st.cooldownStreak == 0 &&
			len(prune(st.actions, now.Add(-horizon))) == 0 && len(prune(st.heavy, now.Add(-horizon))) == 0
		if idle {
			st.swept = true
		}
		st.mu.Unlock()
		if idle {
			delete(g.users, id)
			removed++
		}
	}
	return removed
}

func prune(ring []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ring) && !ring[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ring
	}
	return append(ring[:0], ring[i:]...)
}
