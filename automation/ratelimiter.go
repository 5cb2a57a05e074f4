package automation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"outreach/utils"
)

// DefaultMaxActionsPerDay is the daily action cap per session
const DefaultMaxActionsPerDay = 100

// Session is the rate-limiting and retry-tracking state of one execution identity.
// Sessions live in memory only: a restart or eviction forgets same-day counters
// unless a QuotaStore is configured.
type Session struct {
	ActionsToday   int       `json:"actions_today"`
	LastActionTime time.Time `json:"last_action_time"`
	CurrentRetries int       `json:"current_retries"`
}

// QuotaStore persists daily action counters keyed by session and calendar day
type QuotaStore interface {
	// Consume increments the counter when it is below limit and reports the resulting count
	Consume(ctx context.Context, sessionID, day string, limit int) (count int, allowed bool, err error)
	// Count reports the counter without changing it
	Count(ctx context.Context, sessionID, day string) (int, error)
}

// RateLimiter is the process-scoped session registry. It is created at
// startup, handed to the processor, and cleared with Reset at shutdown.
type RateLimiter struct {
	mu       sync.Mutex
	sessions map[string]*Session

	maxActionsPerDay int
	location         *time.Location
	store            QuotaStore
	now              func() time.Time
	logger           *logrus.Entry
}

// RateLimiterOption configures the RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithMaxActionsPerDay overrides the daily cap
func WithMaxActionsPerDay(n int) RateLimiterOption {
	return func(rl *RateLimiter) {
		if n > 0 {
			rl.maxActionsPerDay = n
		}
	}
}

// WithDayLocation sets the timezone whose midnight resets the daily counter
func WithDayLocation(loc *time.Location) RateLimiterOption {
	return func(rl *RateLimiter) {
		if loc != nil {
			rl.location = loc
		}
	}
}

// WithQuotaStore makes daily counters survive restarts
func WithQuotaStore(store QuotaStore) RateLimiterOption {
	return func(rl *RateLimiter) {
		rl.store = store
	}
}

// WithRateLimiterClock replaces time.Now, for tests
func WithRateLimiterClock(now func() time.Time) RateLimiterOption {
	return func(rl *RateLimiter) {
		rl.now = now
	}
}

// NewRateLimiter creates an empty session registry
func NewRateLimiter(opts ...RateLimiterOption) *RateLimiter {
	rl := &RateLimiter{
		sessions:         make(map[string]*Session),
		maxActionsPerDay: DefaultMaxActionsPerDay,
		location:         time.UTC,
		now:              time.Now,
		logger:           utils.Component("ratelimiter"),
	}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// AccountSessionID is the quota session shared by every sequence of one user account
func AccountSessionID(userID uint) string {
	return fmt.Sprintf("account:%d", userID)
}

// SequenceSessionID is the retry session of a single sequence
func SequenceSessionID(sequenceID uint) string {
	return fmt.Sprintf("sequence:%d", sequenceID)
}

// MaxActionsPerDay returns the configured daily cap
func (rl *RateLimiter) MaxActionsPerDay() int {
	return rl.maxActionsPerDay
}

// session returns the session for id, creating it with zero counters. Caller holds mu.
func (rl *RateLimiter) session(id string) *Session {
	s, ok := rl.sessions[id]
	if !ok {
		s = &Session{}
		rl.sessions[id] = s
	}
	return s
}

func (rl *RateLimiter) dayOf(t time.Time) string {
	return t.In(rl.location).Format("2006-01-02")
}

// rollover clears the daily counter once the last action belongs to a previous day. Caller holds mu.
func (rl *RateLimiter) rollover(s *Session, now time.Time) {
	if !s.LastActionTime.IsZero() && rl.dayOf(s.LastActionTime) != rl.dayOf(now) {
		s.ActionsToday = 0
	}
}

// CheckAndConsume takes one action from the session's daily quota.
// It returns false without consuming when the quota is spent.
func (rl *RateLimiter) CheckAndConsume(ctx context.Context, sessionID string) (bool, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	s := rl.session(sessionID)
	rl.rollover(s, now)

	if rl.store != nil {
		count, allowed, err := rl.store.Consume(ctx, sessionID, rl.dayOf(now), rl.maxActionsPerDay)
		if err != nil {
			return false, fmt.Errorf("quota store: %w", err)
		}
		s.ActionsToday = count
		if allowed {
			s.LastActionTime = now
		}
		return allowed, nil
	}

	if s.ActionsToday >= rl.maxActionsPerDay {
		rl.logger.WithFields(logrus.Fields{
			"session_id":    sessionID,
			"actions_today": s.ActionsToday,
		}).Debug("daily quota exhausted")
		return false, nil
	}

	s.ActionsToday++
	s.LastActionTime = now
	return true, nil
}

// CanRetry consumes one unit of retry budget when fewer than maxRetries have been used
func (rl *RateLimiter) CanRetry(sessionID string, maxRetries int) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	s := rl.session(sessionID)
	if s.CurrentRetries >= maxRetries {
		return false
	}
	s.CurrentRetries++
	return true
}

// ResetRetries clears the consecutive failure counter
func (rl *RateLimiter) ResetRetries(sessionID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if s, ok := rl.sessions[sessionID]; ok {
		s.CurrentRetries = 0
	}
}

// Snapshot returns a copy of the session, with the daily counter rolled over
func (rl *RateLimiter) Snapshot(sessionID string) (Session, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	s, ok := rl.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	rl.rollover(s, rl.now())
	return *s, true
}

// ActionsToday reports the actions a session has taken today. With a
// QuotaStore the persisted counter is authoritative, so a freshly started
// process still reports the actions taken before it.
func (rl *RateLimiter) ActionsToday(ctx context.Context, sessionID string) (int, error) {
	if rl.store != nil {
		count, err := rl.store.Count(ctx, sessionID, rl.dayOf(rl.now()))
		if err != nil {
			return 0, fmt.Errorf("quota store: %w", err)
		}
		return count, nil
	}
	s, _ := rl.Snapshot(sessionID)
	return s.ActionsToday, nil
}

// Evict forgets a session; its counters restart from zero on next use
func (rl *RateLimiter) Evict(sessionID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.sessions, sessionID)
}

// EvictIdle drops sessions with no pending retries whose last action was
// on an earlier day. It returns how many were removed.
func (rl *RateLimiter) EvictIdle() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	today := rl.dayOf(rl.now())
	removed := 0
	for id, s := range rl.sessions {
		if s.CurrentRetries > 0 {
			continue
		}
		if s.LastActionTime.IsZero() || rl.dayOf(s.LastActionTime) != today {
			delete(rl.sessions, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked sessions
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.sessions)
}

// Reset drops every session
func (rl *RateLimiter) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.sessions = make(map[string]*Session)
}
