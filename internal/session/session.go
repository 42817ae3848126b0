// Package session holds the per-connection decision state: progress
// counters, trigger markers, resource rotation and the active policy.
package session

import (
	"fmt"
	"io"
	"log"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"reelstack.local/reel-gateway/internal/ids"
	"reelstack.local/reel-gateway/internal/protocol"
	"reelstack.local/reel-gateway/internal/rotation"
	"reelstack.local/reel-gateway/internal/tuning"
)

// Identity is the authenticated owner of a session.
type Identity struct {
	Subject string
	Login   string
}

type Option func(*Session)

func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRand replaces the random source used for jitter and timing trials.
func WithRand(r *rand.Rand) Option {
	return func(s *Session) {
		if r != nil {
			s.state.rng = r
		}
	}
}

func WithPolicy(p tuning.Policy) Option {
	return func(s *Session) {
		s.initial = p
	}
}

func WithPairs(pairs []rotation.Pair) Option {
	return func(s *Session) {
		if len(pairs) > 0 {
			s.pairs = pairs
		}
	}
}

// Session is the aggregate for one authenticated connection. All mutation
// goes through Do or the exported methods, which hold the session lock.
// fn passed to Do must not call back into the Session.
type Session struct {
	id        string
	identity  Identity
	logger    *log.Logger
	validator *tuning.Validator
	now       func() time.Time
	initial   tuning.Policy
	pairs     []rotation.Pair
	policy    atomic.Pointer[tuning.Policy]

	mu    sync.Mutex
	state State
}

func New(logger *log.Logger, identity Identity, opts ...Option) (*Session, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	s := &Session{
		id:        ids.Prefixed("sess"),
		identity:  identity,
		logger:    logger,
		validator: tuning.NewValidator(logger),
		now:       time.Now,
		initial:   tuning.Defaults(),
		pairs:     rotation.DefaultPairs(),
	}
	for _, opt := range opts {
		opt(s)
	}

	rot, err := rotation.New(s.pairs, s.initial.RotationLimit)
	if err != nil {
		return nil, fmt.Errorf("session rotation: %w", err)
	}
	rot.SetReducedPool(s.initial.ReducedPool)

	policy := s.initial
	s.policy.Store(&policy)

	if s.state.rng == nil {
		s.state.rng = rand.New(rand.NewSource(s.now().UnixNano()))
	}
	s.state.rotation = rot
	s.state.logger = logger
	s.state.sessionID = s.id
	s.state.timeoutStreak = make(map[rotation.ResourceID]int)
	s.state.failures = make(map[protocol.OperationType]int)
	s.state.startedAt = s.now()
	return s, nil
}

func (s *Session) ID() string         { return s.id }
func (s *Session) Identity() Identity { return s.identity }

// Policy returns the active policy without taking the session lock.
func (s *Session) Policy() tuning.Policy {
	return *s.policy.Load()
}

// Do runs fn with exclusive access to the session state.
func (s *Session) Do(fn func(*State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.policy = s.Policy()
	s.state.now = s.now()
	fn(&s.state)
}

// ApplyConfig passes raw through the validator, publishes the resulting
// policy and adjusts rotation to it. The effective policy is returned.
func (s *Session) ApplyConfig(raw map[string]any) tuning.Policy {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.validator.Sanitize(s.Policy(), raw)
	s.policy.Store(&next)
	s.state.rotation.SetLimit(next.RotationLimit)
	s.state.rotation.SetReducedPool(next.ReducedPool)
	s.logger.Printf("session config synced session_id=%s subject=%s extra_keys=%d", s.id, s.identity.Subject, len(next.ExtraKeys()))
	return next
}

// Reset clears counters, timeout history and in-flight batches and returns
// rotation to the first resource of the first pair.
func (s *Session) Reset(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := &s.state
	st.eventCount = 0
	st.lastFedAt = 0
	st.lastCleanedAt = 0
	st.lastBreakAt = 0
	st.lastRotationAt = 0
	st.totalTimeouts = 0
	clear(st.timeoutStreak)
	clear(st.failures)
	st.inflight = nil
	st.rotation.Reset()
	s.logger.Printf("session reset session_id=%s subject=%s reason=%s", s.id, s.identity.Subject, reason)
}

func (s *Session) EventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.eventCount
}

type Snapshot struct {
	ID             string                      `json:"id"`
	Subject        string                      `json:"subject"`
	Login          string                      `json:"login"`
	EventCount     int                         `json:"event_count"`
	LastFedAt      int                         `json:"last_fed_at"`
	LastCleanedAt  int                         `json:"last_cleaned_at"`
	LastBreakAt    int                         `json:"last_break_at"`
	LastRotationAt int                         `json:"last_rotation_at"`
	Rotation       rotation.Snapshot           `json:"rotation"`
	TimeoutStreak  map[rotation.ResourceID]int `json:"timeout_streak"`
	TotalTimeouts  int                         `json:"total_timeouts"`
	InFlight       int                         `json:"in_flight"`
	Policy         map[string]any              `json:"policy"`
	StartedAt      time.Time                   `json:"started_at"`
	Uptime         string                      `json:"uptime"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := &s.state
	streaks := make(map[rotation.ResourceID]int, len(st.timeoutStreak))
	for id, n := range st.timeoutStreak {
		streaks[id] = n
	}
	return Snapshot{
		ID:             s.id,
		Subject:        s.identity.Subject,
		Login:          s.identity.Login,
		EventCount:     st.eventCount,
		LastFedAt:      st.lastFedAt,
		LastCleanedAt:  st.lastCleanedAt,
		LastBreakAt:    st.lastBreakAt,
		LastRotationAt: st.lastRotationAt,
		Rotation:       st.rotation.Snapshot(),
		TimeoutStreak:  streaks,
		TotalTimeouts:  st.totalTimeouts,
		InFlight:       len(st.inflight),
		Policy:         s.Policy().Map(),
		StartedAt:      st.startedAt.UTC(),
		Uptime:         s.now().Sub(st.startedAt).Round(time.Second).String(),
	}
}
