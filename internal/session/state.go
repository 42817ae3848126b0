package session

import (
	"log"
	"math/rand"
	"time"

	"reelstack.local/reel-gateway/internal/protocol"
	"reelstack.local/reel-gateway/internal/rotation"
	"reelstack.local/reel-gateway/internal/tuning"
)

// BreakCeiling is the session age after which a break is always due.
const BreakCeiling = 2 * time.Hour

// TimingChance is the probability that an event carries a timing
// adjustment.
const TimingChance = 0.05

// State is the lock-guarded interior of a Session. It is only reachable
// inside Session.Do.
//
// Every Should* trigger commits its own marker when it fires, so each one
// must be evaluated at most once per inbound event and its result reused.
type State struct {
	logger    *log.Logger
	sessionID string
	rng       *rand.Rand
	policy    tuning.Policy
	now       time.Time
	startedAt time.Time

	eventCount     int
	lastFedAt      int
	lastCleanedAt  int
	lastBreakAt    int
	lastRotationAt int

	rotation      *rotation.State
	timeoutStreak map[rotation.ResourceID]int
	totalTimeouts int

	inflight []inflightBatch
	failures map[protocol.OperationType]int
}

func (st *State) Policy() tuning.Policy { return st.policy }
func (st *State) Rotation() *rotation.State { return st.rotation }
func (st *State) Rand() *rand.Rand { return st.rng }
func (st *State) Now() time.Time { return st.now }
func (st *State) EventCount() int { return st.eventCount }
func (st *State) TotalTimeouts() int { return st.totalTimeouts }
func (st *State) Streak(id rotation.ResourceID) int { return st.timeoutStreak[id] }

// Markers returns the trigger markers in the order fed, cleaned, break,
// rotation.
func (st *State) Markers() (fed, cleaned, brk, rotated int) {
	return st.lastFedAt, st.lastCleanedAt, st.lastBreakAt, st.lastRotationAt
}

// RecordProgress counts one progress event, records the resource use and
// clears that resource's timeout streak. An unknown resource is logged and
// the event still counts.
func (st *State) RecordProgress(id rotation.ResourceID) error {
	st.eventCount++
	if err := st.rotation.RecordUse(id); err != nil {
		st.logger.Printf("progress resource ignored session_id=%s resource_id=%d err=%v", st.sessionID, id, err)
		return err
	}
	delete(st.timeoutStreak, id)
	return nil
}

// RecordTimeout extends the timeout streak of id. Unknown resources are not
// stored.
func (st *State) RecordTimeout(id rotation.ResourceID) error {
	if !st.rotation.Known(id) {
		err := rotation.ErrUnknownResource
		st.logger.Printf("timeout resource ignored session_id=%s resource_id=%d err=%v", st.sessionID, id, err)
		return err
	}
	st.totalTimeouts++
	st.timeoutStreak[id]++
	return nil
}

func (st *State) AnyStreak() bool {
	for _, n := range st.timeoutStreak {
		if n > 0 {
			return true
		}
	}
	return false
}

// LongestStreak returns the resource with the longest running timeout
// streak, lowest id first on ties. n is 0 when no resource has a streak.
// Streaks are only reset by progress on that resource or by its own
// timeout maintenance.
func (st *State) LongestStreak() (id rotation.ResourceID, n int) {
	for rid, count := range st.timeoutStreak {
		if count > n || (count == n && count > 0 && rid < id) {
			id, n = rid, count
		}
	}
	return id, n
}

func (st *State) ShouldFeed() bool {
	if st.eventCount-st.lastFedAt < st.policy.FeedInterval {
		return false
	}
	st.lastFedAt = st.eventCount
	return true
}

func (st *State) ShouldClean() bool {
	if st.eventCount-st.lastCleanedAt < st.policy.CleanInterval {
		return false
	}
	st.lastCleanedAt = st.eventCount
	return true
}

// ShouldBreak fires on the event interval or once the session is older
// than BreakCeiling. Only the event marker is committed; the age basis is
// never reset.
func (st *State) ShouldBreak() bool {
	byCount := st.eventCount-st.lastBreakAt >= st.policy.BreakInterval
	byAge := st.now.Sub(st.startedAt) >= BreakCeiling
	if !byCount && !byAge {
		return false
	}
	st.lastBreakAt = st.eventCount
	return true
}

func (st *State) ShouldCleanByTimeout(id rotation.ResourceID) bool {
	if st.timeoutStreak[id] < st.policy.MaintenanceTimeout {
		return false
	}
	delete(st.timeoutStreak, id)
	return true
}

func (st *State) ShouldRandomizeTiming() bool {
	return st.rng.Float64() < TimingChance
}

// MarkCleaned commits a clean that was scheduled outside ShouldClean.
func (st *State) MarkCleaned() {
	st.lastCleanedAt = st.eventCount
}

func (st *State) MarkRotated() {
	st.lastRotationAt = st.eventCount
}

// BreakMinutes draws a break length from the policy range.
func (st *State) BreakMinutes() int {
	lo, hi := st.policy.BreakDurationMin, st.policy.BreakDurationMax
	if hi <= lo {
		return lo
	}
	return lo + st.rng.Intn(hi-lo+1)
}

// Uniform draws from [lo, hi).
func (st *State) Uniform(lo, hi float64) float64 {
	return lo + st.rng.Float64()*(hi-lo)
}
