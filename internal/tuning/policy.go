// Package tuning turns untrusted tuning input into an immutable session
// Policy. Every recognized field is clamped into declared bounds before it
// can gate a decision.
package tuning

import "sort"

const (
	KeyFeedInterval       = "feed_interval"
	KeyCleanInterval      = "clean_interval"
	KeyBreakInterval      = "break_interval"
	KeyBreakDurationMin   = "break_duration_min"
	KeyBreakDurationMax   = "break_duration_max"
	KeyRotationLimit      = "rotation_limit"
	KeyMaintenanceTimeout = "maintenance_timeout"
	KeyReducedPool        = "reduced_pool"
)

// Policy is a validated, read-only set of session tunables. Values are
// replaced wholesale, never mutated in place.
type Policy struct {
	FeedInterval       int
	CleanInterval      int
	BreakInterval      int
	BreakDurationMin   int // minutes
	BreakDurationMax   int // minutes
	RotationLimit      int
	MaintenanceTimeout int
	ReducedPool        bool

	extra map[string]any
}

func Defaults() Policy {
	return Policy{
		FeedInterval:       1,
		CleanInterval:      2,
		BreakInterval:      50,
		BreakDurationMin:   30,
		BreakDurationMax:   60,
		RotationLimit:      20,
		MaintenanceTimeout: 3,
	}
}

// Extra returns a copy of the unrecognized keys supplied with the policy.
// They are echoed back to clients but never consulted for a threshold.
func (p Policy) Extra() map[string]any {
	out := make(map[string]any, len(p.extra))
	for k, v := range p.extra {
		out[k] = v
	}
	return out
}

// ExtraKeys lists unrecognized keys in sorted order.
func (p Policy) ExtraKeys() []string {
	keys := make([]string, 0, len(p.extra))
	for k := range p.extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Map renders the effective policy using wire keys, extras included.
func (p Policy) Map() map[string]any {
	out := p.Extra()
	out[KeyFeedInterval] = p.FeedInterval
	out[KeyCleanInterval] = p.CleanInterval
	out[KeyBreakInterval] = p.BreakInterval
	out[KeyBreakDurationMin] = p.BreakDurationMin
	out[KeyBreakDurationMax] = p.BreakDurationMax
	out[KeyRotationLimit] = p.RotationLimit
	out[KeyMaintenanceTimeout] = p.MaintenanceTimeout
	out[KeyReducedPool] = p.ReducedPool
	return out
}
