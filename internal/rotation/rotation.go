// Package rotation tracks wear on a fixed set of interchangeable resources
// grouped into pairs and rotates through the pairs as they are exhausted.
//
// State is not safe for concurrent use; the owning session serializes
// access.
package rotation

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownResource = errors.New("unknown resource")
	ErrInvalidPairs    = errors.New("invalid resource pairs")
)

type ResourceID int

type Pair [2]ResourceID

func (p Pair) Contains(id ResourceID) bool {
	return p[0] == id || p[1] == id
}

// Partner returns the other member of the pair, or the first member when id
// is not part of the pair.
func (p Pair) Partner(id ResourceID) ResourceID {
	switch id {
	case p[0]:
		return p[1]
	case p[1]:
		return p[0]
	default:
		return p[0]
	}
}

func DefaultPairs() []Pair {
	return []Pair{{1, 2}, {3, 4}, {5, 6}}
}

// ValidatePairs checks that pairs is non-empty, uses positive ids, and that
// no id appears twice.
func ValidatePairs(pairs []Pair) error {
	if len(pairs) == 0 {
		return fmt.Errorf("%w: at least one pair is required", ErrInvalidPairs)
	}
	seen := make(map[ResourceID]struct{}, len(pairs)*2)
	for i, pair := range pairs {
		for _, id := range pair {
			if id <= 0 {
				return fmt.Errorf("%w: pair %d has non-positive id %d", ErrInvalidPairs, i, id)
			}
			if _, ok := seen[id]; ok {
				return fmt.Errorf("%w: resource %d appears more than once", ErrInvalidPairs, id)
			}
			seen[id] = struct{}{}
		}
	}
	return nil
}

type State struct {
	usage       map[ResourceID]int
	pairs       []Pair
	pairIndex   int
	current     ResourceID
	limit       int
	reducedPool bool
}

// Snapshot is a read-only copy of State for introspection.
type Snapshot struct {
	Usage       map[ResourceID]int `json:"usage"`
	Pairs       []Pair             `json:"pairs"`
	PairIndex   int                `json:"pair_index"`
	Current     ResourceID         `json:"current"`
	Limit       int                `json:"limit"`
	ReducedPool bool               `json:"reduced_pool"`
}

func New(pairs []Pair, limit int) (*State, error) {
	if err := ValidatePairs(pairs); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("usage limit must be > 0, got %d", limit)
	}
	owned := make([]Pair, len(pairs))
	copy(owned, pairs)

	s := &State{
		usage: make(map[ResourceID]int, len(owned)*2),
		pairs: owned,
		limit: limit,
	}
	s.Reset()
	return s, nil
}

// Reset zeroes every usage counter and returns to the first member of the
// first pair.
func (s *State) Reset() {
	for _, pair := range s.pairs {
		s.usage[pair[0]] = 0
		s.usage[pair[1]] = 0
	}
	s.pairIndex = 0
	s.current = s.pairs[0][0]
}

func (s *State) Known(id ResourceID) bool {
	_, ok := s.usage[id]
	return ok
}

// RecordUse counts one use of id and makes it current. Counts saturate at
// the usage limit.
func (s *State) RecordUse(id ResourceID) error {
	count, ok := s.usage[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownResource, id)
	}
	if count < s.limit {
		s.usage[id] = count + 1
	}
	s.current = id
	return nil
}

func (s *State) ActivePair() Pair {
	return s.pairs[s.pairIndex]
}

// PairExhausted reports whether both members of the active pair reached the
// usage limit. In reduced-pool mode only the first pair is considered.
func (s *State) PairExhausted() bool {
	pair := s.pairs[s.pairIndex]
	if s.reducedPool {
		pair = s.pairs[0]
	}
	return s.usage[pair[0]] >= s.limit && s.usage[pair[1]] >= s.limit
}

// RotateToNextPair advances circularly to the next pair, zeroes its usage
// and selects its first member. It is a no-op in reduced-pool mode, where
// exhaustion is answered with maintenance instead; ok is false then.
func (s *State) RotateToNextPair() (target ResourceID, ok bool) {
	if s.reducedPool {
		return s.current, false
	}
	s.pairIndex = (s.pairIndex + 1) % len(s.pairs)
	pair := s.pairs[s.pairIndex]
	s.usage[pair[0]] = 0
	s.usage[pair[1]] = 0
	s.current = pair[0]
	return s.current, true
}

// AdvanceWithinPair switches to the partner of the current resource in the
// active pair.
func (s *State) AdvanceWithinPair() ResourceID {
	s.current = s.pairs[s.pairIndex].Partner(s.current)
	return s.current
}

// Replenish zeroes usage of the pair that exhaustion is measured against.
// Used when maintenance restocks the active set instead of rotating.
func (s *State) Replenish() {
	pair := s.pairs[s.pairIndex]
	if s.reducedPool {
		pair = s.pairs[0]
	}
	s.usage[pair[0]] = 0
	s.usage[pair[1]] = 0
}

// SetLimit changes the usage ceiling and clamps existing counts to it.
func (s *State) SetLimit(limit int) {
	if limit <= 0 || limit == s.limit {
		return
	}
	s.limit = limit
	for id, count := range s.usage {
		if count > limit {
			s.usage[id] = limit
		}
	}
}

// SetReducedPool toggles reduced-pool mode. Enabling it pins rotation to the
// first pair.
func (s *State) SetReducedPool(enabled bool) {
	if enabled == s.reducedPool {
		return
	}
	s.reducedPool = enabled
	if !enabled {
		return
	}
	s.pairIndex = 0
	if !s.pairs[0].Contains(s.current) {
		s.current = s.pairs[0][0]
	}
}

func (s *State) ReducedPool() bool { return s.reducedPool }
func (s *State) Current() ResourceID { return s.current }
func (s *State) PairIndex() int { return s.pairIndex }
func (s *State) Limit() int { return s.limit }
func (s *State) Usage(id ResourceID) int { return s.usage[id] }

// Resources lists every resource id in pair order.
func (s *State) Resources() []ResourceID {
	out := make([]ResourceID, 0, len(s.pairs)*2)
	for _, pair := range s.pairs {
		out = append(out, pair[0], pair[1])
	}
	return out
}

func (s *State) Snapshot() Snapshot {
	usage := make(map[ResourceID]int, len(s.usage))
	for id, count := range s.usage {
		usage[id] = count
	}
	pairs := make([]Pair, len(s.pairs))
	copy(pairs, s.pairs)
	return Snapshot{
		Usage:       usage,
		Pairs:       pairs,
		PairIndex:   s.pairIndex,
		Current:     s.current,
		Limit:       s.limit,
		ReducedPool: s.reducedPool,
	}
}
