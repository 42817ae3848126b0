package session

import (
	"slices"

	"reelstack.local/reel-gateway/internal/protocol"
)

const (
	// MaxInFlight bounds how many emitted batches keep a reconciliation
	// checkpoint.
	MaxInFlight = 32
	// EscalateAfter is the number of consecutive failures of one operation
	// type after which markers stop being rewound and operators are told.
	EscalateAfter = 3
)

// Checkpoint is the marker state captured before a batch is composed.
type Checkpoint struct {
	fed, cleaned, brk int
}

type inflightBatch struct {
	id         string
	checkpoint Checkpoint
	ops        []protocol.OperationType
}

// Checkpoint captures the current markers. Call it before any trigger is
// evaluated for an event.
func (st *State) Checkpoint() Checkpoint {
	return Checkpoint{fed: st.lastFedAt, cleaned: st.lastCleanedAt, brk: st.lastBreakAt}
}

// Track remembers an emitted batch for later reconciliation. The oldest
// entry is evicted once MaxInFlight is reached.
func (st *State) Track(batchID string, cp Checkpoint, ops []protocol.OperationType) {
	if batchID == "" {
		return
	}
	if len(st.inflight) >= MaxInFlight {
		st.inflight = slices.Delete(st.inflight, 0, len(st.inflight)-MaxInFlight+1)
	}
	st.inflight = append(st.inflight, inflightBatch{
		id:         batchID,
		checkpoint: cp,
		ops:        slices.Clone(ops),
	})
}

func (st *State) InFlight() int { return len(st.inflight) }

func (st *State) take(batchID string) (inflightBatch, bool) {
	for i, b := range st.inflight {
		if b.id == batchID {
			st.inflight = slices.Delete(st.inflight, i, i+1)
			return b, true
		}
	}
	return inflightBatch{}, false
}

// Completed drops the batch checkpoint and clears failure streaks of the
// reported operation types. A blank batch id only clears failure streaks.
// It reports whether the batch was being tracked.
func (st *State) Completed(batchID string, ops []protocol.OperationType) bool {
	known := false
	if batchID != "" {
		_, known = st.take(batchID)
	}
	for _, op := range ops {
		delete(st.failures, op)
	}
	return known
}

// FailureOutcome describes how a reported batch failure was reconciled.
type FailureOutcome struct {
	Known     bool
	Rewound   bool
	Escalated bool
	Failures  int
}

// Failed records a failed operation. For feed, clean and break the
// matching marker is rewound to its pre-batch value so the trigger fires
// again on a later event. Once EscalateAfter consecutive failures of the
// same type accumulate the marker is left alone and Escalated is set on the
// failure that reached the threshold.
func (st *State) Failed(batchID string, op protocol.OperationType) FailureOutcome {
	st.failures[op]++
	out := FailureOutcome{Failures: st.failures[op]}

	b, ok := st.take(batchID)
	out.Known = ok

	if out.Failures >= EscalateAfter {
		out.Escalated = out.Failures == EscalateAfter
		return out
	}
	if !ok || !slices.Contains(b.ops, op) {
		return out
	}

	switch op {
	case protocol.OpFeed:
		st.lastFedAt = min(st.lastFedAt, b.checkpoint.fed)
		out.Rewound = true
	case protocol.OpClean:
		st.lastCleanedAt = min(st.lastCleanedAt, b.checkpoint.cleaned)
		out.Rewound = true
	case protocol.OpBreak:
		st.lastBreakAt = min(st.lastBreakAt, b.checkpoint.brk)
		out.Rewound = true
	}
	return out
}
