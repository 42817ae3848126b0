// Package batch turns inbound progress and timeout reports into ordered
// operation batches for the client.
package batch

import (
	"io"
	"log"

	"reelstack.local/reel-gateway/internal/ids"
	"reelstack.local/reel-gateway/internal/protocol"
	"reelstack.local/reel-gateway/internal/rotation"
	"reelstack.local/reel-gateway/internal/session"
	"reelstack.local/reel-gateway/internal/tuning"
)

// Timing adjustment ranges, in seconds.
var (
	clickDelayRange       = [2]float64{0.08, 0.15}
	movementPauseMinRange = [2]float64{0.2, 0.4}
	movementPauseMaxRange = [2]float64{0.5, 0.8}
)

// Expander turns a symbolic operation into the primitive actions the client
// executes.
type Expander interface {
	Expand(op protocol.Operation, policy tuning.Policy) ([]protocol.Action, error)
}

type Option func(*Composer)

func WithExpander(e Expander) Option {
	return func(c *Composer) {
		c.expander = e
	}
}

type Composer struct {
	logger   *log.Logger
	expander Expander
}

func NewComposer(logger *log.Logger, opts ...Option) *Composer {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	c := &Composer{logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Progress handles a progress report for resource id. The returned batch
// always ends its rotation section with a rotate_within_pair operation, so
// it is never empty.
func (c *Composer) Progress(sess *session.Session, id rotation.ResourceID) protocol.ExecuteBatch {
	batchID := ids.Prefixed("batch")
	var (
		ops    []protocol.Operation
		policy tuning.Policy
	)

	sess.Do(func(st *session.State) {
		policy = st.Policy()
		cp := st.Checkpoint()
		_ = st.RecordProgress(id)
		rot := st.Rotation()

		fed := st.ShouldFeed()
		if fed {
			ops = append(ops, protocol.Operation{Type: protocol.OpFeed})
		}

		exhausted := rot.PairExhausted()
		rotated := false
		if exhausted && !rot.ReducedPool() {
			if target, ok := rot.RotateToNextPair(); ok {
				rotated = true
				st.MarkRotated()
				ops = append(ops, protocol.Operation{
					Type:   protocol.OpRotatePair,
					Params: protocol.Params{TargetResource: target},
				})
			}
		}

		// Evaluated once; the maintenance check below reuses it.
		willClean := st.ShouldClean()
		reducedExhausted := rot.ReducedPool() && exhausted
		streaked, streak := st.LongestStreak()
		if reason, ok := maintenanceReason(fed, willClean, streak > 0, reducedExhausted); ok {
			target := rot.Current()
			if reason == protocol.ReasonTimeoutStreak {
				target = streaked
			}
			ops = append(ops, protocol.Operation{
				Type:   protocol.OpMaintain,
				Params: protocol.Params{ResourceID: target, Reason: reason},
			})
			if reducedExhausted {
				rot.Replenish()
			}
		}

		if willClean {
			ops = append(ops, protocol.Operation{Type: protocol.OpClean})
		}

		next := rot.Current()
		if !rotated {
			next = rot.AdvanceWithinPair()
		}
		ops = append(ops, protocol.Operation{
			Type:   protocol.OpRotateWithinPair,
			Params: protocol.Params{TargetResource: next},
		})

		if st.ShouldBreak() {
			ops = append(ops, protocol.Operation{
				Type:   protocol.OpBreak,
				Params: protocol.Params{DurationMinutes: st.BreakMinutes()},
			})
		}

		if st.ShouldRandomizeTiming() {
			ops = append(ops, protocol.Operation{
				Type: protocol.OpAdjustTiming,
				Params: protocol.Params{
					ClickDelay:       st.Uniform(clickDelayRange[0], clickDelayRange[1]),
					MovementPauseMin: st.Uniform(movementPauseMinRange[0], movementPauseMinRange[1]),
					MovementPauseMax: st.Uniform(movementPauseMaxRange[0], movementPauseMaxRange[1]),
				},
			})
		}

		st.Track(batchID, cp, protocol.Types(ops))
	})

	c.expand(sess, batchID, ops, policy)
	c.logger.Printf("batch composed session_id=%s batch_id=%s trigger=progress resource_id=%d ops=%v", sess.ID(), batchID, id, protocol.Types(ops))
	return protocol.ExecuteBatch{BatchID: batchID, Operations: ops}
}

// Timeout handles a timeout report for resource id. A batch is produced
// only when the resource's timeout streak reaches the maintenance
// threshold; ok is false otherwise.
func (c *Composer) Timeout(sess *session.Session, id rotation.ResourceID) (protocol.ExecuteBatch, bool) {
	batchID := ids.Prefixed("batch")
	var (
		ops    []protocol.Operation
		policy tuning.Policy
	)

	sess.Do(func(st *session.State) {
		policy = st.Policy()
		cp := st.Checkpoint()
		if err := st.RecordTimeout(id); err != nil {
			return
		}
		if !st.ShouldCleanByTimeout(id) {
			return
		}
		if st.ShouldFeed() {
			ops = append(ops, protocol.Operation{Type: protocol.OpFeed})
		}
		ops = append(ops,
			protocol.Operation{
				Type:   protocol.OpMaintain,
				Params: protocol.Params{ResourceID: id, Reason: protocol.ReasonTimeout},
			},
			protocol.Operation{Type: protocol.OpClean},
		)
		st.MarkCleaned()
		st.Track(batchID, cp, protocol.Types(ops))
	})

	if len(ops) == 0 {
		return protocol.ExecuteBatch{}, false
	}
	c.expand(sess, batchID, ops, policy)
	c.logger.Printf("batch composed session_id=%s batch_id=%s trigger=timeout resource_id=%d ops=%v", sess.ID(), batchID, id, protocol.Types(ops))
	return protocol.ExecuteBatch{BatchID: batchID, Operations: ops}, true
}

func maintenanceReason(fed, willClean, streak, reducedExhausted bool) (string, bool) {
	switch {
	case fed:
		return protocol.ReasonFeed, true
	case willClean:
		return protocol.ReasonClean, true
	case streak:
		return protocol.ReasonTimeoutStreak, true
	case reducedExhausted:
		return protocol.ReasonExhausted, true
	default:
		return "", false
	}
}

func (c *Composer) expand(sess *session.Session, batchID string, ops []protocol.Operation, policy tuning.Policy) {
	if c.expander == nil {
		return
	}
	for i := range ops {
		actions, err := c.expander.Expand(ops[i], policy)
		if err != nil {
			c.logger.Printf("batch expansion dropped session_id=%s batch_id=%s op=%s err=%v", sess.ID(), batchID, ops[i].Type, err)
			continue
		}
		ops[i].Actions = actions
	}
}
