package protocol

import "reelstack.local/reel-gateway/internal/rotation"

type OperationType string

const (
	OpFeed             OperationType = "feed"
	OpClean            OperationType = "clean"
	OpMaintain         OperationType = "maintain"
	OpRotatePair       OperationType = "rotate_pair"
	OpRotateWithinPair OperationType = "rotate_within_pair"
	OpBreak            OperationType = "break"
	OpAdjustTiming     OperationType = "adjust_timing"
)

func (t OperationType) Valid() bool {
	switch t {
	case OpFeed, OpClean, OpMaintain, OpRotatePair, OpRotateWithinPair, OpBreak, OpAdjustTiming:
		return true
	default:
		return false
	}
}

// Maintenance reasons.
const (
	ReasonFeed          = "feed"
	ReasonClean         = "clean"
	ReasonTimeout       = "timeout"
	ReasonExhausted     = "pair_exhausted"
	ReasonTimeoutStreak = "timeout_streak"
)

// Params holds the symbolic arguments of an operation. It never carries
// screen coordinates.
type Params struct {
	TargetResource   rotation.ResourceID `json:"target_resource,omitempty"`
	ResourceID       rotation.ResourceID `json:"resource_id,omitempty"`
	Reason           string              `json:"reason,omitempty"`
	DurationMinutes  int                 `json:"duration_minutes,omitempty"`
	ClickDelay       float64             `json:"click_delay,omitempty"`
	MovementPauseMin float64             `json:"movement_pause_min,omitempty"`
	MovementPauseMax float64             `json:"movement_pause_max,omitempty"`
}

// Operation is one step of a batch. Actions is only populated when an
// action sequence expander is configured.
type Operation struct {
	Type    OperationType `json:"type"`
	Params  Params        `json:"params"`
	Actions []Action      `json:"actions,omitempty"`
}

type ActionType string

const (
	ActionMove  ActionType = "move"
	ActionClick ActionType = "click"
	ActionDrag  ActionType = "drag"
	ActionWait  ActionType = "wait"
	ActionKey   ActionType = "key"
)

// Action is a primitive the client executes blindly.
type Action struct {
	Type     ActionType `json:"type"`
	X        int        `json:"x,omitempty"`
	Y        int        `json:"y,omitempty"`
	ToX      int        `json:"to_x,omitempty"`
	ToY      int        `json:"to_y,omitempty"`
	Button   string     `json:"button,omitempty"`
	Key      string     `json:"key,omitempty"`
	Repeat   int        `json:"repeat,omitempty"`
	Duration float64    `json:"duration,omitempty"`
}

// Types returns the operation types of ops in order.
func Types(ops []Operation) []OperationType {
	out := make([]OperationType, 0, len(ops))
	for _, op := range ops {
		out = append(out, op.Type)
	}
	return out
}
