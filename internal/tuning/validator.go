package tuning

import (
	"errors"
	"io"
	"log"
	"math"

	"github.com/spf13/cast"
)

type kind int

const (
	kindInt kind = iota
	kindBool
)

type field struct {
	key      string
	kind     kind
	min, max int
	get      func(*Policy) *int
	getBool  func(*Policy) *bool
}

var fields = []field{
	{key: KeyFeedInterval, kind: kindInt, min: 1, max: 500, get: func(p *Policy) *int { return &p.FeedInterval }},
	{key: KeyCleanInterval, kind: kindInt, min: 1, max: 500, get: func(p *Policy) *int { return &p.CleanInterval }},
	{key: KeyBreakInterval, kind: kindInt, min: 5, max: 1000, get: func(p *Policy) *int { return &p.BreakInterval }},
	{key: KeyBreakDurationMin, kind: kindInt, min: 1, max: 240, get: func(p *Policy) *int { return &p.BreakDurationMin }},
	{key: KeyBreakDurationMax, kind: kindInt, min: 1, max: 240, get: func(p *Policy) *int { return &p.BreakDurationMax }},
	{key: KeyRotationLimit, kind: kindInt, min: 1, max: 200, get: func(p *Policy) *int { return &p.RotationLimit }},
	{key: KeyMaintenanceTimeout, kind: kindInt, min: 1, max: 50, get: func(p *Policy) *int { return &p.MaintenanceTimeout }},
	{key: KeyReducedPool, kind: kindBool, getBool: func(p *Policy) *bool { return &p.ReducedPool }},
}

// Bounds reports the declared range of a numeric key.
func Bounds(key string) (min, max int, ok bool) {
	for _, f := range fields {
		if f.key == key && f.kind == kindInt {
			return f.min, f.max, true
		}
	}
	return 0, 0, false
}

type Validator struct {
	logger *log.Logger
}

func NewValidator(logger *log.Logger) *Validator {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Validator{logger: logger}
}

// Sanitize merges raw into prev and returns the resulting policy. Recognized
// keys are coerced and clamped; a key that cannot be coerced is dropped and
// the prior value kept. Unrecognized keys are carried as extras. Sanitize
// never fails.
func (v *Validator) Sanitize(prev Policy, raw map[string]any) Policy {
	next := prev
	next.extra = prev.Extra()

	for _, f := range fields {
		value, present := raw[f.key]
		if !present {
			continue
		}
		if value == nil {
			v.logger.Printf("tuning field dropped key=%s reason=null", f.key)
			continue
		}
		switch f.kind {
		case kindInt:
			n, err := toWhole(value)
			if err != nil {
				v.logger.Printf("tuning field dropped key=%s value=%v err=%v", f.key, value, err)
				continue
			}
			clamped := clamp(n, f.min, f.max)
			if float64(clamped) != n {
				v.logger.Printf("tuning field clamped key=%s value=%v min=%d max=%d result=%d", f.key, n, f.min, f.max, clamped)
			}
			*f.get(&next) = clamped
		case kindBool:
			b, err := cast.ToBoolE(value)
			if err != nil {
				v.logger.Printf("tuning field dropped key=%s value=%v err=%v", f.key, value, err)
				continue
			}
			*f.getBool(&next) = b
		}
	}

	if next.BreakDurationMin > next.BreakDurationMax {
		v.logger.Printf("tuning break duration range inverted min=%d max=%d", next.BreakDurationMin, next.BreakDurationMax)
		next.BreakDurationMin, next.BreakDurationMax = next.BreakDurationMax, next.BreakDurationMin
	}

	for key, value := range raw {
		if isKnown(key) {
			continue
		}
		next.extra[key] = value
	}
	return next
}

func isKnown(key string) bool {
	for _, f := range fields {
		if f.key == key {
			return true
		}
	}
	return false
}

// toWhole coerces value to a whole number without going through a fixed
// width integer, so huge inputs keep their sign.
func toWhole(value any) (float64, error) {
	f, err := cast.ToFloat64E(value)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) {
		return 0, errors.New("not a number")
	}
	return math.Trunc(f), nil
}

func clamp(n float64, min, max int) int {
	if n < float64(min) {
		return min
	}
	if n > float64(max) {
		return max
	}
	return int(n)
}
