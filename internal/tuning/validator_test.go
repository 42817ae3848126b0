package tuning

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func TestDefaultsWithinBounds(t *testing.T) {
	p := Defaults()
	for key, value := range p.Map() {
		min, max, ok := Bounds(key)
		if !ok {
			continue
		}
		n := value.(int)
		if n < min || n > max {
			t.Fatalf("default %s=%d outside [%d,%d]", key, n, min, max)
		}
	}
}

func TestSanitizeClampsOutOfRange(t *testing.T) {
	v := NewValidator(nil)
	got := v.Sanitize(Defaults(), map[string]any{
		KeyFeedInterval:       0,
		KeyCleanInterval:      10000,
		KeyBreakInterval:      1,
		KeyRotationLimit:      -4,
		KeyMaintenanceTimeout: 999,
	})

	cases := map[string]int{
		KeyFeedInterval:       1,
		KeyCleanInterval:      500,
		KeyBreakInterval:      5,
		KeyRotationLimit:      1,
		KeyMaintenanceTimeout: 50,
	}
	m := got.Map()
	for key, want := range cases {
		if m[key] != want {
			t.Fatalf("expected %s=%d, got %v", key, want, m[key])
		}
	}
}

func TestSanitizeClampsHugeValuesToMaximum(t *testing.T) {
	v := NewValidator(nil)
	got := v.Sanitize(Defaults(), map[string]any{
		KeyBreakInterval:      1e20,
		KeyFeedInterval:       "99999999999999999999",
		KeyCleanInterval:      "-99999999999999999999",
		KeyMaintenanceTimeout: "NaN",
		KeyRotationLimit:      7.9,
	})
	if got.BreakInterval != 1000 {
		t.Fatalf("expected break interval clamped to 1000, got %d", got.BreakInterval)
	}
	if got.FeedInterval != 500 {
		t.Fatalf("expected feed interval clamped to 500, got %d", got.FeedInterval)
	}
	if got.CleanInterval != 1 {
		t.Fatalf("expected clean interval clamped to 1, got %d", got.CleanInterval)
	}
	if got.MaintenanceTimeout != Defaults().MaintenanceTimeout {
		t.Fatalf("expected NaN dropped, got %d", got.MaintenanceTimeout)
	}
	if got.RotationLimit != 7 {
		t.Fatalf("expected fractional value truncated to 7, got %d", got.RotationLimit)
	}
}

func TestSanitizeCoercesTypes(t *testing.T) {
	v := NewValidator(nil)
	got := v.Sanitize(Defaults(), map[string]any{
		KeyFeedInterval:  "7",
		KeyCleanInterval: float64(4),
		KeyReducedPool:   "true",
	})
	if got.FeedInterval != 7 {
		t.Fatalf("expected feed interval 7, got %d", got.FeedInterval)
	}
	if got.CleanInterval != 4 {
		t.Fatalf("expected clean interval 4, got %d", got.CleanInterval)
	}
	if !got.ReducedPool {
		t.Fatalf("expected reduced pool enabled")
	}
}

func TestSanitizeDropsUncoercibleFieldAndKeepsPrior(t *testing.T) {
	var buf bytes.Buffer
	v := NewValidator(log.New(&buf, "", 0))

	prev := v.Sanitize(Defaults(), map[string]any{KeyFeedInterval: 9, KeyReducedPool: true})
	got := v.Sanitize(prev, map[string]any{
		KeyFeedInterval:  "often",
		KeyReducedPool:   "sometimes",
		KeyCleanInterval: nil,
		KeyBreakInterval: []int{1, 2},
		KeyRotationLimit: 12,
	})

	if got.FeedInterval != 9 {
		t.Fatalf("expected prior feed interval 9, got %d", got.FeedInterval)
	}
	if !got.ReducedPool {
		t.Fatalf("expected prior reduced pool flag to survive")
	}
	if got.CleanInterval != prev.CleanInterval || got.BreakInterval != prev.BreakInterval {
		t.Fatalf("expected dropped fields to keep prior values")
	}
	if got.RotationLimit != 12 {
		t.Fatalf("expected valid field in same update to apply, got %d", got.RotationLimit)
	}
	if !strings.Contains(buf.String(), "key="+KeyFeedInterval) {
		t.Fatalf("expected dropped field to be logged, got %q", buf.String())
	}
}

func TestSanitizeSwapsInvertedBreakRange(t *testing.T) {
	v := NewValidator(nil)
	got := v.Sanitize(Defaults(), map[string]any{
		KeyBreakDurationMin: 90,
		KeyBreakDurationMax: 20,
	})
	if got.BreakDurationMin != 20 || got.BreakDurationMax != 90 {
		t.Fatalf("expected swapped range 20..90, got %d..%d", got.BreakDurationMin, got.BreakDurationMax)
	}
}

func TestSanitizeCarriesUnknownKeysAsExtras(t *testing.T) {
	v := NewValidator(nil)
	first := v.Sanitize(Defaults(), map[string]any{"theme": "dark", KeyFeedInterval: 3})
	second := v.Sanitize(first, map[string]any{"volume": 4})

	extra := second.Extra()
	if extra["theme"] != "dark" || extra["volume"] != 4 {
		t.Fatalf("unexpected extras: %#v", extra)
	}
	if keys := second.ExtraKeys(); len(keys) != 2 || keys[0] != "theme" || keys[1] != "volume" {
		t.Fatalf("unexpected extra keys: %v", keys)
	}
	if second.Map()["theme"] != "dark" || second.Map()[KeyFeedInterval] != 3 {
		t.Fatalf("expected effective map to include extras and fields")
	}
}

func TestSanitizeDoesNotMutatePrior(t *testing.T) {
	v := NewValidator(nil)
	prev := v.Sanitize(Defaults(), map[string]any{"a": 1})
	_ = v.Sanitize(prev, map[string]any{"b": 2, KeyFeedInterval: 40})

	if prev.FeedInterval != Defaults().FeedInterval {
		t.Fatalf("prior policy mutated")
	}
	if _, ok := prev.Extra()["b"]; ok {
		t.Fatalf("prior extras mutated")
	}
	extra := prev.Extra()
	extra["c"] = 3
	if _, ok := prev.Extra()["c"]; ok {
		t.Fatalf("Extra must return a copy")
	}
}
