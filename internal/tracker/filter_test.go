package tracker

import (
	"errors"
	"testing"
	"time"

	"github.com/relabs-tech/fixtracker/internal/gps"
)

func TestEvaluateSeedsUnseededState(t *testing.T) {
	var state SessionState
	d := Evaluate(fixAt("gps", 1000, 10, 10), state, DefaultSessionConfig())
	if !d.Accept || d.Reason != gps.ReasonSeed {
		t.Fatalf("decision = %+v, want Accept(seed)", d)
	}
}

func TestEvaluateScenario(t *testing.T) {
	cfg := SessionConfig{MinTime: 300000 * time.Millisecond, MinDistance: 10}
	var state SessionState

	seed := fixAt("gps", 0, 0, 0)
	if d := Evaluate(seed, state, cfg); !d.Accept || d.Reason != gps.ReasonSeed {
		t.Fatalf("seed decision = %+v", d)
	}
	state.Accept(seed)

	tooSoon := fixAt("gps", 200000, 0, 0)
	if d := Evaluate(tooSoon, state, cfg); d.Accept {
		t.Fatalf("t=200000 same place accepted: %+v", d)
	}

	lat, lon := gps.Offset(0, 0, 50, 0)
	moved := fixAt("gps", 400000, lat, lon)
	d := Evaluate(moved, state, cfg)
	if !d.Accept || d.Reason != gps.ReasonInterval {
		t.Fatalf("t=400000 50m away decision = %+v, want Accept(interval)", d)
	}
	state.Accept(moved)

	// time since the original seed is fine, but the baseline just moved
	stayed := fixAt("gps", 400100, lat, lon)
	if d := Evaluate(stayed, state, cfg); d.Accept {
		t.Fatalf("t=400100 at new baseline accepted: %+v", d)
	}
}

func TestEvaluateNeedsTimeAndDistance(t *testing.T) {
	cfg := SessionConfig{MinTime: time.Minute, MinDistance: 100}
	base := fixAt("gps", 1_000_000, 45, 7)
	var state SessionState
	state.Accept(base)

	farLat, farLon := gps.Offset(45, 7, 500, 0)
	nearLat, nearLon := gps.Offset(45, 7, 20, 0)

	tests := []struct {
		name   string
		cand   gps.Fix
		accept bool
	}{
		{"both satisfied", fixAt("gps", 1_000_000+61_000, farLat, farLon), true},
		{"exact thresholds", fixAt("gps", 1_000_000+60_000, farLat, farLon), true},
		{"time only", fixAt("gps", 1_000_000+61_000, nearLat, nearLon), false},
		{"distance only", fixAt("gps", 1_000_000+10_000, farLat, farLon), false},
		{"neither", fixAt("gps", 1_000_000+10_000, nearLat, nearLon), false},
		{"older than baseline", fixAt("gps", 1_000_000-61_000, farLat, farLon), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Evaluate(tt.cand, state, cfg)
			if d.Accept != tt.accept {
				t.Errorf("Accept = %v, want %v (dt=%s dd=%.1fm)", d.Accept, tt.accept, d.Elapsed, d.Distance)
			}
			if d.Accept && d.Reason != gps.ReasonInterval {
				t.Errorf("Reason = %q, want interval", d.Reason)
			}
		})
	}
}

func TestEvaluateRejectLeavesStateUntouched(t *testing.T) {
	cfg := DefaultSessionConfig()
	var state SessionState
	base := fixAt("gps", 5000, 1, 1)
	state.Accept(base)
	before := *state.LastAccepted
	beforeAt := state.LastAcceptedAt

	for i := 0; i < 3; i++ {
		if d := Evaluate(fixAt("network", 6000, 1, 1), state, cfg); d.Accept {
			t.Fatalf("unexpected accept")
		}
	}
	if *state.LastAccepted != before || state.LastAcceptedAt != beforeAt {
		t.Fatalf("state changed on reject: %+v", state)
	}
}

func TestSessionConfigValidate(t *testing.T) {
	if err := DefaultSessionConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if err := (SessionConfig{}).Validate(); err != nil {
		t.Fatalf("zero thresholds should be valid: %v", err)
	}
	for _, c := range []SessionConfig{
		{MinTime: -time.Second},
		{MinDistance: -1},
	} {
		if err := c.Validate(); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("Validate(%+v) = %v, want ErrInvalidConfig", c, err)
		}
	}
}
