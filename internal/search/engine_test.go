package search

import (
	"context"
	"errors"
	"testing"

	"github.com/relabs-tech/dco_calibrator/internal/capture"
	"github.com/relabs-tech/dco_calibrator/internal/dco"
)

// fakeSampler answers measurements from a pure response function and
// counts trials.
type fakeSampler struct {
	fn         func(dco.Config) capture.Measurement
	calls      int
	programmed []dco.Config
}

func (f *fakeSampler) Measure(_ context.Context, cfg dco.Config) (capture.Measurement, error) {
	f.calls++
	return f.fn(cfg), nil
}

func (f *fakeSampler) Program(cfg dco.Config) error {
	f.programmed = append(f.programmed, cfg)
	return nil
}

// fineModel is monotone in every knob and fine-grained enough that the
// modulation scan can cover a whole step gap: any point with step 1..6
// and mod 0..24 is exactly representable.
func fineModel(cfg dco.Config) capture.Measurement {
	return capture.Measurement(10000*uint(cfg.RSel) + 25*uint(cfg.Step) + uint(cfg.Mod))
}

// coarseModel has a step gap (100) far wider than full modulation (31),
// which exercises the clamped-modulation boundary cases.
func coarseModel(cfg dco.Config) capture.Measurement {
	return capture.Measurement(10000*uint(cfg.RSel) + 100*uint(cfg.Step) + uint(cfg.Mod))
}

func TestSearchExactConvergence(t *testing.T) {
	known := []dco.Config{
		{RSel: 3, Step: 1, Mod: 3},
		{RSel: 5, Step: 4, Mod: 17},
		{RSel: 9, Step: 2, Mod: 0},
		{RSel: 12, Step: 6, Mod: 24},
	}

	for _, want := range known {
		fs := &fakeSampler{fn: fineModel}
		goal := fineModel(want)

		cfg, meas, err := New(fs).Search(context.Background(), goal)
		if err != nil {
			t.Fatalf("goal %d: %v", goal, err)
		}

		got := fineModel(cfg)
		var dist capture.Measurement
		if got >= goal {
			dist = got - goal
		} else {
			dist = goal - got
		}
		if dist > 1 {
			t.Errorf("goal %d: converged on %v (meas %d), off by %d", goal, cfg, got, dist)
		}
		if meas != got {
			t.Errorf("goal %d: reported measurement %d, model says %d for %v", goal, meas, got, cfg)
		}
		if len(fs.programmed) == 0 || fs.programmed[len(fs.programmed)-1] != cfg {
			t.Errorf("goal %d: hardware not left at final config %v", goal, cfg)
		}
	}
}

func TestSearchTrialBound(t *testing.T) {
	goals := []capture.Measurement{
		0, 1, 500, 10000, 50075, 99999, 150000, 1 << 30,
	}
	for _, goal := range goals {
		fs := &fakeSampler{fn: fineModel}
		_, _, err := New(fs).Search(context.Background(), goal)
		if err != nil && !errors.Is(err, ErrUnreachable) {
			t.Fatalf("goal %d: %v", goal, err)
		}
		if fs.calls > 56 {
			t.Errorf("goal %d: %d trials, bound is 56", goal, fs.calls)
		}
	}
}

func TestSearchUnreachableHigh(t *testing.T) {
	// The response tops out below the goal everywhere.
	fs := &fakeSampler{fn: func(dco.Config) capture.Measurement { return 100 }}
	_, _, err := New(fs).Search(context.Background(), 5000)
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("err = %v, want ErrUnreachable", err)
	}
}

func TestSearchUnreachableLow(t *testing.T) {
	// Step 0 already overshoots in every range.
	fs := &fakeSampler{fn: func(cfg dco.Config) capture.Measurement {
		return 1000 + capture.Measurement(cfg.RSel)
	}}
	_, _, err := New(fs).Search(context.Background(), 10)
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("err = %v, want ErrUnreachable", err)
	}
}

func TestSearchRangeTieBreak(t *testing.T) {
	// Goal sits just past range 6's center-step response, so range 7
	// overshoots first; range 6 must win because it is strictly closer.
	goal := capture.Measurement(10000*6 + 25*3 + 20)
	fs := &fakeSampler{fn: fineModel}
	cfg, _, err := New(fs).Search(context.Background(), goal)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if cfg.RSel != 6 {
		t.Fatalf("selected rsel %d, want 6", cfg.RSel)
	}
}

func TestSearchModClampAdvancesStep(t *testing.T) {
	// Goal is 90 above step 2's baseline; full modulation only reaches
	// +31, while step 3 overshoots by just 10, so the engine must undo
	// the step retreat.
	goal := capture.Measurement(10000*4 + 100*2 + 90)
	fs := &fakeSampler{fn: coarseModel}
	cfg, meas, err := New(fs).Search(context.Background(), goal)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	want := dco.Config{RSel: 4, Step: 3, Mod: 0}
	if cfg != want {
		t.Fatalf("cfg = %v, want %v", cfg, want)
	}
	if meas != goal+10 {
		t.Fatalf("meas = %d, want %d", meas, goal+10)
	}
}

func TestSearchModClampStays(t *testing.T) {
	// Goal is 50 above step 2's baseline: mod 31 leaves error 19, the
	// un-retreated step would leave 50, so the clamp stands.
	goal := capture.Measurement(10000*4 + 100*2 + 50)
	fs := &fakeSampler{fn: coarseModel}
	cfg, meas, err := New(fs).Search(context.Background(), goal)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	want := dco.Config{RSel: 4, Step: 2, Mod: 31}
	if cfg != want {
		t.Fatalf("cfg = %v, want %v", cfg, want)
	}
	if meas != goal-19 {
		t.Fatalf("meas = %d, want %d", meas, goal-19)
	}
}

func TestSearchModTieBreakRetreats(t *testing.T) {
	// fineModel increments by 1 per mod, so an off-goal overshoot at
	// mod m means mod m-1 hit the goal exactly and must be kept.
	goal := capture.Measurement(10000*8 + 25*3 + 10)
	fs := &fakeSampler{fn: fineModel}
	cfg, meas, err := New(fs).Search(context.Background(), goal)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if meas != goal {
		t.Fatalf("meas = %d, want exact goal %d", meas, goal)
	}
	if got := fineModel(cfg); got != goal {
		t.Fatalf("final config %v measures %d, want %d", cfg, got, goal)
	}
}
