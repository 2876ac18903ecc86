// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibrate

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/relabs-tech/dco_calibrator/internal/capture"
	"github.com/relabs-tech/dco_calibrator/internal/dco"
	"github.com/relabs-tech/dco_calibrator/internal/search"
	"github.com/relabs-tech/dco_calibrator/internal/store"
)

// Searcher runs one goal search. Implemented by search.Engine.
type Searcher interface {
	Search(ctx context.Context, goal capture.Measurement) (dco.Config, capture.Measurement, error)
}

// RefMonitor exposes the reference-oscillator fault flag, checked
// before each target's search begins.
type RefMonitor interface {
	RefFault() (bool, error)
}

// Result is the accepted outcome for one target.
type Result struct {
	Target   Target              `json:"target"`
	Config   dco.Config          `json:"config"`
	Measured capture.Measurement `json:"measured"`
	ErrorPct int                 `json:"error_pct"`
}

// Hooks receive progress events; all fields are optional. The app
// layer uses them for LED blinks and MQTT telemetry.
type Hooks struct {
	TargetStart func(t Target)
	Retry       func(t Target, attempt int)
	TargetDone  func(r Result)
}

// Orchestrator owns the retry/tolerance policy around the search
// engine and the final commit.
type Orchestrator struct {
	engine       Searcher
	ref          RefMonitor
	store        store.Store
	tolerancePct int
	maxAttempts  int
	hooks        Hooks
}

// New builds an orchestrator. Zero tolerance or attempts select the
// firmware defaults.
func New(engine Searcher, ref RefMonitor, st store.Store, tolerancePct, maxAttempts int, hooks Hooks) *Orchestrator {
	if tolerancePct <= 0 {
		tolerancePct = DefaultTolerancePct
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Orchestrator{
		engine:       engine,
		ref:          ref,
		store:        st,
		tolerancePct: tolerancePct,
		maxAttempts:  maxAttempts,
		hooks:        hooks,
	}
}

// Run calibrates all nine targets in ascending frequency order and
// commits the result table in one operation. Any returned error is
// terminal for the run; *Fault errors carry the indicator code.
func (o *Orchestrator) Run(ctx context.Context) ([store.NumSlots]Result, error) {
	var results [store.NumSlots]Result

	for _, target := range Targets {
		fault, err := o.ref.RefFault()
		if err != nil {
			return results, fmt.Errorf("calibrate: fault flag: %w", err)
		}
		if fault {
			return results, &Fault{Code: CodeRefFault,
				Err: fmt.Errorf("reference oscillator fault before %s", target.Label)}
		}

		if o.hooks.TargetStart != nil {
			o.hooks.TargetStart(target)
		}

		res, err := o.searchTarget(ctx, target)
		if err != nil {
			return results, err
		}

		results[target.Slot] = res
		if o.hooks.TargetDone != nil {
			o.hooks.TargetDone(res)
		}
	}

	slots := SlotTable(results)
	if err := o.store.Commit(slots); err != nil {
		if errors.Is(err, store.ErrNoFactoryCal) {
			return results, &Fault{Code: CodeNoFactoryCal, Err: err}
		}
		return results, fmt.Errorf("calibrate: commit: %w", err)
	}

	return results, nil
}

// searchTarget runs the bounded retry loop for one target.
func (o *Orchestrator) searchTarget(ctx context.Context, target Target) (Result, error) {
	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		if attempt > 1 && o.hooks.Retry != nil {
			o.hooks.Retry(target, attempt)
		}

		cfg, meas, err := o.engine.Search(ctx, target.Goal)
		if errors.Is(err, search.ErrUnreachable) {
			return Result{}, &Fault{Code: CodeUnreachable,
				Err: fmt.Errorf("%s: %w", target.Label, err)}
		}
		if err != nil {
			return Result{}, fmt.Errorf("calibrate: %s: %w", target.Label, err)
		}

		errPct := PercentError(meas, target.Goal)
		if errPct <= o.tolerancePct && errPct >= -o.tolerancePct {
			return Result{Target: target, Config: cfg, Measured: meas, ErrorPct: errPct}, nil
		}

		log.Printf("calibrate: %s attempt %d/%d off by %d%% (measured %d, goal %d)",
			target.Label, attempt, o.maxAttempts, errPct, meas, target.Goal)
	}

	return Result{}, &Fault{Code: CodeTolerance,
		Err: fmt.Errorf("%s: no attempt within %d%% after %d tries",
			target.Label, o.tolerancePct, o.maxAttempts)}
}

// PercentError is the signed integer percentage deviation of a
// measurement from its goal, truncating toward zero.
func PercentError(meas, goal capture.Measurement) int {
	return int(100 * (int64(meas) - int64(goal)) / int64(goal))
}

// SlotTable serializes a result table into the store's slot layout.
func SlotTable(results [store.NumSlots]Result) [store.NumSlots]dco.Slot {
	var slots [store.NumSlots]dco.Slot
	for i, r := range results {
		slots[i] = dco.SlotFor(r.Config)
	}
	return slots
}
