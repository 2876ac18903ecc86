// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package search converges an oscillator configuration onto a goal
// measurement with three sequential monotone scans: RSEL range, DCO
// step, then modulation. Each knob raises the measured value as it
// grows, so every stage scans upward until it first overshoots and then
// decides between the overshooting value and the one before it. The
// whole search costs at most 56 measurements instead of walking the
// 16x8x32 configuration space.
package search

import (
	"context"
	"errors"
	"fmt"

	"github.com/relabs-tech/dco_calibrator/internal/capture"
	"github.com/relabs-tech/dco_calibrator/internal/dco"
)

// ErrUnreachable means no modulation baseline exists for the goal: the
// step scan either never overshot (goal above the range's reach) or
// overshot already at step 0 (goal below it).
var ErrUnreachable = errors.New("search: goal unreachable by modulation")

// Sampler is the one dependency of the engine: a blocking averaged
// measurement for a configuration, plus a bare reprogram used to leave
// the hardware at the search's final configuration.
type Sampler interface {
	Measure(ctx context.Context, cfg dco.Config) (capture.Measurement, error)
	Program(cfg dco.Config) error
}

// Engine runs goal searches against one sampler.
type Engine struct {
	sampler Sampler
}

// New creates an engine. The sampler is typically the live capture
// pipeline; tests inject synthetic monotone responders.
func New(s Sampler) *Engine {
	return &Engine{sampler: s}
}

// centerStep fixes the DCO step at mid-scale while scanning RSEL so a
// later downward step adjustment stays available in every range.
const centerStep = 3

// Search finds the configuration whose measurement lands closest to
// goal, programs the hardware to it, and returns it together with the
// measurement observed for it. A non-nil error is either
// ErrUnreachable or a sampler (probe link) failure.
func (e *Engine) Search(ctx context.Context, goal capture.Measurement) (dco.Config, capture.Measurement, error) {
	var prev, meas capture.Measurement
	var err error

	// Stage 1: RSEL scan at center step, no modulation.
	rsel := 0
	for ; rsel <= dco.MaxRSel; rsel++ {
		meas, err = e.sampler.Measure(ctx, dco.Config{RSel: byte(rsel), Step: centerStep})
		if err != nil {
			return dco.Config{}, 0, err
		}
		if meas > goal {
			break
		}
		prev = meas
	}
	if rsel <= dco.MaxRSel {
		// Overshot: keep the previous range only if it was strictly
		// closer to the goal.
		if rsel > 0 && goal-prev < meas-goal {
			rsel--
		}
	} else {
		rsel = dco.MaxRSel
	}

	// Stage 2: step scan inside the chosen range.
	step := 0
	for ; step <= dco.MaxStep; step++ {
		meas, err = e.sampler.Measure(ctx, dco.Config{RSel: byte(rsel), Step: byte(step)})
		if err != nil {
			return dco.Config{}, 0, err
		}
		if meas > goal {
			break
		}
	}
	if step > dco.MaxStep {
		// Even the top step stays under the goal.
		return dco.Config{}, 0, fmt.Errorf("%w: goal %d above rsel %d", ErrUnreachable, goal, rsel)
	}
	if step == 0 {
		// No step below the goal to modulate up from.
		return dco.Config{}, 0, fmt.Errorf("%w: goal %d below rsel %d", ErrUnreachable, goal, rsel)
	}

	// Error the un-decremented step would leave us with. Stage 3 falls
	// back to it when even full modulation cannot close the gap.
	m0diff := meas - goal
	stepMeas := meas

	// Retreat one step so the baseline sits under the goal.
	step--

	// Stage 3: modulation scan.
	mod := 0
	for ; mod <= dco.MaxMod; mod++ {
		meas, err = e.sampler.Measure(ctx, dco.Config{RSel: byte(rsel), Step: byte(step), Mod: byte(mod)})
		if err != nil {
			return dco.Config{}, 0, err
		}
		if meas > goal {
			break
		}
		prev = meas
	}
	if mod <= dco.MaxMod {
		if mod > 0 && meas-goal > goal-prev {
			mod--
			meas = prev
		}
	} else {
		mod = dco.MaxMod
	}

	// Boundary case: stuck at full modulation. If skipping the step
	// retreat would have left a smaller error, take that instead.
	if mod == dco.MaxMod {
		if m0diff < distance(meas, goal) {
			step++
			mod = 0
			meas = stepMeas
		}
	}

	cfg := dco.Config{RSel: byte(rsel), Step: byte(step), Mod: byte(mod)}
	if err := e.sampler.Program(cfg); err != nil {
		return dco.Config{}, 0, err
	}
	return cfg, meas, nil
}

func distance(m, goal capture.Measurement) capture.Measurement {
	if m >= goal {
		return m - goal
	}
	return goal - m
}
