// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package capture

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/relabs-tech/dco_calibrator/internal/dco"
)

// Simulator stands in for the probe link on the bench: it implements
// Programmer and produces synthetic capture intervals into a Window at
// a fixed rate, following a smooth monotone model of the G2553 DCO.
//
// The model: each RSEL range multiplies the base frequency by rselRatio,
// each DCO step by stepRatio, and MOD interpolates harmonically between
// a step and the next one (the hardware mixes periods, not frequencies).
type Simulator struct {
	win  *Window
	tick time.Duration

	mu  sync.Mutex
	cfg dco.Config
}

const (
	simBaseHz    = 70e3 // rsel=0, step=0, mod=0
	simRSelRatio = 1.45
	simStepRatio = 1.08
)

// NewSimulator creates a simulator feeding win with one synthetic
// capture interval per tick.
func NewSimulator(win *Window, tick time.Duration) *Simulator {
	if tick <= 0 {
		tick = 2 * time.Millisecond
	}
	return &Simulator{win: win, tick: tick}
}

// Program records the active configuration. Never fails.
func (s *Simulator) Program(cfg dco.Config) error {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	return nil
}

// Run produces capture intervals until ctx is cancelled. Start it in
// its own goroutine; it plays the role of the capture interrupt.
func (s *Simulator) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			cfg := s.cfg
			s.mu.Unlock()
			m := SimulatedMeasurement(cfg)
			if m > math.MaxUint16 {
				m = math.MaxUint16
			}
			s.win.Add(uint16(m))
		}
	}
}

// SimulatedMeasurement returns the model's averaged-difference value for
// a configuration: DCO frequency divided by 512, like the real capture
// chain (64 reference ticks of the 32768 Hz crystal between captures).
func SimulatedMeasurement(cfg dco.Config) Measurement {
	f0 := simStepHz(cfg.RSel, cfg.Step)
	if cfg.Mod == 0 {
		return Measurement(f0 / 512)
	}

	// MOD spends mod of every 32 DCO periods on the next step up, so
	// the effective period is the weighted mean of the two periods.
	f1 := simStepHz(cfg.RSel, cfg.Step+1)
	m := float64(cfg.Mod)
	f := 32 * f0 * f1 / ((32-m)*f1 + m*f0)
	return Measurement(f / 512)
}

func simStepHz(rsel, step byte) float64 {
	return simBaseHz * math.Pow(simRSelRatio, float64(rsel)) *
		math.Pow(simStepRatio, float64(step))
}
