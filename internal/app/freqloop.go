// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/relabs-tech/dco_calibrator/internal/calibrate"
	"github.com/relabs-tech/dco_calibrator/internal/capture"
	"github.com/relabs-tech/dco_calibrator/internal/config"
	"github.com/relabs-tech/dco_calibrator/internal/indicate"
	"github.com/relabs-tech/dco_calibrator/internal/probe"
	"github.com/relabs-tech/dco_calibrator/internal/store"
)

// loopDebounceCounts is the number of capture intervals to sit through
// after a button edge before trusting the level again. Counting
// captures instead of wall time keeps the debounce proportional to the
// active DCO frequency, same as the firmware did.
const loopDebounceCounts = 200

// headlessDwell is how long each frequency holds when there is no
// button to step with.
const headlessDwell = 5 * time.Second

// RunFrequencyLoop opens the probe (or simulator) and replays the
// committed slot table, one frequency per button press.
func RunFrequencyLoop() error {
	cfg := config.Get()
	ctx := context.Background()

	panel, err := openPanel(cfg)
	if err != nil {
		return err
	}

	winSize := cfg.CaptureWindow
	if winSize <= 0 {
		winSize = capture.DefaultWindow
	}
	win := capture.NewWindow(winSize)

	var (
		prog capture.Programmer
		st   store.Store
	)
	if cfg.UseSimulator {
		sim := capture.NewSimulator(win, 0)
		go sim.Run(ctx)
		prog = sim
		st, err = openBenchStore(cfg)
		if err != nil {
			return err
		}
	} else {
		link, err := probe.Open(cfg.ProbeSerialPort, uint(cfg.ProbeBaudRate), win)
		if err != nil {
			return fmt.Errorf("failed to open probe link on %s: %w", cfg.ProbeSerialPort, err)
		}
		defer link.Close()
		prog = link
		if cfg.TestMode {
			factory, err := link.FactoryCal()
			if err != nil {
				return fmt.Errorf("failed to read factory calibration: %w", err)
			}
			st, err = store.NewFile(cfg.SegmentImagePath, factory)
			if err != nil {
				return err
			}
		} else {
			st = store.NewProbe(link, false)
		}
	}

	return runFrequencyLoop(ctx, prog, st, panel, win)
}

// runFrequencyLoop steps the target through the stored slot table.
// Each button press (or dwell interval, headless) programs the next
// populated slot. Runs until the context is cancelled.
func runFrequencyLoop(ctx context.Context, prog capture.Programmer, st store.Store, panel *indicate.Panel, win *capture.Window) error {
	slots, err := st.Load()
	if err != nil {
		return fmt.Errorf("failed to load slot table: %w", err)
	}

	populated := 0
	for _, s := range slots {
		if !s.Empty() {
			populated++
		}
	}
	if populated == 0 {
		return fmt.Errorf("no calibrated slots to replay")
	}
	log.Printf("freqloop: %d of %d slots populated", populated, store.NumSlots)

	labels := slotLabels()

	idx := 0
	for {
		slot := slots[idx]
		if slot.Empty() {
			idx = (idx + 1) % store.NumSlots
			continue
		}

		cfg := slot.Config()
		if err := prog.Program(cfg); err != nil {
			return fmt.Errorf("failed to program slot %d: %w", idx, err)
		}
		log.Printf("freqloop: %s -> %s", labels[idx], cfg)

		if panel == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(headlessDwell):
			}
		} else {
			panel.Green(true)
			if err := panel.WaitPress(ctx); err != nil {
				return err
			}
			panel.Red(true)
			// Debounce both edges against contact bounce.
			win.Reset(0)
			if err := win.WaitCount(ctx, loopDebounceCounts); err != nil {
				return err
			}
			if err := panel.WaitRelease(ctx); err != nil {
				return err
			}
			win.Reset(0)
			if err := win.WaitCount(ctx, loopDebounceCounts); err != nil {
				return err
			}
			panel.Red(false)
		}

		idx = (idx + 1) % store.NumSlots
	}
}

// slotLabels maps slot indices back to target labels for logging.
func slotLabels() [store.NumSlots]string {
	var labels [store.NumSlots]string
	for _, t := range calibrate.Targets {
		labels[t.Slot] = t.Label
	}
	return labels
}
