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
	"github.com/relabs-tech/dco_calibrator/internal/dco"
	"github.com/relabs-tech/dco_calibrator/internal/indicate"
	"github.com/relabs-tech/dco_calibrator/internal/probe"
	"github.com/relabs-tech/dco_calibrator/internal/refclock"
	"github.com/relabs-tech/dco_calibrator/internal/search"
	"github.com/relabs-tech/dco_calibrator/internal/store"
)

// simFactoryCal stands in for the target's factory segment when the
// simulator replaces the probe.
var simFactoryCal = dco.Slot{0x86, 0x8D}

// RunCalibration wires the capture window, probe (or simulator), store,
// panel and telemetry together and drives a full nine-target run. On
// success it falls through into the frequency replay loop; on a fault
// it locks the panel into the blink code and never returns.
func RunCalibration() error {
	cfg := config.Get()
	ctx := context.Background()

	pub, err := newPublisher(cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	defer pub.close()

	panel, err := openPanel(cfg)
	if err != nil {
		return err
	}

	winSize := cfg.CaptureWindow
	if winSize <= 0 {
		winSize = capture.DefaultWindow
	}
	win := capture.NewWindow(winSize)

	// Optional cross-check of the station's reference against GPS
	// before trusting any measurement. Advisory only.
	if cfg.GPSSerialPort != "" {
		timeout := time.Duration(cfg.GPSFixTimeout) * time.Second
		if err := refclock.Verify(cfg.GPSSerialPort, uint(cfg.GPSBaudRate), timeout); err != nil {
			log.Printf("calibrate: GPS reference cross-check failed: %v", err)
		} else {
			log.Println("calibrate: GPS reference cross-check OK")
		}
	}

	var (
		prog capture.Programmer
		ref  calibrate.RefMonitor
		st   store.Store
	)

	if cfg.UseSimulator {
		sim := capture.NewSimulator(win, 0)
		go sim.Run(ctx)
		prog = sim
		ref = steadyRef{}
		st, err = openBenchStore(cfg)
		if err != nil {
			return err
		}
		log.Println("calibrate: using simulated DCO")
	} else {
		link, err := probe.Open(cfg.ProbeSerialPort, uint(cfg.ProbeBaudRate), win)
		if err != nil {
			return fmt.Errorf("failed to open probe link on %s: %w", cfg.ProbeSerialPort, err)
		}
		defer link.Close()
		log.Printf("calibrate: probe link open on %s", cfg.ProbeSerialPort)

		// The reference oscillator must be up before anything else.
		// A fault here is unrecoverable: solid red until power cycle.
		fault, err := link.RefFault()
		if err != nil {
			return fmt.Errorf("failed to query reference state: %w", err)
		}
		if fault {
			pub.fault(0, "reference oscillator fault at startup")
			log.Println("calibrate: reference oscillator fault at startup")
			if panel != nil {
				panel.FaultLock() // never returns
			}
			return fmt.Errorf("reference oscillator fault at startup")
		}

		prog = link
		ref = link
		if cfg.TestMode {
			factory, err := link.FactoryCal()
			if err != nil {
				return fmt.Errorf("failed to read factory calibration: %w", err)
			}
			st, err = store.NewFile(cfg.SegmentImagePath, factory)
			if err != nil {
				return err
			}
			log.Printf("calibrate: test mode, committing to %s", cfg.SegmentImagePath)
		} else {
			st = store.NewProbe(link, cfg.FlashOverride)
		}
	}

	// A populated store means a previous run already calibrated this
	// part. Without the override, go straight to the replay loop.
	if !cfg.FlashOverride {
		empty, err := st.IsEmpty()
		if err != nil {
			return fmt.Errorf("failed to inspect store: %w", err)
		}
		if !empty {
			log.Println("calibrate: store already populated, entering frequency loop")
			return runFrequencyLoop(ctx, prog, st, panel, win)
		}
	}

	sampler := capture.NewSampler(prog, win, cfg.CaptureSettle)
	engine := search.New(sampler)

	hooks := calibrate.Hooks{
		TargetStart: func(t calibrate.Target) {
			log.Printf("calibrate: %s (goal %d)", t.Label, t.Goal)
			if panel != nil {
				panel.BlinkGreen()
			}
			pub.progress("start", t, 0)
		},
		Retry: func(t calibrate.Target, attempt int) {
			log.Printf("calibrate: %s out of tolerance, attempt %d", t.Label, attempt)
			if panel != nil {
				panel.BlinkBoth()
			}
			pub.progress("retry", t, attempt)
		},
		TargetDone: func(r calibrate.Result) {
			log.Printf("calibrate: %s done: %s measured %d (%+d%%)",
				r.Target.Label, r.Config, r.Measured, r.ErrorPct)
			pub.progress("done", r.Target, 0)
			pub.result(r)
		},
	}

	orch := calibrate.New(engine, ref, st, cfg.MaxErrorPct, cfg.MaxCycles, hooks)

	results, err := orch.Run(ctx)
	if err != nil {
		code := calibrate.FaultCode(err)
		pub.fault(code, err.Error())
		log.Printf("calibrate: run failed (code %d): %v", code, err)
		if panel != nil && code > 0 {
			panel.ErrorLock(code) // never returns
		}
		return err
	}

	pub.publish(cfg.TopicProgress, false, ProgressEvent{Stage: "commit"})
	log.Printf("calibrate: all %d targets committed", len(results))
	if panel != nil {
		panel.Green(true)
	}

	return runFrequencyLoop(ctx, prog, st, panel, win)
}

// openPanel opens the operator panel when all three pins are
// configured. A station without a panel runs headless.
func openPanel(cfg *config.Config) (*indicate.Panel, error) {
	if cfg.LEDRedPin == "" || cfg.LEDGreenPin == "" || cfg.ButtonPin == "" {
		log.Println("calibrate: no panel pins configured, running headless")
		return nil, nil
	}
	panel, err := indicate.NewPanel(cfg.LEDRedPin, cfg.LEDGreenPin, cfg.ButtonPin)
	if err != nil {
		return nil, fmt.Errorf("failed to open panel: %w", err)
	}
	return panel, nil
}

// openBenchStore picks the simulator-run store: a segment image file
// in test mode, otherwise an in-memory segment.
func openBenchStore(cfg *config.Config) (store.Store, error) {
	if cfg.TestMode {
		return store.NewFile(cfg.SegmentImagePath, simFactoryCal)
	}
	return store.NewMemory(), nil
}

// steadyRef is the simulator's reference monitor. The model has no
// crystal to fail.
type steadyRef struct{}

func (steadyRef) RefFault() (bool, error) { return false, nil }
