// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package calibrate drives the goal search across the nine target
// frequencies, applies the tolerance and retry policy, and commits the
// accepted table to the store.
package calibrate

import (
	"github.com/relabs-tech/dco_calibrator/internal/capture"
	"github.com/relabs-tech/dco_calibrator/internal/store"
)

// Policy defaults, matching the original calibration firmware.
const (
	DefaultTolerancePct = 5  // max |error| accepted, percent
	DefaultMaxAttempts  = 10 // full search attempts per target
)

// Target is one calibration goal. Goal is the averaged-difference value
// the capture chain shows at the target frequency: Hz / 512 (64 ticks
// of the 32768 Hz reference between captures).
type Target struct {
	Label string              `json:"label"`
	Hz    uint32              `json:"hz"`
	Goal  capture.Measurement `json:"goal"`
	Slot  int                 `json:"slot"` // index into the store's slot table
}

// Targets is the full table in calibration order (ascending frequency).
// Slot indices follow the segment layout: 500kHz first, then 16MHz down
// to 1MHz. The goal values are Hz/512 rounded to nearest; keeping them
// literal preserves the firmware's constants.
var Targets = [store.NumSlots]Target{
	{Label: "500kHz", Hz: 500_000, Goal: 977, Slot: 0},
	{Label: "1MHz", Hz: 1_000_000, Goal: 1953, Slot: 8},
	{Label: "2MHz", Hz: 2_000_000, Goal: 3906, Slot: 7},
	{Label: "4MHz", Hz: 4_000_000, Goal: 7813, Slot: 6},
	{Label: "6MHz", Hz: 6_000_000, Goal: 11719, Slot: 5},
	{Label: "8MHz", Hz: 8_000_000, Goal: 15625, Slot: 4},
	{Label: "10MHz", Hz: 10_000_000, Goal: 19531, Slot: 3},
	{Label: "12MHz", Hz: 12_000_000, Goal: 23438, Slot: 2},
	{Label: "16MHz", Hz: 16_000_000, Goal: 31250, Slot: 1},
}
