// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package dco models the configuration space of the MSP430 digitally
// controlled oscillator: the RSEL frequency range, the DCO step inside
// the range, and the MOD modulation duty between adjacent steps.
package dco

import "fmt"

// Knob limits of the oscillator configuration space.
const (
	MaxRSel = 15 // BCSCTL1 RSEL3:0
	MaxStep = 7  // DCOCTL DCO2:0
	MaxMod  = 31 // DCOCTL MOD4:0
)

// XT2Off is always set in BCSCTL1: the G2-series parts have no XT2
// oscillator and the bit must stay high.
const XT2Off = 0x80

// EmptyByte is the erased-flash sentinel. A calibration slot whose two
// bytes both read EmptyByte holds no data.
const EmptyByte = 0xFF

// Config is one hardware-settable DCO operating point.
// Increasing any field (others fixed) never lowers the oscillator
// frequency, which the calibration search depends on.
type Config struct {
	RSel byte `json:"rsel"` // range, 0..15
	Step byte `json:"step"` // DCO step, 0..7
	Mod  byte `json:"mod"`  // modulation, 0..31
}

// Validate reports whether every field is inside its hardware bound.
func (c Config) Validate() error {
	if c.RSel > MaxRSel {
		return fmt.Errorf("dco: rsel %d out of range 0..%d", c.RSel, MaxRSel)
	}
	if c.Step > MaxStep {
		return fmt.Errorf("dco: step %d out of range 0..%d", c.Step, MaxStep)
	}
	if c.Mod > MaxMod {
		return fmt.Errorf("dco: mod %d out of range 0..%d", c.Mod, MaxMod)
	}
	return nil
}

// ControlBytes returns the register image programmed into the target:
// DCOCTL carries the step in DCO2:0 and the modulation in MOD4:0,
// BCSCTL1 carries XT2OFF plus the range in RSEL3:0.
func (c Config) ControlBytes() (dcoctl, bcsctl1 byte) {
	dcoctl = c.Step<<5 | c.Mod&0x1F
	bcsctl1 = XT2Off | c.RSel&0x0F
	return dcoctl, bcsctl1
}

// FromControlBytes reconstructs a Config from its register image.
func FromControlBytes(dcoctl, bcsctl1 byte) Config {
	return Config{
		RSel: bcsctl1 & 0x0F,
		Step: dcoctl >> 5,
		Mod:  dcoctl & 0x1F,
	}
}

// Slot is the two-byte persistent form of one calibration entry,
// [DCOCTL, BCSCTL1], as laid out in the target's information segment.
type Slot [2]byte

// SlotFor serializes a configuration into its persistent form.
func SlotFor(c Config) Slot {
	d, b := c.ControlBytes()
	return Slot{d, b}
}

// Config deserializes the slot back into a configuration.
func (s Slot) Config() Config {
	return FromControlBytes(s[0], s[1])
}

// Empty reports whether both bytes still hold the erased-flash sentinel.
func (s Slot) Empty() bool {
	return s[0] == EmptyByte && s[1] == EmptyByte
}

func (c Config) String() string {
	return fmt.Sprintf("rsel=%d step=%d mod=%d", c.RSel, c.Step, c.Mod)
}
