// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package store persists the nine-slot calibration table. The real
// backend is the target's information flash segment B reached through
// the probe; a file-backed segment image serves bench runs and an
// in-memory store serves tests.
package store

import (
	"errors"

	"github.com/relabs-tech/dco_calibrator/internal/dco"
)

// NumSlots is the fixed number of calibration slots, one per target
// frequency.
const NumSlots = 9

// ErrNoFactoryCal means the factory 1MHz DCO calibration is blank or
// invalid. Committing is refused then: the flash write clock timing is
// derived from that calibration.
var ErrNoFactoryCal = errors.New("store: factory 1MHz calibration missing")

// Segment B layout, addresses as on the G2553. Slot i for a target
// lives at SlotAddrs[i]; the segment spans SegmentBase..SegmentBase+63.
const SegmentBase = 0x1080

// SlotAddrs maps slot index to the address of its DCOCTL byte. The
// order is fixed: 500kHz first, then descending from 16MHz to 1MHz.
var SlotAddrs = [NumSlots]uint16{
	0x10AE, // 500kHz
	0x10B0, // 16MHz
	0x10B2, // 12MHz
	0x10B4, // 10MHz
	0x10B6, // 8MHz
	0x10B8, // 6MHz
	0x10BA, // 4MHz
	0x10BC, // 2MHz
	0x10BE, // 1MHz
}

// Store is the persistence gateway the orchestrator and the frequency
// loop need. Commit writes all nine slots as one operation; partial
// tables are never observable across a run.
type Store interface {
	// IsEmpty reports whether every slot byte still holds the erased
	// sentinel.
	IsEmpty() (bool, error)

	// Load reads the committed slot table.
	Load() ([NumSlots]dco.Slot, error)

	// FactoryCal returns the factory 1MHz calibration pair.
	FactoryCal() (dco.Slot, error)

	// Commit serializes and writes the whole table. Fails with
	// ErrNoFactoryCal when the factory calibration gate is not met.
	Commit(slots [NumSlots]dco.Slot) error
}

// checkFactoryCal is the shared commit gate.
func checkFactoryCal(s Store) error {
	cal, err := s.FactoryCal()
	if err != nil {
		return err
	}
	if cal[0] == dco.EmptyByte || cal[1] == dco.EmptyByte {
		return ErrNoFactoryCal
	}
	return nil
}
