// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package probe speaks the calibration probe's ASCII line protocol over
// a UART. The probe firmware on the target MCU accepts one command per
// line and streams one CAP event per reference capture edge:
//
//	station -> probe   SET <rsel> <step> <mod>   program the DCO
//	                   DUMP                      read the calibration segment
//	                   BURN <36 hex>             write all nine slots
//	                   ERASE                     erase the segment
//	                   FCAL                      read factory 1MHz cal bytes
//	                   FLT                       poll the reference fault flag
//	probe -> station   CAP <interval>            async, one per capture
//	                   FLT <0|1>                 fault flag (async or reply)
//	                   MEM <36 hex>              DUMP reply
//	                   CAL <4 hex>               FCAL reply
//	                   OK                        command accepted
//	                   ERR <message>             command rejected
package probe

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/relabs-tech/dco_calibrator/internal/dco"
)

// SegmentBytes is the size of the calibration data block moved by DUMP
// and BURN: nine two-byte slots.
const SegmentBytes = 18

// MsgType tags a parsed probe line.
type MsgType int

const (
	MsgCap MsgType = iota + 1
	MsgFault
	MsgMem
	MsgCal
	MsgOK
	MsgErr
)

// Message is one parsed line from the probe.
type Message struct {
	Type    MsgType
	Capture uint16             // MsgCap
	Fault   bool               // MsgFault
	Mem     [SegmentBytes]byte // MsgMem
	Cal     dco.Slot           // MsgCal
	Reason  string             // MsgErr
}

// ParseLine parses one trimmed probe line.
func ParseLine(line string) (Message, error) {
	verb, rest, _ := strings.Cut(line, " ")

	switch verb {
	case "CAP":
		v, err := strconv.ParseUint(rest, 10, 16)
		if err != nil {
			return Message{}, fmt.Errorf("probe: bad CAP value %q: %w", rest, err)
		}
		return Message{Type: MsgCap, Capture: uint16(v)}, nil

	case "FLT":
		switch rest {
		case "0":
			return Message{Type: MsgFault, Fault: false}, nil
		case "1":
			return Message{Type: MsgFault, Fault: true}, nil
		}
		return Message{}, fmt.Errorf("probe: bad FLT value %q", rest)

	case "MEM":
		raw, err := hex.DecodeString(rest)
		if err != nil {
			return Message{}, fmt.Errorf("probe: bad MEM payload: %w", err)
		}
		if len(raw) != SegmentBytes {
			return Message{}, fmt.Errorf("probe: MEM payload is %d bytes, want %d", len(raw), SegmentBytes)
		}
		m := Message{Type: MsgMem}
		copy(m.Mem[:], raw)
		return m, nil

	case "CAL":
		raw, err := hex.DecodeString(rest)
		if err != nil {
			return Message{}, fmt.Errorf("probe: bad CAL payload: %w", err)
		}
		if len(raw) != 2 {
			return Message{}, fmt.Errorf("probe: CAL payload is %d bytes, want 2", len(raw))
		}
		return Message{Type: MsgCal, Cal: dco.Slot{raw[0], raw[1]}}, nil

	case "OK":
		return Message{Type: MsgOK}, nil

	case "ERR":
		return Message{Type: MsgErr, Reason: rest}, nil
	}

	return Message{}, fmt.Errorf("probe: unknown line %q", line)
}

// FormatSet renders a SET command for a configuration.
func FormatSet(cfg dco.Config) string {
	return fmt.Sprintf("SET %d %d %d", cfg.RSel, cfg.Step, cfg.Mod)
}

// FormatBurn renders a BURN command for the full slot table.
func FormatBurn(slots [SegmentBytes / 2]dco.Slot) string {
	var raw [SegmentBytes]byte
	for i, s := range slots {
		raw[2*i] = s[0]
		raw[2*i+1] = s[1]
	}
	return "BURN " + strings.ToUpper(hex.EncodeToString(raw[:]))
}

// SlotsFromSegment splits a DUMP payload into slots.
func SlotsFromSegment(seg [SegmentBytes]byte) [SegmentBytes / 2]dco.Slot {
	var slots [SegmentBytes / 2]dco.Slot
	for i := range slots {
		slots[i] = dco.Slot{seg[2*i], seg[2*i+1]}
	}
	return slots
}
