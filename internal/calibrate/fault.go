package calibrate

import (
	"errors"
	"fmt"
)

// Indicator codes for fatal calibration faults. A failed run halts
// permanently; the code is the only user-visible contract (rendered as
// red-LED blink counts by the panel).
const (
	CodeRefFault     = 1 // reference oscillator fault before a target's search
	CodeUnreachable  = 2 // a target frequency cannot be obtained
	CodeNoFactoryCal = 4 // no factory 1MHz calibration for flash timing
	CodeTolerance    = 5 // retry budget exhausted out of tolerance
)

// Fault is a fatal calibration error carrying its indicator code.
type Fault struct {
	Code int
	Err  error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("calibration fault %d: %v", f.Code, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// FaultCode extracts the indicator code from an error chain, or 0 if
// the error is not a calibration fault (e.g. a dead probe link).
func FaultCode(err error) int {
	var f *Fault
	if errors.As(err, &f) {
		return f.Code
	}
	return 0
}
