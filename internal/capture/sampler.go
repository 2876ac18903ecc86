package capture

import (
	"context"
	"fmt"

	"github.com/relabs-tech/dco_calibrator/internal/dco"
)

// Measurement is the averaged inter-capture interval for one oscillator
// configuration: the mean of a full window of raw timer differences,
// truncated to an integer. Higher value means higher DCO frequency
// (more DCO cycles between reference captures).
type Measurement uint

// Default sampling parameters, matching the capture firmware.
const (
	DefaultWindow = 50 // samples averaged per measurement
	DefaultSettle = 5  // samples discarded after reprogramming
)

// Programmer programs the target oscillator to a configuration.
// Implemented by the probe link and by the bench simulator.
type Programmer interface {
	Program(cfg dco.Config) error
}

// Sampler produces one averaged measurement per oscillator trial.
// Samples arrive asynchronously through the shared Window; the sampler
// only reprograms, re-arms and waits.
type Sampler struct {
	prog   Programmer
	win    *Window
	settle int
}

// NewSampler wires a sampler to a programmer and a capture window.
// settle <= 0 selects DefaultSettle.
func NewSampler(prog Programmer, win *Window, settle int) *Sampler {
	if settle <= 0 {
		settle = DefaultSettle
	}
	return &Sampler{prog: prog, win: win, settle: settle}
}

// Program sets the target oscillator without opening a sample window.
// Used to leave the hardware at a search's final configuration.
func (s *Sampler) Program(cfg dco.Config) error {
	return s.prog.Program(cfg)
}

// Measure programs the target to cfg and returns the averaged interval
// over one full window. The only error source is the probe link; the
// measurement itself cannot fail while the capture source is alive.
func (s *Sampler) Measure(ctx context.Context, cfg dco.Config) (Measurement, error) {
	if err := s.prog.Program(cfg); err != nil {
		return 0, fmt.Errorf("sampler: program %v: %w", cfg, err)
	}

	s.win.Reset(s.settle)

	m, err := s.win.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("sampler: wait for window: %w", err)
	}
	return m, nil
}
