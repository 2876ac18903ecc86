package capture

import (
	"context"
	"testing"
	"time"

	"github.com/relabs-tech/dco_calibrator/internal/dco"
)

func TestWindowMean(t *testing.T) {
	w := NewWindow(4)
	w.Reset(0)

	for _, v := range []uint16{10, 20, 30, 41} {
		w.Add(v)
	}

	m, err := w.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	// (10+20+30+41)/4 = 25.25, truncated
	if m != 25 {
		t.Fatalf("mean = %d, want 25", m)
	}
}

func TestWindowSettleDiscard(t *testing.T) {
	w := NewWindow(3)
	w.Reset(2)

	// First two samples arrive while the oscillator settles and must
	// not enter the sum.
	w.Add(1000)
	w.Add(1000)
	w.Add(5)
	w.Add(5)
	w.Add(5)

	m, err := w.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if m != 5 {
		t.Fatalf("mean = %d, want 5 (settling samples leaked in)", m)
	}
}

func TestWindowExtraSamplesIgnored(t *testing.T) {
	w := NewWindow(2)
	w.Reset(0)

	w.Add(10)
	w.Add(10)
	w.Add(9999) // after the window closed

	m, err := w.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if m != 10 {
		t.Fatalf("mean = %d, want 10", m)
	}
}

func TestWindowWaitCancel(t *testing.T) {
	w := NewWindow(5)
	w.Reset(0)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := w.Wait(ctx); err == nil {
		t.Fatal("Wait on starved window should fail once ctx expires")
	}
}

func TestWindowCounterSaturates(t *testing.T) {
	w := NewWindow(2)
	w.Reset(0)
	for i := 0; i < countCap+50; i++ {
		w.Add(1)
	}
	if got := w.Collected(); got != countCap {
		t.Fatalf("Collected = %d, want saturation at %d", got, countCap)
	}
}

type recordingProg struct {
	last dco.Config
}

func (r *recordingProg) Program(cfg dco.Config) error {
	r.last = cfg
	return nil
}

func TestSamplerMeasure(t *testing.T) {
	w := NewWindow(3)
	prog := &recordingProg{}
	s := NewSampler(prog, w, 1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Hold off until Measure has armed the window.
		for w.Collected() >= 0 {
			time.Sleep(time.Millisecond)
		}
		// settle sample + window
		for _, v := range []uint16{999, 7, 8, 9} {
			w.Add(v)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg := dco.Config{RSel: 4, Step: 3, Mod: 0}
	m, err := s.Measure(ctx, cfg)
	<-done
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	if prog.last != cfg {
		t.Fatalf("programmed %v, want %v", prog.last, cfg)
	}
	if m != 8 {
		t.Fatalf("measurement = %d, want 8", m)
	}
}

func TestSimulatorMonotone(t *testing.T) {
	// Increasing any one knob with the others fixed must never
	// decrease the simulated measurement.
	for rsel := byte(0); rsel < dco.MaxRSel; rsel++ {
		a := SimulatedMeasurement(dco.Config{RSel: rsel, Step: 3})
		b := SimulatedMeasurement(dco.Config{RSel: rsel + 1, Step: 3})
		if b < a {
			t.Fatalf("rsel %d->%d: measurement fell %d->%d", rsel, rsel+1, a, b)
		}
	}
	for step := byte(0); step < dco.MaxStep; step++ {
		a := SimulatedMeasurement(dco.Config{RSel: 8, Step: step})
		b := SimulatedMeasurement(dco.Config{RSel: 8, Step: step + 1})
		if b < a {
			t.Fatalf("step %d->%d: measurement fell %d->%d", step, step+1, a, b)
		}
	}
	for mod := byte(0); mod < dco.MaxMod; mod++ {
		a := SimulatedMeasurement(dco.Config{RSel: 8, Step: 3, Mod: mod})
		b := SimulatedMeasurement(dco.Config{RSel: 8, Step: 3, Mod: mod + 1})
		if b < a {
			t.Fatalf("mod %d->%d: measurement fell %d->%d", mod, mod+1, a, b)
		}
	}
}
