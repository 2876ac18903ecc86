// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package capture turns the raw stream of timer-capture intervals coming
// from the probe into averaged period measurements for one oscillator
// configuration at a time.
package capture

import (
	"context"
	"sync"
	"time"
)

// countCap saturates the sample counter well above any window size so a
// long-idle window cannot roll the counter over.
const countCap = 10000

// pollInterval is how often Wait re-checks the counter. The contract is
// a reset-then-poll busy wait, not a blocking handoff; the short sleep
// only keeps the poll loop off the CPU.
const pollInterval = 200 * time.Microsecond

// Window is the shared accumulator pair between the asynchronous
// capture producer (the probe reader goroutine) and the foreground
// sampler: a running sum of intervals and a count of samples seen.
//
// Reset arms the window with a negative count so the first settle
// samples after reprogramming the oscillator are discarded while it
// stabilizes. Add accumulates only the samples numbered 0..size-1;
// later samples still advance the counter (up to countCap) so callers
// can also use the window as a plain capture-event counter.
type Window struct {
	mu    sync.Mutex
	count int
	sum   uint64
	size  int
}

// NewWindow creates a window that averages size samples per measurement.
func NewWindow(size int) *Window {
	if size <= 0 {
		size = 1
	}
	return &Window{size: size, count: countCap}
}

// Size returns the number of samples averaged per measurement.
func (w *Window) Size() int { return w.size }

// Reset arms the window: the next settle samples are discarded, the
// following size samples are accumulated.
func (w *Window) Reset(settle int) {
	w.mu.Lock()
	w.count = -settle
	w.sum = 0
	w.mu.Unlock()
}

// Add is the producer side: one raw inter-capture interval.
func (w *Window) Add(interval uint16) {
	w.mu.Lock()
	if w.count >= 0 && w.count < w.size {
		w.sum += uint64(interval)
	}
	if w.count < countCap {
		w.count++
	}
	w.mu.Unlock()
}

// Collected returns how many samples have arrived since the last Reset
// (negative while still settling).
func (w *Window) Collected() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Wait polls until the window holds a full set of samples and returns
// their truncated mean. It returns early only if ctx is cancelled,
// which is how a dead capture source is abandoned; the window itself
// has no timeout.
func (w *Window) Wait(ctx context.Context) (Measurement, error) {
	for {
		w.mu.Lock()
		if w.count >= w.size {
			mean := Measurement(w.sum / uint64(w.size))
			w.mu.Unlock()
			return mean, nil
		}
		w.mu.Unlock()

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// WaitCount polls until at least n capture events have arrived since
// the last Reset. Used by the frequency-loop mode as a crude
// capture-clocked delay (button debounce).
func (w *Window) WaitCount(ctx context.Context, n int) error {
	for {
		w.mu.Lock()
		done := w.count >= n
		w.mu.Unlock()
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}
