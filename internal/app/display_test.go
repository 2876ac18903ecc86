package app

import (
	"bytes"
	"testing"

	"periph.io/x/devices/v3/ssd1306/image1bit"

	"github.com/relabs-tech/dco_calibrator/internal/calibrate"
	"github.com/relabs-tech/dco_calibrator/internal/dco"
)

func litPixels(img *image1bit.VerticalLSB) int {
	n := 0
	for _, b := range img.Pix {
		if b != 0 {
			n++
		}
	}
	return n
}

func TestRenderStatusScreens(t *testing.T) {
	waiting := renderStatus(&DisplayData{})
	if litPixels(waiting) == 0 {
		t.Fatal("waiting screen is blank")
	}

	progress := renderStatus(&DisplayData{
		haveStage: true,
		stage:     "retry",
		target:    "8MHz",
		attempt:   3,
		haveResult: true,
		lastResult: calibrate.Result{
			Target:   calibrate.Targets[5],
			Config:   dco.Config{RSel: 13, Step: 2, Mod: 7},
			Measured: 15700,
			ErrorPct: 0,
		},
		doneCount: 4,
	})
	if litPixels(progress) == 0 {
		t.Fatal("progress screen is blank")
	}

	fault := renderStatus(&DisplayData{
		haveFault: true,
		fault:     FaultEvent{Code: 5, Message: "tolerance exhausted"},
	})
	if litPixels(fault) == 0 {
		t.Fatal("fault screen is blank")
	}

	if bytes.Equal(fault.Pix, waiting.Pix) {
		t.Fatal("fault screen renders identically to the waiting screen")
	}
	if bytes.Equal(progress.Pix, waiting.Pix) {
		t.Fatal("progress screen renders identically to the waiting screen")
	}
}

func TestRenderStatusFaultWins(t *testing.T) {
	// A fault must replace the progress view even when stage data is
	// still present.
	data := &DisplayData{
		haveStage: true,
		stage:     "start",
		target:    "1MHz",
		haveFault: true,
		fault:     FaultEvent{Code: 2, Message: "unreachable"},
	}
	onlyFault := renderStatus(&DisplayData{haveFault: true, fault: data.fault})
	if !bytes.Equal(renderStatus(data).Pix, onlyFault.Pix) {
		t.Fatal("fault screen changes when stale stage data is present")
	}
}
