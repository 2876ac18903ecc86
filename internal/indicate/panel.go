// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package indicate drives the operator panel: red and green status
// LEDs and the frequency-step pushbutton. Failure codes are rendered
// as counted red blinks, the only user-visible contract of a failed
// calibration run.
package indicate

import (
	"context"
	"fmt"
	"log"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

const (
	blinkOn  = 300 * time.Millisecond
	blinkOff = 300 * time.Millisecond
	// codeGap separates blink series so counts stay readable.
	codeGap = 2 * time.Second

	debouncePoll = 10 * time.Millisecond
)

// Panel is the physical operator panel.
type Panel struct {
	red    gpio.PinIO
	green  gpio.PinIO
	button gpio.PinIO
}

// NewPanel resolves the pins by name and configures them. The button
// input is pulled up; pressing shorts it to ground, like the original
// board's P1.3 switch.
func NewPanel(redPin, greenPin, buttonPin string) (*Panel, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("indicate: periph host init: %w", err)
	}

	red := gpioreg.ByName(redPin)
	if red == nil {
		return nil, fmt.Errorf("indicate: red LED pin %q not found", redPin)
	}
	green := gpioreg.ByName(greenPin)
	if green == nil {
		return nil, fmt.Errorf("indicate: green LED pin %q not found", greenPin)
	}
	button := gpioreg.ByName(buttonPin)
	if button == nil {
		return nil, fmt.Errorf("indicate: button pin %q not found", buttonPin)
	}

	if err := red.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("indicate: red LED: %w", err)
	}
	if err := green.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("indicate: green LED: %w", err)
	}
	if err := button.In(gpio.PullUp, gpio.BothEdges); err != nil {
		return nil, fmt.Errorf("indicate: button: %w", err)
	}

	return &Panel{red: red, green: green, button: button}, nil
}

// Green switches the green LED.
func (p *Panel) Green(on bool) { p.set(p.green, on) }

// Red switches the red LED.
func (p *Panel) Red(on bool) { p.set(p.red, on) }

func (p *Panel) set(pin gpio.PinIO, on bool) {
	if err := pin.Out(gpio.Level(on)); err != nil {
		log.Printf("indicate: %s: %v", pin.Name(), err)
	}
}

// BlinkGreen flashes the green LED once (new calibration target).
func (p *Panel) BlinkGreen() {
	p.Green(true)
	time.Sleep(blinkOn)
	p.Green(false)
}

// BlinkBoth flashes both LEDs once (a target's search is repeating).
func (p *Panel) BlinkBoth() {
	p.Green(true)
	p.Red(true)
	time.Sleep(blinkOn)
	p.Green(false)
	p.Red(false)
}

// ErrorLock renders code as repeated series of red blinks and never
// returns. Codes start at 1.
func (p *Panel) ErrorLock(code int) {
	p.Green(false)
	log.Printf("indicate: locked with error code %d", code)
	for {
		for i := 0; i < code; i++ {
			p.Red(true)
			time.Sleep(blinkOn)
			p.Red(false)
			time.Sleep(blinkOff)
		}
		time.Sleep(codeGap)
	}
}

// FaultLock holds the red LED on solid and never returns: the startup
// reference-oscillator fault, distinct from the counted codes.
func (p *Panel) FaultLock() {
	p.Green(false)
	p.Red(true)
	log.Print("indicate: locked with continuous fault indicator")
	select {}
}

// Pressed reads the button (active low).
func (p *Panel) Pressed() bool {
	return p.button.Read() == gpio.Low
}

// WaitPress polls until the button goes down.
func (p *Panel) WaitPress(ctx context.Context) error {
	return p.waitLevel(ctx, gpio.Low)
}

// WaitRelease polls until the button is up.
func (p *Panel) WaitRelease(ctx context.Context) error {
	return p.waitLevel(ctx, gpio.High)
}

func (p *Panel) waitLevel(ctx context.Context, want gpio.Level) error {
	for {
		if p.button.Read() == want {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(debouncePoll):
		}
	}
}
