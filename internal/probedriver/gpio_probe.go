// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package probedriver

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// StepClock reports the step count accumulated by the active axis move
// since it began, the same role the motion controller's own step timers
// play for the real Z-probe driver this core treats as out of scope.
// GPIOProbe only needs this narrow slice of the motion controller.
type StepClock interface {
	StepsSinceMoveStart() (int, error)
}

// GPIOProbe is a real-hardware RawProbe that watches a digital trigger
// line for the probe's switch closure, wired the same way the teacher's
// newIMUSource wires a chip-select line: periph.io host init, then
// gpioreg.ByName for the specific pin, confining the periph.io import to
// this one adapter file.
type GPIOProbe struct {
	pin         gpio.PinIO
	clock       StepClock
	accel       float64
	stepsPerMM  float64
	pollTimeout time.Duration
}

// NewGPIOProbe initializes periph.io and looks up the trigger pin by name.
func NewGPIOProbe(triggerPin string, clock StepClock, stepsPerMM float64) (*GPIOProbe, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("probedriver: periph host init: %w", err)
	}

	pin := gpioreg.ByName(triggerPin)
	if pin == nil {
		return nil, fmt.Errorf("probedriver: trigger pin %q not found", triggerPin)
	}
	if err := pin.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		return nil, fmt.Errorf("probedriver: configure trigger pin %q: %w", triggerPin, err)
	}

	return &GPIOProbe{
		pin:         pin,
		clock:       clock,
		stepsPerMM:  stepsPerMM,
		pollTimeout: 30 * time.Second,
	}, nil
}

// Probe polls the trigger pin until it fires or pollTimeout elapses,
// reading the accumulated step count from the StepClock at the moment
// of trigger.
func (p *GPIOProbe) Probe(feedrate float64, decelerateOnTrigger bool) (int, error) {
	deadline := time.Now().Add(p.pollTimeout)
	for time.Now().Before(deadline) {
		if p.pin.WaitForEdge(10 * time.Millisecond) {
			return p.clock.StepsSinceMoveStart()
		}
	}
	return 0, fmt.Errorf("probedriver: probe trigger timed out after %s", p.pollTimeout)
}

func (p *GPIOProbe) SaveAcceleration() float64 {
	prior := p.accel
	return prior
}

func (p *GPIOProbe) SetAcceleration(mmPerSec2 float64) { p.accel = mmPerSec2 }

func (p *GPIOProbe) RestoreAcceleration(prior float64) { p.accel = prior }

func (p *GPIOProbe) StepsToMM(steps int) float64 {
	if p.stepsPerMM == 0 {
		return 0
	}
	return float64(steps) / p.stepsPerMM
}
