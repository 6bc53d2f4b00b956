// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package probedriver

import "github.com/deltacore/calibration/internal/motionlink"

// SimProbe is a RawProbe backed by a synthetic surface function, the
// probe-driver analog of internal/deltasim.Sim: a deterministic stand-in
// for hardware used in tests and bench mode.
type SimProbe struct {
	motor      motionlink.MotionController
	surface    func(x, y float64) float64 // true bed height deviation at (x,y), mm
	stepsPerMM float64
	baseSteps  int // step count corresponding to surface height 0
	accel      float64
}

// NewSimProbe builds a simulator whose bed deviates from flat according
// to surface (nil means a perfectly flat bed).
func NewSimProbe(motor motionlink.MotionController, surface func(x, y float64) float64, stepsPerMM float64, baseSteps int) *SimProbe {
	if surface == nil {
		surface = func(x, y float64) float64 { return 0 }
	}
	return &SimProbe{motor: motor, surface: surface, stepsPerMM: stepsPerMM, baseSteps: baseSteps}
}

func (p *SimProbe) Probe(feedrate float64, decelerateOnTrigger bool) (int, error) {
	pos, err := p.motor.CurrentPosition()
	if err != nil {
		return 0, err
	}
	deviation := p.surface(pos[0], pos[1])
	return p.baseSteps + int(deviation*p.stepsPerMM), nil
}

func (p *SimProbe) SaveAcceleration() float64        { return p.accel }
func (p *SimProbe) SetAcceleration(v float64)         { p.accel = v }
func (p *SimProbe) RestoreAcceleration(prior float64) { p.accel = prior }
// StepsToMM is a pure linear conversion, matching the real probe driver's
// contract: it scales a step count (whether absolute or a difference of two
// absolute counts) to millimeters with no implicit baseline subtraction.
func (p *SimProbe) StepsToMM(steps int) float64 {
	if p.stepsPerMM == 0 {
		return 0
	}
	return float64(steps) / p.stepsPerMM
}
