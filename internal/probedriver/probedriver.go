// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package probedriver wraps the external Z-probe driver with smoothing,
// priming, acceleration save/restore and offset compensation (§4.2). The
// Z-probe driver itself (run-probe, feedrate/debounce/deceleration
// settings, step-to-mm conversion) is an out-of-scope external
// collaborator consumed through the RawProbe interface.
package probedriver

import (
	"fmt"

	"github.com/deltacore/calibration/internal/geometry"
	"github.com/deltacore/calibration/internal/motionlink"
)

// ErrProbeFailed is returned when the underlying probe never triggers or
// the averaged result falls below the minimum meaningful step count.
var ErrProbeFailed = fmt.Errorf("probedriver: probe failed")

// minValidSteps is the floor below which an averaged probe result
// indicates a probe-height misconfiguration rather than a real surface.
const minValidSteps = 100

// RawProbe is the external Z-probe driver's contract: run one probe
// cycle, and report/adjust acceleration and the step-to-mm conversion.
// Out of scope per spec.md §1.
type RawProbe interface {
	// Probe executes a single cycle at the given feedrate. If
	// decelerateOnTrigger is true the probe returns to the point it was
	// at when deceleration began after triggering; otherwise it reports
	// the full measured travel. Returns the raw step count.
	Probe(feedrate float64, decelerateOnTrigger bool) (steps int, err error)
	SaveAcceleration() float64
	SetAcceleration(mmPerSec2 float64)
	RestoreAcceleration(prior float64)
	StepsToMM(steps int) float64
}

// Config mirrors §3's ProbeConfig entity.
type Config struct {
	Smoothing           int // [1,10]
	Priming             int // [0,20]
	Acceleration        float64
	Offset              geometry.Point3D
	FastFeedrate        float64
	SlowFeedrate        float64
	DebounceCount       int
	DecelerateOnTrigger bool

	ProbeClearanceMM float64 // height above the bed the fast-probe search starts from
}

func (c Config) validate() error {
	if c.Smoothing < 1 || c.Smoothing > 10 {
		return fmt.Errorf("probedriver: smoothing must be in [1,10], got %d", c.Smoothing)
	}
	if c.Priming < 0 || c.Priming > 20 {
		return fmt.Errorf("probedriver: priming must be in [0,20], got %d", c.Priming)
	}
	return nil
}

// Adapter is the Probe Driver Adapter (§4.2): it positions the motion
// controller, smooths over repeated taps, and insulates callers from the
// raw probe's acceleration and offset quirks.
type Adapter struct {
	motor motionlink.MotionController
	probe RawProbe
	cfg   Config
}

// New constructs an Adapter. Returns CONFIG_INVALID-class error if cfg is
// out of range.
func New(motor motionlink.MotionController, probe RawProbe, cfg Config) (*Adapter, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Adapter{motor: motor, probe: probe, cfg: cfg}, nil
}

// ProbeAt moves to (x+offset.x, y+offset.y), probes `Smoothing` times
// averaging the result, and restores acceleration even on failure.
func (a *Adapter) ProbeAt(x, y float64) (int, error) {
	pos, err := a.motor.CurrentPosition()
	if err != nil {
		return 0, fmt.Errorf("probedriver: read current position: %w", err)
	}
	target := [3]float64{x + a.cfg.Offset.X, y + a.cfg.Offset.Y, pos[2]}
	if err := a.motor.MoveTo(target); err != nil {
		return 0, fmt.Errorf("probedriver: move to probe point: %w", err)
	}

	prior := a.probe.SaveAcceleration()
	a.probe.SetAcceleration(a.cfg.Acceleration)
	defer a.probe.RestoreAcceleration(prior)

	total := 0
	for i := 0; i < a.cfg.Smoothing; i++ {
		steps, err := a.probe.Probe(a.cfg.SlowFeedrate, a.cfg.DecelerateOnTrigger)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrProbeFailed, err)
		}
		total += steps
	}
	avg := total / a.cfg.Smoothing
	if avg < minValidSteps {
		return 0, fmt.Errorf("%w: averaged %d steps (< %d minimum, probe height likely misconfigured)", ErrProbeFailed, avg, minValidSteps)
	}
	return avg, nil
}

// Prime runs Priming probes at the center and discards the results, for
// probes with Z-settling behavior.
func (a *Adapter) Prime() error {
	for i := 0; i < a.cfg.Priming; i++ {
		if _, err := a.ProbeAt(0, 0); err != nil {
			return fmt.Errorf("probedriver: prime tap %d: %w", i, err)
		}
	}
	return nil
}

// FindBedCenterHeight fast-probes to determine probe_from_height, then
// primes, moves to the configured offset, and slow-probes to derive the
// absolute bed height, which it pushes to the motion controller as the
// new Z max.
func (a *Adapter) FindBedCenterHeight() (float64, error) {
	fastSteps, err := a.probe.Probe(a.cfg.FastFeedrate, a.cfg.DecelerateOnTrigger)
	if err != nil {
		return 0, fmt.Errorf("%w: fast probe: %v", ErrProbeFailed, err)
	}
	measuredHeight := a.probe.StepsToMM(fastSteps)
	probeFromHeight := measuredHeight - a.cfg.ProbeClearanceMM

	if err := a.Prime(); err != nil {
		return 0, err
	}

	pos, err := a.motor.CurrentPosition()
	if err != nil {
		return 0, fmt.Errorf("probedriver: read current position: %w", err)
	}
	target := [3]float64{a.cfg.Offset.X, a.cfg.Offset.Y, pos[2]}
	if err := a.motor.MoveTo(target); err != nil {
		return 0, fmt.Errorf("probedriver: move to bed-center probe point: %w", err)
	}

	slowSteps, err := a.probe.Probe(a.cfg.SlowFeedrate, a.cfg.DecelerateOnTrigger)
	if err != nil {
		return 0, fmt.Errorf("%w: slow probe: %v", ErrProbeFailed, err)
	}
	heightToTrigger := a.probe.StepsToMM(slowSteps)

	bedHeight := probeFromHeight + heightToTrigger + a.cfg.Offset.Z
	if err := a.motor.SetZMax(bedHeight); err != nil {
		return 0, fmt.Errorf("probedriver: push Z max: %w", err)
	}
	return bedHeight, nil
}

// Config returns a copy of the adapter's configuration.
func (a *Adapter) Config() Config { return a.cfg }

// StepsToMM converts a raw step count to millimeters via the underlying
// probe's conversion, for callers (depth-map probing) that need to turn
// averaged step counts into relative/absolute depths themselves.
func (a *Adapter) StepsToMM(steps int) float64 { return a.probe.StepsToMM(steps) }
