// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package iterative implements the coarse endstop/delta-radius pre-pass
// (§4.5): a classical four-probe-per-iteration corrector that runs before
// the annealer, converging gross trim and delta-radius error in a handful
// of cheap iterations.
package iterative

import (
	"fmt"
	"math"

	"github.com/deltacore/calibration/internal/geometry"
	"github.com/deltacore/calibration/internal/kinematics"
	"github.com/deltacore/calibration/internal/probedriver"
)

// ErrTrimOutOfRange is returned when a trim correction would push a trim
// entry below -5mm, signaling a gross mechanical or configuration fault.
var ErrTrimOutOfRange = fmt.Errorf("iterative: trim correction out of range")

const (
	maxIterations  = 20
	toleranceMM    = 0.03 // 30 micron
	initialScale   = 1.3
	scaleDecay     = 0.9
	minScale       = 0.9
	radiusGain     = 2.0
	minTrimMM      = -5.0
)

// Result reports how the pre-pass converged.
type Result struct {
	Iterations        int
	EndstopConverged  bool
	RadiusConverged   bool
}

// Run executes the iterative pre-pass against the given grid (which
// supplies the center and tower-near probe points), probe adapter, and
// kinematic state, mutating trim and delta_radius in place.
func Run(grid *geometry.Grid, probe *probedriver.Adapter, state *kinematics.State) (Result, error) {
	centerIdx := grid.CenterIndex()
	towerIdx := [3]int{
		grid.TowerPoint(geometry.TowerX),
		grid.TowerPoint(geometry.TowerY),
		grid.TowerPoint(geometry.TowerZ),
	}

	trimScale := initialScale
	prevEndstopDeviation := math.MaxFloat64

	var result Result
	for iter := 0; iter < maxIterations; iter++ {
		result.Iterations = iter + 1

		centerDepth, err := probeDepth(probe, grid.Points[centerIdx].Coord)
		if err != nil {
			return result, fmt.Errorf("iterative: probe center: %w", err)
		}
		var towerDepths [3]float64
		for i, idx := range towerIdx {
			d, err := probeDepth(probe, grid.Points[idx].Coord)
			if err != nil {
				return result, fmt.Errorf("iterative: probe tower %d: %w", i, err)
			}
			towerDepths[i] = d
		}

		allFour := [4]float64{centerDepth, towerDepths[0], towerDepths[1], towerDepths[2]}
		endstopDeviation := maxOf4(allFour) - minOf4(allFour)
		result.EndstopConverged = endstopDeviation <= toleranceMM

		radiusDeviation := centerDepth - mean(towerDepths)
		result.RadiusConverged = math.Abs(radiusDeviation) <= toleranceMM

		if result.EndstopConverged && result.RadiusConverged {
			return result, nil
		}

		if !result.EndstopConverged {
			if endstopDeviation >= prevEndstopDeviation && trimScale*scaleDecay >= minScale {
				trimScale *= scaleDecay
			}
			prevEndstopDeviation = endstopDeviation

			min := minOf4(allFour)
			trim := state.Snapshot().Trim
			next := trim
			for t := 0; t < 3; t++ {
				next[t] += (min - towerDepths[t]) * trimScale
				if next[t] < minTrimMM {
					return result, fmt.Errorf("%w: trim[%d] would reach %.3fmm", ErrTrimOutOfRange, t, next[t])
				}
			}
			if err := state.SetTrim(next); err != nil {
				return result, fmt.Errorf("iterative: apply trim: %w", err)
			}
		}

		if !result.RadiusConverged {
			newRadius := state.Snapshot().DeltaRadius + radiusDeviation*radiusGain
			if err := state.SetDeltaRadius(newRadius); err != nil {
				return result, fmt.Errorf("iterative: apply delta radius: %w", err)
			}
		}
	}

	return result, nil
}

// probeDepth probes at p and returns the relative depth in millimeters,
// using the probe's own step-to-mm conversion directly on the averaged
// step count (no center-relative subtraction — this pre-pass compares
// depths against each other, not against a separately captured origin).
func probeDepth(probe *probedriver.Adapter, p geometry.Point2D) (float64, error) {
	steps, err := probe.ProbeAt(p.X, p.Y)
	if err != nil {
		return 0, err
	}
	return probe.StepsToMM(steps), nil
}

func maxOf4(v [4]float64) float64 {
	return math.Max(math.Max(v[0], v[1]), math.Max(v[2], v[3]))
}
func minOf4(v [4]float64) float64 {
	return math.Min(math.Min(v[0], v[1]), math.Min(v[2], v[3]))
}
func mean(v [3]float64) float64 { return (v[0] + v[1] + v[2]) / 3 }
