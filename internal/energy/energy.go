// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package energy implements the Energy Model & FK Simulator (§4.6): a
// frozen grid of simulated axis positions captured once from a real
// probing pass, re-evaluated purely through forward kinematics for every
// candidate kinematic parameter set the annealer proposes. The expensive
// real probe only ever runs once per pass.
package energy

import (
	"fmt"
	"math"

	"github.com/deltacore/calibration/internal/geometry"
	"github.com/deltacore/calibration/internal/kinematics"
)

// AxisPositions is the frozen [N*N][3] buffer of per-tower carriage
// heights captured by SimulateIK. Non-ACTIVE grid points hold the zero
// vector and are excluded from every downstream energy computation.
type AxisPositions [][3]float64

// PlaneTilt evaluates the tilt-plane term at (x,y); nil means the plane is
// disabled and contributes zero.
type PlaneTilt func(x, y float64) float64

func tilt(f PlaneTilt, x, y float64) float64 {
	if f == nil {
		return 0
	}
	return f(x, y)
}

// SimulateIK captures axis positions exactly once: for each ACTIVE grid
// point, adds the plane-tilt term to the measured relative depth to get an
// effective Cartesian z, converts to actuator space via the arm-solution,
// and adds trim componentwise.
func SimulateIK(grid *geometry.Grid, measuredDepths []float64, trim [3]float64, plane PlaneTilt, arm kinematics.ArmSolution) (AxisPositions, error) {
	if len(measuredDepths) != len(grid.Points) {
		return nil, fmt.Errorf("energy: measuredDepths has %d entries, want %d", len(measuredDepths), len(grid.Points))
	}

	axis := make(AxisPositions, len(grid.Points))
	for i, gp := range grid.Points {
		if gp.Classification != geometry.Active {
			continue
		}
		z := measuredDepths[i] + tilt(plane, gp.Coord.X, gp.Coord.Y)
		actuator, err := arm.CartesianToActuator([3]float64{gp.Coord.X, gp.Coord.Y, z})
		if err != nil {
			return nil, fmt.Errorf("energy: cartesian to actuator at point %d: %w", i, err)
		}
		axis[i] = [3]float64{
			actuator[0] + trim[0],
			actuator[1] + trim[1],
			actuator[2] + trim[2],
		}
	}
	return axis, nil
}

// SimulateFKAndComputeEnergy re-evaluates the frozen axis positions under
// whatever candidate kinematics are currently live in arm (the caller has
// already pushed the candidate settings there), backing out what the
// printer would deposit at each ACTIVE point and returning the mean
// absolute Z deviation across them.
func SimulateFKAndComputeEnergy(grid *geometry.Grid, axis AxisPositions, trim [3]float64, plane PlaneTilt, arm kinematics.ArmSolution) (float64, error) {
	if len(axis) != len(grid.Points) {
		return 0, fmt.Errorf("energy: axis positions has %d entries, want %d", len(axis), len(grid.Points))
	}

	var sum float64
	var count int
	for i, gp := range grid.Points {
		if gp.Classification != geometry.Active {
			continue
		}
		a := axis[i]
		untrimmed := [3]float64{a[0] - trim[0], a[1] - trim[1], a[2] - trim[2]}
		cart, err := arm.ActuatorToCartesian(untrimmed)
		if err != nil {
			return 0, fmt.Errorf("energy: actuator to cartesian at point %d: %w", i, err)
		}
		z := cart[2] - tilt(plane, gp.Coord.X, gp.Coord.Y)
		sum += math.Abs(z)
		count++
	}
	if count == 0 {
		return 0, nil
	}
	return sum / float64(count), nil
}
