// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package depthmap implements probe_surface (§4.4): the routine that walks
// the probe grid, records a relative depth at every ACTIVE point, optionally
// extrapolates the ACTIVE_NEIGHBOR ring, and for CIRCLE grids propagates
// depths outward into the INACTIVE corners so the saved map covers the
// whole grid.
package depthmap

import (
	"fmt"
	"math"

	"github.com/deltacore/calibration/internal/geometry"
	"github.com/deltacore/calibration/internal/motionlink"
	"github.com/deltacore/calibration/internal/probedriver"
	"github.com/deltacore/calibration/internal/surface"
)

// ProbeSurface runs a full depth-map probing pass: home, measure the bed
// center, probe every ACTIVE grid point, extrapolate ACTIVE_NEIGHBOR points
// (or zero them if extrapolateNeighbors is false), and for CIRCLE grids
// propagate depths radially into the remaining INACTIVE cells. Results are
// written into transform's depth map.
func ProbeSurface(motor motionlink.MotionController, probe *probedriver.Adapter, grid *geometry.Grid, tr *surface.Transform, extrapolateNeighbors bool) error {
	bedHeight, err := probe.FindBedCenterHeight()
	if err != nil {
		return fmt.Errorf("depthmap: find bed center height: %w", err)
	}
	if err := motor.Home(); err != nil {
		return fmt.Errorf("depthmap: home: %w", err)
	}
	cfg := probe.Config()
	if err := motor.MoveTo([3]float64{0, 0, bedHeight + cfg.ProbeClearanceMM}); err != nil {
		return fmt.Errorf("depthmap: descend to probe height: %w", err)
	}

	if err := probe.Prime(); err != nil {
		return fmt.Errorf("depthmap: prime: %w", err)
	}
	originSteps, err := probe.ProbeAt(0, 0)
	if err != nil {
		return fmt.Errorf("depthmap: measure center: %w", err)
	}

	abs := make([]float64, grid.N*grid.N)
	measured := make([]bool, grid.N*grid.N)

	for _, idx := range grid.ActiveIndices() {
		p := grid.Points[idx].Coord
		steps, err := probe.ProbeAt(p.X, p.Y)
		if err != nil {
			return fmt.Errorf("depthmap: probe active point %d: %w", idx, err)
		}
		rel := probe.StepsToMM(originSteps - steps)
		abs[idx] = probe.StepsToMM(steps)
		measured[idx] = true
		tr.SetDepthAt(idx, rel)
	}

	if err := extrapolate(motor, probe, grid, tr, abs, measured, extrapolateNeighbors, originSteps); err != nil {
		return err
	}

	if grid.Shape == geometry.Circle {
		propagateInactive(grid, tr)
	}

	return nil
}

// extrapolate handles every ACTIVE_NEIGHBOR point: either zeroes its depth
// (extrapolation disabled) or probes a point on the probing radius and
// extends the slope from the neighbor's horizontally adjacent ACTIVE point,
// per §4.4 step 4.
func extrapolate(motor motionlink.MotionController, probe *probedriver.Adapter, grid *geometry.Grid, tr *surface.Transform, abs []float64, measured []bool, extrapolateNeighbors bool, originSteps int) error {
	n := grid.N
	mid := (n - 1) / 2
	r := grid.ProbeRadius

	for _, idx := range grid.ActiveNeighborIndices() {
		if !extrapolateNeighbors {
			tr.SetDepthAt(idx, 0)
			continue
		}

		p := grid.Points[idx].Coord
		row, col := idx/n, idx%n

		dir := 1
		if col > mid {
			dir = -1
		}
		aIdx := row*n + (col + dir)
		if aIdx < 0 || aIdx >= len(grid.Points) || !measured[aIdx] {
			return fmt.Errorf("depthmap: no measured neighbor to extrapolate point %d from", idx)
		}
		a := grid.Points[aIdx].Coord

		sign := 1.0
		if p.X < 0 {
			sign = -1
		}
		radicand := r*r - p.Y*p.Y
		if radicand < 0 {
			radicand = 0
		}
		xPrime := sign * math.Sqrt(radicand)

		steps, err := probe.ProbeAt(xPrime, p.Y)
		if err != nil {
			return fmt.Errorf("depthmap: probe radius point for neighbor %d: %w", idx, err)
		}
		absPrime := probe.StepsToMM(steps)

		rise := absPrime - abs[aIdx]
		denom := math.Abs(xPrime - a.X)
		if denom == 0 {
			return fmt.Errorf("depthmap: degenerate extrapolation geometry at point %d", idx)
		}
		multiplier := math.Abs(p.X-a.X) / denom
		deltaAbs := rise * multiplier

		pAbs := abs[aIdx] + deltaAbs
		pRel := probe.StepsToMM(originSteps) - pAbs
		tr.SetDepthAt(idx, pRel)
	}
	return nil
}

// propagateInactive copies each INACTIVE cell's depth from the nearest
// inward cell in its row, radiating out from the centerline, so the saved
// depth map is defined across the full grid for CIRCLE shapes.
func propagateInactive(grid *geometry.Grid, tr *surface.Transform) {
	n := grid.N
	mid := (n - 1) / 2

	for row := 0; row < n; row++ {
		for col := mid - 1; col >= 0; col-- {
			idx := row*n + col
			if grid.Points[idx].Classification == geometry.Inactive {
				tr.SetDepthAt(idx, tr.DepthAt(idx+1))
			}
		}
		for col := mid + 1; col < n; col++ {
			idx := row*n + col
			if grid.Points[idx].Classification == geometry.Inactive {
				tr.SetDepthAt(idx, tr.DepthAt(idx-1))
			}
		}
	}
}
