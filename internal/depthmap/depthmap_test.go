// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package depthmap

import (
	"testing"

	"github.com/deltacore/calibration/internal/geometry"
	"github.com/deltacore/calibration/internal/motionlink"
	"github.com/deltacore/calibration/internal/probedriver"
	"github.com/deltacore/calibration/internal/surface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flatConfig() probedriver.Config {
	return probedriver.Config{
		Smoothing:           2,
		Priming:             1,
		Acceleration:        500,
		FastFeedrate:        300,
		SlowFeedrate:        60,
		DebounceCount:       2,
		DecelerateOnTrigger: false,
		ProbeClearanceMM:    5,
	}
}

func setup(t *testing.T) (*geometry.Grid, *surface.Transform, motionlink.MotionController, *probedriver.Adapter) {
	t.Helper()
	grid, err := geometry.Build(100, 5, geometry.Circle)
	require.NoError(t, err)
	tr := surface.New(grid)

	motor := motionlink.NewSim()
	probe := probedriver.NewSimProbe(motor, nil, 100, 1000)
	adapter, err := probedriver.New(motor, probe, flatConfig())
	require.NoError(t, err)

	return grid, tr, motor, adapter
}

func TestProbeSurface_FlatBedYieldsZeroDepths(t *testing.T) {
	grid, tr, motor, adapter := setup(t)

	err := ProbeSurface(motor, adapter, grid, tr, true)
	require.NoError(t, err)

	for i, gp := range grid.Points {
		if gp.Classification == geometry.Inactive {
			continue
		}
		assert.InDelta(t, 0, tr.DepthAt(i), 1e-6, "point %d (%s)", i, gp.Classification)
	}
}

func TestProbeSurface_InactiveCellsPropagateFromNeighbors(t *testing.T) {
	grid, tr, motor, adapter := setup(t)

	err := ProbeSurface(motor, adapter, grid, tr, true)
	require.NoError(t, err)

	n := grid.N
	mid := (n - 1) / 2
	for row := 0; row < n; row++ {
		for col := 0; col < n; col++ {
			idx := row*n + col
			if grid.Points[idx].Classification != geometry.Inactive {
				continue
			}
			if col < mid {
				assert.InDelta(t, tr.DepthAt(idx+1), tr.DepthAt(idx), 1e-9)
			} else {
				assert.InDelta(t, tr.DepthAt(idx-1), tr.DepthAt(idx), 1e-9)
			}
		}
	}
}

func TestProbeSurface_NoExtrapolationZeroesNeighbors(t *testing.T) {
	grid, tr, motor, adapter := setup(t)

	err := ProbeSurface(motor, adapter, grid, tr, false)
	require.NoError(t, err)

	for _, idx := range grid.ActiveNeighborIndices() {
		assert.Equal(t, 0.0, tr.DepthAt(idx))
	}
}

func TestProbeSurface_SlopedBedExtrapolatesNonZero(t *testing.T) {
	grid, err := geometry.Build(100, 5, geometry.Circle)
	require.NoError(t, err)
	tr := surface.New(grid)

	motor := motionlink.NewSim()
	slope := func(x, y float64) float64 { return x * 0.02 }
	probe := probedriver.NewSimProbe(motor, slope, 100, 1000)
	adapter, err := probedriver.New(motor, probe, flatConfig())
	require.NoError(t, err)

	require.NoError(t, ProbeSurface(motor, adapter, grid, tr, true))

	// SimProbe models higher step counts as a taller probe travel, so the
	// recorded rel depth carries the opposite sign of the raw surface
	// deviation function.
	for _, idx := range grid.ActiveNeighborIndices() {
		p := grid.Points[idx].Coord
		want := -p.X * 0.02
		assert.InDelta(t, want, tr.DepthAt(idx), 0.05, "neighbor %d", idx)
	}
}
