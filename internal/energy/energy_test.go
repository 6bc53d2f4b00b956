// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package energy

import (
	"testing"

	"github.com/deltacore/calibration/internal/deltasim"
	"github.com/deltacore/calibration/internal/geometry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Round-trip law: simulate_IK then simulate_FK against the same kinematics
// and zero trim is the identity — energy must be ~0.
func TestSimulateIKThenFK_ZeroTrimIsIdentity(t *testing.T) {
	grid, err := geometry.Build(100, 5, geometry.Circle)
	require.NoError(t, err)

	arm := deltasim.New(250, 125)
	measured := make([]float64, len(grid.Points))

	trim := [3]float64{0, 0, 0}
	axis, err := SimulateIK(grid, measured, trim, nil, arm)
	require.NoError(t, err)

	e, err := SimulateFKAndComputeEnergy(grid, axis, trim, nil, arm)
	require.NoError(t, err)
	assert.InDelta(t, 0, e, 1e-6)
}

func TestSimulateFKAndComputeEnergy_NonZeroTrimIncreasesEnergy(t *testing.T) {
	grid, err := geometry.Build(100, 5, geometry.Circle)
	require.NoError(t, err)

	arm := deltasim.New(250, 125)
	measured := make([]float64, len(grid.Points))

	captureTrim := [3]float64{0, 0, 0}
	axis, err := SimulateIK(grid, measured, captureTrim, nil, arm)
	require.NoError(t, err)

	// The axis positions were captured assuming trim=0; re-evaluating with
	// a different trim value must no longer be the identity.
	wrongTrim := [3]float64{-1, -1, -1}
	e, err := SimulateFKAndComputeEnergy(grid, axis, wrongTrim, nil, arm)
	require.NoError(t, err)
	assert.Greater(t, e, 0.0)
}

// The CENTER grid point must be excluded from both passes even when a
// tilt-plane term is non-zero at its coordinates (e.g. asymmetric virtual
// shimming, whose anchors are the three tower points, not the origin) —
// CENTER is a distinct classification from ACTIVE and never contributes to
// the energy signal the annealer optimizes against.
func TestSimulateIK_ExcludesCenterDespiteNonZeroTiltAtOrigin(t *testing.T) {
	grid, err := geometry.Build(100, 5, geometry.Circle)
	require.NoError(t, err)

	arm := deltasim.New(250, 125)
	measured := make([]float64, len(grid.Points))

	centerIdx := grid.CenterIndex()
	centerCoord := grid.Points[centerIdx].Coord
	spuriousTilt := func(x, y float64) float64 {
		if x == centerCoord.X && y == centerCoord.Y {
			return 5 // would corrupt the signal if CENTER were included
		}
		return 0
	}

	trim := [3]float64{0, 0, 0}
	axis, err := SimulateIK(grid, measured, trim, spuriousTilt, arm)
	require.NoError(t, err)
	assert.Equal(t, [3]float64{}, axis[centerIdx], "CENTER point must stay unset, not folded into the tilt-affected ACTIVE computation")

	e, err := SimulateFKAndComputeEnergy(grid, axis, trim, spuriousTilt, arm)
	require.NoError(t, err)
	assert.InDelta(t, 0, e, 1e-6, "CENTER's spurious tilt must not leak into the energy signal")
}

func TestSimulateIK_RejectsMismatchedDepthCount(t *testing.T) {
	grid, err := geometry.Build(100, 5, geometry.Circle)
	require.NoError(t, err)
	arm := deltasim.New(250, 125)

	_, err = SimulateIK(grid, make([]float64, 3), [3]float64{}, nil, arm)
	assert.Error(t, err)
}
