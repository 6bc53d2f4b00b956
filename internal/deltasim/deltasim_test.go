// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package deltasim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIKThenFK_IsIdentityWithZeroTrim(t *testing.T) {
	sim := New(250, 130)

	for _, p := range [][3]float64{
		{0, 0, 0},
		{20, -10, 5},
		{-30, 15, -2},
	} {
		actuator, err := sim.CartesianToActuator(p)
		require.NoError(t, err)

		back, err := sim.ActuatorToCartesian(actuator)
		require.NoError(t, err)

		assert.InDelta(t, p[0], back[0], 1e-6)
		assert.InDelta(t, p[1], back[1], 1e-6)
		assert.InDelta(t, p[2], back[2], 1e-6)
	}
}

func TestCartesianToActuator_UnreachablePoint(t *testing.T) {
	sim := New(250, 130)
	_, err := sim.CartesianToActuator([3]float64{10000, 10000, 0})
	assert.Error(t, err)
}
