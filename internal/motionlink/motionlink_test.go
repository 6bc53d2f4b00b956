// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package motionlink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePositionReply(t *testing.T) {
	p, err := parsePositionReply("ok X10.5000 Y-2.2500 Z30.0000")
	require.NoError(t, err)
	assert.InDelta(t, 10.5, p[0], 1e-9)
	assert.InDelta(t, -2.25, p[1], 1e-9)
	assert.InDelta(t, 30, p[2], 1e-9)
}

func TestParsePositionReply_Incomplete(t *testing.T) {
	_, err := parsePositionReply("ok X10.5000 Y-2.2500")
	assert.Error(t, err)
}

func TestSimMotionController_HomeAndMove(t *testing.T) {
	m := NewSim()
	require.NoError(t, m.SetZMax(250))
	require.NoError(t, m.Home())

	pos, err := m.CurrentPosition()
	require.NoError(t, err)
	assert.Equal(t, [3]float64{0, 0, 250}, pos)

	require.NoError(t, m.MoveTo([3]float64{10, 20, 30}))
	pos, err = m.CurrentPosition()
	require.NoError(t, err)
	assert.Equal(t, [3]float64{10, 20, 30}, pos)

	require.NoError(t, m.ReseatAxisPosition())
	assert.Equal(t, 1, m.ReseatCount())
}
