// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package probedriver

import (
	"testing"

	"github.com/deltacore/calibration/internal/geometry"
	"github.com/deltacore/calibration/internal/motionlink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flatConfig() Config {
	return Config{
		Smoothing:           3,
		Priming:             1,
		Acceleration:        500,
		Offset:              geometry.Point3D{},
		FastFeedrate:        300,
		SlowFeedrate:        60,
		DebounceCount:       2,
		DecelerateOnTrigger: false,
		ProbeClearanceMM:    5,
	}
}

func TestProbeAt_AveragesAndRestoresAcceleration(t *testing.T) {
	motor := motionlink.NewSim()
	probe := NewSimProbe(motor, nil, 100, 1000)
	a, err := New(motor, probe, flatConfig())
	require.NoError(t, err)
	probe.SetAcceleration(42)

	steps, err := a.ProbeAt(10, 20)
	require.NoError(t, err)
	assert.Equal(t, 1000, steps)
	assert.Equal(t, 42.0, probe.SaveAcceleration())
}

func TestProbeAt_FailsBelowMinimumSteps(t *testing.T) {
	motor := motionlink.NewSim()
	probe := NewSimProbe(motor, nil, 100, 50) // below minValidSteps
	a, err := New(motor, probe, flatConfig())
	require.NoError(t, err)

	_, err = a.ProbeAt(0, 0)
	assert.ErrorIs(t, err, ErrProbeFailed)
}

func TestNew_RejectsOutOfRangeConfig(t *testing.T) {
	motor := motionlink.NewSim()
	probe := NewSimProbe(motor, nil, 100, 1000)

	cfg := flatConfig()
	cfg.Smoothing = 0
	_, err := New(motor, probe, cfg)
	assert.Error(t, err)
}

func TestFindBedCenterHeight_PushesZMax(t *testing.T) {
	motor := motionlink.NewSim()
	probe := NewSimProbe(motor, nil, 100, 1000)
	a, err := New(motor, probe, flatConfig())
	require.NoError(t, err)

	h, err := a.FindBedCenterHeight()
	require.NoError(t, err)
	assert.Greater(t, h, 0.0)

	// SimMotionController.Home moves Z to the last pushed Z max.
	require.NoError(t, motor.Home())
	pos, err := motor.CurrentPosition()
	require.NoError(t, err)
	assert.InDelta(t, h, pos[2], 1e-9)
}
