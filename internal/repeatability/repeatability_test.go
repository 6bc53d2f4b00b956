// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package repeatability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deltacore/calibration/internal/geometry"
	"github.com/deltacore/calibration/internal/motionlink"
	"github.com/deltacore/calibration/internal/probedriver"
)

func flatConfig() probedriver.Config {
	return probedriver.Config{
		Smoothing:           2,
		Priming:             0,
		Acceleration:        500,
		FastFeedrate:        300,
		SlowFeedrate:        60,
		DebounceCount:       2,
		DecelerateOnTrigger: false,
		ProbeClearanceMM:    5,
	}
}

func setup(t *testing.T) (*geometry.Grid, *probedriver.Adapter) {
	t.Helper()
	grid, err := geometry.Build(100, 5, geometry.Circle)
	require.NoError(t, err)

	motor := motionlink.NewSim()
	probe := probedriver.NewSimProbe(motor, nil, 100, 1000)
	adapter, err := probedriver.New(motor, probe, flatConfig())
	require.NoError(t, err)

	return grid, adapter
}

func TestRun_DefaultSampleCountIsTen(t *testing.T) {
	grid, adapter := setup(t)
	var tracker Tracker

	result, err := tracker.Run(grid, adapter, Config{})
	require.NoError(t, err)
	assert.Len(t, result.Samples, defaultSamples)
}

func TestRun_DeterministicSimProbeYieldsZeroRepeatability(t *testing.T) {
	grid, adapter := setup(t)
	var tracker Tracker

	result, err := tracker.Run(grid, adapter, Config{Samples: 5})
	require.NoError(t, err)
	assert.Equal(t, 0, result.MaxSteps-result.MinSteps)
	assert.InDelta(t, 0, result.RepeatabilityMM, 1e-9)
	assert.InDelta(t, 0, result.StdDevSteps, 1e-9)
}

func TestRun_RejectsSampleCountAboveCap(t *testing.T) {
	grid, adapter := setup(t)
	var tracker Tracker

	_, err := tracker.Run(grid, adapter, Config{Samples: 31})
	assert.Error(t, err)
}

func TestRun_InterleavedMovesStillProduceFullSampleSet(t *testing.T) {
	grid, adapter := setup(t)
	var tracker Tracker

	result, err := tracker.Run(grid, adapter, Config{Samples: 9, InterleaveMoves: true})
	require.NoError(t, err)
	assert.Len(t, result.Samples, 9)
}

func TestTracker_KeepsLowestSigmaAcrossRuns(t *testing.T) {
	grid, adapter := setup(t)
	var tracker Tracker

	first, err := tracker.Run(grid, adapter, Config{Samples: 5})
	require.NoError(t, err)

	best, ok := tracker.Best()
	require.True(t, ok)
	assert.Equal(t, first.StdDevSteps, best.StdDevSteps)

	second, err := tracker.Run(grid, adapter, Config{Samples: 5})
	require.NoError(t, err)

	best, ok = tracker.Best()
	require.True(t, ok)
	assert.LessOrEqual(t, best.StdDevSteps, second.StdDevSteps)
}
