// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deltacore/calibration/internal/deltasim"
	"github.com/deltacore/calibration/internal/geometry"
	"github.com/deltacore/calibration/internal/kinematics"
	"github.com/deltacore/calibration/internal/motionlink"
	"github.com/deltacore/calibration/internal/probedriver"
	"github.com/deltacore/calibration/internal/repeatability"
	"github.com/deltacore/calibration/internal/surface"
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

func setup(t *testing.T) *Collaborators {
	t.Helper()
	grid, err := geometry.Build(100, 5, geometry.Circle)
	require.NoError(t, err)

	motor := motionlink.NewSim()
	rawProbe := probedriver.NewSimProbe(motor, nil, 100, 1000)
	probe, err := probedriver.New(motor, rawProbe, flatConfig())
	require.NoError(t, err)

	arm := deltasim.New(250, 125)
	state := kinematics.New(arm, motor)
	require.NoError(t, state.Apply(kinematics.Settings{ArmLength: 250, DeltaRadius: 125, Initialized: true}))

	return &Collaborators{
		Grid:      grid,
		Motor:     motor,
		Probe:     probe,
		State:     state,
		Transform: surface.New(grid),
		Arm:       arm,
		Log:       NewLogger(&bytes.Buffer{}),
	}
}

func TestError_WrapAndKindOf(t *testing.T) {
	err := wrap(ProbeFailed, fmt.Errorf("boom"))
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, ProbeFailed, kind)
	assert.Contains(t, err.Error(), "PROBE_FAILED")

	_, ok = KindOf(fmt.Errorf("plain"))
	assert.False(t, ok)
}

func TestLogger_PrefixStackNestsAndUnwinds(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf)

	pop1 := l.Push("AA")
	l.Printf("one")
	pop2 := l.Push("BB")
	l.Printf("two")
	pop2()
	l.Printf("three")
	pop1()
	l.Printf("four")

	assert.Equal(t, "AAone\nAABBtwo\nAAthree\nfour\n", buf.String())
}

func TestRunRepeatability_ReturnsSamples(t *testing.T) {
	c := setup(t)
	var tracker repeatability.Tracker

	result, err := RunRepeatability(c, &tracker, repeatability.Config{Samples: 5})
	require.NoError(t, err)
	assert.Len(t, result.Samples, 5)
}

func TestRunProbeAndSave_RejectsNonzeroProbeOffset(t *testing.T) {
	grid, err := geometry.Build(100, 5, geometry.Circle)
	require.NoError(t, err)
	motor := motionlink.NewSim()
	rawProbe := probedriver.NewSimProbe(motor, nil, 100, 1000)
	cfg := flatConfig()
	cfg.Offset.X = 1
	probe, err := probedriver.New(motor, rawProbe, cfg)
	require.NoError(t, err)

	c := &Collaborators{Grid: grid, Motor: motor, Probe: probe, Transform: surface.New(grid), Log: NewLogger(&bytes.Buffer{})}
	err = RunProbeAndSave(c, true)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, ConfigInvalid, kind)
}

func TestRunIterative_ConvergesOnFlatBed(t *testing.T) {
	c := setup(t)
	result, err := RunIterative(c, false)
	require.NoError(t, err)
	assert.True(t, result.EndstopConverged)
	assert.True(t, result.RadiusConverged)
}

func TestSetSurfaceConfigAndEmitLine_RoundTrip(t *testing.T) {
	c := setup(t)

	a, b, cc := 1.0, 2.0, 3.0
	depthOn := true
	SetSurfaceConfig(c, SurfaceConfig{A: &a, B: &b, C: &cc, DepthEnabled: &depthOn})

	assert.True(t, c.Transform.PlaneEnabled())
	assert.True(t, c.Transform.DepthEnabled())

	var buf bytes.Buffer
	require.NoError(t, EmitSurfaceConfigLine(c.Transform, &buf))
	assert.Contains(t, buf.String(), "M667 A1.0000 B2.0000 C3.0000 D1 E1")
}
