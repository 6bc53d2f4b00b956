// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package surface

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/deltacore/calibration/internal/geometry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGrid(t *testing.T) *geometry.Grid {
	t.Helper()
	g, err := geometry.Build(100, 5, geometry.Circle)
	require.NoError(t, err)
	return g
}

func TestNew_IdentityPlaneAndZeroDepth(t *testing.T) {
	tr := New(testGrid(t))
	assert.True(t, tr.Active())
	assert.False(t, tr.PlaneEnabled())
	assert.False(t, tr.DepthEnabled())
	assert.Equal(t, 0.0, tr.GetAdjustZ(10, 10))
}

func TestSetVirtualShimming_ZeroResetsPlane(t *testing.T) {
	tr := New(testGrid(t))
	tr.SetVirtualShimming(1, 2, 3)
	assert.True(t, tr.PlaneEnabled())

	tr.SetVirtualShimming(0, 0, 0)
	assert.False(t, tr.PlaneEnabled())
	assert.Equal(t, 0.0, tr.GetAdjustZ(50, 50))
}

func TestGetAdjustZ_PlaneOnlyAppliesWhenEnabledAndActive(t *testing.T) {
	tr := New(testGrid(t))
	tr.SetVirtualShimming(1, 1, 1)
	require.True(t, tr.PlaneEnabled())

	z := tr.GetAdjustZ(0, 0)
	assert.InDelta(t, 1.0, z, 1e-6)

	tr.SetActive(false)
	assert.Equal(t, 0.0, tr.GetAdjustZ(0, 0))
}

// Literal Scenario 3: a linear depth field z = x*0.01 sampled onto the grid
// must bilinearly interpolate to ~0.5 at (50,0) and ~0 at (0,50).
func TestGetAdjustZ_BilinearLinearField(t *testing.T) {
	g := testGrid(t)
	tr := New(g)
	tr.SetDepthEnabled(true)

	for i, gp := range g.Points {
		tr.SetDepthAt(i, gp.Coord.X*0.01)
	}

	assert.InDelta(t, 0.5, tr.GetAdjustZ(50, 0), 1e-6)
	assert.InDelta(t, 0.0, tr.GetAdjustZ(0, 50), 1e-6)
}

func TestGetAdjustZ_BilinearExactAtGridCorners(t *testing.T) {
	g := testGrid(t)
	tr := New(g)
	tr.SetDepthEnabled(true)

	for i := range g.Points {
		tr.SetDepthAt(i, float64(i)*0.1)
	}

	for i, gp := range g.Points {
		want := float64(i) * 0.1
		got := tr.GetAdjustZ(gp.Coord.X, gp.Coord.Y)
		assert.InDelta(t, want, got, 1e-6, "grid point %d", i)
	}
}

func TestGetAdjustZ_ClampsOutOfRadiusInputs(t *testing.T) {
	g := testGrid(t)
	tr := New(g)
	tr.SetDepthEnabled(true)
	for i, gp := range g.Points {
		tr.SetDepthAt(i, gp.Coord.X*0.01)
	}

	atEdge := tr.GetAdjustZ(100, 0)
	beyond := tr.GetAdjustZ(500, 0)
	assert.InDelta(t, atEdge, beyond, 1e-9)
}

func TestDepthMap_SaveLoadRoundTrip(t *testing.T) {
	g := testGrid(t)
	tr := New(g)
	for i := range g.Points {
		tr.SetDepthAt(i, float64(i%7)*0.01-0.03)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "depth.txt")
	require.NoError(t, tr.SaveDepthMap(path))

	loaded := New(g)
	require.NoError(t, loaded.LoadDepthMap(path))

	for i := range g.Points {
		assert.InDelta(t, tr.DepthAt(i), loaded.DepthAt(i), 1e-6)
	}
}

func TestLoadDepthMap_RejectsOutOfRangeValues(t *testing.T) {
	g := testGrid(t)
	tr := New(g)

	dir := t.TempDir()
	path := filepath.Join(dir, "bad.txt")
	content := "; bad depth map\n"
	for i := 0; i < g.N*g.N; i++ {
		content += "0.0\n"
	}
	content += "10.0\n" // one value beyond the N*N the reader expects, and out of range
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	err := tr.LoadDepthMap(path)
	assert.Error(t, err)
}

func TestLoadDepthMap_RejectsWrongCount(t *testing.T) {
	g := testGrid(t)
	tr := New(g)

	dir := t.TempDir()
	path := filepath.Join(dir, "short.txt")
	require.NoError(t, os.WriteFile(path, []byte("0.1\n0.2\n"), 0o644))

	err := tr.LoadDepthMap(path)
	assert.Error(t, err)
}
