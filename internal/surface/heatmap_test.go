// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package surface

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deltacore/calibration/internal/geometry"
)

func TestRenderHeatmap_WritesNonEmptyPNG(t *testing.T) {
	grid, err := geometry.Build(100, 5, geometry.Circle)
	require.NoError(t, err)

	tr := New(grid)
	for i := range tr.depthMap {
		tr.depthMap[i] = float64(i%3) * 0.1
	}

	path := filepath.Join(t.TempDir(), "heatmap.png")
	require.NoError(t, tr.RenderHeatmap(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}
