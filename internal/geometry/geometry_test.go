// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_RejectsEvenOrSmallN(t *testing.T) {
	_, err := Build(100, 4, Circle)
	assert.Error(t, err)

	_, err = Build(100, 1, Circle)
	assert.Error(t, err)
}

func TestBuild_5x5CircleScenario(t *testing.T) {
	g, err := Build(100, 5, Circle)
	require.NoError(t, err)
	require.Len(t, g.Points, 25)

	assert.Equal(t, Center, g.Points[12].Classification, "center point must be index 12")

	for _, idx := range []int{0, 4, 20, 24} {
		assert.Equal(t, Inactive, g.Points[idx].Classification, "corner %d must be INACTIVE", idx)
	}

	for _, idx := range []int{2, 10, 14, 22} {
		assert.Equal(t, Active, g.Points[idx].Classification, "on-radius cardinal point %d must be ACTIVE", idx)
	}

	for _, idx := range []int{5, 9, 15, 19} {
		assert.Equal(t, ActiveNeighbor, g.Points[idx].Classification, "edge point %d must be ACTIVE_NEIGHBOR", idx)
	}

	for _, idx := range []int{1, 3, 21, 23} {
		assert.Equal(t, Inactive, g.Points[idx].Classification, "boundary-row point %d must be INACTIVE", idx)
	}
}

func TestBuild_SquareShapeAllActive(t *testing.T) {
	g, err := Build(100, 5, Square)
	require.NoError(t, err)
	activeOrCenter := 0
	for _, gp := range g.Points {
		if gp.Classification == Active || gp.Classification == Center {
			activeOrCenter++
		}
	}
	assert.Equal(t, 25, activeOrCenter)
}

func TestBuild_ExactlyOneCenter(t *testing.T) {
	g, err := Build(100, 5, Circle)
	require.NoError(t, err)
	count := 0
	for _, gp := range g.Points {
		if gp.Classification == Center {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestTowerPoint_ReturnsDistinctIndices(t *testing.T) {
	g, err := Build(100, 5, Circle)
	require.NoError(t, err)

	x := g.TowerPoint(TowerX)
	y := g.TowerPoint(TowerY)
	z := g.TowerPoint(TowerZ)

	assert.NotEqual(t, x, y)
	assert.NotEqual(t, y, z)
	assert.NotEqual(t, x, z)
}

func TestNearestIndex_ExcludesInactiveAndNeighbor(t *testing.T) {
	g, err := Build(100, 5, Circle)
	require.NoError(t, err)

	idx := g.NearestIndex(Point2D{X: -95, Y: 95}) // near an INACTIVE corner
	assert.NotEqual(t, Inactive, g.Points[idx].Classification)
	assert.NotEqual(t, ActiveNeighbor, g.Points[idx].Classification)
}
