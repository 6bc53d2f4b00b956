// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package geometry builds the fixed probe grid shared by depth-map probing
// and the annealer's energy model, and the canonical Point2D/Point3D types
// used throughout the calibration core.
package geometry

import (
	"fmt"
	"math"

	"github.com/samber/lo"
)

// Point2D is a Cartesian coordinate in millimeters on the bed plane.
type Point2D struct {
	X, Y float64
}

// Point3D is a Cartesian coordinate in millimeters.
type Point3D struct {
	X, Y, Z float64
}

// Classification is the role of a GridPoint within the probe grid.
type Classification int

const (
	Inactive Classification = iota
	Active
	ActiveNeighbor
	Center
)

func (c Classification) String() string {
	switch c {
	case Active:
		return "ACTIVE"
	case ActiveNeighbor:
		return "ACTIVE_NEIGHBOR"
	case Center:
		return "CENTER"
	default:
		return "INACTIVE"
	}
}

// Shape selects how the outer boundary of the probe grid is classified.
type Shape int

const (
	Circle Shape = iota
	Square
)

// GridPoint is one candidate probe location and its fixed classification.
type GridPoint struct {
	Coord          Point2D
	Classification Classification
}

// Tower identifies one of the three linear-delta towers.
type Tower int

const (
	TowerX Tower = iota
	TowerY
	TowerZ
)

// Grid is the fixed N×N arrangement of candidate probe points, row-major,
// y descending from +ProbeRadius to -ProbeRadius, x ascending. Immutable
// once built.
type Grid struct {
	N           int
	ProbeRadius float64
	Shape       Shape
	Points      []GridPoint // len == N*N
	centerIdx   int
	scale       float64 // (N-1) / (2*ProbeRadius), for bilinear array-coordinate lookups
}

// Build constructs the grid and assigns every point's classification.
// N must be an odd integer >= 3.
func Build(probeRadius float64, n int, shape Shape) (*Grid, error) {
	if n < 3 || n%2 == 0 {
		return nil, fmt.Errorf("geometry: grid size N must be odd and >= 3, got %d", n)
	}
	if probeRadius <= 0 {
		return nil, fmt.Errorf("geometry: probe radius must be positive, got %v", probeRadius)
	}

	g := &Grid{
		N:           n,
		ProbeRadius: probeRadius,
		Shape:       shape,
		Points:      make([]GridPoint, n*n),
		scale:       float64(n-1) / (2 * probeRadius),
	}

	step := 2 * probeRadius / float64(n-1)
	mid := (n - 1) / 2

	for row := 0; row < n; row++ {
		y := probeRadius - float64(row)*step
		for col := 0; col < n; col++ {
			x := -probeRadius + float64(col)*step
			idx := row*n + col
			g.Points[idx] = GridPoint{
				Coord:          Point2D{X: x, Y: y},
				Classification: g.classify(shape, row, col, mid, x, y, probeRadius),
			}
		}
	}

	g.centerIdx = g.nearestRaw(Point2D{X: 0, Y: 0})
	g.Points[g.centerIdx].Classification = Center

	return g, nil
}

func (g *Grid) classify(shape Shape, row, col, mid int, x, y, radius float64) Classification {
	if shape == Square {
		return Active
	}

	dist := math.Hypot(x, y)
	if dist <= radius {
		return Active
	}

	onBoundaryRow := row == 0 || row == g.N-1
	onYAxis := col == mid
	extendedRadius := radius * (1 + 1/(float64(g.N-1)/2))
	if dist <= extendedRadius && !onBoundaryRow && !onYAxis {
		return ActiveNeighbor
	}
	return Inactive
}

// Scale is the precomputed cartesian->array factor (N-1)/(2*ProbeRadius)
// used for bilinear interpolation.
func (g *Grid) Scale() float64 { return g.scale }

// CenterIndex returns the grid index reclassified as CENTER.
func (g *Grid) CenterIndex() int { return g.centerIdx }

// TowerPoint returns the grid index nearest the canonical tower-facing
// probe location for the given tower.
func (g *Grid) TowerPoint(t Tower) int {
	r := g.ProbeRadius
	const cos30 = 0.8660254037844387
	const sin30 = 0.5
	var p Point2D
	switch t {
	case TowerX:
		p = Point2D{X: -cos30 * r, Y: -sin30 * r}
	case TowerY:
		p = Point2D{X: cos30 * r, Y: -sin30 * r}
	case TowerZ:
		p = Point2D{X: 0, Y: r}
	}
	return g.nearestRaw(p)
}

// NearestIndex linear-scans for the nearest ACTIVE or CENTER point to p.
func (g *Grid) NearestIndex(p Point2D) int {
	best := -1
	bestDist := math.MaxFloat64
	for i, gp := range g.Points {
		if gp.Classification != Active && gp.Classification != Center {
			continue
		}
		d := math.Hypot(gp.Coord.X-p.X, gp.Coord.Y-p.Y)
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	return best
}

// nearestRaw scans every point regardless of classification; used during
// Build before classifications are final (e.g. locating the center point).
func (g *Grid) nearestRaw(p Point2D) int {
	best := 0
	bestDist := math.MaxFloat64
	for i, gp := range g.Points {
		d := math.Hypot(gp.Coord.X-p.X, gp.Coord.Y-p.Y)
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	return best
}

// ActiveIndices returns the indices of every ACTIVE (non-CENTER, non-neighbor) point.
func (g *Grid) ActiveIndices() []int {
	return lo.FilterMap(g.Points, func(gp GridPoint, i int) (int, bool) {
		return i, gp.Classification == Active
	})
}

// ActiveNeighborIndices returns the indices of every ACTIVE_NEIGHBOR point.
func (g *Grid) ActiveNeighborIndices() []int {
	return lo.FilterMap(g.Points, func(gp GridPoint, i int) (int, bool) {
		return i, gp.Classification == ActiveNeighbor
	})
}
