// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package surface implements the Surface Transform (§4.3): a three-point
// tilt plane ("virtual shimming") plus an N×N bilinearly interpolated depth
// map, combined into a single Z correction applied in the motion hot path.
package surface

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/deltacore/calibration/internal/geometry"
)

// vector3 is the tiny internal 3-vector the tilt plane is built from. It is
// not a general-purpose linear-algebra type; it exists only to keep the
// plane-fit arithmetic in Transform readable, per the design's rejection of
// a generic vector library for three fixed, small computations.
type vector3 struct{ x, y, z float64 }

func sub(a, b vector3) vector3 { return vector3{a.x - b.x, a.y - b.y, a.z - b.z} }

func cross(a, b vector3) vector3 {
	return vector3{
		x: a.y*b.z - a.z*b.y,
		y: a.z*b.x - a.x*b.z,
		z: a.x*b.y - a.y*b.x,
	}
}

func dot(a, b vector3) float64 { return a.x*b.x + a.y*b.y + a.z*b.z }

func (v vector3) norm() float64 { return math.Sqrt(dot(v, v)) }

func (v vector3) unit() vector3 {
	n := v.norm()
	if n == 0 {
		return vector3{0, 0, 1}
	}
	return vector3{v.x / n, v.y / n, v.z / n}
}

// maxDepthMM bounds the values LoadDepthMap will accept; SaveDepthMap writes
// the stored values without checking them.
const maxDepthMM = 5.0

// Transform is the SurfaceTransform entity: a tilt plane over three
// tower-facing anchors and an N×N depth map, each independently enabled,
// combined under a master active flag.
type Transform struct {
	grid *geometry.Grid

	triXY       [3]geometry.Point2D // fixed anchor xy, from the grid's tower points
	triZ        [3]float64          // shim value at each anchor
	planeNormal vector3
	planeD      float64

	depthMap []float64 // len == N*N, cartesian depth relative to bed-center, mm

	planeEnabled bool
	depthEnabled bool
	active       bool
}

// New builds a Transform over grid, with the plane disabled (identity
// normal) and a zeroed depth map, matching the post-construction state
// described in §3.
func New(grid *geometry.Grid) *Transform {
	t := &Transform{
		grid:        grid,
		depthMap:    make([]float64, grid.N*grid.N),
		planeNormal: vector3{0, 0, 1},
		planeD:      0,
		active:      true,
	}
	t.triXY[0] = grid.Points[grid.TowerPoint(geometry.TowerX)].Coord
	t.triXY[1] = grid.Points[grid.TowerPoint(geometry.TowerY)].Coord
	t.triXY[2] = grid.Points[grid.TowerPoint(geometry.TowerZ)].Coord
	return t
}

// NewPlaneOnly builds a Transform for tilt-plane evaluation alone, given
// anchor points already resolved from a grid. It skips the depth-map
// allocation and the grid scan New does to find each tower's nearest
// point, for callers (the annealer's energy evaluation) that re-derive a
// plane from the same fixed anchors on every call.
func NewPlaneOnly(triXY [3]geometry.Point2D) *Transform {
	return &Transform{
		triXY:       triXY,
		planeNormal: vector3{0, 0, 1},
		active:      true,
	}
}

// SetActive sets the master enable flag.
func (t *Transform) SetActive(active bool) { t.active = active }

// Active reports the master enable flag.
func (t *Transform) Active() bool { return t.active }

// SetDepthEnabled toggles the depth-map term.
func (t *Transform) SetDepthEnabled(enabled bool) { t.depthEnabled = enabled }

// SetPlaneEnabled toggles the tilt-plane term directly, independent of
// SetVirtualShimming's zero-triplet heuristic (M667's explicit "D" flag).
func (t *Transform) SetPlaneEnabled(enabled bool) { t.planeEnabled = enabled }

// DepthEnabled reports whether the depth-map term is included.
func (t *Transform) DepthEnabled() bool { return t.depthEnabled }

// PlaneEnabled reports whether the tilt-plane term is included.
func (t *Transform) PlaneEnabled() bool { return t.planeEnabled }

// TriZ returns the three tri-point shim Z values currently configured
// (the last values passed to SetVirtualShimming, or zero before the first
// call), for M500/M503's "emit an M667 line" save-stream handler.
func (t *Transform) TriZ() (float64, float64, float64) {
	return t.triZ[0], t.triZ[1], t.triZ[2]
}

// SetVirtualShimming assigns the z-components of the three tri-points. If
// all three are zero it resets to the identity plane and disables it;
// otherwise it fits the plane through the three anchors and enables it.
func (t *Transform) SetVirtualShimming(sx, sy, sz float64) {
	t.triZ = [3]float64{sx, sy, sz}

	if sx == 0 && sy == 0 && sz == 0 {
		t.planeNormal = vector3{0, 0, 1}
		t.planeD = 0
		t.planeEnabled = false
		return
	}

	v1 := vector3{t.triXY[0].X, t.triXY[0].Y, sx}
	v2 := vector3{t.triXY[1].X, t.triXY[1].Y, sy}
	v3 := vector3{t.triXY[2].X, t.triXY[2].Y, sz}

	n := cross(sub(v1, v2), sub(v1, v3)).unit()
	t.planeNormal = n
	t.planeD = -dot(n, v1)
	t.planeEnabled = true
}

// GetAdjustZ returns the Z correction for (x,y): the plane-tilt term plus
// the bilinear depth-map term, each included only when its sub-flag and the
// master active flag both hold. Allocation-free.
func (t *Transform) GetAdjustZ(x, y float64) float64 {
	if !t.active {
		return 0
	}

	var dz float64
	if t.planeEnabled {
		dz += t.planeTilt(x, y)
	}
	if t.depthEnabled {
		dz += t.bilinear(x, y)
	}
	return dz
}

// PlaneTiltAt returns only the plane-tilt term at (x,y), gated by
// plane_enabled and the master active flag, with no depth-map contribution.
// The annealer's energy model uses this in isolation from the depth map,
// which is a separate additive correction over already-measured depths.
func (t *Transform) PlaneTiltAt(x, y float64) float64 {
	if !t.active || !t.planeEnabled {
		return 0
	}
	return t.planeTilt(x, y)
}

// planeTilt evaluates the plane equation n.x*x + n.y*y + n.z*z + d = 0 for
// z, per §4.3: Δz = (−n.x·x − n.y·y − d)/n.z.
func (t *Transform) planeTilt(x, y float64) float64 {
	n := t.planeNormal
	if n.z == 0 {
		return 0
	}
	return (-n.x*x - n.y*y - t.planeD) / n.z
}

// bilinear evaluates the depth map at (x,y) via bilinear interpolation over
// the four enclosing grid cells, per §4.3's exact formula. Inputs are
// clamped to ±probe_radius before the array-coordinate conversion.
func (t *Transform) bilinear(x, y float64) float64 {
	r := t.grid.ProbeRadius
	x = clamp(x, -r, r)
	y = clamp(y, -r, r)

	scale := t.grid.Scale()
	ax := (x + r) * scale
	ay := (-y + r) * scale

	n := t.grid.N
	x1 := int(math.Floor(ax))
	y1 := int(math.Floor(ay))
	x1 = clampInt(x1, 0, n-2)
	y1 = clampInt(y1, 0, n-2)
	x2 := x1 + 1
	y2 := y1 + 1

	q11 := t.depthMap[y1*n+x1]
	q21 := t.depthMap[y1*n+x2]
	q12 := t.depthMap[y2*n+x1]
	q22 := t.depthMap[y2*n+x2]

	fx2, fy2 := float64(x2), float64(y2)
	fx1, fy1 := float64(x1), float64(y1)

	return q11*(fx2-ax)*(fy2-ay) +
		q21*(ax-fx1)*(fy2-ay) +
		q12*(fx2-ax)*(ay-fy1) +
		q22*(ax-fx1)*(ay-fy1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// DepthAt returns the raw stored depth-map value at grid index i.
func (t *Transform) DepthAt(i int) float64 { return t.depthMap[i] }

// SetDepthAt stores a raw depth-map value at grid index i.
func (t *Transform) SetDepthAt(i int, v float64) { t.depthMap[i] = v }

// DepthMap returns the flat N*N depth buffer directly; callers must not
// retain it past the next mutation.
func (t *Transform) DepthMap() []float64 { return t.depthMap }

// LoadDepthMap reads a human-readable depth map: one float per line,
// comment lines prefixed ';', exactly N*N values expected. A value outside
// [-5,+5] mm aborts the load with an error (an IO_FAILED-class condition),
// leaving the current depth map unchanged.
func (t *Transform) LoadDepthMap(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("surface: open depth map: %w", err)
	}
	defer file.Close()

	want := t.grid.N * t.grid.N
	values := make([]float64, 0, want)

	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return fmt.Errorf("surface: depth map line %d: %w", lineNum, err)
		}
		if v < -maxDepthMM || v > maxDepthMM {
			return fmt.Errorf("surface: depth map line %d: value %v mm outside [-%v,+%v]", lineNum, v, maxDepthMM, maxDepthMM)
		}
		values = append(values, v)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("surface: read depth map: %w", err)
	}
	if len(values) != want {
		return fmt.Errorf("surface: depth map has %d values, want %d", len(values), want)
	}

	t.depthMap = values
	return nil
}

// SaveDepthMap writes the depth map in the same one-float-per-line format
// LoadDepthMap reads, with a header comment identifying the grid size.
func (t *Transform) SaveDepthMap(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("surface: create depth map: %w", err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	fmt.Fprintf(w, "; depth map, %dx%d grid, probe radius %g mm\n", t.grid.N, t.grid.N, t.grid.ProbeRadius)
	for _, v := range t.depthMap {
		fmt.Fprintf(w, "%.6f\n", v)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("surface: write depth map: %w", err)
	}
	return nil
}
