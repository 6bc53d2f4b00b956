// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package surface

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// depthGrid adapts the flat N*N depth buffer to plotter.GridXYZ so the
// saved depth map can be rendered the same way gridplotter.go renders its
// azimuth-ring data: plot.New, Add, Save.
type depthGrid struct {
	t *Transform
}

func (g depthGrid) Dims() (c, r int) { return g.t.grid.N, g.t.grid.N }

func (g depthGrid) Z(c, r int) float64 {
	return g.t.depthMap[r*g.t.grid.N+c]
}

func (g depthGrid) X(c int) float64 {
	return g.t.grid.Points[c].Coord.X
}

func (g depthGrid) Y(r int) float64 {
	n := g.t.grid.N
	return g.t.grid.Points[r*n].Coord.Y
}

func minMax(v []float64) (min, max float64) {
	min, max = v[0], v[0]
	for _, x := range v {
		min = math.Min(min, x)
		max = math.Max(max, x)
	}
	return min, max
}

// RenderHeatmap saves a PNG visualization of the depth map, a sanity check
// operators can glance at after a G31 A probing pass before trusting the
// numbers in the motion hot path.
func (t *Transform) RenderHeatmap(path string) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("depth map (%dx%d grid, r=%.1fmm)", t.grid.N, t.grid.N, t.grid.ProbeRadius)
	p.X.Label.Text = "X (mm)"
	p.Y.Label.Text = "Y (mm)"

	minV, maxV := minMax(t.depthMap)
	if minV == maxV {
		maxV = minV + 1e-9 // a degenerate, perfectly flat map would leave moreland's scale empty
	}
	cm := moreland.SmoothBlueRed()
	cm.SetMin(minV)
	cm.SetMax(maxV)
	heatmap := plotter.NewHeatMap(depthGrid{t: t}, cm.Palette(256))
	p.Add(heatmap)

	if err := p.Save(8*vg.Inch, 8*vg.Inch, path); err != nil {
		return fmt.Errorf("surface: render heatmap: %w", err)
	}
	return overlayMinMaxLabels(path, t.depthMap)
}

// overlayMinMaxLabels reopens the saved heatmap PNG and draws the min/max
// depth values into its corner, the same font.Drawer + basicfont.Face7x13
// text-onto-raster technique the teacher's display.go uses for its OLED
// readouts, here labeling a saved PNG instead of driving a live display.
func overlayMinMaxLabels(path string, depthMap []float64) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("surface: reopen heatmap: %w", err)
	}
	img, err := png.Decode(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("surface: decode heatmap: %w", err)
	}

	rgba, ok := img.(*image.RGBA)
	if !ok {
		b := img.Bounds()
		converted := image.NewRGBA(b)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				converted.Set(x, y, img.At(x, y))
			}
		}
		rgba = converted
	}

	minV, maxV := minMax(depthMap)

	drawer := &font.Drawer{
		Dst:  rgba,
		Src:  image.NewUniform(color.Black),
		Face: basicfont.Face7x13,
	}
	drawer.Dot = fixed.P(8, 16)
	drawer.DrawString(fmt.Sprintf("min=%.3f max=%.3f mm", minV, maxV))

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("surface: rewrite heatmap: %w", err)
	}
	defer out.Close()
	if err := png.Encode(out, rgba); err != nil {
		return fmt.Errorf("surface: encode labeled heatmap: %w", err)
	}
	return nil
}
