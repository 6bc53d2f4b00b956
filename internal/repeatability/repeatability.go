// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package repeatability implements the Probe Repeatability Tool (§4.8): it
// samples probe_at(0,0) repeatedly, optionally interleaved with moves near
// each tower to exercise mechanical slop, and reports range/mean/sigma
// statistics plus a repeatability metric in millimeters.
package repeatability

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/deltacore/calibration/internal/geometry"
	"github.com/deltacore/calibration/internal/probedriver"
)

const (
	defaultSamples = 10
	maxSamples     = 30
)

// Config bounds a single repeatability run.
type Config struct {
	Samples         int // [1,30], default 10 when zero
	InterleaveMoves bool
}

func (c Config) resolve() (int, error) {
	n := c.Samples
	if n == 0 {
		n = defaultSamples
	}
	if n < 1 || n > maxSamples {
		return 0, fmt.Errorf("repeatability: samples must be in [1,%d], got %d", maxSamples, n)
	}
	return n, nil
}

// p95Quantile is the percentile reported alongside mean/sigma, flagging a
// run with a long outlier tail even when sigma looks acceptable.
const p95Quantile = 0.95

// Result is one run's statistical summary.
type Result struct {
	Samples         []int // raw averaged step counts, one per sample
	MinSteps        int
	MaxSteps        int
	MeanSteps       float64
	StdDevSteps     float64
	P95Steps        float64
	RepeatabilityMM float64 // steps_to_mm(max - min)
}

// Tracker remembers the best (lowest-sigma) run observed across
// invocations, the process-wide state §4.8 describes.
type Tracker struct {
	hasBest bool
	best    Result
}

// Best reports the lowest-sigma run recorded so far, and whether any run
// has been recorded.
func (t *Tracker) Best() (Result, bool) { return t.best, t.hasBest }

// Run samples grid's center point via probe Samples times (optionally
// interleaving tower-near moves between samples), updates the tracker if
// this run's sigma is the new best, and returns the summary.
func (t *Tracker) Run(grid *geometry.Grid, probe *probedriver.Adapter, cfg Config) (Result, error) {
	n, err := cfg.resolve()
	if err != nil {
		return Result{}, err
	}

	towerPoints := [3]geometry.Point2D{
		grid.Points[grid.TowerPoint(geometry.TowerX)].Coord,
		grid.Points[grid.TowerPoint(geometry.TowerY)].Coord,
		grid.Points[grid.TowerPoint(geometry.TowerZ)].Coord,
	}

	samples := make([]int, n)
	for i := 0; i < n; i++ {
		if cfg.InterleaveMoves {
			p := towerPoints[i%3]
			if _, err := probe.ProbeAt(p.X, p.Y); err != nil {
				return Result{}, fmt.Errorf("repeatability: interleave move %d: %w", i, err)
			}
		}
		steps, err := probe.ProbeAt(0, 0)
		if err != nil {
			return Result{}, fmt.Errorf("repeatability: sample %d: %w", i, err)
		}
		samples[i] = steps
	}

	result := summarize(samples, probe)
	if !t.hasBest || result.StdDevSteps < t.best.StdDevSteps {
		t.best = result
		t.hasBest = true
	}
	return result, nil
}

func summarize(samples []int, probe *probedriver.Adapter) Result {
	floats := make([]float64, len(samples))
	min, max := samples[0], samples[0]
	for i, s := range samples {
		floats[i] = float64(s)
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	sorted := make([]float64, len(floats))
	copy(sorted, floats)
	sort.Float64s(sorted)

	mean := stat.Mean(floats, nil)
	sigma := stat.StdDev(floats, nil)
	p95 := stat.Quantile(p95Quantile, stat.Empirical, sorted, nil)

	return Result{
		Samples:         samples,
		MinSteps:        min,
		MaxSteps:        max,
		MeanSteps:       mean,
		StdDevSteps:     sigma,
		P95Steps:        p95,
		RepeatabilityMM: probe.StepsToMM(max - min),
	}
}
