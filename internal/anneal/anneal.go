// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package anneal implements the Simulated Annealer (§4.7): parallel
// coordinate-wise annealing with a binary-search optimum per scalar
// variable, a cooling schedule, and sliding-window stall detection. It
// operates entirely over the Energy Model's frozen axis-position buffer —
// no real probing happens during an annealing pass.
package anneal

import (
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/alitto/pond"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/deltacore/calibration/internal/energy"
	"github.com/deltacore/calibration/internal/geometry"
	"github.com/deltacore/calibration/internal/kinematics"
	"github.com/deltacore/calibration/internal/surface"
)

// log is the package-level leveled logger for the annealing loop, reported
// at debug level with iteration/energy/temp fields so callers can enable
// it only when tuning a stubborn configuration.
var log = logrus.New()

// Caltype identifies one of the five independent annealing switches.
type Caltype int

const (
	CaltypeEndstop Caltype = iota
	CaltypeDeltaRadius
	CaltypeArmLength
	CaltypeTowerAngle
	CaltypeVirtualShimming
	numCaltypes
)

// CaltypeSetting is one entry of CaltypeFlags: whether this caltype
// participates in the pass, and how strongly its temperature schedule
// scales the random step size.
type CaltypeSetting struct {
	Active  bool
	TempMul float64 // [0,50]
}

// CaltypeFlags is the five independent switches described in §3, each with
// its own annealing-temperature multiplier.
type CaltypeFlags [numCaltypes]CaltypeSetting

// Config bounds the annealer's schedule and search parameters, per §4.7.
type Config struct {
	Tries             int     // K ∈ [10, 1000]
	MaxTemp           float64 // T_max ∈ [0, 2]
	BinsearchWidth    float64 // w ∈ [0, 0.5]
	OverrunDivisor    float64 // d ∈ [0.5, 15]
	GlobalTargetMM    float64 // default 0.01
	PerVariableTarget float64 // default 0.005
	Caltypes          CaltypeFlags
	Workers           int // pond pool size; 0 means sequential (no pool)
}

func (c Config) validate() error {
	if c.Tries < 10 || c.Tries > 1000 {
		return fmt.Errorf("anneal: tries must be in [10,1000], got %d", c.Tries)
	}
	if c.MaxTemp < 0 || c.MaxTemp > 2 {
		return fmt.Errorf("anneal: max temp must be in [0,2], got %v", c.MaxTemp)
	}
	if c.BinsearchWidth < 0 || c.BinsearchWidth > 0.5 {
		return fmt.Errorf("anneal: binsearch width must be in [0,0.5], got %v", c.BinsearchWidth)
	}
	if c.OverrunDivisor < 0.5 || c.OverrunDivisor > 15 {
		return fmt.Errorf("anneal: overrun divisor must be in [0.5,15], got %v", c.OverrunDivisor)
	}
	for i, ct := range c.Caltypes {
		if ct.TempMul < 0 || ct.TempMul > 50 {
			return fmt.Errorf("anneal: caltype %d temp multiplier must be in [0,50], got %v", i, ct.TempMul)
		}
	}
	return nil
}

// knobs is the annealer's own mutable scalar-parameter snapshot. It never
// touches the live arm-solution directly; each trial applies it to a
// private clone (or, for trim/virtual-shimming, to the energy model's
// explicit trim/plane arguments, which are cheap to vary without a real
// re-probe).
type knobs struct {
	armLength         float64
	deltaRadius       float64
	trim              [3]float64
	towerRadiusOffset [3]float64
	towerAngleOffset  [3]float64
	towerArmOffset    [3]float64
	virtualShimming   [3]float64
}

func fromSettings(s kinematics.Settings) knobs {
	return knobs{
		armLength:         s.ArmLength,
		deltaRadius:       s.DeltaRadius,
		trim:              s.Trim,
		towerRadiusOffset: s.TowerRadiusOffset,
		towerAngleOffset:  s.TowerAngleOffset,
		towerArmOffset:    s.TowerArmOffset,
		virtualShimming:   s.VirtualShimming,
	}
}

func (k knobs) toSettings() kinematics.Settings {
	return kinematics.Settings{
		ArmLength:         k.armLength,
		DeltaRadius:       k.deltaRadius,
		Trim:              k.trim,
		TowerRadiusOffset: k.towerRadiusOffset,
		TowerAngleOffset:  k.towerAngleOffset,
		TowerArmOffset:    k.towerArmOffset,
		VirtualShimming:   k.virtualShimming,
		Initialized:       true,
	}
}

type varSpec struct {
	caltype   Caltype
	halfWidth float64
	get       func(*knobs) float64
	set       func(*knobs, float64)
}

var varSpecs = []varSpec{
	{CaltypeEndstop, 2, func(k *knobs) float64 { return k.trim[0] }, func(k *knobs, v float64) { k.trim[0] = v }},
	{CaltypeEndstop, 2, func(k *knobs) float64 { return k.trim[1] }, func(k *knobs, v float64) { k.trim[1] = v }},
	{CaltypeEndstop, 2, func(k *knobs) float64 { return k.trim[2] }, func(k *knobs, v float64) { k.trim[2] = v }},

	{CaltypeDeltaRadius, 5, func(k *knobs) float64 { return k.deltaRadius }, func(k *knobs, v float64) { k.deltaRadius = v }},
	{CaltypeDeltaRadius, 3, func(k *knobs) float64 { return k.towerRadiusOffset[0] }, func(k *knobs, v float64) { k.towerRadiusOffset[0] = v }},
	{CaltypeDeltaRadius, 3, func(k *knobs) float64 { return k.towerRadiusOffset[1] }, func(k *knobs, v float64) { k.towerRadiusOffset[1] = v }},
	{CaltypeDeltaRadius, 3, func(k *knobs) float64 { return k.towerRadiusOffset[2] }, func(k *knobs, v float64) { k.towerRadiusOffset[2] = v }},

	{CaltypeArmLength, 5, func(k *knobs) float64 { return k.armLength }, func(k *knobs, v float64) { k.armLength = v }},
	{CaltypeArmLength, 3, func(k *knobs) float64 { return k.towerArmOffset[0] }, func(k *knobs, v float64) { k.towerArmOffset[0] = v }},
	{CaltypeArmLength, 3, func(k *knobs) float64 { return k.towerArmOffset[1] }, func(k *knobs, v float64) { k.towerArmOffset[1] = v }},
	{CaltypeArmLength, 3, func(k *knobs) float64 { return k.towerArmOffset[2] }, func(k *knobs, v float64) { k.towerArmOffset[2] = v }},

	{CaltypeTowerAngle, 2, func(k *knobs) float64 { return k.towerAngleOffset[0] }, func(k *knobs, v float64) { k.towerAngleOffset[0] = v }},
	{CaltypeTowerAngle, 2, func(k *knobs) float64 { return k.towerAngleOffset[1] }, func(k *knobs, v float64) { k.towerAngleOffset[1] = v }},
	{CaltypeTowerAngle, 2, func(k *knobs) float64 { return k.towerAngleOffset[2] }, func(k *knobs, v float64) { k.towerAngleOffset[2] = v }},

	{CaltypeVirtualShimming, 2, func(k *knobs) float64 { return k.virtualShimming[0] }, func(k *knobs, v float64) { k.virtualShimming[0] = v }},
	{CaltypeVirtualShimming, 2, func(k *knobs) float64 { return k.virtualShimming[1] }, func(k *knobs, v float64) { k.virtualShimming[1] = v }},
	{CaltypeVirtualShimming, 2, func(k *knobs) float64 { return k.virtualShimming[2] }, func(k *knobs, v float64) { k.virtualShimming[2] = v }},
}

// Annealer runs the simulated-annealing pass over a frozen energy-model
// capture.
type Annealer struct {
	grid  *geometry.Grid
	axis  energy.AxisPositions
	cfg   Config
	pool  *pond.WorkerPool
	triXY [3]geometry.Point2D // tower anchors, resolved once rather than per evaluation

	// evalMu serializes evaluate's non-clone fallback path: concurrent pool
	// workers must not mutate a shared, non-cloneable arm-solution at once.
	evalMu sync.Mutex
}

// New constructs an Annealer bound to one frozen probing capture.
func New(grid *geometry.Grid, axis energy.AxisPositions, cfg Config) (*Annealer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	a := &Annealer{
		grid: grid,
		axis: axis,
		cfg:  cfg,
		triXY: [3]geometry.Point2D{
			grid.Points[grid.TowerPoint(geometry.TowerX)].Coord,
			grid.Points[grid.TowerPoint(geometry.TowerY)].Coord,
			grid.Points[grid.TowerPoint(geometry.TowerZ)].Coord,
		},
	}
	if cfg.Workers > 0 {
		a.pool = pond.New(cfg.Workers, 0, pond.MinWorkers(cfg.Workers))
	}
	return a, nil
}

// Stop releases the worker pool, if one was created.
func (a *Annealer) Stop() {
	if a.pool != nil {
		a.pool.StopAndWait()
	}
}

// Result reports how the annealing pass concluded.
type Result struct {
	Tries   int
	Energy  float64
	Stalled bool
	Settled bool // reached the global target
}

// Run executes up to cfg.Tries passes of coordinate-wise annealing against
// the given reference arm-solution, applying the final result to state.
// flush, if non-nil, is called once per try as the cooperative-yield hook.
func (a *Annealer) Run(baseArm kinematics.ArmSolution, state *kinematics.State, flush func()) (Result, error) {
	k := fromSettings(state.Snapshot())
	ranges := initialRanges(k)

	window := make([]float64, 0, 6)
	var result Result

	for try := 0; try < a.cfg.Tries; try++ {
		result.Tries = try + 1
		temp := math.Max(a.cfg.MaxTemp*(1-float64(try)/float64(a.cfg.Tries)), 0.01)

		active := activeIndices(a.cfg.Caltypes)
		next, err := a.annealPass(baseArm, k, ranges, active, temp)
		if err != nil {
			return result, fmt.Errorf("anneal: pass %d: %w", try, err)
		}
		k = next

		normalizeRadius(&k, a.cfg.Caltypes[CaltypeDeltaRadius].Active)
		normalizeArmLength(&k, a.cfg.Caltypes[CaltypeArmLength].Active)
		ranges = initialRanges(k)

		if flush != nil {
			flush()
		}

		if try%5 == 0 {
			e, err := a.evaluate(baseArm, k)
			if err != nil {
				return result, fmt.Errorf("anneal: energy check at try %d: %w", try, err)
			}
			result.Energy = e
			window = append(window, e)
			if len(window) > 6 {
				window = window[len(window)-6:]
			}
			log.WithFields(logrus.Fields{"iteration": try, "energy": e, "temp": temp}).Debug("anneal: pass evaluated")
			if len(window) == 6 && stat.StdDev(window, nil) < 0.01 {
				result.Stalled = true
				break
			}
			if e <= a.cfg.GlobalTargetMM {
				result.Settled = true
				break
			}
		}
	}

	finalEnergy, err := a.evaluate(baseArm, k)
	if err != nil {
		return result, fmt.Errorf("anneal: final energy: %w", err)
	}
	result.Energy = finalEnergy

	if err := state.Apply(k.toSettings()); err != nil {
		return result, fmt.Errorf("anneal: apply final settings: %w", err)
	}
	return result, nil
}

// activeIndices returns the varSpecs indices whose caltype is active.
func activeIndices(flags CaltypeFlags) []int {
	var out []int
	for i, spec := range varSpecs {
		if flags[spec.caltype].Active {
			out = append(out, i)
		}
	}
	return out
}

type rng struct {
	lo, hi float64
}

func initialRanges(k knobs) []rng {
	ranges := make([]rng, len(varSpecs))
	for i, spec := range varSpecs {
		v := spec.get(&k)
		ranges[i] = rng{v - spec.halfWidth, v + spec.halfWidth}
	}
	return ranges
}

// annealPass runs one K-iteration's worth of per-variable binary search
// and stochastic stepping, fanning the active variables' binary searches
// out over the worker pool (or running them sequentially when no pool was
// configured).
func (a *Annealer) annealPass(baseArm kinematics.ArmSolution, base knobs, ranges []rng, active []int, temp float64) (knobs, error) {
	type outcome struct {
		specIdx int
		value   float64
	}

	results := make([]outcome, len(active))
	var wg sync.WaitGroup
	var firstErr error
	var mu sync.Mutex

	submit := func(pos, i int) {
		defer wg.Done()
		spec := varSpecs[i]
		r := ranges[i]
		evalFn := func(value float64) (float64, error) {
			trial := base
			spec.set(&trial, value)
			return a.evaluate(baseArm, trial)
		}
		best, err := binarySearchOptimum(r.lo, r.hi, a.cfg.BinsearchWidth, a.cfg.PerVariableTarget, evalFn)
		if err != nil {
			mu.Lock()
			if firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
			return
		}

		current := spec.get(&base)
		step := rand.Float64()*temp*a.cfg.Caltypes[spec.caltype].TempMul + 0.001
		dir := 1.0
		if best < current {
			dir = -1
		}
		if step > math.Abs(best-current) {
			step /= a.cfg.OverrunDivisor
		}
		newValue := current + dir*step

		mu.Lock()
		results[pos] = outcome{specIdx: i, value: newValue}
		mu.Unlock()
	}

	for pos, i := range active {
		wg.Add(1)
		if a.pool != nil {
			pos, i := pos, i
			a.pool.Submit(func() { submit(pos, i) })
		} else {
			submit(pos, i)
		}
	}
	wg.Wait()

	if firstErr != nil {
		return base, firstErr
	}

	next := base
	for _, o := range results {
		varSpecs[o.specIdx].set(&next, o.value)
	}
	return next, nil
}

// evaluate applies the non-trim, non-shimming geometry of trial to a
// private clone of baseArm (or to baseArm itself if it cannot be cloned,
// serializing this one trial) and computes energy via the frozen axis
// positions, subtracting the trial's candidate trim and plane-tilt term —
// the cheap substitute for a real re-probe.
func (a *Annealer) evaluate(baseArm kinematics.ArmSolution, trial knobs) (float64, error) {
	arm := baseArm
	cloner, cloneable := baseArm.(kinematics.ArmCloner)
	if cloneable {
		arm = cloner.Clone()
	} else {
		// No private clone available: pool workers would otherwise mutate
		// baseArm concurrently, so this one trial runs fully serialized.
		a.evalMu.Lock()
		defer a.evalMu.Unlock()
	}

	if err := arm.SetArmLength(trial.armLength); err != nil {
		return 0, err
	}
	if err := arm.SetDeltaRadius(trial.deltaRadius); err != nil {
		return 0, err
	}
	if err := arm.SetTowerRadiusOffset(trial.towerRadiusOffset); err != nil {
		return 0, err
	}
	if err := arm.SetTowerAngleOffset(trial.towerAngleOffset); err != nil {
		return 0, err
	}
	if err := arm.SetTowerArmOffset(trial.towerArmOffset); err != nil {
		return 0, err
	}

	plane := surface.NewPlaneOnly(a.triXY)
	plane.SetVirtualShimming(trial.virtualShimming[0], trial.virtualShimming[1], trial.virtualShimming[2])

	return energy.SimulateFKAndComputeEnergy(a.grid, a.axis, trial.trim, plane.PlaneTiltAt, arm)
}

// binarySearchOptimum brackets the value in [min,max] minimizing evalFn, up
// to 250 halving rounds, shrinking the losing side by w*(max-min) each
// round, terminating early once the bracket shrinks to target.
func binarySearchOptimum(min, max, w, target float64, evalFn func(float64) (float64, error)) (float64, error) {
	const maxRounds = 250
	for round := 0; round < maxRounds; round++ {
		if max-min <= target {
			break
		}
		eMin, err := evalFn(min)
		if err != nil {
			return 0, err
		}
		eMax, err := evalFn(max)
		if err != nil {
			return 0, err
		}
		width := max - min
		if eMin <= eMax {
			max -= w * width
		} else {
			min += w * width
		}
	}
	return (min + max) / 2, nil
}

// normalizeRadius finds the tower_radius_offset entry closest to zero,
// subtracts it from all three, and folds it into delta_radius.
func normalizeRadius(k *knobs, active bool) {
	if !active {
		return
	}
	closest := closestToZero(k.towerRadiusOffset)
	for i := range k.towerRadiusOffset {
		k.towerRadiusOffset[i] -= closest
	}
	k.deltaRadius += closest
}

// normalizeArmLength is the symmetric counterpart for tower_arm_offset vs
// arm_length (enabled per the open question's resolution — see DESIGN.md).
func normalizeArmLength(k *knobs, active bool) {
	if !active {
		return
	}
	closest := closestToZero(k.towerArmOffset)
	for i := range k.towerArmOffset {
		k.towerArmOffset[i] -= closest
	}
	k.armLength += closest
}

func closestToZero(v [3]float64) float64 {
	best := v[0]
	for _, x := range v[1:] {
		if math.Abs(x) < math.Abs(best) {
			best = x
		}
	}
	return best
}
