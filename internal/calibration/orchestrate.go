// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package calibration wires the leaf components (geometry, probedriver,
// kinematics, surface, depthmap, iterative, energy, anneal,
// repeatability) into the external-interface entry points §6 names:
// G29/G31/G32/M665/M666/M667/M500/M503. This is the only package that
// knows about all of them at once; everything below it stays leaf-level
// and collaborator-agnostic.
package calibration

import (
	"fmt"
	"io"
	"sync"

	"github.com/deltacore/calibration/internal/anneal"
	"github.com/deltacore/calibration/internal/depthmap"
	"github.com/deltacore/calibration/internal/energy"
	"github.com/deltacore/calibration/internal/geometry"
	"github.com/deltacore/calibration/internal/iterative"
	"github.com/deltacore/calibration/internal/kinematics"
	"github.com/deltacore/calibration/internal/motionlink"
	"github.com/deltacore/calibration/internal/probedriver"
	"github.com/deltacore/calibration/internal/repeatability"
	"github.com/deltacore/calibration/internal/surface"
	"github.com/deltacore/calibration/internal/telemetry"
)

// DepthMapPath is the SD path §6 names for the saved depth map, used
// whenever Collaborators.DepthMapPath is left unset.
const DepthMapPath = "/sd/dm_surface_transform"

// Collaborators bundles every component one calibration session needs.
// The G-code dispatcher, config loader, persistent-settings store, and SD
// filesystem remain out of scope (spec.md §1); this package only ever
// touches the core leaf components plus an io.Writer for the save stream.
type Collaborators struct {
	Grid      *geometry.Grid
	Motor     motionlink.MotionController
	Probe     *probedriver.Adapter
	State     *kinematics.State
	Transform *surface.Transform
	Arm       kinematics.ArmSolution
	Log       *Logger

	// Telemetry, if non-nil, receives a progress line per phase. Optional:
	// a bench run with no MQTT broker configured leaves this nil.
	Telemetry *telemetry.Publisher

	// DepthMapPath overrides the package-level default save path (DEPTH_MAP_PATH
	// in config). Empty means use DepthMapPath.
	DepthMapPath string

	// runMu serializes phase execution against the one physical printer
	// these collaborators drive. Multiple websocket sessions may share a
	// single Collaborators; only one may run a calibration phase at a time.
	runMu sync.Mutex
}

// Lock/Unlock expose runMu to callers (e.g. a websocket session handler)
// that must serialize a whole phase's worth of Run* calls against any other
// concurrent caller sharing these Collaborators.
func (c *Collaborators) Lock()   { c.runMu.Lock() }
func (c *Collaborators) Unlock() { c.runMu.Unlock() }

// depthMapPath returns c.DepthMapPath if set, otherwise the package default.
func depthMapPath(c *Collaborators) string {
	if c.DepthMapPath != "" {
		return c.DepthMapPath
	}
	return DepthMapPath
}

// publishProgress is a no-op when c.Telemetry is nil, so every call site
// stays telemetry-agnostic.
func publishProgress(c *Collaborators, phase, step string, percent, energy float64, message string) {
	if c.Telemetry == nil {
		return
	}
	c.Telemetry.PublishProgress(telemetry.Progress{Phase: phase, Step: step, Percent: percent, Energy: energy, Message: message})
}

// RunRepeatability is G29: N samples of probe_at(0,0), optionally
// interleaved with tower-near moves.
func RunRepeatability(c *Collaborators, tracker *repeatability.Tracker, cfg repeatability.Config) (repeatability.Result, error) {
	pop := c.Log.Push("RT")
	defer pop()
	c.Log.Printf("repeatability: %d samples", cfg.Samples)

	result, err := tracker.Run(c.Grid, c.Probe, cfg)
	if err != nil {
		return result, wrap(ProbeFailed, err)
	}
	c.Log.Printf("sigma=%.4f steps repeatability=%.4fmm", result.StdDevSteps, result.RepeatabilityMM)
	publishProgress(c, "repeatability", "complete", 100, 0, fmt.Sprintf("repeatability=%.4fmm", result.RepeatabilityMM))
	return result, nil
}

// RunProbeAndSave is "G31 A": probes the full grid, saves the depth map to
// DepthMapPath, and enables depth correction. Fails with a CONFIG_INVALID
// error if the probe has nonzero X/Y offsets, since a shifted probe
// invalidates the grid's fixed tower-anchor geometry.
func RunProbeAndSave(c *Collaborators, extrapolateNeighbors bool) error {
	pop := c.Log.Push("DA")
	defer pop()

	offset := c.Probe.Config().Offset
	if offset.X != 0 || offset.Y != 0 {
		return wrap(ConfigInvalid, fmt.Errorf("depth-map probing requires zero probe X/Y offset, got (%v,%v)", offset.X, offset.Y))
	}

	path := depthMapPath(c)
	c.Transform.SetDepthEnabled(false)
	if err := depthmap.ProbeSurface(c.Motor, c.Probe, c.Grid, c.Transform, extrapolateNeighbors); err != nil {
		return wrap(ProbeFailed, err)
	}
	if err := c.Transform.SaveDepthMap(path); err != nil {
		return wrap(IOFailed, err)
	}
	c.Transform.SetDepthEnabled(true)
	c.Transform.SetActive(true)
	c.Log.Printf("depth map saved to %s", path)
	publishProgress(c, "depthmap", "complete", 100, 0, "depth map saved to "+path)
	return nil
}

// RunProbeAndDisplay is "G31 Z": probes the full grid into a scratch
// transform for display, without saving or enabling depth correction.
func RunProbeAndDisplay(c *Collaborators, extrapolateNeighbors bool) (*surface.Transform, error) {
	pop := c.Log.Push("DZ")
	defer pop()

	scratch := surface.New(c.Grid)
	scratch.SetDepthEnabled(false)
	scratch.SetActive(false)
	if err := depthmap.ProbeSurface(c.Motor, c.Probe, c.Grid, scratch, extrapolateNeighbors); err != nil {
		return nil, wrap(ProbeFailed, err)
	}
	c.Log.Printf("depth map probed for display only")
	return scratch, nil
}

// RunIterative is G32: classical endstop+radius convergence.
func RunIterative(c *Collaborators, keepTrimOffsets bool) (iterative.Result, error) {
	pop := c.Log.Push("IT")
	defer pop()

	if !keepTrimOffsets {
		if err := c.State.SetTrim([3]float64{0, 0, 0}); err != nil {
			return iterative.Result{}, wrap(GeometryOutOfRange, err)
		}
	}

	result, err := iterative.Run(c.Grid, c.Probe, c.State)
	if err != nil {
		if _, ok := KindOf(err); !ok {
			err = wrap(GeometryOutOfRange, err)
		}
		return result, err
	}
	if result.EndstopConverged && result.RadiusConverged {
		c.State.ClearGeometryDirty()
	}
	c.Log.Printf("iterative: %d iterations, endstop=%v radius=%v", result.Iterations, result.EndstopConverged, result.RadiusConverged)
	publishProgress(c, "iterative", "complete", 100, 0, fmt.Sprintf("iterations=%d", result.Iterations))
	return result, nil
}

// HeuristicOptions is the parsed form of "G31 [K] [L] [O m] [P m] [Q m]
// [R m] [S m] [T n] [U f] [V f] [W f] [Y]". The G-code dispatcher (out of
// scope) maps letters O/P/Q/R/S to anneal.Caltype entries before calling
// in; this package only consumes the already-parsed flags.
type HeuristicOptions struct {
	Caltypes         anneal.CaltypeFlags
	KeepKinematics   bool // K: no observable effect beyond the default (see DESIGN.md)
	SimulateOnly     bool // L: run against a scratch state, never touching the real one
	ZeroOffsetsFirst bool // Y: zero tower/virtual-shimming offsets before annealing
	Tries            int
	MaxTemp          float64
	BinsearchWidth   float64
	OverrunDivisor   float64
	Workers          int
}

// RunHeuristic is the annealing form of G31: captures axis positions from
// the given measuredDepths (it does not probe; callers pass a depth map
// they have already probed or loaded) and runs the Simulated Annealer.
// With SimulateOnly set, the run targets a cloned arm and scratch state.
func RunHeuristic(c *Collaborators, opts HeuristicOptions, measuredDepths []float64) (anneal.Result, error) {
	pop := c.Log.Push("HA")
	defer pop()

	targetState := c.State
	targetArm := c.Arm
	if opts.SimulateOnly {
		cloner, ok := c.Arm.(kinematics.ArmCloner)
		if !ok {
			return anneal.Result{}, wrap(ConfigInvalid, fmt.Errorf("arm-solution does not support cloning, cannot simulate-only"))
		}
		targetArm = cloner.Clone()
		targetState = kinematics.New(targetArm, nil)
		if err := targetState.Apply(c.State.Snapshot()); err != nil {
			return anneal.Result{}, wrap(Uninitialized, err)
		}
	}

	if opts.ZeroOffsetsFirst {
		next := targetState.Snapshot()
		next.TowerRadiusOffset = [3]float64{}
		next.TowerAngleOffset = [3]float64{}
		next.TowerArmOffset = [3]float64{}
		next.VirtualShimming = [3]float64{}
		next.Initialized = true
		if err := targetState.Apply(next); err != nil {
			return anneal.Result{}, wrap(Uninitialized, err)
		}
	}

	axis, err := energy.SimulateIK(c.Grid, measuredDepths, [3]float64{}, nil, targetArm)
	if err != nil {
		return anneal.Result{}, wrap(AllocationFailed, err)
	}

	cfg := anneal.Config{
		Tries:             opts.Tries,
		MaxTemp:           opts.MaxTemp,
		BinsearchWidth:    opts.BinsearchWidth,
		OverrunDivisor:    opts.OverrunDivisor,
		GlobalTargetMM:    0.01,
		PerVariableTarget: 0.005,
		Caltypes:          opts.Caltypes,
		Workers:           opts.Workers,
	}
	annealer, err := anneal.New(c.Grid, axis, cfg)
	if err != nil {
		return anneal.Result{}, wrap(ConfigInvalid, err)
	}
	defer annealer.Stop()

	flush := func() {
		c.Log.Printf(".")
		publishProgress(c, "anneal", "try", 0, 0, "")
	}
	result, err := annealer.Run(targetArm, targetState, flush)
	if err != nil {
		if result.Stalled {
			return result, wrap(Stall, err)
		}
		return result, wrap(GeometryOutOfRange, err)
	}
	c.Log.Printf("anneal: tries=%d energy=%.4f stalled=%v settled=%v", result.Tries, result.Energy, result.Stalled, result.Settled)
	publishProgress(c, "anneal", "complete", 100, result.Energy, fmt.Sprintf("tries=%d stalled=%v settled=%v", result.Tries, result.Stalled, result.Settled))
	return result, nil
}

// MarkGeometryDirty backs M665/M666: every geometry-affecting write the
// G-code dispatcher applies directly to the arm-solution marks geometry
// dirty so the next motion re-seats and a subsequent G32 is required
// before the dirty flag clears.
func MarkGeometryDirty(c *Collaborators) {
	c.State.MarkGeometryDirty()
}

// SurfaceConfig is the parsed form of "M667 [A f] [B f] [C f] [D 0|1]
// [E 0|1] [Z 0|1]". A nil field means that letter was absent from the
// command and its current value is left untouched.
type SurfaceConfig struct {
	A, B, C      *float64
	PlaneEnabled *bool
	DepthEnabled *bool
	Active       *bool
}

// SetSurfaceConfig applies M667.
func SetSurfaceConfig(c *Collaborators, cfg SurfaceConfig) {
	pop := c.Log.Push("SC")
	defer pop()

	if cfg.A != nil || cfg.B != nil || cfg.C != nil {
		a, b, cc := c.Transform.TriZ()
		if cfg.A != nil {
			a = *cfg.A
		}
		if cfg.B != nil {
			b = *cfg.B
		}
		if cfg.C != nil {
			cc = *cfg.C
		}
		c.Transform.SetVirtualShimming(a, b, cc)
	}
	if cfg.PlaneEnabled != nil {
		c.Transform.SetPlaneEnabled(*cfg.PlaneEnabled)
	}
	if cfg.DepthEnabled != nil {
		c.Transform.SetDepthEnabled(*cfg.DepthEnabled)
	}
	if cfg.Active != nil {
		c.Transform.SetActive(*cfg.Active)
	}
	c.Log.Printf("surface: plane=%v depth=%v active=%v", c.Transform.PlaneEnabled(), c.Transform.DepthEnabled(), c.Transform.Active())
}

// EmitSurfaceConfigLine backs M500/M503: writes an M667 line with the
// current tri-point Z values and enable flags to the save stream.
func EmitSurfaceConfigLine(t *surface.Transform, w io.Writer) error {
	a, b, cc := t.TriZ()
	d, e, z := 0, 0, 0
	if t.PlaneEnabled() {
		d = 1
	}
	if t.DepthEnabled() {
		e = 1
	}
	if t.Active() {
		z = 1
	}
	_, err := fmt.Fprintf(w, "M667 A%.4f B%.4f C%.4f D%d E%d Z%d\n", a, b, cc, d, e, z)
	if err != nil {
		return wrap(IOFailed, err)
	}
	return nil
}
