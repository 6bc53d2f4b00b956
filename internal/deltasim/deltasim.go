// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package deltasim is a synthetic linear-delta arm-solution, the stand-in
// for the real (out-of-scope) arm-solution module used in tests and in the
// bench/simulate mode of cmd/calibrationd. It is the calibration core's
// analog of the teacher's mock sensor sources (internal/orientation's
// mock_source.go): a deterministic substitute for hardware the core
// consumes through an interface.
package deltasim

import (
	"fmt"
	"math"

	"github.com/deltacore/calibration/internal/kinematics"
)

// towerAngles is the canonical tower layout: X at 210°, Y at 330°, Z at 90°,
// matching geometry.TowerPoint's canonical locations.
var towerAngles = [3]float64{210, 330, 90}

// Sim is a reference forward/inverse kinematics solver for a linear-delta
// machine. It satisfies internal/kinematics.ArmSolution.
type Sim struct {
	armLength   float64
	deltaRadius float64
	trim        [3]float64
	towerRadiusOffset [3]float64
	towerAngleOffset  [3]float64
	towerArmOffset    [3]float64
}

// New builds a Sim with the given nominal geometry.
func New(armLength, deltaRadius float64) *Sim {
	return &Sim{armLength: armLength, deltaRadius: deltaRadius}
}

// Clone returns an independent copy, letting a caller (the annealer)
// evaluate candidate geometry without mutating the shared original.
func (s *Sim) Clone() kinematics.ArmSolution {
	cp := *s
	return &cp
}

func (s *Sim) SetArmLength(mm float64) error         { s.armLength = mm; return nil }
func (s *Sim) SetDeltaRadius(mm float64) error        { s.deltaRadius = mm; return nil }
// SetTrim stores trim to satisfy kinematics.ArmSolution, but CartesianToActuator
// and ActuatorToCartesian never read it: internal/energy applies trim
// explicitly around these calls per §4.6, so s.trim has no effect on geometry.
func (s *Sim) SetTrim(xyz [3]float64) error { s.trim = xyz; return nil }
func (s *Sim) SetTowerRadiusOffset(xyz [3]float64) error { s.towerRadiusOffset = xyz; return nil }
func (s *Sim) SetTowerAngleOffset(xyz [3]float64) error  { s.towerAngleOffset = xyz; return nil }
func (s *Sim) SetTowerArmOffset(xyz [3]float64) error    { s.towerArmOffset = xyz; return nil }

func (s *Sim) towerXY(i int) (float64, float64) {
	angleDeg := towerAngles[i] + s.towerAngleOffset[i]
	r := s.deltaRadius + s.towerRadiusOffset[i]
	rad := angleDeg * math.Pi / 180
	return r * math.Cos(rad), r * math.Sin(rad)
}

func (s *Sim) armLen(i int) float64 {
	return s.armLength + s.towerArmOffset[i]
}

// CartesianToActuator is the inverse-kinematics routine: effector position
// (x, y, z) in mm -> per-tower carriage height. Trim is NOT added here, by
// the same contract ActuatorToCartesian documents: trim is a calibration-core
// concern applied explicitly around these calls (§4.6's "add trim
// componentwise" / "subtract trim" steps), not baked into the geometry math.
func (s *Sim) CartesianToActuator(p [3]float64) ([3]float64, error) {
	var out [3]float64
	for i := 0; i < 3; i++ {
		tx, ty := s.towerXY(i)
		arm := s.armLen(i)
		horiz2 := (p[0]-tx)*(p[0]-tx) + (p[1]-ty)*(p[1]-ty)
		under := arm*arm - horiz2
		if under < 0 {
			return out, fmt.Errorf("deltasim: point (%v,%v,%v) unreachable by tower %d", p[0], p[1], p[2], i)
		}
		out[i] = p[2] + math.Sqrt(under)
	}
	return out, nil
}

// ActuatorToCartesian is the forward-kinematics routine (trilateration):
// per-tower carriage height -> effector position. Trim is NOT subtracted
// here; callers that need trim-compensated FK must subtract it from
// actuator before calling, matching §4.6's "subtract trim" step.
func (s *Sim) ActuatorToCartesian(actuator [3]float64) ([3]float64, error) {
	ax, ay := s.towerXY(0)
	bx, by := s.towerXY(1)
	cx, cy := s.towerXY(2)
	az, bz, cz := actuator[0], actuator[1], actuator[2]
	r1, r2, r3 := s.armLen(0), s.armLen(1), s.armLen(2)

	p1 := [3]float64{ax, ay, az}
	p12 := [3]float64{bx - ax, by - ay, bz - az}
	p13 := [3]float64{cx - ax, cy - ay, cz - az}

	d := math.Sqrt(p12[0]*p12[0] + p12[1]*p12[1] + p12[2]*p12[2])
	if d == 0 {
		return [3]float64{}, fmt.Errorf("deltasim: degenerate tower geometry (towers 0 and 1 coincide)")
	}
	ex := [3]float64{p12[0] / d, p12[1] / d, p12[2] / d}

	i := dot(ex, p13)
	eyRaw := [3]float64{p13[0] - i*ex[0], p13[1] - i*ex[1], p13[2] - i*ex[2]}
	eyNorm := math.Sqrt(dot(eyRaw, eyRaw))
	if eyNorm == 0 {
		return [3]float64{}, fmt.Errorf("deltasim: degenerate tower geometry (towers are collinear)")
	}
	ey := [3]float64{eyRaw[0] / eyNorm, eyRaw[1] / eyNorm, eyRaw[2] / eyNorm}
	ez := cross(ex, ey)
	j := dot(ey, p13)

	x := (r1*r1 - r2*r2 + d*d) / (2 * d)
	y := (r1*r1-r3*r3+i*i+j*j)/(2*j) - (i/j)*x
	under := r1*r1 - x*x - y*y
	if under < 0 {
		return [3]float64{}, fmt.Errorf("deltasim: actuator positions %v have no real solution", actuator)
	}
	z := -math.Sqrt(under)

	return [3]float64{
		p1[0] + x*ex[0] + y*ey[0] + z*ez[0],
		p1[1] + x*ex[1] + y*ey[1] + z*ez[1],
		p1[2] + x*ex[2] + y*ey[2] + z*ez[2],
	}, nil
}

func dot(a, b [3]float64) float64 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

func cross(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}
