// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package kinematics owns the tunable delta-printer parameter snapshot and
// forwards every change to the external arm-solution module, the way the
// teacher's sensor adapters forward configuration to external hardware
// drivers.
package kinematics

import (
	"fmt"
	"math"
)

// Settings is a snapshot of every tunable kinematic parameter. Trim entries
// are always <= 0 (endstops pull down only); after any trim write the
// maximum of the three is subtracted from all three.
type Settings struct {
	ArmLength  float64
	DeltaRadius float64

	Trim [3]float64 // X, Y, Z endstop trims, mm

	TowerRadiusOffset [3]float64 // X, Y, Z, mm
	TowerAngleOffset  [3]float64 // X, Y, Z, degrees
	TowerArmOffset    [3]float64 // X, Y, Z, mm

	VirtualShimming [3]float64 // sx, sy, sz, mm

	Initialized bool
}

// NormalizeTrim subtracts max(Trim) from every entry so the invariant
// max(Trim) == 0 holds.
func (s *Settings) NormalizeTrim() {
	max := math.Max(s.Trim[0], math.Max(s.Trim[1], s.Trim[2]))
	s.Trim[0] -= max
	s.Trim[1] -= max
	s.Trim[2] -= max
}

// ArmSolution is the external collaborator that owns the physical forward
// and inverse kinematics for the linear-delta geometry, and the
// persistent geometric options the calibration core tunes. Out of scope
// for this specification: only its contract is consumed here.
type ArmSolution interface {
	// SetArmLength, SetDeltaRadius, SetTrim, SetTowerRadiusOffset,
	// SetTowerAngleOffset, SetTowerArmOffset apply one parameter to the
	// live geometry. Each call is synchronous.
	SetArmLength(mm float64) error
	SetDeltaRadius(mm float64) error
	SetTrim(xyz [3]float64) error
	SetTowerRadiusOffset(xyz [3]float64) error
	SetTowerAngleOffset(xyz [3]float64) error
	SetTowerArmOffset(xyz [3]float64) error

	// CartesianToActuator is the inverse-kinematics routine: effector
	// position -> per-tower carriage height.
	CartesianToActuator(p [3]float64) ([3]float64, error)
	// ActuatorToCartesian is the forward-kinematics routine: per-tower
	// carriage height -> effector position.
	ActuatorToCartesian(actuator [3]float64) ([3]float64, error)
}

// ArmCloner is implemented by arm-solution adapters cheap enough to copy,
// letting the annealer evaluate candidate geometry on private clones
// concurrently instead of serializing every trial through the one shared
// arm-solution singleton.
type ArmCloner interface {
	Clone() ArmSolution
}

// Reseater refreshes the motion controller's last-known axis position so
// a geometry change never causes a discontinuous move. Implemented by
// internal/motionlink.MotionController in production.
type Reseater interface {
	ReseatAxisPosition() error
}

// State owns the authoritative Settings snapshot, forwards every write to
// the injected ArmSolution, and tracks whether the live geometry has
// diverged from the last successful iterative calibration.
type State struct {
	arm   ArmSolution
	motor Reseater

	current      Settings
	geometryDirty bool
}

// New constructs a State bound to the given external arm-solution and
// motion-controller collaborators.
func New(arm ArmSolution, motor Reseater) *State {
	return &State{arm: arm, motor: motor}
}

// Snapshot returns a copy of the current settings.
func (s *State) Snapshot() Settings { return s.current }

// GeometryDirty reports whether a geometry-affecting change has not yet
// been cleared by a successful iterative calibration pass.
func (s *State) GeometryDirty() bool { return s.geometryDirty }

// ClearGeometryDirty is called after a successful iterative calibration.
func (s *State) ClearGeometryDirty() { s.geometryDirty = false }

// MarkGeometryDirty is called on every external geometry change (M665/M666).
func (s *State) MarkGeometryDirty() { s.geometryDirty = true }

func (s *State) reseat() error {
	if s.motor == nil {
		return nil
	}
	return s.motor.ReseatAxisPosition()
}

// SetTrim applies new trims, normalizes them, pushes them to the
// arm-solution, and re-seats the motion controller's axis position.
func (s *State) SetTrim(xyz [3]float64) error {
	next := xyz
	max := math.Max(next[0], math.Max(next[1], next[2]))
	next[0] -= max
	next[1] -= max
	next[2] -= max

	if err := s.arm.SetTrim(next); err != nil {
		return fmt.Errorf("kinematics: set trim: %w", err)
	}
	s.current.Trim = next
	s.geometryDirty = true
	return s.reseat()
}

// SetDeltaRadius applies a new delta radius and re-seats.
func (s *State) SetDeltaRadius(mm float64) error {
	if err := s.arm.SetDeltaRadius(mm); err != nil {
		return fmt.Errorf("kinematics: set delta radius: %w", err)
	}
	s.current.DeltaRadius = mm
	s.geometryDirty = true
	return s.reseat()
}

// SetArmLength applies a new effective arm length and re-seats.
func (s *State) SetArmLength(mm float64) error {
	if err := s.arm.SetArmLength(mm); err != nil {
		return fmt.Errorf("kinematics: set arm length: %w", err)
	}
	s.current.ArmLength = mm
	s.geometryDirty = true
	return s.reseat()
}

// SetTowerRadiusOffset applies per-tower radius offsets and re-seats.
func (s *State) SetTowerRadiusOffset(xyz [3]float64) error {
	if err := s.arm.SetTowerRadiusOffset(xyz); err != nil {
		return fmt.Errorf("kinematics: set tower radius offset: %w", err)
	}
	s.current.TowerRadiusOffset = xyz
	s.geometryDirty = true
	return s.reseat()
}

// SetTowerAngleOffset applies per-tower angle offsets and re-seats.
func (s *State) SetTowerAngleOffset(xyz [3]float64) error {
	if err := s.arm.SetTowerAngleOffset(xyz); err != nil {
		return fmt.Errorf("kinematics: set tower angle offset: %w", err)
	}
	s.current.TowerAngleOffset = xyz
	s.geometryDirty = true
	return s.reseat()
}

// SetTowerArmOffset applies per-tower arm-length offsets and re-seats.
func (s *State) SetTowerArmOffset(xyz [3]float64) error {
	if err := s.arm.SetTowerArmOffset(xyz); err != nil {
		return fmt.Errorf("kinematics: set tower arm offset: %w", err)
	}
	s.current.TowerArmOffset = xyz
	s.geometryDirty = true
	return s.reseat()
}

// SetVirtualShimming stores the tilt-plane triplet. This does not affect
// arm-solution geometry and therefore does not mark geometry dirty.
func (s *State) SetVirtualShimming(xyz [3]float64) {
	s.current.VirtualShimming = xyz
}

// Apply pushes an entire settings snapshot to the arm-solution in one
// shot (used to restore the annealer's best-accepted state). Fails with
// an UNINITIALIZED-class error if settings were never initialized.
func (s *State) Apply(settings Settings) error {
	if !settings.Initialized {
		return fmt.Errorf("kinematics: refusing to apply uninitialized settings")
	}
	settings.NormalizeTrim()

	if err := s.arm.SetArmLength(settings.ArmLength); err != nil {
		return fmt.Errorf("kinematics: apply arm length: %w", err)
	}
	if err := s.arm.SetDeltaRadius(settings.DeltaRadius); err != nil {
		return fmt.Errorf("kinematics: apply delta radius: %w", err)
	}
	if err := s.arm.SetTrim(settings.Trim); err != nil {
		return fmt.Errorf("kinematics: apply trim: %w", err)
	}
	if err := s.arm.SetTowerRadiusOffset(settings.TowerRadiusOffset); err != nil {
		return fmt.Errorf("kinematics: apply tower radius offset: %w", err)
	}
	if err := s.arm.SetTowerAngleOffset(settings.TowerAngleOffset); err != nil {
		return fmt.Errorf("kinematics: apply tower angle offset: %w", err)
	}
	if err := s.arm.SetTowerArmOffset(settings.TowerArmOffset); err != nil {
		return fmt.Errorf("kinematics: apply tower arm offset: %w", err)
	}

	s.current = settings
	s.geometryDirty = true
	return s.reseat()
}

// CartesianToActuator delegates to the arm-solution's inverse kinematics.
func (s *State) CartesianToActuator(p [3]float64) ([3]float64, error) {
	return s.arm.CartesianToActuator(p)
}

// ActuatorToCartesian delegates to the arm-solution's forward kinematics.
func (s *State) ActuatorToCartesian(actuator [3]float64) ([3]float64, error) {
	return s.arm.ActuatorToCartesian(actuator)
}
