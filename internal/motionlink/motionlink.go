// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package motionlink defines the MotionController contract the calibration
// core consumes — an external collaborator that executes coordinated
// moves, homes, and reports axis positions (out of scope per spec.md §1).
// It also ships a real-hardware serial adapter and a deterministic
// simulator used in tests and bench mode.
package motionlink

// MotionController is the external collaborator the calibration core
// drives during probing and annealing. Every write is synchronous; the
// core never spawns threads (§5).
type MotionController interface {
	// Home executes a homing sequence on all three towers.
	Home() error
	// MoveTo issues a coordinated move to the given Cartesian position.
	MoveTo(p [3]float64) error
	// CurrentPosition reports the motion controller's last-known
	// Cartesian axis position.
	CurrentPosition() ([3]float64, error)
	// ReseatAxisPosition refreshes the motion controller's last-known
	// axis position after a geometry change, preventing a discontinuous
	// move on the next command (§3 Lifecycles, §5 Ordering guarantees).
	ReseatAxisPosition() error
	// SetZMax pushes a newly discovered bed height as the Z max.
	SetZMax(mm float64) error
	// Flush is the cooperative-yield hook: long calibration operations
	// call it periodically so the host runtime can service serial and
	// idle tasks (§5 Scheduling model).
	Flush()
}
