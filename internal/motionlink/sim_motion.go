// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package motionlink

// SimMotionController is an in-memory MotionController used in tests and
// cmd/calibrationd's bench mode, the motion-controller analog of the
// teacher's mock sensor sources.
type SimMotionController struct {
	pos       [3]float64
	zMax      float64
	reseats   int
	flushes   int
	homeCalls int
}

// NewSim constructs a SimMotionController starting at the origin.
func NewSim() *SimMotionController { return &SimMotionController{} }

func (s *SimMotionController) Home() error {
	s.homeCalls++
	s.pos = [3]float64{0, 0, s.zMax}
	return nil
}

func (s *SimMotionController) MoveTo(p [3]float64) error {
	s.pos = p
	return nil
}

func (s *SimMotionController) CurrentPosition() ([3]float64, error) {
	return s.pos, nil
}

func (s *SimMotionController) ReseatAxisPosition() error {
	s.reseats++
	return nil
}

func (s *SimMotionController) SetZMax(mm float64) error {
	s.zMax = mm
	return nil
}

func (s *SimMotionController) Flush() { s.flushes++ }

// ReseatCount reports how many times ReseatAxisPosition was called, for
// test assertions on the ordering guarantee in §5.
func (s *SimMotionController) ReseatCount() int { return s.reseats }
