// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/deltacore/calibration/internal/anneal"
	"github.com/deltacore/calibration/internal/repeatability"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSMessage is an inbound control message, the delta-calibration analog of
// the teacher's {action: init|next|cancel} IMU calibration protocol.
type WSMessage struct {
	Action string `json:"action"` // start, next, cancel
	Phase  string `json:"phase,omitempty"` // requested starting phase, for "start"
}

// WSResponse is an outbound progress/result message.
type WSResponse struct {
	Type    string      `json:"type"` // phase, progress, stats, complete, error
	Phase   string      `json:"phase,omitempty"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Session drives one live calibration run (repeatability -> depth-map ->
// iterative -> annealing) over a websocket connection, the structural
// twin of the teacher's CalibrationSession gyro/accel/mag state machine.
type Session struct {
	conn    *websocket.Conn
	c       *Collaborators
	tracker *repeatability.Tracker

	mu    sync.Mutex
	phase string

	// onRepeatability, if set, is notified with each repeatability result,
	// for a host server to cache for its own status endpoint.
	onRepeatability func(repeatability.Result)
}

// NewSession upgrades r into a websocket connection bound to c. tracker
// accumulates the best (lowest-sigma) repeatability run across every
// "repeatability" phase this session runs; pass the server's shared
// tracker so the best run is also remembered across separate websocket
// connections against the same Collaborators/printer.
func NewSession(w http.ResponseWriter, r *http.Request, c *Collaborators, tracker *repeatability.Tracker) (*Session, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, wrap(IOFailed, err)
	}
	return &Session{conn: conn, c: c, tracker: tracker}, nil
}

// Close releases the underlying connection.
func (s *Session) Close() error { return s.conn.Close() }

// Serve runs the session's read loop until the client disconnects or
// cancels.
func (s *Session) Serve() {
	defer s.conn.Close()
	for {
		var msg WSMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			log.Printf("calibration: websocket read error: %v", err)
			return
		}

		switch msg.Action {
		case "start":
			s.mu.Lock()
			s.phase = msg.Phase
			s.mu.Unlock()
			s.sendPhase(s.phase)

		case "next":
			s.mu.Lock()
			err := s.runPhase()
			s.mu.Unlock()
			if err != nil {
				s.sendError(err.Error())
			}

		case "cancel":
			return
		}
	}
}

// runPhase locks s.c for the duration of one phase, since the same
// Collaborators (and the one physical printer it drives) may be shared
// across multiple concurrent websocket sessions.
func (s *Session) runPhase() error {
	s.c.Lock()
	defer s.c.Unlock()

	switch s.phase {
	case "repeatability":
		result, err := RunRepeatability(s.c, s.tracker, repeatability.Config{})
		if err != nil {
			return err
		}
		s.sendComplete("repeatability", result)
		if s.onRepeatability != nil {
			s.onRepeatability(result)
		}
		s.phase = "depthmap"
		s.sendPhase(s.phase)

	case "depthmap":
		if err := RunProbeAndSave(s.c, true); err != nil {
			return err
		}
		s.sendComplete("depthmap", nil)
		s.phase = "iterative"
		s.sendPhase(s.phase)

	case "iterative":
		result, err := RunIterative(s.c, false)
		if err != nil {
			return err
		}
		s.sendComplete("iterative", result)
		s.phase = "anneal"
		s.sendPhase(s.phase)

	case "anneal":
		opts := HeuristicOptions{
			Tries:          200,
			MaxTemp:        1,
			BinsearchWidth: 0.25,
			OverrunDivisor: 2,
		}
		opts.Caltypes[anneal.CaltypeEndstop] = anneal.CaltypeSetting{Active: true, TempMul: 1}
		opts.Caltypes[anneal.CaltypeDeltaRadius] = anneal.CaltypeSetting{Active: true, TempMul: 1}
		measured := s.c.Transform.DepthMap()
		result, err := RunHeuristic(s.c, opts, measured)
		if err != nil {
			return err
		}
		s.sendComplete("anneal", result)
		s.phase = ""
	}
	return nil
}

func (s *Session) sendPhase(phase string) {
	s.conn.WriteJSON(WSResponse{Type: "phase", Phase: phase})
}

func (s *Session) sendComplete(phase string, result interface{}) {
	s.conn.WriteJSON(WSResponse{Type: "complete", Phase: phase, Result: result})
}

func (s *Session) sendError(message string) {
	s.conn.WriteJSON(WSResponse{Type: "error", Message: message})
}
