// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/deltacore/calibration/internal/repeatability"
)

// Server exposes a calibration Collaborators bundle over HTTP: a status
// JSON endpoint, a websocket endpoint driving Session, and a static UI
// directory, the same three-part shape as the teacher's pose/GPS web
// server.
type Server struct {
	c       *Collaborators
	tracker repeatability.Tracker

	mu         sync.RWMutex
	lastResult repeatability.Result
	haveResult bool
}

// NewServer builds a Server bound to c.
func NewServer(c *Collaborators) *Server {
	return &Server{c: c}
}

// ListenAndServe registers the handlers and blocks serving on addr, in
// the same shape as RunWeb: JSON status endpoint, websocket endpoint,
// static file server, http.ListenAndServe.
func (srv *Server) ListenAndServe(addr, webDir string) error {
	http.HandleFunc("/api/calibration/status", srv.handleStatus)
	http.HandleFunc("/api/calibration/ws", srv.handleWS)

	fs := http.FileServer(http.Dir(webDir))
	http.Handle("/", fs)

	log.Printf("calibration: listening on %s", addr)
	return http.ListenAndServe(addr, nil)
}

func (srv *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	srv.mu.RLock()
	defer srv.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if !srv.haveResult {
		http.Error(w, "no repeatability data yet", http.StatusServiceUnavailable)
		return
	}
	if err := json.NewEncoder(w).Encode(srv.lastResult); err != nil {
		log.Printf("calibration: status JSON encode error: %v", err)
	}
}

func (srv *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	sess, err := NewSession(w, r, srv.c, &srv.tracker)
	if err != nil {
		log.Printf("calibration: websocket upgrade error: %v", err)
		return
	}
	sess.onRepeatability = func(result repeatability.Result) {
		srv.mu.Lock()
		srv.lastResult = result
		srv.haveResult = true
		srv.mu.Unlock()
	}
	sess.Serve()
}
