// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package motionlink

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"sync"

	serial "github.com/jacobsa/go-serial/serial"
)

// SerialMotionController drives a real motion controller over a
// line-oriented serial protocol, grounded on the teacher's GPS producer
// serial wiring (internal/app/gps_producer.go's serial.OpenOptions/Open),
// here carrying short ASCII move/query commands instead of NMEA sentences.
type SerialMotionController struct {
	mu     sync.Mutex
	port   interface {
		Read([]byte) (int, error)
		Write([]byte) (int, error)
		Close() error
	}
	reader *bufio.Reader
	last   [3]float64
}

// OpenSerialMotionController opens the serial port and returns a
// MotionController backed by it.
func OpenSerialMotionController(portName string, baudRate uint) (*SerialMotionController, error) {
	opts := serial.OpenOptions{
		PortName:              portName,
		BaudRate:              baudRate,
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 100,
	}

	port, err := serial.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("motionlink: open serial port %s: %w", portName, err)
	}

	return &SerialMotionController{
		port:   port,
		reader: bufio.NewReader(port),
	}, nil
}

func (m *SerialMotionController) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.port.Close()
}

func (m *SerialMotionController) send(line string) (string, error) {
	if _, err := m.port.Write([]byte(line + "\n")); err != nil {
		return "", fmt.Errorf("motionlink: write %q: %w", line, err)
	}
	reply, err := m.reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("motionlink: read reply to %q: %w", line, err)
	}
	return strings.TrimSpace(reply), nil
}

// Home executes the controller's homing sequence ("G28").
func (m *SerialMotionController) Home() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.send("G28")
	return err
}

// MoveTo issues a coordinated move ("G1 X.. Y.. Z..").
func (m *SerialMotionController) MoveTo(p [3]float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	line := fmt.Sprintf("G1 X%.4f Y%.4f Z%.4f", p[0], p[1], p[2])
	if _, err := m.send(line); err != nil {
		return err
	}
	m.last = p
	return nil
}

// CurrentPosition queries the controller's last-known axis position
// ("M114") and parses an "X.. Y.. Z.." reply.
func (m *SerialMotionController) CurrentPosition() ([3]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reply, err := m.send("M114")
	if err != nil {
		return [3]float64{}, err
	}
	return parsePositionReply(reply)
}

// ReseatAxisPosition re-reads the axis position, which forces the
// controller to refresh its internal last-known position after a
// geometry change.
func (m *SerialMotionController) ReseatAxisPosition() error {
	_, err := m.CurrentPosition()
	return err
}

// SetZMax pushes a newly discovered bed height ("M207 Z..").
func (m *SerialMotionController) SetZMax(mm float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.send(fmt.Sprintf("M207 Z%.4f", mm))
	return err
}

// Flush is a no-op serial round trip used as the cooperative-yield hook:
// it gives the controller's firmware a chance to drain its queue between
// long-running calibration steps.
func (m *SerialMotionController) Flush() {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, _ = m.send("M400")
}

func parsePositionReply(reply string) ([3]float64, error) {
	var out [3]float64
	fields := strings.Fields(reply)
	found := 0
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		var idx int
		switch f[0] {
		case 'X':
			idx = 0
		case 'Y':
			idx = 1
		case 'Z':
			idx = 2
		default:
			continue
		}
		v, err := strconv.ParseFloat(f[1:], 64)
		if err != nil {
			return out, fmt.Errorf("motionlink: parse position field %q: %w", f, err)
		}
		out[idx] = v
		found++
	}
	if found != 3 {
		return out, fmt.Errorf("motionlink: incomplete position reply %q", reply)
	}
	return out, nil
}
