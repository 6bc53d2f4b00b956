// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package telemetry publishes calibration progress to MQTT, the way the
// teacher's internal/app producers (gps_producer.go, web.go) publish
// sensor telemetry — adapted here to publish calibration progress instead
// of sensor readings, since the core itself has no serial/stream output of
// its own (spec.md §1's "serial/stream output for user-facing text" is an
// external collaborator).
package telemetry

import (
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Config mirrors the teacher's MQTT broker/client-ID/topic fields.
type Config struct {
	Broker        string
	ClientID      string
	TopicProgress string
	TopicResult   string
}

// Progress is one line of calibration progress, published as JSON.
type Progress struct {
	Phase   string  `json:"phase"`   // "repeatability", "depthmap", "iterative", "anneal"
	Step    string  `json:"step,omitempty"`
	Percent float64 `json:"percent,omitempty"`
	Energy  float64 `json:"energy,omitempty"`
	Message string  `json:"message,omitempty"`
}

// Publisher wraps an MQTT client bound to one calibration run's progress
// and result topics.
type Publisher struct {
	cfg    Config
	client mqtt.Client
}

// Connect dials the configured broker and returns a Publisher. The
// returned Publisher must be closed with Disconnect when the run ends.
func Connect(cfg Config) (*Publisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("telemetry: mqtt connect: %w", token.Error())
	}
	return &Publisher{cfg: cfg, client: client}, nil
}

// Disconnect closes the MQTT connection, waiting up to 250ms to flush.
func (p *Publisher) Disconnect() {
	p.client.Disconnect(250)
}

// PublishProgress emits one progress line to the configured progress
// topic, at QoS 0 (best-effort — a dropped progress line is not fatal to
// the calibration run it describes).
func (p *Publisher) PublishProgress(msg Progress) error {
	return p.publish(p.cfg.TopicProgress, msg)
}

// PublishResult emits a terminal result payload (e.g. a Result or error
// summary) to the configured result topic.
func (p *Publisher) PublishResult(result interface{}) error {
	return p.publish(p.cfg.TopicResult, result)
}

func (p *Publisher) publish(topic string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telemetry: marshal payload for %s: %w", topic, err)
	}
	token := p.client.Publish(topic, 0, false, data)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("telemetry: publish to %s: %w", topic, token.Error())
	}
	return nil
}
