// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// ./cmd/console/main.go
//
// Line-oriented live status printer: subscribes to calibrationd's MQTT
// progress/result topics and prints each update, the console analog of
// the teacher's RunMockConsole ticker loop, driven here by telemetry
// messages instead of a mock orientation source.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/deltacore/calibration/internal/config"
	"github.com/deltacore/calibration/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "calibrationd.conf", "path to the configuration file")
	flag.Parse()

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config from %s: %v", *configPath, err)
	}
	cfg := config.Get()

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDConsole)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalf("console: mqtt connect failed: %v", token.Error())
	}
	log.Printf("console: connected to MQTT broker at %s", cfg.MQTTBroker)

	progressToken := client.Subscribe(cfg.TopicProgress, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var p telemetry.Progress
		if err := json.Unmarshal(msg.Payload(), &p); err != nil {
			log.Printf("console: progress unmarshal error: %v", err)
			return
		}
		fmt.Printf("PHASE=%-14s STEP=%-10s %6.2f%% energy=%.4f %s\n", p.Phase, p.Step, p.Percent, p.Energy, p.Message)
	})
	progressToken.Wait()
	if progressToken.Error() != nil {
		log.Fatalf("console: subscribe to %s failed: %v", cfg.TopicProgress, progressToken.Error())
	}
	log.Printf("console: subscribed to %s", cfg.TopicProgress)

	resultToken := client.Subscribe(cfg.TopicResult, 0, func(_ mqtt.Client, msg mqtt.Message) {
		fmt.Printf("RESULT: %s\n", string(msg.Payload()))
	})
	resultToken.Wait()
	if resultToken.Error() != nil {
		log.Fatalf("console: subscribe to %s failed: %v", cfg.TopicResult, resultToken.Error())
	}
	log.Printf("console: subscribed to %s", cfg.TopicResult)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	<-sig
	client.Disconnect(250)
}
