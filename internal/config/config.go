// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Config holds all calibrationd configuration values.
type Config struct {
	// Grid (§4.1)
	GridProbeRadius float64
	GridN           int    // odd, default 5
	GridShape       string // "CIRCLE" or "SQUARE"

	// Probe driver (§4.2)
	ProbeSmoothing           int // [1,10]
	ProbePriming             int // [0,20]
	ProbeAcceleration        float64
	ProbeOffsetX             float64
	ProbeOffsetY             float64
	ProbeOffsetZ             float64
	ProbeFastFeedrate        float64
	ProbeSlowFeedrate        float64
	ProbeDebounceCount       int
	ProbeDecelerateOnTrigger bool
	ProbeClearanceMM         float64

	// Annealer (§4.7)
	AnnealTries             int     // [10,1000]
	AnnealMaxTemp           float64 // [0,2]
	AnnealBinsearchWidth    float64 // [0,0.5]
	AnnealOverrunDivisor    float64 // [0.5,15]
	AnnealGlobalTargetMM    float64
	AnnealPerVariableTarget float64
	AnnealWorkers           int

	// Caltype flags, active/tempMul pairs (§3 CaltypeFlags)
	CaltypeEndstopActive         bool
	CaltypeEndstopTempMul        float64
	CaltypeDeltaRadiusActive     bool
	CaltypeDeltaRadiusTempMul    float64
	CaltypeArmLengthActive       bool
	CaltypeArmLengthTempMul      float64
	CaltypeTowerAngleActive      bool
	CaltypeTowerAngleTempMul     float64
	CaltypeShimmingActive        bool
	CaltypeShimmingTempMul       float64

	// Depth map (§6 file format)
	DepthMapPath string

	// MQTT
	MQTTBroker            string
	MQTTClientIDCalibratord string
	MQTTClientIDConsole   string
	TopicProgress         string
	TopicResult           string
}

var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := &Config{}
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) setValue(key, value string) error {
	switch key {
	// Grid
	case "GRID_PROBE_RADIUS":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid GRID_PROBE_RADIUS %q: %w", value, err)
		}
		c.GridProbeRadius = v
	case "GRID_N":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid GRID_N %q: %w", value, err)
		}
		c.GridN = v
	case "GRID_SHAPE":
		if value != "CIRCLE" && value != "SQUARE" {
			return fmt.Errorf("GRID_SHAPE must be CIRCLE or SQUARE, got %q", value)
		}
		c.GridShape = value

	// Probe driver
	case "PROBE_SMOOTHING":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid PROBE_SMOOTHING %q: %w", value, err)
		}
		c.ProbeSmoothing = v
	case "PROBE_PRIMING":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid PROBE_PRIMING %q: %w", value, err)
		}
		c.ProbePriming = v
	case "PROBE_ACCELERATION":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid PROBE_ACCELERATION %q: %w", value, err)
		}
		c.ProbeAcceleration = v
	case "PROBE_OFFSET_X":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid PROBE_OFFSET_X %q: %w", value, err)
		}
		c.ProbeOffsetX = v
	case "PROBE_OFFSET_Y":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid PROBE_OFFSET_Y %q: %w", value, err)
		}
		c.ProbeOffsetY = v
	case "PROBE_OFFSET_Z":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid PROBE_OFFSET_Z %q: %w", value, err)
		}
		c.ProbeOffsetZ = v
	case "PROBE_FAST_FEEDRATE":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid PROBE_FAST_FEEDRATE %q: %w", value, err)
		}
		c.ProbeFastFeedrate = v
	case "PROBE_SLOW_FEEDRATE":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid PROBE_SLOW_FEEDRATE %q: %w", value, err)
		}
		c.ProbeSlowFeedrate = v
	case "PROBE_DEBOUNCE_COUNT":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid PROBE_DEBOUNCE_COUNT %q: %w", value, err)
		}
		c.ProbeDebounceCount = v
	case "PROBE_DECELERATE_ON_TRIGGER":
		v, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid PROBE_DECELERATE_ON_TRIGGER %q: %w", value, err)
		}
		c.ProbeDecelerateOnTrigger = v
	case "PROBE_CLEARANCE_MM":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid PROBE_CLEARANCE_MM %q: %w", value, err)
		}
		c.ProbeClearanceMM = v

	// Annealer
	case "ANNEAL_TRIES":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid ANNEAL_TRIES %q: %w", value, err)
		}
		c.AnnealTries = v
	case "ANNEAL_MAX_TEMP":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid ANNEAL_MAX_TEMP %q: %w", value, err)
		}
		c.AnnealMaxTemp = v
	case "ANNEAL_BINSEARCH_WIDTH":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid ANNEAL_BINSEARCH_WIDTH %q: %w", value, err)
		}
		c.AnnealBinsearchWidth = v
	case "ANNEAL_OVERRUN_DIVISOR":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid ANNEAL_OVERRUN_DIVISOR %q: %w", value, err)
		}
		c.AnnealOverrunDivisor = v
	case "ANNEAL_GLOBAL_TARGET_MM":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid ANNEAL_GLOBAL_TARGET_MM %q: %w", value, err)
		}
		c.AnnealGlobalTargetMM = v
	case "ANNEAL_PER_VARIABLE_TARGET":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid ANNEAL_PER_VARIABLE_TARGET %q: %w", value, err)
		}
		c.AnnealPerVariableTarget = v
	case "ANNEAL_WORKERS":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid ANNEAL_WORKERS %q: %w", value, err)
		}
		c.AnnealWorkers = v

	// Caltype flags
	case "CALTYPE_ENDSTOP_ACTIVE":
		v, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid CALTYPE_ENDSTOP_ACTIVE %q: %w", value, err)
		}
		c.CaltypeEndstopActive = v
	case "CALTYPE_ENDSTOP_TEMP_MUL":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid CALTYPE_ENDSTOP_TEMP_MUL %q: %w", value, err)
		}
		c.CaltypeEndstopTempMul = v
	case "CALTYPE_DELTA_RADIUS_ACTIVE":
		v, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid CALTYPE_DELTA_RADIUS_ACTIVE %q: %w", value, err)
		}
		c.CaltypeDeltaRadiusActive = v
	case "CALTYPE_DELTA_RADIUS_TEMP_MUL":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid CALTYPE_DELTA_RADIUS_TEMP_MUL %q: %w", value, err)
		}
		c.CaltypeDeltaRadiusTempMul = v
	case "CALTYPE_ARM_LENGTH_ACTIVE":
		v, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid CALTYPE_ARM_LENGTH_ACTIVE %q: %w", value, err)
		}
		c.CaltypeArmLengthActive = v
	case "CALTYPE_ARM_LENGTH_TEMP_MUL":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid CALTYPE_ARM_LENGTH_TEMP_MUL %q: %w", value, err)
		}
		c.CaltypeArmLengthTempMul = v
	case "CALTYPE_TOWER_ANGLE_ACTIVE":
		v, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid CALTYPE_TOWER_ANGLE_ACTIVE %q: %w", value, err)
		}
		c.CaltypeTowerAngleActive = v
	case "CALTYPE_TOWER_ANGLE_TEMP_MUL":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid CALTYPE_TOWER_ANGLE_TEMP_MUL %q: %w", value, err)
		}
		c.CaltypeTowerAngleTempMul = v
	case "CALTYPE_SHIMMING_ACTIVE":
		v, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid CALTYPE_SHIMMING_ACTIVE %q: %w", value, err)
		}
		c.CaltypeShimmingActive = v
	case "CALTYPE_SHIMMING_TEMP_MUL":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid CALTYPE_SHIMMING_TEMP_MUL %q: %w", value, err)
		}
		c.CaltypeShimmingTempMul = v

	// Depth map
	case "DEPTH_MAP_PATH":
		c.DepthMapPath = value

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_CALIBRATORD":
		c.MQTTClientIDCalibratord = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "TOPIC_PROGRESS":
		c.TopicProgress = value
	case "TOPIC_RESULT":
		c.TopicResult = value

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return nil
}

func (c *Config) validate() error {
	if c.GridProbeRadius <= 0 {
		return fmt.Errorf("GRID_PROBE_RADIUS is required and must be positive")
	}
	if c.GridN == 0 {
		c.GridN = 5
	}
	if c.GridN%2 == 0 {
		return fmt.Errorf("GRID_N must be odd, got %d", c.GridN)
	}
	if c.GridShape == "" {
		c.GridShape = "CIRCLE"
	}
	if c.ProbeSmoothing < 1 || c.ProbeSmoothing > 10 {
		return fmt.Errorf("PROBE_SMOOTHING must be in [1,10], got %d", c.ProbeSmoothing)
	}
	if c.ProbePriming < 0 || c.ProbePriming > 20 {
		return fmt.Errorf("PROBE_PRIMING must be in [0,20], got %d", c.ProbePriming)
	}
	if c.AnnealTries == 0 {
		c.AnnealTries = 200
	}
	if c.AnnealTries < 10 || c.AnnealTries > 1000 {
		return fmt.Errorf("ANNEAL_TRIES must be in [10,1000], got %d", c.AnnealTries)
	}
	if c.AnnealGlobalTargetMM == 0 {
		c.AnnealGlobalTargetMM = 0.01
	}
	if c.AnnealPerVariableTarget == 0 {
		c.AnnealPerVariableTarget = 0.005
	}
	if c.AnnealMaxTemp == 0 {
		c.AnnealMaxTemp = 1
	}
	if c.AnnealMaxTemp < 0 || c.AnnealMaxTemp > 2 {
		return fmt.Errorf("ANNEAL_MAX_TEMP must be in [0,2], got %v", c.AnnealMaxTemp)
	}
	if c.AnnealBinsearchWidth == 0 {
		c.AnnealBinsearchWidth = 0.25
	}
	if c.AnnealBinsearchWidth < 0 || c.AnnealBinsearchWidth > 0.5 {
		return fmt.Errorf("ANNEAL_BINSEARCH_WIDTH must be in [0,0.5], got %v", c.AnnealBinsearchWidth)
	}
	if c.AnnealOverrunDivisor == 0 {
		c.AnnealOverrunDivisor = 2
	}
	if c.AnnealOverrunDivisor < 0.5 || c.AnnealOverrunDivisor > 15 {
		return fmt.Errorf("ANNEAL_OVERRUN_DIVISOR must be in [0.5,15], got %v", c.AnnealOverrunDivisor)
	}
	for name, mul := range map[string]float64{
		"CALTYPE_ENDSTOP_TEMP_MUL":      c.CaltypeEndstopTempMul,
		"CALTYPE_DELTA_RADIUS_TEMP_MUL": c.CaltypeDeltaRadiusTempMul,
		"CALTYPE_ARM_LENGTH_TEMP_MUL":   c.CaltypeArmLengthTempMul,
		"CALTYPE_TOWER_ANGLE_TEMP_MUL":  c.CaltypeTowerAngleTempMul,
		"CALTYPE_SHIMMING_TEMP_MUL":     c.CaltypeShimmingTempMul,
	} {
		if mul < 0 || mul > 50 {
			return fmt.Errorf("%s must be in [0,50], got %v", name, mul)
		}
	}
	// MQTT_BROKER is deliberately optional: cmd/calibrationd only calls
	// telemetry.Connect when it is set, so an empty value just means a
	// bench run with telemetry disabled, not an invalid config.
	if c.DepthMapPath == "" {
		c.DepthMapPath = "/sd/dm_surface_transform"
	}
	return nil
}

// InitGlobal initializes the global configuration from file, once.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance. InitGlobal must be
// called first, or this returns nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
