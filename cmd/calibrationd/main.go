// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// ./cmd/calibrationd/main.go
//
// CLI harness exercising the calibration core end to end against
// bench/simulated collaborators: a simulated delta kinematic and a
// deterministic simulated probe.
//
// Run:
//
//	go run ./cmd/calibrationd repeatability --config calibrationd.conf
//	go run ./cmd/calibrationd iterative --config calibrationd.conf
//	go run ./cmd/calibrationd anneal --config calibrationd.conf
//	go run ./cmd/calibrationd serve --config calibrationd.conf --addr :8080
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/deltacore/calibration/internal/anneal"
	"github.com/deltacore/calibration/internal/calibration"
	"github.com/deltacore/calibration/internal/config"
	"github.com/deltacore/calibration/internal/deltasim"
	"github.com/deltacore/calibration/internal/geometry"
	"github.com/deltacore/calibration/internal/kinematics"
	"github.com/deltacore/calibration/internal/motionlink"
	"github.com/deltacore/calibration/internal/probedriver"
	"github.com/deltacore/calibration/internal/repeatability"
	"github.com/deltacore/calibration/internal/surface"
	"github.com/deltacore/calibration/internal/telemetry"
)

var (
	configPath string
	logLevel   string
	serveAddr  string
	webDir     string
)

var rootCmd = &cobra.Command{
	Use:   "calibrationd",
	Short: "Delta-kinematic auto-calibration core, bench harness",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)
		if err := config.InitGlobal(configPath); err != nil {
			logrus.Fatalf("failed to load config from %s: %v", configPath, err)
		}
	},
}

var repeatabilityCmd = &cobra.Command{
	Use:   "repeatability",
	Short: "G29: run the probe repeatability tool",
	Run: func(cmd *cobra.Command, args []string) {
		c := buildCollaborators()
		var tracker repeatability.Tracker
		result, err := calibration.RunRepeatability(c, &tracker, repeatability.Config{})
		if err != nil {
			logrus.Fatalf("repeatability failed: %v", err)
		}
		logrus.WithFields(logrus.Fields{
			"sigma_steps":      result.StdDevSteps,
			"repeatability_mm": result.RepeatabilityMM,
			"samples":          len(result.Samples),
		}).Info("repeatability complete")
	},
}

var iterativeCmd = &cobra.Command{
	Use:   "iterative",
	Short: "G32: run the classical iterative calibrator",
	Run: func(cmd *cobra.Command, args []string) {
		c := buildCollaborators()
		result, err := calibration.RunIterative(c, false)
		if err != nil {
			logrus.Fatalf("iterative calibration failed: %v", err)
		}
		logrus.WithFields(logrus.Fields{
			"iterations":        result.Iterations,
			"endstop_converged": result.EndstopConverged,
			"radius_converged":  result.RadiusConverged,
		}).Info("iterative calibration complete")
	},
}

var annealCmd = &cobra.Command{
	Use:   "anneal",
	Short: "G31 heuristic: run the simulated annealer against a fresh depth-map probe",
	Run: func(cmd *cobra.Command, args []string) {
		c := buildCollaborators()
		if err := calibration.RunProbeAndSave(c, true); err != nil {
			logrus.Fatalf("depth-map probe failed: %v", err)
		}

		cfg := config.Get()
		opts := calibration.HeuristicOptions{
			Tries:          cfg.AnnealTries,
			MaxTemp:        cfg.AnnealMaxTemp,
			BinsearchWidth: cfg.AnnealBinsearchWidth,
			OverrunDivisor: cfg.AnnealOverrunDivisor,
			Workers:        cfg.AnnealWorkers,
		}
		opts.Caltypes[anneal.CaltypeEndstop] = anneal.CaltypeSetting{Active: cfg.CaltypeEndstopActive, TempMul: cfg.CaltypeEndstopTempMul}
		opts.Caltypes[anneal.CaltypeDeltaRadius] = anneal.CaltypeSetting{Active: cfg.CaltypeDeltaRadiusActive, TempMul: cfg.CaltypeDeltaRadiusTempMul}
		opts.Caltypes[anneal.CaltypeArmLength] = anneal.CaltypeSetting{Active: cfg.CaltypeArmLengthActive, TempMul: cfg.CaltypeArmLengthTempMul}
		opts.Caltypes[anneal.CaltypeTowerAngle] = anneal.CaltypeSetting{Active: cfg.CaltypeTowerAngleActive, TempMul: cfg.CaltypeTowerAngleTempMul}
		opts.Caltypes[anneal.CaltypeVirtualShimming] = anneal.CaltypeSetting{Active: cfg.CaltypeShimmingActive, TempMul: cfg.CaltypeShimmingTempMul}

		result, err := calibration.RunHeuristic(c, opts, c.Transform.DepthMap())
		if err != nil {
			logrus.Fatalf("anneal failed: %v", err)
		}
		logrus.WithFields(logrus.Fields{
			"tries":   result.Tries,
			"energy":  result.Energy,
			"stalled": result.Stalled,
			"settled": result.Settled,
		}).Info("anneal complete")
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the calibration websocket session and status API",
	Run: func(cmd *cobra.Command, args []string) {
		c := buildCollaborators()
		srv := calibration.NewServer(c)
		if err := srv.ListenAndServe(serveAddr, webDir); err != nil {
			logrus.Fatalf("server failed: %v", err)
		}
	},
}

// buildCollaborators wires up a bench/simulated Collaborators bundle from
// the loaded Config, the same role pickIMU/sensors.GetIMUManager plays for
// the teacher's guided calibration CLI — selecting and initializing the
// concrete hardware/simulation backend before the calibration logic runs.
func buildCollaborators() *calibration.Collaborators {
	cfg := config.Get()

	shape := geometry.Circle
	if cfg.GridShape == "SQUARE" {
		shape = geometry.Square
	}
	grid, err := geometry.Build(cfg.GridProbeRadius, cfg.GridN, shape)
	if err != nil {
		logrus.Fatalf("building grid: %v", err)
	}

	motor := motionlink.NewSim()
	arm := deltasim.New(250, 125)
	state := kinematics.New(arm, motor)
	if err := state.Apply(kinematics.Settings{ArmLength: 250, DeltaRadius: 125, Initialized: true}); err != nil {
		logrus.Fatalf("applying initial kinematic settings: %v", err)
	}

	transform := surface.New(grid)
	rawProbe := probedriver.NewSimProbe(motor, transform.GetAdjustZ, 100, 1000)
	probe, err := probedriver.New(motor, rawProbe, probedriver.Config{
		Smoothing:           cfg.ProbeSmoothing,
		Priming:             cfg.ProbePriming,
		Acceleration:        cfg.ProbeAcceleration,
		Offset:              geometry.Point3D{X: cfg.ProbeOffsetX, Y: cfg.ProbeOffsetY, Z: cfg.ProbeOffsetZ},
		FastFeedrate:        cfg.ProbeFastFeedrate,
		SlowFeedrate:        cfg.ProbeSlowFeedrate,
		DebounceCount:       cfg.ProbeDebounceCount,
		DecelerateOnTrigger: cfg.ProbeDecelerateOnTrigger,
		ProbeClearanceMM:    cfg.ProbeClearanceMM,
	})
	if err != nil {
		logrus.Fatalf("building probe adapter: %v", err)
	}

	var publisher *telemetry.Publisher
	if cfg.MQTTBroker != "" {
		p, err := telemetry.Connect(telemetry.Config{
			Broker:        cfg.MQTTBroker,
			ClientID:      cfg.MQTTClientIDCalibratord,
			TopicProgress: cfg.TopicProgress,
			TopicResult:   cfg.TopicResult,
		})
		if err != nil {
			logrus.Warnf("telemetry disabled: %v", err)
		} else {
			publisher = p
		}
	}

	return &calibration.Collaborators{
		Grid:         grid,
		Motor:        motor,
		Probe:        probe,
		State:        state,
		Transform:    transform,
		Arm:          arm,
		Log:          calibration.NewLogger(os.Stdout),
		Telemetry:    publisher,
		DepthMapPath: cfg.DepthMapPath,
	}
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "calibrationd.conf", "path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "info", "log level (debug, info, warn, error)")
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "HTTP listen address")
	serveCmd.Flags().StringVar(&webDir, "web-dir", "web", "static UI directory")

	rootCmd.AddCommand(repeatabilityCmd, iterativeCmd, annealCmd, serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
