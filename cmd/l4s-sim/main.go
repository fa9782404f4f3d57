// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

//go:build !js
// +build !js

// Package main runs L4S scenarios over a virtual network: remote hosts send
// PDCP units through a marking gNB bottleneck to UEs, which feed congestion
// marks back to the senders.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/pion/l4s-pdcp/stats"
	"github.com/pion/logging"
	"github.com/pion/transport/v3/vnet"
)

// flowMode defines the flows of a run: a single flow, multiple L4S flows or
// a classic flow sharing the bottleneck with an L4S flow.
type flowMode int

const (
	singleFlowMode flowMode = iota
	multipleFlowsMode
	coexistenceMode
)

var (
	errUnknownLogLevel = errors.New("unknown log level")
	errUnknownFlowMode = errors.New("unknown flow mode")
)

func main() {
	logLevel := flag.String("log", "info", "Log level")
	mode := flag.String("test", "single", "Scenario: single, multiple or coexistence")
	flows := flag.Int("flows", 2, "Number of flows in the multiple scenario")
	phaseFile := flag.String("phases", "", "Phase file, defaults to the scenario's embedded phases")
	capacity := flag.Int("capacity", 1*vnet.MBit, "Reference bottleneck capacity in bits per second")
	l4s := flag.Bool("l4s", true, "Mark congested units at the bottleneck")
	statsAddr := flag.String("stats", "", "Serve live plots on this address")
	output := flag.String("output", "data", "Directory for log files, empty to disable")
	delay := flag.Duration("delay", 10*time.Millisecond, "One-way base delay across the WAN")
	flag.Parse()

	loggerFactory, err := getLoggerFactory(*logLevel)
	if err != nil {
		log.Fatalf("get logger factory: %v", err)
	}
	logger := loggerFactory.NewLogger("l4s_sim")

	fm, err := parseFlowMode(*mode)
	if err != nil {
		log.Fatalf("parse flow mode: %v", err)
	}

	if *phaseFile == "" {
		*phaseFile = defaultPhaseFile(fm)
	}
	path, err := GetPathCharacteristics(*phaseFile, *capacity)
	if err != nil {
		log.Fatalf("get path characteristics: %v", err)
	}

	runner := Runner{
		loggerFactory:       loggerFactory,
		logger:              logger,
		name:                fmt.Sprintf("%v_l4s_%v", *mode, *l4s),
		flowMode:            fm,
		flows:               *flows,
		l4s:                 *l4s,
		baseDelay:           *delay,
		out:                 os.Stdout,
		pathCharacteristics: path,
	}
	if *output != "" {
		runner.dataDir = fmt.Sprintf("%v/%v", *output, runner.name)
	}

	if *statsAddr != "" {
		server := stats.New()
		runner.sink = server
		go func() {
			if err := server.Start(*statsAddr); err != nil {
				logger.Errorf("stats server: %v", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := runner.Run(ctx); err != nil {
		logger.Errorf("runner: %v", err)
		stop()
		os.Exit(1) //nolint:gocritic
	}
}

func parseFlowMode(mode string) (flowMode, error) {
	switch strings.ToLower(mode) {
	case "single":
		return singleFlowMode, nil
	case "multiple":
		return multipleFlowsMode, nil
	case "coexistence":
		return coexistenceMode, nil
	default:
		return 0, fmt.Errorf("%w: %v", errUnknownFlowMode, mode)
	}
}

func defaultPhaseFile(fm flowMode) string {
	switch fm {
	case multipleFlowsMode:
		return "phases/multiple_flows.json"
	case coexistenceMode:
		return "phases/coexistence.json"
	default:
		return "phases/single_flow.json"
	}
}

func getLoggerFactory(logLevel string) (*logging.DefaultLoggerFactory, error) {
	logLevels := map[string]logging.LogLevel{
		"disable": logging.LogLevelDisabled,
		"error":   logging.LogLevelError,
		"warn":    logging.LogLevelWarn,
		"info":    logging.LogLevelInfo,
		"debug":   logging.LogLevelDebug,
		"trace":   logging.LogLevelTrace,
	}

	level, ok := logLevels[strings.ToLower(logLevel)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errUnknownLogLevel, logLevel)
	}

	loggerFactory := &logging.DefaultLoggerFactory{
		Writer:          os.Stdout,
		DefaultLogLevel: level,
		ScopeLevels:     make(map[string]logging.LogLevel),
	}

	return loggerFactory, nil
}
