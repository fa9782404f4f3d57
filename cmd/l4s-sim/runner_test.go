// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

//go:build !js
// +build !js

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pion/l4s-pdcp/flowstats"
	"github.com/pion/l4s-pdcp/marker"
	"github.com/pion/logging"
	"github.com/pion/transport/v3/vnet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRunner(mode flowMode, ratio float64) Runner {
	lf := logging.NewDefaultLoggerFactory()

	return Runner{
		loggerFactory: lf,
		logger:        lf.NewLogger("l4s_sim_test"),
		name:          "test",
		flowMode:      mode,
		flows:         2,
		l4s:           true,
		pathCharacteristics: pathCharacteristics{
			referenceCapacity: 1 * vnet.MBit,
			phases: []phase{
				{
					duration:      2 * time.Second,
					capacityRatio: ratio,
					maxBurst:      160 * vnet.KBit,
					markThreshold: marker.DefaultMarkThreshold,
				},
			},
		},
	}
}

func TestRunner_SingleFlow(t *testing.T) {
	runner := testRunner(singleFlowMode, 0.5)
	runner.dataDir = filepath.Join(t.TempDir(), "single")

	res, err := runner.run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Flows, 1)
	flow := res.Flows[0]
	assert.Equal(t, uint32(1), flow.ID)
	assert.Equal(t, uint32(1), flow.Stats.FlowID)
	assert.Positive(t, flow.Stats.Received)
	assert.Positive(t, flow.TargetBitrate)
	assert.Zero(t, flow.Truncated)

	assert.Positive(t, res.Marker.Forwarded)
	assert.GreaterOrEqual(t, res.Marker.Received, res.Marker.Forwarded)

	for _, kind := range []string{"cc", "sender_pdcp", "receiver_pdcp", "receiver_feedback"} {
		info, statErr := os.Stat(filepath.Join(runner.dataDir, "1_"+kind+".log"))
		require.NoError(t, statErr, kind)
		assert.Positive(t, info.Size(), kind)
	}
}

func TestRunner_MultipleFlows(t *testing.T) {
	runner := testRunner(multipleFlowsMode, 2)

	res, err := runner.run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Flows, 2)
	for i, flow := range res.Flows {
		assert.Equal(t, uint32(i+1), flow.ID) //nolint:gosec
		assert.Positive(t, flow.Stats.Received, "flow %d", flow.ID)
	}
}

func TestRunner_Coexistence(t *testing.T) {
	runner := testRunner(coexistenceMode, 0.5)

	res, err := runner.run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Flows, 2)
	assert.Equal(t, marker.Classic, res.Flows[0].Class)
	assert.Equal(t, marker.L4S, res.Flows[1].Class)
	for _, flow := range res.Flows {
		assert.Positive(t, flow.Stats.Received, "flow %d", flow.ID)
	}
	assert.Zero(t, res.Flows[0].Stats.Marked, "classic units are never marked")
}

func TestRunner_WithoutMarking(t *testing.T) {
	runner := testRunner(singleFlowMode, 0.5)
	runner.l4s = false

	res, err := runner.run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, res.Marker.Marked)
	require.Len(t, res.Flows, 1)
	assert.Zero(t, res.Flows[0].Stats.Marked)
}

func TestRunner_Cancelled(t *testing.T) {
	runner := testRunner(singleFlowMode, 1)
	runner.pathCharacteristics.phases[0].duration = time.Minute
	out := &bytes.Buffer{}
	runner.out = out

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	start := time.Now()
	require.NoError(t, runner.Run(ctx))
	assert.Less(t, time.Since(start), 30*time.Second)
	assert.Contains(t, out.String(), "== test ==")
}

func TestRunner_Errors(t *testing.T) {
	runner := testRunner(flowMode(42), 1)
	_, err := runner.run(context.Background())
	assert.ErrorIs(t, err, errUnknownFlowMode)

	runner = testRunner(singleFlowMode, 1)
	runner.pathCharacteristics.phases = nil
	_, err = runner.run(context.Background())
	assert.ErrorIs(t, err, errNoPhasesToRun)
}

func TestWriteSummary(t *testing.T) {
	out := &bytes.Buffer{}
	writeSummary(out, "demo", Result{
		Marker: marker.Counters{Received: 3, Forwarded: 2, Marked: 1},
		Flows: []FlowResult{
			{ID: 7, TargetBitrate: 500_000, Invalid: 1, Stats: flowstats.Snapshot{FlowID: 7, Received: 2}},
			{ID: 8, Class: marker.Classic, TargetBitrate: 300_000, Stats: flowstats.Snapshot{FlowID: 8}},
		},
	})

	assert.Contains(t, out.String(), "== demo ==\n")
	assert.Contains(t, out.String(), "marker: received=3, forwarded=2, marked=1")
	assert.Contains(t, out.String(), "L4S target=500000bps truncated=0 invalid=1 flow=7 rx=2")
	assert.Contains(t, out.String(), "classic target=300000bps truncated=0 invalid=0 flow=8 rx=0")
}

func TestParseFlowMode(t *testing.T) {
	fm, err := parseFlowMode("Multiple")
	require.NoError(t, err)
	assert.Equal(t, multipleFlowsMode, fm)
	assert.Equal(t, "phases/multiple_flows.json", defaultPhaseFile(fm))

	fm, err = parseFlowMode("coexistence")
	require.NoError(t, err)
	assert.Equal(t, coexistenceMode, fm)
	assert.Equal(t, "phases/coexistence.json", defaultPhaseFile(fm))

	fm, err = parseFlowMode("single")
	require.NoError(t, err)
	assert.Equal(t, "phases/single_flow.json", defaultPhaseFile(fm))

	_, err = parseFlowMode("mesh")
	assert.ErrorIs(t, err, errUnknownFlowMode)
}

func TestGetLoggerFactory(t *testing.T) {
	lf, err := getLoggerFactory("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, logging.LogLevelDebug, lf.DefaultLogLevel)

	_, err = getLoggerFactory("verbose")
	assert.ErrorIs(t, err, errUnknownLogLevel)
}
