// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

//go:build !js
// +build !js

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/pion/l4s-pdcp/flowstats"
	"github.com/pion/l4s-pdcp/marker"
	"github.com/pion/l4s-pdcp/receiver"
	"github.com/pion/logging"
	"golang.org/x/sync/errgroup"
)

const minMultipleFlows = 2

var errNoPhasesToRun = errors.New("no phases to run")

// Runner drives one scenario: it builds the topology, starts the flows,
// walks through the phases and prints a summary.
type Runner struct {
	loggerFactory       logging.LoggerFactory
	logger              logging.LeveledLogger
	name                string
	flowMode            flowMode
	flows               int
	l4s                 bool
	dataDir             string
	baseDelay           time.Duration
	sink                receiver.Sink
	out                 io.Writer
	pathCharacteristics pathCharacteristics
}

// FlowResult summarizes one flow at the end of a run.
type FlowResult struct {
	ID            uint32
	Class         marker.Class
	TargetBitrate int
	Stats         flowstats.Snapshot
	Truncated     uint64
	Invalid       uint64
}

// Result summarizes a run.
type Result struct {
	Marker marker.Counters
	Flows  []FlowResult
}

// Run executes the scenario until all phases have passed or ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	res, err := r.run(ctx)
	if err != nil {
		return err
	}
	if r.out != nil {
		writeSummary(r.out, r.name, res)
	}

	return nil
}

func (r *Runner) numFlows() (int, error) {
	switch r.flowMode {
	case singleFlowMode:
		return 1, nil
	case multipleFlowsMode:
		return max(r.flows, minMultipleFlows), nil
	case coexistenceMode:
		return 2, nil
	default:
		return 0, fmt.Errorf("%w: %v", errUnknownFlowMode, r.flowMode)
	}
}

// flowClass returns the class of the i-th flow. In the coexistence scenario
// the first flow is classic.
func (r *Runner) flowClass(i int) marker.Class {
	if r.flowMode == coexistenceMode && i == 0 {
		return marker.Classic
	}

	return marker.L4S
}

func (r *Runner) run(ctx context.Context) (Result, error) {
	numFlows, err := r.numFlows()
	if err != nil {
		return Result{}, err
	}
	phases := r.pathCharacteristics.phases
	if len(phases) == 0 {
		return Result{}, errNoPhasesToRun
	}

	if r.dataDir != "" {
		if err = os.MkdirAll(r.dataDir, 0o750); err != nil {
			return Result{}, fmt.Errorf("mkdir data: %w", err)
		}
	}

	nm, err := NewManager(ManagerLoggerFactory(r.loggerFactory), BaseDelay(r.baseDelay))
	if err != nil {
		return Result{}, fmt.Errorf("new manager: %w", err)
	}
	defer r.closeManager(nm)

	mk, markerAddr, err := r.newMarker(nm, phases[0])
	if err != nil {
		return Result{}, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		return mk.Run(ctx)
	})

	config := flowConfig{
		loggerFactory: r.loggerFactory,
		nm:            nm,
		marker:        mk,
		markerAddr:    markerAddr,
		dataDir:       r.dataDir,
		sink:          r.sink,
	}
	flows := make([]Flow, 0, numFlows)
	for i := 0; i < numFlows; i++ {
		flow, flowErr := NewFlow(config, uint32(i+1), r.flowClass(i)) //nolint:gosec
		if flowErr != nil {
			cancel()

			return Result{}, errors.Join(fmt.Errorf("setup flow %d: %w", i+1, flowErr), wg.Wait(), r.closeFlows(flows))
		}
		flows = append(flows, flow)
		flow.Start(ctx, wg)
	}

	r.runNetworkSimulation(ctx, nm, mk)

	cancel()
	err = wg.Wait()
	if closeErr := r.closeFlows(flows); closeErr != nil {
		r.logger.Errorf("flow close: %v", closeErr)
	}
	if err != nil {
		return Result{}, err
	}

	return collectResult(mk, flows), nil
}

func (r *Runner) newMarker(nm *NetworkManager, first phase) (*marker.Marker, net.Addr, error) {
	host, err := nm.GetCoreNet()
	if err != nil {
		return nil, nil, fmt.Errorf("get core net: %w", err)
	}
	conn, addr, err := host.Listen()
	if err != nil {
		return nil, nil, fmt.Errorf("marker listen: %w", err)
	}

	mk, err := marker.New(
		conn,
		marker.SetLoggerFactory(r.loggerFactory),
		marker.Rate(r.phaseCapacity(first)),
		marker.MarkThreshold(first.markThreshold),
		marker.Marking(r.l4s),
	)
	if err != nil {
		return nil, nil, errors.Join(fmt.Errorf("new marker: %w", err), conn.Close())
	}

	return mk, addr, nil
}

func (r *Runner) phaseCapacity(p phase) int {
	return int(float64(r.pathCharacteristics.referenceCapacity) * p.capacityRatio)
}

func (r *Runner) runNetworkSimulation(ctx context.Context, nm *NetworkManager, mk *marker.Marker) {
	for _, phase := range r.pathCharacteristics.phases {
		r.logger.Infof("enter next phase: %v", phase)
		if err := r.applyPhase(nm, mk, phase); err != nil {
			r.logger.Errorf("apply phase: %v", err)
		}

		timer := time.NewTimer(phase.duration)
		select {
		case <-ctx.Done():
			timer.Stop()

			return
		case <-timer.C:
		}
	}
}

func (r *Runner) applyPhase(nm *NetworkManager, mk *marker.Marker, p phase) error {
	capacity := r.phaseCapacity(p)
	nm.SetCapacity(capacity, p.maxBurst)

	return errors.Join(
		mk.SetRate(capacity),
		mk.SetLossRate(p.dataLossRate),
		mk.SetMarkThreshold(p.markThreshold),
		nm.SetAckLossRate(p.ackLossRate),
	)
}

func (r *Runner) closeFlows(flows []Flow) error {
	var errs []error
	for _, flow := range flows {
		if err := flow.Close(); err != nil {
			errs = append(errs, fmt.Errorf("flow %d: %w", flow.id, err))
		}
	}

	return errors.Join(errs...)
}

func (r *Runner) closeManager(nm *NetworkManager) {
	if err := nm.Close(); err != nil {
		r.logger.Errorf("network manager close: %v", err)
	}
}

func collectResult(mk *marker.Marker, flows []Flow) Result {
	res := Result{Marker: mk.Counters()}
	for _, flow := range flows {
		fr := FlowResult{
			ID:            flow.id,
			Class:         flow.class,
			TargetBitrate: flow.sender.sender.TargetBitrate(),
			Truncated:     flow.receiver.receiver.Truncated(),
			Invalid:       flow.receiver.receiver.Invalid(),
			Stats:         flowstats.Snapshot{FlowID: flow.id},
		}
		for _, s := range flow.receiver.receiver.Snapshots() {
			if s.FlowID == flow.id {
				fr.Stats = s
			}
		}
		res.Flows = append(res.Flows, fr)
	}

	return res
}

func writeSummary(w io.Writer, name string, res Result) {
	_, _ = fmt.Fprintf(w, "== %v ==\n", name)
	_, _ = fmt.Fprintf(w, "marker: %v\n", res.Marker)
	for _, fr := range res.Flows {
		_, _ = fmt.Fprintf(
			w, "%v target=%vbps truncated=%v invalid=%v %v\n",
			fr.Class, fr.TargetBitrate, fr.Truncated, fr.Invalid, fr.Stats,
		)
	}
}
