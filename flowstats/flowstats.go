// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package flowstats collects per-flow delivery statistics at the receiver:
// throughput, loss and reordering derived from PDCP sequence numbers,
// congestion marks and one-way delay.
package flowstats

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pion/l4s-pdcp/seqnum"
)

// reorderWindow bounds how far behind the highest sequence number a late unit
// may arrive and still be counted as reordered instead of lost.
const reorderWindow = 4096

// Observation describes one received data unit.
type Observation struct {
	SequenceNumber uint16
	Congested      bool
	Size           int
	Arrival        time.Time
	// Departure is the send time carried by the unit, zero if unknown.
	Departure time.Time
}

// Snapshot is a point-in-time copy of a flow's counters.
type Snapshot struct {
	FlowID uint32

	Received   uint64
	Lost       uint64
	Duplicates uint64
	Reordered  uint64
	Marked     uint64
	Bytes      uint64

	HighestSequence int64

	FirstArrival time.Time
	LastArrival  time.Time

	DelaySamples uint64
	DelaySum     time.Duration
	DelayMin     time.Duration
	DelayMax     time.Duration
}

// Throughput returns the goodput in bits per second between the first and
// the last arrival.
func (s Snapshot) Throughput() float64 {
	d := s.LastArrival.Sub(s.FirstArrival)
	if d <= 0 {
		return 0
	}

	return float64(s.Bytes*8) / d.Seconds()
}

// LossRate returns the fraction of units lost.
func (s Snapshot) LossRate() float64 {
	total := s.Received + s.Lost
	if total == 0 {
		return 0
	}

	return float64(s.Lost) / float64(total)
}

// MarkedRatio returns the fraction of received units that carried the
// congestion flag.
func (s Snapshot) MarkedRatio() float64 {
	if s.Received == 0 {
		return 0
	}

	return float64(s.Marked) / float64(s.Received)
}

// MeanDelay returns the mean one-way delay.
func (s Snapshot) MeanDelay() time.Duration {
	if s.DelaySamples == 0 {
		return 0
	}

	return s.DelaySum / time.Duration(s.DelaySamples) //nolint:gosec
}

func (s Snapshot) String() string {
	return fmt.Sprintf(
		"flow=%d rx=%d lost=%d (%.2f%%) reordered=%d dup=%d marked=%d (%.2f%%) throughput=%.0fbps delay(mean/min/max)=%v/%v/%v",
		s.FlowID, s.Received, s.Lost, 100*s.LossRate(), s.Reordered, s.Duplicates,
		s.Marked, 100*s.MarkedRatio(), s.Throughput(), s.MeanDelay(), s.DelayMin, s.DelayMax,
	)
}

// Flow accumulates statistics for one flow. It is not safe for concurrent
// use; Collector serializes access.
type Flow struct {
	snapshot Snapshot
	started  bool
	lowest   int64
	missing  map[int64]struct{}
}

// NewFlow returns an empty Flow.
func NewFlow(id uint32) *Flow {
	return &Flow{
		snapshot: Snapshot{FlowID: id},
		missing:  make(map[int64]struct{}),
	}
}

// Observe records one received unit.
func (f *Flow) Observe(obs Observation) {
	s := &f.snapshot
	sn := int64(obs.SequenceNumber)
	if f.started {
		sn = s.HighestSequence + int64(seqnum.Distance(uint16(s.HighestSequence), obs.SequenceNumber)) //nolint:gosec
	}

	switch {
	case !f.started:
		f.started = true
		s.HighestSequence = sn
		f.lowest = sn
	case sn < f.lowest && s.HighestSequence-sn <= reorderWindow:
		// Sent before the first unit seen.
		for missing := sn + 1; missing < f.lowest; missing++ {
			f.missing[missing] = struct{}{}
		}
		s.Lost += uint64(f.lowest - sn - 1) //nolint:gosec
		s.Reordered++
		f.lowest = sn
	case sn > s.HighestSequence:
		for missing := s.HighestSequence + 1; missing < sn; missing++ {
			f.missing[missing] = struct{}{}
		}
		s.Lost += uint64(sn - s.HighestSequence - 1) //nolint:gosec
		s.HighestSequence = sn
		f.prune()
	default:
		if _, ok := f.missing[sn]; !ok {
			s.Duplicates++

			return
		}
		delete(f.missing, sn)
		s.Lost--
		s.Reordered++
	}

	s.Received++
	s.Bytes += uint64(obs.Size) //nolint:gosec
	if obs.Congested {
		s.Marked++
	}
	if s.FirstArrival.IsZero() || obs.Arrival.Before(s.FirstArrival) {
		s.FirstArrival = obs.Arrival
	}
	if obs.Arrival.After(s.LastArrival) {
		s.LastArrival = obs.Arrival
	}

	if !obs.Departure.IsZero() {
		delay := obs.Arrival.Sub(obs.Departure)
		if s.DelaySamples == 0 || delay < s.DelayMin {
			s.DelayMin = delay
		}
		if delay > s.DelayMax {
			s.DelayMax = delay
		}
		s.DelaySum += delay
		s.DelaySamples++
	}
}

func (f *Flow) prune() {
	if len(f.missing) <= reorderWindow {
		return
	}
	floor := f.snapshot.HighestSequence - reorderWindow
	for sn := range f.missing {
		if sn < floor {
			delete(f.missing, sn)
		}
	}
}

// Snapshot returns a copy of the counters.
func (f *Flow) Snapshot() Snapshot {
	return f.snapshot
}

// Collector keeps a Flow per flow ID and is safe for concurrent use.
type Collector struct {
	mu    sync.Mutex
	flows map[uint32]*Flow
}

// NewCollector returns an empty Collector.
func NewCollector() *Collector {
	return &Collector{flows: make(map[uint32]*Flow)}
}

// Observe records a unit for flowID, creating the flow on first use.
func (c *Collector) Observe(flowID uint32, obs Observation) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, ok := c.flows[flowID]
	if !ok {
		f = NewFlow(flowID)
		c.flows[flowID] = f
	}
	f.Observe(obs)

	return f.Snapshot()
}

// Snapshot returns the counters of flowID.
func (c *Collector) Snapshot(flowID uint32) (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, ok := c.flows[flowID]
	if !ok {
		return Snapshot{}, false
	}

	return f.Snapshot(), true
}

// Snapshots returns the counters of every flow ordered by flow ID.
func (c *Collector) Snapshots() []Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Snapshot, 0, len(c.flows))
	for _, f := range c.flows {
		out = append(out, f.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FlowID < out[j].FlowID })

	return out
}
