// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package receiver implements the sink of PDCP data units. It records
// per-flow statistics and returns RFC 8888 congestion feedback that carries
// the congestion flag of every unit as its ECN codepoint.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/pion/l4s-pdcp/flowstats"
	"github.com/pion/l4s-pdcp/logging"
	"github.com/pion/l4s-pdcp/pdcp"
	"github.com/pion/l4s-pdcp/stats"
	plogging "github.com/pion/logging"
	"github.com/pion/randutil"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"golang.org/x/sync/errgroup"
)

const (
	defaultFeedbackInterval = 50 * time.Millisecond
	absSendTimeExtensionID  = 1
	maxUnitSize             = 1500
)

var (
	errMissingPayload = errors.New("unit carries no payload")
	errOversizedUnit  = errors.New("unit exceeds maximum size")
)

// Sink receives live data points.
type Sink interface {
	Add(stats.DataPoint)
}

// Receiver reads PDCP units from a conn.
type Receiver struct {
	conn net.PacketConn
	ssrc uint32
	log  plogging.LeveledLogger

	packetLogWriter   io.Writer
	feedbackLogWriter io.Writer
	formatters        map[uint32]*logging.UnitFormatter

	interval  time.Duration
	collector *flowstats.Collector
	sink      Sink
	start     time.Time

	layer   pdcp.Layer
	payload gopacket.Payload
	parser  *gopacket.DecodingLayerParser
	decoded []gopacket.LayerType

	mu            sync.Mutex
	flows         map[uint32]*flowState
	feedbackAddrs map[uint32]net.Addr
	truncated     uint64
	invalid       uint64

	closeOnce sync.Once
	closed    chan struct{}
}

// NewReceiver returns a Receiver reading from conn.
func NewReceiver(conn net.PacketConn, opts ...Option) (*Receiver, error) {
	r := &Receiver{
		conn:              conn,
		ssrc:              randutil.NewMathRandomGenerator().Uint32(),
		log:               plogging.NewDefaultLoggerFactory().NewLogger("receiver"),
		packetLogWriter:   io.Discard,
		feedbackLogWriter: io.Discard,
		formatters:        make(map[uint32]*logging.UnitFormatter),
		interval:          defaultFeedbackInterval,
		collector:         flowstats.NewCollector(),
		flows:             make(map[uint32]*flowState),
		feedbackAddrs:     make(map[uint32]net.Addr),
		decoded:           []gopacket.LayerType{},
		closed:            make(chan struct{}),
	}
	r.parser = gopacket.NewDecodingLayerParser(pdcp.LayerTypePDCP, &r.layer, &r.payload)
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// Snapshots returns the statistics of every flow seen so far.
func (r *Receiver) Snapshots() []flowstats.Snapshot {
	return r.collector.Snapshots()
}

// Truncated returns the number of units dropped because they were too short
// to carry a PDCP header.
func (r *Receiver) Truncated() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.truncated
}

// Invalid returns the number of units dropped because they carried no
// parsable payload or exceeded the maximum unit size.
func (r *Receiver) Invalid() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.invalid
}

// Start receives units and sends feedback until ctx is done, the receiver is
// closed or the conn fails.
func (r *Receiver) Start(ctx context.Context) error {
	r.start = time.Now()
	wg, ctx := errgroup.WithContext(ctx)

	wg.Go(func() error {
		select {
		case <-ctx.Done():
		case <-r.closed:
		}

		return r.Close()
	})
	wg.Go(func() error {
		return r.readLoop()
	})
	wg.Go(func() error {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				r.sendFeedback(now)
			case <-ctx.Done():
				return nil
			case <-r.closed:
				return nil
			}
		}
	})

	return wg.Wait()
}

// Close stops the receiver and closes its conn.
func (r *Receiver) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.closed)
		err = r.conn.Close()
	})

	return err
}

func (r *Receiver) isClosed() bool {
	select {
	case <-r.closed:
		return true
	default:
		return false
	}
}

func (r *Receiver) readLoop() error {
	buf := make([]byte, maxUnitSize+1)
	for {
		n, src, err := r.conn.ReadFrom(buf)
		if err != nil {
			if r.isClosed() {
				return nil
			}

			return err
		}
		if n > maxUnitSize {
			r.mu.Lock()
			r.invalid++
			r.mu.Unlock()
			r.log.Warnf("dropping unit from %v: %v", src, errOversizedUnit)

			continue
		}
		if err = r.onUnit(buf[:n], src, time.Now()); err != nil {
			r.log.Warnf("dropping unit from %v: %v", src, err)
		}
	}
}

func (r *Receiver) onUnit(data []byte, src net.Addr, now time.Time) error {
	r.payload = nil
	if err := r.parser.DecodeLayers(data, &r.decoded); err != nil {
		r.mu.Lock()
		if errors.Is(err, pdcp.ErrTruncatedHeader) {
			r.truncated++
		} else {
			r.invalid++
		}
		r.mu.Unlock()

		return err
	}
	if len(r.decoded) < 2 {
		r.mu.Lock()
		r.invalid++
		r.mu.Unlock()

		return errMissingPayload
	}

	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(r.payload); err != nil {
		r.mu.Lock()
		r.invalid++
		r.mu.Unlock()

		return fmt.Errorf("invalid RTP payload: %w", err)
	}
	h := r.layer.Header

	obs := flowstats.Observation{
		SequenceNumber: h.SequenceNumber(),
		Congested:      h.Congested(),
		Size:           len(data),
		Arrival:        now,
	}
	if ext := pkt.GetExtension(absSendTimeExtensionID); ext != nil {
		var ast rtp.AbsSendTimeExtension
		if err := ast.Unmarshal(ext); err == nil {
			obs.Departure = ast.Estimate(now)
		}
	}
	r.collector.Observe(pkt.SSRC, obs)

	r.mu.Lock()
	flow, ok := r.flows[pkt.SSRC]
	if !ok {
		flow = newFlowState()
		r.flows[pkt.SSRC] = flow
	}
	flow.source = src
	flow.onArrival(pkt.SSRC, h.SequenceNumber(), now, h.Congested())
	formatter, ok := r.formatters[pkt.SSRC]
	if !ok {
		formatter = &logging.UnitFormatter{}
		r.formatters[pkt.SSRC] = formatter
	}
	line := formatter.Format(h, pkt, len(data))
	r.mu.Unlock()

	if _, err := io.WriteString(r.packetLogWriter, line); err != nil {
		r.log.Errorf("failed to write packet log: %v", err)
	}

	return nil
}

type outgoingReport struct {
	flowID uint32
	addr   net.Addr
	report *rtcp.CCFeedbackReport
}

func (r *Receiver) reports(now time.Time) []outgoingReport {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := []outgoingReport{}
	for flowID, flow := range r.flows {
		report, ok := flow.report(r.ssrc, now)
		if !ok {
			continue
		}
		addr, ok := r.feedbackAddrs[flowID]
		if !ok {
			addr = flow.source
		}
		out = append(out, outgoingReport{
			flowID: flowID,
			addr:   addr,
			report: report,
		})
	}

	return out
}

func (r *Receiver) sendFeedback(now time.Time) {
	for _, out := range r.reports(now) {
		buf, err := out.report.Marshal()
		if err != nil {
			r.log.Errorf("failed to marshal feedback for flow %v: %v", out.flowID, err)

			continue
		}
		if _, err = r.conn.WriteTo(buf, out.addr); err != nil {
			if !r.isClosed() {
				r.log.Errorf("failed to send feedback for flow %v: %v", out.flowID, err)
			}

			continue
		}
		if _, err = io.WriteString(r.feedbackLogWriter, logging.FeedbackFormat(out.report)); err != nil {
			r.log.Errorf("failed to write feedback log: %v", err)
		}
	}
	r.publish(now)
}

func (r *Receiver) publish(now time.Time) {
	if r.sink == nil {
		return
	}
	ts := now.Sub(r.start).Milliseconds()
	for _, snapshot := range r.collector.Snapshots() {
		r.mu.Lock()
		flow, ok := r.flows[snapshot.FlowID]
		var delta uint64
		if ok {
			delta = snapshot.Bytes - flow.lastBytes
			flow.lastBytes = snapshot.Bytes
		}
		r.mu.Unlock()

		r.sink.Add(stats.DataPoint{
			Label:     fmt.Sprintf("flow %v rate", snapshot.FlowID),
			Timestamp: ts,
			Value:     float64(delta*8) / r.interval.Seconds(),
		})
		r.sink.Add(stats.DataPoint{
			Label:     fmt.Sprintf("flow %v marked", snapshot.FlowID),
			Timestamp: ts,
			Value:     snapshot.MarkedRatio(),
		})
	}
}
