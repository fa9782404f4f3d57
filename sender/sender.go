// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package sender implements a paced traffic source that sends RTP packets
// inside PDCP data units and adapts its rate to congestion feedback.
package sender

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pion/l4s-pdcp/bwe"
	"github.com/pion/l4s-pdcp/internal/ntp"
	"github.com/pion/l4s-pdcp/logging"
	"github.com/pion/l4s-pdcp/packet"
	"github.com/pion/l4s-pdcp/pdcp"
	"github.com/pion/l4s-pdcp/seqnum"
	plogging "github.com/pion/logging"
	"github.com/pion/randutil"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"golang.org/x/sync/errgroup"
)

const (
	initialBitrate = 1_000_000
	minBitrate     = 100_000
	maxBitrate     = 50_000_000

	defaultPayloadSize = 1200
	maxPayloadSize     = 1400

	payloadType            = 96
	rtpClockRate           = 90000
	absSendTimeExtensionID = 1
	mtu                    = 1500 - pdcp.HeaderSize

	pacingInterval = 5 * time.Millisecond
	historyMaxAge  = 2 * time.Second
	initialRTT     = 100 * time.Millisecond
	maxBurstUnits  = 4
)

// unitPayloader puts the whole application payload in a single RTP packet.
type unitPayloader struct{}

func (unitPayloader) Payload(mtu uint16, payload []byte) [][]byte {
	if len(payload) > int(mtu) {
		payload = payload[:mtu]
	}

	return [][]byte{payload}
}

// Sender sends one flow of PDCP units to a peer and reads RFC 8888 feedback
// on the same conn.
type Sender struct {
	conn   net.PacketConn
	peer   net.Addr
	flowID uint32

	log           plogging.LeveledLogger
	loggerFactory plogging.LoggerFactory

	packetLogWriter io.Writer
	ccLogWriter     io.Writer
	formatter       logging.UnitFormatter

	initialBitrate int
	minBitrate     int
	maxBitrate     int
	payloadSize    int
	classic        bool

	packetizer rtp.Packetizer
	payload    []byte
	sequence   *seqnum.Counter
	controller *bwe.SendSideController

	mu       sync.Mutex
	history  *history
	rate     int
	rtt      time.Duration
	lastSend time.Time

	closeOnce sync.Once
	closed    chan struct{}
}

// NewSender returns a Sender of flow flowID writing to peer over conn.
func NewSender(conn net.PacketConn, peer net.Addr, flowID uint32, opts ...Option) (*Sender, error) {
	s := &Sender{
		conn:            conn,
		peer:            peer,
		flowID:          flowID,
		log:             plogging.NewDefaultLoggerFactory().NewLogger("sender"),
		loggerFactory:   plogging.NewDefaultLoggerFactory(),
		packetLogWriter: io.Discard,
		ccLogWriter:     io.Discard,
		initialBitrate:  initialBitrate,
		minBitrate:      minBitrate,
		maxBitrate:      maxBitrate,
		payloadSize:     defaultPayloadSize,
		sequence:        seqnum.NewCounter(uint16(randutil.NewMathRandomGenerator().Uint32())), //nolint:gosec
		history:         newHistory(historyMaxAge),
		rtt:             initialRTT,
		closed:          make(chan struct{}),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	bweOpts := []bwe.Option{bwe.Logger(s.loggerFactory.NewLogger("bwe"))}
	if s.classic {
		bweOpts = append(bweOpts, bwe.LossBased())
	}
	controller, err := bwe.NewSendSideController(s.initialBitrate, s.minBitrate, s.maxBitrate, bweOpts...)
	if err != nil {
		return nil, err
	}
	s.controller = controller
	s.rate = s.initialBitrate

	s.packetizer = rtp.NewPacketizer(mtu, payloadType, flowID, unitPayloader{}, rtp.NewRandomSequencer(), rtpClockRate)
	s.packetizer.EnableAbsSendTime(absSendTimeExtensionID)
	s.payload = make([]byte, s.payloadSize)

	return s, nil
}

// TargetBitrate returns the current target bitrate in bits per second.
func (s *Sender) TargetBitrate() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.rate
}

// Start sends units until ctx is done, the sender is closed or the conn
// fails.
func (s *Sender) Start(ctx context.Context) error {
	wg, ctx := errgroup.WithContext(ctx)

	wg.Go(func() error {
		select {
		case <-ctx.Done():
		case <-s.closed:
		}

		return s.Close()
	})
	wg.Go(func() error {
		return s.readFeedback()
	})
	wg.Go(func() error {
		return s.pace(ctx)
	})

	return wg.Wait()
}

// Close stops the sender and closes its conn.
func (s *Sender) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.conn.Close()
	})

	return err
}

func (s *Sender) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *Sender) pace(ctx context.Context) error {
	ticker := time.NewTicker(pacingInterval)
	defer ticker.Stop()

	last := time.Now()
	s.mu.Lock()
	s.lastSend = last
	s.mu.Unlock()

	maxBurst := float64(maxBurstUnits * (s.payloadSize + pdcp.HeaderSize))
	budget := 0.0
	lastLog := last
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.closed:
			return nil
		case now := <-ticker.C:
			rate := s.TargetBitrate()
			budget = min(budget+float64(rate)*now.Sub(last).Seconds()/8, maxBurst)
			last = now
			for budget > 0 {
				n, err := s.sendUnit(now)
				if err != nil {
					if s.isClosed() {
						return nil
					}

					return err
				}
				budget -= float64(n)
			}
			if now.Sub(lastLog) >= time.Second {
				s.log.Infof("flow %v targetBitrate = %v", s.flowID, rate)
				lastLog = now
			}
		}
	}
}

func (s *Sender) sendUnit(now time.Time) (int, error) {
	s.mu.Lock()
	samples := uint32(now.Sub(s.lastSend).Seconds() * rtpClockRate)
	s.lastSend = now
	s.mu.Unlock()

	s.packetizer.SkipSamples(samples)
	pkts := s.packetizer.Packetize(s.payload, 0)
	if len(pkts) == 0 {
		return 0, fmt.Errorf("%w: packetizer returned no packets", errInvalidPayloadSize)
	}
	rtpPacket := pkts[0]
	raw, err := rtpPacket.Marshal()
	if err != nil {
		return 0, err
	}

	h := pdcp.NewHeader(0, s.sequence.Next())
	unit := packet.FromWire(raw)
	if err = unit.AddHeader(&h); err != nil {
		return 0, err
	}
	data := unit.Bytes()

	if _, err = s.conn.WriteTo(data, s.peer); err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.history.add(h.SequenceNumber(), now, len(data))
	s.mu.Unlock()

	if _, err = io.WriteString(s.packetLogWriter, s.formatter.Format(h, rtpPacket, len(data))); err != nil {
		s.log.Errorf("failed to write packet log: %v", err)
	}

	return len(data), nil
}

func (s *Sender) readFeedback() error {
	buf := make([]byte, 1500)
	for {
		n, _, err := s.conn.ReadFrom(buf)
		if err != nil {
			if s.isClosed() {
				return nil
			}

			return err
		}
		now := time.Now()

		pkts, err := rtcp.Unmarshal(buf[:n])
		if err != nil {
			s.log.Warnf("dropping invalid feedback: %v", err)

			continue
		}
		for _, pkt := range pkts {
			if report, ok := pkt.(*rtcp.CCFeedbackReport); ok {
				s.onFeedback(report, now)
			}
		}
	}
}

func (s *Sender) onFeedback(report *rtcp.CCFeedbackReport, now time.Time) {
	s.mu.Lock()
	acks, rtt := s.acknowledgments(report, now)
	if rtt > 0 {
		s.rtt = rtt
	}
	rtt = s.rtt
	s.history.prune(now)
	s.mu.Unlock()

	if len(acks) == 0 {
		return
	}
	rate := s.controller.OnAcks(now, rtt, acks)

	s.mu.Lock()
	s.rate = rate
	s.mu.Unlock()

	if _, err := fmt.Fprintf(s.ccLogWriter, "%v, %v\n", now.UnixMilli(), rate); err != nil {
		s.log.Errorf("failed to write cc log: %v", err)
	}
}

// acknowledgments maps the metric blocks of this flow to acknowledgments and
// returns the smallest RTT sample of the report. s.mu must be held.
func (s *Sender) acknowledgments(report *rtcp.CCFeedbackReport, now time.Time) ([]bwe.Acknowledgment, time.Duration) {
	reportTime := ntp.ToTime32(report.ReportTimestamp, now)
	acks := []bwe.Acknowledgment{}
	var rtt time.Duration

	for _, block := range report.ReportBlocks {
		if block.MediaSSRC != s.flowID {
			continue
		}
		for i, mb := range block.MetricBlocks {
			sn := block.BeginSequence + uint16(i) //nolint:gosec
			unwrapped, unit, ok := s.history.take(sn)
			if !ok || unwrapped < 0 {
				continue
			}
			ack := bwe.Acknowledgment{
				SeqNr:     uint64(unwrapped),
				Size:      uint16(unit.size), //nolint:gosec
				Departure: unit.departure,
				Arrived:   mb.Received,
			}
			if mb.Received {
				hold := time.Duration(mb.ArrivalTimeOffset) * time.Second / 1024
				ack.Arrival = reportTime.Add(-hold)
				ack.ECN = bwe.ECN(mb.ECN)
				if sample := now.Sub(unit.departure) - hold; sample > 0 && (rtt == 0 || sample < rtt) {
					rtt = sample
				}
			}
			acks = append(acks, ack)
		}
	}

	return acks, rtt
}
