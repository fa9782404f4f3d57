// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

//go:build !js
// +build !js

package receiver

import (
	"bytes"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/l4s-pdcp/pdcp"
	"github.com/pion/l4s-pdcp/stats"
	plogging "github.com/pion/logging"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listen(t *testing.T) net.PacketConn {
	t.Helper()
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func unit(t *testing.T, flowID uint32, flag uint8, sn uint16, departure time.Time) []byte {
	t.Helper()
	pkt := &rtp.Packet{
		Header:  rtp.Header{Version: 2, PayloadType: 96, SSRC: flowID, SequenceNumber: sn},
		Payload: []byte{1, 2, 3, 4},
	}
	if !departure.IsZero() {
		ext, err := rtp.NewAbsSendTimeExtension(departure).Marshal()
		require.NoError(t, err)
		require.NoError(t, pkt.SetExtension(absSendTimeExtensionID, ext))
	}
	raw, err := pkt.Marshal()
	require.NoError(t, err)
	h, err := pdcp.NewHeader(flag, sn).Marshal()
	require.NoError(t, err)

	return append(h, raw...)
}

type captureSink struct {
	mu     sync.Mutex
	points []stats.DataPoint
}

func (c *captureSink) Add(d stats.DataPoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.points = append(c.points, d)
}

func (c *captureSink) labels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := []string{}
	for _, p := range c.points {
		out = append(out, p.Label)
	}

	return out
}

func TestOptions(t *testing.T) {
	_, err := NewReceiver(nil, FeedbackInterval(0))
	assert.ErrorIs(t, err, errInvalidFeedbackInterval)

	addr := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 5000}
	r, err := NewReceiver(nil,
		SetLoggerFactory(plogging.NewDefaultLoggerFactory()),
		PacketLogWriter(&bytes.Buffer{}),
		FeedbackLogWriter(&bytes.Buffer{}),
		FeedbackInterval(time.Second),
		FeedbackAddr(3, addr),
		StatsSink(&captureSink{}),
	)
	require.NoError(t, err)
	assert.Equal(t, time.Second, r.interval)
	assert.Equal(t, addr, r.feedbackAddrs[3])
}

func TestReceiver_OnUnit(t *testing.T) {
	logBuf := &bytes.Buffer{}
	r, err := NewReceiver(nil, PacketLogWriter(logBuf))
	require.NoError(t, err)
	src := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1}
	now := time.Now()

	require.NoError(t, r.onUnit(unit(t, 9, 0, 10, now.Add(-5*time.Millisecond)), src, now))
	require.NoError(t, r.onUnit(unit(t, 9, 1, 12, time.Time{}), src, now))

	snapshots := r.Snapshots()
	require.Len(t, snapshots, 1)
	s := snapshots[0]
	assert.Equal(t, uint32(9), s.FlowID)
	assert.Equal(t, uint64(2), s.Received)
	assert.Equal(t, uint64(1), s.Lost)
	assert.Equal(t, uint64(1), s.Marked)
	assert.Equal(t, uint64(1), s.DelaySamples)
	assert.InDelta(t, float64(5*time.Millisecond), float64(s.MeanDelay()), float64(100*time.Microsecond))

	lines := strings.Split(strings.TrimSpace(logBuf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], ", 9, 12, 1, ")
}

func TestReceiver_OnUnitRejects(t *testing.T) {
	r, err := NewReceiver(nil)
	require.NoError(t, err)
	src := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1}
	now := time.Now()

	err = r.onUnit([]byte{0x80, 0x00}, src, now)
	assert.ErrorIs(t, err, pdcp.ErrTruncatedHeader)
	assert.Equal(t, uint64(1), r.Truncated())

	err = r.onUnit([]byte{0x80, 0x00, 0x01}, src, now)
	assert.ErrorIs(t, err, errMissingPayload)

	err = r.onUnit([]byte{0x80, 0x00, 0x01, 0xFF}, src, now)
	assert.Error(t, err)

	assert.Empty(t, r.Snapshots(), "rejected units are never counted")
	assert.Equal(t, uint64(2), r.Invalid())
}

func TestFlowState_Report(t *testing.T) {
	f := newFlowState()
	base := time.Now()
	_, ok := f.report(7, base)
	assert.False(t, ok)

	f.onArrival(4, 100, base, false)
	f.onArrival(4, 101, base.Add(time.Millisecond), false)
	f.onArrival(4, 103, base.Add(2*time.Millisecond), true)

	report, ok := f.report(7, base.Add(10*time.Millisecond))
	require.True(t, ok)
	assert.Equal(t, uint32(7), report.SenderSSRC)
	require.Len(t, report.ReportBlocks, 1)
	block := report.ReportBlocks[0]
	assert.Equal(t, uint32(4), block.MediaSSRC)
	assert.Equal(t, uint16(100), block.BeginSequence)
	assert.Equal(t, []rtcp.CCFeedbackMetricBlock{
		{Received: true, ECN: rtcp.ECNECT1, ArrivalTimeOffset: 10},
		{Received: true, ECN: rtcp.ECNECT1, ArrivalTimeOffset: 9},
		{Received: false, ECN: rtcp.ECNNonECT},
		{Received: true, ECN: rtcp.ECNCE, ArrivalTimeOffset: 8},
	}, block.MetricBlocks)

	_, ok = f.report(7, base.Add(20*time.Millisecond))
	assert.False(t, ok, "no report without new arrivals")

	f.onArrival(4, 102, base.Add(21*time.Millisecond), false)
	report, ok = f.report(7, base.Add(30*time.Millisecond))
	require.True(t, ok)
	block = report.ReportBlocks[0]
	assert.Equal(t, uint16(102), block.BeginSequence)
	require.Len(t, block.MetricBlocks, 2)
	assert.True(t, block.MetricBlocks[0].Received)
	assert.Equal(t, rtcp.ECNCE, block.MetricBlocks[1].ECN)
}

func TestReceiver_DropsOversizedUnits(t *testing.T) {
	conn := listen(t)
	sender := listen(t)
	r, err := NewReceiver(conn)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Start(ctx) }()

	big := unit(t, 3, 0, 1, time.Time{})
	big = append(big, make([]byte, maxUnitSize+1-len(big))...)
	_, err = sender.WriteTo(big, conn.LocalAddr())
	require.NoError(t, err)
	_, err = sender.WriteTo(unit(t, 3, 0, 2, time.Time{}), conn.LocalAddr())
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return r.Invalid() == 1 && len(r.Snapshots()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(1), r.Snapshots()[0].Received)

	cancel()
	assert.NoError(t, <-done)
}

func TestReceiver_SendsFeedback(t *testing.T) {
	conn := listen(t)
	sender := listen(t)
	feedback := listen(t)
	sink := &captureSink{}
	fbLog := &bytes.Buffer{}

	r, err := NewReceiver(conn,
		FeedbackInterval(10*time.Millisecond),
		FeedbackAddr(5, feedback.LocalAddr()),
		FeedbackLogWriter(fbLog),
		StatsSink(sink),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Start(ctx) }()

	for sn, flag := range []uint8{0, 1, 1} {
		_, err = sender.WriteTo(unit(t, 5, flag, uint16(sn), time.Now()), conn.LocalAddr()) //nolint:gosec
		require.NoError(t, err)
	}

	received, marked := 0, 0
	buf := make([]byte, 1500)
	require.NoError(t, feedback.SetReadDeadline(time.Now().Add(2*time.Second)))
	for received < 3 {
		n, _, readErr := feedback.ReadFrom(buf)
		require.NoError(t, readErr)
		pkts, unmarshalErr := rtcp.Unmarshal(buf[:n])
		require.NoError(t, unmarshalErr)
		require.Len(t, pkts, 1)
		report, ok := pkts[0].(*rtcp.CCFeedbackReport)
		require.True(t, ok)
		for _, block := range report.ReportBlocks {
			assert.Equal(t, uint32(5), block.MediaSSRC)
			for _, mb := range block.MetricBlocks {
				if mb.Received {
					received++
				}
				if mb.ECN == rtcp.ECNCE {
					marked++
				}
			}
		}
	}
	assert.Equal(t, 3, received)
	assert.Equal(t, 2, marked)

	cancel()
	assert.NoError(t, <-done)
	assert.NotEmpty(t, fbLog.String())
	assert.Contains(t, sink.labels(), "flow 5 rate")
	assert.Contains(t, sink.labels(), "flow 5 marked")
}
