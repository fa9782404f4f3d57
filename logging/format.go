// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package logging

import (
	"fmt"
	"time"

	"github.com/pion/l4s-pdcp/pdcp"
	"github.com/pion/l4s-pdcp/seqnum"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

// UnitFormatter formats one line per data unit:
//
//	unixMillis, ssrc, sn, flag, size, rtpTimestamp, unwrappedSN
type UnitFormatter struct {
	seqnr seqnum.Unwrapper
	now   func() time.Time
}

// Format returns the log line of a unit of size bytes carrying h and pkt.
func (f *UnitFormatter) Format(h pdcp.Header, pkt *rtp.Packet, size int) string {
	now := time.Now
	if f.now != nil {
		now = f.now
	}

	return fmt.Sprintf("%v, %v, %v, %v, %v, %v, %v\n",
		now().UnixMilli(),
		pkt.SSRC,
		h.SequenceNumber(),
		h.CongestionFlag(),
		size,
		pkt.Timestamp,
		f.seqnr.Unwrap(h.SequenceNumber()),
	)
}

// FeedbackFormat formats one line per feedback report:
//
//	unixMillis, blocks, received, marked
func FeedbackFormat(report *rtcp.CCFeedbackReport) string {
	received, marked := 0, 0
	for _, block := range report.ReportBlocks {
		for _, mb := range block.MetricBlocks {
			if !mb.Received {
				continue
			}
			received++
			if mb.ECN == rtcp.ECNCE {
				marked++
			}
		}
	}

	return fmt.Sprintf("%v, %v, %v, %v\n", time.Now().UnixMilli(), len(report.ReportBlocks), received, marked)
}
