// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package receiver

import (
	"net"
	"time"

	"github.com/pion/interceptor/pkg/rfc8888"
	"github.com/pion/rtcp"
)

const maxReportSize = 1200

// flowState is the receive side of one flow: its RFC 8888 recorder and the
// address its units come from.
type flowState struct {
	recorder *rfc8888.Recorder
	source   net.Addr
	pending  bool

	lastBytes uint64
}

func newFlowState() *flowState {
	return &flowState{recorder: rfc8888.NewRecorder()}
}

// onArrival records a unit. A set congestion flag is reported as CE, every
// other unit as ECT(1).
func (f *flowState) onArrival(flowID uint32, sn uint16, at time.Time, congested bool) {
	ecn := rtcp.ECNECT1
	if congested {
		ecn = rtcp.ECNCE
	}
	f.recorder.AddPacket(at, flowID, sn, uint8(ecn))
	f.pending = true
}

// report builds the feedback for the units recorded since the previous
// report. It returns false when nothing arrived in between.
func (f *flowState) report(senderSSRC uint32, now time.Time) (*rtcp.CCFeedbackReport, bool) {
	if !f.pending {
		return nil, false
	}
	f.pending = false
	report := f.recorder.BuildReport(now, maxReportSize)
	report.SenderSSRC = senderSSRC

	return report, true
}
