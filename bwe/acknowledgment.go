// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package bwe implements the sender-side rate controller driven by per-unit
// feedback: a loss-based controller and an L4S controller that reacts to
// congestion marks.
package bwe

import (
	"fmt"
	"time"
)

// ECN represents the ECN codepoint reported for a data unit.
type ECN uint8

const (
	// ECNNonECT signals Non ECN-Capable Transport, Non-ECT.
	// nolint:misspell
	ECNNonECT ECN = iota // 00

	// ECNECT1 signals ECN Capable Transport, ECT(1).
	// nolint:misspell
	ECNECT1 // 01

	// ECNECT0 signals ECN Capable Transport, ECT(0).
	// nolint:misspell
	ECNECT0 // 10

	// ECNCE signals ECN Congestion Experienced, CE.
	// nolint:misspell
	ECNCE // 11
)

func (e ECN) String() string {
	switch e {
	case ECNNonECT:
		return "Non-ECT"
	case ECNECT1:
		return "ECT(1)"
	case ECNECT0:
		return "ECT(0)"
	case ECNCE:
		return "CE"
	default:
		return fmt.Sprintf("ECN(%d)", uint8(e))
	}
}

// An Acknowledgment stores send and receive information about a data unit.
// SeqNr is the unwrapped PDCP sequence number.
type Acknowledgment struct {
	SeqNr     uint64
	Size      uint16
	Departure time.Time
	Arrived   bool
	Arrival   time.Time
	ECN       ECN
}

func (a Acknowledgment) String() string {
	return fmt.Sprintf("seq=%v, departure=%v, arrival=%v, ecn=%v", a.SeqNr, a.Departure, a.Arrival, a.ECN)
}
