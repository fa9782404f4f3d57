// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package bwe

import (
	"testing"
	"time"

	"github.com/pion/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSendSideController_Validation(t *testing.T) {
	tests := []struct {
		name              string
		initial, min, max int
		opts              []Option
		expectErr         error
	}{
		{name: "valid", initial: 1_000_000, min: 100_000, max: 10_000_000},
		{name: "zero min", initial: 1_000_000, min: 0, max: 10_000_000, expectErr: errInvalidBounds},
		{name: "min above max", initial: 1_000_000, min: 2_000_000, max: 1_500_000, expectErr: errInvalidBounds},
		{name: "initial below min", initial: 10, min: 100_000, max: 10_000_000, expectErr: errInvalidBounds},
		{name: "initial above max", initial: 20_000_000, min: 100_000, max: 10_000_000, expectErr: errInvalidBounds},
		{name: "zero gain", initial: 1_000_000, min: 100_000, max: 10_000_000, opts: []Option{ECNGain(0)}, expectErr: errInvalidECNGain},
		{name: "gain above one", initial: 1_000_000, min: 100_000, max: 10_000_000, opts: []Option{ECNGain(1.5)}, expectErr: errInvalidECNGain},
		{
			name: "options", initial: 1_000_000, min: 100_000, max: 10_000_000,
			opts: []Option{ECNGain(0.5), Logger(logging.NewDefaultLoggerFactory().NewLogger("test"))},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ssc, err := NewSendSideController(tt.initial, tt.min, tt.max, tt.opts...)
			if tt.expectErr != nil {
				assert.ErrorIs(t, err, tt.expectErr)
				assert.Nil(t, ssc)

				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.initial, ssc.Rate())
		})
	}
}

func acks(start time.Time, from, to uint64, arrived bool, ecn ECN) []Acknowledgment {
	out := []Acknowledgment{}
	for seq := from; seq < to; seq++ {
		ack := Acknowledgment{
			SeqNr:     seq,
			Size:      1200,
			Departure: start.Add(time.Duration(seq) * 10 * time.Millisecond),
			Arrived:   arrived,
			ECN:       ecn,
		}
		if arrived {
			ack.Arrival = ack.Departure.Add(20 * time.Millisecond)
		}
		out = append(out, ack)
	}

	return out
}

func TestSendSideController_OnAcks(t *testing.T) {
	ssc, err := NewSendSideController(1_000_000, 100_000, 10_000_000)
	require.NoError(t, err)
	start := time.Unix(10, 0)
	rtt := 125 * time.Millisecond

	assert.Equal(t, 1_000_000, ssc.OnAcks(start, rtt, nil), "no acks keeps the rate")

	rate := ssc.OnAcks(start.Add(time.Second), rtt, acks(start, 0, 10, true, ECNCE))
	assert.Equal(t, 968_750, rate, "fully marked round cuts by alpha/2")
	assert.InDelta(t, 1.0/16, ssc.Alpha(), 1e-12)

	rate = ssc.OnAcks(start.Add(2*time.Second), rtt, acks(start, 10, 20, true, ECNECT1))
	assert.Equal(t, 968_750+76_800, rate, "unmarked round adds one segment per RTT")
	assert.InDelta(t, 15.0/256, ssc.Alpha(), 1e-12)

	rate = ssc.OnAcks(start.Add(3*time.Second), rtt, acks(start, 5, 9, false, ECNNonECT))
	assert.Equal(t, 1_045_550, rate, "acks below the highest acknowledged are ignored")

	rate = ssc.OnAcks(start.Add(4*time.Second), rtt, acks(start, 20, 30, false, ECNNonECT))
	assert.Equal(t, 551_250, rate, "heavy loss halves the loss target")
	assert.Equal(t, rate, ssc.Rate())
}

func TestSendSideController_LossBasedIgnoresMarks(t *testing.T) {
	ssc, err := NewSendSideController(1_000_000, 100_000, 10_000_000, LossBased())
	require.NoError(t, err)
	start := time.Unix(10, 0)
	rtt := 125 * time.Millisecond

	rate := ssc.OnAcks(start.Add(time.Second), rtt, acks(start, 0, 10, true, ECNCE))
	assert.GreaterOrEqual(t, rate, 1_000_000, "marks alone never cut a loss based rate")
	assert.Zero(t, ssc.Alpha())

	rate = ssc.OnAcks(start.Add(2*time.Second), rtt, acks(start, 10, 20, false, ECNNonECT))
	assert.Less(t, rate, 1_000_000, "loss still cuts it")
}

func TestSendSideController_RespectsBounds(t *testing.T) {
	ssc, err := NewSendSideController(200_000, 150_000, 250_000, ECNGain(1))
	require.NoError(t, err)
	start := time.Unix(0, 0)

	rate := ssc.OnAcks(start, 50*time.Millisecond, acks(start, 0, 10, true, ECNCE))
	assert.Equal(t, 150_000, rate)

	var seq uint64 = 10
	for i := 0; i < 100; i++ {
		rate = ssc.OnAcks(start, 50*time.Millisecond, acks(start, seq, seq+10, true, ECNECT1))
		seq += 10
	}
	assert.Equal(t, 250_000, rate)
}

func TestLossRateController(t *testing.T) {
	tests := []struct {
		name     string
		acked    int
		lost     int
		delivery int
		expect   int
	}{
		{name: "no packets", expect: 1_000_000},
		{name: "no loss increases", acked: 100, delivery: 2_000_000, expect: 1_050_000},
		{name: "increase capped by delivery rate", acked: 100, delivery: 680_000, expect: 1_020_000},
		{name: "never below current on low loss", acked: 100, delivery: 100_000, expect: 1_000_000},
		{name: "moderate loss holds", acked: 95, lost: 5, delivery: 2_000_000, expect: 1_000_000},
		{name: "heavy loss decreases", acked: 80, lost: 20, delivery: 2_000_000, expect: 900_000},
		{name: "floored at min", acked: 0, lost: 100, delivery: 2_000_000, expect: 600_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lrc := newLossRateController(1_000_000, 600_000, 5_000_000)
			for i := 0; i < tt.acked; i++ {
				lrc.onPacketAcked()
			}
			for i := 0; i < tt.lost; i++ {
				lrc.onPacketLost()
			}
			assert.Equal(t, tt.expect, lrc.update(tt.delivery))
		})
	}
}

func TestECNRateController_AlphaConverges(t *testing.T) {
	erc := newECNRateController(1_000_000, 1, 10_000_000, logging.NewDefaultLoggerFactory().NewLogger("test"))
	for i := 0; i < 200; i++ {
		erc.onPacketAcked(ECNCE)
		erc.onPacketAcked(ECNECT1)
		erc.update(0, 0)
	}
	assert.InDelta(t, 0.5, erc.alpha, 1e-3)
	assert.Equal(t, 1, erc.bitrate, "repeated cuts stop at the minimum")

	alpha := erc.alpha
	assert.Equal(t, 1, erc.update(0, 0), "no acks keeps the rate")
	assert.Equal(t, alpha, erc.alpha)
}

func TestDeliveryRateEstimator(t *testing.T) {
	start := time.Unix(0, 0)
	dre := newDeliveryRateEstimator(time.Second)
	assert.Equal(t, 0, dre.getRate())

	dre.onPacketAcked(start, 1000)
	assert.Equal(t, 0, dre.getRate(), "single sample has no span")

	dre.onPacketAcked(start.Add(500*time.Millisecond), 1000)
	dre.onPacketAcked(start.Add(250*time.Millisecond), 1000)
	assert.Equal(t, 48_000, dre.getRate())

	dre.onPacketAcked(start.Add(1500*time.Millisecond), 1000)
	assert.Equal(t, 16_000, dre.getRate(), "samples older than the window are dropped")
}

func TestECN_String(t *testing.T) {
	assert.Equal(t, "CE", ECNCE.String())
	assert.Equal(t, "ECT(1)", ECNECT1.String())
	assert.Equal(t, "ECT(0)", ECNECT0.String())
	assert.Equal(t, "Non-ECT", ECNNonECT.String())
	assert.Equal(t, "ECN(7)", ECN(7).String())
	assert.Contains(t, Acknowledgment{SeqNr: 3, ECN: ECNCE}.String(), "seq=3")
}
