// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package bwe

import (
	"errors"
	"fmt"
	"time"

	"github.com/pion/logging"
)

var (
	errInvalidECNGain = errors.New("ECN gain must be in (0, 1]")
	errInvalidBounds  = errors.New("invalid bitrate bounds")
)

// Option configures a SendSideController.
type Option func(*SendSideController) error

// Logger sets the logger of the controller.
func Logger(l logging.LeveledLogger) Option {
	return func(ssc *SendSideController) error {
		ssc.log = l
		ssc.erc.log = l

		return nil
	}
}

// ECNGain sets the weight given to the newest marked fraction in the alpha
// moving average.
func ECNGain(g float64) Option {
	return func(ssc *SendSideController) error {
		if g <= 0 || g > 1 {
			return fmt.Errorf("%w: %v", errInvalidECNGain, g)
		}
		ssc.erc.gain = g

		return nil
	}
}

// LossBased makes the controller ignore congestion marks and follow the loss
// target only, like a classic loss-based sender.
func LossBased() Option {
	return func(ssc *SendSideController) error {
		ssc.lossBased = true

		return nil
	}
}

// SendSideController computes the target sending rate from acknowledgments.
type SendSideController struct {
	log          logging.LeveledLogger
	dre          *deliveryRateEstimator
	lbc          *lossRateController
	erc          *ecnRateController
	rate         int
	highestAcked uint64
	lossBased    bool
}

// NewSendSideController returns a controller starting at initialRate and
// bounded by [minRate, maxRate], all in bits per second.
func NewSendSideController(initialRate, minRate, maxRate int, opts ...Option) (*SendSideController, error) {
	if minRate <= 0 || minRate > maxRate || initialRate < minRate || initialRate > maxRate {
		return nil, fmt.Errorf("%w: initial=%v, min=%v, max=%v", errInvalidBounds, initialRate, minRate, maxRate)
	}
	ssc := &SendSideController{
		log:  logging.NewDefaultLoggerFactory().NewLogger("bwe_send_side_controller"),
		dre:  newDeliveryRateEstimator(time.Second),
		lbc:  newLossRateController(initialRate, minRate, maxRate),
		erc:  newECNRateController(initialRate, minRate, maxRate, logging.NewDefaultLoggerFactory().NewLogger("bwe_ecn_rate_controller")),
		rate: initialRate,
	}
	for _, opt := range opts {
		if err := opt(ssc); err != nil {
			return nil, err
		}
	}

	return ssc, nil
}

// OnAcks feeds a batch of acknowledgments received at arrival and returns the
// new target rate. Acknowledgments older than the highest acknowledged
// sequence number are ignored.
func (c *SendSideController) OnAcks(arrival time.Time, rtt time.Duration, acks []Acknowledgment) int {
	if len(acks) == 0 {
		return c.rate
	}

	for _, ack := range acks {
		if ack.SeqNr < c.highestAcked {
			continue
		}
		if ack.Arrived {
			if ack.SeqNr > c.highestAcked {
				c.highestAcked = ack.SeqNr
			}
			c.lbc.onPacketAcked()
			if !c.lossBased {
				c.erc.onPacketAcked(ack.ECN)
			}
			if !ack.Arrival.IsZero() {
				c.dre.onPacketAcked(ack.Arrival, int(ack.Size))
			}
		} else {
			c.lbc.onPacketLost()
		}
	}

	delivered := c.dre.getRate()
	lossTarget := c.lbc.update(delivered)
	ecnTarget := lossTarget
	if !c.lossBased {
		ecnTarget = c.erc.update(delivered, rtt)
	}
	c.rate = min(lossTarget, ecnTarget)
	c.log.Tracef(
		"arrival=%v, rtt=%v, delivered=%v, lossTarget=%v, ecnTarget=%v, target=%v",
		arrival.UnixMilli(), rtt.Nanoseconds(), delivered, lossTarget, ecnTarget, c.rate,
	)

	return c.rate
}

// Rate returns the current target rate in bits per second.
func (c *SendSideController) Rate() int {
	return c.rate
}

// Alpha returns the current moving average of the marked fraction.
func (c *SendSideController) Alpha() float64 {
	return c.erc.alpha
}
