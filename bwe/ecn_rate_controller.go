// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package bwe

import (
	"time"

	"github.com/pion/logging"
)

const (
	defaultECNGain = 1.0 / 16
	segmentBits    = 1200 * 8
	minRTT         = 10 * time.Millisecond
)

// ecnRateController is a scalable congestion controller in the style of
// DCTCP and TCP Prague. alpha is a moving average of the fraction of marked
// units; a round with marks reduces the rate by alpha/2, a round without
// marks adds one segment per RTT.
type ecnRateController struct {
	log      logging.LeveledLogger
	bitrate  int
	min, max float64
	gain     float64
	alpha    float64

	ackedSinceLastUpdate  int
	markedSinceLastUpdate int
}

func newECNRateController(initialRate, minRate, maxRate int, logger logging.LeveledLogger) *ecnRateController {
	return &ecnRateController{
		log:     logger,
		bitrate: initialRate,
		min:     float64(minRate),
		max:     float64(maxRate),
		gain:    defaultECNGain,
	}
}

func (c *ecnRateController) onPacketAcked(ecn ECN) {
	c.ackedSinceLastUpdate++
	if ecn == ECNCE {
		c.markedSinceLastUpdate++
	}
}

func (c *ecnRateController) update(lastDeliveryRate int, rtt time.Duration) int {
	if c.ackedSinceLastUpdate == 0 {
		return c.bitrate
	}

	fraction := float64(c.markedSinceLastUpdate) / float64(c.ackedSinceLastUpdate)
	c.alpha = (1-c.gain)*c.alpha + c.gain*fraction

	var target float64
	if c.markedSinceLastUpdate > 0 {
		target = float64(c.bitrate) * (1 - c.alpha/2)
		target = max(target, c.min)
	} else {
		target = float64(c.bitrate) + segmentBits/max(rtt, minRTT).Seconds()
		target = max(min(target, 1.5*float64(lastDeliveryRate)), float64(c.bitrate))
		target = min(target, c.max)
	}
	c.log.Tracef("alpha=%.4f, marked=%v/%v, target=%v", c.alpha, c.markedSinceLastUpdate, c.ackedSinceLastUpdate, int(target))
	c.bitrate = int(target)

	c.ackedSinceLastUpdate = 0
	c.markedSinceLastUpdate = 0

	return c.bitrate
}
