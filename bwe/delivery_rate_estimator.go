// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package bwe

import (
	"sort"
	"time"
)

type deliverySample struct {
	arrival time.Time
	size    int
}

// deliveryRateEstimator measures the receive rate over a sliding window of
// arrival times.
type deliveryRateEstimator struct {
	window  time.Duration
	samples []deliverySample
	bytes   int
}

func newDeliveryRateEstimator(window time.Duration) *deliveryRateEstimator {
	return &deliveryRateEstimator{window: window}
}

func (e *deliveryRateEstimator) onPacketAcked(arrival time.Time, size int) {
	i := sort.Search(len(e.samples), func(i int) bool {
		return e.samples[i].arrival.After(arrival)
	})
	e.samples = append(e.samples, deliverySample{})
	copy(e.samples[i+1:], e.samples[i:])
	e.samples[i] = deliverySample{arrival: arrival, size: size}
	e.bytes += size

	latest := e.samples[len(e.samples)-1].arrival
	drop := 0
	for drop < len(e.samples) && latest.Sub(e.samples[drop].arrival) > e.window {
		e.bytes -= e.samples[drop].size
		drop++
	}
	e.samples = e.samples[drop:]
}

// getRate returns the delivery rate in bits per second, 0 until at least two
// arrivals are inside the window.
func (e *deliveryRateEstimator) getRate() int {
	if len(e.samples) < 2 {
		return 0
	}
	span := e.samples[len(e.samples)-1].arrival.Sub(e.samples[0].arrival)
	if span <= 0 {
		return 0
	}

	return int(float64(e.bytes*8) / span.Seconds())
}
