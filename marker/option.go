// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package marker

import (
	"fmt"
	"time"

	"github.com/pion/logging"
)

// Option configures a Marker.
type Option func(*Marker) error

// SetLoggerFactory sets the logger factory used to create the marker logger.
func SetLoggerFactory(lf logging.LoggerFactory) Option {
	return func(m *Marker) error {
		m.log = lf.NewLogger("marker")

		return nil
	}
}

// Rate sets the initial link rate in bits per second. 0 disables pacing.
func Rate(bps int) Option {
	return func(m *Marker) error {
		return m.SetRate(bps)
	}
}

// QueueSize sets the queue capacity in bytes.
func QueueSize(bytes int) Option {
	return func(m *Marker) error {
		if bytes <= 0 {
			return fmt.Errorf("%w: %v", errInvalidQueueSize, bytes)
		}
		m.queueLimit = bytes

		return nil
	}
}

// MarkThreshold sets the sojourn time at or above which units are marked.
func MarkThreshold(d time.Duration) Option {
	return func(m *Marker) error {
		return m.SetMarkThreshold(d)
	}
}

// Marking enables or disables congestion marking.
func Marking(enabled bool) Option {
	return func(m *Marker) error {
		m.SetMarking(enabled)

		return nil
	}
}

// LossRate sets the initial random loss rate in percent.
func LossRate(percent float64) Option {
	return func(m *Marker) error {
		return m.SetLossRate(percent)
	}
}

// PITarget sets the queue delay the AQM steers towards.
func PITarget(d time.Duration) Option {
	return func(m *Marker) error {
		if d <= 0 {
			return fmt.Errorf("%w: PI target %v", errInvalidThreshold, d)
		}
		m.dq.target = d

		return nil
	}
}
