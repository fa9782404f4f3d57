// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package receiver

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/pion/logging"
)

var errInvalidFeedbackInterval = errors.New("invalid feedback interval")

// Option configures a Receiver.
type Option func(*Receiver) error

// SetLoggerFactory sets the logger factory used to create the receiver
// logger.
func SetLoggerFactory(lf logging.LoggerFactory) Option {
	return func(r *Receiver) error {
		r.log = lf.NewLogger("receiver")

		return nil
	}
}

// PacketLogWriter logs one line per received data unit to w.
func PacketLogWriter(w io.Writer) Option {
	return func(r *Receiver) error {
		r.packetLogWriter = w

		return nil
	}
}

// FeedbackLogWriter logs one line per sent feedback report to w.
func FeedbackLogWriter(w io.Writer) Option {
	return func(r *Receiver) error {
		r.feedbackLogWriter = w

		return nil
	}
}

// FeedbackInterval sets how often feedback reports are sent.
func FeedbackInterval(d time.Duration) Option {
	return func(r *Receiver) error {
		if d <= 0 {
			return fmt.Errorf("%w: %v", errInvalidFeedbackInterval, d)
		}
		r.interval = d

		return nil
	}
}

// FeedbackAddr sends the feedback of flowID to addr instead of the source
// address of its units.
func FeedbackAddr(flowID uint32, addr net.Addr) Option {
	return func(r *Receiver) error {
		r.feedbackAddrs[flowID] = addr

		return nil
	}
}

// StatsSink publishes per-flow rate and marking data points to sink after
// every feedback interval.
func StatsSink(sink Sink) Option {
	return func(r *Receiver) error {
		r.sink = sink

		return nil
	}
}
