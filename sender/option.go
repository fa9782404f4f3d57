// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package sender

import (
	"errors"
	"fmt"
	"io"

	"github.com/pion/l4s-pdcp/seqnum"
	"github.com/pion/logging"
)

var (
	errInvalidBitrate     = errors.New("invalid bitrate")
	errInvalidPayloadSize = errors.New("invalid payload size")
)

// Option configures a Sender.
type Option func(*Sender) error

// SetLoggerFactory sets the logger factory of the sender and its rate
// controller.
func SetLoggerFactory(lf logging.LoggerFactory) Option {
	return func(s *Sender) error {
		s.loggerFactory = lf
		s.log = lf.NewLogger("sender")

		return nil
	}
}

// PacketLogWriter logs one line per sent data unit to w.
func PacketLogWriter(w io.Writer) Option {
	return func(s *Sender) error {
		s.packetLogWriter = w

		return nil
	}
}

// CCLogWriter logs the target bitrate after every feedback report to w.
func CCLogWriter(w io.Writer) Option {
	return func(s *Sender) error {
		s.ccLogWriter = w

		return nil
	}
}

// InitialBitrate sets the starting target bitrate in bits per second.
func InitialBitrate(bps int) Option {
	return func(s *Sender) error {
		if bps <= 0 {
			return fmt.Errorf("%w: initial %v", errInvalidBitrate, bps)
		}
		s.initialBitrate = bps

		return nil
	}
}

// BitrateBounds sets the range of the target bitrate in bits per second.
func BitrateBounds(minBitrate, maxBitrate int) Option {
	return func(s *Sender) error {
		if minBitrate <= 0 || minBitrate > maxBitrate {
			return fmt.Errorf("%w: bounds [%v, %v]", errInvalidBitrate, minBitrate, maxBitrate)
		}
		s.minBitrate = minBitrate
		s.maxBitrate = maxBitrate

		return nil
	}
}

// PayloadSize sets the application payload size of every data unit.
func PayloadSize(n int) Option {
	return func(s *Sender) error {
		if n <= 0 || n > maxPayloadSize {
			return fmt.Errorf("%w: %v", errInvalidPayloadSize, n)
		}
		s.payloadSize = n

		return nil
	}
}

// InitialSequenceNumber sets the PDCP sequence number of the first unit.
// By default it is random.
func InitialSequenceNumber(sn uint16) Option {
	return func(s *Sender) error {
		s.sequence = seqnum.NewCounter(sn)

		return nil
	}
}

// Classic makes the sender a classic flow that reacts to loss only and
// ignores congestion marks.
func Classic() Option {
	return func(s *Sender) error {
		s.classic = true

		return nil
	}
}
