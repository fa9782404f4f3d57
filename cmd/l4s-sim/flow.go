// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

//go:build !js
// +build !js

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/pion/l4s-pdcp/logging"
	"github.com/pion/l4s-pdcp/marker"
	"github.com/pion/l4s-pdcp/receiver"
	"github.com/pion/l4s-pdcp/sender"
	plogging "github.com/pion/logging"
	"golang.org/x/sync/errgroup"
)

// Flow is one remote host streaming to one UE through the marker. Feedback
// travels from the UE back to the remote host without crossing the marker.
type Flow struct {
	id       uint32
	class    marker.Class
	sender   sndr
	receiver recv
}

// flowConfig is shared by all flows of a run.
type flowConfig struct {
	loggerFactory plogging.LoggerFactory
	nm            *NetworkManager
	marker        *marker.Marker
	markerAddr    net.Addr
	dataDir       string
	sink          receiver.Sink
}

// NewFlow attaches a sender to the left router and a receiver to the right
// router and routes the sender's units through the marker queue of class.
func NewFlow(config flowConfig, id uint32, class marker.Class) (Flow, error) {
	senderHost, err := config.nm.GetLeftNet()
	if err != nil {
		return Flow{}, fmt.Errorf("get left net: %w", err)
	}
	senderConn, senderAddr, err := senderHost.Listen()
	if err != nil {
		return Flow{}, fmt.Errorf("sender listen: %w", err)
	}

	rc, receiverAddr, err := newReceiver(config, id, senderAddr)
	if err != nil {
		return Flow{}, errors.Join(err, senderConn.Close())
	}

	snd, err := newSender(config, id, class, senderConn)
	if err != nil {
		return Flow{}, errors.Join(err, senderConn.Close(), rc.Close())
	}

	config.marker.AddRouteClass(senderAddr, receiverAddr, class)

	return Flow{
		id:       id,
		class:    class,
		sender:   snd,
		receiver: rc,
	}, nil
}

// Start runs the sender and the receiver on wg until ctx is done.
func (f Flow) Start(ctx context.Context, wg *errgroup.Group) {
	wg.Go(func() error {
		if err := f.receiver.receiver.Start(ctx); err != nil {
			return fmt.Errorf("flow %d receiver: %w", f.id, err)
		}

		return nil
	})
	wg.Go(func() error {
		if err := f.sender.sender.Start(ctx); err != nil {
			return fmt.Errorf("flow %d sender: %w", f.id, err)
		}

		return nil
	})
}

// Close stops the flow and closes its log files.
func (f Flow) Close() error {
	var errs []error
	err := f.receiver.Close()
	if err != nil {
		errs = append(errs, fmt.Errorf("receiver close: %w", err))
	}
	err = f.sender.Close()
	if err != nil {
		errs = append(errs, fmt.Errorf("sender close: %w", err))
	}

	return errors.Join(errs...)
}

type sndr struct {
	sender           *sender.Sender
	ccLogger         io.WriteCloser
	senderPDCPLogger io.WriteCloser
}

func (s sndr) Close() error {
	var errs []error

	err := s.sender.Close()
	if err != nil {
		errs = append(errs, err)
	}

	err = s.ccLogger.Close()
	if err != nil {
		errs = append(errs, err)
	}

	err = s.senderPDCPLogger.Close()
	if err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func newSender(config flowConfig, id uint32, class marker.Class, conn net.PacketConn) (sndr, error) {
	ccLogger, err := logging.GetLogFile(logPath(config.dataDir, id, "cc"))
	if err != nil {
		return sndr{}, fmt.Errorf("get cc log file: %w", err)
	}

	pdcpLogger, err := logging.GetLogFile(logPath(config.dataDir, id, "sender_pdcp"))
	if err != nil {
		return sndr{}, errors.Join(fmt.Errorf("get sender pdcp log file: %w", err), ccLogger.Close())
	}

	opts := []sender.Option{
		sender.SetLoggerFactory(config.loggerFactory),
		sender.PacketLogWriter(pdcpLogger),
		sender.CCLogWriter(ccLogger),
	}
	if class == marker.Classic {
		opts = append(opts, sender.Classic())
	}
	snd, err := sender.NewSender(conn, config.markerAddr, id, opts...)
	if err != nil {
		return sndr{}, errors.Join(fmt.Errorf("new sender: %w", err), ccLogger.Close(), pdcpLogger.Close())
	}

	return sndr{
		sender:           snd,
		ccLogger:         ccLogger,
		senderPDCPLogger: pdcpLogger,
	}, nil
}

type recv struct {
	receiver               *receiver.Receiver
	receiverPDCPLogger     io.WriteCloser
	receiverFeedbackLogger io.WriteCloser
}

func (r recv) Close() error {
	var errs []error

	err := r.receiver.Close()
	if err != nil {
		errs = append(errs, err)
	}

	err = r.receiverPDCPLogger.Close()
	if err != nil {
		errs = append(errs, err)
	}

	err = r.receiverFeedbackLogger.Close()
	if err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func newReceiver(config flowConfig, id uint32, senderAddr net.Addr) (recv, net.Addr, error) {
	host, err := config.nm.GetRightNet()
	if err != nil {
		return recv{}, nil, fmt.Errorf("get right net: %w", err)
	}
	conn, addr, err := host.Listen()
	if err != nil {
		return recv{}, nil, fmt.Errorf("receiver listen: %w", err)
	}

	pdcpLogger, err := logging.GetLogFile(logPath(config.dataDir, id, "receiver_pdcp"))
	if err != nil {
		return recv{}, nil, errors.Join(fmt.Errorf("get receiver pdcp log file: %w", err), conn.Close())
	}

	feedbackLogger, err := logging.GetLogFile(logPath(config.dataDir, id, "receiver_feedback"))
	if err != nil {
		return recv{}, nil, errors.Join(
			fmt.Errorf("get receiver feedback log file: %w", err), conn.Close(), pdcpLogger.Close(),
		)
	}

	opts := []receiver.Option{
		receiver.SetLoggerFactory(config.loggerFactory),
		receiver.PacketLogWriter(pdcpLogger),
		receiver.FeedbackLogWriter(feedbackLogger),
		receiver.FeedbackAddr(id, senderAddr),
	}
	if config.sink != nil {
		opts = append(opts, receiver.StatsSink(config.sink))
	}

	rc, err := receiver.NewReceiver(conn, opts...)
	if err != nil {
		return recv{}, nil, errors.Join(
			fmt.Errorf("new receiver: %w", err), conn.Close(), pdcpLogger.Close(), feedbackLogger.Close(),
		)
	}

	return recv{
		receiver:               rc,
		receiverPDCPLogger:     pdcpLogger,
		receiverFeedbackLogger: feedbackLogger,
	}, addr, nil
}

// logPath returns the log file of kind for flow id, or "" to discard the log
// when no data directory is set.
func logPath(dataDir string, id uint32, kind string) string {
	if dataDir == "" {
		return ""
	}

	return fmt.Sprintf("%v/%v_%v.log", dataDir, id, kind)
}
