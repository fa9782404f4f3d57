// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

//go:build !js
// +build !js

// Package main runs a single PDCP endpoint on a real UDP socket: a sender, a
// receiver or a marking bottleneck.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pion/l4s-pdcp/logging"
	"github.com/pion/l4s-pdcp/marker"
	"github.com/pion/l4s-pdcp/receiver"
	"github.com/pion/l4s-pdcp/sender"
	"github.com/pion/l4s-pdcp/stats"
	plogging "github.com/pion/logging"
)

var (
	errInvalidMode  = errors.New("invalid mode")
	errInvalidRoute = errors.New("route must be src=dst or src=dst/classic")
	errMissingPeer  = errors.New("sender requires -peer")
)

type route struct {
	src, dst *net.UDPAddr
	class    marker.Class
}

// routeList collects repeated -route flags.
type routeList []route

func (r *routeList) String() string {
	parts := make([]string, 0, len(*r))
	for _, rt := range *r {
		part := rt.src.String() + "=" + rt.dst.String()
		if rt.class == marker.Classic {
			part += "/classic"
		}
		parts = append(parts, part)
	}

	return strings.Join(parts, ",")
}

func (r *routeList) Set(value string) error {
	src, dst, ok := strings.Cut(value, "=")
	if !ok {
		return fmt.Errorf("%w: %q", errInvalidRoute, value)
	}
	class := marker.L4S
	if addr, suffix, found := strings.Cut(dst, "/"); found {
		if suffix != "classic" {
			return fmt.Errorf("%w: %q", errInvalidRoute, value)
		}
		dst, class = addr, marker.Classic
	}
	srcAddr, err := net.ResolveUDPAddr("udp", src)
	if err != nil {
		return err
	}
	dstAddr, err := net.ResolveUDPAddr("udp", dst)
	if err != nil {
		return err
	}
	*r = append(*r, route{src: srcAddr, dst: dstAddr, class: class})

	return nil
}

type config struct {
	mode      string
	listen    string
	peer      string
	feedback  string
	flowID    uint
	rate      int
	l4s       bool
	classic   bool
	statsAddr string
	packetLog string
	ccLog     string
	routes    routeList
}

func parseFlags(args []string) (config, error) {
	var cfg config
	fs := flag.NewFlagSet("l4s-node", flag.ContinueOnError)
	fs.StringVar(&cfg.mode, "mode", "sender", "Mode: sender/receiver/marker")
	fs.StringVar(&cfg.listen, "listen", "0.0.0.0:0", "Local UDP address")
	fs.StringVar(&cfg.peer, "peer", "", "Sender: address of the marker or receiver")
	fs.StringVar(&cfg.feedback, "feedback", "", "Receiver: send feedback of -flow here instead of the unit source")
	fs.UintVar(&cfg.flowID, "flow", 1, "Flow ID")
	fs.IntVar(&cfg.rate, "rate", 10_000_000, "Marker: link rate in bits per second")
	fs.BoolVar(&cfg.l4s, "l4s", true, "Marker: mark congested units")
	fs.BoolVar(&cfg.classic, "classic", false, "Sender: react to loss only")
	fs.StringVar(&cfg.statsAddr, "stats", "", "Receiver: serve live plots on this address")
	fs.StringVar(&cfg.packetLog, "packet-log", "", "Per unit log file, stdout or empty")
	fs.StringVar(&cfg.ccLog, "cc-log", "", "Sender: target bitrate log file, receiver: feedback log file")
	fs.Var(&cfg.routes, "route", "Marker: forward units from src to dst (repeatable)")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	switch cfg.mode {
	case "sender":
		if cfg.peer == "" {
			return config{}, errMissingPeer
		}
	case "receiver", "marker":
	default:
		return config{}, fmt.Errorf("%w: %s", errInvalidMode, cfg.mode)
	}

	return cfg, nil
}

func realMain(ctx context.Context, cfg config, lf plogging.LoggerFactory) error {
	conn, err := net.ListenPacket("udp", cfg.listen)
	if err != nil {
		return err
	}
	lf.NewLogger("l4s_node").Infof("%v listening on %v", cfg.mode, conn.LocalAddr())

	packetLog, err := logging.GetLogFile(cfg.packetLog)
	if err != nil {
		return errors.Join(err, conn.Close())
	}
	defer func() {
		_ = packetLog.Close()
	}()
	ccLog, err := logging.GetLogFile(cfg.ccLog)
	if err != nil {
		return errors.Join(err, conn.Close())
	}
	defer func() {
		_ = ccLog.Close()
	}()

	switch cfg.mode {
	case "sender":
		return runSender(ctx, cfg, lf, conn, packetLog, ccLog)
	case "receiver":
		return runReceiver(ctx, cfg, lf, conn, packetLog, ccLog)
	default:
		return runMarker(ctx, cfg, lf, conn)
	}
}

func runSender(
	ctx context.Context, cfg config, lf plogging.LoggerFactory, conn net.PacketConn, packetLog, ccLog io.Writer,
) error {
	peer, err := net.ResolveUDPAddr("udp", cfg.peer)
	if err != nil {
		return errors.Join(err, conn.Close())
	}
	opts := []sender.Option{
		sender.SetLoggerFactory(lf),
		sender.PacketLogWriter(packetLog),
		sender.CCLogWriter(ccLog),
	}
	if cfg.classic {
		opts = append(opts, sender.Classic())
	}
	snd, err := sender.NewSender(conn, peer, uint32(cfg.flowID), opts...) //nolint:gosec
	if err != nil {
		return errors.Join(err, conn.Close())
	}

	return snd.Start(ctx)
}

func runReceiver(
	ctx context.Context, cfg config, lf plogging.LoggerFactory, conn net.PacketConn, packetLog, feedbackLog io.Writer,
) error {
	opts := []receiver.Option{
		receiver.SetLoggerFactory(lf),
		receiver.PacketLogWriter(packetLog),
		receiver.FeedbackLogWriter(feedbackLog),
	}
	if cfg.feedback != "" {
		addr, err := net.ResolveUDPAddr("udp", cfg.feedback)
		if err != nil {
			return errors.Join(err, conn.Close())
		}
		opts = append(opts, receiver.FeedbackAddr(uint32(cfg.flowID), addr)) //nolint:gosec
	}
	if cfg.statsAddr != "" {
		server := stats.New()
		opts = append(opts, receiver.StatsSink(server))
		go func() {
			if err := server.Start(cfg.statsAddr); err != nil {
				lf.NewLogger("stats").Errorf("stats server: %v", err)
			}
		}()
	}

	rc, err := receiver.NewReceiver(conn, opts...)
	if err != nil {
		return errors.Join(err, conn.Close())
	}
	err = rc.Start(ctx)

	logger := lf.NewLogger("l4s_node")
	for _, s := range rc.Snapshots() {
		logger.Infof("%v", s)
	}

	return err
}

func runMarker(ctx context.Context, cfg config, lf plogging.LoggerFactory, conn net.PacketConn) error {
	mk, err := marker.New(
		conn,
		marker.SetLoggerFactory(lf),
		marker.Rate(cfg.rate),
		marker.Marking(cfg.l4s),
	)
	if err != nil {
		return errors.Join(err, conn.Close())
	}
	for _, rt := range cfg.routes {
		mk.AddRouteClass(rt.src, rt.dst, rt.class)
	}

	return mk.Run(ctx)
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err = realMain(ctx, cfg, plogging.NewDefaultLoggerFactory()); err != nil {
		stop()
		log.Fatal(err) //nolint:gocritic
	}
}
