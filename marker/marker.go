// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package marker implements an L4S bottleneck. It sits between the senders
// and the receivers and queues PDCP units in front of a rate limited link.
// L4S and classic units wait in separate queues coupled by a DualQ PI2 AQM:
// L4S units get their congestion flag set when they waited longer than the
// marking threshold or by the coupled probability, classic units are dropped.
package marker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/l4s-pdcp/packet"
	"github.com/pion/l4s-pdcp/pdcp"
	"github.com/pion/logging"
	"github.com/pion/randutil"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultMarkThreshold is the L4S step threshold on queue sojourn time.
	DefaultMarkThreshold = time.Millisecond

	defaultQueueSize = 150_000
	maxUnitSize      = 1500
)

var (
	errInvalidRate      = errors.New("invalid link rate")
	errInvalidQueueSize = errors.New("invalid queue size")
	errInvalidThreshold = errors.New("invalid mark threshold")
	errInvalidLossRate  = errors.New("invalid loss rate")
	errNoRoute          = errors.New("no route")
	errOversizedUnit    = errors.New("unit exceeds maximum size")
)

// Counters holds the marker statistics.
type Counters struct {
	Received  uint64
	Forwarded uint64
	Marked    uint64
	Dropped   uint64
	Lost      uint64
	Truncated uint64
	// AQMDropped counts classic units dropped by the AQM.
	AQMDropped uint64
	// Oversized counts datagrams longer than a unit may be.
	Oversized uint64
}

func (c Counters) String() string {
	return fmt.Sprintf(
		"received=%v, forwarded=%v, marked=%v, dropped=%v, lost=%v, truncated=%v, aqm_dropped=%v, oversized=%v",
		c.Received, c.Forwarded, c.Marked, c.Dropped, c.Lost, c.Truncated, c.AQMDropped, c.Oversized,
	)
}

type queuedUnit struct {
	data     []byte
	src      net.Addr
	class    Class
	enqueued time.Time
}

type route struct {
	dst   net.Addr
	class Class
}

type verdict int

const (
	verdictForward verdict = iota
	verdictMark
	verdictDrop
)

// Marker forwards PDCP units between endpoints through a bounded dual queue
// drained at the link rate.
type Marker struct {
	conn net.PacketConn
	log  logging.LeveledLogger
	rand randutil.MathRandomGenerator

	mu         sync.Mutex
	routes     map[string]route
	dq         *dualQueue
	queueLimit int
	rate       int
	threshold  time.Duration
	marking    bool
	lossRate   float64
	counters   Counters

	notify    chan struct{}
	closeOnce sync.Once
	closed    chan struct{}
}

// New returns a Marker reading units from conn.
func New(conn net.PacketConn, opts ...Option) (*Marker, error) {
	m := &Marker{
		conn:       conn,
		log:        logging.NewDefaultLoggerFactory().NewLogger("marker"),
		rand:       randutil.NewMathRandomGenerator(),
		routes:     make(map[string]route),
		dq:         newDualQueue(DefaultPITarget),
		queueLimit: defaultQueueSize,
		threshold:  DefaultMarkThreshold,
		marking:    true,
		notify:     make(chan struct{}, 1),
		closed:     make(chan struct{}),
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// AddRoute forwards every unit received from src to dst through the L4S
// queue.
func (m *Marker) AddRoute(src, dst net.Addr) {
	m.AddRouteClass(src, dst, L4S)
}

// AddRouteClass forwards every unit received from src to dst through the
// queue of class.
func (m *Marker) AddRouteClass(src, dst net.Addr, class Class) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes[src.String()] = route{dst: dst, class: class}
}

// SetRate sets the link rate in bits per second. 0 disables pacing.
func (m *Marker) SetRate(bps int) error {
	if bps < 0 {
		return fmt.Errorf("%w: %v", errInvalidRate, bps)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rate = bps

	return nil
}

// SetMarkThreshold sets the sojourn time at or above which units are marked.
func (m *Marker) SetMarkThreshold(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("%w: %v", errInvalidThreshold, d)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threshold = d

	return nil
}

// SetMarking enables or disables the AQM. Without it units are neither
// marked nor dropped by the AQM.
func (m *Marker) SetMarking(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marking = enabled
}

// SetLossRate sets the percentage of units dropped at random on arrival.
func (m *Marker) SetLossRate(percent float64) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("%w: %v", errInvalidLossRate, percent)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lossRate = percent

	return nil
}

// Counters returns a copy of the current statistics.
func (m *Marker) Counters() Counters {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.counters
}

// Run forwards units until ctx is done or the conn fails.
func (m *Marker) Run(ctx context.Context) error {
	wg, ctx := errgroup.WithContext(ctx)

	wg.Go(func() error {
		select {
		case <-ctx.Done():
		case <-m.closed:
		}

		return m.Close()
	})
	wg.Go(func() error {
		return m.readLoop()
	})
	wg.Go(func() error {
		return m.drain(ctx)
	})
	wg.Go(func() error {
		ticker := time.NewTicker(piUpdateInterval)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				m.updateAQM(now)
			case <-ctx.Done():
				return nil
			case <-m.closed:
				return nil
			}
		}
	})

	err := wg.Wait()
	m.log.Infof("marker stopped: %v", m.Counters())

	return err
}

// Close stops the marker and closes its conn.
func (m *Marker) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.closed)
		err = m.conn.Close()
	})

	return err
}

func (m *Marker) isClosed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

func (m *Marker) readLoop() error {
	buf := make([]byte, maxUnitSize+1)
	for {
		n, src, err := m.conn.ReadFrom(buf)
		if err != nil {
			if m.isClosed() {
				return nil
			}

			return err
		}
		if n > maxUnitSize {
			m.mu.Lock()
			m.counters.Received++
			m.counters.Oversized++
			m.mu.Unlock()
			m.log.Warnf("dropping unit from %v: %v", src, errOversizedUnit)

			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		m.enqueue(data, src, time.Now())
	}
}

func (m *Marker) enqueue(data []byte, src net.Addr, now time.Time) {
	var h pdcp.Header
	if _, err := packet.FromWire(data).PeekHeader(&h); err != nil {
		m.mu.Lock()
		m.counters.Received++
		m.counters.Truncated++
		m.mu.Unlock()
		m.log.Warnf("dropping unit from %v: %v", src, err)

		return
	}

	m.mu.Lock()
	m.counters.Received++
	if m.chance(m.lossRate / 100) {
		m.counters.Lost++
		m.mu.Unlock()

		return
	}
	if m.dq.bytes+len(data) > m.queueLimit {
		m.counters.Dropped++
		m.mu.Unlock()
		m.log.Tracef("queue full, dropping sn=%v", h.SequenceNumber())

		return
	}
	m.dq.push(queuedUnit{data: data, src: src, class: m.routes[src.String()].class, enqueued: now})
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// chance reports true with probability p. m.mu must be held.
func (m *Marker) chance(p float64) bool {
	return p > 0 && float64(m.rand.Intn(1_000_000)) < p*1_000_000
}

func (m *Marker) updateAQM(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dq.update(now)
}

// pop removes the next unit from the dual queue and decides whether to
// forward, mark or drop it.
func (m *Marker) pop(now time.Time) (queuedUnit, verdict, time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	class, ok := m.dq.next(now)
	if !ok {
		return queuedUnit{}, verdictForward, 0, false
	}
	sojourn := m.dq.sojourn(class, now)
	u := m.dq.pop(class)

	if m.marking && class == Classic && m.chance(m.dq.classicProbability()) {
		m.counters.AQMDropped++

		return u, verdictDrop, 0, true
	}

	var txTime time.Duration
	if m.rate > 0 {
		txTime = time.Duration(float64(len(u.data)*8) / float64(m.rate) * float64(time.Second))
	}
	if m.marking && class == L4S && (sojourn >= m.threshold || m.chance(m.dq.coupledProbability())) {
		return u, verdictMark, txTime, true
	}

	return u, verdictForward, txTime, true
}

func (m *Marker) drain(ctx context.Context) error {
	var linkFree time.Time
	for {
		if wait := time.Until(linkFree); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()

				return nil
			case <-m.closed:
				timer.Stop()

				return nil
			}
		}

		now := time.Now()
		u, v, txTime, ok := m.pop(now)
		if !ok {
			select {
			case <-m.notify:
				continue
			case <-ctx.Done():
				return nil
			case <-m.closed:
				return nil
			}
		}
		if v == verdictDrop {
			m.log.Tracef("AQM dropping classic unit from %v", u.src)

			continue
		}
		linkFree = now.Add(txTime)

		if err := m.forward(u, v == verdictMark); err != nil {
			m.log.Warnf("failed to forward unit from %v: %v", u.src, err)
		}
	}
}

func (m *Marker) forward(u queuedUnit, mark bool) error {
	m.mu.Lock()
	r, ok := m.routes[u.src.String()]
	m.mu.Unlock()
	if !ok {
		m.mu.Lock()
		m.counters.Dropped++
		m.mu.Unlock()

		return fmt.Errorf("%w for %v", errNoRoute, u.src)
	}

	data := u.data
	if mark {
		var err error
		if data, err = setCongestionFlag(data); err != nil {
			return err
		}
	}

	if _, err := m.conn.WriteTo(data, r.dst); err != nil {
		if m.isClosed() {
			return nil
		}

		return err
	}

	m.mu.Lock()
	m.counters.Forwarded++
	if mark {
		m.counters.Marked++
	}
	m.mu.Unlock()

	return nil
}

// setCongestionFlag strips the PDCP header of a unit, sets its congestion
// flag and attaches it again.
func setCongestionFlag(data []byte) ([]byte, error) {
	pkt := packet.FromWire(data)
	var h pdcp.Header
	if _, err := pkt.RemoveHeader(&h); err != nil {
		return nil, err
	}
	h.SetCongestionFlag(1)
	if err := pkt.AddHeader(&h); err != nil {
		return nil, err
	}

	return pkt.Payload(), nil
}
