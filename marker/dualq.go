// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package marker

import (
	"time"
)

// Class selects the queue a route's units wait in.
type Class uint8

const (
	// L4S units share the low latency queue and receive congestion marks.
	L4S Class = iota
	// Classic units share the classic queue and are dropped on congestion.
	Classic
)

func (c Class) String() string {
	switch c {
	case L4S:
		return "L4S"
	case Classic:
		return "classic"
	default:
		return "unknown"
	}
}

const (
	// DefaultPITarget is the queue delay the PI controller steers towards.
	DefaultPITarget = 15 * time.Millisecond

	piUpdateInterval = 16 * time.Millisecond
	piAlpha          = 0.16
	piBeta           = 3.2
	couplingFactor   = 2
)

// dualQueue holds the L4S and the classic queue of a DualQ Coupled PI2 AQM
// (RFC 9332). A single PI controller computes the base probability p'.
// Classic units are dropped with p'^2 and L4S units are marked with
// couplingFactor * p'.
type dualQueue struct {
	queues [2][]queuedUnit
	bytes  int

	target    time.Duration
	base      float64
	prevDelay time.Duration
}

func newDualQueue(target time.Duration) *dualQueue {
	return &dualQueue{target: target}
}

func (q *dualQueue) push(u queuedUnit) {
	q.queues[u.class] = append(q.queues[u.class], u)
	q.bytes += len(u.data)
}

func (q *dualQueue) len() int {
	return len(q.queues[L4S]) + len(q.queues[Classic])
}

// sojourn returns how long the head of class has been waiting.
func (q *dualQueue) sojourn(class Class, now time.Time) time.Duration {
	if len(q.queues[class]) == 0 {
		return 0
	}

	return now.Sub(q.queues[class][0].enqueued)
}

// next picks the queue to serve with a time shifted FIFO: the classic head
// goes first only once it has waited longer than the L4S head plus twice the
// PI target.
func (q *dualQueue) next(now time.Time) (Class, bool) {
	switch {
	case len(q.queues[L4S]) == 0 && len(q.queues[Classic]) == 0:
		return L4S, false
	case len(q.queues[L4S]) == 0:
		return Classic, true
	case len(q.queues[Classic]) == 0:
		return L4S, true
	}
	if q.sojourn(Classic, now) > q.sojourn(L4S, now)+2*q.target {
		return Classic, true
	}

	return L4S, true
}

func (q *dualQueue) pop(class Class) queuedUnit {
	u := q.queues[class][0]
	q.queues[class][0] = queuedUnit{}
	q.queues[class] = q.queues[class][1:]
	q.bytes -= len(u.data)

	return u
}

// update runs one PI step on the larger of the two head sojourn times.
func (q *dualQueue) update(now time.Time) {
	delay := max(q.sojourn(L4S, now), q.sojourn(Classic, now))
	q.base += piAlpha*(delay-q.target).Seconds() + piBeta*(delay-q.prevDelay).Seconds()
	q.base = min(max(q.base, 0), 1)
	q.prevDelay = delay
}

// classicProbability is the drop probability of classic units.
func (q *dualQueue) classicProbability() float64 {
	return q.base * q.base
}

// coupledProbability is the marking probability the classic queue imposes
// on L4S units.
func (q *dualQueue) coupledProbability() float64 {
	return min(couplingFactor*q.base, 1)
}
