// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package seqnum implements the 16-bit sequence number policy used by senders
// and receivers of PDCP data units: ordering across wraparound and extension
// to a monotone 64-bit space.
package seqnum

const (
	maxSequenceNumberPlusOne = int64(65536)
	breakpoint               = 32768 // half of max uint16
)

// IsNewer reports whether value comes after previous in a 16-bit sequence
// space, assuming they are less than half the space apart.
func IsNewer(value, previous uint16) bool {
	if value-previous == breakpoint {
		return value > previous
	}

	return value != previous && (value-previous) < breakpoint
}

// Distance returns the signed number of steps from a to b, in
// [-32768, 32767].
func Distance(from, to uint16) int {
	return int(int16(to - from))
}

// Unwrapper extends wrapping 16-bit sequence numbers into an int64 counter.
// The zero value is ready to use; the first number unwraps to itself.
type Unwrapper struct {
	init          bool
	lastUnwrapped int64
}

// Unwrap returns the extended value of i relative to the last unwrapped
// number.
func (u *Unwrapper) Unwrap(i uint16) int64 {
	if !u.init {
		u.init = true
		u.lastUnwrapped = int64(i)

		return u.lastUnwrapped
	}

	lastWrapped := uint16(u.lastUnwrapped) //nolint:gosec
	delta := int64(i - lastWrapped)
	if IsNewer(i, lastWrapped) {
		if delta < 0 {
			delta += maxSequenceNumberPlusOne
		}
	} else if delta > 0 && u.lastUnwrapped+delta-maxSequenceNumberPlusOne >= 0 {
		delta -= maxSequenceNumberPlusOne
	}

	u.lastUnwrapped += delta

	return u.lastUnwrapped
}

// Last returns the most recently unwrapped value and whether any number has
// been unwrapped yet.
func (u *Unwrapper) Last() (int64, bool) {
	return u.lastUnwrapped, u.init
}

// Counter hands out consecutive 16-bit sequence numbers, wrapping at 65536.
type Counter struct {
	next uint16
}

// NewCounter returns a Counter whose first number is start.
func NewCounter(start uint16) *Counter {
	return &Counter{next: start}
}

// Next returns the next sequence number.
func (c *Counter) Next() uint16 {
	sn := c.next
	c.next++

	return sn
}
