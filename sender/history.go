// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package sender

import (
	"time"

	"github.com/pion/l4s-pdcp/seqnum"
)

type sentUnit struct {
	departure time.Time
	size      int
}

// history remembers departures of recent units keyed by unwrapped sequence
// number until they are acknowledged or expire.
type history struct {
	unwrapper seqnum.Unwrapper
	units     map[int64]sentUnit
	maxAge    time.Duration
}

func newHistory(maxAge time.Duration) *history {
	return &history{
		units:  make(map[int64]sentUnit),
		maxAge: maxAge,
	}
}

func (h *history) add(sn uint16, departure time.Time, size int) int64 {
	unwrapped := h.unwrapper.Unwrap(sn)
	h.units[unwrapped] = sentUnit{departure: departure, size: size}

	return unwrapped
}

// take returns and forgets the unit sent with sn. sn is resolved relative to
// the most recently sent unit.
func (h *history) take(sn uint16) (int64, sentUnit, bool) {
	last, ok := h.unwrapper.Last()
	if !ok {
		return 0, sentUnit{}, false
	}
	unwrapped := last + int64(seqnum.Distance(uint16(last), sn)) //nolint:gosec
	unit, ok := h.units[unwrapped]
	if ok {
		delete(h.units, unwrapped)
	}

	return unwrapped, unit, ok
}

func (h *history) prune(now time.Time) {
	for sn, unit := range h.units {
		if now.Sub(unit.departure) > h.maxAge {
			delete(h.units, sn)
		}
	}
}

func (h *history) len() int {
	return len(h.units)
}
