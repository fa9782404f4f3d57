// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package ntp converts between time.Time and NTP timestamps as used by RTCP.
package ntp

import "time"

// unix epoch minus NTP epoch, in seconds.
const epochOffset = 0x83AA7E80

// ToNTP returns the 64-bit NTP timestamp of t.
func ToNTP(t time.Time) uint64 {
	u := uint64(t.UnixNano()) //nolint:gosec
	s := u/1e9 + epochOffset
	f := (u % 1e9) << 32 / 1e9

	return s<<32 | f
}

// ToNTP32 returns the middle 32 bits of the NTP timestamp of t.
func ToNTP32(t time.Time) uint32 {
	return uint32(ToNTP(t) >> 16) //nolint:gosec
}

// ToTime converts a 64-bit NTP timestamp to time.Time.
func ToTime(t uint64) time.Time {
	s := t>>32 - epochOffset
	f := (t & 0xFFFFFFFF) * 1e9 >> 32

	return time.Unix(int64(s), int64(f)).UTC() //nolint:gosec
}

// ToTime32 expands a 32-bit NTP timestamp to the time.Time closest to
// reference.
func ToTime32(t uint32, reference time.Time) time.Time {
	const (
		span = uint64(1) << 48
		half = span >> 1
	)
	ref := ToNTP(reference)
	full := ref&^(span-1) | uint64(t)<<16
	switch {
	case full > ref && full-ref > half:
		full -= span
	case full < ref && ref-full > half:
		full += span
	}

	return ToTime(full)
}
