// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package seqnum

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsNewer(t *testing.T) {
	tests := []struct {
		value, previous uint16
		want            bool
	}{
		{1, 0, true},
		{0, 1, false},
		{0, 65535, true},
		{65535, 0, false},
		{5, 5, false},
		{32768, 0, true},
		{0, 32768, false},
		{100, 65000, true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, IsNewer(tt.value, tt.previous), "IsNewer(%d, %d)", tt.value, tt.previous)
	}
}

func TestDistance(t *testing.T) {
	assert.Equal(t, 1, Distance(0, 1))
	assert.Equal(t, -1, Distance(1, 0))
	assert.Equal(t, 1, Distance(65535, 0))
	assert.Equal(t, -2, Distance(0, 65534))
	assert.Equal(t, 0, Distance(42, 42))
}

func TestUnwrapper(t *testing.T) {
	tests := []struct {
		name   string
		input  []uint16
		expect []int64
	}{
		{
			name:   "in order",
			input:  []uint16{10, 11, 12},
			expect: []int64{10, 11, 12},
		},
		{
			name:   "forward wrap",
			input:  []uint16{65534, 65535, 0, 1},
			expect: []int64{65534, 65535, 65536, 65537},
		},
		{
			name:   "reordered across wrap",
			input:  []uint16{65535, 1, 0, 2},
			expect: []int64{65535, 65537, 65536, 65538},
		},
		{
			name:   "backward step",
			input:  []uint16{10, 5},
			expect: []int64{10, 5},
		},
		{
			name:   "older than start stays non-negative",
			input:  []uint16{2, 65535},
			expect: []int64{2, 65535},
		},
		{
			name:   "two wraps",
			input:  []uint16{0, 30000, 60000, 20000, 50000, 10000},
			expect: []int64{0, 30000, 60000, 85536, 115536, 141072},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var u Unwrapper
			_, ok := u.Last()
			assert.False(t, ok)

			for i, in := range tt.input {
				assert.Equal(t, tt.expect[i], u.Unwrap(in), "index %d", i)
			}

			last, ok := u.Last()
			assert.True(t, ok)
			assert.Equal(t, tt.expect[len(tt.expect)-1], last)
		})
	}
}

func TestCounter(t *testing.T) {
	c := NewCounter(65534)
	assert.Equal(t, uint16(65534), c.Next())
	assert.Equal(t, uint16(65535), c.Next())
	assert.Equal(t, uint16(0), c.Next())
	assert.Equal(t, uint16(1), c.Next())
}
