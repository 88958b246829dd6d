package service

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestBytesToMegabytes(t *testing.T) {
	cases := []struct {
		bytes uint64
		want  string
	}{
		{0, "0"},
		{1 << 20, "1"},
		{1572864, "1.5"},
		{5242, "0"},
		{5243, "0.01"},
		{10485, "0.01"},
		{15728, "0.01"},
		{15729, "0.02"},
		{1073741824, "1024"},
		{1048575989515, "999999.99"},
	}
	for _, tc := range cases {
		got := BytesToMegabytes(tc.bytes)
		assert.Truef(t, got.Equal(decimal.RequireFromString(tc.want)), "bytes=%d got=%s want=%s", tc.bytes, got, tc.want)
	}
}

func TestBytesToMegabytesRange(t *testing.T) {
	assert.False(t, BytesToMegabytes(1048575989515).GreaterThan(MaxMegabytes))
	assert.True(t, BytesToMegabytes(1048575994758).GreaterThan(MaxMegabytes))
	assert.Equal(t, "17592186044416.00", BytesToMegabytes(^uint64(0)).StringFixed(2))
}
