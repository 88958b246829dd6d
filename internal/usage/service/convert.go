package service

import "github.com/shopspring/decimal"

var (
	bytesPerMegabyte = decimal.NewFromInt(1 << 20)

	// MaxMegabytes is the largest value a DECIMAL(8,2) column holds.
	MaxMegabytes = decimal.RequireFromString("999999.99")
)

// BytesToMegabytes converts a byte count to megabytes (2^20 bytes) rounded
// half away from zero to two decimals.
func BytesToMegabytes(b uint64) decimal.Decimal {
	return decimal.NewFromUint64(b).DivRound(bytesPerMegabyte, 2)
}
