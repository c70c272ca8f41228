// Package scale holds the single canonical fixed-point conversion used by
// every component that compares prices or quantities: order, marketdata,
// book, and account must all agree on one rounding rule or maker-queue
// reconstruction silently desyncs from the account's position bookkeeping.
package scale

import (
	"github.com/shopspring/decimal"
)

// Scaler is 10^8, the canonical fixed-point scale for prices and
// quantities (spec.md §6).
const Scaler = 100_000_000

// ToInt returns round(v * Scaler), rounded half-away-from-zero entirely in
// decimal arithmetic. A float64 round-trip here would reintroduce the
// binary-rounding error the scaled-integer representation exists to avoid.
func ToInt(v decimal.Decimal) int64 {
	return v.Mul(decimal.NewFromInt(Scaler)).Round(0).IntPart()
}

// FromInt converts a scaled integer back to a decimal value.
func FromInt(v int64) decimal.Decimal {
	return decimal.NewFromInt(v).Div(decimal.NewFromInt(Scaler))
}
