package entity

import "github.com/shopspring/decimal"

// MaxAmount bounds every amount typed in by a user or an administrator.
var MaxAmount = decimal.NewFromInt(1_000_000)

// ValidAmount reports whether d is positive and has at most two fractional digits.
func ValidAmount(d decimal.Decimal) bool {
	return d.IsPositive() && d.Equal(d.Round(2))
}
