// Package money holds the integer-cents arithmetic and display helpers shared by
// the engine, the drift loop and the API.
package money

import (
	gomoney "github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ApplyPercent returns floor(value * (100 + pct) / 100) computed exactly.
func ApplyPercent(value, pct int64) int64 {
	return decimal.NewFromInt(value).
		Mul(hundred.Add(decimal.NewFromInt(pct))).
		Shift(-2).
		Floor().
		IntPart()
}

// Format renders an amount of minor units in the given ISO currency,
// e.g. Format(100000, "USD") == "$1,000.00".
func Format(cents int64, currency string) string {
	if gomoney.GetCurrency(currency) == nil {
		currency = gomoney.USD
	}
	return gomoney.New(cents, currency).Display()
}
