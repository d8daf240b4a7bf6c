package payments

import (
	"strings"

	"github.com/shopspring/decimal"
)

// currencyExponents lists ISO 4217 currencies whose minor unit is not hundredths.
var currencyExponents = map[string]int32{
	"BHD": 3,
	"IQD": 3,
	"JOD": 3,
	"KWD": 3,
	"LYD": 3,
	"OMR": 3,
	"TND": 3,
	"JPY": 0,
	"KRW": 0,
	"VND": 0,
	"CLP": 0,
	"ISK": 0,
	"XAF": 0,
	"XOF": 0,
}

// CurrencyExponent returns the number of minor-unit digits for currency, defaulting to 2.
func CurrencyExponent(currency string) int32 {
	if exp, ok := currencyExponents[strings.ToUpper(strings.TrimSpace(currency))]; ok {
		return exp
	}
	return 2
}

// MinorUnits converts a major-unit amount into the integer minor units gateways expect, rounding
// half-up to the nearest unit. 12.3456 BHD becomes 12346 fils.
func MinorUnits(amount decimal.Decimal, currency string) int64 {
	return amount.Shift(CurrencyExponent(currency)).Round(0).IntPart()
}

// FromMinorUnits converts gateway minor units back to a major-unit decimal.
func FromMinorUnits(units int64, currency string) decimal.Decimal {
	return decimal.New(units, -CurrencyExponent(currency))
}
