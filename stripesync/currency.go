package stripesync

import "strings"

// Currencies Stripe treats as zero-decimal: amounts are already in the
// smallest unit, so no cent conversion applies.
var zeroDecimalCurrencies = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true,
	"jpy": true, "kmf": true, "krw": true, "mga": true,
	"pyg": true, "rwf": true, "ugx": true, "vnd": true,
	"vuv": true, "xaf": true, "xof": true, "xpf": true,
}

// MinorUnits returns the multiplier that converts a major-unit amount to
// Stripe's minor-unit integer amount for the given ISO currency code.
func MinorUnits(currency string) int64 {
	if zeroDecimalCurrencies[strings.ToLower(currency)] {
		return 1
	}
	return 100
}
