package settlement

import "github.com/shopspring/decimal"

// FormatAmount renders minor currency units as a display string, e.g. 150000 -> "NGN 1500.00"
func FormatAmount(minor int64, currency string) string {
	amount := decimal.New(minor, -2).StringFixed(2)
	if currency == "" {
		return amount
	}
	return currency + " " + amount
}
