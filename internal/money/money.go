// Package money holds the rupiah helpers shared by pricing, settlement and the API.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Zero is the additive identity, handy for accumulators.
var Zero = decimal.Zero

// Parse converts a plain decimal string ("2500", "1250.50") into a Decimal.
func Parse(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return d, nil
}

// Format renders an amount the way the cashier screen shows it: "Rp 40.000",
// "-Rp 1.500", or "Rp 1.250,50" when there is a fractional part.
func Format(d decimal.Decimal) string {
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Neg()
	}

	fixed := d.StringFixed(2)
	whole, frac, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}

	if frac != "00" {
		return fmt.Sprintf("%sRp %s,%s", sign, b.String(), frac)
	}
	return fmt.Sprintf("%sRp %s", sign, b.String())
}

// Sum adds amounts together.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
