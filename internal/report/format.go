package report

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// FormatInt formats an integer with comma separators.
func FormatInt(n int) string {
	if n < 0 {
		return "-" + FormatInt(-n)
	}
	return groupThousands(fmt.Sprintf("%d", n))
}

// FormatMoney formats v as dollars rounded half away from zero to cents,
// e.g. "$1,234.57" or "-$12.00".
func FormatMoney(v float64) string {
	d := decimal.NewFromFloat(v).Round(2)
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Neg()
	}
	whole, frac, _ := strings.Cut(d.StringFixed(2), ".")
	return sign + "$" + groupThousands(whole) + "." + frac
}

// FormatPct formats a fraction as a signed percentage with two decimals,
// e.g. 0.1234 as "+12.34%". Zero has no sign.
func FormatPct(v float64) string {
	d := decimal.NewFromFloat(v).Mul(decimal.NewFromInt(100)).Round(2)
	switch d.Sign() {
	case 1:
		return "+" + d.StringFixed(2) + "%"
	case -1:
		return d.StringFixed(2) + "%"
	default:
		return "0.00%"
	}
}

// FormatRatio formats a dimensionless ratio with two decimals.
func FormatRatio(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}

// FormatPrice formats a price with two decimals, or "-" for zero.
func FormatPrice(p float64) string {
	if p == 0 {
		return "-"
	}
	return decimal.NewFromFloat(p).StringFixed(2)
}

func groupThousands(s string) string {
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	start := len(s) % 3
	if start > 0 {
		b.WriteString(s[:start])
	}
	for i := start; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}
