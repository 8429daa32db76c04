package money

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ParseLocale reads a pt-BR formatted currency value such as "1.234,56",
// "1234,56", "R$ 12,90" or "1234.56".
//
// Empty input is null without error. Input that is not a number is rejected
// with ErrInvalidAmount and a null amount; it never silently becomes zero.
func ParseLocale(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "R$")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "\u00a0", "")
	if s == "" {
		return Amount{}, nil
	}

	switch {
	case strings.Contains(s, ","):
		// Comma is the decimal separator, dots group thousands.
		intPart, frac, _ := strings.Cut(s, ",")
		if strings.ContainsAny(frac, ".,") || !thousandsGrouped(intPart) {
			return Amount{}, ErrInvalidAmount
		}
		s = strings.ReplaceAll(intPart, ".", "") + "." + frac
	case strings.Count(s, ".") == 1:
		// A single dot followed by exactly three digits groups thousands.
		if i := strings.Index(s, "."); len(s)-i-1 == 3 {
			s = strings.Replace(s, ".", "", 1)
		}
	case strings.Count(s, ".") > 1:
		if !thousandsGrouped(s) {
			return Amount{}, ErrInvalidAmount
		}
		s = strings.ReplaceAll(s, ".", "")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, ErrInvalidAmount
	}
	return Some(d.InexactFloat64()), nil
}

// thousandsGrouped reports whether the dots in an integer part split it into
// groups of three digits after a leading group of one to three.
func thousandsGrouped(s string) bool {
	if !strings.Contains(s, ".") {
		return true
	}
	groups := strings.Split(strings.TrimLeft(s, "+-"), ".")
	if n := len(groups[0]); n < 1 || n > 3 {
		return false
	}
	for _, g := range groups[1:] {
		if len(g) != 3 {
			return false
		}
	}
	return true
}

// FormatBRL renders v as "R$ 1.234,56".
func FormatBRL(v float64) string {
	d := decimal.NewFromFloat(v).Round(2)
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Neg()
	}

	fixed := d.StringFixed(2)
	intPart, frac, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	return sign + "R$ " + b.String() + "," + frac
}

// FormatPercent renders v with one decimal and a comma, e.g. "18,0%".
func FormatPercent(v float64) string {
	return strings.Replace(decimal.NewFromFloat(v).StringFixed(1), ".", ",", 1) + "%"
}
