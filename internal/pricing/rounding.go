package pricing

import (
	"fmt"
	"math"
	"strings"
)

// RoundingMode is the psychological-price policy applied to suggestions.
type RoundingMode string

const (
	RoundNone RoundingMode = "none"
	Round90   RoundingMode = "90"
	Round99   RoundingMode = "99"
)

// ParseRoundingMode accepts "none", "90", "99", ".90" and ".99". Empty input
// means no rounding.
func ParseRoundingMode(raw string) (RoundingMode, error) {
	switch strings.TrimPrefix(strings.TrimSpace(raw), ".") {
	case "", "none":
		return RoundNone, nil
	case "90":
		return Round90, nil
	case "99":
		return Round99, nil
	}
	return "", fmt.Errorf("unknown rounding mode %q", raw)
}

func (m RoundingMode) fraction() (float64, bool) {
	switch m {
	case Round90:
		return 0.90, true
	case Round99:
		return 0.99, true
	}
	return 0, false
}

// Round floors v to a whole unit and appends the mode's fraction. When that
// lands below v, one unit is added first, so the result never undercuts v.
func Round(v float64, mode RoundingMode) float64 {
	cents, ok := mode.fraction()
	if !ok || !finite(v) {
		return v
	}

	base := math.Floor(v)
	out := base + cents
	if out < v {
		out = base + 1 + cents
	}
	return out
}
