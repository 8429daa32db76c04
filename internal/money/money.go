// Package money holds the currency primitives shared by the pricing packages:
// a nullable amount, pt-BR parsing and formatting, and cent rounding.
package money

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrInvalidAmount is returned when text cannot be read as a currency value.
var ErrInvalidAmount = errors.New("invalid amount")

// Amount is a nullable currency value. The zero value is null.
type Amount struct {
	Float64 float64
	Valid   bool
}

// Some returns a non-null amount.
func Some(v float64) Amount {
	return Amount{Float64: v, Valid: true}
}

// Null returns the null amount.
func Null() Amount {
	return Amount{}
}

// Equal treats two nulls as equal and a null as different from any number.
func (a Amount) Equal(b Amount) bool {
	if !a.Valid || !b.Valid {
		return a.Valid == b.Valid
	}
	return a.Float64 == b.Float64
}

// Positive reports whether the amount holds a value greater than zero.
func (a Amount) Positive() bool {
	return a.Valid && a.Float64 > 0
}

// Finite reports whether the amount is null or a finite number.
func (a Amount) Finite() bool {
	return !a.Valid || (!math.IsNaN(a.Float64) && !math.IsInf(a.Float64, 0))
}

// OrZero returns the value, or 0 when null.
func (a Amount) OrZero() float64 {
	if !a.Valid {
		return 0
	}
	return a.Float64
}

func (a Amount) String() string {
	if !a.Valid {
		return "null"
	}
	return strconv.FormatFloat(a.Float64, 'f', -1, 64)
}

// MarshalJSON encodes null amounts as JSON null.
func (a Amount) MarshalJSON() ([]byte, error) {
	if !a.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(a.Float64)
}

// UnmarshalJSON accepts null, a JSON number or a string. Strings are read as
// pt-BR values, so "19,90" and "R$ 1.234,56" decode; an empty string is null.
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = Amount{}
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		v, err := ParseLocale(raw)
		if err != nil || !v.Finite() {
			return fmt.Errorf("%w: %s", ErrInvalidAmount, string(data))
		}
		*a = v
		return nil
	}

	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, string(data))
	}
	*a = Some(v)
	return nil
}

// Scan implements sql.Scanner.
func (a *Amount) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*a = Amount{}
	case float64:
		*a = Some(v)
	case int64:
		*a = Some(float64(v))
	case []byte:
		return a.scanText(string(v))
	case string:
		return a.scanText(v)
	default:
		return fmt.Errorf("scan amount: unsupported type %T", src)
	}
	return nil
}

func (a *Amount) scanText(s string) error {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return fmt.Errorf("scan amount %q: %w", s, err)
	}
	*a = Some(v)
	return nil
}

// Value implements driver.Valuer.
func (a Amount) Value() (driver.Value, error) {
	if !a.Valid {
		return nil, nil
	}
	return a.Float64, nil
}

// RoundCents rounds half away from zero to two decimal places.
func RoundCents(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
