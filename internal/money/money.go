// Package money converts between naira amounts as users type them and the
// kobo integers the ledger stores.
package money

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

const KoboPerNaira = 100

var (
	ErrInvalidAmount = errors.New("invalid amount")
	hundred          = decimal.NewFromInt(KoboPerNaira)
	maxKobo          = decimal.NewFromInt(math.MaxInt64)
)

// ParseNaira parses a positive naira amount ("1500", "1500.5", "1500.50")
// into kobo. More than two decimal places is an error, not a rounding.
func ParseNaira(s string) (int64, error) {
	kobo, err := ParseSignedNaira(s)
	if err != nil {
		return 0, err
	}
	if kobo <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return kobo, nil
}

// ParseSignedNaira is ParseNaira for operator adjustments, where a leading
// minus means a debit.
func ParseSignedNaira(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if d.Exponent() < -2 && !d.Equal(d.Round(2)) {
		return 0, fmt.Errorf("%w: at most two decimal places", ErrInvalidAmount)
	}
	kobo := d.Mul(hundred)
	if kobo.Abs().GreaterThan(maxKobo) {
		return 0, fmt.Errorf("%w: out of range", ErrInvalidAmount)
	}
	return kobo.IntPart(), nil
}

// FormatKobo renders kobo as a naira string with two decimal places.
func FormatKobo(kobo int64) string {
	return decimal.New(kobo, -2).StringFixed(2)
}

// ToNaira returns kobo as a decimal naira value.
func ToNaira(kobo int64) decimal.Decimal {
	return decimal.New(kobo, -2)
}
