// Package price turns rendered price text into decimals.
package price

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	apperrors "github.com/dorofeevb1/sodrugestvobot/internal/errors"
)

var hundred = decimal.NewFromInt(100)

var errSeveralPrices = errors.New("text holds more than one price")

// Ambiguous reports whether text carries more than one currency mark, as the
// text of an element wrapping both the current and the old price does.
func Ambiguous(text string) bool {
	lower := strings.ToLower(text)
	return strings.Count(lower, "₽")+strings.Count(lower, "руб") > 1
}

// Normalize parses price text such as "1 234,56 ₽".
// Everything except digits, '.' and ',' is dropped and ',' is read as the decimal point.
func Normalize(text string) (decimal.Decimal, error) {
	if Ambiguous(text) {
		return decimal.Zero, apperrors.NewPriceParse(text, errSeveralPrices)
	}

	var b strings.Builder
	for _, r := range text {
		switch {
		case r >= '0' && r <= '9', r == '.':
			b.WriteRune(r)
		case r == ',':
			b.WriteRune('.')
		}
	}

	cleaned := b.String()
	if cleaned == "" {
		return decimal.Zero, apperrors.NewPriceParse(text, nil)
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, apperrors.NewPriceParse(text, err)
	}

	if d.IsNegative() {
		return decimal.Zero, apperrors.NewPriceParse(text, nil)
	}

	return d, nil
}

// Discount is round((1 - current/original) * 100, 2) when original > current, else 0.
func Discount(current, original decimal.Decimal) decimal.Decimal {
	if !original.IsPositive() || !original.GreaterThan(current) {
		return decimal.Zero
	}

	d := decimal.NewFromInt(1).Sub(current.Div(original)).Mul(hundred).Round(2)
	if d.GreaterThan(hundred) {
		return hundred
	}
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// Format renders d with two fractional digits.
func Format(d decimal.Decimal) string {
	return d.StringFixed(2)
}
