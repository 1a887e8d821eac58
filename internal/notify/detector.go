// Package notify decides when a price change is worth telling the user about
// and delivers the resulting events.
package notify

import (
	"github.com/shopspring/decimal"
)

const DefaultThreshold = 0.1

// Detector compares an old and a new price against a relative threshold.
type Detector struct {
	threshold decimal.Decimal
}

func NewDetector(threshold float64) *Detector {
	if threshold < 0 {
		threshold = DefaultThreshold
	}
	return &Detector{threshold: decimal.NewFromFloat(threshold)}
}

// ShouldNotify is true when old > 0 and |new-old|/old >= threshold.
// A move away from zero carries no relative signal.
func (d *Detector) ShouldNotify(oldPrice, newPrice decimal.Decimal) bool {
	if !oldPrice.IsPositive() {
		return false
	}
	change := newPrice.Sub(oldPrice).Abs().Div(oldPrice)
	return change.GreaterThanOrEqual(d.threshold)
}

func (d *Detector) Threshold() decimal.Decimal {
	return d.threshold
}
