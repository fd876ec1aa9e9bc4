// Package money computes sale totals and cash declarations in integer minor
// units. Tax is accumulated exactly with decimals and rounded once.
package money

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"kasirinaja/settlement/internal/domain"
)

var (
	maxCents   = decimal.NewFromInt(math.MaxInt64)
	minCents   = decimal.NewFromInt(math.MinInt64)
	maxTaxRate = decimal.NewFromInt(100)
)

// Compute derives the totals of a cart from its lines and bill-level discount.
func Compute(lines []domain.LineItem, billDiscountCents int64) (domain.Totals, error) {
	if billDiscountCents < 0 {
		return domain.Totals{}, fmt.Errorf("%w: negative bill discount", domain.ErrInvalidLineState)
	}

	gross := decimal.Zero
	itemDiscount := decimal.Zero
	taxAccrued := decimal.Zero
	for i, line := range lines {
		if err := ValidateLine(line); err != nil {
			return domain.Totals{}, fmt.Errorf("line %d: %w", i, err)
		}
		qty := decimal.NewFromInt(int64(line.Qty))
		lineGross := decimal.NewFromInt(line.UnitPriceCents).Mul(qty)
		lineDiscount := decimal.NewFromInt(line.UnitDiscountCents).Mul(qty)

		gross = gross.Add(lineGross)
		itemDiscount = itemDiscount.Add(lineDiscount)
		taxAccrued = taxAccrued.Add(lineGross.Sub(lineDiscount).Mul(line.TaxRatePercent))
	}

	// rate is a percentage; shift by two places once, then round half-up.
	tax := taxAccrued.Shift(-2).Round(0)
	bill := decimal.NewFromInt(billDiscountCents)
	net := gross.Sub(itemDiscount).Sub(bill).Add(tax)
	if net.IsNegative() {
		net = decimal.Zero
	}
	if gross.GreaterThan(maxCents) || tax.GreaterThan(maxCents) || net.GreaterThan(maxCents) {
		return domain.Totals{}, fmt.Errorf("%w: amount overflow", domain.ErrInvalidLineState)
	}

	return domain.Totals{
		GrossCents:        gross.IntPart(),
		ItemDiscountCents: itemDiscount.IntPart(),
		BillDiscountCents: billDiscountCents,
		TaxCents:          tax.IntPart(),
		NetCents:          net.IntPart(),
	}, nil
}

// ValidateLine rejects numeric input no total can be computed from.
func ValidateLine(line domain.LineItem) error {
	switch {
	case line.Qty <= 0:
		return fmt.Errorf("%w: quantity must be positive", domain.ErrInvalidLineState)
	case line.UnitPriceCents < 0:
		return fmt.Errorf("%w: negative unit price", domain.ErrInvalidLineState)
	case line.UnitDiscountCents < 0:
		return fmt.Errorf("%w: negative discount", domain.ErrInvalidLineState)
	case line.UnitDiscountCents > line.UnitPriceCents:
		return fmt.Errorf("%w: discount above unit price", domain.ErrInvalidLineState)
	case line.TaxRatePercent.IsNegative() || line.TaxRatePercent.GreaterThan(maxTaxRate):
		return fmt.Errorf("%w: tax rate out of range", domain.ErrInvalidLineState)
	}
	return nil
}

// Gross returns Σ unit price × qty without validating the lines.
func Gross(lines []domain.LineItem) int64 {
	total := int64(0)
	for _, line := range lines {
		total += line.UnitPriceCents * int64(line.Qty)
	}
	return total
}

// DeclareCash totals a denomination → count mapping from a drawer count.
func DeclareCash(denominations map[int64]int) (int64, error) {
	total := decimal.Zero
	for denomination, count := range denominations {
		if denomination <= 0 {
			return 0, fmt.Errorf("%w: denomination %d", domain.ErrInvalidDenominationCount, denomination)
		}
		if count < 0 {
			return 0, fmt.Errorf("%w: %d × %d", domain.ErrInvalidDenominationCount, count, denomination)
		}
		total = total.Add(decimal.NewFromInt(denomination).Mul(decimal.NewFromInt(int64(count))))
	}
	if total.GreaterThan(maxCents) {
		return 0, fmt.Errorf("%w: declared total overflows", domain.ErrInvalidDenominationCount)
	}
	return total.IntPart(), nil
}

// Sum adds minor-unit amounts and fails instead of wrapping around.
func Sum(amounts ...int64) (int64, error) {
	total := decimal.Zero
	for _, amount := range amounts {
		total = total.Add(decimal.NewFromInt(amount))
	}
	if total.GreaterThan(maxCents) || total.LessThan(minCents) {
		return 0, fmt.Errorf("%w: amount overflow", domain.ErrInvalidAmount)
	}
	return total.IntPart(), nil
}

// Diff returns a - b, failing instead of wrapping around.
func Diff(a, b int64) (int64, error) {
	total := decimal.NewFromInt(a).Sub(decimal.NewFromInt(b))
	if total.GreaterThan(maxCents) || total.LessThan(minCents) {
		return 0, fmt.Errorf("%w: amount overflow", domain.ErrInvalidAmount)
	}
	return total.IntPart(), nil
}

// Format renders minor units as a fixed two-place decimal, e.g. 5050 -> "50.50".
func Format(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}
