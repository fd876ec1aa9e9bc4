// Package cart holds the working sale of one terminal. Every mutation is
// validated against a recomputed candidate and applied only if it succeeds.
package cart

import (
	"fmt"
	"strings"

	"kasirinaja/settlement/internal/domain"
	"kasirinaja/settlement/internal/money"
)

type Cart struct {
	lines        []domain.LineItem
	customer     *domain.Customer
	billDiscount int64
	heldSaleID   string
	totals       domain.Totals
}

func New() *Cart {
	return &Cart{}
}

// FromSnapshot restores a cart captured by Snapshot, e.g. on recall.
func FromSnapshot(snapshot domain.CartSnapshot) (*Cart, error) {
	c := &Cart{}
	candidate := state{
		lines:        cloneLines(snapshot.Lines),
		customer:     cloneCustomer(snapshot.Customer),
		billDiscount: snapshot.BillDiscountCents,
		heldSaleID:   snapshot.HeldSaleID,
	}
	if err := c.apply(candidate); err != nil {
		return nil, err
	}
	return c, nil
}

type state struct {
	lines        []domain.LineItem
	customer     *domain.Customer
	billDiscount int64
	heldSaleID   string
}

func (c *Cart) candidate() state {
	return state{
		lines:        cloneLines(c.lines),
		customer:     cloneCustomer(c.customer),
		billDiscount: c.billDiscount,
		heldSaleID:   c.heldSaleID,
	}
}

// apply recomputes totals for next and swaps it in; on error c is untouched.
// A line edit never trims an existing bill discount.
func (c *Cart) apply(next state) error {
	if gross := money.Gross(next.lines); next.billDiscount > gross {
		if next.billDiscount == c.billDiscount {
			return fmt.Errorf("%w: bill discount %d above new gross %d; lower or clear the bill discount first",
				domain.ErrDiscountExceedsTotal, next.billDiscount, gross)
		}
		return fmt.Errorf("%w: bill discount above gross", domain.ErrDiscountExceedsTotal)
	}
	totals, err := money.Compute(next.lines, next.billDiscount)
	if err != nil {
		return err
	}
	c.lines = next.lines
	c.customer = next.customer
	c.billDiscount = next.billDiscount
	c.heldSaleID = next.heldSaleID
	c.totals = totals
	return nil
}

// AddLine appends a product line, or increases the qty of the existing line
// for the same SKU. A merged line keeps the price it was first added at.
func (c *Cart) AddLine(product domain.Product, qty int) error {
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}
	if strings.TrimSpace(product.SKU) == "" {
		return fmt.Errorf("%w: sku required", domain.ErrInvalidLineState)
	}
	next := c.candidate()
	for i := range next.lines {
		if next.lines[i].SKU == product.SKU {
			next.lines[i].Qty += qty
			return c.apply(next)
		}
	}
	next.lines = append(next.lines, domain.LineItem{
		SKU:            product.SKU,
		Name:           product.Name,
		UnitPriceCents: product.PriceCents,
		Qty:            qty,
		TaxRatePercent: product.TaxRatePercent,
	})
	return c.apply(next)
}

func (c *Cart) SetLineQty(index int, qty int) error {
	if err := c.checkIndex(index); err != nil {
		return err
	}
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}
	next := c.candidate()
	next.lines[index].Qty = qty
	return c.apply(next)
}

func (c *Cart) RemoveLine(index int) error {
	if err := c.checkIndex(index); err != nil {
		return err
	}
	next := c.candidate()
	next.lines = append(next.lines[:index], next.lines[index+1:]...)
	return c.apply(next)
}

// ApplyLineDiscount sets the per-unit discount of a line; 0 clears it.
func (c *Cart) ApplyLineDiscount(index int, amountCents int64) error {
	if err := c.checkIndex(index); err != nil {
		return err
	}
	if amountCents < 0 {
		return fmt.Errorf("%w: negative discount", domain.ErrInvalidLineState)
	}
	if amountCents > c.lines[index].UnitPriceCents {
		return fmt.Errorf("%w: line discount above unit price", domain.ErrDiscountExceedsTotal)
	}
	next := c.candidate()
	next.lines[index].UnitDiscountCents = amountCents
	return c.apply(next)
}

// ApplyBillDiscount sets the bill-level discount; it may not exceed gross.
func (c *Cart) ApplyBillDiscount(amountCents int64) error {
	if amountCents < 0 {
		return fmt.Errorf("%w: negative discount", domain.ErrInvalidLineState)
	}
	next := c.candidate()
	next.billDiscount = amountCents
	return c.apply(next)
}

func (c *Cart) AttachCustomer(customer domain.Customer) {
	c.customer = cloneCustomer(&customer)
}

func (c *Cart) DetachCustomer() {
	c.customer = nil
}

func (c *Cart) Clear() {
	*c = Cart{}
}

// SetHeldSaleID records the held sale this cart was recalled from.
func (c *Cart) SetHeldSaleID(id string) {
	c.heldSaleID = id
}

func (c *Cart) HeldSaleID() string {
	return c.heldSaleID
}

func (c *Cart) Empty() bool {
	return len(c.lines) == 0
}

func (c *Cart) Totals() domain.Totals {
	return c.totals
}

func (c *Cart) Lines() []domain.LineItem {
	return cloneLines(c.lines)
}

func (c *Cart) Customer() *domain.Customer {
	return cloneCustomer(c.customer)
}

func (c *Cart) Snapshot() domain.CartSnapshot {
	return domain.CartSnapshot{
		Lines:             cloneLines(c.lines),
		Customer:          cloneCustomer(c.customer),
		BillDiscountCents: c.billDiscount,
		HeldSaleID:        c.heldSaleID,
	}
}

func (c *Cart) checkIndex(index int) error {
	if index < 0 || index >= len(c.lines) {
		return fmt.Errorf("%w: no line at index %d", domain.ErrInvalidLineState, index)
	}
	return nil
}

func cloneLines(lines []domain.LineItem) []domain.LineItem {
	if len(lines) == 0 {
		return nil
	}
	out := make([]domain.LineItem, len(lines))
	copy(out, lines)
	return out
}

func cloneCustomer(customer *domain.Customer) *domain.Customer {
	if customer == nil {
		return nil
	}
	copied := *customer
	return &copied
}
