// Package shift is the only code path that mutates shift counters. Stores call
// these functions while holding the shift's lock or row lock.
package shift

import (
	"fmt"
	"strings"
	"time"

	"kasirinaja/settlement/internal/domain"
	"kasirinaja/settlement/internal/money"
)

type OpenParams struct {
	ID                string
	BranchID          string
	TerminalID        string
	CashierID         string
	OpeningFloatCents int64
	OpenedBy          string
	OpenedAt          time.Time
}

// Open builds a new OPEN shift with zeroed counters.
func Open(params OpenParams) (domain.Shift, error) {
	if params.OpeningFloatCents < 0 {
		return domain.Shift{}, fmt.Errorf("%w: opening float must not be negative", domain.ErrInvalidAmount)
	}
	if strings.TrimSpace(params.BranchID) == "" || strings.TrimSpace(params.TerminalID) == "" || strings.TrimSpace(params.CashierID) == "" {
		return domain.Shift{}, fmt.Errorf("%w: branch, terminal and cashier are required", domain.ErrInvalidRequest)
	}
	return domain.Shift{
		ID:                params.ID,
		BranchID:          params.BranchID,
		TerminalID:        params.TerminalID,
		CashierID:         params.CashierID,
		OpeningFloatCents: params.OpeningFloatCents,
		Status:            domain.ShiftStatusOpen,
		OpenedBy:          params.OpenedBy,
		OpenedAt:          params.OpenedAt,
	}, nil
}

// RecordSale adds a finalized sale's tenders to the per-method counters. Cash
// is counted net of change since change leaves the drawer. Nothing is written
// to s unless every check passes.
func RecordSale(s *domain.Shift, tenders []domain.TenderEntry, changeCents int64) error {
	if s == nil || s.Status != domain.ShiftStatusOpen {
		return domain.ErrShiftNotOpen
	}
	if changeCents < 0 {
		return fmt.Errorf("%w: negative change", domain.ErrInvalidAmount)
	}

	next := s.Counters
	cash := int64(0)
	for _, tender := range tenders {
		if tender.AmountCents <= 0 {
			return fmt.Errorf("%w: amount must be positive", domain.ErrInvalidTender)
		}
		var err error
		switch tender.Method {
		case domain.TenderCash:
			cash, err = money.Sum(cash, tender.AmountCents)
		case domain.TenderCard:
			next.CardSalesCents, err = money.Sum(next.CardSalesCents, tender.AmountCents)
		case domain.TenderQR, domain.TenderTransfer, domain.TenderOther:
			next.OtherSalesCents, err = money.Sum(next.OtherSalesCents, tender.AmountCents)
		default:
			return fmt.Errorf("%w: unknown method %q", domain.ErrInvalidTender, tender.Method)
		}
		if err != nil {
			return err
		}
	}
	if changeCents > cash {
		return fmt.Errorf("%w: change %d exceeds cash tendered %d", domain.ErrNonCashChange, changeCents, cash)
	}
	var err error
	if next.CashSalesCents, err = money.Sum(next.CashSalesCents, cash-changeCents); err != nil {
		return err
	}
	if err = checkExpected(s.OpeningFloatCents, next); err != nil {
		return err
	}
	next.SaleCount++

	s.Counters = next
	return nil
}

// RecordMovement applies a paid-in or paid-out to the shift's counters.
func RecordMovement(s *domain.Shift, movement domain.CashMovement) error {
	if s == nil || s.Status != domain.ShiftStatusOpen {
		return domain.ErrShiftNotOpen
	}
	if err := ValidateMovement(movement); err != nil {
		return err
	}
	next := s.Counters
	var err error
	switch movement.Direction {
	case domain.MovementIn:
		next.PaidInCents, err = money.Sum(next.PaidInCents, movement.AmountCents)
	case domain.MovementOut:
		next.PaidOutCents, err = money.Sum(next.PaidOutCents, movement.AmountCents)
	}
	if err != nil {
		return err
	}
	if err = checkExpected(s.OpeningFloatCents, next); err != nil {
		return err
	}
	s.Counters = next
	return nil
}

// ValidateMovement checks a movement without touching any shift.
func ValidateMovement(movement domain.CashMovement) error {
	if movement.Direction != domain.MovementIn && movement.Direction != domain.MovementOut {
		return fmt.Errorf("%w: direction must be in or out", domain.ErrInvalidRequest)
	}
	if movement.AmountCents <= 0 {
		return fmt.Errorf("%w: amount must be positive", domain.ErrInvalidAmount)
	}
	if strings.TrimSpace(movement.Reason) == "" {
		return domain.ErrReasonRequired
	}
	return nil
}

// ExpectedCash is openingFloat + cashSales + paidIn - paidOut. Counters only
// change through RecordSale and RecordMovement, which keep it in range.
func ExpectedCash(s domain.Shift) int64 {
	c := s.Counters
	return s.OpeningFloatCents + c.CashSalesCents + c.PaidInCents - c.PaidOutCents
}

func checkExpected(float int64, c domain.ShiftCounters) error {
	total, err := money.Sum(float, c.CashSalesCents, c.PaidInCents)
	if err != nil {
		return err
	}
	_, err = money.Diff(total, c.PaidOutCents)
	return err
}

// Close reconciles the declared count and closes the shift. Any variance is
// recorded; it never blocks the close.
func Close(s *domain.Shift, closure domain.ShiftClosure) error {
	if s == nil || s.Status != domain.ShiftStatusOpen {
		return domain.ErrShiftNotOpen
	}
	if closure.CountedCashCents < 0 {
		return fmt.Errorf("%w: counted cash must not be negative", domain.ErrInvalidDenominationCount)
	}
	expected := ExpectedCash(*s)
	variance, err := money.Diff(closure.CountedCashCents, expected)
	if err != nil {
		return err
	}
	closedAt := closure.ClosedAt
	s.Status = domain.ShiftStatusClosed
	s.ClosedBy = closure.ClosedBy
	s.ClosedAt = &closedAt
	s.Reconciliation = &domain.Reconciliation{
		CountedCashCents:  closure.CountedCashCents,
		ExpectedCashCents: expected,
		VarianceCents:     variance,
		Denominations:     cloneDenominations(closure.Denominations),
	}
	return nil
}

func cloneDenominations(in map[int64]int) map[int64]int {
	out := make(map[int64]int, len(in))
	for denomination, count := range in {
		out[denomination] = count
	}
	return out
}
