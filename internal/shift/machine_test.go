package shift

import (
	"errors"
	"math"
	"testing"
	"time"

	"kasirinaja/settlement/internal/domain"
	"kasirinaja/settlement/internal/money"
)

func openShift(t *testing.T, float int64) domain.Shift {
	t.Helper()
	s, err := Open(OpenParams{
		ID:                "shift-1",
		BranchID:          "main-store",
		TerminalID:        "T1",
		CashierID:         "cashier",
		OpeningFloatCents: float,
		OpenedBy:          "supervisor",
		OpenedAt:          time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("open shift: %v", err)
	}
	return s
}

func TestShiftLifecycleScenario(t *testing.T) {
	s := openShift(t, 5000)

	if err := RecordSale(&s, []domain.TenderEntry{{Method: domain.TenderCash, AmountCents: 300}}, 0); err != nil {
		t.Fatalf("record sale: %v", err)
	}
	if s.Counters.CashSalesCents != 300 {
		t.Fatalf("expected cash sales 300, got %d", s.Counters.CashSalesCents)
	}
	if got := ExpectedCash(s); got != 5300 {
		t.Fatalf("expected cash 5300, got %d", got)
	}

	if err := RecordMovement(&s, domain.CashMovement{Direction: domain.MovementOut, AmountCents: 200, Reason: "petty cash"}); err != nil {
		t.Fatalf("record movement: %v", err)
	}
	if got := ExpectedCash(s); got != 5100 {
		t.Fatalf("expected cash 5100, got %d", got)
	}

	counted, err := money.DeclareCash(map[int64]int{1000: 5, 50: 1})
	if err != nil {
		t.Fatalf("declare: %v", err)
	}
	if err := Close(&s, domain.ShiftClosure{CountedCashCents: counted, ClosedBy: "supervisor", ClosedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("close: %v", err)
	}
	if s.Status != domain.ShiftStatusClosed {
		t.Fatalf("expected closed shift, got %s", s.Status)
	}
	if s.Reconciliation == nil || s.Reconciliation.VarianceCents != -50 || s.Reconciliation.ExpectedCashCents != 5100 {
		t.Fatalf("unexpected reconciliation %+v", s.Reconciliation)
	}
}

func TestExpectedCashIsDeterministic(t *testing.T) {
	s := openShift(t, 1000)
	s.Counters = domain.ShiftCounters{CashSalesCents: 700, PaidInCents: 50, PaidOutCents: 120}
	first := ExpectedCash(s)
	for i := 0; i < 5; i++ {
		if got := ExpectedCash(s); got != first {
			t.Fatalf("expected cash drifted: %d vs %d", got, first)
		}
	}
	if first != 1630 {
		t.Fatalf("expected 1630, got %d", first)
	}
}

func TestRecordSaleSplitsByMethodAndNetsChange(t *testing.T) {
	s := openShift(t, 0)
	tenders := []domain.TenderEntry{
		{Method: domain.TenderCard, AmountCents: 3000},
		{Method: domain.TenderQR, AmountCents: 500},
		{Method: domain.TenderCash, AmountCents: 2000},
	}
	if err := RecordSale(&s, tenders, 500); err != nil {
		t.Fatalf("record sale: %v", err)
	}
	want := domain.ShiftCounters{CashSalesCents: 1500, CardSalesCents: 3000, OtherSalesCents: 500, SaleCount: 1}
	if s.Counters != want {
		t.Fatalf("expected %+v, got %+v", want, s.Counters)
	}
}

func TestRecordSaleLeavesCountersOnFailure(t *testing.T) {
	s := openShift(t, 0)
	tenders := []domain.TenderEntry{
		{Method: domain.TenderCard, AmountCents: 3000},
		{Method: "voucher", AmountCents: 100},
	}
	if err := RecordSale(&s, tenders, 0); !errors.Is(err, domain.ErrInvalidTender) {
		t.Fatalf("expected ErrInvalidTender, got %v", err)
	}
	if s.Counters != (domain.ShiftCounters{}) {
		t.Fatalf("expected counters untouched, got %+v", s.Counters)
	}

	if err := RecordSale(&s, []domain.TenderEntry{{Method: domain.TenderCard, AmountCents: 1000}}, 100); !errors.Is(err, domain.ErrNonCashChange) {
		t.Fatalf("expected ErrNonCashChange, got %v", err)
	}
	if s.Counters != (domain.ShiftCounters{}) {
		t.Fatalf("expected counters untouched, got %+v", s.Counters)
	}
}

func TestClosedShiftRejectsEverything(t *testing.T) {
	s := openShift(t, 100)
	if err := Close(&s, domain.ShiftClosure{CountedCashCents: 100, ClosedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := RecordSale(&s, []domain.TenderEntry{{Method: domain.TenderCash, AmountCents: 10}}, 0); !errors.Is(err, domain.ErrShiftNotOpen) {
		t.Fatalf("expected ErrShiftNotOpen, got %v", err)
	}
	if err := RecordMovement(&s, domain.CashMovement{Direction: domain.MovementIn, AmountCents: 10, Reason: "float top-up"}); !errors.Is(err, domain.ErrShiftNotOpen) {
		t.Fatalf("expected ErrShiftNotOpen, got %v", err)
	}
	if err := Close(&s, domain.ShiftClosure{}); !errors.Is(err, domain.ErrShiftNotOpen) {
		t.Fatalf("expected ErrShiftNotOpen, got %v", err)
	}
	if s.Reconciliation.VarianceCents != 0 {
		t.Fatalf("expected first close to stand, got %+v", s.Reconciliation)
	}
}

func TestMovementValidation(t *testing.T) {
	s := openShift(t, 0)
	if err := RecordMovement(&s, domain.CashMovement{Direction: domain.MovementOut, AmountCents: 100, Reason: "  "}); !errors.Is(err, domain.ErrReasonRequired) {
		t.Fatalf("expected ErrReasonRequired, got %v", err)
	}
	if err := RecordMovement(&s, domain.CashMovement{Direction: domain.MovementOut, AmountCents: 0, Reason: "x"}); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if err := RecordMovement(&s, domain.CashMovement{Direction: "sideways", AmountCents: 10, Reason: "x"}); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if s.Counters != (domain.ShiftCounters{}) {
		t.Fatalf("expected counters untouched, got %+v", s.Counters)
	}
}

func TestCountersRefuseToOverflow(t *testing.T) {
	s := openShift(t, 1000)
	if err := RecordMovement(&s, domain.CashMovement{Direction: domain.MovementIn, AmountCents: math.MaxInt64 - 1000, Reason: "safe transfer"}); err != nil {
		t.Fatalf("paid-in up to the limit: %v", err)
	}
	before := s.Counters

	if err := RecordMovement(&s, domain.CashMovement{Direction: domain.MovementIn, AmountCents: 1, Reason: "one more"}); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for paid-in overflow, got %v", err)
	}
	if err := RecordSale(&s, []domain.TenderEntry{{Method: domain.TenderCash, AmountCents: 1}}, 0); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for cash sale overflow, got %v", err)
	}
	if s.Counters != before {
		t.Fatalf("expected counters untouched, got %+v", s.Counters)
	}
	if got := ExpectedCash(s); got != math.MaxInt64 {
		t.Fatalf("expected cash at the limit, got %d", got)
	}

	if err := RecordSale(&s, []domain.TenderEntry{{Method: domain.TenderCard, AmountCents: math.MaxInt64}}, 0); err != nil {
		t.Fatalf("card sale does not touch the drawer: %v", err)
	}
	if err := RecordSale(&s, []domain.TenderEntry{{Method: domain.TenderCard, AmountCents: 1}}, 0); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for card counter overflow, got %v", err)
	}
}

func TestOpenRejectsNegativeFloat(t *testing.T) {
	_, err := Open(OpenParams{BranchID: "b", TerminalID: "t", CashierID: "c", OpeningFloatCents: -1})
	if !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}
