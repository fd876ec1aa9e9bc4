package returns

import (
	"errors"
	"testing"

	"kasirinaja/settlement/internal/domain"
)

func sampleSale() domain.CompletedSale {
	return domain.CompletedSale{
		ID:            "sale-1",
		InvoiceNumber: "INV/MAIN-STORE/20261016/0001",
		Lines: []domain.SaleLine{
			{LineNo: 1, LineItem: domain.LineItem{SKU: "SKU-A", UnitPriceCents: 1000, Qty: 3}},
			{LineNo: 2, LineItem: domain.LineItem{SKU: "SKU-B", UnitPriceCents: 250, Qty: 1}},
		},
	}
}

func TestPlanPricesAtOriginalUnitPrice(t *testing.T) {
	lines, total, err := Plan(sampleSale(), nil, []domain.ReturnLineRequest{
		{LineNo: 1, Qty: 2, Condition: domain.ConditionDamaged},
		{LineNo: 2, Qty: 1},
	})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if total != 2250 {
		t.Fatalf("expected refund 2250, got %d", total)
	}
	if len(lines) != 2 || lines[0].Condition != domain.ConditionDamaged || lines[1].Condition != domain.ConditionResellable {
		t.Fatalf("unexpected lines %+v", lines)
	}
}

func TestPlanAggregatesDuplicateLines(t *testing.T) {
	_, _, err := Plan(sampleSale(), nil, []domain.ReturnLineRequest{
		{LineNo: 1, Qty: 2},
		{LineNo: 1, Qty: 2},
	})
	if !errors.Is(err, domain.ErrOverReturn) {
		t.Fatalf("expected aggregated request to over-return, got %v", err)
	}
}

func TestPlanHonoursPriorReturns(t *testing.T) {
	sale := sampleSale()
	prior := Returned([]domain.ReturnRecord{
		{Lines: []domain.ReturnLine{{LineNo: 1, Qty: 2}}},
	})
	if _, _, err := Plan(sale, prior, []domain.ReturnLineRequest{{LineNo: 1, Qty: 2}}); !errors.Is(err, domain.ErrOverReturn) {
		t.Fatalf("expected ErrOverReturn, got %v", err)
	}
	lines, total, err := Plan(sale, prior, []domain.ReturnLineRequest{{LineNo: 1, Qty: 1}})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if total != 1000 || lines[0].Qty != 1 {
		t.Fatalf("unexpected plan %+v total=%d", lines, total)
	}
}

func TestPlanRejectsBadInput(t *testing.T) {
	sale := sampleSale()
	if _, _, err := Plan(sale, nil, []domain.ReturnLineRequest{{LineNo: 1, Qty: 0}}); !errors.Is(err, domain.ErrOverReturn) {
		t.Fatalf("expected zero qty to be rejected as over-return, got %v", err)
	}
	if _, _, err := Plan(sale, nil, []domain.ReturnLineRequest{{LineNo: 9, Qty: 1}}); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("expected unknown line to be rejected, got %v", err)
	}
	if _, _, err := Plan(sale, nil, []domain.ReturnLineRequest{{LineNo: 1, Qty: 1, Condition: "stolen"}}); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("expected unknown condition to be rejected, got %v", err)
	}
	if _, _, err := Plan(sale, nil, nil); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("expected empty request to be rejected, got %v", err)
	}
}

func TestNormalizeRefundMethod(t *testing.T) {
	if got, err := NormalizeRefundMethod(""); err != nil || got != domain.TenderCash {
		t.Fatalf("expected cash default, got %q (%v)", got, err)
	}
	if got, err := NormalizeRefundMethod(" Store_Credit "); err != nil || got != domain.RefundStoreCredit {
		t.Fatalf("expected store_credit, got %q (%v)", got, err)
	}
	if _, err := NormalizeRefundMethod("card"); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("expected card refund to be rejected, got %v", err)
	}
}
