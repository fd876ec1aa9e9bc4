package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"kasirinaja/settlement/internal/authz"
	"kasirinaja/settlement/internal/domain"
	"kasirinaja/settlement/internal/store/memory"
)

type verifierStub struct {
	mu       sync.Mutex
	accounts map[string]authz.Principal
	calls    int
}

func (v *verifierStub) Verify(_ context.Context, username string, password string) (authz.Principal, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	principal, ok := v.accounts[username]
	if !ok || password != username+"-pass" {
		return authz.Principal{}, errors.New("invalid credentials")
	}
	return principal, nil
}

var (
	supervisorApproval = domain.Approval{Username: "supervisor", Password: "supervisor-pass"}
	cashierApproval    = domain.Approval{Username: "cashier", Password: "cashier-pass"}
	terminal           = domain.TerminalRef{BranchID: "main-store", TerminalID: "T1"}
)

func newTestService(t *testing.T, opts Options) (*Service, *memory.Store) {
	t.Helper()
	clock := func() time.Time { return time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC) }

	repo := memory.New(memory.WithClock(clock))
	repo.AddProduct(domain.Product{SKU: "SKU-A", Name: "Item A", PriceCents: 100, TaxRatePercent: decimal.Zero, Active: true})
	repo.AddProduct(domain.Product{SKU: "SKU-B", Name: "Item B", PriceCents: 1000, TaxRatePercent: decimal.NewFromInt(11), Active: true})
	repo.AddProduct(domain.Product{SKU: "SKU-OLD", Name: "Retired", PriceCents: 500, Active: false})
	repo.AddCustomer(domain.Customer{ID: "cust-0001", Name: "Budi Santoso", LoyaltyPoints: 120})

	verifier := &verifierStub{accounts: map[string]authz.Principal{
		"supervisor": {Username: "supervisor", Role: domain.RoleSupervisor},
		"cashier":    {Username: "cashier", Role: domain.RoleCashier},
	}}
	svc := New(repo, authz.NewGate(verifier, time.Second), opts)
	svc.now = clock
	return svc, repo
}

func cashierContext() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "kasir-a", Role: domain.RoleCashier})
}

func openShift(t *testing.T, svc *Service, float int64) domain.Shift {
	t.Helper()
	resp, err := svc.OpenShift(cashierContext(), domain.ShiftOpenRequest{
		TerminalRef:       terminal,
		CashierID:         "kasir-a",
		OpeningFloatCents: float,
		Approval:          supervisorApproval,
	})
	if err != nil {
		t.Fatalf("open shift: %v", err)
	}
	return resp.Shift
}

func addLine(t *testing.T, svc *Service, sku string, qty int) domain.CartView {
	t.Helper()
	resp, err := svc.AddLine(cashierContext(), domain.AddLineRequest{TerminalRef: terminal, SKU: sku, Qty: qty})
	if err != nil {
		t.Fatalf("add line %s: %v", sku, err)
	}
	return resp.Cart
}

func checkoutCash(t *testing.T, svc *Service, amount int64, key string) domain.CompletedSale {
	t.Helper()
	ctx := cashierContext()
	if _, err := svc.StartCheckout(ctx, terminal); err != nil {
		t.Fatalf("start checkout: %v", err)
	}
	if _, err := svc.AddTender(ctx, domain.AddTenderRequest{TerminalRef: terminal, Tender: domain.TenderEntry{Method: domain.TenderCash, AmountCents: amount}}); err != nil {
		t.Fatalf("add tender: %v", err)
	}
	resp, err := svc.Finalize(ctx, domain.FinalizeRequest{TerminalRef: terminal, IdempotencyKey: key})
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	return resp.Sale
}

func TestShiftLifecycleReconcilesCash(t *testing.T) {
	svc, _ := newTestService(t, Options{RequireMovementApproval: true})
	ctx := cashierContext()

	opened := openShift(t, svc, 5000)
	if opened.OpenedBy != "supervisor" {
		t.Fatalf("expected shift opened by supervisor, got %q", opened.OpenedBy)
	}

	addLine(t, svc, "SKU-A", 3)
	sale := checkoutCash(t, svc, 300, "idem-1")
	if sale.InvoiceNumber != "INV/MAIN-STORE/20261016/0001" {
		t.Fatalf("unexpected invoice number %q", sale.InvoiceNumber)
	}
	if sale.Totals.NetCents != 300 || sale.ChangeCents != 0 {
		t.Fatalf("unexpected sale totals %+v change=%d", sale.Totals, sale.ChangeCents)
	}

	report, err := svc.GetActiveShift(ctx, terminal)
	if err != nil {
		t.Fatalf("active shift: %v", err)
	}
	if report.Shift.Counters.CashSalesCents != 300 || report.ExpectedCashCents != 5300 {
		t.Fatalf("expected cash sales 300 and expected 5300, got %+v / %d", report.Shift.Counters, report.ExpectedCashCents)
	}

	moved, err := svc.RecordCashMovement(ctx, domain.CashMovementRequest{
		TerminalRef: terminal,
		Direction:   domain.MovementOut,
		AmountCents: 200,
		Reason:      "petty cash",
		Approval:    supervisorApproval,
	})
	if err != nil {
		t.Fatalf("cash movement: %v", err)
	}
	if moved.ExpectedCashCents != 5100 || moved.Movement.ApprovedBy != "supervisor" {
		t.Fatalf("expected 5100 after paid-out, got %d (approved by %q)", moved.ExpectedCashCents, moved.Movement.ApprovedBy)
	}

	closed, err := svc.CloseShift(ctx, domain.ShiftCloseRequest{
		TerminalRef:   terminal,
		Denominations: map[int64]int{5000: 1, 50: 1},
		Approval:      supervisorApproval,
	})
	if err != nil {
		t.Fatalf("close shift: %v", err)
	}
	rec := closed.Shift.Reconciliation
	if closed.Shift.Status != domain.ShiftStatusClosed || rec == nil {
		t.Fatalf("expected closed shift with reconciliation, got %+v", closed.Shift)
	}
	if rec.CountedCashCents != 5050 || rec.ExpectedCashCents != 5100 || rec.VarianceCents != -50 {
		t.Fatalf("unexpected reconciliation %+v", rec)
	}
	if len(closed.Movements) != 1 {
		t.Fatalf("expected movement in close report, got %d", len(closed.Movements))
	}

	if _, err := svc.GetActiveShift(ctx, terminal); !errors.Is(err, domain.ErrShiftNotOpen) {
		t.Fatalf("expected no open shift after close, got %v", err)
	}
}

func TestFinalizeSplitTenderCountsCashNetOfChange(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := cashierContext()
	openShift(t, svc, 0)

	view := addLine(t, svc, "SKU-B", 1)
	if view.Totals.TaxCents != 110 || view.Totals.NetCents != 1110 {
		t.Fatalf("unexpected totals %+v", view.Totals)
	}
	if _, err := svc.StartCheckout(ctx, terminal); err != nil {
		t.Fatalf("start checkout: %v", err)
	}
	for _, tender := range []domain.TenderEntry{
		{Method: domain.TenderCard, AmountCents: 1000, Reference: "APPR-1"},
		{Method: domain.TenderCash, AmountCents: 200},
	} {
		if _, err := svc.AddTender(ctx, domain.AddTenderRequest{TerminalRef: terminal, Tender: tender}); err != nil {
			t.Fatalf("add tender: %v", err)
		}
	}
	resp, err := svc.Finalize(ctx, domain.FinalizeRequest{TerminalRef: terminal, IdempotencyKey: "idem-split"})
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if resp.Sale.ChangeCents != 90 {
		t.Fatalf("expected change 90, got %d", resp.Sale.ChangeCents)
	}

	report, _ := svc.GetActiveShift(ctx, terminal)
	if report.Shift.Counters.CashSalesCents != 110 || report.Shift.Counters.CardSalesCents != 1000 {
		t.Fatalf("unexpected counters %+v", report.Shift.Counters)
	}

	cart, _ := svc.ViewCart(ctx, terminal)
	if len(cart.Cart.Lines) != 0 || cart.Cart.CheckoutState != "" {
		t.Fatalf("expected fresh cart after finalize, got %+v", cart.Cart)
	}
}

func TestFinalizeShortTenderReportsRemaining(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := cashierContext()
	openShift(t, svc, 0)
	addLine(t, svc, "SKU-A", 3)

	if _, err := svc.StartCheckout(ctx, terminal); err != nil {
		t.Fatalf("start checkout: %v", err)
	}
	if _, err := svc.AddTender(ctx, domain.AddTenderRequest{TerminalRef: terminal, Tender: domain.TenderEntry{Method: domain.TenderCash, AmountCents: 120}}); err != nil {
		t.Fatalf("add tender: %v", err)
	}
	_, err := svc.Finalize(ctx, domain.FinalizeRequest{TerminalRef: terminal, IdempotencyKey: "idem-short"})
	var short *domain.InsufficientTenderError
	if !errors.As(err, &short) || short.RemainingCents != 180 {
		t.Fatalf("expected insufficient tender with 180 remaining, got %v", err)
	}

	report, _ := svc.GetActiveShift(ctx, terminal)
	if report.Shift.Counters.SaleCount != 0 {
		t.Fatalf("expected no sale recorded, got %+v", report.Shift.Counters)
	}
}

func TestStartCheckoutRequiresOpenShiftAndItems(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := cashierContext()

	if _, err := svc.StartCheckout(ctx, terminal); !errors.Is(err, domain.ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart, got %v", err)
	}
	addLine(t, svc, "SKU-A", 1)
	if _, err := svc.StartCheckout(ctx, terminal); !errors.Is(err, domain.ErrShiftNotOpen) {
		t.Fatalf("expected ErrShiftNotOpen, got %v", err)
	}
}

func TestCartIsFrozenDuringCheckout(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := cashierContext()
	openShift(t, svc, 0)
	addLine(t, svc, "SKU-A", 1)

	if _, err := svc.StartCheckout(ctx, terminal); err != nil {
		t.Fatalf("start checkout: %v", err)
	}
	if _, err := svc.AddLine(ctx, domain.AddLineRequest{TerminalRef: terminal, SKU: "SKU-A", Qty: 1}); !errors.Is(err, domain.ErrCheckoutInProgress) {
		t.Fatalf("expected ErrCheckoutInProgress, got %v", err)
	}
	if _, err := svc.HoldSale(ctx, domain.HoldRequest{TerminalRef: terminal}); !errors.Is(err, domain.ErrCheckoutInProgress) {
		t.Fatalf("expected hold to be rejected during checkout, got %v", err)
	}
	if _, err := svc.AbandonCheckout(ctx, terminal); err != nil {
		t.Fatalf("abandon checkout: %v", err)
	}
	view := addLine(t, svc, "SKU-A", 1)
	if view.Lines[0].Qty != 2 {
		t.Fatalf("expected merged qty 2 after abandon, got %d", view.Lines[0].Qty)
	}
	if _, err := svc.AddTender(ctx, domain.AddTenderRequest{TerminalRef: terminal, Tender: domain.TenderEntry{Method: domain.TenderCash, AmountCents: 100}}); !errors.Is(err, domain.ErrNoCheckout) {
		t.Fatalf("expected ErrNoCheckout, got %v", err)
	}
}

func TestAddLineRejectsUnknownAndInactiveProducts(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := cashierContext()

	if _, err := svc.AddLine(ctx, domain.AddLineRequest{TerminalRef: terminal, SKU: "SKU-NOPE", Qty: 1}); !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
	if _, err := svc.AddLine(ctx, domain.AddLineRequest{TerminalRef: terminal, SKU: "sku-old", Qty: 1}); !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("expected inactive product rejected, got %v", err)
	}
	if _, err := svc.AddLine(ctx, domain.AddLineRequest{TerminalRef: terminal, SKU: "SKU-A", Qty: 0}); !errors.Is(err, domain.ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}
	if _, err := svc.AddLine(ctx, domain.AddLineRequest{TerminalRef: domain.TerminalRef{BranchID: "main-store"}, SKU: "SKU-A", Qty: 1}); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("expected missing terminal rejected, got %v", err)
	}
}

func TestFinalizeIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := cashierContext()
	openShift(t, svc, 0)
	addLine(t, svc, "SKU-A", 1)
	first := checkoutCash(t, svc, 100, "idem-repeat")

	resp, err := svc.Finalize(ctx, domain.FinalizeRequest{TerminalRef: terminal, IdempotencyKey: "idem-repeat"})
	if err != nil {
		t.Fatalf("repeat finalize: %v", err)
	}
	if !resp.Duplicate || resp.Sale.InvoiceNumber != first.InvoiceNumber {
		t.Fatalf("expected duplicate of %s, got %+v", first.InvoiceNumber, resp)
	}

	lookup, err := svc.LookupSaleByIdempotency(ctx, "idem-repeat")
	if err != nil || !lookup.Found {
		t.Fatalf("expected lookup to find sale, got %+v (%v)", lookup, err)
	}
	found, err := svc.FindSale(ctx, first.InvoiceNumber)
	if err != nil || found.ID != first.ID {
		t.Fatalf("expected sale by invoice, got %+v (%v)", found, err)
	}
	if _, err := svc.FindSale(ctx, "INV/MAIN-STORE/20261016/9999"); !errors.Is(err, domain.ErrSaleNotFound) {
		t.Fatalf("expected ErrSaleNotFound, got %v", err)
	}
}

func TestFinalizeRejectsKeyUsedByAnotherTerminal(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := cashierContext()
	openShift(t, svc, 0)
	addLine(t, svc, "SKU-A", 1)
	first := checkoutCash(t, svc, 100, "K1")

	other := domain.TerminalRef{BranchID: "main-store", TerminalID: "T2"}
	if _, err := svc.OpenShift(ctx, domain.ShiftOpenRequest{TerminalRef: other, CashierID: "kasir-b", Approval: supervisorApproval}); err != nil {
		t.Fatalf("open shift on T2: %v", err)
	}
	if _, err := svc.AddLine(ctx, domain.AddLineRequest{TerminalRef: other, SKU: "SKU-B", Qty: 1}); err != nil {
		t.Fatalf("add line on T2: %v", err)
	}
	if _, err := svc.StartCheckout(ctx, other); err != nil {
		t.Fatalf("start checkout on T2: %v", err)
	}
	if _, err := svc.AddTender(ctx, domain.AddTenderRequest{TerminalRef: other, Tender: domain.TenderEntry{Method: domain.TenderCash, AmountCents: 2000}}); err != nil {
		t.Fatalf("add tender on T2: %v", err)
	}

	_, err := svc.Finalize(ctx, domain.FinalizeRequest{TerminalRef: other, IdempotencyKey: "K1"})
	if !errors.Is(err, domain.ErrIdempotencyReused) {
		t.Fatalf("expected ErrIdempotencyReused, got %v", err)
	}
	if domain.KindOf(err) != domain.KindConsistency {
		t.Fatalf("expected consistency error, got %s", domain.KindOf(err))
	}

	resp, err := svc.Finalize(ctx, domain.FinalizeRequest{TerminalRef: other, IdempotencyKey: "K2"})
	if err != nil {
		t.Fatalf("finalize T2 with fresh key: %v", err)
	}
	if resp.Duplicate || resp.Sale.ID == first.ID || resp.Sale.TerminalID != "t2" {
		t.Fatalf("expected a new T2 sale, got %+v", resp)
	}
	if len(resp.Sale.Lines) != 1 || resp.Sale.Lines[0].SKU != "SKU-B" {
		t.Fatalf("expected T2 cart to survive the rejected finalize, got %+v", resp.Sale.Lines)
	}
}

func TestHoldAndRecallRestoresCartOnce(t *testing.T) {
	svc, _ := newTestService(t, Options{HeldSaleTTL: time.Hour})
	ctx := cashierContext()

	addLine(t, svc, "SKU-A", 2)
	addLine(t, svc, "SKU-B", 1)
	if _, err := svc.AttachCustomer(ctx, domain.AttachCustomerRequest{TerminalRef: terminal, CustomerID: "cust-0001"}); err != nil {
		t.Fatalf("attach customer: %v", err)
	}
	before, err := svc.ApplyBillDiscount(ctx, domain.BillDiscountRequest{TerminalRef: terminal, AmountCents: 50})
	if err != nil {
		t.Fatalf("bill discount: %v", err)
	}

	held, err := svc.HoldSale(ctx, domain.HoldRequest{TerminalRef: terminal, Note: "customer fetching wallet"})
	if err != nil {
		t.Fatalf("hold: %v", err)
	}
	if held.HeldSale.ExpiresAt == nil {
		t.Fatalf("expected held sale expiry to be set")
	}
	empty, _ := svc.ViewCart(ctx, terminal)
	if len(empty.Cart.Lines) != 0 {
		t.Fatalf("expected empty cart after hold")
	}

	list, err := svc.ListHeldSales(ctx, terminal, 10)
	if err != nil || len(list.Items) != 1 {
		t.Fatalf("expected one held sale, got %d (%v)", len(list.Items), err)
	}

	recalled, err := svc.RecallHeldSale(ctx, domain.RecallRequest{TerminalRef: terminal, HeldSaleID: held.HeldSale.ID})
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	after := recalled.Cart
	if after.Totals != before.Cart.Totals || len(after.Lines) != 2 || after.Customer == nil || after.Customer.ID != "cust-0001" {
		t.Fatalf("recalled cart differs: before %+v after %+v", before.Cart, after)
	}
	if after.HeldSaleID != held.HeldSale.ID {
		t.Fatalf("expected recalled cart to remember held sale id")
	}

	if _, err := svc.ClearCart(ctx, terminal); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := svc.RecallHeldSale(ctx, domain.RecallRequest{TerminalRef: terminal, HeldSaleID: held.HeldSale.ID}); !errors.Is(err, domain.ErrHeldSaleNotFound) {
		t.Fatalf("expected ErrHeldSaleNotFound on second recall, got %v", err)
	}
}

func TestRecallRejectsNonEmptyCartAndKeepsHeldSale(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := cashierContext()

	if _, err := svc.HoldSale(ctx, domain.HoldRequest{TerminalRef: terminal}); !errors.Is(err, domain.ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart, got %v", err)
	}

	addLine(t, svc, "SKU-A", 1)
	held, err := svc.HoldSale(ctx, domain.HoldRequest{TerminalRef: terminal})
	if err != nil {
		t.Fatalf("hold: %v", err)
	}
	addLine(t, svc, "SKU-B", 1)

	if _, err := svc.RecallHeldSale(ctx, domain.RecallRequest{TerminalRef: terminal, HeldSaleID: held.HeldSale.ID}); !errors.Is(err, domain.ErrCartNotEmpty) {
		t.Fatalf("expected ErrCartNotEmpty, got %v", err)
	}
	list, _ := svc.ListHeldSales(ctx, terminal, 10)
	if len(list.Items) != 1 {
		t.Fatalf("expected held sale to survive rejected recall")
	}

	if err := svc.DiscardHeldSale(ctx, terminal, held.HeldSale.ID); err != nil {
		t.Fatalf("discard: %v", err)
	}
	if err := svc.DiscardHeldSale(ctx, terminal, held.HeldSale.ID); !errors.Is(err, domain.ErrHeldSaleNotFound) {
		t.Fatalf("expected ErrHeldSaleNotFound after discard, got %v", err)
	}
}

func TestHeldSaleStaysInItsBranch(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := cashierContext()

	addLine(t, svc, "SKU-A", 2)
	held, err := svc.HoldSale(ctx, domain.HoldRequest{TerminalRef: terminal})
	if err != nil {
		t.Fatalf("hold: %v", err)
	}

	elsewhere := domain.TerminalRef{BranchID: "other-branch", TerminalID: "T9"}
	if _, err := svc.RecallHeldSale(ctx, domain.RecallRequest{TerminalRef: elsewhere, HeldSaleID: held.HeldSale.ID}); !errors.Is(err, domain.ErrHeldSaleNotFound) {
		t.Fatalf("expected ErrHeldSaleNotFound from another branch, got %v", err)
	}
	if err := svc.DiscardHeldSale(ctx, elsewhere, held.HeldSale.ID); !errors.Is(err, domain.ErrHeldSaleNotFound) {
		t.Fatalf("expected discard from another branch to miss, got %v", err)
	}
	view, _ := svc.ViewCart(ctx, elsewhere)
	if len(view.Cart.Lines) != 0 {
		t.Fatalf("expected other branch cart to stay empty")
	}

	list, _ := svc.ListHeldSales(ctx, terminal, 10)
	if len(list.Items) != 1 {
		t.Fatalf("expected held sale to remain after foreign attempts, got %d", len(list.Items))
	}
	recalled, err := svc.RecallHeldSale(ctx, domain.RecallRequest{TerminalRef: domain.TerminalRef{BranchID: "MAIN-STORE", TerminalID: "T2"}, HeldSaleID: held.HeldSale.ID})
	if err != nil {
		t.Fatalf("recall in the holding branch: %v", err)
	}
	if len(recalled.Cart.Lines) != 1 || recalled.Cart.Lines[0].Qty != 2 {
		t.Fatalf("unexpected recalled cart %+v", recalled.Cart)
	}
}

func TestProcessReturnEnforcesCumulativeQuantity(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := cashierContext()
	openShift(t, svc, 0)
	addLine(t, svc, "SKU-A", 3)
	sale := checkoutCash(t, svc, 300, "idem-return")

	req := domain.ReturnRequest{
		SaleID:   sale.InvoiceNumber,
		Lines:    []domain.ReturnLineRequest{{LineNo: 1, Qty: 2}},
		Reason:   "wrong flavour",
		Approval: supervisorApproval,
	}
	resp, err := svc.ProcessReturn(ctx, req)
	if err != nil {
		t.Fatalf("return: %v", err)
	}
	if resp.Return.RefundTotalCents != 200 || resp.Return.RefundMethod != domain.TenderCash || resp.Return.AuthorizedBy != "supervisor" {
		t.Fatalf("unexpected return %+v", resp.Return)
	}

	if _, err := svc.ProcessReturn(ctx, req); !errors.Is(err, domain.ErrOverReturn) {
		t.Fatalf("expected ErrOverReturn, got %v", err)
	}

	blank := req
	blank.Lines = []domain.ReturnLineRequest{{LineNo: 1, Qty: 1}}
	blank.Reason = "  "
	if _, err := svc.ProcessReturn(ctx, blank); !errors.Is(err, domain.ErrReasonRequired) {
		t.Fatalf("expected ErrReasonRequired, got %v", err)
	}

	denied := req
	denied.Lines = []domain.ReturnLineRequest{{LineNo: 1, Qty: 1}}
	denied.Approval = cashierApproval
	if _, err := svc.ProcessReturn(ctx, denied); !errors.Is(err, domain.ErrAuthorizationDenied) {
		t.Fatalf("expected ErrAuthorizationDenied, got %v", err)
	}

	report, _ := svc.GetActiveShift(ctx, terminal)
	if report.Shift.Counters.CashSalesCents != 300 {
		t.Fatalf("expected returns to leave shift counters untouched, got %+v", report.Shift.Counters)
	}
}

func TestShiftGateDenials(t *testing.T) {
	svc, _ := newTestService(t, Options{RequireMovementApproval: true})
	ctx := cashierContext()

	_, err := svc.OpenShift(ctx, domain.ShiftOpenRequest{TerminalRef: terminal, CashierID: "kasir-a", OpeningFloatCents: 5000, Approval: cashierApproval})
	if !errors.Is(err, domain.ErrAuthorizationDenied) {
		t.Fatalf("expected cashier approval to be denied, got %v", err)
	}
	if _, err := svc.OpenShift(ctx, domain.ShiftOpenRequest{TerminalRef: terminal, CashierID: "kasir-a", OpeningFloatCents: -1, Approval: supervisorApproval}); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("expected negative float rejected, got %v", err)
	}

	openShift(t, svc, 5000)
	if _, err := svc.OpenShift(ctx, domain.ShiftOpenRequest{TerminalRef: terminal, CashierID: "kasir-b", Approval: supervisorApproval}); !errors.Is(err, domain.ErrShiftAlreadyOpen) {
		t.Fatalf("expected ErrShiftAlreadyOpen, got %v", err)
	}

	_, err = svc.RecordCashMovement(ctx, domain.CashMovementRequest{TerminalRef: terminal, Direction: domain.MovementIn, AmountCents: 100, Reason: "float top-up"})
	if !errors.Is(err, domain.ErrAuthorizationDenied) {
		t.Fatalf("expected movement without approval denied, got %v", err)
	}
	_, err = svc.RecordCashMovement(ctx, domain.CashMovementRequest{TerminalRef: terminal, Direction: domain.MovementIn, AmountCents: 100, Approval: supervisorApproval})
	if !errors.Is(err, domain.ErrReasonRequired) {
		t.Fatalf("expected ErrReasonRequired, got %v", err)
	}

	if _, err := svc.CloseShift(ctx, domain.ShiftCloseRequest{TerminalRef: terminal, Approval: supervisorApproval}); !errors.Is(err, domain.ErrDeclarationRequired) {
		t.Fatalf("expected ErrDeclarationRequired, got %v", err)
	}
	if _, err := svc.CloseShift(ctx, domain.ShiftCloseRequest{TerminalRef: terminal, Denominations: map[int64]int{1000: -1}, Approval: supervisorApproval}); !errors.Is(err, domain.ErrInvalidDenominationCount) {
		t.Fatalf("expected ErrInvalidDenominationCount, got %v", err)
	}
	if _, err := svc.CloseShift(ctx, domain.ShiftCloseRequest{TerminalRef: terminal, Denominations: map[int64]int{1000: 5}, Approval: cashierApproval}); !errors.Is(err, domain.ErrAuthorizationDenied) {
		t.Fatalf("expected close denied for cashier approval, got %v", err)
	}

	report, _ := svc.GetActiveShift(ctx, terminal)
	if report.Shift.Status != domain.ShiftStatusOpen || report.Shift.Counters.PaidInCents != 0 {
		t.Fatalf("expected denied operations to leave shift untouched, got %+v", report.Shift)
	}
}

func TestMovementWithoutApprovalWhenNotRequired(t *testing.T) {
	svc, _ := newTestService(t, Options{RequireMovementApproval: false})
	ctx := cashierContext()
	openShift(t, svc, 1000)

	resp, err := svc.RecordCashMovement(ctx, domain.CashMovementRequest{TerminalRef: terminal, Direction: domain.MovementIn, AmountCents: 250, Reason: "change top-up"})
	if err != nil {
		t.Fatalf("movement: %v", err)
	}
	if resp.ExpectedCashCents != 1250 || resp.Movement.RecordedBy != "kasir-a" {
		t.Fatalf("unexpected movement response %+v", resp)
	}
}

func TestMoneyMovingOperationsAreAudited(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := cashierContext()
	openShift(t, svc, 0)
	addLine(t, svc, "SKU-A", 1)
	checkoutCash(t, svc, 100, "idem-audit")
	_, _ = svc.OpenShift(ctx, domain.ShiftOpenRequest{TerminalRef: domain.TerminalRef{TerminalID: "T2"}, CashierID: "kasir-b", Approval: cashierApproval})

	logs, err := svc.ListAuditLogs(ctx, "main-store", "2026-10-16", 50)
	if err != nil {
		t.Fatalf("audit logs: %v", err)
	}
	seen := map[string]bool{}
	for _, entry := range logs {
		seen[entry.Action] = true
	}
	for _, action := range []string{"shift_open", "sale_finalize", "authorization_denied"} {
		if !seen[action] {
			t.Fatalf("expected audit action %s, got %+v", action, seen)
		}
	}
	if _, err := svc.ListAuditLogs(ctx, "main-store", "16-10-2026", 50); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("expected invalid date rejected, got %v", err)
	}
}
