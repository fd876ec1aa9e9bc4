package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"kasirinaja/settlement/internal/authz"
	"kasirinaja/settlement/internal/domain"
	"kasirinaja/settlement/internal/metrics"
	"kasirinaja/settlement/internal/sequence"
	"kasirinaja/settlement/internal/store"
	"kasirinaja/settlement/internal/tender"
	"kasirinaja/settlement/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	DefaultBranchID         string
	Location                *time.Location
	RequireMovementApproval bool
	// HeldSales overrides where held sales are kept; the repository is used when nil.
	HeldSales   store.HeldSaleStore
	HeldSaleTTL time.Duration
	Metrics     *metrics.Recorder
}

type Service struct {
	repo                    store.Repository
	held                    store.HeldSaleStore
	gate                    *authz.Gate
	metrics                 *metrics.Recorder
	sessions                *sessionRegistry
	defaultBranchID         string
	location                *time.Location
	requireMovementApproval bool
	heldSaleTTL             time.Duration
	now                     func() time.Time
}

func New(repo store.Repository, gate *authz.Gate, opts Options) *Service {
	if opts.DefaultBranchID == "" {
		opts.DefaultBranchID = "main-store"
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	held := opts.HeldSales
	if held == nil {
		held = repo
	}

	return &Service{
		repo:                    repo,
		held:                    held,
		gate:                    gate,
		metrics:                 opts.Metrics,
		sessions:                newSessionRegistry(),
		defaultBranchID:         strings.ToLower(opts.DefaultBranchID),
		location:                opts.Location,
		requireMovementApproval: opts.RequireMovementApproval,
		heldSaleTTL:             opts.HeldSaleTTL,
		now:                     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) ViewCart(_ context.Context, ref domain.TerminalRef) (domain.CartResponse, error) {
	sess, _, err := s.lockSession(ref)
	if err != nil {
		return domain.CartResponse{}, err
	}
	defer sess.mu.Unlock()
	return domain.CartResponse{Cart: sess.view()}, nil
}

func (s *Service) AddLine(ctx context.Context, req domain.AddLineRequest) (domain.CartResponse, error) {
	sess, _, err := s.lockSession(req.TerminalRef)
	if err != nil {
		return domain.CartResponse{}, err
	}
	defer sess.mu.Unlock()
	if err := sess.editable(); err != nil {
		return domain.CartResponse{}, err
	}

	sku := strings.ToUpper(strings.TrimSpace(req.SKU))
	if sku == "" {
		return domain.CartResponse{}, fmt.Errorf("%w: sku is required", domain.ErrInvalidRequest)
	}
	product, err := s.repo.GetProductBySKU(ctx, sku)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.CartResponse{}, fmt.Errorf("%w: %s", domain.ErrProductNotFound, sku)
		}
		return domain.CartResponse{}, err
	}
	if !product.Active {
		return domain.CartResponse{}, fmt.Errorf("%w: %s is inactive", domain.ErrProductNotFound, sku)
	}
	if err := sess.cart.AddLine(*product, req.Qty); err != nil {
		return domain.CartResponse{}, err
	}
	return domain.CartResponse{Cart: sess.view()}, nil
}

func (s *Service) SetLineQty(_ context.Context, req domain.SetLineQtyRequest) (domain.CartResponse, error) {
	return s.mutateCart(req.TerminalRef, func(sess *Session) error {
		return sess.cart.SetLineQty(req.Index, req.Qty)
	})
}

func (s *Service) RemoveLine(_ context.Context, req domain.LineRequest) (domain.CartResponse, error) {
	return s.mutateCart(req.TerminalRef, func(sess *Session) error {
		return sess.cart.RemoveLine(req.Index)
	})
}

func (s *Service) ApplyLineDiscount(_ context.Context, req domain.LineDiscountRequest) (domain.CartResponse, error) {
	return s.mutateCart(req.TerminalRef, func(sess *Session) error {
		return sess.cart.ApplyLineDiscount(req.Index, req.AmountCents)
	})
}

func (s *Service) ApplyBillDiscount(_ context.Context, req domain.BillDiscountRequest) (domain.CartResponse, error) {
	return s.mutateCart(req.TerminalRef, func(sess *Session) error {
		return sess.cart.ApplyBillDiscount(req.AmountCents)
	})
}

func (s *Service) AttachCustomer(ctx context.Context, req domain.AttachCustomerRequest) (domain.CartResponse, error) {
	customerID := strings.TrimSpace(req.CustomerID)
	if customerID == "" {
		return domain.CartResponse{}, fmt.Errorf("%w: customer_id is required", domain.ErrInvalidRequest)
	}
	return s.mutateCart(req.TerminalRef, func(sess *Session) error {
		customer, err := s.repo.GetCustomer(ctx, customerID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%w: %s", domain.ErrCustomerNotFound, customerID)
			}
			return err
		}
		sess.cart.AttachCustomer(*customer)
		return nil
	})
}

func (s *Service) DetachCustomer(_ context.Context, ref domain.TerminalRef) (domain.CartResponse, error) {
	return s.mutateCart(ref, func(sess *Session) error {
		sess.cart.DetachCustomer()
		return nil
	})
}

func (s *Service) ClearCart(_ context.Context, ref domain.TerminalRef) (domain.CartResponse, error) {
	return s.mutateCart(ref, func(sess *Session) error {
		sess.cart.Clear()
		return nil
	})
}

func (s *Service) mutateCart(ref domain.TerminalRef, mutate func(sess *Session) error) (domain.CartResponse, error) {
	sess, _, err := s.lockSession(ref)
	if err != nil {
		return domain.CartResponse{}, err
	}
	defer sess.mu.Unlock()
	if err := sess.editable(); err != nil {
		return domain.CartResponse{}, err
	}
	if err := mutate(sess); err != nil {
		return domain.CartResponse{}, err
	}
	return domain.CartResponse{Cart: sess.view()}, nil
}

// StartCheckout freezes the cart and opens a tender ledger for its net total.
func (s *Service) StartCheckout(ctx context.Context, ref domain.TerminalRef) (domain.CheckoutResponse, error) {
	sess, ref, err := s.lockSession(ref)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}
	defer sess.mu.Unlock()

	if sess.checkoutInProgress() {
		return domain.CheckoutResponse{}, domain.ErrCheckoutInProgress
	}
	if sess.cart.Empty() {
		return domain.CheckoutResponse{}, domain.ErrEmptyCart
	}
	if _, err := s.activeShift(ctx, ref); err != nil {
		return domain.CheckoutResponse{}, err
	}

	ledger, err := tender.NewLedger(sess.cart.Totals().NetCents)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}
	sess.ledger = ledger
	return sess.checkoutView(), nil
}

func (s *Service) AddTender(_ context.Context, req domain.AddTenderRequest) (domain.CheckoutResponse, error) {
	return s.mutateLedger(req.TerminalRef, func(ledger *tender.Ledger) error {
		return ledger.Add(req.Tender)
	})
}

func (s *Service) RemoveTender(_ context.Context, req domain.RemoveTenderRequest) (domain.CheckoutResponse, error) {
	return s.mutateLedger(req.TerminalRef, func(ledger *tender.Ledger) error {
		return ledger.Remove(req.Index)
	})
}

// AbandonCheckout discards the tenders and unfreezes the cart.
func (s *Service) AbandonCheckout(ctx context.Context, ref domain.TerminalRef) (domain.CartResponse, error) {
	sess, ref, err := s.lockSession(ref)
	if err != nil {
		return domain.CartResponse{}, err
	}
	defer sess.mu.Unlock()

	if !sess.checkoutInProgress() {
		return domain.CartResponse{}, domain.ErrNoCheckout
	}
	tendered := sess.ledger.Tendered()
	if err := sess.ledger.Abandon(); err != nil {
		return domain.CartResponse{}, err
	}
	sess.ledger = nil
	s.logAudit(ctx, ref.BranchID, "checkout_abandon", "terminal", ref.TerminalID, fmt.Sprintf("tendered=%d", tendered))
	return domain.CartResponse{Cart: sess.view()}, nil
}

func (s *Service) mutateLedger(ref domain.TerminalRef, mutate func(ledger *tender.Ledger) error) (domain.CheckoutResponse, error) {
	sess, _, err := s.lockSession(ref)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}
	defer sess.mu.Unlock()

	if !sess.checkoutInProgress() {
		return domain.CheckoutResponse{}, domain.ErrNoCheckout
	}
	if err := mutate(sess.ledger); err != nil {
		return domain.CheckoutResponse{}, err
	}
	return sess.checkoutView(), nil
}

// Finalize commits the checkout as a completed sale. A repeated idempotency
// key returns the sale recorded the first time and marks it as a duplicate.
func (s *Service) Finalize(ctx context.Context, req domain.FinalizeRequest) (domain.SaleResponse, error) {
	sess, ref, err := s.lockSession(req.TerminalRef)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	defer sess.mu.Unlock()

	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = xid.New("idem")
	}
	if existing, err := s.repo.FindSaleByIdempotency(ctx, req.IdempotencyKey); err == nil {
		return s.duplicateSale(ref, existing)
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.SaleResponse{}, err
	}

	if !sess.checkoutInProgress() {
		return domain.SaleResponse{}, domain.ErrNoCheckout
	}
	change, err := sess.ledger.Settle()
	if err != nil {
		return domain.SaleResponse{}, err
	}

	actor, _ := ActorFromContext(ctx)
	now := s.now()
	lines := sess.cart.Lines()
	saleLines := make([]domain.SaleLine, 0, len(lines))
	for i, line := range lines {
		saleLines = append(saleLines, domain.SaleLine{LineNo: i + 1, LineItem: line})
	}
	sale := domain.CompletedSale{
		ID:             xid.New("sale"),
		BranchID:       ref.BranchID,
		BusinessDate:   sequence.DayKey(now.In(s.location)),
		TerminalID:     ref.TerminalID,
		CashierID:      actor.Username,
		Customer:       sess.cart.Customer(),
		HeldSaleID:     sess.cart.HeldSaleID(),
		IdempotencyKey: req.IdempotencyKey,
		Lines:          saleLines,
		Totals:         sess.cart.Totals(),
		Tenders:        sess.ledger.Entries(),
		TenderedCents:  sess.ledger.Tendered(),
		ChangeCents:    change,
		CreatedAt:      now,
	}

	committed, err := s.repo.CommitSale(ctx, sale)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			if existing, findErr := s.repo.FindSaleByIdempotency(ctx, req.IdempotencyKey); findErr == nil {
				return s.duplicateSale(ref, existing)
			}
		}
		return domain.SaleResponse{}, s.consistency("finalize", err)
	}

	if err := sess.ledger.Finalize(); err != nil {
		log.Printf("[consistency] WARN: ledger finalize after commit sale=%s: %v", committed.ID, err)
	}
	sess.ledger = nil
	sess.cart.Clear()

	s.metrics.SaleFinalized(committed.Tenders)
	s.logAudit(ctx, committed.BranchID, "sale_finalize", "sale", committed.ID,
		fmt.Sprintf("invoice=%s,net=%d,tendered=%d,change=%d", committed.InvoiceNumber, committed.Totals.NetCents, committed.TenderedCents, committed.ChangeCents))
	return domain.SaleResponse{Sale: *committed}, nil
}

// duplicateSale replays a sale recorded under the same idempotency key. A key
// recorded by another terminal is a conflict; the caller's checkout stays open.
func (s *Service) duplicateSale(ref domain.TerminalRef, existing *domain.CompletedSale) (domain.SaleResponse, error) {
	if !strings.EqualFold(existing.BranchID, ref.BranchID) || !strings.EqualFold(existing.TerminalID, ref.TerminalID) {
		return domain.SaleResponse{}, s.consistency("finalize", fmt.Errorf("%w: key %s belongs to %s/%s",
			domain.ErrIdempotencyReused, existing.IdempotencyKey, existing.BranchID, existing.TerminalID))
	}
	return domain.SaleResponse{Sale: *existing, Duplicate: true}, nil
}

func (s *Service) LookupSaleByIdempotency(ctx context.Context, key string) (domain.SaleLookupResponse, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.SaleLookupResponse{}, fmt.Errorf("%w: idempotency key is required", domain.ErrInvalidRequest)
	}
	sale, err := s.repo.FindSaleByIdempotency(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.SaleLookupResponse{Found: false}, nil
		}
		return domain.SaleLookupResponse{}, err
	}
	return domain.SaleLookupResponse{Found: true, Sale: sale}, nil
}

// FindSale accepts either a sale id or an invoice number.
func (s *Service) FindSale(ctx context.Context, ref string) (domain.CompletedSale, error) {
	sale, err := s.findSale(ctx, ref)
	if err != nil {
		return domain.CompletedSale{}, err
	}
	return *sale, nil
}

func (s *Service) findSale(ctx context.Context, ref string) (*domain.CompletedSale, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("%w: sale reference is required", domain.ErrInvalidRequest)
	}
	sale, err := s.repo.FindSaleByID(ctx, ref)
	if err == nil {
		return sale, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	sale, err = s.repo.FindSaleByInvoice(ctx, strings.ToUpper(ref))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrSaleNotFound, ref)
		}
		return nil, err
	}
	return sale, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, branchID string, date string, limit int) ([]domain.AuditLog, error) {
	branchID = strings.ToLower(strings.TrimSpace(branchID))
	if date == "" {
		date = sequence.DayKey(s.now().In(s.location))
	}
	day, err := time.ParseInLocation("2006-01-02", date, s.location)
	if err != nil {
		return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", domain.ErrInvalidRequest)
	}
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.repo.ListAuditLogs(ctx, branchID, day.UTC(), day.AddDate(0, 0, 1).UTC(), limit)
}

// authorize runs the supervisor gate and counts denials.
func (s *Service) authorize(ctx context.Context, branchID string, action string, approval domain.Approval) (authz.Principal, error) {
	principal, err := s.gate.Authorize(ctx, action, approval, authz.SupervisoryRoles...)
	if err != nil {
		s.metrics.AuthorizationDenied(action)
		s.logAudit(ctx, branchID, "authorization_denied", "action", action, fmt.Sprintf("approver=%s", strings.ToLower(strings.TrimSpace(approval.Username))))
		return authz.Principal{}, err
	}
	return principal, nil
}

func (s *Service) activeShift(ctx context.Context, ref domain.TerminalRef) (*domain.Shift, error) {
	current, err := s.repo.GetActiveShift(ctx, ref.BranchID, ref.TerminalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: terminal %s", domain.ErrShiftNotOpen, ref.TerminalID)
		}
		return nil, err
	}
	return current, nil
}

// consistency logs state conflicts before handing err back to the caller.
func (s *Service) consistency(op string, err error) error {
	if domain.KindOf(err) == domain.KindConsistency || errors.Is(err, store.ErrConflict) {
		log.Printf("[consistency] %s rejected: %v", op, err)
	}
	return err
}

func (s *Service) logAudit(ctx context.Context, branchID string, action string, entityType string, entityID string, detail string) {
	if branchID == "" {
		branchID = s.defaultBranchID
	}

	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		BranchID:      branchID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

func ValidateBranchID(branchID string) error {
	if branchID == "" {
		return fmt.Errorf("%w: branch_id is required", domain.ErrInvalidRequest)
	}
	if strings.ContainsAny(branchID, "/ \t") {
		return fmt.Errorf("%w: branch_id must not contain spaces or slashes", domain.ErrInvalidRequest)
	}
	return nil
}
