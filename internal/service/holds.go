package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"kasirinaja/settlement/internal/cart"
	"kasirinaja/settlement/internal/domain"
	"kasirinaja/settlement/internal/store"
	"kasirinaja/settlement/internal/xid"
)

// HoldSale parks the terminal's cart and leaves the session with an empty one.
func (s *Service) HoldSale(ctx context.Context, req domain.HoldRequest) (domain.HeldSaleResponse, error) {
	sess, ref, err := s.lockSession(req.TerminalRef)
	if err != nil {
		return domain.HeldSaleResponse{}, err
	}
	defer sess.mu.Unlock()

	if sess.checkoutInProgress() {
		return domain.HeldSaleResponse{}, s.consistency("hold", domain.ErrCheckoutInProgress)
	}
	if sess.cart.Empty() {
		return domain.HeldSaleResponse{}, domain.ErrEmptyCart
	}

	actor, _ := ActorFromContext(ctx)
	now := s.now()
	held := domain.HeldSale{
		ID:         xid.New("held"),
		BranchID:   ref.BranchID,
		TerminalID: ref.TerminalID,
		CashierID:  actor.Username,
		Note:       strings.TrimSpace(req.Note),
		Cart:       sess.cart.Snapshot(),
		HeldAt:     now,
	}
	held.Cart.HeldSaleID = ""
	if current, err := s.repo.GetActiveShift(ctx, ref.BranchID, ref.TerminalID); err == nil {
		held.ShiftID = current.ID
	}
	if s.heldSaleTTL > 0 {
		expiresAt := now.Add(s.heldSaleTTL)
		held.ExpiresAt = &expiresAt
	}

	saved, err := s.held.CreateHeldSale(ctx, held)
	if err != nil {
		return domain.HeldSaleResponse{}, err
	}
	net := sess.cart.Totals().NetCents
	sess.cart.Clear()

	s.metrics.HeldSaleEvent("hold")
	s.logAudit(ctx, ref.BranchID, "sale_hold", "held_sale", saved.ID, fmt.Sprintf("lines=%d,net=%d", len(saved.Cart.Lines), net))
	return domain.HeldSaleResponse{HeldSale: *saved}, nil
}

func (s *Service) ListHeldSales(ctx context.Context, ref domain.TerminalRef, limit int) (domain.HeldSaleListResponse, error) {
	ref, err := s.normalizeRef(ref)
	if err != nil {
		return domain.HeldSaleListResponse{}, err
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}
	items, err := s.held.ListHeldSales(ctx, ref.BranchID, ref.TerminalID, limit)
	if err != nil {
		return domain.HeldSaleListResponse{}, err
	}
	return domain.HeldSaleListResponse{Items: items}, nil
}

// RecallHeldSale restores a held cart into the terminal's session. Each held
// sale can be recalled once, only within the branch that held it, and the
// target cart must be empty.
func (s *Service) RecallHeldSale(ctx context.Context, req domain.RecallRequest) (domain.CartResponse, error) {
	sess, ref, err := s.lockSession(req.TerminalRef)
	if err != nil {
		return domain.CartResponse{}, err
	}
	defer sess.mu.Unlock()

	if sess.checkoutInProgress() {
		return domain.CartResponse{}, s.consistency("recall", domain.ErrCheckoutInProgress)
	}
	if !sess.cart.Empty() {
		return domain.CartResponse{}, s.consistency("recall", domain.ErrCartNotEmpty)
	}

	held, err := s.popHeldSale(ctx, ref.BranchID, req.HeldSaleID)
	if err != nil {
		return domain.CartResponse{}, err
	}
	restored, err := cart.FromSnapshot(held.Cart)
	if err != nil {
		log.Printf("[consistency] held sale %s could not be restored: %v", held.ID, err)
		return domain.CartResponse{}, err
	}
	restored.SetHeldSaleID(held.ID)
	sess.cart = restored

	s.metrics.HeldSaleEvent("recall")
	s.logAudit(ctx, ref.BranchID, "sale_recall", "held_sale", held.ID, fmt.Sprintf("terminal=%s", ref.TerminalID))
	return domain.CartResponse{Cart: sess.view()}, nil
}

// DiscardHeldSale drops a held sale of the caller's branch without restoring it.
func (s *Service) DiscardHeldSale(ctx context.Context, ref domain.TerminalRef, id string) error {
	branchID := strings.ToLower(strings.TrimSpace(ref.BranchID))
	if branchID == "" {
		branchID = s.defaultBranchID
	}
	if err := ValidateBranchID(branchID); err != nil {
		return err
	}
	held, err := s.popHeldSale(ctx, branchID, id)
	if err != nil {
		return err
	}
	s.metrics.HeldSaleEvent("discard")
	s.logAudit(ctx, held.BranchID, "held_sale_discard", "held_sale", held.ID, fmt.Sprintf("lines=%d", len(held.Cart.Lines)))
	return nil
}

func (s *Service) popHeldSale(ctx context.Context, branchID string, id string) (*domain.HeldSale, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: held_sale_id is required", domain.ErrInvalidRequest)
	}
	held, err := s.held.PopHeldSale(ctx, branchID, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, s.consistency("recall", fmt.Errorf("%w: %s", domain.ErrHeldSaleNotFound, id))
		}
		return nil, err
	}
	return held, nil
}
