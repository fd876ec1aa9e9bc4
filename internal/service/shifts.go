package service

import (
	"context"
	"fmt"
	"log"
	"strings"

	"kasirinaja/settlement/internal/domain"
	"kasirinaja/settlement/internal/money"
	"kasirinaja/settlement/internal/shift"
	"kasirinaja/settlement/internal/xid"
)

func (s *Service) OpenShift(ctx context.Context, req domain.ShiftOpenRequest) (domain.ShiftResponse, error) {
	ref, err := s.normalizeRef(req.TerminalRef)
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	cashierID := strings.ToLower(strings.TrimSpace(req.CashierID))
	if cashierID == "" {
		if actor, ok := ActorFromContext(ctx); ok {
			cashierID = actor.Username
		}
	}

	opened, err := shift.Open(shift.OpenParams{
		ID:                xid.New("shift"),
		BranchID:          ref.BranchID,
		TerminalID:        ref.TerminalID,
		CashierID:         cashierID,
		OpeningFloatCents: req.OpeningFloatCents,
		OpenedAt:          s.now(),
	})
	if err != nil {
		return domain.ShiftResponse{}, err
	}

	principal, err := s.authorize(ctx, ref.BranchID, "shift_open", req.Approval)
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	opened.OpenedBy = principal.Username

	saved, err := s.repo.OpenShift(ctx, opened)
	if err != nil {
		return domain.ShiftResponse{}, s.consistency("shift_open", err)
	}

	s.logAudit(ctx, ref.BranchID, "shift_open", "shift", saved.ID,
		fmt.Sprintf("terminal=%s,cashier=%s,float=%d,approved_by=%s", saved.TerminalID, saved.CashierID, saved.OpeningFloatCents, principal.Username))
	return domain.ShiftResponse{Shift: *saved, ExpectedCashCents: shift.ExpectedCash(*saved)}, nil
}

// RecordCashMovement applies a paid-in or paid-out to the terminal's open shift.
func (s *Service) RecordCashMovement(ctx context.Context, req domain.CashMovementRequest) (domain.CashMovementResponse, error) {
	ref, err := s.normalizeRef(req.TerminalRef)
	if err != nil {
		return domain.CashMovementResponse{}, err
	}

	actor, _ := ActorFromContext(ctx)
	movement := domain.CashMovement{
		ID:          xid.New("cm"),
		Direction:   strings.ToLower(strings.TrimSpace(req.Direction)),
		AmountCents: req.AmountCents,
		Reason:      strings.TrimSpace(req.Reason),
		Reference:   strings.TrimSpace(req.Reference),
		RecordedBy:  actor.Username,
		CreatedAt:   s.now(),
	}
	if err := shift.ValidateMovement(movement); err != nil {
		return domain.CashMovementResponse{}, err
	}

	if s.requireMovementApproval {
		principal, err := s.authorize(ctx, ref.BranchID, "cash_movement", req.Approval)
		if err != nil {
			return domain.CashMovementResponse{}, err
		}
		movement.ApprovedBy = principal.Username
	}

	saved, current, err := s.repo.RecordCashMovement(ctx, ref.BranchID, ref.TerminalID, movement)
	if err != nil {
		return domain.CashMovementResponse{}, s.consistency("cash_movement", err)
	}

	s.logAudit(ctx, ref.BranchID, "cash_movement", "shift", current.ID,
		fmt.Sprintf("direction=%s,amount=%d,reason=%s", saved.Direction, saved.AmountCents, saved.Reason))
	return domain.CashMovementResponse{
		Movement:          *saved,
		Shift:             *current,
		ExpectedCashCents: shift.ExpectedCash(*current),
	}, nil
}

// CloseShift reconciles the declared denominations against the expected cash
// and closes the shift. A variance is recorded and never blocks the close.
func (s *Service) CloseShift(ctx context.Context, req domain.ShiftCloseRequest) (domain.ShiftResponse, error) {
	ref, err := s.normalizeRef(req.TerminalRef)
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	if len(req.Denominations) == 0 {
		return domain.ShiftResponse{}, domain.ErrDeclarationRequired
	}
	counted, err := money.DeclareCash(req.Denominations)
	if err != nil {
		return domain.ShiftResponse{}, err
	}

	if sess, ok := s.sessions.peek(ref.BranchID, ref.TerminalID); ok {
		sess.mu.Lock()
		defer sess.mu.Unlock()
		if sess.checkoutInProgress() {
			return domain.ShiftResponse{}, s.consistency("shift_close", domain.ErrCheckoutInProgress)
		}
	}
	if _, err := s.activeShift(ctx, ref); err != nil {
		return domain.ShiftResponse{}, s.consistency("shift_close", err)
	}

	principal, err := s.authorize(ctx, ref.BranchID, "shift_close", req.Approval)
	if err != nil {
		return domain.ShiftResponse{}, err
	}

	closed, err := s.repo.CloseActiveShift(ctx, ref.BranchID, ref.TerminalID, domain.ShiftClosure{
		CountedCashCents: counted,
		Denominations:    req.Denominations,
		ClosedBy:         principal.Username,
		ClosedAt:         s.now(),
	})
	if err != nil {
		return domain.ShiftResponse{}, s.consistency("shift_close", err)
	}

	rec := closed.Reconciliation
	if rec.VarianceCents != 0 {
		log.Printf("[service] shift %s closed with variance %s (expected %s, counted %s)",
			closed.ID, money.Format(rec.VarianceCents), money.Format(rec.ExpectedCashCents), money.Format(rec.CountedCashCents))
	}
	s.metrics.ShiftClosed(rec.VarianceCents)
	s.logAudit(ctx, ref.BranchID, "shift_close", "shift", closed.ID,
		fmt.Sprintf("expected=%d,counted=%d,variance=%d,approved_by=%s", rec.ExpectedCashCents, rec.CountedCashCents, rec.VarianceCents, principal.Username))

	movements, err := s.repo.ListCashMovements(ctx, closed.ID)
	if err != nil {
		log.Printf("[service] WARN: list cash movements shift=%s: %v", closed.ID, err)
	}
	return domain.ShiftResponse{Shift: *closed, ExpectedCashCents: rec.ExpectedCashCents, Movements: movements}, nil
}

// GetActiveShift is the X report: running counters, expected cash and movements.
func (s *Service) GetActiveShift(ctx context.Context, ref domain.TerminalRef) (domain.ShiftResponse, error) {
	ref, err := s.normalizeRef(ref)
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	current, err := s.activeShift(ctx, ref)
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	movements, err := s.repo.ListCashMovements(ctx, current.ID)
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	return domain.ShiftResponse{Shift: *current, ExpectedCashCents: shift.ExpectedCash(*current), Movements: movements}, nil
}
