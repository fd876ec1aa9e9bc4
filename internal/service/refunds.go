package service

import (
	"context"
	"fmt"
	"strings"

	"kasirinaja/settlement/internal/domain"
	"kasirinaja/settlement/internal/returns"
)

// ProcessReturn refunds part of a completed sale at its original prices. The
// store re-checks cumulative quantities when it records the return.
func (s *Service) ProcessReturn(ctx context.Context, req domain.ReturnRequest) (domain.ReturnResponse, error) {
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return domain.ReturnResponse{}, domain.ErrReasonRequired
	}
	method, err := returns.NormalizeRefundMethod(req.RefundMethod)
	if err != nil {
		return domain.ReturnResponse{}, err
	}

	sale, err := s.findSale(ctx, req.SaleID)
	if err != nil {
		return domain.ReturnResponse{}, err
	}
	prior, err := s.repo.ListReturnsBySale(ctx, sale.ID)
	if err != nil {
		return domain.ReturnResponse{}, err
	}
	lines, refund, err := returns.Plan(*sale, returns.Returned(prior), req.Lines)
	if err != nil {
		return domain.ReturnResponse{}, s.consistency("return", err)
	}

	principal, err := s.authorize(ctx, sale.BranchID, "return", req.Approval)
	if err != nil {
		return domain.ReturnResponse{}, err
	}

	actor, _ := ActorFromContext(ctx)
	saved, err := s.repo.CreateReturn(ctx, domain.ReturnRecord{
		SaleID:           sale.ID,
		InvoiceNumber:    sale.InvoiceNumber,
		BranchID:         sale.BranchID,
		Lines:            lines,
		Reason:           reason,
		RefundMethod:     method,
		AuthorizedBy:     principal.Username,
		ProcessedBy:      actor.Username,
		RefundTotalCents: refund,
		CreatedAt:        s.now(),
	})
	if err != nil {
		return domain.ReturnResponse{}, s.consistency("return", err)
	}

	s.metrics.ReturnProcessed(method, refund)
	s.logAudit(ctx, sale.BranchID, "sale_return", "sale", sale.ID,
		fmt.Sprintf("return=%s,invoice=%s,refund=%d,method=%s,approved_by=%s", saved.ID, sale.InvoiceNumber, refund, method, principal.Username))
	return domain.ReturnResponse{Return: *saved}, nil
}
