package service

import (
	"fmt"
	"strings"
	"sync"

	"kasirinaja/settlement/internal/cart"
	"kasirinaja/settlement/internal/domain"
	"kasirinaja/settlement/internal/tender"
)

// Session is the working state of one terminal: its cart and, while a
// checkout is in progress, the tender ledger. Calls for the same terminal
// are serialized on mu.
type Session struct {
	mu         sync.Mutex
	branchID   string
	terminalID string
	cart       *cart.Cart
	ledger     *tender.Ledger
}

type sessionKey struct {
	branchID   string
	terminalID string
}

type sessionRegistry struct {
	mu    sync.Mutex
	byKey map[sessionKey]*Session
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{byKey: make(map[sessionKey]*Session)}
}

func (r *sessionRegistry) get(branchID string, terminalID string) *Session {
	key := sessionKey{branchID: branchID, terminalID: terminalID}

	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.byKey[key]
	if !ok {
		sess = &Session{branchID: branchID, terminalID: terminalID, cart: cart.New()}
		r.byKey[key] = sess
	}
	return sess
}

func (r *sessionRegistry) peek(branchID string, terminalID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.byKey[sessionKey{branchID: branchID, terminalID: terminalID}]
	return sess, ok
}

// normalizeRef fills the default branch and lowercases identifiers so the
// same terminal always maps to one session.
func (s *Service) normalizeRef(ref domain.TerminalRef) (domain.TerminalRef, error) {
	ref.BranchID = strings.ToLower(strings.TrimSpace(ref.BranchID))
	ref.TerminalID = strings.ToLower(strings.TrimSpace(ref.TerminalID))
	if ref.BranchID == "" {
		ref.BranchID = s.defaultBranchID
	}
	if err := ValidateBranchID(ref.BranchID); err != nil {
		return ref, err
	}
	if ref.TerminalID == "" {
		return ref, fmt.Errorf("%w: terminal_id is required", domain.ErrInvalidRequest)
	}
	return ref, nil
}

// lockSession returns the terminal's session locked; the caller must unlock it.
func (s *Service) lockSession(ref domain.TerminalRef) (*Session, domain.TerminalRef, error) {
	ref, err := s.normalizeRef(ref)
	if err != nil {
		return nil, ref, err
	}
	sess := s.sessions.get(ref.BranchID, ref.TerminalID)
	sess.mu.Lock()
	return sess, ref, nil
}

func (sess *Session) checkoutInProgress() bool {
	return sess.ledger != nil
}

// editable rejects cart mutations while a checkout holds the net target.
func (sess *Session) editable() error {
	if sess.checkoutInProgress() {
		return domain.ErrCheckoutInProgress
	}
	return nil
}

func (sess *Session) view() domain.CartView {
	snapshot := sess.cart.Snapshot()
	view := domain.CartView{
		BranchID:          sess.branchID,
		TerminalID:        sess.terminalID,
		Lines:             snapshot.Lines,
		Customer:          snapshot.Customer,
		BillDiscountCents: snapshot.BillDiscountCents,
		HeldSaleID:        snapshot.HeldSaleID,
		Totals:            sess.cart.Totals(),
	}
	if view.Lines == nil {
		view.Lines = []domain.LineItem{}
	}
	if sess.ledger != nil {
		view.CheckoutState = sess.ledger.State()
	}
	return view
}

func (sess *Session) checkoutView() domain.CheckoutResponse {
	resp := domain.CheckoutResponse{Cart: sess.view()}
	if sess.ledger != nil {
		resp.Ledger = sess.ledger.View()
	}
	return resp
}
