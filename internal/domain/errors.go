package domain

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindValidation     ErrorKind = "validation"
	KindAuthorization  ErrorKind = "authorization"
	KindConsistency    ErrorKind = "consistency"
	KindNotFound       ErrorKind = "not_found"
	KindInfrastructure ErrorKind = "infrastructure"
)

// Error is a classified engine failure. Sentinels are compared with errors.Is
// and usually wrapped with a detail via fmt.Errorf("%w: ...").
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind ErrorKind, code string, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

var (
	ErrInvalidLineState         = newError(KindValidation, "invalid_line_state", "invalid line state")
	ErrInvalidQuantity          = newError(KindValidation, "invalid_quantity", "quantity must be greater than zero")
	ErrDiscountExceedsTotal     = newError(KindValidation, "discount_exceeds_total", "discount exceeds total")
	ErrInsufficientTender       = newError(KindValidation, "insufficient_tender", "insufficient tender")
	ErrInvalidTender            = newError(KindValidation, "invalid_tender", "invalid tender entry")
	ErrNonCashChange            = newError(KindValidation, "non_cash_change", "change cannot be given from non-cash tender")
	ErrInvalidDenominationCount = newError(KindValidation, "invalid_denomination_count", "invalid denomination count")
	ErrReasonRequired           = newError(KindValidation, "reason_required", "reason is required")
	ErrInvalidAmount            = newError(KindValidation, "invalid_amount", "invalid amount")
	ErrDeclarationRequired      = newError(KindValidation, "declaration_required", "counted cash declaration is required")
	ErrEmptyCart                = newError(KindValidation, "empty_cart", "cart is empty")
	ErrInvalidRequest           = newError(KindValidation, "invalid_request", "invalid request")

	ErrAuthorizationDenied = newError(KindAuthorization, "authorization_denied", "authorization denied")

	ErrShiftAlreadyOpen   = newError(KindConsistency, "shift_already_open", "shift already open")
	ErrShiftNotOpen       = newError(KindConsistency, "shift_not_open", "no open shift")
	ErrHeldSaleNotFound   = newError(KindConsistency, "held_sale_not_found", "held sale not found")
	ErrOverReturn         = newError(KindConsistency, "over_return", "return quantity exceeds sold quantity")
	ErrLedgerClosed       = newError(KindConsistency, "ledger_closed", "tender ledger is closed")
	ErrCheckoutInProgress = newError(KindConsistency, "checkout_in_progress", "checkout in progress")
	ErrNoCheckout         = newError(KindConsistency, "no_checkout", "no checkout in progress")
	ErrCartNotEmpty       = newError(KindConsistency, "cart_not_empty", "active cart is not empty")
	ErrIdempotencyReused  = newError(KindConsistency, "idempotency_key_reused", "idempotency key already used by another terminal")

	ErrSaleNotFound     = newError(KindNotFound, "sale_not_found", "sale not found")
	ErrProductNotFound  = newError(KindNotFound, "product_not_found", "product not found")
	ErrCustomerNotFound = newError(KindNotFound, "customer_not_found", "customer not found")

	ErrSequenceUnavailable    = newError(KindInfrastructure, "sequence_unavailable", "invoice sequence unavailable")
	ErrPersistenceUnavailable = newError(KindInfrastructure, "persistence_unavailable", "persistence unavailable")
)

// InsufficientTenderError reports how much is still due when finalization is
// attempted on a short ledger.
type InsufficientTenderError struct {
	RemainingCents int64
}

func (e *InsufficientTenderError) Error() string {
	return fmt.Sprintf("insufficient tender: %d remaining", e.RemainingCents)
}

func (e *InsufficientTenderError) Unwrap() error {
	return ErrInsufficientTender
}

// KindOf classifies err. Unclassified errors are treated as infrastructure failures.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return KindInfrastructure
}

// CodeOf returns the stable error code of err, or "internal".
func CodeOf(err error) string {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Code
	}
	return "internal"
}
