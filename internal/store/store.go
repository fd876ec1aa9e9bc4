package store

import (
	"context"
	"errors"
	"time"

	"kasirinaja/settlement/internal/domain"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrInvalidRecord = errors.New("invalid record")
)

type Catalog interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error)
}

type CustomerDirectory interface {
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
}

// HeldSaleStore keeps suspended carts. PopHeldSale removes and returns the
// entry in one step, so each held sale can be recalled at most once. An entry
// held in another branch is reported as ErrNotFound and left in place.
type HeldSaleStore interface {
	CreateHeldSale(ctx context.Context, held domain.HeldSale) (*domain.HeldSale, error)
	ListHeldSales(ctx context.Context, branchID string, terminalID string, limit int) ([]domain.HeldSale, error)
	PopHeldSale(ctx context.Context, branchID string, id string) (*domain.HeldSale, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type Repository interface {
	Catalog
	CustomerDirectory
	HeldSaleStore
	UserStore

	// OpenShift fails with domain.ErrShiftAlreadyOpen when the terminal has an open shift.
	OpenShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error)
	GetActiveShift(ctx context.Context, branchID string, terminalID string) (*domain.Shift, error)
	RecordCashMovement(ctx context.Context, branchID string, terminalID string, movement domain.CashMovement) (*domain.CashMovement, *domain.Shift, error)
	ListCashMovements(ctx context.Context, shiftID string) ([]domain.CashMovement, error)
	CloseActiveShift(ctx context.Context, branchID string, terminalID string, closure domain.ShiftClosure) (*domain.Shift, error)

	// CommitSale records the sale against its open shift, updates the shift
	// counters and assigns the next invoice number as one unit. An existing
	// idempotency key fails with ErrConflict and commits nothing.
	CommitSale(ctx context.Context, sale domain.CompletedSale) (*domain.CompletedSale, error)
	FindSaleByIdempotency(ctx context.Context, key string) (*domain.CompletedSale, error)
	FindSaleByID(ctx context.Context, id string) (*domain.CompletedSale, error)
	FindSaleByInvoice(ctx context.Context, invoiceNumber string) (*domain.CompletedSale, error)

	// CreateReturn re-checks cumulative returned quantities against the sale
	// under the sale's lock and fails with domain.ErrOverReturn if exceeded.
	CreateReturn(ctx context.Context, record domain.ReturnRecord) (*domain.ReturnRecord, error)
	ListReturnsBySale(ctx context.Context, saleID string) ([]domain.ReturnRecord, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
}
