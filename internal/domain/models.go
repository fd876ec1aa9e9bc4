package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleAdmin         = "admin"
	RoleBranchManager = "branch_manager"
	RoleSupervisor    = "supervisor"
	RoleCashier       = "cashier"
)

const (
	TenderCash     = "cash"
	TenderCard     = "card"
	TenderQR       = "qr"
	TenderTransfer = "transfer"
	TenderOther    = "other"
)

const (
	ShiftStatusOpen   = "open"
	ShiftStatusClosed = "closed"
)

const (
	MovementIn  = "in"
	MovementOut = "out"
)

const (
	ConditionResellable = "resellable"
	ConditionDamaged    = "damaged"
	ConditionDefective  = "defective"
)

const RefundStoreCredit = "store_credit"

type Product struct {
	SKU            string          `json:"sku"`
	Name           string          `json:"name"`
	PriceCents     int64           `json:"price_cents"`
	TaxRatePercent decimal.Decimal `json:"tax_rate_percent"`
	Active         bool            `json:"active"`
}

type Customer struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	LoyaltyPoints int64  `json:"loyalty_points"`
}

// LineItem is one row of a working sale. UnitPriceCents is captured when the
// product is first added and never changes afterwards.
type LineItem struct {
	SKU               string          `json:"sku"`
	Name              string          `json:"name"`
	UnitPriceCents    int64           `json:"unit_price_cents"`
	Qty               int             `json:"qty"`
	UnitDiscountCents int64           `json:"unit_discount_cents"`
	TaxRatePercent    decimal.Decimal `json:"tax_rate_percent"`
}

type Totals struct {
	GrossCents        int64 `json:"gross_cents"`
	ItemDiscountCents int64 `json:"item_discount_cents"`
	BillDiscountCents int64 `json:"bill_discount_cents"`
	TaxCents          int64 `json:"tax_cents"`
	NetCents          int64 `json:"net_cents"`
}

type CartSnapshot struct {
	Lines             []LineItem `json:"lines"`
	Customer          *Customer  `json:"customer,omitempty"`
	BillDiscountCents int64      `json:"bill_discount_cents"`
	HeldSaleID        string     `json:"held_sale_id,omitempty"`
}

type CartView struct {
	BranchID          string     `json:"branch_id"`
	TerminalID        string     `json:"terminal_id"`
	Lines             []LineItem `json:"lines"`
	Customer          *Customer  `json:"customer,omitempty"`
	BillDiscountCents int64      `json:"bill_discount_cents"`
	HeldSaleID        string     `json:"held_sale_id,omitempty"`
	Totals            Totals     `json:"totals"`
	CheckoutState     string     `json:"checkout_state,omitempty"`
}

type TenderEntry struct {
	Method      string `json:"method"`
	AmountCents int64  `json:"amount_cents"`
	Reference   string `json:"reference,omitempty"`
}

type LedgerView struct {
	State          string        `json:"state"`
	TargetCents    int64         `json:"target_cents"`
	TenderedCents  int64         `json:"tendered_cents"`
	RemainingCents int64         `json:"remaining_cents"`
	ChangeCents    int64         `json:"change_cents"`
	Entries        []TenderEntry `json:"entries"`
}

type ShiftCounters struct {
	CashSalesCents  int64 `json:"cash_sales_cents"`
	CardSalesCents  int64 `json:"card_sales_cents"`
	OtherSalesCents int64 `json:"other_sales_cents"`
	PaidInCents     int64 `json:"paid_in_cents"`
	PaidOutCents    int64 `json:"paid_out_cents"`
	SaleCount       int   `json:"sale_count"`
}

type Reconciliation struct {
	CountedCashCents  int64         `json:"counted_cash_cents"`
	ExpectedCashCents int64         `json:"expected_cash_cents"`
	VarianceCents     int64         `json:"variance_cents"`
	Denominations     map[int64]int `json:"denominations"`
}

type Shift struct {
	ID                string          `json:"id"`
	BranchID          string          `json:"branch_id"`
	TerminalID        string          `json:"terminal_id"`
	CashierID         string          `json:"cashier_id"`
	OpeningFloatCents int64           `json:"opening_float_cents"`
	Counters          ShiftCounters   `json:"counters"`
	Status            string          `json:"status"`
	OpenedBy          string          `json:"opened_by"`
	OpenedAt          time.Time       `json:"opened_at"`
	ClosedBy          string          `json:"closed_by,omitempty"`
	ClosedAt          *time.Time      `json:"closed_at,omitempty"`
	Reconciliation    *Reconciliation `json:"reconciliation,omitempty"`
}

type CashMovement struct {
	ID          string    `json:"id"`
	ShiftID     string    `json:"shift_id"`
	Direction   string    `json:"direction"`
	AmountCents int64     `json:"amount_cents"`
	Reason      string    `json:"reason"`
	Reference   string    `json:"reference,omitempty"`
	ApprovedBy  string    `json:"approved_by,omitempty"`
	RecordedBy  string    `json:"recorded_by"`
	CreatedAt   time.Time `json:"created_at"`
}

type ShiftClosure struct {
	CountedCashCents int64
	Denominations    map[int64]int
	ClosedBy         string
	ClosedAt         time.Time
}

type HeldSale struct {
	ID         string       `json:"id"`
	BranchID   string       `json:"branch_id"`
	TerminalID string       `json:"terminal_id"`
	ShiftID    string       `json:"shift_id,omitempty"`
	CashierID  string       `json:"cashier_id"`
	Note       string       `json:"note,omitempty"`
	Cart       CartSnapshot `json:"cart"`
	HeldAt     time.Time    `json:"held_at"`
	ExpiresAt  *time.Time   `json:"expires_at,omitempty"`
}

type SaleLine struct {
	LineNo int `json:"line_no"`
	LineItem
}

type CompletedSale struct {
	ID             string        `json:"id"`
	InvoiceNumber  string        `json:"invoice_number"`
	InvoiceSeq     int64         `json:"invoice_seq"`
	BranchID       string        `json:"branch_id"`
	BusinessDate   string        `json:"business_date"`
	TerminalID     string        `json:"terminal_id"`
	ShiftID        string        `json:"shift_id"`
	CashierID      string        `json:"cashier_id"`
	Customer       *Customer     `json:"customer,omitempty"`
	HeldSaleID     string        `json:"held_sale_id,omitempty"`
	IdempotencyKey string        `json:"idempotency_key"`
	Lines          []SaleLine    `json:"lines"`
	Totals         Totals        `json:"totals"`
	Tenders        []TenderEntry `json:"tenders"`
	TenderedCents  int64         `json:"tendered_cents"`
	ChangeCents    int64         `json:"change_cents"`
	CreatedAt      time.Time     `json:"created_at"`
}

type ReturnLineRequest struct {
	LineNo    int    `json:"line_no"`
	Qty       int    `json:"qty"`
	Condition string `json:"condition"`
}

type ReturnLine struct {
	LineNo         int    `json:"line_no"`
	SKU            string `json:"sku"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Condition      string `json:"condition"`
	RefundCents    int64  `json:"refund_cents"`
}

type ReturnRecord struct {
	ID               string       `json:"id"`
	SaleID           string       `json:"sale_id"`
	InvoiceNumber    string       `json:"invoice_number"`
	BranchID         string       `json:"branch_id"`
	Lines            []ReturnLine `json:"lines"`
	Reason           string       `json:"reason"`
	RefundMethod     string       `json:"refund_method"`
	AuthorizedBy     string       `json:"authorized_by"`
	ProcessedBy      string       `json:"processed_by"`
	RefundTotalCents int64        `json:"refund_total_cents"`
	CreatedAt        time.Time    `json:"created_at"`
}

// Approval carries the credentials of the supervisor approving a privileged action.
type Approval struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type Actor struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	BranchID      string    `json:"branch_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type UserAccount struct {
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type UserCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type UserSummary struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}
