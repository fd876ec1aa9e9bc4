package domain

// TerminalRef addresses the working session of one terminal.
type TerminalRef struct {
	BranchID   string `json:"branch_id"`
	TerminalID string `json:"terminal_id"`
}

type AddLineRequest struct {
	TerminalRef
	SKU string `json:"sku"`
	Qty int    `json:"qty"`
}

type SetLineQtyRequest struct {
	TerminalRef
	Index int `json:"index"`
	Qty   int `json:"qty"`
}

type LineRequest struct {
	TerminalRef
	Index int `json:"index"`
}

type LineDiscountRequest struct {
	TerminalRef
	Index       int   `json:"index"`
	AmountCents int64 `json:"amount_cents"`
}

type BillDiscountRequest struct {
	TerminalRef
	AmountCents int64 `json:"amount_cents"`
}

type AttachCustomerRequest struct {
	TerminalRef
	CustomerID string `json:"customer_id"`
}

type AddTenderRequest struct {
	TerminalRef
	Tender TenderEntry `json:"tender"`
}

type RemoveTenderRequest struct {
	TerminalRef
	Index int `json:"index"`
}

type FinalizeRequest struct {
	TerminalRef
	IdempotencyKey string `json:"idempotency_key"`
}

type HoldRequest struct {
	TerminalRef
	Note string `json:"note"`
}

type RecallRequest struct {
	TerminalRef
	HeldSaleID string `json:"held_sale_id"`
}

type ShiftOpenRequest struct {
	TerminalRef
	CashierID         string   `json:"cashier_id"`
	OpeningFloatCents int64    `json:"opening_float_cents"`
	Approval          Approval `json:"approval"`
}

type CashMovementRequest struct {
	TerminalRef
	Direction   string   `json:"direction"`
	AmountCents int64    `json:"amount_cents"`
	Reason      string   `json:"reason"`
	Reference   string   `json:"reference"`
	Approval    Approval `json:"approval"`
}

type ShiftCloseRequest struct {
	TerminalRef
	Denominations map[int64]int `json:"denominations"`
	Approval      Approval      `json:"approval"`
}

type ReturnRequest struct {
	SaleID       string              `json:"sale_id"`
	Lines        []ReturnLineRequest `json:"lines"`
	Reason       string              `json:"reason"`
	RefundMethod string              `json:"refund_method"`
	Approval     Approval            `json:"approval"`
}

type CartResponse struct {
	Cart CartView `json:"cart"`
}

type CheckoutResponse struct {
	Cart   CartView   `json:"cart"`
	Ledger LedgerView `json:"ledger"`
}

type SaleResponse struct {
	Sale      CompletedSale `json:"sale"`
	Duplicate bool          `json:"duplicate"`
}

type SaleLookupResponse struct {
	Found bool           `json:"found"`
	Sale  *CompletedSale `json:"sale,omitempty"`
}

type HeldSaleResponse struct {
	HeldSale HeldSale `json:"held_sale"`
}

type HeldSaleListResponse struct {
	Items []HeldSale `json:"items"`
}

type ShiftResponse struct {
	Shift             Shift          `json:"shift"`
	ExpectedCashCents int64          `json:"expected_cash_cents"`
	Movements         []CashMovement `json:"movements,omitempty"`
}

type CashMovementResponse struct {
	Movement          CashMovement `json:"movement"`
	Shift             Shift        `json:"shift"`
	ExpectedCashCents int64        `json:"expected_cash_cents"`
}

type ReturnResponse struct {
	Return ReturnRecord `json:"return"`
}
