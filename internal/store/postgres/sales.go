package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"kasirinaja/settlement/internal/domain"
	"kasirinaja/settlement/internal/returns"
	"kasirinaja/settlement/internal/sequence"
	"kasirinaja/settlement/internal/shift"
	"kasirinaja/settlement/internal/store"
	"kasirinaja/settlement/internal/xid"
)

func (s *Store) CommitSale(ctx context.Context, sale domain.CompletedSale) (*domain.CompletedSale, error) {
	if sale.ID == "" || sale.IdempotencyKey == "" || sale.BranchID == "" || sale.TerminalID == "" || len(sale.Lines) == 0 {
		return nil, store.ErrInvalidRecord
	}
	day, err := sequence.ParseDay(sale.BusinessDate)
	if err != nil {
		return nil, fmt.Errorf("%w: business date %q", store.ErrInvalidRecord, sale.BusinessDate)
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var existing string
	err = tx.QueryRowContext(ctx, `SELECT id FROM sales WHERE idempotency_key = $1`, sale.IdempotencyKey).Scan(&existing)
	switch {
	case err == nil:
		return nil, store.ErrConflict
	case !errors.Is(err, sql.ErrNoRows):
		return nil, err
	}

	current, err := lockActiveShift(ctx, tx, sale.BranchID, sale.TerminalID)
	if err != nil {
		return nil, err
	}
	if sale.ShiftID != "" && sale.ShiftID != current.ID {
		return nil, fmt.Errorf("%w: shift %s is no longer open", domain.ErrShiftNotOpen, sale.ShiftID)
	}
	if err := shift.RecordSale(current, sale.Tenders, sale.ChangeCents); err != nil {
		return nil, err
	}

	// Drawn inside the transaction: a rollback below returns the number.
	n, err := sequence.NextWith(ctx, tx, sale.BranchID, day)
	if err != nil {
		return nil, err
	}
	sale.ShiftID = current.ID
	sale.InvoiceSeq = n
	sale.InvoiceNumber = sequence.Format(sale.BranchID, day, n)

	if err := updateShiftCounters(ctx, tx, current); err != nil {
		return nil, err
	}

	var customerJSON any
	if sale.Customer != nil {
		raw, err := json.Marshal(sale.Customer)
		if err != nil {
			return nil, err
		}
		customerJSON = raw
	}

	t := sale.Totals
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (
			id, invoice_number, invoice_seq, branch_id, business_date, terminal_id, shift_id, cashier_id,
			customer, held_sale_id, idempotency_key,
			gross_cents, item_discount_cents, bill_discount_cents, tax_cents, net_cents,
			tendered_cents, change_cents, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
	`, sale.ID, sale.InvoiceNumber, sale.InvoiceSeq, sale.BranchID, sequence.DayKey(day), sale.TerminalID, sale.ShiftID, sale.CashierID,
		customerJSON, nullIfEmpty(sale.HeldSaleID), sale.IdempotencyKey,
		t.GrossCents, t.ItemDiscountCents, t.BillDiscountCents, t.TaxCents, t.NetCents,
		sale.TenderedCents, sale.ChangeCents, sale.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	for _, line := range sale.Lines {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sale_lines (sale_id, line_no, sku, name, unit_price_cents, qty, unit_discount_cents, tax_rate_percent)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, sale.ID, line.LineNo, line.SKU, line.Name, line.UnitPriceCents, line.Qty, line.UnitDiscountCents, line.TaxRatePercent); err != nil {
			return nil, err
		}
	}
	for i, tender := range sale.Tenders {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sale_tenders (sale_id, position, method, amount_cents, reference)
			VALUES ($1,$2,$3,$4,$5)
		`, sale.ID, i+1, tender.Method, tender.AmountCents, nullIfEmpty(tender.Reference)); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &sale, nil
}

func (s *Store) FindSaleByIdempotency(ctx context.Context, key string) (*domain.CompletedSale, error) {
	return loadSale(ctx, s.db, `idempotency_key = $1`, key, false)
}

func (s *Store) FindSaleByID(ctx context.Context, id string) (*domain.CompletedSale, error) {
	return loadSale(ctx, s.db, `id = $1`, id, false)
}

func (s *Store) FindSaleByInvoice(ctx context.Context, invoiceNumber string) (*domain.CompletedSale, error) {
	return loadSale(ctx, s.db, `invoice_number = $1`, invoiceNumber, false)
}

// loadSale reads a sale with its lines and tenders. forUpdate locks the
// sale row and must only be used inside a transaction.
func loadSale(ctx context.Context, q queryer, where string, arg string, forUpdate bool) (*domain.CompletedSale, error) {
	query := `
		SELECT id, invoice_number, invoice_seq, branch_id, business_date, terminal_id, shift_id, cashier_id,
			customer, held_sale_id, idempotency_key,
			gross_cents, item_discount_cents, bill_discount_cents, tax_cents, net_cents,
			tendered_cents, change_cents, created_at
		FROM sales
		WHERE ` + where
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var sale domain.CompletedSale
	var businessDate time.Time
	var customerRaw []byte
	var heldSaleID sql.NullString
	err := q.QueryRowContext(ctx, query, arg).Scan(
		&sale.ID,
		&sale.InvoiceNumber,
		&sale.InvoiceSeq,
		&sale.BranchID,
		&businessDate,
		&sale.TerminalID,
		&sale.ShiftID,
		&sale.CashierID,
		&customerRaw,
		&heldSaleID,
		&sale.IdempotencyKey,
		&sale.Totals.GrossCents,
		&sale.Totals.ItemDiscountCents,
		&sale.Totals.BillDiscountCents,
		&sale.Totals.TaxCents,
		&sale.Totals.NetCents,
		&sale.TenderedCents,
		&sale.ChangeCents,
		&sale.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale.BusinessDate = sequence.DayKey(businessDate)
	sale.HeldSaleID = heldSaleID.String
	sale.CreatedAt = sale.CreatedAt.UTC()
	if len(customerRaw) > 0 {
		var customer domain.Customer
		if err := json.Unmarshal(customerRaw, &customer); err != nil {
			return nil, err
		}
		sale.Customer = &customer
	}

	lineRows, err := q.QueryContext(ctx, `
		SELECT line_no, sku, name, unit_price_cents, qty, unit_discount_cents, tax_rate_percent
		FROM sale_lines
		WHERE sale_id = $1
		ORDER BY line_no ASC
	`, sale.ID)
	if err != nil {
		return nil, err
	}
	defer lineRows.Close()
	for lineRows.Next() {
		var line domain.SaleLine
		if err := lineRows.Scan(&line.LineNo, &line.SKU, &line.Name, &line.UnitPriceCents, &line.Qty, &line.UnitDiscountCents, &line.TaxRatePercent); err != nil {
			return nil, err
		}
		sale.Lines = append(sale.Lines, line)
	}
	if err := lineRows.Err(); err != nil {
		return nil, err
	}

	tenderRows, err := q.QueryContext(ctx, `
		SELECT method, amount_cents, reference
		FROM sale_tenders
		WHERE sale_id = $1
		ORDER BY position ASC
	`, sale.ID)
	if err != nil {
		return nil, err
	}
	defer tenderRows.Close()
	for tenderRows.Next() {
		var tender domain.TenderEntry
		var reference sql.NullString
		if err := tenderRows.Scan(&tender.Method, &tender.AmountCents, &reference); err != nil {
			return nil, err
		}
		tender.Reference = reference.String
		sale.Tenders = append(sale.Tenders, tender)
	}
	if err := tenderRows.Err(); err != nil {
		return nil, err
	}
	return &sale, nil
}

func (s *Store) CreateReturn(ctx context.Context, record domain.ReturnRecord) (*domain.ReturnRecord, error) {
	if record.SaleID == "" || len(record.Lines) == 0 {
		return nil, store.ErrInvalidRecord
	}
	if record.ID == "" {
		record.ID = xid.New("ret")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	// The sale row lock serializes concurrent returns against the same sale.
	sale, err := loadSale(ctx, tx, `id = $1`, record.SaleID, true)
	if err != nil {
		return nil, err
	}
	prior, err := loadReturns(ctx, tx, record.SaleID)
	if err != nil {
		return nil, err
	}
	if err := returns.Recheck(*sale, prior, record.Lines); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO returns (id, sale_id, invoice_number, branch_id, reason, refund_method, authorized_by, processed_by, refund_total_cents, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, record.ID, record.SaleID, record.InvoiceNumber, record.BranchID, record.Reason, record.RefundMethod,
		record.AuthorizedBy, record.ProcessedBy, record.RefundTotalCents, record.CreatedAt)
	if err != nil {
		return nil, err
	}
	for _, line := range record.Lines {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO return_lines (return_id, line_no, sku, qty, unit_price_cents, condition, refund_cents)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, record.ID, line.LineNo, line.SKU, line.Qty, line.UnitPriceCents, line.Condition, line.RefundCents); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *Store) ListReturnsBySale(ctx context.Context, saleID string) ([]domain.ReturnRecord, error) {
	return loadReturns(ctx, s.db, saleID)
}

func loadReturns(ctx context.Context, q queryer, saleID string) ([]domain.ReturnRecord, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, sale_id, invoice_number, branch_id, reason, refund_method, authorized_by, processed_by, refund_total_cents, created_at
		FROM returns
		WHERE sale_id = $1
		ORDER BY created_at ASC, id ASC
	`, saleID)
	if err != nil {
		return nil, err
	}
	records := make([]domain.ReturnRecord, 0, 4)
	for rows.Next() {
		var record domain.ReturnRecord
		if err := rows.Scan(&record.ID, &record.SaleID, &record.InvoiceNumber, &record.BranchID, &record.Reason, &record.RefundMethod,
			&record.AuthorizedBy, &record.ProcessedBy, &record.RefundTotalCents, &record.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		record.CreatedAt = record.CreatedAt.UTC()
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// Lines are loaded after the header cursor is closed; a transaction
	// connection serves one result set at a time.
	for i := range records {
		lineRows, err := q.QueryContext(ctx, `
			SELECT line_no, sku, qty, unit_price_cents, condition, refund_cents
			FROM return_lines
			WHERE return_id = $1
			ORDER BY line_no ASC
		`, records[i].ID)
		if err != nil {
			return nil, err
		}
		for lineRows.Next() {
			var line domain.ReturnLine
			if err := lineRows.Scan(&line.LineNo, &line.SKU, &line.Qty, &line.UnitPriceCents, &line.Condition, &line.RefundCents); err != nil {
				lineRows.Close()
				return nil, err
			}
			records[i].Lines = append(records[i].Lines, line)
		}
		err = lineRows.Err()
		lineRows.Close()
		if err != nil {
			return nil, err
		}
	}
	return records, nil
}
