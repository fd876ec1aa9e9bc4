package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"kasirinaja/settlement/internal/domain"
	"kasirinaja/settlement/internal/shift"
	"kasirinaja/settlement/internal/store"
	"kasirinaja/settlement/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sku, name, price_cents, tax_rate_percent, active
		FROM products
		WHERE active = true
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.SKU, &p.Name, &p.PriceCents, &p.TaxRatePercent, &p.Active); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT sku, name, price_cents, tax_rate_percent, active
		FROM products
		WHERE sku = $1
	`, sku).Scan(&p.SKU, &p.Name, &p.PriceCents, &p.TaxRatePercent, &p.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// UpsertProduct inserts or replaces a catalog entry.
func (s *Store) UpsertProduct(ctx context.Context, product domain.Product) error {
	if product.SKU == "" || product.Name == "" || product.PriceCents < 0 {
		return store.ErrInvalidRecord
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (sku, name, price_cents, tax_rate_percent, active)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (sku) DO UPDATE
		SET name = EXCLUDED.name, price_cents = EXCLUDED.price_cents,
			tax_rate_percent = EXCLUDED.tax_rate_percent, active = EXCLUDED.active
	`, product.SKU, product.Name, product.PriceCents, product.TaxRatePercent, product.Active)
	return err
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	var c domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, loyalty_points
		FROM customers
		WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.LoyaltyPoints)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) UpsertCustomer(ctx context.Context, customer domain.Customer) error {
	if customer.ID == "" || customer.Name == "" {
		return store.ErrInvalidRecord
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, loyalty_points)
		VALUES ($1,$2,$3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, loyalty_points = EXCLUDED.loyalty_points
	`, customer.ID, customer.Name, customer.LoyaltyPoints)
	return err
}

const shiftColumns = `id, branch_id, terminal_id, cashier_id, opening_float_cents,
	cash_sales_cents, card_sales_cents, other_sales_cents, paid_in_cents, paid_out_cents, sale_count,
	status, opened_by, opened_at, closed_by, closed_at,
	counted_cash_cents, expected_cash_cents, variance_cents, denominations`

func scanShift(row rowScanner) (*domain.Shift, error) {
	var sh domain.Shift
	var closedBy sql.NullString
	var closedAt sql.NullTime
	var counted, expected, variance sql.NullInt64
	var denominationsRaw []byte
	if err := row.Scan(
		&sh.ID,
		&sh.BranchID,
		&sh.TerminalID,
		&sh.CashierID,
		&sh.OpeningFloatCents,
		&sh.Counters.CashSalesCents,
		&sh.Counters.CardSalesCents,
		&sh.Counters.OtherSalesCents,
		&sh.Counters.PaidInCents,
		&sh.Counters.PaidOutCents,
		&sh.Counters.SaleCount,
		&sh.Status,
		&sh.OpenedBy,
		&sh.OpenedAt,
		&closedBy,
		&closedAt,
		&counted,
		&expected,
		&variance,
		&denominationsRaw,
	); err != nil {
		return nil, err
	}
	sh.OpenedAt = sh.OpenedAt.UTC()
	sh.ClosedBy = closedBy.String
	if closedAt.Valid {
		at := closedAt.Time.UTC()
		sh.ClosedAt = &at
	}
	if counted.Valid {
		sh.Reconciliation = &domain.Reconciliation{
			CountedCashCents:  counted.Int64,
			ExpectedCashCents: expected.Int64,
			VarianceCents:     variance.Int64,
		}
		if len(denominationsRaw) > 0 {
			if err := json.Unmarshal(denominationsRaw, &sh.Reconciliation.Denominations); err != nil {
				return nil, err
			}
		}
	}
	return &sh, nil
}

func (s *Store) OpenShift(ctx context.Context, sh domain.Shift) (*domain.Shift, error) {
	if strings.TrimSpace(sh.BranchID) == "" || strings.TrimSpace(sh.TerminalID) == "" || sh.Status != domain.ShiftStatusOpen {
		return nil, store.ErrInvalidRecord
	}
	if sh.ID == "" {
		sh.ID = xid.New("shift")
	}
	if sh.OpenedAt.IsZero() {
		sh.OpenedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shifts (id, branch_id, terminal_id, cashier_id, opening_float_cents, status, opened_by, opened_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, sh.ID, sh.BranchID, sh.TerminalID, sh.CashierID, sh.OpeningFloatCents, sh.Status, sh.OpenedBy, sh.OpenedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrShiftAlreadyOpen
		}
		return nil, err
	}
	saved := sh
	return &saved, nil
}

func (s *Store) GetActiveShift(ctx context.Context, branchID string, terminalID string) (*domain.Shift, error) {
	sh, err := scanShift(s.db.QueryRowContext(ctx, `
		SELECT `+shiftColumns+`
		FROM shifts
		WHERE branch_id = $1 AND terminal_id = $2 AND status = 'open'
	`, branchID, terminalID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return sh, nil
}

// lockActiveShift locks the terminal's open shift row for the rest of tx.
func lockActiveShift(ctx context.Context, tx *sql.Tx, branchID string, terminalID string) (*domain.Shift, error) {
	sh, err := scanShift(tx.QueryRowContext(ctx, `
		SELECT `+shiftColumns+`
		FROM shifts
		WHERE branch_id = $1 AND terminal_id = $2 AND status = 'open'
		FOR UPDATE
	`, branchID, terminalID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrShiftNotOpen
		}
		return nil, err
	}
	return sh, nil
}

func updateShiftCounters(ctx context.Context, tx *sql.Tx, sh *domain.Shift) error {
	c := sh.Counters
	_, err := tx.ExecContext(ctx, `
		UPDATE shifts
		SET cash_sales_cents = $2, card_sales_cents = $3, other_sales_cents = $4,
			paid_in_cents = $5, paid_out_cents = $6, sale_count = $7
		WHERE id = $1
	`, sh.ID, c.CashSalesCents, c.CardSalesCents, c.OtherSalesCents, c.PaidInCents, c.PaidOutCents, c.SaleCount)
	return err
}

func (s *Store) RecordCashMovement(ctx context.Context, branchID string, terminalID string, movement domain.CashMovement) (*domain.CashMovement, *domain.Shift, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	current, err := lockActiveShift(ctx, tx, branchID, terminalID)
	if err != nil {
		return nil, nil, err
	}
	if err := shift.RecordMovement(current, movement); err != nil {
		return nil, nil, err
	}
	if movement.ID == "" {
		movement.ID = xid.New("cm")
	}
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = time.Now().UTC()
	}
	movement.ShiftID = current.ID

	if err := updateShiftCounters(ctx, tx, current); err != nil {
		return nil, nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO cash_movements (id, shift_id, direction, amount_cents, reason, reference, approved_by, recorded_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, movement.ID, movement.ShiftID, movement.Direction, movement.AmountCents, movement.Reason,
		nullIfEmpty(movement.Reference), nullIfEmpty(movement.ApprovedBy), movement.RecordedBy, movement.CreatedAt); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return &movement, current, nil
}

func (s *Store) ListCashMovements(ctx context.Context, shiftID string) ([]domain.CashMovement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, shift_id, direction, amount_cents, reason, reference, approved_by, recorded_by, created_at
		FROM cash_movements
		WHERE shift_id = $1
		ORDER BY created_at ASC, id ASC
	`, shiftID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]domain.CashMovement, 0, 16)
	for rows.Next() {
		var m domain.CashMovement
		var reference, approvedBy sql.NullString
		if err := rows.Scan(&m.ID, &m.ShiftID, &m.Direction, &m.AmountCents, &m.Reason, &reference, &approvedBy, &m.RecordedBy, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Reference = reference.String
		m.ApprovedBy = approvedBy.String
		m.CreatedAt = m.CreatedAt.UTC()
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

func (s *Store) CloseActiveShift(ctx context.Context, branchID string, terminalID string, closure domain.ShiftClosure) (*domain.Shift, error) {
	if closure.ClosedAt.IsZero() {
		closure.ClosedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	current, err := lockActiveShift(ctx, tx, branchID, terminalID)
	if err != nil {
		return nil, err
	}
	if err := shift.Close(current, closure); err != nil {
		return nil, err
	}
	denominations, err := json.Marshal(current.Reconciliation.Denominations)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE shifts
		SET status = $2, closed_by = $3, closed_at = $4,
			counted_cash_cents = $5, expected_cash_cents = $6, variance_cents = $7, denominations = $8
		WHERE id = $1
	`, current.ID, current.Status, current.ClosedBy, *current.ClosedAt,
		current.Reconciliation.CountedCashCents, current.Reconciliation.ExpectedCashCents,
		current.Reconciliation.VarianceCents, denominations)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return current, nil
}

func (s *Store) CreateHeldSale(ctx context.Context, held domain.HeldSale) (*domain.HeldSale, error) {
	if held.BranchID == "" || held.TerminalID == "" || len(held.Cart.Lines) == 0 {
		return nil, store.ErrInvalidRecord
	}
	if held.ID == "" {
		held.ID = xid.New("held")
	}
	if held.HeldAt.IsZero() {
		held.HeldAt = time.Now().UTC()
	}

	cartJSON, err := json.Marshal(held.Cart)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO held_sales (id, branch_id, terminal_id, shift_id, cashier_id, note, cart, held_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, held.ID, held.BranchID, held.TerminalID, nullIfEmpty(held.ShiftID), held.CashierID, held.Note,
		cartJSON, held.HeldAt, nullTime(held.ExpiresAt))
	if err != nil {
		return nil, err
	}
	saved := held
	return &saved, nil
}

const heldSaleColumns = `id, branch_id, terminal_id, shift_id, cashier_id, note, cart, held_at, expires_at`

func scanHeldSale(row rowScanner) (*domain.HeldSale, error) {
	var held domain.HeldSale
	var shiftID sql.NullString
	var cartRaw []byte
	var expiresAt sql.NullTime
	if err := row.Scan(&held.ID, &held.BranchID, &held.TerminalID, &shiftID, &held.CashierID, &held.Note, &cartRaw, &held.HeldAt, &expiresAt); err != nil {
		return nil, err
	}
	held.ShiftID = shiftID.String
	held.HeldAt = held.HeldAt.UTC()
	if expiresAt.Valid {
		at := expiresAt.Time.UTC()
		held.ExpiresAt = &at
	}
	if err := json.Unmarshal(cartRaw, &held.Cart); err != nil {
		return nil, err
	}
	return &held, nil
}

func (s *Store) ListHeldSales(ctx context.Context, branchID string, terminalID string, limit int) ([]domain.HeldSale, error) {
	if limit < 1 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+heldSaleColumns+`
		FROM held_sales
		WHERE branch_id = $1 AND terminal_id = $2 AND (expires_at IS NULL OR expires_at > now())
		ORDER BY held_at DESC
		LIMIT $3
	`, branchID, terminalID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	helds := make([]domain.HeldSale, 0, 16)
	for rows.Next() {
		held, err := scanHeldSale(rows)
		if err != nil {
			return nil, err
		}
		helds = append(helds, *held)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return helds, nil
}

// PopHeldSale deletes the held sale under a row lock. An expired entry is
// deleted too but reported as not found.
func (s *Store) PopHeldSale(ctx context.Context, branchID string, id string) (*domain.HeldSale, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	held, err := scanHeldSale(tx.QueryRowContext(ctx, `
		SELECT `+heldSaleColumns+`
		FROM held_sales
		WHERE id = $1 AND branch_id = $2
		FOR UPDATE
	`, id, strings.ToLower(branchID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM held_sales WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	if held.ExpiresAt != nil && !time.Now().Before(*held.ExpiresAt) {
		return nil, store.ErrNotFound
	}
	return held, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, branch_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.BranchID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, branch_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1 = '' OR branch_id = $1) AND created_at >= $2 AND created_at < $3
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`, branchID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.BranchID, &entry.ActorUsername, &entry.ActorRole, &entry.Action,
			&entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidRecord
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidRecord
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
