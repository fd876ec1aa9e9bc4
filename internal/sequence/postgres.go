package sequence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"kasirinaja/settlement/internal/domain"
)

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Postgres allocates from the invoice_sequences table. The upsert takes a row
// lock on (branch_id, business_date), so concurrent callers queue on that row.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Next(ctx context.Context, branchID string, day time.Time) (int64, error) {
	return NextWith(ctx, p.db, branchID, day)
}

// NextWith allocates using q. Called with a *sql.Tx, the increment commits or
// rolls back together with the rest of that transaction.
func NextWith(ctx context.Context, q Querier, branchID string, day time.Time) (int64, error) {
	if strings.TrimSpace(branchID) == "" {
		return 0, fmt.Errorf("%w: branch required", domain.ErrSequenceUnavailable)
	}
	var next int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO invoice_sequences (branch_id, business_date, last_value, updated_at)
		VALUES ($1, $2, 1, now())
		ON CONFLICT (branch_id, business_date)
		DO UPDATE SET last_value = invoice_sequences.last_value + 1, updated_at = now()
		RETURNING last_value
	`, branchID, DayKey(day)).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrSequenceUnavailable, err)
	}
	return next, nil
}
