// Package tender tracks the payments collected against one checkout.
package tender

import (
	"fmt"
	"strings"

	"kasirinaja/settlement/internal/domain"
	"kasirinaja/settlement/internal/money"
)

const (
	StateOpen      = "open"
	StateSatisfied = "satisfied"
	StateFinalized = "finalized"
	StateAbandoned = "abandoned"
)

var validMethods = map[string]struct{}{
	domain.TenderCash:     {},
	domain.TenderCard:     {},
	domain.TenderQR:       {},
	domain.TenderTransfer: {},
	domain.TenderOther:    {},
}

// Ledger collects tenders for a fixed net target. Only cash may produce change.
type Ledger struct {
	target  int64
	entries []domain.TenderEntry
	state   string
}

// NewLedger opens a ledger for targetCents. A zero target is satisfied at once.
func NewLedger(targetCents int64) (*Ledger, error) {
	if targetCents < 0 {
		return nil, fmt.Errorf("%w: negative target", domain.ErrInvalidAmount)
	}
	l := &Ledger{target: targetCents, state: StateOpen}
	l.refresh()
	return l, nil
}

func ValidMethod(method string) bool {
	_, ok := validMethods[method]
	return ok
}

func (l *Ledger) Add(entry domain.TenderEntry) error {
	if l.closed() {
		return domain.ErrLedgerClosed
	}
	entry.Method = strings.ToLower(strings.TrimSpace(entry.Method))
	entry.Reference = strings.TrimSpace(entry.Reference)
	if !ValidMethod(entry.Method) {
		return fmt.Errorf("%w: unknown method %q", domain.ErrInvalidTender, entry.Method)
	}
	if entry.AmountCents <= 0 {
		return fmt.Errorf("%w: amount must be positive", domain.ErrInvalidTender)
	}
	if _, err := money.Sum(l.Tendered(), entry.AmountCents); err != nil {
		return fmt.Errorf("%w: tendered total overflows", domain.ErrInvalidTender)
	}
	l.entries = append(l.entries, entry)
	l.refresh()
	return nil
}

func (l *Ledger) Remove(index int) error {
	if l.closed() {
		return domain.ErrLedgerClosed
	}
	if index < 0 || index >= len(l.entries) {
		return fmt.Errorf("%w: no tender at index %d", domain.ErrInvalidTender, index)
	}
	l.entries = append(l.entries[:index], l.entries[index+1:]...)
	l.refresh()
	return nil
}

// Settle checks that the ledger may be finalized and returns the change due.
// It does not change state; call Finalize once the sale is committed.
func (l *Ledger) Settle() (int64, error) {
	if l.closed() {
		return 0, domain.ErrLedgerClosed
	}
	tendered := l.Tendered()
	if tendered < l.target {
		return 0, &domain.InsufficientTenderError{RemainingCents: l.target - tendered}
	}
	change := tendered - l.target
	if change > l.cashTendered() {
		return 0, fmt.Errorf("%w: change %d exceeds cash tendered %d", domain.ErrNonCashChange, change, l.cashTendered())
	}
	return change, nil
}

func (l *Ledger) Finalize() error {
	if _, err := l.Settle(); err != nil {
		return err
	}
	l.state = StateFinalized
	return nil
}

func (l *Ledger) Abandon() error {
	if l.closed() {
		return domain.ErrLedgerClosed
	}
	l.state = StateAbandoned
	return nil
}

func (l *Ledger) State() string {
	return l.state
}

func (l *Ledger) Target() int64 {
	return l.target
}

func (l *Ledger) Tendered() int64 {
	total := int64(0)
	for _, entry := range l.entries {
		total += entry.AmountCents
	}
	return total
}

func (l *Ledger) Entries() []domain.TenderEntry {
	out := make([]domain.TenderEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *Ledger) View() domain.LedgerView {
	tendered := l.Tendered()
	view := domain.LedgerView{
		State:         l.state,
		TargetCents:   l.target,
		TenderedCents: tendered,
		Entries:       l.Entries(),
	}
	if tendered < l.target {
		view.RemainingCents = l.target - tendered
	} else {
		view.ChangeCents = tendered - l.target
	}
	return view
}

func (l *Ledger) cashTendered() int64 {
	total := int64(0)
	for _, entry := range l.entries {
		if entry.Method == domain.TenderCash {
			total += entry.AmountCents
		}
	}
	return total
}

func (l *Ledger) closed() bool {
	return l.state == StateFinalized || l.state == StateAbandoned
}

func (l *Ledger) refresh() {
	if l.closed() {
		return
	}
	if l.Tendered() >= l.target {
		l.state = StateSatisfied
		return
	}
	l.state = StateOpen
}
