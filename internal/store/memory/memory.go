package memory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"kasirinaja/settlement/internal/domain"
	"kasirinaja/settlement/internal/returns"
	"kasirinaja/settlement/internal/sequence"
	"kasirinaja/settlement/internal/shift"
	"kasirinaja/settlement/internal/store"
	"kasirinaja/settlement/internal/xid"
)

// Store keeps everything in process memory behind a single lock. Sale commits
// take the write lock for shift counters and the invoice sequence together.
type Store struct {
	mu               sync.RWMutex
	seq              sequence.Allocator
	products         map[string]domain.Product
	customers        map[string]domain.Customer
	shiftsByID       map[string]domain.Shift
	activeShiftByKey map[string]string
	movementsByShift map[string][]domain.CashMovement
	salesByID        map[string]*domain.CompletedSale
	salesByIdem      map[string]string
	salesByInvoice   map[string]string
	returnsBySale    map[string][]domain.ReturnRecord
	heldSalesByID    map[string]domain.HeldSale
	auditLogs        []domain.AuditLog
	usersByUsername  map[string]domain.UserAccount
	now              func() time.Time
}

type Option func(*Store)

// WithSequence replaces the default in-process invoice sequence.
func WithSequence(alloc sequence.Allocator) Option {
	return func(s *Store) {
		s.seq = alloc
	}
}

// WithClock overrides the time source used for held-sale expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		seq:              sequence.NewMemory(),
		products:         make(map[string]domain.Product),
		customers:        make(map[string]domain.Customer),
		shiftsByID:       make(map[string]domain.Shift),
		activeShiftByKey: make(map[string]string),
		movementsByShift: make(map[string][]domain.CashMovement),
		salesByID:        make(map[string]*domain.CompletedSale),
		salesByIdem:      make(map[string]string),
		salesByInvoice:   make(map[string]string),
		returnsBySale:    make(map[string][]domain.ReturnRecord),
		heldSalesByID:    make(map[string]domain.HeldSale),
		auditLogs:        make([]domain.AuditLog, 0, 128),
		usersByUsername:  make(map[string]domain.UserAccount),
		now:              func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD, SEED_CASHIER_PASSWORD and
// SEED_SUPERVISOR_PASSWORD. If unset, dev defaults are used with a warning.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	supervisorPwd := envOr("SEED_SUPERVISOR_PASSWORD", "supervisor123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" || os.Getenv("SEED_SUPERVISOR_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD, SEED_CASHIER_PASSWORD and SEED_SUPERVISOR_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cashier", cashierPwd, domain.RoleCashier},
		{"supervisor", supervisorPwd, domain.RoleSupervisor},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store with a demo catalog, customers and operators.
func NewSeeded(opts ...Option) *Store {
	ppn := decimal.NewFromInt(11)
	products := []domain.Product{
		{SKU: "SKU-MIE-01", Name: "Mie Goreng Instan", PriceCents: 3500, TaxRatePercent: ppn, Active: true},
		{SKU: "SKU-TELUR-01", Name: "Telur 10 Butir", PriceCents: 26500, TaxRatePercent: decimal.Zero, Active: true},
		{SKU: "SKU-SUSU-01", Name: "Susu UHT 1L", PriceCents: 18900, TaxRatePercent: ppn, Active: true},
		{SKU: "SKU-ROTI-01", Name: "Roti Tawar", PriceCents: 17800, TaxRatePercent: ppn, Active: true},
		{SKU: "SKU-KOPI-01", Name: "Kopi Sachet", PriceCents: 2600, TaxRatePercent: ppn, Active: true},
		{SKU: "SKU-GULA-01", Name: "Gula 1kg", PriceCents: 17400, TaxRatePercent: decimal.Zero, Active: true},
		{SKU: "SKU-TEH-01", Name: "Teh Celup", PriceCents: 9800, TaxRatePercent: ppn, Active: true},
		{SKU: "SKU-AIR-01", Name: "Air Mineral 600ml", PriceCents: 3900, TaxRatePercent: ppn, Active: true},
		{SKU: "SKU-SABUN-01", Name: "Sabun Mandi", PriceCents: 7400, TaxRatePercent: ppn, Active: true},
	}
	customers := []domain.Customer{
		{ID: "cust-0001", Name: "Budi Santoso", LoyaltyPoints: 120},
		{ID: "cust-0002", Name: "Siti Rahma", LoyaltyPoints: 45},
	}

	s := New(opts...)
	for _, p := range products {
		s.products[p.SKU] = p
	}
	for _, c := range customers {
		s.customers[c.ID] = c
	}
	s.usersByUsername = seedUsers()
	return s
}

// AddProduct inserts or replaces a catalog entry.
func (s *Store) AddProduct(product domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[product.SKU] = product
}

func (s *Store) AddCustomer(customer domain.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[customer.ID] = customer
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return strings.Compare(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) GetProductBySKU(_ context.Context, sku string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[sku]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, exists := s.customers[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyCustomer := customer
	return &copyCustomer, nil
}

func (s *Store) OpenShift(_ context.Context, sh domain.Shift) (*domain.Shift, error) {
	if strings.TrimSpace(sh.BranchID) == "" || strings.TrimSpace(sh.TerminalID) == "" || sh.Status != domain.ShiftStatusOpen {
		return nil, store.ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := shiftMapKey(sh.BranchID, sh.TerminalID)
	if _, exists := s.activeShiftByKey[key]; exists {
		return nil, domain.ErrShiftAlreadyOpen
	}
	if sh.ID == "" {
		sh.ID = xid.New("shift")
	}
	s.shiftsByID[sh.ID] = sh
	s.activeShiftByKey[key] = sh.ID
	copyShift := sh
	return &copyShift, nil
}

func (s *Store) GetActiveShift(_ context.Context, branchID string, terminalID string) (*domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	current, err := s.activeShiftLocked(branchID, terminalID)
	if err != nil {
		return nil, store.ErrNotFound
	}
	return current, nil
}

func (s *Store) RecordCashMovement(_ context.Context, branchID string, terminalID string, movement domain.CashMovement) (*domain.CashMovement, *domain.Shift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.activeShiftLocked(branchID, terminalID)
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
		movement.CreatedAt = s.now()
	}
	movement.ShiftID = current.ID

	s.shiftsByID[current.ID] = *current
	s.movementsByShift[current.ID] = append(s.movementsByShift[current.ID], movement)
	savedShift := *current
	return &movement, &savedShift, nil
}

func (s *Store) ListCashMovements(_ context.Context, shiftID string) ([]domain.CashMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.movementsByShift[shiftID]), nil
}

func (s *Store) CloseActiveShift(_ context.Context, branchID string, terminalID string, closure domain.ShiftClosure) (*domain.Shift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.activeShiftLocked(branchID, terminalID)
	if err != nil {
		return nil, err
	}
	if closure.ClosedAt.IsZero() {
		closure.ClosedAt = s.now()
	}
	if err := shift.Close(current, closure); err != nil {
		return nil, err
	}

	delete(s.activeShiftByKey, shiftMapKey(branchID, terminalID))
	s.shiftsByID[current.ID] = *current
	closed := *current
	return &closed, nil
}

func (s *Store) CommitSale(ctx context.Context, sale domain.CompletedSale) (*domain.CompletedSale, error) {
	if sale.ID == "" || sale.IdempotencyKey == "" || sale.BranchID == "" || sale.TerminalID == "" || len(sale.Lines) == 0 {
		return nil, store.ErrInvalidRecord
	}
	day, err := sequence.ParseDay(sale.BusinessDate)
	if err != nil {
		return nil, fmt.Errorf("%w: business date %q", store.ErrInvalidRecord, sale.BusinessDate)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.salesByIdem[sale.IdempotencyKey]; exists {
		return nil, store.ErrConflict
	}
	current, err := s.activeShiftLocked(sale.BranchID, sale.TerminalID)
	if err != nil {
		return nil, err
	}
	if sale.ShiftID != "" && sale.ShiftID != current.ID {
		return nil, fmt.Errorf("%w: shift %s is no longer open", domain.ErrShiftNotOpen, sale.ShiftID)
	}
	if err := shift.RecordSale(current, sale.Tenders, sale.ChangeCents); err != nil {
		return nil, err
	}

	// The number is drawn last so every earlier failure leaves the sequence untouched.
	n, err := s.seq.Next(ctx, sale.BranchID, day)
	if err != nil {
		if !errors.Is(err, domain.ErrSequenceUnavailable) {
			err = fmt.Errorf("%w: %v", domain.ErrSequenceUnavailable, err)
		}
		return nil, err
	}
	sale.ShiftID = current.ID
	sale.InvoiceSeq = n
	sale.InvoiceNumber = sequence.Format(sale.BranchID, day, n)
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = s.now()
	}

	s.shiftsByID[current.ID] = *current
	saved := cloneSale(&sale)
	s.salesByID[sale.ID] = saved
	s.salesByIdem[sale.IdempotencyKey] = sale.ID
	s.salesByInvoice[sale.InvoiceNumber] = sale.ID
	return cloneSale(saved), nil
}

func (s *Store) FindSaleByIdempotency(_ context.Context, key string) (*domain.CompletedSale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saleByRefLocked(s.salesByIdem, key)
}

func (s *Store) FindSaleByID(_ context.Context, id string) (*domain.CompletedSale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) FindSaleByInvoice(_ context.Context, invoiceNumber string) (*domain.CompletedSale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saleByRefLocked(s.salesByInvoice, invoiceNumber)
}

func (s *Store) CreateReturn(_ context.Context, record domain.ReturnRecord) (*domain.ReturnRecord, error) {
	if record.SaleID == "" || len(record.Lines) == 0 {
		return nil, store.ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sale, exists := s.salesByID[record.SaleID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if err := returns.Recheck(*sale, s.returnsBySale[record.SaleID], record.Lines); err != nil {
		return nil, err
	}
	if record.ID == "" {
		record.ID = xid.New("ret")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.now()
	}
	record.Lines = slices.Clone(record.Lines)
	s.returnsBySale[record.SaleID] = append(s.returnsBySale[record.SaleID], record)
	saved := record
	saved.Lines = slices.Clone(record.Lines)
	return &saved, nil
}

func (s *Store) ListReturnsBySale(_ context.Context, saleID string) ([]domain.ReturnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.returnsBySale[saleID]
	out := make([]domain.ReturnRecord, 0, len(records))
	for _, record := range records {
		record.Lines = slices.Clone(record.Lines)
		out = append(out, record)
	}
	return out, nil
}

func (s *Store) CreateHeldSale(_ context.Context, held domain.HeldSale) (*domain.HeldSale, error) {
	if held.BranchID == "" || held.TerminalID == "" || len(held.Cart.Lines) == 0 {
		return nil, store.ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if held.ID == "" {
		held.ID = xid.New("held")
	}
	if held.HeldAt.IsZero() {
		held.HeldAt = s.now()
	}
	s.heldSalesByID[held.ID] = cloneHeldSale(held)
	saved := cloneHeldSale(held)
	return &saved, nil
}

func (s *Store) ListHeldSales(_ context.Context, branchID string, terminalID string, limit int) ([]domain.HeldSale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	result := make([]domain.HeldSale, 0, 16)
	for _, held := range s.heldSalesByID {
		if branchID != "" && held.BranchID != branchID {
			continue
		}
		if terminalID != "" && held.TerminalID != terminalID {
			continue
		}
		if expired(held, now) {
			continue
		}
		result = append(result, cloneHeldSale(held))
	}
	slices.SortFunc(result, func(a, b domain.HeldSale) int {
		if a.HeldAt.Equal(b.HeldAt) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.HeldAt.After(b.HeldAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) PopHeldSale(_ context.Context, branchID string, id string) (*domain.HeldSale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	held, exists := s.heldSalesByID[id]
	if !exists || !strings.EqualFold(held.BranchID, branchID) {
		return nil, store.ErrNotFound
	}
	delete(s.heldSalesByID, id)
	if expired(held, s.now()) {
		return nil, store.ErrNotFound
	}
	result := cloneHeldSale(held)
	return &result, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if branchID != "" && entry.BranchID != branchID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidRecord
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidRecord
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

// activeShiftLocked returns a copy of the open shift for the terminal. The
// caller holds s.mu.
func (s *Store) activeShiftLocked(branchID string, terminalID string) (*domain.Shift, error) {
	shiftID, exists := s.activeShiftByKey[shiftMapKey(branchID, terminalID)]
	if !exists {
		return nil, domain.ErrShiftNotOpen
	}
	current, exists := s.shiftsByID[shiftID]
	if !exists || current.Status != domain.ShiftStatusOpen {
		return nil, domain.ErrShiftNotOpen
	}
	return &current, nil
}

func (s *Store) saleByRefLocked(index map[string]string, ref string) (*domain.CompletedSale, error) {
	id, exists := index[ref]
	if !exists {
		return nil, store.ErrNotFound
	}
	sale, exists := s.salesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func shiftMapKey(branchID string, terminalID string) string {
	return branchID + "::" + terminalID
}

func expired(held domain.HeldSale, now time.Time) bool {
	return held.ExpiresAt != nil && !now.Before(*held.ExpiresAt)
}

func cloneSale(src *domain.CompletedSale) *domain.CompletedSale {
	if src == nil {
		return nil
	}
	copied := *src
	copied.Lines = slices.Clone(src.Lines)
	copied.Tenders = slices.Clone(src.Tenders)
	if src.Customer != nil {
		customer := *src.Customer
		copied.Customer = &customer
	}
	return &copied
}

func cloneHeldSale(src domain.HeldSale) domain.HeldSale {
	copied := src
	copied.Cart.Lines = slices.Clone(src.Cart.Lines)
	if src.Cart.Customer != nil {
		customer := *src.Cart.Customer
		copied.Cart.Customer = &customer
	}
	if src.ExpiresAt != nil {
		expiresAt := *src.ExpiresAt
		copied.ExpiresAt = &expiresAt
	}
	return copied
}
