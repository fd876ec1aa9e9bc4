package authz

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"kasirinaja/settlement/internal/domain"
)

var knownRoles = map[string]struct{}{
	domain.RoleAdmin:         {},
	domain.RoleBranchManager: {},
	domain.RoleSupervisor:    {},
	domain.RoleCashier:       {},
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type credential struct {
	password string
	role     string
	active   bool
	created  time.Time
}

// AccountVerifier checks operator passwords with bcrypt against a cache that
// is refreshed from the user store on every lookup.
type AccountVerifier struct {
	mu        sync.RWMutex
	userStore UserStore
	users     map[string]credential
}

func NewAccountVerifier(ctx context.Context, userStore UserStore) *AccountVerifier {
	v := &AccountVerifier{
		userStore: userStore,
		users:     make(map[string]credential),
	}
	v.refresh(ctx)
	return v
}

func (v *AccountVerifier) Verify(ctx context.Context, username string, password string) (Principal, error) {
	v.refresh(ctx)
	username = strings.ToLower(strings.TrimSpace(username))
	v.mu.RLock()
	cred, ok := v.users[username]
	v.mu.RUnlock()
	if !ok || !verifyPassword(cred.password, password) {
		return Principal{}, errInvalidCredentials
	}
	if !cred.active {
		return Principal{}, fmt.Errorf("account is inactive")
	}
	return Principal{Username: username, Role: cred.role}, nil
}

func (v *AccountVerifier) CreateUser(ctx context.Context, req domain.UserCreateRequest) (domain.UserSummary, error) {
	v.refresh(ctx)
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if len(username) < 4 {
		return domain.UserSummary{}, fmt.Errorf("%w: username must be at least 4 characters", domain.ErrInvalidRequest)
	}
	if strings.ContainsAny(username, " \t\r\n") {
		return domain.UserSummary{}, fmt.Errorf("%w: username must not contain spaces", domain.ErrInvalidRequest)
	}
	if len(req.Password) < 6 {
		return domain.UserSummary{}, fmt.Errorf("%w: password must be at least 6 characters", domain.ErrInvalidRequest)
	}
	role := strings.ToLower(strings.TrimSpace(req.Role))
	if role == "" {
		role = domain.RoleCashier
	}
	if _, ok := knownRoles[role]; !ok {
		return domain.UserSummary{}, fmt.Errorf("%w: unknown role %q", domain.ErrInvalidRequest, role)
	}

	v.mu.RLock()
	_, exists := v.users[username]
	v.mu.RUnlock()
	if exists {
		return domain.UserSummary{}, fmt.Errorf("%w: username already exists", domain.ErrInvalidRequest)
	}

	passwordHash, err := HashPassword(req.Password)
	if err != nil {
		return domain.UserSummary{}, fmt.Errorf("failed to hash password: %w", err)
	}
	now := time.Now().UTC()
	if v.userStore != nil {
		if err := v.userStore.CreateUser(ctx, domain.UserAccount{
			Username:  username,
			Password:  passwordHash,
			Role:      role,
			Active:    true,
			CreatedAt: now,
		}); err != nil {
			return domain.UserSummary{}, err
		}
	}

	v.mu.Lock()
	v.users[username] = credential{password: passwordHash, role: role, active: true, created: now}
	v.mu.Unlock()

	return domain.UserSummary{Username: username, Role: role, Active: true, CreatedAt: now}, nil
}

func (v *AccountVerifier) ListUsers(ctx context.Context) []domain.UserSummary {
	v.refresh(ctx)
	v.mu.RLock()
	result := make([]domain.UserSummary, 0, len(v.users))
	for username, user := range v.users {
		result = append(result, domain.UserSummary{
			Username:  username,
			Role:      user.role,
			Active:    user.active,
			CreatedAt: user.created,
		})
	}
	v.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool {
		return result[i].Username < result[j].Username
	})
	return result
}

// refresh loads accounts from the store, upgrading any plain-text password to
// a bcrypt hash on the way.
func (v *AccountVerifier) refresh(ctx context.Context) {
	if v.userStore == nil {
		return
	}
	users, err := v.userStore.ListUsers(ctx)
	if err != nil || len(users) == 0 {
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	for _, user := range users {
		username := strings.ToLower(strings.TrimSpace(user.Username))
		if username == "" {
			continue
		}
		password := user.Password
		if !IsPasswordHash(password) {
			hashed, err := HashPassword(password)
			if err == nil {
				password = hashed
				if err := v.userStore.UpdateUserPassword(ctx, username, hashed); err != nil {
					log.Printf("[authz] WARN: persist upgraded password for %s: %v", username, err)
				}
			}
		}
		v.users[username] = credential{
			password: password,
			role:     user.Role,
			active:   user.Active,
			created:  user.CreatedAt,
		}
	}
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !IsPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func IsPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
