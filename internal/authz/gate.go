// Package authz approves privileged actions by re-verifying a supervisor's
// credentials and checking their role.
package authz

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"kasirinaja/settlement/internal/domain"
)

// SupervisoryRoles may approve shift, cash movement and return actions.
var SupervisoryRoles = []string{domain.RoleAdmin, domain.RoleBranchManager, domain.RoleSupervisor}

var errInvalidCredentials = errors.New("invalid credentials")

type Principal struct {
	Username string
	Role     string
}

// Verifier checks a username and password and returns who they belong to.
type Verifier interface {
	Verify(ctx context.Context, username string, password string) (Principal, error)
}

type Gate struct {
	verifier Verifier
	timeout  time.Duration
}

func NewGate(verifier Verifier, timeout time.Duration) *Gate {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Gate{verifier: verifier, timeout: timeout}
}

type verifyResult struct {
	principal Principal
	err       error
}

// Authorize verifies approval and requires its principal to hold one of roles.
// A verifier that does not answer within the gate timeout is a denial.
func (g *Gate) Authorize(ctx context.Context, action string, approval domain.Approval, roles ...string) (Principal, error) {
	username := strings.ToLower(strings.TrimSpace(approval.Username))
	if g == nil || g.verifier == nil {
		return Principal{}, g.deny(action, username, "no verifier configured")
	}
	if username == "" || approval.Password == "" {
		return Principal{}, g.deny(action, username, "missing credentials")
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	done := make(chan verifyResult, 1)
	go func() {
		principal, err := g.verifier.Verify(ctx, username, approval.Password)
		done <- verifyResult{principal: principal, err: err}
	}()

	var result verifyResult
	select {
	case result = <-done:
	case <-ctx.Done():
		return Principal{}, g.deny(action, username, "verification timed out")
	}
	if result.err != nil {
		return Principal{}, g.deny(action, username, result.err.Error())
	}
	if !Allows(result.principal.Role, roles...) {
		return Principal{}, g.deny(action, username, fmt.Sprintf("role %q not permitted", result.principal.Role))
	}
	return result.principal, nil
}

// Allows reports whether role is one of roles.
func Allows(role string, roles ...string) bool {
	for _, allowed := range roles {
		if role == allowed {
			return true
		}
	}
	return false
}

func (g *Gate) deny(action string, username string, reason string) error {
	log.Printf("[security] authorization denied action=%s approver=%q: %s", action, username, reason)
	return fmt.Errorf("%w: %s", domain.ErrAuthorizationDenied, reason)
}
