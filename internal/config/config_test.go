package config

import (
	"testing"
	"time"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DEFAULT_BRANCH_ID", "")
	t.Setenv("AUTHORIZATION_TIMEOUT_MS", "")
	t.Setenv("REQUIRE_MOVEMENT_APPROVAL", "")
	t.Setenv("HELD_SALE_TTL_HOURS", "")

	cfg := Load()
	if cfg.BranchID != "main-store" {
		t.Fatalf("expected default branch, got %q", cfg.BranchID)
	}
	if cfg.AuthorizationTimeout() != 3*time.Second {
		t.Fatalf("expected 3s authorization timeout, got %s", cfg.AuthorizationTimeout())
	}
	if !cfg.RequireMovementApproval {
		t.Fatalf("expected movement approval on by default")
	}
	if cfg.HeldSaleTTL() != 24*time.Hour {
		t.Fatalf("expected 24h held sale ttl, got %s", cfg.HeldSaleTTL())
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("DEFAULT_BRANCH_ID", "branch-7")
	t.Setenv("REQUIRE_MOVEMENT_APPROVAL", "false")
	t.Setenv("HELD_SALE_TTL_HOURS", "0")
	t.Setenv("BUSINESS_TIMEZONE", "Not/AZone")
	t.Setenv("PROMETHEUS_ENABLED", "true")

	cfg := Load()
	if cfg.BranchID != "branch-7" || cfg.RequireMovementApproval || cfg.HeldSaleTTL() != 0 || !cfg.MetricsEnabled {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Location() != time.UTC {
		t.Fatalf("expected unknown timezone to fall back to UTC, got %s", cfg.Location())
	}
}
