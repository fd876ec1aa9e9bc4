package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kasirinaja/settlement/internal/authz"
	"kasirinaja/settlement/internal/cache"
	"kasirinaja/settlement/internal/config"
	"kasirinaja/settlement/internal/domain"
	"kasirinaja/settlement/internal/httpapi"
	"kasirinaja/settlement/internal/metrics"
	"kasirinaja/settlement/internal/service"
	"kasirinaja/settlement/internal/store"
	"kasirinaja/settlement/internal/store/memory"
	pgstore "kasirinaja/settlement/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		if cfg.DatabaseAutoMigrate {
			if err := pg.Migrate(ctx); err != nil {
				log.Fatalf("postgres migration failed: %v", err)
			}
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Println("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Println("repository: in-memory")
	}

	var heldSales store.HeldSaleStore
	if cfg.RedisAddr != "" {
		redisHeld := cache.NewRedisHeldSaleStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisHeld.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), keeping held sales in the repository", err)
			_ = redisHeld.Close()
		} else {
			heldSales = redisHeld
			closers = append(closers, redisHeld.Close)
			log.Println("held sales: redis")
		}
	} else {
		log.Println("held sales: repository")
	}

	var recorder *metrics.Recorder
	if cfg.MetricsEnabled {
		recorder = metrics.NewRecorder()
		log.Println("metrics: prometheus at /metrics")
	}

	accounts := authz.NewAccountVerifier(ctx, repo)
	bootstrapAdmin(ctx, accounts, cfg.BootstrapAdminPassword)

	svc := service.New(repo, authz.NewGate(accounts, cfg.AuthorizationTimeout()), service.Options{
		DefaultBranchID:         cfg.BranchID,
		Location:                cfg.Location(),
		RequireMovementApproval: cfg.RequireMovementApproval,
		HeldSales:               heldSales,
		HeldSaleTTL:             cfg.HeldSaleTTL(),
		Metrics:                 recorder,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, accounts)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, recorder)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("settlement service listening on %s (branch %s)", cfg.Address(), cfg.BranchID)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

// bootstrapAdmin creates the first admin account on an empty user table.
func bootstrapAdmin(ctx context.Context, accounts *authz.AccountVerifier, password string) {
	if len(accounts.ListUsers(ctx)) > 0 {
		return
	}
	if password == "" {
		log.Println("WARNING: no user accounts exist; set BOOTSTRAP_ADMIN_PASSWORD to create an admin")
		return
	}
	if _, err := accounts.CreateUser(ctx, domain.UserCreateRequest{
		Username: "admin",
		Password: password,
		Role:     domain.RoleAdmin,
	}); err != nil {
		log.Fatalf("bootstrap admin: %v", err)
	}
	log.Println("bootstrap: created admin account")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.AuthorizationTimeoutMS <= 0 {
		return fmt.Errorf("AUTHORIZATION_TIMEOUT_MS must be positive")
	}
	if cfg.HeldSaleTTLHours < 0 {
		return fmt.Errorf("HELD_SALE_TTL_HOURS must not be negative")
	}
	if cfg.BootstrapAdminPassword != "" && len(cfg.BootstrapAdminPassword) < 12 {
		return fmt.Errorf("BOOTSTRAP_ADMIN_PASSWORD must be at least 12 characters")
	}
	return nil
}
