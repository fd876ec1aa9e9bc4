package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port                    string
	AllowedOrigin           string
	DatabaseURL             string
	DatabaseAutoMigrate     bool
	RedisAddr               string
	RedisPassword           string
	RedisDB                 int
	BranchID                string
	BusinessTimezone        string
	AuthSecret              string
	AccessTokenTTLMinutes   int
	AuthorizationTimeoutMS  int
	RequireMovementApproval bool
	HeldSaleTTLHours        int
	MetricsEnabled          bool
	BootstrapAdminPassword  string
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first; variables already set in the environment win.
func Load() Config {
	if err := godotenv.Load(); err == nil {
		log.Printf("[config] loaded .env")
	}

	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("PORT", "8080")
	v.SetDefault("ALLOWED_ORIGIN", "http://127.0.0.1:3000")
	v.SetDefault("DATABASE_AUTO_MIGRATE", true)
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("DEFAULT_BRANCH_ID", "main-store")
	v.SetDefault("BUSINESS_TIMEZONE", "UTC")
	v.SetDefault("ACCESS_TOKEN_TTL_MINUTES", 480)
	v.SetDefault("AUTHORIZATION_TIMEOUT_MS", 3000)
	v.SetDefault("REQUIRE_MOVEMENT_APPROVAL", true)
	v.SetDefault("HELD_SALE_TTL_HOURS", 24)
	v.SetDefault("PROMETHEUS_ENABLED", false)

	tokenTTL := v.GetInt("ACCESS_TOKEN_TTL_MINUTES")
	if tokenTTL < 1 {
		tokenTTL = 480
	}

	return Config{
		Port:                    v.GetString("PORT"),
		AllowedOrigin:           v.GetString("ALLOWED_ORIGIN"),
		DatabaseURL:             strings.TrimSpace(v.GetString("DATABASE_URL")),
		DatabaseAutoMigrate:     v.GetBool("DATABASE_AUTO_MIGRATE"),
		RedisAddr:               strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisPassword:           v.GetString("REDIS_PASSWORD"),
		RedisDB:                 v.GetInt("REDIS_DB"),
		BranchID:                strings.TrimSpace(v.GetString("DEFAULT_BRANCH_ID")),
		BusinessTimezone:        strings.TrimSpace(v.GetString("BUSINESS_TIMEZONE")),
		AuthSecret:              strings.TrimSpace(v.GetString("AUTH_SECRET")),
		AccessTokenTTLMinutes:   tokenTTL,
		AuthorizationTimeoutMS:  v.GetInt("AUTHORIZATION_TIMEOUT_MS"),
		RequireMovementApproval: v.GetBool("REQUIRE_MOVEMENT_APPROVAL"),
		HeldSaleTTLHours:        v.GetInt("HELD_SALE_TTL_HOURS"),
		MetricsEnabled:          v.GetBool("PROMETHEUS_ENABLED"),
		BootstrapAdminPassword:  v.GetString("BOOTSTRAP_ADMIN_PASSWORD"),
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) AuthorizationTimeout() time.Duration {
	return time.Duration(c.AuthorizationTimeoutMS) * time.Millisecond
}

// HeldSaleTTL is zero when held sales never expire.
func (c Config) HeldSaleTTL() time.Duration {
	return time.Duration(c.HeldSaleTTLHours) * time.Hour
}

// Location resolves BusinessTimezone, falling back to UTC.
func (c Config) Location() *time.Location {
	if c.BusinessTimezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.BusinessTimezone)
	if err != nil {
		log.Printf("[config] WARN: unknown BUSINESS_TIMEZONE %q, using UTC", c.BusinessTimezone)
		return time.UTC
	}
	return loc
}
