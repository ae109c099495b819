package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

var defaultBanks = []string{
	"Access Bank",
	"Ecobank",
	"FCMB",
	"Fidelity Bank",
	"First Bank",
	"GTBank",
	"Kuda Bank",
	"Moniepoint",
	"Opay",
	"Palmpay",
	"Polaris Bank",
	"Stanbic IBTC",
	"Sterling Bank",
	"UBA",
	"Union Bank",
	"Unity Bank",
	"Wema Bank",
	"Zenith Bank",
}

// LedgerConfig carries the business parameters of the payout ledger.
type LedgerConfig struct {
	Location      *time.Location
	MinPrincipal  decimal.Decimal
	MaxPrincipal  decimal.Decimal
	ProfitModel   string
	ProfitRate    decimal.Decimal
	DailyBonus    decimal.Decimal
	ReferralRate  decimal.Decimal
	MinWithdrawal decimal.Decimal
	AllowedBanks  []string
}

type APIConfig struct {
	Addr            string
	DatabaseURL     string
	SupabaseURL     string
	SupabaseAnonKey string
	AutoMigrate     bool
	Ledger          LedgerConfig
}

type WorkerConfig struct {
	DatabaseURL string
	SweepEvery  time.Duration
	RunOnce     bool
	Ledger      LedgerConfig
}

type CLIConfig struct {
	APIBaseURL string
	// SignupURL is the web signup page a referral link points at. Empty means
	// referral links carry the bare code.
	SignupURL string
}

// loadDotEnv reads a local .env when present; real environment variables win.
func loadDotEnv() {
	_ = godotenv.Load()
}

func LoadAPIFromEnv() (APIConfig, error) {
	loadDotEnv()

	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("VESTFLOW_API_ADDR", ":8080")
	}

	ledger, err := loadLedger()
	if err != nil {
		return APIConfig{}, err
	}
	cfg := APIConfig{
		Addr:            addr,
		DatabaseURL:     strings.TrimSpace(os.Getenv("DATABASE_URL")),
		SupabaseURL:     strings.TrimRight(strings.TrimSpace(os.Getenv("SUPABASE_URL")), "/"),
		SupabaseAnonKey: strings.TrimSpace(os.Getenv("SUPABASE_ANON_KEY")),
		AutoMigrate:     envBoolDefault("AUTO_MIGRATE", true),
		Ledger:          ledger,
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.SupabaseURL == "" {
		return cfg, fmt.Errorf("SUPABASE_URL is required")
	}
	if cfg.SupabaseAnonKey == "" {
		return cfg, fmt.Errorf("SUPABASE_ANON_KEY is required")
	}
	return cfg, nil
}

func LoadWorkerFromEnv() (WorkerConfig, error) {
	loadDotEnv()

	ledger, err := loadLedger()
	if err != nil {
		return WorkerConfig{}, err
	}
	cfg := WorkerConfig{
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		SweepEvery:  envDurationDefault("SWEEP_EVERY", 10*time.Minute),
		RunOnce:     envBoolDefault("VESTFLOW_WORKER_RUN_ONCE", false),
		Ledger:      ledger,
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.SweepEvery <= 0 {
		return cfg, fmt.Errorf("SWEEP_EVERY must be positive")
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	loadDotEnv()
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("VF_API_BASE_URL", "http://localhost:8080"), "/"),
		SignupURL:  strings.TrimSpace(os.Getenv("VF_SIGNUP_URL")),
	}
}

// DefaultLedger pays 10% a day for 7 days plus a flat daily bonus.
func DefaultLedger() LedgerConfig {
	loc, err := time.LoadLocation("Africa/Lagos")
	if err != nil {
		loc = time.FixedZone("WAT", 3600)
	}
	return LedgerConfig{
		Location:      loc,
		MinPrincipal:  decimal.NewFromInt(2500),
		MaxPrincipal:  decimal.NewFromInt(5_000_000),
		ProfitModel:   "percentage",
		ProfitRate:    decimal.RequireFromString("0.10"),
		DailyBonus:    decimal.NewFromInt(20),
		ReferralRate:  decimal.RequireFromString("0.10"),
		MinWithdrawal: decimal.NewFromInt(100),
		AllowedBanks:  append([]string(nil), defaultBanks...),
	}
}

func loadLedger() (LedgerConfig, error) {
	def := DefaultLedger()
	cfg := LedgerConfig{
		Location:      def.Location,
		MinPrincipal:  envDecimalDefault("MIN_PRINCIPAL", def.MinPrincipal),
		MaxPrincipal:  envDecimalDefault("MAX_PRINCIPAL", def.MaxPrincipal),
		ProfitModel:   strings.ToLower(envDefault("PROFIT_MODEL", def.ProfitModel)),
		ProfitRate:    envDecimalDefault("PROFIT_RATE", def.ProfitRate),
		DailyBonus:    envDecimalDefault("DAILY_BONUS", def.DailyBonus),
		ReferralRate:  envDecimalDefault("REFERRAL_RATE", def.ReferralRate),
		MinWithdrawal: envDecimalDefault("MIN_WITHDRAWAL", def.MinWithdrawal),
		AllowedBanks:  envListDefault("ALLOWED_BANKS", def.AllowedBanks),
	}
	if tz := strings.TrimSpace(os.Getenv("PAYOUT_TIMEZONE")); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return cfg, fmt.Errorf("PAYOUT_TIMEZONE: %w", err)
		}
		cfg.Location = loc
	}
	if cfg.ProfitModel != "percentage" && cfg.ProfitModel != "flat" {
		return cfg, fmt.Errorf("PROFIT_MODEL must be percentage or flat")
	}
	if !cfg.MinPrincipal.IsPositive() || cfg.MaxPrincipal.LessThan(cfg.MinPrincipal) {
		return cfg, fmt.Errorf("MIN_PRINCIPAL must be > 0 and <= MAX_PRINCIPAL")
	}
	if cfg.ProfitRate.IsNegative() || cfg.DailyBonus.IsNegative() || cfg.ReferralRate.IsNegative() {
		return cfg, fmt.Errorf("rates and bonus must not be negative")
	}
	return cfg, nil
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envDecimalDefault(key string, fallback decimal.Decimal) decimal.Decimal {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return fallback
	}
	return d
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// envListDefault splits a comma separated value. "none" yields an empty list.
func envListDefault(key string, fallback []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if strings.EqualFold(v, "none") {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
