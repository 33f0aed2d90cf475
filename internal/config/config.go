package config

import (
	"log"
	"os"
	"strconv"

	"github.com/warungkas/finops-engine/pkg/money"
)

// Engine configuration.
//
// All settings come from environment variables. Secrets (DATABASE_URL,
// notifier credentials) have no fallback defaults; the process refuses
// to start without them. Everything else carries a safe default so a
// local run needs nothing beyond the database.

type Config struct {
	Timezone     string
	CurrencyCode string

	// Ledger limits
	MaxTransactionAmount money.Money
	DuplicateWindowSecs  int

	// Detector thresholds
	ExpenseSpikeThresholdPct   float64
	RevenueDeclineThresholdPct float64
	CashflowLookbackDays       int
	CashflowRunThreshold       int
	TargetVarianceThresholdPct float64

	// Monthly targets; zero means "no target set" and disables the
	// target-variance detector.
	MonthlyRevenueTarget money.Money
	MonthlyExpenseTarget money.Money

	// Gating
	MinConfidenceScore       int
	CriticalPriorityRequired bool
	DedupWindowMinutes       int

	// Dispatcher
	NotifierRateCapacity  int
	NotifierRefillPerMin  int
	NotifierTimeoutSecs   int
	DeliveryMaxAgeMinutes int

	// API surface
	APIRatePerMin int
	APIBurst      int

	// Scheduler
	CycleIntervalMinutes int
	CycleDeadlineSecs    int
	DeliveryStartHour    int
	DeliveryEndHour      int

	// Retention
	RecommendationRetentionDays int
}

// Load builds a Config from the environment.
func Load() Config {
	return Config{
		Timezone:     getEnvOrDefault("ENGINE_TIMEZONE", "Asia/Makassar"),
		CurrencyCode: getEnvOrDefault("ENGINE_CURRENCY", "IDR"),

		MaxTransactionAmount: envMoney("MAX_TRANSACTION_AMOUNT", money.FromInt(500_000_000)),
		DuplicateWindowSecs:  envInt("DUPLICATE_WINDOW_SECS", 60),

		ExpenseSpikeThresholdPct:   envFloat("EXPENSE_SPIKE_THRESHOLD_PCT", 30),
		RevenueDeclineThresholdPct: envFloat("REVENUE_DECLINE_THRESHOLD_PCT", 15),
		CashflowLookbackDays:       envInt("CASHFLOW_LOOKBACK_DAYS", 7),
		CashflowRunThreshold:       envInt("CASHFLOW_RUN_THRESHOLD", 3),
		TargetVarianceThresholdPct: envFloat("TARGET_VARIANCE_THRESHOLD_PCT", 20),

		MonthlyRevenueTarget: envMoney("MONTHLY_REVENUE_TARGET", money.Zero),
		MonthlyExpenseTarget: envMoney("MONTHLY_EXPENSE_TARGET", money.Zero),

		MinConfidenceScore:       envInt("GATING_MIN_CONFIDENCE", 80),
		CriticalPriorityRequired: envBool("GATING_CRITICAL_ONLY", true),
		DedupWindowMinutes:       envInt("GATING_DEDUP_WINDOW_MINUTES", 60),

		NotifierRateCapacity:  envInt("NOTIFIER_RATE_CAPACITY", 15),
		NotifierRefillPerMin:  envInt("NOTIFIER_REFILL_PER_MIN", 15),
		NotifierTimeoutSecs:   envInt("NOTIFIER_TIMEOUT_SECS", 10),
		DeliveryMaxAgeMinutes: envInt("DELIVERY_MAX_AGE_MINUTES", 60),

		APIRatePerMin: envInt("API_RATE_PER_MIN", 120),
		APIBurst:      envInt("API_BURST", 30),

		CycleIntervalMinutes: envInt("CYCLE_INTERVAL_MINUTES", 60),
		CycleDeadlineSecs:    envInt("CYCLE_DEADLINE_SECS", 30),
		DeliveryStartHour:    envInt("DELIVERY_START_HOUR", 8),
		DeliveryEndHour:      envInt("DELIVERY_END_HOUR", 21),

		RecommendationRetentionDays: envInt("RECOMMENDATION_RETENTION_DAYS", 30),
	}
}

// RequireEnv reads a required environment variable and exits if it is
// not set. Prevents the binary from starting with missing critical
// configuration.
func RequireEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		log.Fatalf("FATAL: Required environment variable %s is not set", key)
	}
	return val
}

func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
		log.Printf("[Config] Ignoring malformed %s=%q, using %d", key, val, fallback)
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
		log.Printf("[Config] Ignoring malformed %s=%q, using %v", key, val, fallback)
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
		log.Printf("[Config] Ignoring malformed %s=%q, using %v", key, val, fallback)
	}
	return fallback
}

func envMoney(key string, fallback money.Money) money.Money {
	if val := os.Getenv(key); val != "" {
		if m, err := money.Parse(val); err == nil {
			return m
		}
		log.Printf("[Config] Ignoring malformed %s=%q, using %s", key, val, fallback)
	}
	return fallback
}
