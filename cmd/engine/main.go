package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/warungkas/finops-engine/internal/api"
	"github.com/warungkas/finops-engine/internal/audit"
	"github.com/warungkas/finops-engine/internal/clock"
	"github.com/warungkas/finops-engine/internal/config"
	"github.com/warungkas/finops-engine/internal/db"
	"github.com/warungkas/finops-engine/internal/detect"
	"github.com/warungkas/finops-engine/internal/dispatch"
	"github.com/warungkas/finops-engine/internal/ledger"
	"github.com/warungkas/finops-engine/internal/report"
	"github.com/warungkas/finops-engine/internal/scheduler"
	"github.com/warungkas/finops-engine/pkg/models"
)

func main() {
	log.Println("Starting WarungKas Finops Engine (anomaly detection + recommendation delivery)...")

	// ─── Required Environment Variables ─────────────────────────────────
	// All credentials MUST come from environment variables. No fallback
	// defaults for security-sensitive values. Use a .env file for local
	// development: cp .env.example .env && edit .env
	// ────────────────────────────────────────────────────────────────────

	dbURL := config.RequireEnv("DATABASE_URL")
	notifierURL := config.RequireEnv("NOTIFIER_WEBHOOK_URL")

	cfg := config.Load()

	clk, err := clock.NewZoneClock(cfg.Timezone)
	if err != nil {
		log.Fatalf("FATAL: Invalid ENGINE_TIMEZONE %q: %v", cfg.Timezone, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := db.Connect(ctx, dbURL)
	if err != nil {
		log.Fatalf("FATAL: Failed to connect to PostgreSQL: %v", err)
	}
	defer store.Close()

	if err := store.InitSchema(ctx); err != nil {
		log.Fatalf("FATAL: DB schema init failed: %v", err)
	}
	if err := store.SeedCategories(ctx, defaultCategories()); err != nil {
		log.Printf("Warning: category seeding failed: %v", err)
	}

	auditor := audit.NewLogEmitter()

	// Ledger service: validation, duplicate window, optimistic locking.
	ledgerSvc := ledger.NewService(store, clk, cfg.MaxTransactionAmount,
		time.Duration(cfg.DuplicateWindowSecs)*time.Second)

	// Detectors share one threshold config sourced from the environment.
	detCfg := detect.DetectorConfig{
		ExpenseSpikeThresholdPct:   cfg.ExpenseSpikeThresholdPct,
		RevenueDeclineThresholdPct: cfg.RevenueDeclineThresholdPct,
		CashflowLookbackDays:       cfg.CashflowLookbackDays,
		CashflowRunThreshold:       cfg.CashflowRunThreshold,
		TargetVarianceThresholdPct: cfg.TargetVarianceThresholdPct,
		Prior:                      detect.DefaultPrior,
	}
	detectors := []detect.Detector{
		detect.NewExpenseSpikeDetector(ledgerSvc, clk, detCfg),
		detect.NewRevenueDeclineDetector(ledgerSvc, clk, detCfg),
		detect.NewCashflowDetector(ledgerSvc, clk, detCfg),
	}
	if cfg.MonthlyRevenueTarget.IsPositive() || cfg.MonthlyExpenseTarget.IsPositive() {
		detectors = append(detectors,
			detect.NewTargetVarianceDetector(ledgerSvc, clk, detCfg, cfg.MonthlyRevenueTarget, cfg.MonthlyExpenseTarget))
	} else {
		log.Println("No monthly targets configured; target-variance detector disabled")
	}

	orchestrator := detect.NewOrchestrator(detectors, store, auditor,
		time.Duration(cfg.CycleDeadlineSecs)*time.Second)

	// Delivery: webhook notifier under a per-contact token bucket.
	notifier := dispatch.NewWebhookNotifier(notifierURL, nil)
	limiter := dispatch.NewContactLimiter(cfg.NotifierRateCapacity, cfg.NotifierRefillPerMin)
	dispatcher := dispatch.NewDispatcher(store, store, notifier, limiter, auditor,
		time.Duration(cfg.NotifierTimeoutSecs)*time.Second)

	analyzer := report.NewAnalyzer(ledgerSvc, clk)

	// Setup WebSocket Hub
	wsHub := api.NewHub()
	go wsHub.Run()

	// Background scheduler: detection cycles, delivery windows, cleanup.
	sched := scheduler.New(orchestrator, dispatcher, store, limiter, clk, scheduler.Options{
		CycleInterval: time.Duration(cfg.CycleIntervalMinutes) * time.Minute,
		Policy: detect.GatingPolicy{
			MinConfidenceScore:       cfg.MinConfidenceScore,
			CriticalPriorityRequired: cfg.CriticalPriorityRequired,
			DedupWindowMinutes:       cfg.DedupWindowMinutes,
		},
		DeliveryMaxAge:    time.Duration(cfg.DeliveryMaxAgeMinutes) * time.Minute,
		DeliveryStartHour: cfg.DeliveryStartHour,
		DeliveryEndHour:   cfg.DeliveryEndHour,
		RetentionDays:     cfg.RecommendationRetentionDays,
		AlertFunc: func(entry detect.CycleEntry) {
			api.BroadcastRecommendationAlert(wsHub, entry)
		},
		Auditor: auditor,
	})
	go sched.Run(ctx)

	// Setup the Gin Router
	r := api.SetupRouter(ledgerSvc, store, orchestrator, dispatcher, analyzer, wsHub, clk, cfg, auditor)

	addr := ":" + getEnvOrDefault("PORT", "5340")
	log.Printf("Engine running on %s (timezone %s, currency %s)\n", addr, cfg.Timezone, cfg.CurrencyCode)
	if err := r.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// getEnvOrDefault returns the env var value or a safe default for non-secret settings.
func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// defaultCategories is the seed catalog for a fresh database.
func defaultCategories() []models.Category {
	income := func(name string) models.Category {
		return models.Category{Name: name, Kind: models.KindIncome, IsActive: true}
	}
	expense := func(name string) models.Category {
		return models.Category{Name: name, Kind: models.KindExpense, IsActive: true}
	}
	return []models.Category{
		income("sales"), income("services"), income("other_income"),
		expense("inventory"), expense("salaries"), expense("rent"),
		expense("utilities"), expense("marketing"), expense("equipment"),
		expense("transport"), expense("other_expense"),
	}
}
