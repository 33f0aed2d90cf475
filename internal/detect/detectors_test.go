package detect

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warungkas/finops-engine/internal/clock"
	"github.com/warungkas/finops-engine/internal/ledger"
	"github.com/warungkas/finops-engine/pkg/models"
	"github.com/warungkas/finops-engine/pkg/money"
)

// Detector tests run against the real ledger service over the memory
// store so day-bucket and sum semantics match production exactly.

func detectorClock(t *testing.T) *clock.FixedClock {
	t.Helper()
	loc, err := time.LoadLocation(clock.DefaultZone)
	require.NoError(t, err)
	return &clock.FixedClock{At: time.Date(2026, 3, 10, 14, 0, 0, 0, loc), Loc: loc}
}

func detectorLedger(t *testing.T, clk clock.Clock) (*ledger.Service, *ledger.MemoryStore) {
	t.Helper()
	store := ledger.NewMemoryStore()
	return ledger.NewService(store, clk, money.FromInt(500_000_000), time.Minute), store
}

func insertApproved(store *ledger.MemoryStore, kind models.TransactionKind, amount int64, at time.Time) {
	_ = store.Insert(context.Background(), models.Transaction{
		ID:             uuid.NewString(),
		OwnerID:        "emp-1",
		Kind:           kind,
		Category:       "seed",
		Amount:         money.FromInt(amount),
		OccurredAt:     at,
		ApprovalStatus: models.ApprovalApproved,
		Version:        1,
	})
}

// ─── Expense spike ───────────────────────────────────────────────────

func TestExpenseSpikeDetects(t *testing.T) {
	clk := detectorClock(t)
	svc, store := detectorLedger(t, clk)
	now := clk.Now()

	// 100k/day for the prior 7 days, 200k today.
	for i := 1; i <= 7; i++ {
		insertApproved(store, models.KindExpense, 100_000, now.AddDate(0, 0, -i))
	}
	insertApproved(store, models.KindExpense, 200_000, now)

	d := NewExpenseSpikeDetector(svc, clk, DefaultDetectorConfig())
	cand, err := d.Detect(context.Background())
	require.NoError(t, err)
	require.NotNil(t, cand)

	assert.Equal(t, models.AnomalyExpenseSpike, cand.Kind)
	// 100% variance is beyond twice the 30% threshold.
	assert.Equal(t, models.PriorityCritical, cand.Priority)
	assert.Equal(t, 100.0, cand.Payload.Evidence.VariancePct)
	// signal 50 + sample 25 + freshness 15 + prior 5.
	assert.Equal(t, 95, cand.Confidence)
	assert.NotEmpty(t, cand.Payload.SuggestedActions)
}

func TestExpenseSpikeZeroBaselineNeverTriggers(t *testing.T) {
	clk := detectorClock(t)
	svc, store := detectorLedger(t, clk)

	// First-ever expense: no history, no spike.
	insertApproved(store, models.KindExpense, 5_000_000, clk.Now())

	d := NewExpenseSpikeDetector(svc, clk, DefaultDetectorConfig())
	cand, err := d.Detect(context.Background())
	require.NoError(t, err)
	assert.Nil(t, cand)
}

func TestExpenseSpikeBelowThresholdStaysQuiet(t *testing.T) {
	clk := detectorClock(t)
	svc, store := detectorLedger(t, clk)
	now := clk.Now()

	for i := 1; i <= 7; i++ {
		insertApproved(store, models.KindExpense, 100_000, now.AddDate(0, 0, -i))
	}
	// +30% exactly does not exceed the threshold.
	insertApproved(store, models.KindExpense, 130_000, now)

	d := NewExpenseSpikeDetector(svc, clk, DefaultDetectorConfig())
	cand, err := d.Detect(context.Background())
	require.NoError(t, err)
	assert.Nil(t, cand)
}

// ─── Revenue decline ─────────────────────────────────────────────────

func TestRevenueDeclineDetects(t *testing.T) {
	clk := detectorClock(t)
	svc, store := detectorLedger(t, clk)
	now := clk.Now()

	// Previous week 7M, this week 5M: −28.57%.
	for i := 7; i <= 13; i++ {
		insertApproved(store, models.KindIncome, 1_000_000, now.AddDate(0, 0, -i))
	}
	for i := 0; i <= 6; i++ {
		insertApproved(store, models.KindIncome, 714_285, now.AddDate(0, 0, -i))
	}

	d := NewRevenueDeclineDetector(svc, clk, DefaultDetectorConfig())
	cand, err := d.Detect(context.Background())
	require.NoError(t, err)
	require.NotNil(t, cand)

	assert.Equal(t, models.AnomalyRevenueDecline, cand.Kind)
	assert.Less(t, cand.Payload.Evidence.VariancePct, -15.0)
	// |−28.57| beyond 1.5× the 15% threshold but not 2×.
	assert.Equal(t, models.PriorityHigh, cand.Priority)
}

func TestRevenueDeclineZeroPreviousWeek(t *testing.T) {
	clk := detectorClock(t)
	svc, store := detectorLedger(t, clk)

	// Only current-week revenue; no baseline to decline from.
	insertApproved(store, models.KindIncome, 2_000_000, clk.Now().AddDate(0, 0, -1))

	d := NewRevenueDeclineDetector(svc, clk, DefaultDetectorConfig())
	cand, err := d.Detect(context.Background())
	require.NoError(t, err)
	assert.Nil(t, cand)
}

// ─── Consecutive negative cashflow ───────────────────────────────────

func TestCashflowRunDetects(t *testing.T) {
	clk := detectorClock(t)
	svc, store := detectorLedger(t, clk)
	now := clk.Now()

	// Positive days early in the window, then a 3-day negative run.
	for i := 3; i <= 6; i++ {
		insertApproved(store, models.KindIncome, 500_000, now.AddDate(0, 0, -i))
	}
	for i := 0; i <= 2; i++ {
		insertApproved(store, models.KindExpense, 300_000, now.AddDate(0, 0, -i))
	}

	d := NewCashflowDetector(svc, clk, DefaultDetectorConfig())
	cand, err := d.Detect(context.Background())
	require.NoError(t, err)
	require.NotNil(t, cand)

	assert.Equal(t, models.AnomalyCashflowWarning, cand.Kind)
	assert.Equal(t, models.PriorityMedium, cand.Priority)
	assert.Equal(t, "3", cand.Payload.RelatedData["longestRun"])

	// Same data with a run threshold of 4 stays quiet.
	cfg := DefaultDetectorConfig()
	cfg.CashflowRunThreshold = 4
	d = NewCashflowDetector(svc, clk, cfg)
	cand, err = d.Detect(context.Background())
	require.NoError(t, err)
	assert.Nil(t, cand)
}

func TestCashflowBrokenRunDoesNotCount(t *testing.T) {
	clk := detectorClock(t)
	svc, store := detectorLedger(t, clk)
	now := clk.Now()

	// Negative, negative, positive, negative: longest run is 2.
	insertApproved(store, models.KindExpense, 100_000, now.AddDate(0, 0, -3))
	insertApproved(store, models.KindExpense, 100_000, now.AddDate(0, 0, -2))
	insertApproved(store, models.KindIncome, 400_000, now.AddDate(0, 0, -1))
	insertApproved(store, models.KindExpense, 100_000, now)

	d := NewCashflowDetector(svc, clk, DefaultDetectorConfig())
	cand, err := d.Detect(context.Background())
	require.NoError(t, err)
	assert.Nil(t, cand)
}

func TestCashflowLongRunIsCritical(t *testing.T) {
	clk := detectorClock(t)
	svc, store := detectorLedger(t, clk)
	now := clk.Now()

	for i := 0; i <= 4; i++ {
		insertApproved(store, models.KindExpense, 200_000, now.AddDate(0, 0, -i))
	}

	d := NewCashflowDetector(svc, clk, DefaultDetectorConfig())
	cand, err := d.Detect(context.Background())
	require.NoError(t, err)
	require.NotNil(t, cand)
	assert.Equal(t, models.PriorityCritical, cand.Priority)
}

// ─── Monthly target variance ─────────────────────────────────────────

func TestTargetVarianceDetects(t *testing.T) {
	clk := detectorClock(t) // March 10: 10 of 31 days elapsed
	svc, store := detectorLedger(t, clk)
	now := clk.Now()

	// Prorated revenue target 10M; actual 5M → −50%, critical.
	for i := 0; i < 10; i++ {
		insertApproved(store, models.KindIncome, 500_000, now.AddDate(0, 0, -i))
	}

	d := NewTargetVarianceDetector(svc, clk, DefaultDetectorConfig(),
		money.FromInt(31_000_000), money.FromInt(31_000_000))
	cand, err := d.Detect(context.Background())
	require.NoError(t, err)
	require.NotNil(t, cand)

	assert.Equal(t, models.AnomalyTargetVariance, cand.Kind)
	assert.Equal(t, models.PriorityCritical, cand.Priority)
	assert.InDelta(t, -50.0, cand.Payload.Evidence.VariancePct, 0.5)
	assert.Equal(t, "10", cand.Payload.RelatedData["daysElapsed"])
	assert.Equal(t, "31", cand.Payload.RelatedData["daysInMonth"])
}

func TestTargetVarianceDisabledWithoutTargets(t *testing.T) {
	clk := detectorClock(t)
	svc, _ := detectorLedger(t, clk)

	d := NewTargetVarianceDetector(svc, clk, DefaultDetectorConfig(),
		money.Zero, money.FromInt(10_000_000))
	cand, err := d.Detect(context.Background())
	require.NoError(t, err)
	assert.Nil(t, cand)
}

func TestTargetVariancePrimaryIsLargerBreach(t *testing.T) {
	clk := detectorClock(t)
	svc, store := detectorLedger(t, clk)
	now := clk.Now()

	// Revenue −25% (breach), expenses +60% (bigger breach): expense
	// side drives priority and the headline evidence.
	for i := 0; i < 10; i++ {
		insertApproved(store, models.KindIncome, 750_000, now.AddDate(0, 0, -i))
		insertApproved(store, models.KindExpense, 1_600_000, now.AddDate(0, 0, -i))
	}

	d := NewTargetVarianceDetector(svc, clk, DefaultDetectorConfig(),
		money.FromInt(31_000_000), money.FromInt(31_000_000))
	cand, err := d.Detect(context.Background())
	require.NoError(t, err)
	require.NotNil(t, cand)

	assert.InDelta(t, 60.0, cand.Payload.Evidence.VariancePct, 0.5)
	assert.Equal(t, models.PriorityCritical, cand.Priority)
}
