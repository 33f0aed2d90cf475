package ledger

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warungkas/finops-engine/internal/clock"
	"github.com/warungkas/finops-engine/pkg/models"
	"github.com/warungkas/finops-engine/pkg/money"
)

func testClock(t *testing.T) *clock.FixedClock {
	t.Helper()
	loc, err := time.LoadLocation(clock.DefaultZone)
	require.NoError(t, err)
	return &clock.FixedClock{At: time.Date(2026, 3, 10, 14, 0, 0, 0, loc), Loc: loc}
}

func newTestService(t *testing.T) (*Service, *MemoryStore, *clock.FixedClock) {
	t.Helper()
	store := NewMemoryStore()
	store.SeedCategory("inventory", models.KindExpense, true)
	store.SeedCategory("sales", models.KindIncome, true)
	store.SeedCategory("legacy", models.KindExpense, false)
	clk := testClock(t)
	svc := NewService(store, clk, money.FromInt(500_000_000), 60*time.Second)
	return svc, store, clk
}

func seedApproved(store *MemoryStore, owner string, kind models.TransactionKind, amount int64, at time.Time) models.Transaction {
	tx := models.Transaction{
		ID:             uuid.NewString(),
		OwnerID:        owner,
		Kind:           kind,
		Category:       "sales",
		Amount:         money.FromInt(amount),
		OccurredAt:     at,
		ApprovalStatus: models.ApprovalApproved,
		Version:        1,
	}
	if kind == models.KindExpense {
		tx.Category = "inventory"
	}
	_ = store.Insert(context.Background(), tx)
	return tx
}

// ─── Validation ──────────────────────────────────────────────────────

func TestCreateValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	base := CreateInput{
		OwnerID:        "emp-1",
		Kind:           models.KindExpense,
		Category:       "inventory",
		Amount:         money.FromInt(100_000),
		ApprovalStatus: models.ApprovalApproved,
	}

	cases := []struct {
		name   string
		mutate func(*CreateInput)
	}{
		{"zero amount", func(in *CreateInput) { in.Amount = money.Zero }},
		{"negative amount", func(in *CreateInput) { in.Amount = money.FromInt(-5) }},
		{"over maximum", func(in *CreateInput) { in.Amount = money.FromInt(600_000_000) }},
		{"long description", func(in *CreateInput) { in.Description = strings.Repeat("x", 101) }},
		{"control bytes", func(in *CreateInput) { in.Description = "bad\x00input" }},
		{"unknown category", func(in *CreateInput) { in.Category = "nonexistent" }},
		{"inactive category", func(in *CreateInput) { in.Category = "legacy" }},
		{"kind mismatch", func(in *CreateInput) { in.Category = "sales" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := base
			tc.mutate(&in)
			_, err := svc.Create(ctx, in)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}

	// 100-char description and newlines are fine.
	in := base
	in.Description = strings.Repeat("y", 99) + "\n"
	tx, err := svc.Create(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, 1, tx.Version)
	require.NotNil(t, tx.ApprovedAt)
}

func TestCreateCaseInsensitiveCategory(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Create(context.Background(), CreateInput{
		OwnerID:  "emp-1",
		Kind:     models.KindExpense,
		Category: "INVENTORY",
		Amount:   money.FromInt(50_000),
	})
	assert.NoError(t, err)
}

// ─── Duplicate window ────────────────────────────────────────────────

func TestDuplicateWindow(t *testing.T) {
	svc, _, clk := newTestService(t)
	ctx := context.Background()

	in := CreateInput{
		OwnerID:  "emp-1",
		Kind:     models.KindExpense,
		Category: "inventory",
		Amount:   money.FromInt(150_000),
	}
	_, err := svc.Create(ctx, in)
	require.NoError(t, err)

	// Same owner, category, amount within 60s is rejected.
	_, err = svc.Create(ctx, in)
	assert.ErrorIs(t, err, ErrDuplicateTransaction)

	// A different amount is not a duplicate.
	other := in
	other.Amount = money.FromInt(150_001)
	_, err = svc.Create(ctx, other)
	assert.NoError(t, err)

	// After the window passes, the same entry is legitimate again.
	clk.At = clk.At.Add(61 * time.Second)
	_, err = svc.Create(ctx, in)
	assert.NoError(t, err)
}

// ─── Optimistic locking ──────────────────────────────────────────────

func TestUpdateWithVersion(t *testing.T) {
	svc, store, clk := newTestService(t)
	ctx := context.Background()
	tx := seedApproved(store, "emp-1", models.KindExpense, 100_000, clk.Now())

	desc := "corrected entry"
	updated, err := svc.UpdateWithVersion(ctx, tx.ID, 1, Patch{Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, desc, updated.Description)

	// Stale version is a conflict, and the row is untouched.
	_, err = svc.UpdateWithVersion(ctx, tx.ID, 1, Patch{Description: &desc})
	assert.ErrorIs(t, err, ErrVersionConflict)

	current, err := store.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, current.Version)
}

func TestUpdateWithVersionRevalidates(t *testing.T) {
	svc, store, clk := newTestService(t)
	ctx := context.Background()
	tx := seedApproved(store, "emp-1", models.KindExpense, 100_000, clk.Now())

	bad := money.FromInt(-10)
	_, err := svc.UpdateWithVersion(ctx, tx.ID, 1, Patch{Amount: &bad})
	assert.ErrorIs(t, err, ErrValidation)
}

// conflictStore forces version conflicts for the first n update calls.
type conflictStore struct {
	*MemoryStore
	remaining int
}

func (c *conflictStore) UpdateWithVersion(ctx context.Context, id string, expectedVersion int, patch Patch) (models.Transaction, error) {
	if c.remaining > 0 {
		c.remaining--
		return models.Transaction{}, ErrVersionConflict
	}
	return c.MemoryStore.UpdateWithVersion(ctx, id, expectedVersion, patch)
}

func TestUpdateWithRetryRecoversFromConflicts(t *testing.T) {
	mem := NewMemoryStore()
	mem.SeedCategory("inventory", models.KindExpense, true)
	store := &conflictStore{MemoryStore: mem, remaining: 2}
	clk := testClock(t)
	svc := NewService(store, clk, money.FromInt(500_000_000), time.Minute)

	tx := seedApproved(mem, "emp-1", models.KindExpense, 100_000, clk.Now())

	desc := "third attempt lands"
	updated, err := svc.UpdateWithRetry(context.Background(), tx.ID, Patch{Description: &desc}, 3)
	require.NoError(t, err)
	assert.Equal(t, desc, updated.Description)
}

func TestUpdateWithRetryExhaustion(t *testing.T) {
	mem := NewMemoryStore()
	mem.SeedCategory("inventory", models.KindExpense, true)
	store := &conflictStore{MemoryStore: mem, remaining: 99}
	clk := testClock(t)
	svc := NewService(store, clk, money.FromInt(500_000_000), time.Minute)

	tx := seedApproved(mem, "emp-1", models.KindExpense, 100_000, clk.Now())

	desc := "never lands"
	_, err := svc.UpdateWithRetry(context.Background(), tx.ID, Patch{Description: &desc}, 2)
	assert.ErrorIs(t, err, ErrConcurrentModification)
}

// ─── Soft delete ─────────────────────────────────────────────────────

func TestSoftDelete(t *testing.T) {
	svc, store, clk := newTestService(t)
	ctx := context.Background()
	tx := seedApproved(store, "emp-1", models.KindExpense, 250_000, clk.Now())
	tx.Description = "stock purchase"
	_ = store.Insert(ctx, tx)

	deleted, err := svc.SoftDelete(ctx, tx.ID, "boss-1", "entered twice")
	require.NoError(t, err)

	assert.True(t, deleted.Amount.IsZero())
	assert.True(t, strings.HasPrefix(deleted.Description, "[DELETED by boss-1: entered twice] "))
	assert.Contains(t, deleted.Description, "stock purchase")
	require.NotNil(t, deleted.ArchivedAt)
	assert.Equal(t, 2, deleted.Version)

	// The row survives and no longer contributes to sums.
	sum, err := svc.SumOver(ctx, models.KindExpense, clk.Now().Add(-time.Hour), clk.Now().Add(time.Hour), "")
	require.NoError(t, err)
	assert.True(t, sum.IsZero())

	_, err = svc.FindByID(ctx, tx.ID)
	assert.NoError(t, err)
}

func TestSoftDeleteUnknownID(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.SoftDelete(context.Background(), "missing", "dev-1", "")
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

// ─── Edit permissions ────────────────────────────────────────────────

func TestCanEditMatrix(t *testing.T) {
	svc, _, clk := newTestService(t)

	sameDay := models.Transaction{OwnerID: "emp-1", OccurredAt: clk.Now().Add(-2 * time.Hour)}
	fiveDays := models.Transaction{OwnerID: "emp-1", OccurredAt: clk.Now().AddDate(0, 0, -5)}
	tenDays := models.Transaction{OwnerID: "emp-1", OccurredAt: clk.Now().AddDate(0, 0, -10)}

	// Dev edits anything.
	assert.NoError(t, svc.CanEdit("dev-1", models.RoleDev, tenDays))

	// Boss edits up to 7 days.
	assert.NoError(t, svc.CanEdit("boss-1", models.RoleBoss, fiveDays))
	assert.ErrorIs(t, svc.CanEdit("boss-1", models.RoleBoss, tenDays), ErrEditForbidden)

	// Owner edits same day only.
	assert.NoError(t, svc.CanEdit("emp-1", models.RoleEmployee, sameDay))
	assert.ErrorIs(t, svc.CanEdit("emp-1", models.RoleEmployee, fiveDays), ErrEditForbidden)

	// Non-owner employee never edits.
	assert.ErrorIs(t, svc.CanEdit("emp-2", models.RoleEmployee, sameDay), ErrEditForbidden)
	assert.ErrorIs(t, svc.CanEdit("inv-1", models.RoleInvestor, sameDay), ErrEditForbidden)
}

// ─── Day buckets ─────────────────────────────────────────────────────

func TestDayBucketsZeroFillAndAdditivity(t *testing.T) {
	svc, store, clk := newTestService(t)
	ctx := context.Background()
	now := clk.Now()

	seedApproved(store, "emp-1", models.KindIncome, 300_000, now.AddDate(0, 0, -4))
	seedApproved(store, "emp-1", models.KindExpense, 100_000, now.AddDate(0, 0, -4))
	seedApproved(store, "emp-2", models.KindIncome, 200_000, now.AddDate(0, 0, -1))
	// Pending rows never reach buckets.
	pending := seedApproved(store, "emp-1", models.KindIncome, 999_999, now)
	pending.ApprovalStatus = models.ApprovalPending
	_ = store.Insert(ctx, pending)

	buckets, err := svc.DayBucketsForRange(ctx, now.AddDate(0, 0, -4), now, "")
	require.NoError(t, err)
	require.Len(t, buckets, 5)

	// Day -4 has both sides; days -3..-2 are zero-filled.
	assert.Equal(t, "300000.00", buckets[0].TotalIncome.String())
	assert.Equal(t, "100000.00", buckets[0].TotalExpense.String())
	assert.Equal(t, "200000.00", buckets[0].NetCashflow.String())
	assert.Equal(t, 2, buckets[0].TransactionCount)
	assert.True(t, buckets[1].NetCashflow.IsZero())
	assert.Equal(t, 0, buckets[1].TransactionCount)

	// Additivity: bucket sums equal the range sums.
	totalIncome, totalExpense := money.Zero, money.Zero
	for _, b := range buckets {
		totalIncome = totalIncome.Add(b.TotalIncome)
		totalExpense = totalExpense.Add(b.TotalExpense)
	}
	sumIncome, err := svc.SumOver(ctx, models.KindIncome, clock.StartOfDay(clk, now.AddDate(0, 0, -4)), clock.EndOfDay(clk, now), "")
	require.NoError(t, err)
	assert.Zero(t, totalIncome.Cmp(sumIncome))
	assert.Equal(t, "100000.00", totalExpense.String())
}

func TestDayBucketsInvalidRange(t *testing.T) {
	svc, _, clk := newTestService(t)
	_, err := svc.DayBucketsForRange(context.Background(), clk.Now(), clk.Now().AddDate(0, 0, -3), "")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestValidationErrorUnwraps(t *testing.T) {
	err := &ValidationError{Field: "amount", Reason: "must be positive"}
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Contains(t, err.Error(), "amount")
}
