package recommend

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warungkas/finops-engine/internal/clock"
	"github.com/warungkas/finops-engine/pkg/models"
)

func storeFixture(t *testing.T) (*MemoryStore, *clock.FixedClock) {
	t.Helper()
	loc, err := time.LoadLocation(clock.DefaultZone)
	require.NoError(t, err)
	clk := &clock.FixedClock{At: time.Date(2026, 3, 10, 14, 0, 0, 0, loc), Loc: loc}
	return NewMemoryStore(clk), clk
}

func create(t *testing.T, store *MemoryStore, kind models.AnomalyKind, priority models.Priority, confidence int, roles ...models.Role) models.Recommendation {
	t.Helper()
	if len(roles) == 0 {
		roles = []models.Role{models.RoleBoss, models.RoleDev}
	}
	rec, err := store.Create(context.Background(), CreateInput{
		Kind:        kind,
		Priority:    priority,
		Confidence:  confidence,
		TargetRoles: roles,
		Payload:     models.Payload{Title: "fixture"},
	})
	require.NoError(t, err)
	return rec
}

func TestDismissIsIdempotentSetInsert(t *testing.T) {
	store, _ := storeFixture(t)
	ctx := context.Background()
	rec := create(t, store, models.AnomalyExpenseSpike, models.PriorityCritical, 90)

	require.NoError(t, store.DismissForUser(ctx, rec.ID, "boss-1"))
	require.NoError(t, store.DismissForUser(ctx, rec.ID, "boss-1"))
	require.NoError(t, store.DismissForUser(ctx, rec.ID, "dev-1"))

	got, err := store.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	// Each user at most once; the set never shrinks.
	assert.Equal(t, []string{"boss-1", "dev-1"}, got.DismissedByUsers)

	dismissed, err := store.IsDismissedBy(ctx, rec.ID, "boss-1")
	require.NoError(t, err)
	assert.True(t, dismissed)
	dismissed, err = store.IsDismissedBy(ctx, rec.ID, "emp-1")
	require.NoError(t, err)
	assert.False(t, dismissed)

	assert.ErrorIs(t, store.DismissForUser(ctx, "missing", "boss-1"), ErrRecommendationNotFound)
}

func TestAcknowledgeKeepsFirstTimestamp(t *testing.T) {
	store, clk := storeFixture(t)
	ctx := context.Background()
	rec := create(t, store, models.AnomalyCashflowWarning, models.PriorityCritical, 85)

	require.NoError(t, store.MarkAcknowledged(ctx, rec.ID))
	got, err := store.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got.AcknowledgedAt)
	first := *got.AcknowledgedAt

	// A later acknowledgement never moves the timestamp.
	clk.At = clk.At.Add(2 * time.Hour)
	require.NoError(t, store.MarkAcknowledged(ctx, rec.ID))
	got, err = store.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, got.AcknowledgedAt.Equal(first))
}

func TestActiveForUserFiltersDismissals(t *testing.T) {
	store, _ := storeFixture(t)
	ctx := context.Background()

	a := create(t, store, models.AnomalyExpenseSpike, models.PriorityCritical, 95)
	b := create(t, store, models.AnomalyRevenueDecline, models.PriorityHigh, 85)
	c := create(t, store, models.AnomalyCashflowWarning, models.PriorityMedium, 70)

	require.NoError(t, store.DismissForUser(ctx, b.ID, "boss-1"))

	// boss-1 no longer sees b; dev-1 still does.
	active, err := store.ActiveForUser(ctx, "boss-1", models.RoleBoss, 10)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, a.ID, active[0].ID)
	assert.Equal(t, c.ID, active[1].ID)

	active, err = store.ActiveForUser(ctx, "dev-1", models.RoleDev, 10)
	require.NoError(t, err)
	assert.Len(t, active, 3)
}

func TestRecentForRoleOrderingAndScope(t *testing.T) {
	store, clk := storeFixture(t)
	ctx := context.Background()

	medium := create(t, store, models.AnomalyCashflowWarning, models.PriorityMedium, 99)
	critical := create(t, store, models.AnomalyExpenseSpike, models.PriorityCritical, 81)
	investorOnly := create(t, store, models.AnomalyTargetVariance, models.PriorityHigh, 90,
		models.RoleBoss, models.RoleDev, models.RoleInvestor)

	// Outside the window.
	store.Seed(models.Recommendation{
		Kind:        models.AnomalyRevenueDecline,
		Priority:    models.PriorityCritical,
		Confidence:  99,
		TargetRoles: []models.Role{models.RoleBoss},
		GeneratedAt: clk.Now().Add(-48 * time.Hour),
	})

	recs, err := store.RecentForRole(ctx, models.RoleBoss, 10, 24)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	// Priority desc beats confidence.
	assert.Equal(t, critical.ID, recs[0].ID)
	assert.Equal(t, investorOnly.ID, recs[1].ID)
	assert.Equal(t, medium.ID, recs[2].ID)

	// Investors only see what targets them.
	recs, err = store.RecentForRole(ctx, models.RoleInvestor, 10, 24)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, investorOnly.ID, recs[0].ID)

	// limit <= 0 means unlimited, never "no rows".
	recs, err = store.RecentForRole(ctx, models.RoleBoss, 0, 24)
	require.NoError(t, err)
	assert.Len(t, recs, 3)
}

func TestHasRecentWindow(t *testing.T) {
	store, clk := storeFixture(t)
	ctx := context.Background()

	store.Seed(models.Recommendation{
		Kind:        models.AnomalyExpenseSpike,
		Priority:    models.PriorityCritical,
		Confidence:  90,
		TargetRoles: []models.Role{models.RoleBoss},
		GeneratedAt: clk.Now().Add(-45 * time.Minute),
	})

	recent, err := store.HasRecent(ctx, models.AnomalyExpenseSpike, time.Hour)
	require.NoError(t, err)
	assert.True(t, recent)

	recent, err = store.HasRecent(ctx, models.AnomalyExpenseSpike, 30*time.Minute)
	require.NoError(t, err)
	assert.False(t, recent)

	// Other kinds never collide.
	recent, err = store.HasRecent(ctx, models.AnomalyRevenueDecline, time.Hour)
	require.NoError(t, err)
	assert.False(t, recent)

	// A zero window disables the check.
	recent, err = store.HasRecent(ctx, models.AnomalyExpenseSpike, 0)
	require.NoError(t, err)
	assert.False(t, recent)
}

func TestPendingDeliveryExcludesAcknowledged(t *testing.T) {
	store, _ := storeFixture(t)
	ctx := context.Background()

	a := create(t, store, models.AnomalyExpenseSpike, models.PriorityCritical, 95)
	b := create(t, store, models.AnomalyCashflowWarning, models.PriorityHigh, 85)
	require.NoError(t, store.MarkAcknowledged(ctx, a.ID))

	pending, err := store.PendingDelivery(ctx, time.Hour)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, b.ID, pending[0].ID)
}

func TestCleanupOlderThan(t *testing.T) {
	store, clk := storeFixture(t)
	ctx := context.Background()

	create(t, store, models.AnomalyExpenseSpike, models.PriorityCritical, 95)
	store.Seed(models.Recommendation{
		Kind:        models.AnomalyRevenueDecline,
		Priority:    models.PriorityLow,
		TargetRoles: []models.Role{models.RoleBoss},
		GeneratedAt: clk.Now().AddDate(0, 0, -45),
	})

	removed, err := store.CleanupOlderThan(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	stats, err := store.Statistics(ctx, 24)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
}

func TestStatistics(t *testing.T) {
	store, _ := storeFixture(t)
	ctx := context.Background()

	create(t, store, models.AnomalyExpenseSpike, models.PriorityCritical, 90)
	create(t, store, models.AnomalyExpenseSpike, models.PriorityHigh, 80)
	create(t, store, models.AnomalyCashflowWarning, models.PriorityCritical, 70)

	stats, err := store.Statistics(ctx, 24)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.ByPriority[models.PriorityCritical])
	assert.Equal(t, 2, stats.ByKind[models.AnomalyExpenseSpike])
	assert.InDelta(t, 80.0, stats.AvgConfidence, 0.01)
}
