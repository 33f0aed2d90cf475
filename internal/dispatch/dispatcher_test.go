package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warungkas/finops-engine/internal/audit"
	"github.com/warungkas/finops-engine/internal/clock"
	"github.com/warungkas/finops-engine/internal/recommend"
	"github.com/warungkas/finops-engine/pkg/models"
)

// recordingNotifier captures sends and can fail selectively.
type recordingNotifier struct {
	mu    sync.Mutex
	sends []string // contact handles in send order
	fail  map[string]error
}

func (n *recordingNotifier) Send(ctx context.Context, contact, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err, ok := n.fail[contact]; ok {
		return err
	}
	n.sends = append(n.sends, contact)
	return nil
}

func dispatchClock(t *testing.T) *clock.FixedClock {
	t.Helper()
	loc, err := time.LoadLocation(clock.DefaultZone)
	require.NoError(t, err)
	return &clock.FixedClock{At: time.Date(2026, 3, 10, 14, 0, 0, 0, loc), Loc: loc}
}

func dispatchFixture(t *testing.T) (*recommend.MemoryStore, *MemoryDirectory, *recordingNotifier) {
	t.Helper()
	store := recommend.NewMemoryStore(dispatchClock(t))
	dir := NewMemoryDirectory()
	dir.Add(models.User{ID: "boss-1", Role: models.RoleBoss, Contact: "+62811", IsActive: true})
	dir.Add(models.User{ID: "dev-1", Role: models.RoleDev, Contact: "+62822", IsActive: true})
	dir.Add(models.User{ID: "emp-1", Role: models.RoleEmployee, Contact: "+62833", IsActive: true})
	dir.Add(models.User{ID: "boss-2", Role: models.RoleBoss, Contact: "+62844", IsActive: false})
	return store, dir, &recordingNotifier{fail: map[string]error{}}
}

func seedRec(t *testing.T, store *recommend.MemoryStore) models.Recommendation {
	t.Helper()
	rec, err := store.Create(context.Background(), recommend.CreateInput{
		Kind:        models.AnomalyExpenseSpike,
		Priority:    models.PriorityCritical,
		Confidence:  95,
		TargetRoles: []models.Role{models.RoleBoss, models.RoleDev},
		Payload:     models.Payload{Title: "Expense spike detected", Message: "Spending today is well above the weekly average."},
	})
	require.NoError(t, err)
	return rec
}

func TestDispatchDeliversToAudienceAndAcknowledges(t *testing.T) {
	store, dir, notifier := dispatchFixture(t)
	rec := seedRec(t, store)

	emitter := audit.NewMemoryEmitter()
	d := NewDispatcher(store, dir, notifier, nil, emitter, time.Second)
	result, err := d.Dispatch(context.Background(), rec.ID)
	require.NoError(t, err)

	// emp-1 is out of role, boss-2 is inactive.
	assert.Equal(t, 2, result.TotalUsers)
	assert.Equal(t, 2, result.Delivered)
	assert.Equal(t, 0, result.Failed)

	// Per-user attempts follow user id ascending.
	require.Len(t, result.PerUserResults, 2)
	assert.Equal(t, "boss-1", result.PerUserResults[0].UserID)
	assert.Equal(t, "dev-1", result.PerUserResults[1].UserID)
	assert.Equal(t, []string{"+62811", "+62822"}, notifier.sends)

	got, err := store.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.AcknowledgedAt)

	// One delivered event per send, then the acknowledgement.
	assert.Equal(t, []string{
		"recommendation.delivered",
		"recommendation.delivered",
		"recommendation.acknowledged",
	}, emitter.Actions())
}

func TestDispatchSkipsDismissedUser(t *testing.T) {
	store, dir, notifier := dispatchFixture(t)
	rec := seedRec(t, store)
	require.NoError(t, store.DismissForUser(context.Background(), rec.ID, "boss-1"))

	d := NewDispatcher(store, dir, notifier, nil, nil, time.Second)
	result, err := d.Dispatch(context.Background(), rec.ID)
	require.NoError(t, err)

	// The dismissal counts as delivered: the user chose not to see it.
	assert.Equal(t, 2, result.Delivered)
	assert.Equal(t, models.DeliverySkippedDismissed, result.PerUserResults[0].State)
	assert.Equal(t, []string{"+62822"}, notifier.sends)
}

func TestDispatchThrottledContact(t *testing.T) {
	store, dir, notifier := dispatchFixture(t)
	rec := seedRec(t, store)

	// A drained bucket for boss-1's contact.
	limiter := NewContactLimiter(1, 15)
	require.True(t, limiter.Allow("+62811"))
	require.False(t, limiter.Allow("+62811"))

	d := NewDispatcher(store, dir, notifier, limiter, nil, time.Second)
	result, err := d.Dispatch(context.Background(), rec.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Delivered)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, models.DeliveryFailed, result.PerUserResults[0].State)
	assert.True(t, result.PerUserResults[0].Throttled)
	assert.Equal(t, []string{"+62822"}, notifier.sends)

	// One landed send is enough to acknowledge.
	got, err := store.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.AcknowledgedAt)
}

func TestDispatchAllFailuresLeavesUnacknowledged(t *testing.T) {
	store, dir, notifier := dispatchFixture(t)
	rec := seedRec(t, store)
	notifier.fail["+62811"] = ErrTransport
	notifier.fail["+62822"] = ErrThrottled

	d := NewDispatcher(store, dir, notifier, nil, nil, time.Second)
	result, err := d.Dispatch(context.Background(), rec.ID)
	require.NoError(t, err)

	assert.Equal(t, 0, result.Delivered)
	assert.Equal(t, 2, result.Failed)
	assert.False(t, result.PerUserResults[0].Throttled)
	assert.True(t, result.PerUserResults[1].Throttled)

	// Stays pending so the next cycle retries it.
	got, err := store.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Nil(t, got.AcknowledgedAt)
	pending, err := store.PendingDelivery(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestDispatchUnknownRecommendation(t *testing.T) {
	store, dir, notifier := dispatchFixture(t)
	d := NewDispatcher(store, dir, notifier, nil, nil, time.Second)
	_, err := d.Dispatch(context.Background(), "missing")
	assert.ErrorIs(t, err, recommend.ErrRecommendationNotFound)
}

func TestDeliverPendingBatch(t *testing.T) {
	store, dir, notifier := dispatchFixture(t)
	a := seedRec(t, store)
	b := seedRec(t, store)
	acked := seedRec(t, store)
	require.NoError(t, store.MarkAcknowledged(context.Background(), acked.ID))

	d := NewDispatcher(store, dir, notifier, nil, nil, time.Second)
	batch, err := d.DeliverPending(context.Background(), time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 2, batch.Dispatched)
	assert.Equal(t, 4, batch.Delivered)
	assert.Equal(t, 0, batch.Failed)

	for _, id := range []string{a.ID, b.ID} {
		got, err := store.GetByID(context.Background(), id)
		require.NoError(t, err)
		assert.NotNil(t, got.AcknowledgedAt, "recommendation %s", id)
	}

	// Nothing left for the next cycle.
	batch, err = d.DeliverPending(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, batch.Dispatched)
}
