package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warungkas/finops-engine/internal/audit"
	"github.com/warungkas/finops-engine/internal/clock"
	"github.com/warungkas/finops-engine/internal/detect"
	"github.com/warungkas/finops-engine/internal/dispatch"
	"github.com/warungkas/finops-engine/internal/recommend"
	"github.com/warungkas/finops-engine/pkg/models"
)

func schedulerClock(t *testing.T, hour int) *clock.FixedClock {
	t.Helper()
	loc, err := time.LoadLocation(clock.DefaultZone)
	require.NoError(t, err)
	return &clock.FixedClock{At: time.Date(2026, 3, 10, hour, 0, 0, 0, loc), Loc: loc}
}

func TestWithinDeliveryHours(t *testing.T) {
	cases := []struct {
		name       string
		start, end int
		hour       int
		want       bool
	}{
		{"inside daytime window", 8, 21, 14, true},
		{"start is inclusive", 8, 21, 8, true},
		{"end is exclusive", 8, 21, 21, false},
		{"before window", 8, 21, 3, false},
		{"wrap-around evening side", 21, 8, 23, true},
		{"wrap-around morning side", 21, 8, 6, true},
		{"wrap-around gap", 21, 8, 12, false},
		{"equal hours disables check", 0, 0, 3, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &Scheduler{
				clock: schedulerClock(t, tc.hour),
				opts:  Options{DeliveryStartHour: tc.start, DeliveryEndHour: tc.end},
			}
			assert.Equal(t, tc.want, s.withinDeliveryHours())
		})
	}
}

type fixedDetector struct {
	kind models.AnomalyKind
}

func (d *fixedDetector) Kind() models.AnomalyKind { return d.kind }

func (d *fixedDetector) Detect(ctx context.Context) (*models.AnomalyCandidate, error) {
	return &models.AnomalyCandidate{
		Kind:       d.kind,
		Priority:   models.PriorityCritical,
		Confidence: 95,
		Payload:    models.Payload{Title: "scheduled check"},
	}, nil
}

func TestRunCycleDetectsAlertsAndDelivers(t *testing.T) {
	clk := schedulerClock(t, 14)
	store := recommend.NewMemoryStore(clk)
	orchestrator := detect.NewOrchestrator(
		[]detect.Detector{&fixedDetector{kind: models.AnomalyExpenseSpike}},
		store, nil, 5*time.Second)

	dir := dispatch.NewMemoryDirectory()
	dir.Add(models.User{ID: "boss-1", Role: models.RoleBoss, Contact: "+62811", IsActive: true})
	var sent int
	notifier := dispatch.NotifierFunc(func(ctx context.Context, contact, body string) error {
		sent++
		return nil
	})
	dispatcher := dispatch.NewDispatcher(store, dir, notifier, nil, nil, time.Second)

	var alerted []detect.CycleEntry
	s := New(orchestrator, dispatcher, store, nil, clk, Options{
		Policy:         detect.CriticalOnlyPolicy(),
		DeliveryMaxAge: time.Hour,
		AlertFunc:      func(e detect.CycleEntry) { alerted = append(alerted, e) },
	})

	s.runCycle(context.Background())

	require.Len(t, alerted, 1)
	assert.Equal(t, models.AnomalyExpenseSpike, alerted[0].Kind)
	assert.Equal(t, 1, sent)

	rec, err := store.GetByID(context.Background(), alerted[0].ID)
	require.NoError(t, err)
	assert.NotNil(t, rec.AcknowledgedAt)
}

func TestRunCycleHoldsOutsideDeliveryWindow(t *testing.T) {
	clk := schedulerClock(t, 3)
	store := recommend.NewMemoryStore(clk)
	orchestrator := detect.NewOrchestrator(
		[]detect.Detector{&fixedDetector{kind: models.AnomalyExpenseSpike}},
		store, nil, 5*time.Second)

	var sent int
	notifier := dispatch.NotifierFunc(func(ctx context.Context, contact, body string) error {
		sent++
		return nil
	})
	dir := dispatch.NewMemoryDirectory()
	dir.Add(models.User{ID: "boss-1", Role: models.RoleBoss, Contact: "+62811", IsActive: true})
	dispatcher := dispatch.NewDispatcher(store, dir, notifier, nil, nil, time.Second)

	s := New(orchestrator, dispatcher, store, nil, clk, Options{
		Policy:            detect.CriticalOnlyPolicy(),
		DeliveryMaxAge:    time.Hour,
		DeliveryStartHour: 8,
		DeliveryEndHour:   21,
	})

	s.runCycle(context.Background())

	// The recommendation exists but nothing went out at 3am.
	assert.Zero(t, sent)
	pending, err := store.PendingDelivery(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestRunRetentionPurgesAndAudits(t *testing.T) {
	clk := schedulerClock(t, 14)
	store := recommend.NewMemoryStore(clk)
	store.Seed(models.Recommendation{
		Kind:        models.AnomalyRevenueDecline,
		Priority:    models.PriorityLow,
		TargetRoles: []models.Role{models.RoleBoss},
		GeneratedAt: clk.Now().AddDate(0, 0, -45),
	})

	emitter := audit.NewMemoryEmitter()
	s := New(nil, nil, store, nil, clk, Options{RetentionDays: 30, Auditor: emitter})
	s.runRetention(context.Background())

	stats, err := store.Statistics(context.Background(), 24*60)
	require.NoError(t, err)
	assert.Zero(t, stats.Total)

	// The purge itself is a state change and leaves an audit record.
	events := emitter.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "recommendation.purged", events[0].Action)
	assert.Equal(t, "scheduler", events[0].Actor)
	assert.Equal(t, 1, events[0].Details["removed"])

	// An empty sweep emits nothing.
	s.runRetention(context.Background())
	assert.Len(t, emitter.Events(), 1)
}
