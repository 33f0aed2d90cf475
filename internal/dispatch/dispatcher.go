package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/warungkas/finops-engine/internal/audit"
	"github.com/warungkas/finops-engine/internal/recommend"
	"github.com/warungkas/finops-engine/pkg/models"
)

// Delivery Dispatcher
//
// Resolves a recommendation's audience by role, pushes the rendered
// body through the Notifier under the per-contact token bucket, and
// marks the recommendation acknowledged once at least one send lands.
// At-least-once: a recommendation that fails everywhere stays
// unacknowledged and surfaces again via PendingDelivery next cycle.

// UserDirectory resolves delivery audiences. Backed by the users table
// in Postgres or the in-memory directory below.
type UserDirectory interface {
	ActiveUsersByRole(ctx context.Context, roles []models.Role) ([]models.User, error)
}

// DispatchResult aggregates one recommendation's delivery outcome.
type DispatchResult struct {
	RecommendationID string                   `json:"recommendationId"`
	TotalUsers       int                      `json:"totalUsers"`
	Delivered        int                      `json:"delivered"`
	Failed           int                      `json:"failed"`
	PerUserResults   []models.DeliveryAttempt `json:"perUserResults"`
}

// BatchResult aggregates a DeliverPending run.
type BatchResult struct {
	Dispatched int              `json:"dispatched"`
	Delivered  int              `json:"delivered"`
	Failed     int              `json:"failed"`
	Results    []DispatchResult `json:"results"`
}

const (
	defaultNotifierTimeout = 10 * time.Second
	batchWorkers           = 4
)

type Dispatcher struct {
	store           recommend.Store
	users           UserDirectory
	notifier        Notifier
	limiter         *ContactLimiter
	auditor         audit.Emitter
	notifierTimeout time.Duration
}

func NewDispatcher(store recommend.Store, users UserDirectory, notifier Notifier, limiter *ContactLimiter, auditor audit.Emitter, notifierTimeout time.Duration) *Dispatcher {
	if notifierTimeout <= 0 {
		notifierTimeout = defaultNotifierTimeout
	}
	return &Dispatcher{
		store:           store,
		users:           users,
		notifier:        notifier,
		limiter:         limiter,
		auditor:         auditor,
		notifierTimeout: notifierTimeout,
	}
}

// Dispatch delivers one recommendation to its audience. Users are
// processed serially, ordered by user id ascending. Dismissed users are
// skipped and counted as delivered. Failures never abort the loop.
func (d *Dispatcher) Dispatch(ctx context.Context, recommendationID string) (DispatchResult, error) {
	rec, err := d.store.GetByID(ctx, recommendationID)
	if err != nil {
		return DispatchResult{}, fmt.Errorf("dispatch lookup: %w", err)
	}

	users, err := d.users.ActiveUsersByRole(ctx, rec.TargetRoles)
	if err != nil {
		return DispatchResult{}, fmt.Errorf("dispatch audience: %w", err)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })

	result := DispatchResult{
		RecommendationID: rec.ID,
		TotalUsers:       len(users),
	}
	body := RenderMessage(rec)

	for _, user := range users {
		attempt := d.deliverToUser(ctx, rec, user, body)
		result.PerUserResults = append(result.PerUserResults, attempt)
		switch attempt.State {
		case models.DeliveryDelivered, models.DeliverySkippedDismissed:
			result.Delivered++
		case models.DeliveryFailed:
			result.Failed++
		}
	}

	if result.Delivered >= 1 {
		if err := d.store.MarkAcknowledged(ctx, rec.ID); err != nil {
			log.Printf("[Dispatcher] Failed to acknowledge %s: %v", rec.ShortID(), err)
		} else {
			audit.Emit(d.auditor, audit.Event{
				Action:     "recommendation.acknowledged",
				Actor:      "dispatcher",
				Target:     rec.ID,
				EntityType: "recommendation",
				Details:    map[string]any{"delivered": result.Delivered, "failed": result.Failed},
			})
		}
	}

	log.Printf("[Dispatcher] %s: delivered=%d failed=%d of %d users",
		rec.ShortID(), result.Delivered, result.Failed, result.TotalUsers)
	return result, nil
}

func (d *Dispatcher) deliverToUser(ctx context.Context, rec models.Recommendation, user models.User, body string) models.DeliveryAttempt {
	attempt := models.DeliveryAttempt{UserID: user.ID, Contact: user.Contact}

	dismissed, err := d.store.IsDismissedBy(ctx, rec.ID, user.ID)
	if err == nil && dismissed {
		attempt.State = models.DeliverySkippedDismissed
		return attempt
	}

	if d.limiter != nil && !d.limiter.Allow(user.Contact) {
		attempt.State = models.DeliveryFailed
		attempt.Throttled = true
		attempt.LastError = ErrThrottled.Error()
		return attempt
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.notifierTimeout)
	defer cancel()
	if err := d.notifier.Send(sendCtx, user.Contact, body); err != nil {
		attempt.State = models.DeliveryFailed
		attempt.Throttled = errors.Is(err, ErrThrottled)
		attempt.LastError = err.Error()
		return attempt
	}

	now := time.Now()
	attempt.State = models.DeliveryDelivered
	attempt.DeliveredAt = &now

	audit.Emit(d.auditor, audit.Event{
		Action:     "recommendation.delivered",
		Actor:      "dispatcher",
		Target:     rec.ID,
		EntityType: "delivery",
		Details:    map[string]any{"userId": user.ID},
	})
	return attempt
}

// DeliverPending dispatches every unacknowledged recommendation
// generated within maxAge. Recommendations run through a bounded worker
// pool; a failure in one never aborts the batch.
func (d *Dispatcher) DeliverPending(ctx context.Context, maxAge time.Duration) (BatchResult, error) {
	pending, err := d.store.PendingDelivery(ctx, maxAge)
	if err != nil {
		return BatchResult{}, fmt.Errorf("pending lookup: %w", err)
	}

	var (
		mu     sync.Mutex
		batch  BatchResult
		wg     sync.WaitGroup
		tokens = make(chan struct{}, batchWorkers)
	)
	for _, rec := range pending {
		wg.Add(1)
		tokens <- struct{}{}
		go func(id string) {
			defer wg.Done()
			defer func() { <-tokens }()

			result, err := d.Dispatch(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Printf("[Dispatcher] Batch item %s failed: %v", id, err)
				return
			}
			batch.Dispatched++
			batch.Delivered += result.Delivered
			batch.Failed += result.Failed
			batch.Results = append(batch.Results, result)
		}(rec.ID)
	}
	wg.Wait()
	return batch, nil
}

// ─── In-memory user directory ────────────────────────────────────────

// MemoryDirectory backs tests and database-less runs.
type MemoryDirectory struct {
	mu    sync.RWMutex
	users map[string]models.User
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{users: make(map[string]models.User)}
}

func (m *MemoryDirectory) Add(user models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
}

func (m *MemoryDirectory) ActiveUsersByRole(ctx context.Context, roles []models.Role) ([]models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	want := make(map[models.Role]bool, len(roles))
	for _, r := range roles {
		want[r] = true
	}
	var out []models.User
	for _, u := range m.users {
		if u.IsActive && want[u.Role] {
			out = append(out, u)
		}
	}
	return out, nil
}
