package recommend

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warungkas/finops-engine/internal/clock"
	"github.com/warungkas/finops-engine/pkg/models"
)

// MemoryStore backs tests and database-less runs. The pgx twin lives in
// internal/db.
type MemoryStore struct {
	mu    sync.RWMutex
	recs  map[string]*models.Recommendation
	clock clock.Clock
}

func NewMemoryStore(clk clock.Clock) *MemoryStore {
	return &MemoryStore{recs: make(map[string]*models.Recommendation), clock: clk}
}

func (m *MemoryStore) Create(ctx context.Context, in CreateInput) (models.Recommendation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := models.Recommendation{
		ID:          uuid.NewString(),
		Kind:        in.Kind,
		Priority:    in.Priority,
		Confidence:  in.Confidence,
		TargetRoles: append([]models.Role(nil), in.TargetRoles...),
		Payload:     in.Payload,
		GeneratedAt: m.clock.Now(),
	}
	m.recs[rec.ID] = &rec
	return cloneRec(&rec), nil
}

// Seed inserts a fully formed recommendation. Test hook for dedup and
// recency scenarios.
func (m *MemoryStore) Seed(rec models.Recommendation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	m.recs[rec.ID] = &rec
}

func (m *MemoryStore) GetByID(ctx context.Context, id string) (models.Recommendation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.recs[id]
	if !ok {
		return models.Recommendation{}, ErrRecommendationNotFound
	}
	return cloneRec(rec), nil
}

func (m *MemoryStore) RecentForRole(ctx context.Context, role models.Role, limit, hoursBack int) ([]models.Recommendation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := m.clock.Now().Add(-time.Duration(hoursBack) * time.Hour)
	var out []models.Recommendation
	for _, rec := range m.recs {
		if rec.GeneratedAt.Before(cutoff) || !targetsRole(rec, role) {
			continue
		}
		out = append(out, cloneRec(rec))
	}
	sortRecommendations(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) UnacknowledgedCritical(ctx context.Context, role models.Role) ([]models.Recommendation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Recommendation
	for _, rec := range m.recs {
		if rec.Priority != models.PriorityCritical || rec.AcknowledgedAt != nil || !targetsRole(rec, role) {
			continue
		}
		out = append(out, cloneRec(rec))
	}
	sortRecommendations(out)
	return out, nil
}

func (m *MemoryStore) MarkAcknowledged(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[id]
	if !ok {
		return ErrRecommendationNotFound
	}
	if rec.AcknowledgedAt == nil {
		now := m.clock.Now()
		rec.AcknowledgedAt = &now
	}
	return nil
}

func (m *MemoryStore) DismissForUser(ctx context.Context, id, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[id]
	if !ok {
		return ErrRecommendationNotFound
	}
	for _, existing := range rec.DismissedByUsers {
		if existing == userID {
			return nil
		}
	}
	rec.DismissedByUsers = append(rec.DismissedByUsers, userID)
	return nil
}

func (m *MemoryStore) IsDismissedBy(ctx context.Context, id, userID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.recs[id]
	if !ok {
		return false, ErrRecommendationNotFound
	}
	return rec.IsDismissedBy(userID), nil
}

func (m *MemoryStore) ActiveForUser(ctx context.Context, userID string, role models.Role, limit int) ([]models.Recommendation, error) {
	// Over-fetch so dismissal filtering still fills the page.
	candidates, err := m.RecentForRole(ctx, role, limit*2, 24)
	if err != nil {
		return nil, err
	}
	var out []models.Recommendation
	for _, rec := range candidates {
		if rec.IsDismissedBy(userID) {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) HasRecent(ctx context.Context, kind models.AnomalyKind, within time.Duration) (bool, error) {
	if within <= 0 {
		return false, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	cutoff := m.clock.Now().Add(-within)
	for _, rec := range m.recs {
		if rec.Kind == kind && !rec.GeneratedAt.Before(cutoff) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) PendingDelivery(ctx context.Context, within time.Duration) ([]models.Recommendation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := m.clock.Now().Add(-within)
	var out []models.Recommendation
	for _, rec := range m.recs {
		if rec.AcknowledgedAt != nil || rec.GeneratedAt.Before(cutoff) {
			continue
		}
		out = append(out, cloneRec(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GeneratedAt.Before(out[j].GeneratedAt) })
	return out, nil
}

func (m *MemoryStore) CleanupOlderThan(ctx context.Context, days int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.clock.Now().AddDate(0, 0, -days)
	removed := 0
	for id, rec := range m.recs {
		if rec.GeneratedAt.Before(cutoff) {
			delete(m.recs, id)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryStore) Statistics(ctx context.Context, hoursBack int) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		ByPriority: make(map[models.Priority]int),
		ByKind:     make(map[models.AnomalyKind]int),
	}
	cutoff := m.clock.Now().Add(-time.Duration(hoursBack) * time.Hour)
	confidenceSum := 0
	for _, rec := range m.recs {
		if rec.GeneratedAt.Before(cutoff) {
			continue
		}
		stats.Total++
		stats.ByPriority[rec.Priority]++
		stats.ByKind[rec.Kind]++
		confidenceSum += rec.Confidence
	}
	if stats.Total > 0 {
		stats.AvgConfidence = float64(confidenceSum) / float64(stats.Total)
	}
	return stats, nil
}

// ─── helpers ─────────────────────────────────────────────────────────

func targetsRole(rec *models.Recommendation, role models.Role) bool {
	for _, r := range rec.TargetRoles {
		if r == role {
			return true
		}
	}
	return false
}

func sortRecommendations(recs []models.Recommendation) {
	sort.Slice(recs, func(i, j int) bool {
		pi, pj := models.PriorityRank(recs[i].Priority), models.PriorityRank(recs[j].Priority)
		if pi != pj {
			return pi > pj
		}
		if recs[i].Confidence != recs[j].Confidence {
			return recs[i].Confidence > recs[j].Confidence
		}
		return recs[i].GeneratedAt.After(recs[j].GeneratedAt)
	})
}

func cloneRec(rec *models.Recommendation) models.Recommendation {
	out := *rec
	out.TargetRoles = append([]models.Role(nil), rec.TargetRoles...)
	out.DismissedByUsers = append([]string(nil), rec.DismissedByUsers...)
	return out
}
