package recommend

import (
	"context"
	"errors"
	"time"

	"github.com/warungkas/finops-engine/pkg/models"
)

// Recommendation Store
//
// Exclusive owner of recommendation rows. Beyond CRUD it answers the
// queries the rest of the engine depends on: recency-based dedup for
// gating, pending-delivery selection for the dispatcher, role-filtered
// listing for dashboards, and retention cleanup.

var ErrRecommendationNotFound = errors.New("recommendation not found")

// CreateInput is what gating hands over for a surviving candidate.
type CreateInput struct {
	Kind        models.AnomalyKind
	Priority    models.Priority
	Confidence  int
	TargetRoles []models.Role
	Payload     models.Payload
}

// Stats summarizes recent recommendation volume.
type Stats struct {
	Total         int                        `json:"total"`
	ByPriority    map[models.Priority]int    `json:"byPriority"`
	ByKind        map[models.AnomalyKind]int `json:"byKind"`
	AvgConfidence float64                    `json:"avgConfidence"`
}

type Store interface {
	Create(ctx context.Context, in CreateInput) (models.Recommendation, error)
	GetByID(ctx context.Context, id string) (models.Recommendation, error)

	// RecentForRole returns recommendations targeting the role within
	// hoursBack, ordered by priority desc, confidence desc, generatedAt
	// desc. limit <= 0 means unlimited.
	RecentForRole(ctx context.Context, role models.Role, limit, hoursBack int) ([]models.Recommendation, error)

	// UnacknowledgedCritical returns critical recommendations for the
	// role that nobody has acknowledged yet.
	UnacknowledgedCritical(ctx context.Context, role models.Role) ([]models.Recommendation, error)

	// MarkAcknowledged sets acknowledgedAt if nil. Idempotent: repeat
	// calls keep the first timestamp.
	MarkAcknowledged(ctx context.Context, id string) error

	// DismissForUser adds the user to the dismissal set. Idempotent
	// set-insert; unknown id is an error.
	DismissForUser(ctx context.Context, id, userID string) error

	IsDismissedBy(ctx context.Context, id, userID string) (bool, error)

	// ActiveForUser is RecentForRole minus the user's dismissals. The
	// implementation fetches 2× the limit before filtering.
	ActiveForUser(ctx context.Context, userID string, role models.Role, limit int) ([]models.Recommendation, error)

	// HasRecent reports whether a recommendation of this kind was
	// generated within the window. Gating's dedup check.
	HasRecent(ctx context.Context, kind models.AnomalyKind, within time.Duration) (bool, error)

	// PendingDelivery returns recommendations generated within the
	// window that are still unacknowledged.
	PendingDelivery(ctx context.Context, within time.Duration) ([]models.Recommendation, error)

	// CleanupOlderThan deletes rows older than the retention window and
	// returns how many went away.
	CleanupOlderThan(ctx context.Context, days int) (int, error)

	Statistics(ctx context.Context, hoursBack int) (Stats, error)
}
