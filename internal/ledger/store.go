package ledger

import (
	"context"
	"time"

	"github.com/warungkas/finops-engine/pkg/models"
	"github.com/warungkas/finops-engine/pkg/money"
)

// Store is the persistence contract behind the ledger service. The
// Postgres implementation lives in internal/db; the in-memory one in
// this package backs tests and local runs.

// Filter narrows ListByOwner reads. Zero values mean "no constraint".
type Filter struct {
	From   time.Time
	To     time.Time
	Kind   models.TransactionKind
	Limit  int
	Offset int
}

// Patch is a partial transaction update. Nil fields are left untouched.
// Every accepted patch increments the row version by exactly one.
type Patch struct {
	Amount         *money.Money
	Category       *string
	Description    *string
	Kind           *models.TransactionKind
	ApprovalStatus *models.ApprovalStatus
	ApprovedBy     *string
	ApprovedAt     *time.Time
	ArchivedAt     *time.Time
}

type Store interface {
	// Insert persists a new transaction at version 1.
	Insert(ctx context.Context, tx models.Transaction) error

	// Get returns a single transaction or ErrTransactionNotFound.
	Get(ctx context.Context, id string) (models.Transaction, error)

	// ListByOwner returns the owner's transactions newest first.
	ListByOwner(ctx context.Context, ownerID string, f Filter) ([]models.Transaction, error)

	// ListApprovedInRange returns approved transactions with
	// OccurredAt in [from, to]. Empty ownerID means all owners.
	ListApprovedInRange(ctx context.Context, from, to time.Time, ownerID string) ([]models.Transaction, error)

	// SumApproved aggregates approved amounts of one kind over
	// [from, to]. Missing rows sum to zero.
	SumApproved(ctx context.Context, kind models.TransactionKind, from, to time.Time, ownerID string) (money.Money, error)

	// UpdateWithVersion applies the patch iff the stored version equals
	// expectedVersion, returning the updated row. Zero rows matched is
	// ErrVersionConflict.
	UpdateWithVersion(ctx context.Context, id string, expectedVersion int, patch Patch) (models.Transaction, error)

	// HasDuplicateSince reports whether the owner already created a
	// transaction with this category and amount at or after cutoff.
	HasDuplicateSince(ctx context.Context, ownerID, category string, amount money.Money, cutoff time.Time) (bool, error)

	// GetCategory resolves a catalog entry by name or returns
	// ErrCategoryNotFound.
	GetCategory(ctx context.Context, name string) (models.Category, error)
}
