package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/warungkas/finops-engine/internal/clock"
	"github.com/warungkas/finops-engine/pkg/models"
	"github.com/warungkas/finops-engine/pkg/money"
)

// Ledger query layer.
//
// The service owns every read/write against transaction rows: creation
// with validation and duplicate rejection, optimistic-locked mutation,
// soft deletion, and the day-bucket/sum aggregations the detectors and
// reports consume. Only approved transactions feed aggregations.

const (
	maxDescriptionLen  = 100
	deletedMarkerBegin = "[DELETED by "
	retryBaseBackoff   = 100 * time.Millisecond
	retryMaxBackoff    = 1 * time.Second
	defaultMaxAttempts = 3
)

type Service struct {
	store     Store
	clock     clock.Clock
	maxAmount money.Money
	dupWindow time.Duration
}

type CreateInput struct {
	OwnerID        string
	Kind           models.TransactionKind
	Category       string
	Amount         money.Money
	Description    string
	ApprovalStatus models.ApprovalStatus
	ApprovedBy     string
}

func NewService(store Store, clk clock.Clock, maxAmount money.Money, dupWindow time.Duration) *Service {
	if dupWindow <= 0 {
		dupWindow = 60 * time.Second
	}
	return &Service{store: store, clock: clk, maxAmount: maxAmount, dupWindow: dupWindow}
}

// ─── Reads ───────────────────────────────────────────────────────────

func (s *Service) FindByID(ctx context.Context, id string) (models.Transaction, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) FindByOwner(ctx context.Context, ownerID string, f Filter) ([]models.Transaction, error) {
	return s.store.ListByOwner(ctx, ownerID, f)
}

func (s *Service) SumOver(ctx context.Context, kind models.TransactionKind, from, to time.Time, ownerID string) (money.Money, error) {
	return s.store.SumApproved(ctx, kind, from, to, ownerID)
}

// ApprovedInRange returns approved transactions in [from, to], oldest
// first. Empty ownerID means all owners. Feeds the reporting layer.
func (s *Service) ApprovedInRange(ctx context.Context, from, to time.Time, ownerID string) ([]models.Transaction, error) {
	return s.store.ListApprovedInRange(ctx, from, to, ownerID)
}

// DayBucketsForRange returns one bucket per calendar day in the
// operating zone between from and to inclusive, zero-filled on days
// with no approved transactions.
func (s *Service) DayBucketsForRange(ctx context.Context, from, to time.Time, ownerID string) ([]models.DailyBucket, error) {
	loc := s.clock.Location()
	first := clock.StartOfDay(s.clock, from)
	last := clock.EndOfDay(s.clock, to)
	if last.Before(first) {
		return nil, fmt.Errorf("%w: range end before start", ErrValidation)
	}

	txs, err := s.store.ListApprovedInRange(ctx, first, last, ownerID)
	if err != nil {
		return nil, err
	}

	type agg struct {
		income, expense money.Money
		count           int
	}
	byDay := make(map[string]*agg)
	for _, tx := range txs {
		key := tx.OccurredAt.In(loc).Format("2006-01-02")
		a, ok := byDay[key]
		if !ok {
			a = &agg{income: money.Zero, expense: money.Zero}
			byDay[key] = a
		}
		switch tx.Kind {
		case models.KindIncome:
			a.income = a.income.Add(tx.Amount)
		case models.KindExpense:
			a.expense = a.expense.Add(tx.Amount)
		}
		a.count++
	}

	var buckets []models.DailyBucket
	for day := from.In(loc); !clock.StartOfDay(s.clock, day).After(last); day = day.AddDate(0, 0, 1) {
		key := day.Format("2006-01-02")
		bucket := models.DailyBucket{
			Date:         time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc),
			TotalIncome:  money.Zero,
			TotalExpense: money.Zero,
			NetCashflow:  money.Zero,
		}
		if a, ok := byDay[key]; ok {
			bucket.TotalIncome = a.income
			bucket.TotalExpense = a.expense
			bucket.NetCashflow = a.income.Sub(a.expense)
			bucket.TransactionCount = a.count
		}
		buckets = append(buckets, bucket)
	}
	return buckets, nil
}

// ─── Create ──────────────────────────────────────────────────────────

func (s *Service) Create(ctx context.Context, in CreateInput) (models.Transaction, error) {
	if err := s.validate(ctx, in.Kind, in.Category, in.Amount, in.Description); err != nil {
		return models.Transaction{}, err
	}

	cutoff := s.clock.Now().Add(-s.dupWindow)
	dup, err := s.store.HasDuplicateSince(ctx, in.OwnerID, in.Category, in.Amount, cutoff)
	if err != nil {
		return models.Transaction{}, err
	}
	if dup {
		return models.Transaction{}, fmt.Errorf("%w: %s %s %s within %s",
			ErrDuplicateTransaction, in.OwnerID, in.Category, in.Amount, s.dupWindow)
	}

	now := s.clock.Now()
	tx := models.Transaction{
		ID:             uuid.NewString(),
		OwnerID:        in.OwnerID,
		Kind:           in.Kind,
		Category:       in.Category,
		Amount:         in.Amount,
		Description:    in.Description,
		OccurredAt:     now,
		ApprovalStatus: in.ApprovalStatus,
		ApprovedBy:     in.ApprovedBy,
		Version:        1,
	}
	if in.ApprovalStatus == models.ApprovalApproved {
		approvedAt := now
		tx.ApprovedAt = &approvedAt
	}
	if err := s.store.Insert(ctx, tx); err != nil {
		return models.Transaction{}, err
	}
	return tx, nil
}

func (s *Service) validate(ctx context.Context, kind models.TransactionKind, category string, amount money.Money, description string) error {
	if !amount.IsPositive() {
		return &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if amount.GreaterThan(s.maxAmount) {
		return &ValidationError{Field: "amount", Reason: fmt.Sprintf("exceeds maximum %s", s.maxAmount)}
	}
	if len(description) > maxDescriptionLen {
		return &ValidationError{Field: "description", Reason: fmt.Sprintf("longer than %d characters", maxDescriptionLen)}
	}
	for _, b := range []byte(description) {
		if b < 0x20 && b != '\n' {
			return &ValidationError{Field: "description", Reason: "contains control bytes"}
		}
	}

	cat, err := s.store.GetCategory(ctx, category)
	if err != nil {
		if errors.Is(err, ErrCategoryNotFound) {
			return &ValidationError{Field: "category", Reason: fmt.Sprintf("%q does not exist", category)}
		}
		return err
	}
	if !cat.IsActive {
		return &ValidationError{Field: "category", Reason: fmt.Sprintf("%q is inactive", category)}
	}
	if cat.Kind != kind {
		return &ValidationError{Field: "category", Reason: fmt.Sprintf("%q is a %s category, transaction is %s", category, cat.Kind, kind)}
	}
	return nil
}

// ─── Mutations ───────────────────────────────────────────────────────

// UpdateWithVersion applies the patch under optimistic locking. Patched
// amount/category/description go through the same validation as create.
func (s *Service) UpdateWithVersion(ctx context.Context, id string, expectedVersion int, patch Patch) (models.Transaction, error) {
	if patch.Amount != nil || patch.Category != nil || patch.Description != nil || patch.Kind != nil {
		current, err := s.store.Get(ctx, id)
		if err != nil {
			return models.Transaction{}, err
		}
		kind := current.Kind
		if patch.Kind != nil {
			kind = *patch.Kind
		}
		category := current.Category
		if patch.Category != nil {
			category = *patch.Category
		}
		amount := current.Amount
		if patch.Amount != nil {
			amount = *patch.Amount
		}
		description := current.Description
		if patch.Description != nil {
			description = *patch.Description
		}
		// Soft deletes zero the amount; skip the positive-amount rule
		// when the patched description carries the deletion marker.
		if !strings.HasPrefix(description, deletedMarkerBegin) {
			if err := s.validate(ctx, kind, category, amount, description); err != nil {
				return models.Transaction{}, err
			}
		}
	}
	return s.store.UpdateWithVersion(ctx, id, expectedVersion, patch)
}

// UpdateWithRetry wraps UpdateWithVersion in an exponential backoff
// (100ms, 200ms, 400ms, capped at 1s). Only ErrVersionConflict retries;
// exhaustion surfaces as ErrConcurrentModification.
func (s *Service) UpdateWithRetry(ctx context.Context, id string, patch Patch, maxAttempts int) (models.Transaction, error) {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	backoff := retryBaseBackoff
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		current, err := s.store.Get(ctx, id)
		if err != nil {
			return models.Transaction{}, err
		}
		updated, err := s.UpdateWithVersion(ctx, id, current.Version, patch)
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return models.Transaction{}, err
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return models.Transaction{}, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > retryMaxBackoff {
			backoff = retryMaxBackoff
		}
	}
	return models.Transaction{}, fmt.Errorf("%w after %d attempts: %v", ErrConcurrentModification, maxAttempts, lastErr)
}

// SoftDelete zeroes the amount and prefixes the description with the
// deletion marker. The row, its id, and its history survive, so
// aggregations exclude it without any filter changes.
func (s *Service) SoftDelete(ctx context.Context, id, actor, reason string) (models.Transaction, error) {
	current, err := s.store.Get(ctx, id)
	if err != nil {
		return models.Transaction{}, err
	}
	if reason == "" {
		reason = "no reason given"
	}
	marked := fmt.Sprintf("%s%s: %s] %s", deletedMarkerBegin, actor, reason, current.Description)
	zero := money.Zero
	now := s.clock.Now()
	return s.UpdateWithRetry(ctx, id, Patch{
		Amount:      &zero,
		Description: &marked,
		ArchivedAt:  &now,
	}, defaultMaxAttempts)
}

// ─── Edit permissions ────────────────────────────────────────────────

// CanEdit enforces the role/age matrix. daysDiff is measured in the
// operating zone:
//
//	dev                      any age
//	boss                     up to 7 days
//	owner (any role)         same day only
//	everyone else            denied
func (s *Service) CanEdit(actorID string, actorRole models.Role, tx models.Transaction) error {
	days := clock.DaysDiff(s.clock, tx.OccurredAt)
	isOwner := actorID == tx.OwnerID

	switch actorRole {
	case models.RoleDev:
		return nil
	case models.RoleBoss:
		if days <= 7 {
			return nil
		}
		return &EditForbiddenError{Reason: fmt.Sprintf("boss may edit up to 7 days, transaction is %d days old", days)}
	default:
		if !isOwner {
			return &EditForbiddenError{Reason: "only boss or dev may edit another user's transaction"}
		}
		if days == 0 {
			return nil
		}
		return &EditForbiddenError{Reason: fmt.Sprintf("owner may edit same-day only, transaction is %d days old", days)}
	}
}
