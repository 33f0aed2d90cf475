package ledger

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warungkas/finops-engine/pkg/models"
	"github.com/warungkas/finops-engine/pkg/money"
)

// MemoryStore is the in-memory Store used by tests and local runs
// without Postgres. Same semantics as the pgx store in internal/db.
type MemoryStore struct {
	mu         sync.RWMutex
	txs        map[string]models.Transaction
	categories map[string]models.Category
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		txs:        make(map[string]models.Transaction),
		categories: make(map[string]models.Category),
	}
}

// SeedCategory registers a catalog entry. Name lookup is case-insensitive.
func (m *MemoryStore) SeedCategory(name string, kind models.TransactionKind, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.categories[strings.ToLower(name)] = models.Category{
		ID:       uuid.NewString(),
		Name:     name,
		Kind:     kind,
		IsActive: active,
	}
}

func (m *MemoryStore) Insert(ctx context.Context, tx models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs[tx.ID] = tx
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.txs[id]
	if !ok {
		return models.Transaction{}, ErrTransactionNotFound
	}
	return tx, nil
}

func (m *MemoryStore) ListByOwner(ctx context.Context, ownerID string, f Filter) ([]models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Transaction
	for _, tx := range m.txs {
		if tx.OwnerID != ownerID {
			continue
		}
		if !f.From.IsZero() && tx.OccurredAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && tx.OccurredAt.After(f.To) {
			continue
		}
		if f.Kind != "" && tx.Kind != f.Kind {
			continue
		}
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryStore) ListApprovedInRange(ctx context.Context, from, to time.Time, ownerID string) ([]models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Transaction
	for _, tx := range m.txs {
		if tx.ApprovalStatus != models.ApprovalApproved {
			continue
		}
		if ownerID != "" && tx.OwnerID != ownerID {
			continue
		}
		if tx.OccurredAt.Before(from) || tx.OccurredAt.After(to) {
			continue
		}
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}

func (m *MemoryStore) SumApproved(ctx context.Context, kind models.TransactionKind, from, to time.Time, ownerID string) (money.Money, error) {
	txs, err := m.ListApprovedInRange(ctx, from, to, ownerID)
	if err != nil {
		return money.Zero, err
	}
	sum := money.Zero
	for _, tx := range txs {
		if tx.Kind == kind {
			sum = sum.Add(tx.Amount)
		}
	}
	return sum, nil
}

func (m *MemoryStore) UpdateWithVersion(ctx context.Context, id string, expectedVersion int, patch Patch) (models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.txs[id]
	if !ok {
		return models.Transaction{}, ErrTransactionNotFound
	}
	if tx.Version != expectedVersion {
		return models.Transaction{}, ErrVersionConflict
	}

	if patch.Amount != nil {
		tx.Amount = *patch.Amount
	}
	if patch.Category != nil {
		tx.Category = *patch.Category
	}
	if patch.Description != nil {
		tx.Description = *patch.Description
	}
	if patch.Kind != nil {
		tx.Kind = *patch.Kind
	}
	if patch.ApprovalStatus != nil {
		tx.ApprovalStatus = *patch.ApprovalStatus
	}
	if patch.ApprovedBy != nil {
		tx.ApprovedBy = *patch.ApprovedBy
	}
	if patch.ApprovedAt != nil {
		tx.ApprovedAt = patch.ApprovedAt
	}
	if patch.ArchivedAt != nil {
		tx.ArchivedAt = patch.ArchivedAt
	}
	tx.Version++
	m.txs[id] = tx
	return tx, nil
}

func (m *MemoryStore) HasDuplicateSince(ctx context.Context, ownerID, category string, amount money.Money, cutoff time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, tx := range m.txs {
		if tx.OwnerID == ownerID && tx.Category == category &&
			tx.Amount.Cmp(amount) == 0 && !tx.OccurredAt.Before(cutoff) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) GetCategory(ctx context.Context, name string) (models.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cat, ok := m.categories[strings.ToLower(name)]
	if !ok {
		return models.Category{}, ErrCategoryNotFound
	}
	return cat, nil
}
