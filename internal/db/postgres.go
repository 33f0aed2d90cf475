package db

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/warungkas/finops-engine/internal/ledger"
	"github.com/warungkas/finops-engine/internal/recommend"
	"github.com/warungkas/finops-engine/pkg/models"
	"github.com/warungkas/finops-engine/pkg/money"
)

// PostgresStore backs the ledger store, the recommendation store, and
// the dispatcher's user directory on one pgx pool.

// schemaSQL is compiled into the binary so schema init needs no files
// on disk wherever the engine is deployed.
//
//go:embed schema.sql
var schemaSQL string

type PostgresStore struct {
	pool *pgxpool.Pool
}

// Connect initializes the connection pool to PostgreSQL using pgx
func Connect(ctx context.Context, connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: ping failed: %v", ledger.ErrStorageUnavailable, err)
	}

	log.Println("Successfully connected to PostgreSQL for Finops Engine")
	return &PostgresStore{pool: pool}, nil
}

// Close gracefully closes the connection pool
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema executes the embedded schema.sql DDL statements.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema migrations: %v", err)
	}

	log.Println("Finops schema initialized")
	return nil
}

// ─── Ledger store ────────────────────────────────────────────────────

const transactionColumns = `
	id, owner_id, kind, category, amount::text, description, occurred_at,
	approval_status, COALESCE(approved_by, ''), approved_at, version, archived_at`

func scanTransaction(row pgx.Row) (models.Transaction, error) {
	var (
		tx        models.Transaction
		kind      string
		status    string
		amountStr string
	)
	err := row.Scan(&tx.ID, &tx.OwnerID, &kind, &tx.Category, &amountStr,
		&tx.Description, &tx.OccurredAt, &status, &tx.ApprovedBy,
		&tx.ApprovedAt, &tx.Version, &tx.ArchivedAt)
	if err != nil {
		return models.Transaction{}, err
	}
	amount, err := money.Parse(amountStr)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("decode amount: %w", err)
	}
	tx.Kind = models.TransactionKind(kind)
	tx.ApprovalStatus = models.ApprovalStatus(status)
	tx.Amount = amount
	return tx, nil
}

func (s *PostgresStore) Insert(ctx context.Context, tx models.Transaction) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO transactions
			(id, owner_id, kind, category, amount, description, occurred_at,
			 approval_status, approved_by, approved_at, version, archived_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10, $11, $12)`,
		tx.ID, tx.OwnerID, string(tx.Kind), tx.Category, tx.Amount.String(),
		tx.Description, tx.OccurredAt, string(tx.ApprovalStatus),
		tx.ApprovedBy, tx.ApprovedAt, tx.Version, tx.ArchivedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (models.Transaction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	tx, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Transaction{}, ledger.ErrTransactionNotFound
	}
	return tx, err
}

func (s *PostgresStore) ListByOwner(ctx context.Context, ownerID string, f ledger.Filter) ([]models.Transaction, error) {
	sql := `SELECT ` + transactionColumns + ` FROM transactions WHERE owner_id = $1`
	args := []any{ownerID}
	if !f.From.IsZero() {
		args = append(args, f.From)
		sql += fmt.Sprintf(" AND occurred_at >= $%d", len(args))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		sql += fmt.Sprintf(" AND occurred_at <= $%d", len(args))
	}
	if f.Kind != "" {
		args = append(args, string(f.Kind))
		sql += fmt.Sprintf(" AND kind = $%d", len(args))
	}
	sql += " ORDER BY occurred_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		sql += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return s.queryTransactions(ctx, sql, args...)
}

func (s *PostgresStore) ListApprovedInRange(ctx context.Context, from, to time.Time, ownerID string) ([]models.Transaction, error) {
	sql := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE approval_status = 'approved' AND occurred_at BETWEEN $1 AND $2`
	args := []any{from, to}
	if ownerID != "" {
		args = append(args, ownerID)
		sql += " AND owner_id = $3"
	}
	sql += " ORDER BY occurred_at ASC"
	return s.queryTransactions(ctx, sql, args...)
}

func (s *PostgresStore) queryTransactions(ctx context.Context, sql string, args ...any) ([]models.Transaction, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SumApproved(ctx context.Context, kind models.TransactionKind, from, to time.Time, ownerID string) (money.Money, error) {
	sql := `SELECT COALESCE(SUM(amount), 0)::text
		FROM transactions
		WHERE approval_status = 'approved' AND kind = $1 AND occurred_at BETWEEN $2 AND $3`
	args := []any{string(kind), from, to}
	if ownerID != "" {
		args = append(args, ownerID)
		sql += " AND owner_id = $4"
	}
	var sumStr string
	if err := s.pool.QueryRow(ctx, sql, args...).Scan(&sumStr); err != nil {
		return money.Zero, err
	}
	return money.Parse(sumStr)
}

func (s *PostgresStore) UpdateWithVersion(ctx context.Context, id string, expectedVersion int, patch ledger.Patch) (models.Transaction, error) {
	set := "version = version + 1"
	args := []any{id, expectedVersion}
	add := func(col string, val any) {
		args = append(args, val)
		set += fmt.Sprintf(", %s = $%d", col, len(args))
	}
	if patch.Amount != nil {
		add("amount", patch.Amount.String())
	}
	if patch.Category != nil {
		add("category", *patch.Category)
	}
	if patch.Description != nil {
		add("description", *patch.Description)
	}
	if patch.Kind != nil {
		add("kind", string(*patch.Kind))
	}
	if patch.ApprovalStatus != nil {
		add("approval_status", string(*patch.ApprovalStatus))
	}
	if patch.ApprovedBy != nil {
		add("approved_by", *patch.ApprovedBy)
	}
	if patch.ApprovedAt != nil {
		add("approved_at", *patch.ApprovedAt)
	}
	if patch.ArchivedAt != nil {
		add("archived_at", *patch.ArchivedAt)
	}

	sql := fmt.Sprintf(`UPDATE transactions SET %s
		WHERE id = $1 AND version = $2
		RETURNING %s`, set, transactionColumns)
	tx, err := scanTransaction(s.pool.QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		// Zero rows matched: either the id is gone or the version moved.
		if _, getErr := s.Get(ctx, id); errors.Is(getErr, ledger.ErrTransactionNotFound) {
			return models.Transaction{}, ledger.ErrTransactionNotFound
		}
		return models.Transaction{}, ledger.ErrVersionConflict
	}
	return tx, err
}

func (s *PostgresStore) HasDuplicateSince(ctx context.Context, ownerID, category string, amount money.Money, cutoff time.Time) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM transactions
			WHERE owner_id = $1 AND category = $2 AND amount = $3 AND occurred_at >= $4
		)`, ownerID, category, amount.String(), cutoff).Scan(&exists)
	return exists, err
}

func (s *PostgresStore) GetCategory(ctx context.Context, name string) (models.Category, error) {
	var (
		cat  models.Category
		kind string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, kind, is_active FROM categories WHERE LOWER(name) = LOWER($1)`, name).
		Scan(&cat.ID, &cat.Name, &kind, &cat.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Category{}, ledger.ErrCategoryNotFound
	}
	cat.Kind = models.TransactionKind(kind)
	return cat, err
}

// SeedCategories upserts catalog entries. Called once on boot with the
// default category set.
func (s *PostgresStore) SeedCategories(ctx context.Context, categories []models.Category) error {
	for _, cat := range categories {
		id := cat.ID
		if id == "" {
			id = uuid.NewString()
		}
		_, err := s.pool.Exec(ctx, `
			INSERT INTO categories (id, name, kind, is_active)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (name) DO UPDATE SET kind = EXCLUDED.kind, is_active = EXCLUDED.is_active`,
			id, cat.Name, string(cat.Kind), cat.IsActive)
		if err != nil {
			return fmt.Errorf("seed category %s: %w", cat.Name, err)
		}
	}
	return nil
}

// ─── User directory ──────────────────────────────────────────────────

func (s *PostgresStore) ActiveUsersByRole(ctx context.Context, roles []models.Role) ([]models.User, error) {
	roleStrs := make([]string, len(roles))
	for i, r := range roles {
		roleStrs[i] = string(r)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, contact, role, is_active FROM users
		WHERE is_active AND role = ANY($1)
		ORDER BY id ASC`, roleStrs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.User
	for rows.Next() {
		var (
			u    models.User
			role string
		)
		if err := rows.Scan(&u.ID, &u.Contact, &role, &u.IsActive); err != nil {
			return nil, err
		}
		u.Role = models.Role(role)
		out = append(out, u)
	}
	return out, rows.Err()
}

// ─── Recommendation store ────────────────────────────────────────────

const recommendationColumns = `
	id, kind, priority, confidence, target_roles, content, generated_at,
	acknowledged_at, dismissed_by_users`

func scanRecommendation(row pgx.Row) (models.Recommendation, error) {
	var (
		rec      models.Recommendation
		kind     string
		priority string
		roles    []string
		content  []byte
	)
	err := row.Scan(&rec.ID, &kind, &priority, &rec.Confidence, &roles,
		&content, &rec.GeneratedAt, &rec.AcknowledgedAt, &rec.DismissedByUsers)
	if err != nil {
		return models.Recommendation{}, err
	}
	rec.Kind = models.AnomalyKind(kind)
	rec.Priority = models.Priority(priority)
	for _, r := range roles {
		rec.TargetRoles = append(rec.TargetRoles, models.Role(r))
	}
	if err := json.Unmarshal(content, &rec.Payload); err != nil {
		return models.Recommendation{}, fmt.Errorf("decode recommendation payload: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) Create(ctx context.Context, in recommend.CreateInput) (models.Recommendation, error) {
	content, err := json.Marshal(in.Payload)
	if err != nil {
		return models.Recommendation{}, fmt.Errorf("encode recommendation payload: %w", err)
	}
	roles := make([]string, len(in.TargetRoles))
	for i, r := range in.TargetRoles {
		roles[i] = string(r)
	}

	rec := models.Recommendation{
		ID:          uuid.NewString(),
		Kind:        in.Kind,
		Priority:    in.Priority,
		Confidence:  in.Confidence,
		TargetRoles: in.TargetRoles,
		Payload:     in.Payload,
	}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO recommendations
			(id, kind, priority, confidence, target_roles, content, generated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING generated_at`,
		rec.ID, string(rec.Kind), string(rec.Priority), rec.Confidence, roles, content).
		Scan(&rec.GeneratedAt)
	if err != nil {
		return models.Recommendation{}, fmt.Errorf("insert recommendation: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (models.Recommendation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+recommendationColumns+` FROM recommendations WHERE id = $1`, id)
	rec, err := scanRecommendation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Recommendation{}, recommend.ErrRecommendationNotFound
	}
	return rec, err
}

// priorityRankSQL mirrors models.PriorityRank so SQL ordering matches
// the in-memory store.
const priorityRankSQL = `
	CASE priority
		WHEN 'critical' THEN 4 WHEN 'high' THEN 3
		WHEN 'medium' THEN 2 WHEN 'low' THEN 1 ELSE 0
	END`

func (s *PostgresStore) RecentForRole(ctx context.Context, role models.Role, limit, hoursBack int) ([]models.Recommendation, error) {
	sql := `SELECT ` + recommendationColumns + `
		FROM recommendations
		WHERE $1 = ANY(target_roles)
		  AND generated_at >= NOW() - make_interval(hours => $2)
		ORDER BY ` + priorityRankSQL + ` DESC, confidence DESC, generated_at DESC`
	args := []any{string(role), hoursBack}
	// limit <= 0 means unlimited, matching the memory store.
	if limit > 0 {
		sql += ` LIMIT $3`
		args = append(args, limit)
	}
	return s.queryRecommendations(ctx, sql, args...)
}

func (s *PostgresStore) UnacknowledgedCritical(ctx context.Context, role models.Role) ([]models.Recommendation, error) {
	sql := `SELECT ` + recommendationColumns + `
		FROM recommendations
		WHERE $1 = ANY(target_roles) AND priority = 'critical' AND acknowledged_at IS NULL
		ORDER BY confidence DESC, generated_at DESC`
	return s.queryRecommendations(ctx, sql, string(role))
}

func (s *PostgresStore) queryRecommendations(ctx context.Context, sql string, args ...any) ([]models.Recommendation, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Recommendation
	for rows.Next() {
		rec, err := scanRecommendation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkAcknowledged(ctx context.Context, id string) error {
	// Idempotent: only the first call sets the timestamp.
	tag, err := s.pool.Exec(ctx, `
		UPDATE recommendations SET acknowledged_at = NOW()
		WHERE id = $1 AND acknowledged_at IS NULL`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.mustExist(ctx, id)
	}
	return nil
}

func (s *PostgresStore) DismissForUser(ctx context.Context, id, userID string) error {
	// Atomic set-insert: append only when the user is not in the array.
	tag, err := s.pool.Exec(ctx, `
		UPDATE recommendations
		SET dismissed_by_users = array_append(dismissed_by_users, $2)
		WHERE id = $1 AND NOT ($2 = ANY(dismissed_by_users))`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.mustExist(ctx, id)
	}
	return nil
}

// mustExist distinguishes "no-op because idempotent" from "unknown id"
// after a conditional UPDATE matched zero rows.
func (s *PostgresStore) mustExist(ctx context.Context, id string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM recommendations WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return recommend.ErrRecommendationNotFound
	}
	return nil
}

func (s *PostgresStore) IsDismissedBy(ctx context.Context, id, userID string) (bool, error) {
	var dismissed bool
	err := s.pool.QueryRow(ctx, `
		SELECT $2 = ANY(dismissed_by_users) FROM recommendations WHERE id = $1`, id, userID).
		Scan(&dismissed)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, recommend.ErrRecommendationNotFound
	}
	return dismissed, err
}

func (s *PostgresStore) ActiveForUser(ctx context.Context, userID string, role models.Role, limit int) ([]models.Recommendation, error) {
	// Over-fetch 2x so dismissal filtering still fills the page.
	candidates, err := s.RecentForRole(ctx, role, limit*2, 24)
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

func (s *PostgresStore) HasRecent(ctx context.Context, kind models.AnomalyKind, within time.Duration) (bool, error) {
	if within <= 0 {
		return false, nil
	}
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM recommendations
			WHERE kind = $1 AND generated_at >= NOW() - make_interval(secs => $2)
		)`, string(kind), within.Seconds()).Scan(&exists)
	return exists, err
}

func (s *PostgresStore) PendingDelivery(ctx context.Context, within time.Duration) ([]models.Recommendation, error) {
	sql := `SELECT ` + recommendationColumns + `
		FROM recommendations
		WHERE acknowledged_at IS NULL
		  AND generated_at >= NOW() - make_interval(secs => $1)
		ORDER BY generated_at ASC`
	return s.queryRecommendations(ctx, sql, within.Seconds())
}

func (s *PostgresStore) CleanupOlderThan(ctx context.Context, days int) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM recommendations
		WHERE generated_at < NOW() - make_interval(days => $1)`, days)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) Statistics(ctx context.Context, hoursBack int) (recommend.Stats, error) {
	stats := recommend.Stats{
		ByPriority: make(map[models.Priority]int),
		ByKind:     make(map[models.AnomalyKind]int),
	}

	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(AVG(confidence), 0)
		FROM recommendations
		WHERE generated_at >= NOW() - make_interval(hours => $1)`, hoursBack).
		Scan(&stats.Total, &stats.AvgConfidence)
	if err != nil {
		return stats, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT priority, kind, COUNT(*)
		FROM recommendations
		WHERE generated_at >= NOW() - make_interval(hours => $1)
		GROUP BY priority, kind`, hoursBack)
	if err != nil {
		return stats, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			priority, kind string
			count          int
		)
		if err := rows.Scan(&priority, &kind, &count); err != nil {
			return stats, err
		}
		stats.ByPriority[models.Priority(priority)] += count
		stats.ByKind[models.AnomalyKind(kind)] += count
	}
	return stats, rows.Err()
}
