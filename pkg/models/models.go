package models

import (
	"time"

	"github.com/warungkas/finops-engine/pkg/money"
)

// Core domain types shared across the engine. All cross-layer references
// are by stable identifier; no struct holds a pointer into another
// layer's entities.

// ─── Transactions ────────────────────────────────────────────────────

type TransactionKind string

const (
	KindIncome  TransactionKind = "income"
	KindExpense TransactionKind = "expense"
)

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Transaction is a ledger record. Version increments by exactly one per
// accepted mutation; soft deletion zeroes the amount and prefixes the
// description with a deletion marker but keeps the row.
type Transaction struct {
	ID             string          `json:"id"`
	OwnerID        string          `json:"ownerId"`
	Kind           TransactionKind `json:"kind"`
	Category       string          `json:"category"`
	Amount         money.Money     `json:"amount"`
	Description    string          `json:"description,omitempty"`
	OccurredAt     time.Time       `json:"occurredAt"`
	ApprovalStatus ApprovalStatus  `json:"approvalStatus"`
	ApprovedBy     string          `json:"approvedBy,omitempty"`
	ApprovedAt     *time.Time      `json:"approvedAt,omitempty"`
	Version        int             `json:"version"`
	ArchivedAt     *time.Time      `json:"archivedAt,omitempty"`
}

// Category validates transaction category/kind agreement.
type Category struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Kind     TransactionKind `json:"kind"`
	IsActive bool            `json:"isActive"`
}

// ─── Users & roles ───────────────────────────────────────────────────

type Role string

const (
	RoleDev      Role = "dev"
	RoleBoss     Role = "boss"
	RoleEmployee Role = "employee"
	RoleInvestor Role = "investor"
)

// User carries the Notifier's recipient handle in Contact. Only active
// users are delivery candidates.
type User struct {
	ID       string `json:"id"`
	Contact  string `json:"contact"`
	Role     Role   `json:"role"`
	IsActive bool   `json:"isActive"`
}

// ─── Day buckets ─────────────────────────────────────────────────────

// DailyBucket aggregates approved transactions for one calendar day in
// the operating timezone. Derived, never stored.
type DailyBucket struct {
	Date             time.Time   `json:"date"`
	TotalIncome      money.Money `json:"totalIncome"`
	TotalExpense     money.Money `json:"totalExpense"`
	NetCashflow      money.Money `json:"netCashflow"`
	TransactionCount int         `json:"transactionCount"`
}

// ─── Anomalies ───────────────────────────────────────────────────────

type AnomalyKind string

const (
	AnomalyExpenseSpike       AnomalyKind = "expense_spike"
	AnomalyRevenueDecline     AnomalyKind = "revenue_decline"
	AnomalyCashflowWarning    AnomalyKind = "cashflow_warning"
	AnomalyTargetVariance     AnomalyKind = "target_variance"
	AnomalyEmployeeInactivity AnomalyKind = "employee_inactivity"
)

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// PriorityRank orders priorities for sorting and floors. Unknown
// priorities rank lowest.
func PriorityRank(p Priority) int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// Evidence is the numeric backing of an anomaly: what we saw, what we
// expected, and how far apart they are.
type Evidence struct {
	Current      money.Money `json:"current"`
	Baseline     money.Money `json:"baseline"`
	VariancePct  float64     `json:"variancePct"`
	ThresholdPct float64     `json:"thresholdPct"`
}

// Payload is the human-facing content of an anomaly or recommendation.
// RelatedData is restricted to string-keyed primitive values.
type Payload struct {
	Title            string            `json:"title"`
	Message          string            `json:"message"`
	Evidence         Evidence          `json:"evidence"`
	SuggestedActions []string          `json:"suggestedActions"`
	ActionRequired   string            `json:"actionRequired,omitempty"`
	RelatedData      map[string]string `json:"relatedData,omitempty"`
}

// AnomalyCandidate is a detector result. In-memory only; it does not
// persist until gating accepts it.
type AnomalyCandidate struct {
	Kind       AnomalyKind `json:"kind"`
	Priority   Priority    `json:"priority"`
	Confidence int         `json:"confidence"`
	Payload    Payload     `json:"payload"`
}

// ─── Recommendations ─────────────────────────────────────────────────

// Recommendation is the persisted, role-targeted result of a surviving
// anomaly candidate.
//
// Invariants: DismissedByUsers never shrinks and holds each user at most
// once; AcknowledgedAt, once set, never unsets.
type Recommendation struct {
	ID               string      `json:"id"`
	Kind             AnomalyKind `json:"kind"`
	Priority         Priority    `json:"priority"`
	Confidence       int         `json:"confidence"`
	TargetRoles      []Role      `json:"targetRoles"`
	Payload          Payload     `json:"payload"`
	GeneratedAt      time.Time   `json:"generatedAt"`
	DismissedByUsers []string    `json:"dismissedByUsers,omitempty"`
	AcknowledgedAt   *time.Time  `json:"acknowledgedAt,omitempty"`
}

// ShortID is the 8-character handle exposed in rendered messages for
// reply commands (detail <handle>, dismiss <handle>).
func (r Recommendation) ShortID() string {
	if len(r.ID) < 8 {
		return r.ID
	}
	return r.ID[:8]
}

// IsDismissedBy reports whether userID sits in the dismissal set.
func (r Recommendation) IsDismissedBy(userID string) bool {
	for _, id := range r.DismissedByUsers {
		if id == userID {
			return true
		}
	}
	return false
}

// ─── Delivery ────────────────────────────────────────────────────────

type DeliveryState string

const (
	DeliveryPending          DeliveryState = "pending"
	DeliveryDelivered        DeliveryState = "delivered"
	DeliveryFailed           DeliveryState = "failed"
	DeliverySkippedDismissed DeliveryState = "skipped-dismissed"
)

// DeliveryAttempt records the outcome for one (recommendation, user)
// pair within a dispatch call.
type DeliveryAttempt struct {
	UserID      string        `json:"userId"`
	Contact     string        `json:"contact"`
	State       DeliveryState `json:"state"`
	RetryCount  int           `json:"retryCount"`
	LastError   string        `json:"lastError,omitempty"`
	Throttled   bool          `json:"throttled,omitempty"`
	DeliveredAt *time.Time    `json:"deliveredAt,omitempty"`
}
