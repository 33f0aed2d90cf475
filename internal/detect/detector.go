package detect

import (
	"context"
	"time"

	"github.com/warungkas/finops-engine/internal/clock"
	"github.com/warungkas/finops-engine/pkg/models"
	"github.com/warungkas/finops-engine/pkg/money"
)

// Anomaly detectors.
//
// Each detector is read-only: it consumes ledger aggregations through
// LedgerReader and either returns a candidate or nil. Detectors never
// persist anything; gating decides what survives. Internal errors are
// swallowed by the orchestrator and treated as "no anomaly".

// LedgerReader is the slice of the ledger service the detectors and
// reports consume.
type LedgerReader interface {
	DayBucketsForRange(ctx context.Context, from, to time.Time, ownerID string) ([]models.DailyBucket, error)
	SumOver(ctx context.Context, kind models.TransactionKind, from, to time.Time, ownerID string) (money.Money, error)
}

// Detector produces at most one candidate per cycle.
type Detector interface {
	Kind() models.AnomalyKind
	Detect(ctx context.Context) (*models.AnomalyCandidate, error)
}

// DetectorConfig carries thresholds and the per-detector scorer prior.
type DetectorConfig struct {
	ExpenseSpikeThresholdPct   float64
	RevenueDeclineThresholdPct float64
	CashflowLookbackDays       int
	CashflowRunThreshold       int
	TargetVarianceThresholdPct float64
	Prior                      int
}

func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		ExpenseSpikeThresholdPct:   30,
		RevenueDeclineThresholdPct: 15,
		CashflowLookbackDays:       7,
		CashflowRunThreshold:       3,
		TargetVarianceThresholdPct: 20,
		Prior:                      DefaultPrior,
	}
}

// ladderPriority applies the shared variance ladder: beyond 2× the
// threshold is critical, beyond 1.5× is high, anything triggering is
// medium.
func ladderPriority(absVariance, threshold float64) models.Priority {
	switch {
	case absVariance > 2*threshold:
		return models.PriorityCritical
	case absVariance > 1.5*threshold:
		return models.PriorityHigh
	default:
		return models.PriorityMedium
	}
}

// dataAgeHours estimates how stale the window is: zero when the newest
// bucket has activity, otherwise hours since the end of the last day
// that had any.
func dataAgeHours(c clock.Clock, buckets []models.DailyBucket) float64 {
	for i := len(buckets) - 1; i >= 0; i-- {
		if buckets[i].TransactionCount == 0 {
			continue
		}
		if i == len(buckets)-1 {
			return 0
		}
		endOfDay := clock.EndOfDay(c, buckets[i].Date)
		age := c.Now().Sub(endOfDay).Hours()
		if age < 0 {
			return 0
		}
		return age
	}
	// Nothing in the window at all.
	return float64(len(buckets)) * 24
}

// sampledDays counts buckets that carried at least one transaction.
func sampledDays(buckets []models.DailyBucket) int {
	n := 0
	for _, b := range buckets {
		if b.TransactionCount > 0 {
			n++
		}
	}
	return n
}
