package detect

import (
	"context"
	"fmt"

	"github.com/warungkas/finops-engine/internal/clock"
	"github.com/warungkas/finops-engine/pkg/models"
	"github.com/warungkas/finops-engine/pkg/money"
)

// Consecutive Negative Cashflow
//
// Scans the last lookbackDays daily buckets for the longest run of
// negative net cashflow. Triggers once the run reaches the configured
// threshold. The scorer's signal term uses the run ratio rather than a
// value deviation.

type CashflowDetector struct {
	ledger LedgerReader
	clock  clock.Clock
	cfg    DetectorConfig
}

func NewCashflowDetector(ledger LedgerReader, clk clock.Clock, cfg DetectorConfig) *CashflowDetector {
	return &CashflowDetector{ledger: ledger, clock: clk, cfg: cfg}
}

func (d *CashflowDetector) Kind() models.AnomalyKind { return models.AnomalyCashflowWarning }

func (d *CashflowDetector) Detect(ctx context.Context) (*models.AnomalyCandidate, error) {
	lookback := d.cfg.CashflowLookbackDays
	if lookback <= 0 {
		lookback = 7
	}
	now := d.clock.Now()

	buckets, err := d.ledger.DayBucketsForRange(ctx, now.AddDate(0, 0, -(lookback-1)), now, "")
	if err != nil {
		return nil, err
	}

	longestRun, currentRun := 0, 0
	negativeDays := 0
	totalDeficit := money.Zero
	for _, b := range buckets {
		if b.NetCashflow.IsNegative() {
			currentRun++
			negativeDays++
			totalDeficit = totalDeficit.Add(b.NetCashflow)
			if currentRun > longestRun {
				longestRun = currentRun
			}
		} else {
			currentRun = 0
		}
	}

	if longestRun < d.cfg.CashflowRunThreshold {
		return nil, nil
	}

	var priority models.Priority
	switch {
	case longestRun >= 5:
		priority = models.PriorityCritical
	case longestRun == 4:
		priority = models.PriorityHigh
	default:
		priority = models.PriorityMedium
	}

	confidence := Score(ScoreInput{
		SignalRatio:        float64(longestRun) / float64(lookback),
		SampleSize:         sampledDays(buckets),
		ExpectedSampleSize: lookback,
		DataAgeHours:       dataAgeHours(d.clock, buckets),
		Prior:              d.cfg.Prior,
	})

	negRatio := float64(negativeDays) / float64(len(buckets))

	return &models.AnomalyCandidate{
		Kind:       models.AnomalyCashflowWarning,
		Priority:   priority,
		Confidence: confidence,
		Payload: models.Payload{
			Title: "Consecutive negative cashflow",
			Message: fmt.Sprintf("Net cashflow was negative %d days in a row over the last %d days, total deficit %s.",
				longestRun, lookback, totalDeficit.Neg()),
			Evidence: models.Evidence{
				Current:      totalDeficit,
				Baseline:     money.Zero,
				VariancePct:  money.RoundPercent(negRatio * 100),
				ThresholdPct: float64(d.cfg.CashflowRunThreshold),
			},
			SuggestedActions: ActionsFor(models.AnomalyCashflowWarning),
			ActionRequired:   "Review upcoming obligations against projected income",
			RelatedData: map[string]string{
				"longestRun":   fmt.Sprintf("%d", longestRun),
				"negativeDays": fmt.Sprintf("%d", negativeDays),
				"lookbackDays": fmt.Sprintf("%d", lookback),
			},
		},
	}, nil
}
